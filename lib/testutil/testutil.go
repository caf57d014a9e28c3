// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by deskbridge tests. Every helper
// fails the test through t.Fatalf; none return errors.
//
// The receive helpers are the only place tests wait on the wall clock,
// and only as a hang guard: the behavior under test is always driven by
// a fake clock or by the connection itself.
package testutil

import (
	"fmt"
	"os"
	"testing"
	"time"
)

// TB is the subset of testing.TB the helpers need. Accepting an
// interface lets the helpers run from goroutines wrapping a *testing.T.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Receive reads one value from ch or fails the test after timeout.
func Receive[T any](t TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", what)
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("%s: nothing received within %v", what, timeout)
	}
	panic("unreachable")
}

// Closed waits for ch to be closed or to deliver a value.
func Closed(t TB, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("%s: not closed within %v", what, timeout)
	}
}

// SocketDir returns a short directory under /tmp for socket files. The
// sun_path limit (108 bytes) rules out t.TempDir on deep build paths.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("", "deskbridge-")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(directory) })
	return directory
}

// Eventually polls condition every 10ms until it holds or timeout
// passes. Used for facts only observable through the OS (a pid going
// away) where no channel exists to wait on.
func Eventually(t TB, timeout time.Duration, condition func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v: %s", timeout, fmt.Sprintf(format, args...))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
