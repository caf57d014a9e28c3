// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Address returns the socket path for name. An absolute name is used as
// the path directly; anything else becomes <runtime dir>/<name>.sock,
// where the runtime dir is $XDG_RUNTIME_DIR or the temp directory.
func Address(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	directory := os.Getenv("XDG_RUNTIME_DIR")
	if directory == "" {
		directory = os.TempDir()
	}
	return filepath.Join(directory, name+".sock")
}

// staleProbeTimeout bounds the check for a live listener before a
// leftover socket file is removed.
const staleProbeTimeout = 200 * time.Millisecond

func listen(name string) (net.Listener, error) {
	path := Address(name)

	// A socket file left behind by a crashed agent blocks bind. Only
	// remove it when nothing answers on it.
	if _, err := os.Stat(path); err == nil {
		probe, dialErr := net.DialTimeout("unix", path, staleProbeTimeout)
		if dialErr == nil {
			probe.Close()
			return nil, ErrInUse
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	// The agent and its clients run as the same user.
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}
	// net.UnixListener removes the socket file on Close.
	return listener, nil
}

func dial(ctx context.Context, name string) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", Address(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %w", ErrNotListening, err)
		}
		return nil, err
	}
	return conn, nil
}
