// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session classifies the calling process: either it already runs
// inside an interactive user desktop, or it runs in an isolated context
// (Windows session 0, where services live) that cannot reach one.
//
// The answer is computed once per process and never changes.
package session

import "sync"

// Descriptor describes the session of the current process.
type Descriptor struct {
	// SessionID is the operating system session number. Always zero on
	// platforms without a session concept.
	SessionID uint32

	// Interactive is true when the process can reach the user's desktop
	// directly.
	Interactive bool
}

var current = sync.OnceValue(detect)

// Current returns the descriptor for this process.
func Current() Descriptor {
	return current()
}

// IsPrivilegedContext reports whether the process runs in the isolated
// services session and must go through the agent to touch the desktop.
func IsPrivilegedContext() bool {
	return !Current().Interactive
}
