// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel provides the named IPC endpoint shared by deskbridge
// clients and the agent. On Windows the endpoint is a named pipe that
// both session 0 services and the logged-in user can open; elsewhere it
// is a Unix domain socket.
//
// The package only connects and accepts. Framing lives in lib/frame, and
// there are no retries here: callers decide whether to try again.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrConnectTimeout is returned by Dial when nothing accepts the
	// connection before the timeout.
	ErrConnectTimeout = errors.New("channel connect timed out")

	// ErrNotListening is returned by Dial when the endpoint does not
	// exist or refuses the connection outright.
	ErrNotListening = errors.New("no agent is listening")

	// ErrInUse is returned by Listen when a live listener already owns
	// the endpoint.
	ErrInUse = errors.New("channel endpoint already in use")
)

// Listen opens the endpoint for name and returns a listener accepting
// client connections.
func Listen(name string) (net.Listener, error) {
	listener, err := listen(name)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", Address(name), err)
	}
	return listener, nil
}

// Dial connects to the endpoint for name, waiting at most timeout for
// the listener to accept.
func Dial(ctx context.Context, name string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(ctx, name)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("dialing %s after %s: %w: %w", Address(name), timeout, ErrConnectTimeout, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", Address(name), err)
	}
	return conn, nil
}
