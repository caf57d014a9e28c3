// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package channel

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

// pipeSecurity admits LocalSystem, the built-in Administrators group, and
// the owner (the user the agent runs as). The protected DACL blocks
// inherited entries so no other account can open the pipe.
const pipeSecurity = "D:P(A;;GA;;;SY)(A;;GA;;;BA)(A;;GA;;;OW)"

// pipeBufferSize sizes the kernel buffers in each direction. Screenshots
// and encoder streams are bulk transfers.
const pipeBufferSize = 1 << 20

// Address returns the full pipe path for name.
func Address(name string) string {
	return `\\.\pipe\` + name
}

func listen(name string) (net.Listener, error) {
	listener, err := winio.ListenPipe(Address(name), &winio.PipeConfig{
		SecurityDescriptor: pipeSecurity,
		InputBufferSize:    pipeBufferSize,
		OutputBufferSize:   pipeBufferSize,
	})
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) || errors.Is(err, windows.ERROR_PIPE_BUSY) {
			return nil, fmt.Errorf("%w: %w", ErrInUse, err)
		}
		return nil, err
	}
	return listener, nil
}

func dial(ctx context.Context, name string) (net.Conn, error) {
	conn, err := winio.DialPipeContext(ctx, Address(name))
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) {
			return nil, fmt.Errorf("%w: %w", ErrNotListening, err)
		}
		return nil, err
	}
	return conn, nil
}
