// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package desktop

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/bureau-foundation/deskbridge/lib/protocol"
)

// New returns a Desktop whose operations all fail: there is no Windows
// desktop to drive on this platform.
func New(Options) Desktop {
	return unsupported{}
}

type unsupported struct{}

var errUnsupported = fmt.Errorf("desktop primitives on %s: %w", runtime.GOOS, errors.ErrUnsupported)

func (unsupported) Capture(context.Context) ([]byte, error)              { return nil, errUnsupported }
func (unsupported) Click(protocol.Point, protocol.MouseButton) error      { return errUnsupported }
func (unsupported) Move(protocol.Point) error                             { return errUnsupported }
func (unsupported) ButtonDown(protocol.Point, protocol.MouseButton) error { return errUnsupported }
func (unsupported) ButtonUp(protocol.Point, protocol.MouseButton) error   { return errUnsupported }
func (unsupported) Wheel(protocol.Point, int) error                       { return errUnsupported }
func (unsupported) Key(int, bool) error                                   { return errUnsupported }
func (unsupported) Keys([]int, bool) error                                { return errUnsupported }
func (unsupported) Lock() error                                           { return errUnsupported }
func (unsupported) ScreenBounds() (protocol.Bounds, error)                { return protocol.Bounds{}, errUnsupported }
func (unsupported) Windows() ([]protocol.Window, error)                   { return nil, errUnsupported }
