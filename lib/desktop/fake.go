// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package desktop

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/deskbridge/lib/protocol"
)

// Fake is an in-memory Desktop that records every call. Tests set
// Screenshot, Bounds, WindowList, and Err to shape the answers. Safe for
// concurrent use.
type Fake struct {
	mu sync.Mutex

	// Screenshot is returned by Capture.
	Screenshot []byte

	// Bounds is returned by ScreenBounds.
	Bounds protocol.Bounds

	// WindowList is returned by Windows.
	WindowList []protocol.Window

	// Err, when set, is returned by every operation.
	Err error

	calls []string
}

// Calls returns a copy of the recorded calls, one line each, such as
// "click left 0.5,0.5" or "keys down [17 67]".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.Err
}

func direction(down bool) string {
	if down {
		return "down"
	}
	return "up"
}

func (f *Fake) Capture(ctx context.Context) ([]byte, error) {
	if err := f.record("capture"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.Screenshot...), nil
}

func (f *Fake) Click(point protocol.Point, button protocol.MouseButton) error {
	return f.record("click %s %g,%g", button, point.X, point.Y)
}

func (f *Fake) Move(point protocol.Point) error {
	return f.record("move %g,%g", point.X, point.Y)
}

func (f *Fake) ButtonDown(point protocol.Point, button protocol.MouseButton) error {
	return f.record("down %s %g,%g", button, point.X, point.Y)
}

func (f *Fake) ButtonUp(point protocol.Point, button protocol.MouseButton) error {
	return f.record("up %s %g,%g", button, point.X, point.Y)
}

func (f *Fake) Wheel(point protocol.Point, delta int) error {
	return f.record("wheel %d %g,%g", delta, point.X, point.Y)
}

func (f *Fake) Key(code int, down bool) error {
	return f.record("key %s %d", direction(down), code)
}

func (f *Fake) Keys(codes []int, down bool) error {
	return f.record("keys %s %v", direction(down), codes)
}

func (f *Fake) Lock() error {
	return f.record("lock")
}

func (f *Fake) ScreenBounds() (protocol.Bounds, error) {
	if err := f.record("bounds"); err != nil {
		return protocol.Bounds{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Bounds, nil
}

func (f *Fake) Windows() ([]protocol.Window, error) {
	if err := f.record("windows"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Window(nil), f.WindowList...), nil
}
