// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package desktop holds the primitives that only work from inside an
// interactive user session: screen capture, pointer and keyboard
// injection, workstation lock, virtual screen bounds, and window
// enumeration.
//
// Coordinates arrive normalized (0-1 across the whole virtual screen) so
// callers never need to know the monitor layout. On platforms without a
// Windows desktop every operation fails with errors.ErrUnsupported.
package desktop

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/bureau-foundation/deskbridge/lib/protocol"
)

// Desktop is the set of primitives the agent exposes.
type Desktop interface {
	// Capture grabs the whole virtual screen as a JPEG.
	Capture(ctx context.Context) ([]byte, error)

	// Click presses and releases button at point.
	Click(point protocol.Point, button protocol.MouseButton) error

	// Move positions the pointer.
	Move(point protocol.Point) error

	// ButtonDown presses button at point without releasing it.
	ButtonDown(point protocol.Point, button protocol.MouseButton) error

	// ButtonUp releases button at point.
	ButtonUp(point protocol.Point, button protocol.MouseButton) error

	// Wheel scrolls at point. delta is in WHEEL_DELTA units.
	Wheel(point protocol.Point, delta int) error

	// Key presses or releases one virtual-key code.
	Key(code int, down bool) error

	// Keys presses or releases several virtual-key codes in one batch.
	Keys(codes []int, down bool) error

	// Lock locks the workstation.
	Lock() error

	// ScreenBounds returns the virtual screen rectangle.
	ScreenBounds() (protocol.Bounds, error)

	// Windows lists visible top-level windows that have a title.
	Windows() ([]protocol.Window, error)
}

// Options configures New.
type Options struct {
	// JPEGQuality is passed to the encoder, 1-100.
	JPEGQuality int
}

// encodeBGRA converts a top-down 32-bit BGRA pixel buffer, as returned
// by GetDIBits, to a JPEG.
func encodeBGRA(pixels []byte, width, height, quality int) ([]byte, error) {
	if len(pixels) != width*height*4 {
		return nil, fmt.Errorf("pixel buffer is %d bytes, want %d for %dx%d", len(pixels), width*height*4, width, height)
	}
	picture := image.NewRGBA(image.Rect(0, 0, width, height))
	for offset := 0; offset < len(pixels); offset += 4 {
		picture.Pix[offset+0] = pixels[offset+2]
		picture.Pix[offset+1] = pixels[offset+1]
		picture.Pix[offset+2] = pixels[offset+0]
		picture.Pix[offset+3] = 0xff
	}
	var output bytes.Buffer
	if err := jpeg.Encode(&output, picture, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding screenshot: %w", err)
	}
	return output.Bytes(), nil
}

// absolute maps a normalized coordinate onto the 0-65535 range used by
// absolute mouse input.
func absolute(value float64) int32 {
	switch {
	case value <= 0:
		return 0
	case value >= 1:
		return 65535
	}
	return int32(value*65535 + 0.5)
}
