// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the length-prefixed framing used on the agent
// channel. Each frame is a 4-byte little-endian payload length followed
// by the payload:
//
//	[uint32 length, little-endian] [length bytes of payload]
//
// Readers and writers only ever see whole frames. A payload is either a
// UTF-8 JSON document or, for screenshots, the ASCII prefix "IMG:"
// followed by raw JPEG bytes.
package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxSize is the largest payload either side accepts. A full-resolution
// multi-monitor JPEG stays far below it.
const MaxSize = 50 * 1024 * 1024

// headerLength is the size of the length prefix.
const headerLength = 4

// ImagePrefix marks a frame carrying a raw JPEG instead of JSON.
var ImagePrefix = []byte("IMG:")

var (
	// ErrOversized is returned when a declared length exceeds MaxSize.
	// The body is not read.
	ErrOversized = errors.New("frame exceeds maximum size")

	// ErrBrokenPipe is returned when the peer closes partway through a
	// frame. It wraps io.ErrUnexpectedEOF.
	ErrBrokenPipe = fmt.Errorf("broken pipe: %w", io.ErrUnexpectedEOF)
)

// Write sends payload as one frame. The header and body go out in a
// single Write call so a frame is never interleaved on a shared stream.
func Write(w io.Writer, payload []byte) error {
	if len(payload) > MaxSize {
		return fmt.Errorf("writing %d byte frame: %w", len(payload), ErrOversized)
	}
	buffer := make([]byte, headerLength+len(payload))
	binary.LittleEndian.PutUint32(buffer[:headerLength], uint32(len(payload)))
	copy(buffer[headerLength:], payload)
	if _, err := w.Write(buffer); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Read receives one frame. It returns io.EOF when the peer closes cleanly
// before sending any byte, ErrOversized when the declared length is above
// MaxSize, and ErrBrokenPipe when the stream ends mid-frame.
func Read(r io.Reader) ([]byte, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("reading frame header: %w", ErrBrokenPipe)
		default:
			return nil, fmt.Errorf("reading frame header: %w", err)
		}
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxSize {
		return nil, fmt.Errorf("declared length %d, maximum %d: %w", length, MaxSize, ErrOversized)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("reading %d byte frame body: %w", length, ErrBrokenPipe)
		}
		return nil, fmt.Errorf("reading %d byte frame body: %w", length, err)
	}
	return payload, nil
}

// WriteJSON marshals value and sends it as one frame.
func WriteJSON(w io.Writer, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	return Write(w, data)
}

// WriteImage sends jpeg as an image frame.
func WriteImage(w io.Writer, jpeg []byte) error {
	payload := make([]byte, 0, len(ImagePrefix)+len(jpeg))
	payload = append(payload, ImagePrefix...)
	payload = append(payload, jpeg...)
	return Write(w, payload)
}

// IsImage reports whether payload is an image frame.
func IsImage(payload []byte) bool {
	return bytes.HasPrefix(payload, ImagePrefix)
}

// ImageBody strips the image prefix. The second result is false when
// payload is not an image frame.
func ImageBody(payload []byte) ([]byte, bool) {
	return bytes.CutPrefix(payload, ImagePrefix)
}
