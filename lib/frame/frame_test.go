// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"json", []byte(`{"type":"ping"}`)},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80}},
		{"large", bytes.Repeat([]byte("x"), 1<<20)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			var buffer bytes.Buffer
			if err := Write(&buffer, test.payload); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if got := buffer.Len(); got != headerLength+len(test.payload) {
				t.Fatalf("encoded length = %d, want %d", got, headerLength+len(test.payload))
			}
			got, err := Read(&buffer)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !bytes.Equal(got, test.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got), len(test.payload))
			}
		})
	}
}

func TestHeaderIsLittleEndian(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	if err := Write(&buffer, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	want := []byte{3, 0, 0, 0, 'a', 'b', 'c'}
	if !bytes.Equal(buffer.Bytes(), want) {
		t.Errorf("encoded = %v, want %v", buffer.Bytes(), want)
	}
}

func TestSequentialFrames(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	for _, text := range []string{"one", "two", "three"} {
		if err := Write(&buffer, []byte(text)); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := Read(&buffer)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if _, err := Read(&buffer); !errors.Is(err, io.EOF) {
		t.Errorf("Read after last frame = %v, want io.EOF", err)
	}
}

// countingReader records how many bytes were consumed so tests can tell
// whether a frame body was read.
type countingReader struct {
	reader io.Reader
	read   int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.read += n
	return n, err
}

func TestOversizedRejectedWithoutReadingBody(t *testing.T) {
	t.Parallel()

	var header [headerLength]byte
	binary.LittleEndian.PutUint32(header[:], MaxSize+1)
	stream := append(header[:], bytes.Repeat([]byte{0xaa}, 4096)...)
	reader := &countingReader{reader: bytes.NewReader(stream)}

	_, err := Read(reader)
	if !errors.Is(err, ErrOversized) {
		t.Fatalf("Read = %v, want ErrOversized", err)
	}
	if reader.read != headerLength {
		t.Errorf("consumed %d bytes, want only the %d byte header", reader.read, headerLength)
	}
}

func TestMaxSizeAccepted(t *testing.T) {
	t.Parallel()

	var header [headerLength]byte
	binary.LittleEndian.PutUint32(header[:], MaxSize)
	// The length is allowed; the short body is then a broken pipe, not
	// an oversize rejection.
	_, err := Read(bytes.NewReader(header[:]))
	if errors.Is(err, ErrOversized) {
		t.Fatalf("length equal to MaxSize rejected as oversized")
	}
	if !errors.Is(err, ErrBrokenPipe) {
		t.Errorf("Read = %v, want ErrBrokenPipe", err)
	}
}

func TestWriteOversized(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	err := Write(&buffer, make([]byte, MaxSize+1))
	if !errors.Is(err, ErrOversized) {
		t.Fatalf("Write = %v, want ErrOversized", err)
	}
	if buffer.Len() != 0 {
		t.Errorf("wrote %d bytes for a rejected frame", buffer.Len())
	}
}

func TestBrokenPipe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stream []byte
	}{
		{"partial header", []byte{5, 0}},
		{"partial body", []byte{5, 0, 0, 0, 'a', 'b'}},
		{"missing body", []byte{5, 0, 0, 0}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := Read(bytes.NewReader(test.stream))
			if !errors.Is(err, ErrBrokenPipe) {
				t.Fatalf("Read = %v, want ErrBrokenPipe", err)
			}
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("ErrBrokenPipe should wrap io.ErrUnexpectedEOF")
			}
		})
	}
}

func TestCleanCloseIsEOF(t *testing.T) {
	t.Parallel()

	_, err := Read(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("Read on empty stream = %v, want io.EOF", err)
	}
}

func TestOverConnection(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		WriteJSON(client, map[string]string{"type": "ping"})
		client.Close()
	}()

	payload, err := Read(server)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(payload) != `{"type":"ping"}` {
		t.Errorf("payload = %s", payload)
	}
	if _, err := Read(server); !errors.Is(err, io.EOF) {
		t.Errorf("Read after close = %v, want io.EOF", err)
	}
}

func TestImageFrames(t *testing.T) {
	t.Parallel()

	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}
	var buffer bytes.Buffer
	if err := WriteImage(&buffer, jpeg); err != nil {
		t.Fatal(err)
	}
	payload, err := Read(&buffer)
	if err != nil {
		t.Fatal(err)
	}
	if !IsImage(payload) {
		t.Fatalf("IsImage(%q) = false", payload[:4])
	}
	body, ok := ImageBody(payload)
	if !ok || !bytes.Equal(body, jpeg) {
		t.Errorf("ImageBody = %v, %v; want %v, true", body, ok, jpeg)
	}

	if IsImage([]byte(`{"ok":true}`)) {
		t.Error("JSON payload reported as image")
	}
	if _, ok := ImageBody([]byte("IM")); ok {
		t.Error("truncated prefix reported as image")
	}
}
