// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

type record struct {
	PID        int       `cbor:"pid"`
	Executable string    `cbor:"executable"`
	LaunchedAt time.Time `cbor:"launched_at"`
	Note       string    `cbor:"note,omitempty"`
}

func TestMarshalUnmarshal(t *testing.T) {
	t.Parallel()
	original := record{
		PID:        4120,
		Executable: `C:\Program Files\deskbridge\deskbridge.exe`,
		LaunchedAt: time.Date(2026, 2, 14, 8, 30, 0, 125, time.UTC),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.PID != original.PID || decoded.Executable != original.Executable {
		t.Errorf("got %+v, want %+v", decoded, original)
	}
	if !decoded.LaunchedAt.Equal(original.LaunchedAt) {
		t.Errorf("launched_at: got %v, want %v", decoded.LaunchedAt, original.LaunchedAt)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	t.Parallel()
	value := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for attempt := 0; attempt < 10; attempt++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("attempt %d: encoding differs: %x vs %x", attempt, first, again)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	t.Parallel()
	data, err := Marshal(map[string]any{"pid": 7, "future_field": "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.PID != 7 {
		t.Errorf("pid: got %d, want 7", decoded.PID)
	}
}
