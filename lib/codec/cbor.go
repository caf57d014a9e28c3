// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	// Core Deterministic Encoding (RFC 8949 §4.2) with timestamps as
	// tagged RFC 3339 strings so state files stay readable under
	// `cbor diag`.
	options := cbor.CoreDetEncOptions()
	options.Time = cbor.TimeRFC3339Nano
	options.TimeTag = cbor.EncTagRequired

	var err error
	encMode, err = options.EncMode()
	if err != nil {
		panic("codec: building CBOR encoder: " + err.Error())
	}

	// Unknown fields are ignored so an older binary can read a record
	// written by a newer one.
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decoder: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v. Duplicate map keys are rejected.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
