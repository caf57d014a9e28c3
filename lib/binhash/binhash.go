// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash identifies executables by the BLAKE3 digest of their
// contents. The encoder locator keys its validation cache on the digest
// so a binary replaced in place (same path, new build) is probed again.
package binhash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 hash.
type Digest [32]byte

// String returns the lowercase hex form used in logs.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, enough to tell builds apart
// in log lines.
func (d Digest) Short() string {
	return d.String()[:12]
}

// File streams the file at path through BLAKE3.
func File(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// Parse decodes a 64-character hex digest.
func Parse(text string) (Digest, error) {
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return Digest{}, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != len(Digest{}) {
		return Digest{}, fmt.Errorf("digest is %d bytes, want %d", len(decoded), len(Digest{}))
	}
	var digest Digest
	copy(digest[:], decoded)
	return digest, nil
}
