// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile reads and writes small CBOR state files atomically.
//
// Write goes through a temporary file in the same directory, fsyncs it,
// and renames it into place, so a reader never observes a partial file.
// The bridge uses it for the agent launch record: which pid was started
// in which session, when, and from which executable.
package statefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/deskbridge/lib/codec"
)

// Write encodes value and atomically replaces path with it. The file is
// created 0600 (os.CreateTemp); the parent directory is created if
// missing.
func Write(path string, value any) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	temporary, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	temporaryPath := temporary.Name()

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}
	return nil
}

// Read decodes path into value. A missing file returns an error
// wrapping os.ErrNotExist.
func Read(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, value); err != nil {
		return fmt.Errorf("decoding state file %s: %w", path, err)
	}
	return nil
}

// Remove deletes path. Removing a file that does not exist succeeds.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}
