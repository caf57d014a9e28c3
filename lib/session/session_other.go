// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package session

func detect() Descriptor {
	return Descriptor{SessionID: 0, Interactive: true}
}
