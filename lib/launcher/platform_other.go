// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package launcher

import (
	"errors"
	"fmt"
	"runtime"
)

// NewPlatform returns a Platform that cannot launch anything: only
// Windows separates services from the interactive desktop this way.
func NewPlatform() Platform {
	return unsupportedPlatform{}
}

var errUnsupported = fmt.Errorf("launching into a user session on %s: %w", runtime.GOOS, errors.ErrUnsupported)

type unsupportedPlatform struct{}

func (unsupportedPlatform) ActiveConsoleSession() (uint32, error) { return 0, errUnsupported }

func (unsupportedPlatform) FindElevatedToken(uint32) (Token, bool, error) {
	return nil, false, errUnsupported
}

func (unsupportedPlatform) UserToken(uint32) (Token, error)        { return nil, errUnsupported }
func (unsupportedPlatform) DuplicatePrimary(Token) (Token, error)  { return nil, errUnsupported }
func (unsupportedPlatform) CreateEnvironment(Token) (Environment, error) {
	return nil, errUnsupported
}

func (unsupportedPlatform) CreateProcess(Token, Environment, string) (int, error) {
	return 0, errUnsupported
}
