// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package encoder

import (
	"fmt"
	"os/exec"

	"github.com/google/shlex"

	"github.com/bureau-foundation/deskbridge/lib/process"
)

// command builds the encoder invocation. The argument string is split
// with shell quoting rules; no shell runs.
func command(path, args string) (*exec.Cmd, error) {
	split, err := shlex.Split(args)
	if err != nil {
		return nil, fmt.Errorf("splitting encoder arguments: %w", err)
	}
	cmd := exec.Command(path, split...)
	process.PrepareTree(cmd)
	return cmd, nil
}

func hideWindow(*exec.Cmd) {}
