// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package encoder

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/bureau-foundation/deskbridge/lib/process"
)

// command builds the encoder invocation. The argument string becomes the
// command line tail verbatim: the encoder parses its own command line, so
// quoting is whatever the caller wrote.
func command(path, args string) (*exec.Cmd, error) {
	cmd := exec.Command(path)
	process.PrepareTree(cmd)
	cmd.SysProcAttr.CmdLine = syscall.EscapeArg(path) + " " + args
	return cmd, nil
}

func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: windows.CREATE_NO_WINDOW}
}
