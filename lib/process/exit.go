// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// exitCoder is implemented by errors that choose their own exit status.
type exitCoder interface {
	ExitCode() int
}

// ExitStatus returns the status Fatal exits with for err: the positive
// ExitCode of the first error in the chain that has one, else 1.
func ExitStatus(err error) int {
	var coder exitCoder
	if errors.As(err, &coder) {
		if code := coder.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}

// Fatal writes "error: err" to stderr and exits with ExitStatus(err).
// Use it in main() for errors from run(), where the structured logger
// may not be set up yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitStatus(err))
}
