// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the deskbridge binary.
//
// Values are stamped at link time:
//
//	go build -ldflags "-X github.com/bureau-foundation/deskbridge/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the release version, set by hand for releases.
	Version = "0.1.0-dev"

	// GitCommit is the short commit hash of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Info returns the one-line form used by --version and startup logs.
func Info() string {
	suffix := ""
	if GitDirty == "true" {
		suffix = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, suffix, BuildTime)
}

// Platform returns the Go toolchain and target the binary was built for.
func Platform() string {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
