// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process collects the small process-level helpers shared by the
// deskbridge binary and its supervisors:
//
//   - [Fatal] reports an error from main() before or after the structured
//     logger exists and exits with [ExitStatus], which an error can pick
//     by implementing ExitCode.
//   - [PrepareTree] and [KillTree] make a child the root of a killable
//     tree (a process group on Unix, taskkill /T on Windows) so that
//     stopping an encoder also stops anything it spawned.
//   - [Alive] reports whether a pid still names a running process.
package process
