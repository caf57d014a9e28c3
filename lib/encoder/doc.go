// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package encoder finds and supervises the video encoder (ffmpeg) that
// the agent runs inside the user's session.
//
// Two modes exist. Direct mode starts a detached encoder that sends its
// output wherever its arguments say (usually a network destination) and
// reports the pid. Relay mode streams the encoder's stdout back over the
// requesting connection: the supervisor waits a short grace window so a
// misconfigured encoder fails with a readable error instead of an empty
// stream, acknowledges, then copies raw bytes until either side stops.
//
// Every encoder is started as the leader of its own process tree, and the
// whole tree is killed when the stream ends, on Stop, or on Close.
package encoder
