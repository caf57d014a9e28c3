// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the process that lives in the user's desktop session
// and executes commands on behalf of callers that cannot reach it.
//
// A Server runs several identical accept loops on one channel listener.
// Each loop serves one connection at a time: read one framed command,
// dispatch it, write one framed response, close. Concurrency comes from
// the number of loops, not from per-connection goroutines. A watcher
// shuts the agent down after a configurable idle period so an agent
// nobody talks to does not linger in the session.
//
// The Dispatcher is also used in-process by callers that already run in
// the interactive session, so both paths share framing and handlers.
// NewHostDispatcher wires it to the native desktop and encoder supervisor
// described by a config.Config.
package agent
