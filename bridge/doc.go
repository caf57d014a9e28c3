// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge is the client side of deskbridge: the API that service
// code calls to capture the screen, inject input, lock the workstation,
// or run an encoder on the interactive desktop.
//
// A process in the services session cannot touch the desktop itself.
// [Client] forwards each operation to the agent over the local channel,
// one framed request and one framed response per connection. Before
// every call, [Lifecycle] makes sure an agent is answering: it pings,
// and when nothing answers it launches this same executable with
// --agent into the console session and polls until it does. Concurrent
// callers in one process share a single launch attempt (singleflight);
// callers in different processes serialize on a lock file in the state
// directory.
//
// A process that already runs on an interactive desktop needs no agent.
// [Open] gives such a process a Client backed by an in-process
// dispatcher over net.Pipe, so both paths run the same framing and
// handler code.
//
// Errors come in three kinds. [ErrNoResponse] wraps every transport
// failure (nothing listening, connect timeout, truncated or oversized
// frame). [*CommandError] carries an ok:false reply. Launch failures
// surface as [*launcher.Error] with the failing step and OS error code,
// or [ErrLaunchTimeout] when the agent started but never answered.
package bridge
