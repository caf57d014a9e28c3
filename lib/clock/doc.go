// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the few time operations deskbridge relies on
// (reading the time, one-shot waits, periodic ticks) so that idle
// timeouts, liveness polling, and the encoder grace window can be tested
// deterministically.
//
// Production code receives [Real]. Tests construct a [FakeClock] with
// [Fake], wait for the code under test to register its timers with
// [FakeClock.BlockUntil], and then move time forward with
// [FakeClock.Advance].
package clock
