// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds deskbridge's CBOR configuration.
//
// The agent channel speaks JSON because its wire format is fixed and
// shared with clients outside this module. Everything deskbridge keeps
// for itself (the launch record under the state directory) is CBOR,
// encoded through this package so every writer produces identical bytes
// for identical data.
package codec
