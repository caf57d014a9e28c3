// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts small secrets at rest with age (X25519).
//
// The only secret deskbridge configuration carries is the password of the
// elevated identity handed to the logon-task collaborator. Operators seal
// it once with `deskbridge seal-password`, which writes an ASCII-armored
// age file; configuration then points at that file plus the identity
// (private key) file that can open it. Plaintext password files are still
// accepted for development setups.
package sealed
