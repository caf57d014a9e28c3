// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// armorHeader starts every armored age file.
const armorHeader = "-----BEGIN AGE ENCRYPTED FILE-----"

// Identity is a freshly generated keypair in age's text formats.
type Identity struct {
	// Secret is the AGE-SECRET-KEY-1... line. Never log it.
	Secret string

	// Recipient is the age1... public key.
	Recipient string
}

// GenerateIdentity creates a new X25519 keypair.
func GenerateIdentity() (Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Identity{}, fmt.Errorf("generating age identity: %w", err)
	}
	return Identity{Secret: identity.String(), Recipient: identity.Recipient().String()}, nil
}

// Seal encrypts plaintext to the given age1... recipients and returns
// armored ciphertext.
func Seal(plaintext []byte, recipients ...string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, text := range recipients {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", text, err)
		}
		parsed = append(parsed, recipient)
	}

	var output bytes.Buffer
	armored := armor.NewWriter(&output)
	encrypted, err := age.Encrypt(armored, parsed...)
	if err != nil {
		return nil, fmt.Errorf("starting encryption: %w", err)
	}
	if _, err := encrypted.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if err := encrypted.Close(); err != nil {
		return nil, fmt.Errorf("finishing encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finishing armor: %w", err)
	}
	return output.Bytes(), nil
}

// Open decrypts armored ciphertext with the identities found in
// identityText (one per line, # comments allowed, as age-keygen writes).
func Open(ciphertext []byte, identityText string) ([]byte, error) {
	identities, err := age.ParseIdentities(strings.NewReader(identityText))
	if err != nil {
		return nil, fmt.Errorf("parsing identities: %w", err)
	}
	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(ciphertext)), identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether data looks like an armored age file.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte(armorHeader))
}

// ReadSecretFile returns the secret stored at path. Sealed files are
// opened with the identity file at identityPath; plaintext files are
// returned as-is with surrounding whitespace trimmed. A sealed file with
// no identityPath is an error.
func ReadSecretFile(path, identityPath string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret file: %w", err)
	}
	if !IsSealed(data) {
		return bytes.TrimSpace(data), nil
	}
	if identityPath == "" {
		return nil, fmt.Errorf("%s is sealed but no identity file is configured", path)
	}
	identityText, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	plaintext, err := Open(data, string(identityText))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return plaintext, nil
}
