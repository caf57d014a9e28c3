// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads deskbridge configuration.
//
// Configuration comes from exactly one YAML file, named by the --config
// flag or the DESKBRIDGE_CONFIG environment variable. There is no search
// path: without either, the built-in defaults apply unchanged. Values of
// the form ${NAME} or ${NAME:-fallback} in path fields are expanded from
// the environment, so a single file can say
// `state_dir: ${PROGRAMDATA:-C:\ProgramData}\deskbridge`.
//
// The agent is launched by the service with the same --config path it
// was started with, so both sides of the channel read identical values.
package config
