// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"log/slog"

	"github.com/bureau-foundation/deskbridge/lib/clock"
	"github.com/bureau-foundation/deskbridge/lib/config"
	"github.com/bureau-foundation/deskbridge/lib/desktop"
	"github.com/bureau-foundation/deskbridge/lib/encoder"
)

// NewHostDispatcher returns a Dispatcher over this host's desktop and
// an encoder supervisor configured from cfg.
func NewHostDispatcher(cfg *config.Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	locator := encoder.NewLocator(encoder.LocatorOptions{
		Binary:      cfg.Encoder.Binary,
		Candidates:  cfg.Encoder.Candidates,
		VersionArgs: cfg.Encoder.VersionArgs,
		Logger:      logger.With("component", "encoder_locator"),
	})
	supervisor := encoder.New(encoder.Options{
		Finder:      locator,
		GraceWindow: cfg.Encoder.GraceWindow.Std(),
		KillTimeout: cfg.Encoder.KillTimeout.Std(),
		Clock:       clock.Real(),
		Logger:      logger.With("component", "encoder"),
	})
	primitives := desktop.New(desktop.Options{JPEGQuality: cfg.Capture.JPEGQuality})
	return NewDispatcher(primitives, supervisor, logger.With("component", "dispatcher"))
}
