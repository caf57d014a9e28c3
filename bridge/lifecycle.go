// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/deskbridge/lib/clock"
	"github.com/bureau-foundation/deskbridge/lib/launcher"
	"github.com/bureau-foundation/deskbridge/lib/protocol"
	"github.com/bureau-foundation/deskbridge/lib/statefile"
)

// ErrLaunchTimeout means the agent process was started but did not
// answer a ping within the launch timeout.
var ErrLaunchTimeout = errors.New("agent did not answer after launch")

const (
	lockFileName   = "agent.lock"
	recordFileName = "agent-launch.cbor"
)

// Starter starts a process in an interactive session. *launcher.Launcher
// implements it.
type Starter interface {
	Launch(ctx context.Context, request launcher.Request) (int, error)
}

// LaunchRecord is written to the state directory after every launch.
type LaunchRecord struct {
	PID            int       `cbor:"pid"`
	CommandLine    string    `cbor:"command_line"`
	PreferElevated bool      `cbor:"prefer_elevated"`
	LaunchedAt     time.Time `cbor:"launched_at"`
}

// ReadLaunchRecord returns the record of the most recent launch from
// stateDir. A directory with no launch yet returns an error wrapping
// os.ErrNotExist.
func ReadLaunchRecord(stateDir string) (LaunchRecord, error) {
	var record LaunchRecord
	if err := statefile.Read(filepath.Join(stateDir, recordFileName), &record); err != nil {
		return LaunchRecord{}, err
	}
	return record, nil
}

// LifecycleOptions configures NewLifecycle.
type LifecycleOptions struct {
	// Dial opens a connection to the agent.
	Dial Dialer

	// Starter launches the agent. Required.
	Starter Starter

	// CommandLine starts the agent, executable first. See
	// AgentCommandLine.
	CommandLine string

	// StateDir holds the lock file and the launch record.
	StateDir string

	// PreferElevated asks the launcher for an elevated token first.
	PreferElevated bool

	// PingTimeout bounds each liveness probe. Defaults to 2s.
	PingTimeout time.Duration

	// LaunchTimeout bounds the wait for a started agent to answer.
	// Defaults to 10s.
	LaunchTimeout time.Duration

	// PollInterval spaces probes while waiting. Defaults to 500ms.
	PollInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Lifecycle starts the agent on demand. Safe for concurrent use.
type Lifecycle struct {
	dial           Dialer
	starter        Starter
	commandLine    string
	stateDir       string
	preferElevated bool
	pingTimeout    time.Duration
	launchTimeout  time.Duration
	pollInterval   time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	launches        singleflight.Group
	launchAttempted atomic.Bool
}

// NewLifecycle returns a Lifecycle.
func NewLifecycle(options LifecycleOptions) *Lifecycle {
	lifecycle := &Lifecycle{
		dial:           options.Dial,
		starter:        options.Starter,
		commandLine:    options.CommandLine,
		stateDir:       options.StateDir,
		preferElevated: options.PreferElevated,
		pingTimeout:    options.PingTimeout,
		launchTimeout:  options.LaunchTimeout,
		pollInterval:   options.PollInterval,
		clock:          options.Clock,
		logger:         options.Logger,
	}
	if lifecycle.pingTimeout <= 0 {
		lifecycle.pingTimeout = 2 * time.Second
	}
	if lifecycle.launchTimeout <= 0 {
		lifecycle.launchTimeout = 10 * time.Second
	}
	if lifecycle.pollInterval <= 0 {
		lifecycle.pollInterval = 500 * time.Millisecond
	}
	if lifecycle.clock == nil {
		lifecycle.clock = clock.Real()
	}
	if lifecycle.logger == nil {
		lifecycle.logger = slog.New(slog.DiscardHandler)
	}
	return lifecycle
}

// LaunchAttempted reports whether this Lifecycle has ever started an
// agent process.
func (l *Lifecycle) LaunchAttempted() bool {
	return l.launchAttempted.Load()
}

// EnsureRunning returns nil once an agent answers a ping, launching one
// if needed. Callers that arrive while a launch is in flight wait for
// that launch and get its result. Cancelling ctx abandons the wait but
// not the shared launch.
func (l *Lifecycle) EnsureRunning(ctx context.Context) error {
	if l.alive(ctx) {
		return nil
	}
	result := l.launches.DoChan("agent", func() (any, error) {
		return nil, l.launch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case outcome := <-result:
		return outcome.Err
	}
}

// alive reports whether the agent answers a ping within pingTimeout.
func (l *Lifecycle) alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, l.pingTimeout)
	defer cancel()
	payload, err := roundTrip(ctx, l.dial, protocol.Ping{})
	if err != nil {
		return false
	}
	response, err := protocol.DecodeResponse(payload)
	return err == nil && response.OK
}

// launch starts the agent under the cross-process lock and waits for it
// to answer.
func (l *Lifecycle) launch(ctx context.Context) error {
	if err := os.MkdirAll(l.stateDir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	lock := flock.New(filepath.Join(l.stateDir, lockFileName))
	lockCtx, cancel := context.WithTimeout(ctx, l.launchTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, l.pollInterval)
	if err != nil || !locked {
		return fmt.Errorf("acquiring agent launch lock %s: %w", lock.Path(), errors.Join(err, lockCtx.Err()))
	}
	defer lock.Unlock()

	// Another caller, possibly in another process, may have finished a
	// launch while this one waited for the lock.
	if l.alive(ctx) {
		return nil
	}

	l.launchAttempted.Store(true)
	l.logger.Info("launching agent",
		"command_line", l.commandLine,
		"prefer_elevated", l.preferElevated,
	)
	pid, err := l.starter.Launch(ctx, launcher.Request{
		SessionID:      launcher.ActiveConsole,
		CommandLine:    l.commandLine,
		PreferElevated: l.preferElevated,
	})
	if err != nil {
		return err
	}

	record := LaunchRecord{
		PID:            pid,
		CommandLine:    l.commandLine,
		PreferElevated: l.preferElevated,
		LaunchedAt:     l.clock.Now().UTC(),
	}
	if err := statefile.Write(filepath.Join(l.stateDir, recordFileName), record); err != nil {
		l.logger.Warn("writing launch record", "error", err)
	}

	return l.waitForAgent(ctx, pid)
}

// waitForAgent polls every pollInterval until the agent answers or
// launchTimeout passes.
func (l *Lifecycle) waitForAgent(ctx context.Context, pid int) error {
	started := l.clock.Now()
	deadline := started.Add(l.launchTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(l.pollInterval):
		}
		if l.alive(ctx) {
			l.logger.Info("agent answering",
				"pid", pid,
				"wait", l.clock.Now().Sub(started),
			)
			return nil
		}
		if !l.clock.Now().Before(deadline) {
			return fmt.Errorf("%w: pid %d, waited %v", ErrLaunchTimeout, pid, l.launchTimeout)
		}
	}
}

// AgentCommandLine returns the command line that starts executable in
// agent mode, passing configPath along when set.
func AgentCommandLine(executable, configPath string) string {
	parts := []string{quoteArgument(executable), "--agent"}
	if configPath != "" {
		parts = append(parts, "--config", quoteArgument(configPath))
	}
	return strings.Join(parts, " ")
}

// quoteArgument wraps argument in double quotes when it contains
// whitespace or quotes. Paths never end in a backslash, so the
// backslash-before-quote rule does not arise.
func quoteArgument(argument string) string {
	if argument != "" && !strings.ContainsAny(argument, " \t\"") {
		return argument
	}
	return `"` + strings.ReplaceAll(argument, `"`, `\"`) + `"`
}
