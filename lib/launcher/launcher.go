// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher starts a process inside an interactive user session
// from a context that has none (a Windows service in session 0).
//
// The sequence is fixed: find the session, pick a token (an elevated one
// borrowed from a process already running in the session when preferred
// and available, else the session user's token), duplicate it as a
// primary token, build that user's environment, and create the process
// on the session's interactive desktop. Every token and environment
// block acquired along the way is released before Launch returns, on
// success and on every failure.
//
// The platform calls sit behind Platform so the sequence itself runs
// and is tested on any OS.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
)

// ActiveConsole asks Launch to target whichever session currently owns
// the physical console.
const ActiveConsole = ^uint32(0)

// ErrNoConsoleSession means no user is attached to the console.
var ErrNoConsoleSession = errors.New("no active console session")

// Token is an OS credential handle. Close releases it.
type Token interface {
	Close() error
}

// Environment is a user environment block. Close releases it.
type Environment interface {
	Close() error
}

// Platform is the set of OS calls Launch sequences.
type Platform interface {
	// ActiveConsoleSession returns the console session id, or
	// ErrNoConsoleSession.
	ActiveConsoleSession() (uint32, error)

	// FindElevatedToken returns the token of a high-integrity process
	// running in session. ok is false when there is none.
	FindElevatedToken(session uint32) (token Token, ok bool, err error)

	// UserToken returns the token of the user logged into session.
	UserToken(session uint32) (Token, error)

	// DuplicatePrimary returns a primary token copied from token.
	DuplicatePrimary(token Token) (Token, error)

	// CreateEnvironment builds the environment block for token's user.
	CreateEnvironment(token Token) (Environment, error)

	// CreateProcess starts commandLine as token's user on the
	// session's interactive desktop and returns its pid.
	CreateProcess(token Token, environment Environment, commandLine string) (int, error)
}

// Request describes one launch.
type Request struct {
	// SessionID is the target session, or ActiveConsole.
	SessionID uint32

	// CommandLine is the full command line, executable first.
	CommandLine string

	// PreferElevated tries to borrow an elevated token before falling
	// back to the session user's token.
	PreferElevated bool
}

// Error reports which step failed. Code is the OS error number when
// the cause carries one, zero otherwise.
type Error struct {
	Op   string
	Code uint32
	Err  error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("launcher: %s (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("launcher: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func stepError(op string, err error) *Error {
	launchErr := &Error{Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		launchErr.Code = uint32(errno)
	}
	return launchErr
}

// Launcher runs the launch sequence over a Platform.
type Launcher struct {
	platform Platform
	logger   *slog.Logger
}

// New returns a Launcher. A nil logger discards output.
func New(platform Platform, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Launcher{platform: platform, logger: logger}
}

// Launch starts request.CommandLine in the target session and returns
// the new process id. The launcher keeps no handle to the child.
func (l *Launcher) Launch(ctx context.Context, request Request) (int, error) {
	if request.CommandLine == "" {
		return 0, &Error{Op: "validate request", Err: errors.New("empty command line")}
	}
	if err := ctx.Err(); err != nil {
		return 0, &Error{Op: "launch", Err: err}
	}

	session := request.SessionID
	if session == ActiveConsole {
		active, err := l.platform.ActiveConsoleSession()
		if err != nil {
			return 0, stepError("find console session", err)
		}
		session = active
	}

	token, elevated, err := l.sessionToken(session, request.PreferElevated)
	if err != nil {
		return 0, err
	}
	defer l.release("session token", token)

	primary, err := l.platform.DuplicatePrimary(token)
	if err != nil {
		return 0, stepError("duplicate token", err)
	}
	defer l.release("primary token", primary)

	environment, err := l.platform.CreateEnvironment(primary)
	if err != nil {
		return 0, stepError("create environment", err)
	}
	defer l.release("environment block", environment)

	if err := ctx.Err(); err != nil {
		return 0, &Error{Op: "launch", Err: err}
	}
	pid, err := l.platform.CreateProcess(primary, environment, request.CommandLine)
	if err != nil {
		return 0, stepError("create process", err)
	}

	l.logger.Info("launched process in user session",
		"pid", pid,
		"session_id", session,
		"elevated", elevated,
	)
	return pid, nil
}

// sessionToken picks the token to launch with. A missing elevated
// process, or a failure while looking for one, falls back to the user
// token.
func (l *Launcher) sessionToken(session uint32, preferElevated bool) (Token, bool, error) {
	if preferElevated {
		token, ok, err := l.platform.FindElevatedToken(session)
		switch {
		case err != nil:
			l.logger.Warn("elevated token lookup failed, using session user token",
				"session_id", session,
				"error", err,
			)
		case ok:
			return token, true, nil
		default:
			l.logger.Debug("no elevated process in session, using session user token",
				"session_id", session,
			)
		}
	}
	token, err := l.platform.UserToken(session)
	if err != nil {
		return nil, false, stepError("query session user token", err)
	}
	return token, false, nil
}

func (l *Launcher) release(what string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		l.logger.Warn("releasing "+what, "error", err)
	}
}
