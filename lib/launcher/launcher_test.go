// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"testing"
)

// fakeHandle is a token or environment block that counts its releases.
type fakeHandle struct {
	name     string
	platform *fakePlatform
	closed   int
}

func (h *fakeHandle) Close() error {
	h.platform.mu.Lock()
	defer h.platform.mu.Unlock()
	h.closed++
	h.platform.steps = append(h.platform.steps, "close "+h.name)
	return nil
}

// fakePlatform scripts each step. A non-nil fail entry makes that step
// return the error.
type fakePlatform struct {
	mu sync.Mutex

	consoleSession uint32
	hasElevated    bool
	elevatedErr    error
	fail           map[string]error

	steps   []string
	handles []*fakeHandle
	created []string
}

func (p *fakePlatform) step(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, name)
	return p.fail[name]
}

func (p *fakePlatform) handle(name string) *fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	handle := &fakeHandle{name: name, platform: p}
	p.handles = append(p.handles, handle)
	return handle
}

func (p *fakePlatform) ActiveConsoleSession() (uint32, error) {
	if err := p.step("console"); err != nil {
		return 0, err
	}
	return p.consoleSession, nil
}

func (p *fakePlatform) FindElevatedToken(session uint32) (Token, bool, error) {
	p.step(fmt.Sprintf("elevated %d", session))
	if p.elevatedErr != nil {
		return nil, false, p.elevatedErr
	}
	if !p.hasElevated {
		return nil, false, nil
	}
	return p.handle("elevated"), true, nil
}

func (p *fakePlatform) UserToken(session uint32) (Token, error) {
	if err := p.step(fmt.Sprintf("user %d", session)); err != nil {
		return nil, err
	}
	return p.handle("user"), nil
}

func (p *fakePlatform) DuplicatePrimary(token Token) (Token, error) {
	if err := p.step("duplicate " + token.(*fakeHandle).name); err != nil {
		return nil, err
	}
	return p.handle("primary"), nil
}

func (p *fakePlatform) CreateEnvironment(token Token) (Environment, error) {
	if err := p.step("environment"); err != nil {
		return nil, err
	}
	return p.handle("env"), nil
}

func (p *fakePlatform) CreateProcess(token Token, environment Environment, commandLine string) (int, error) {
	if err := p.step("create"); err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.created = append(p.created, commandLine)
	p.mu.Unlock()
	return 4321, nil
}

func (p *fakePlatform) assertAllReleasedOnce(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, handle := range p.handles {
		if handle.closed != 1 {
			t.Errorf("handle %q released %d times, want 1", handle.name, handle.closed)
		}
	}
}

func (p *fakePlatform) stepList() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.steps, ", ")
}

func TestLaunchFallsBackToUserToken(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{consoleSession: 1}
	pid, err := New(platform, nil).Launch(context.Background(), Request{
		SessionID:      ActiveConsole,
		CommandLine:    `C:\deskbridge.exe --agent`,
		PreferElevated: true,
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if pid != 4321 {
		t.Errorf("pid = %d, want 4321", pid)
	}

	want := "console, elevated 1, user 1, duplicate user, environment, create, close env, close primary, close user"
	if got := platform.stepList(); got != want {
		t.Errorf("steps:\n got %s\nwant %s", got, want)
	}
	platform.assertAllReleasedOnce(t)
	if len(platform.created) != 1 || platform.created[0] != `C:\deskbridge.exe --agent` {
		t.Errorf("created = %q", platform.created)
	}
}

func TestLaunchUsesElevatedToken(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{consoleSession: 2, hasElevated: true}
	if _, err := New(platform, nil).Launch(context.Background(), Request{
		SessionID:      ActiveConsole,
		CommandLine:    "agent",
		PreferElevated: true,
	}); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	want := "console, elevated 2, duplicate elevated, environment, create, close env, close primary, close elevated"
	if got := platform.stepList(); got != want {
		t.Errorf("steps:\n got %s\nwant %s", got, want)
	}
	platform.assertAllReleasedOnce(t)
}

func TestLaunchElevatedLookupErrorFallsBack(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{consoleSession: 1, elevatedErr: errors.New("snapshot failed")}
	if _, err := New(platform, nil).Launch(context.Background(), Request{
		SessionID:      ActiveConsole,
		CommandLine:    "agent",
		PreferElevated: true,
	}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if got := platform.stepList(); !strings.Contains(got, "user 1") {
		t.Errorf("steps %q did not fall back to the user token", got)
	}
	platform.assertAllReleasedOnce(t)
}

func TestLaunchExplicitSessionSkipsConsoleLookup(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{hasElevated: true}
	if _, err := New(platform, nil).Launch(context.Background(), Request{
		SessionID:   3,
		CommandLine: "agent",
	}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	want := "user 3, duplicate user, environment, create, close env, close primary, close user"
	if got := platform.stepList(); got != want {
		t.Errorf("steps:\n got %s\nwant %s", got, want)
	}
}

func TestLaunchReleasesOnEveryFailure(t *testing.T) {
	t.Parallel()

	errAccess := syscall.Errno(5)
	tests := []struct {
		failStep string
		wantOp   string
		wantCode uint32
	}{
		{"console", "find console session", 0},
		{"user 1", "query session user token", 5},
		{"duplicate user", "duplicate token", 5},
		{"environment", "create environment", 5},
		{"create", "create process", 5},
	}
	for _, test := range tests {
		t.Run(test.failStep, func(t *testing.T) {
			t.Parallel()

			cause := error(errAccess)
			if test.failStep == "console" {
				cause = ErrNoConsoleSession
			}
			platform := &fakePlatform{
				consoleSession: 1,
				fail:           map[string]error{test.failStep: cause},
			}
			pid, err := New(platform, nil).Launch(context.Background(), Request{
				SessionID:   ActiveConsole,
				CommandLine: "agent",
			})
			if err == nil {
				t.Fatalf("Launch succeeded with pid %d", pid)
			}
			var launchErr *Error
			if !errors.As(err, &launchErr) {
				t.Fatalf("error %v is not a *launcher.Error", err)
			}
			if launchErr.Op != test.wantOp {
				t.Errorf("Op = %q, want %q", launchErr.Op, test.wantOp)
			}
			if launchErr.Code != test.wantCode {
				t.Errorf("Code = %d, want %d", launchErr.Code, test.wantCode)
			}
			if !errors.Is(err, cause) {
				t.Errorf("error does not wrap its cause %v", cause)
			}
			platform.assertAllReleasedOnce(t)
		})
	}
}

func TestLaunchNoConsoleSession(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{fail: map[string]error{"console": ErrNoConsoleSession}}
	_, err := New(platform, nil).Launch(context.Background(), Request{SessionID: ActiveConsole, CommandLine: "agent"})
	if !errors.Is(err, ErrNoConsoleSession) {
		t.Fatalf("Launch = %v, want ErrNoConsoleSession", err)
	}
	if !strings.Contains(err.Error(), "no active console session") {
		t.Errorf("message = %q", err)
	}
}

func TestLaunchRejectsEmptyCommandLine(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{}
	if _, err := New(platform, nil).Launch(context.Background(), Request{SessionID: ActiveConsole}); err == nil {
		t.Fatal("Launch with an empty command line succeeded")
	}
	if got := platform.stepList(); got != "" {
		t.Errorf("platform touched before validation: %s", got)
	}
}

func TestLaunchCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	platform := &fakePlatform{consoleSession: 1}
	_, err := New(platform, nil).Launch(ctx, Request{SessionID: ActiveConsole, CommandLine: "agent"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Launch = %v, want context.Canceled", err)
	}
	platform.assertAllReleasedOnce(t)
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	withCode := &Error{Op: "duplicate token", Code: 5, Err: syscall.Errno(5)}
	if !strings.Contains(withCode.Error(), "(code 5)") {
		t.Errorf("message %q lacks the code", withCode.Error())
	}
	withoutCode := &Error{Op: "validate request", Err: errors.New("empty command line")}
	if got := withoutCode.Error(); got != "launcher: validate request: empty command line" {
		t.Errorf("message = %q", got)
	}
}
