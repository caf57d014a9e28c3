// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/deskbridge/agent"
	"github.com/bureau-foundation/deskbridge/lib/channel"
	"github.com/bureau-foundation/deskbridge/lib/clock"
	"github.com/bureau-foundation/deskbridge/lib/desktop"
	"github.com/bureau-foundation/deskbridge/lib/launcher"
	"github.com/bureau-foundation/deskbridge/lib/testutil"
)

var lifecycleEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeHost is an agent that comes up when launched.
type fakeHost struct {
	dispatcher *agent.Dispatcher

	// launchErr fails every launch.
	launchErr error

	// stillborn launches succeed without the agent ever answering.
	stillborn bool

	up       atomic.Bool
	launches atomic.Int32

	mu       sync.Mutex
	requests []launcher.Request
}

func newFakeHost() *fakeHost {
	return &fakeHost{dispatcher: agent.NewDispatcher(&desktop.Fake{}, stubEncoders{}, nil)}
}

func (h *fakeHost) Dial(context.Context) (net.Conn, error) {
	if !h.up.Load() {
		return nil, channel.ErrNotListening
	}
	clientEnd, agentEnd := net.Pipe()
	go h.dispatcher.ServeConn(context.Background(), agentEnd)
	return clientEnd, nil
}

func (h *fakeHost) Launch(_ context.Context, request launcher.Request) (int, error) {
	h.launches.Add(1)
	h.mu.Lock()
	h.requests = append(h.requests, request)
	h.mu.Unlock()
	if h.launchErr != nil {
		return 0, h.launchErr
	}
	if !h.stillborn {
		h.up.Store(true)
	}
	return 4242, nil
}

func newTestLifecycle(t *testing.T, host *fakeHost) (*Lifecycle, *clock.FakeClock, string) {
	t.Helper()
	stateDir := t.TempDir()
	fakeClock := clock.Fake(lifecycleEpoch)
	lifecycle := NewLifecycle(LifecycleOptions{
		Dial:           host.Dial,
		Starter:        host,
		CommandLine:    `C:\deskbridge\deskbridge.exe --agent`,
		StateDir:       stateDir,
		PreferElevated: true,
		Clock:          fakeClock,
	})
	return lifecycle, fakeClock, stateDir
}

func TestEnsureRunningWhenAlreadyUp(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.up.Store(true)
	lifecycle, _, _ := newTestLifecycle(t, host)

	if err := lifecycle.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning: %v", err)
	}
	if host.launches.Load() != 0 {
		t.Errorf("launches = %d, want 0", host.launches.Load())
	}
	if lifecycle.LaunchAttempted() {
		t.Error("LaunchAttempted = true without a launch")
	}
}

func TestEnsureRunningConcurrentCallersShareOneLaunch(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	lifecycle, fakeClock, stateDir := newTestLifecycle(t, host)

	const callers = 8
	results := make(chan error, callers)
	for range callers {
		go func() { results <- lifecycle.EnsureRunning(context.Background()) }()
	}

	// The one launch waits a poll interval before its first probe.
	fakeClock.BlockUntil(1)
	fakeClock.Advance(500 * time.Millisecond)

	for range callers {
		if err := testutil.Receive(t, results, 5*time.Second, "EnsureRunning result"); err != nil {
			t.Errorf("EnsureRunning: %v", err)
		}
	}
	if got := host.launches.Load(); got != 1 {
		t.Fatalf("launches = %d, want exactly 1", got)
	}
	if !lifecycle.LaunchAttempted() {
		t.Error("LaunchAttempted = false after a launch")
	}

	request := host.requests[0]
	if request.SessionID != launcher.ActiveConsole || !request.PreferElevated {
		t.Errorf("launch request = %+v, want active console with elevation preferred", request)
	}

	record, err := ReadLaunchRecord(stateDir)
	if err != nil {
		t.Fatalf("ReadLaunchRecord: %v", err)
	}
	if record.PID != 4242 || record.CommandLine != request.CommandLine || !record.LaunchedAt.Equal(lifecycleEpoch) {
		t.Errorf("launch record = %+v", record)
	}
}

func TestEnsureRunningLaunchTimeout(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.stillborn = true
	lifecycle, fakeClock, _ := newTestLifecycle(t, host)

	result := make(chan error, 1)
	go func() { result <- lifecycle.EnsureRunning(context.Background()) }()

	// Twenty polls at 500ms cover the 10s launch timeout.
	for range 20 {
		fakeClock.BlockUntil(1)
		fakeClock.Advance(500 * time.Millisecond)
	}
	err := testutil.Receive(t, result, 5*time.Second, "EnsureRunning result")
	if !errors.Is(err, ErrLaunchTimeout) {
		t.Fatalf("EnsureRunning = %v, want ErrLaunchTimeout", err)
	}
	if host.launches.Load() != 1 {
		t.Errorf("launches = %d, want 1", host.launches.Load())
	}
}

func TestEnsureRunningPropagatesLauncherError(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.launchErr = &launcher.Error{Op: "find console session", Err: launcher.ErrNoConsoleSession}
	lifecycle, _, stateDir := newTestLifecycle(t, host)

	err := lifecycle.EnsureRunning(context.Background())
	var launchErr *launcher.Error
	if !errors.As(err, &launchErr) || launchErr.Op != "find console session" {
		t.Fatalf("EnsureRunning = %v, want the launcher error", err)
	}
	if !errors.Is(err, launcher.ErrNoConsoleSession) {
		t.Errorf("error %v does not wrap ErrNoConsoleSession", err)
	}
	if !lifecycle.LaunchAttempted() {
		t.Error("LaunchAttempted = false after a failed launch")
	}
	if _, err := ReadLaunchRecord(stateDir); err == nil {
		t.Error("launch record written for a failed launch")
	}
}

func TestClientLaunchesAgentOnFirstCall(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	lifecycle, fakeClock, _ := newTestLifecycle(t, host)
	client := NewClient(ClientOptions{Dial: host.Dial, Lifecycle: lifecycle})

	result := make(chan error, 1)
	go func() {
		_, err := client.Ping(context.Background())
		result <- err
	}()
	fakeClock.BlockUntil(1)
	fakeClock.Advance(500 * time.Millisecond)
	if err := testutil.Receive(t, result, 5*time.Second, "Ping result"); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	// The agent is up now; further calls go straight through.
	if err := client.LockWorkstation(context.Background()); err != nil {
		t.Fatalf("LockWorkstation: %v", err)
	}
	if host.launches.Load() != 1 {
		t.Errorf("launches = %d, want 1", host.launches.Load())
	}
}

func TestAgentCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		executable string
		configPath string
		want       string
	}{
		{`C:\deskbridge\deskbridge.exe`, "", `C:\deskbridge\deskbridge.exe --agent`},
		{`C:\Program Files\deskbridge\deskbridge.exe`, "", `"C:\Program Files\deskbridge\deskbridge.exe" --agent`},
		{
			`C:\Program Files\deskbridge\deskbridge.exe`,
			`C:\ProgramData\deskbridge\config.yaml`,
			`"C:\Program Files\deskbridge\deskbridge.exe" --agent --config C:\ProgramData\deskbridge\config.yaml`,
		},
		{"/usr/bin/deskbridge", "/etc/deskbridge/my config.yaml", `/usr/bin/deskbridge --agent --config "/etc/deskbridge/my config.yaml"`},
	}
	for _, test := range tests {
		if got := AgentCommandLine(test.executable, test.configPath); got != test.want {
			t.Errorf("AgentCommandLine(%q, %q) = %s, want %s", test.executable, test.configPath, got, test.want)
		}
	}
}
