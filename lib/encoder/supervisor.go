// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bureau-foundation/deskbridge/lib/clock"
	"github.com/bureau-foundation/deskbridge/lib/process"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("encoder supervisor closed")

	// ErrUnknownProcess is returned by Stop for a pid this supervisor
	// did not start or that has already exited.
	ErrUnknownProcess = errors.New("no encoder with that pid")
)

// relayChunkSize is the read size when copying encoder output to the
// connection.
const relayChunkSize = 64 * 1024

// Options configures New.
type Options struct {
	Finder Finder

	// GraceWindow is how long Relay waits for an early exit before
	// acknowledging. Defaults to 500ms.
	GraceWindow time.Duration

	// KillTimeout bounds the wait for a killed tree to exit. Defaults
	// to 5s.
	KillTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Supervisor starts encoder processes and owns them until they exit.
// Every child is tracked from start to exit so Close can kill whatever
// is still running. Safe for concurrent use.
type Supervisor struct {
	finder      Finder
	graceWindow time.Duration
	killTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	mu       sync.Mutex
	children map[int]*child
	closed   bool

	// waiters counts the goroutines reaping children.
	waiters sync.WaitGroup
}

// child is one running encoder.
type child struct {
	pid    int
	cmd    *exec.Cmd
	stderr *stderrLog

	// done is closed once the process has been reaped; err is its
	// Wait result and is only read after done.
	done chan struct{}
	err  error
}

// New returns a Supervisor.
func New(options Options) *Supervisor {
	supervisor := &Supervisor{
		finder:      options.Finder,
		graceWindow: options.GraceWindow,
		killTimeout: options.KillTimeout,
		clock:       options.Clock,
		logger:      options.Logger,
		children:    make(map[int]*child),
	}
	if supervisor.graceWindow <= 0 {
		supervisor.graceWindow = 500 * time.Millisecond
	}
	if supervisor.killTimeout <= 0 {
		supervisor.killTimeout = 5 * time.Second
	}
	if supervisor.clock == nil {
		supervisor.clock = clock.Real()
	}
	if supervisor.logger == nil {
		supervisor.logger = slog.New(slog.DiscardHandler)
	}
	return supervisor
}

// start launches the encoder with args. stdout receives the encoder's
// standard output; nil discards it.
func (s *Supervisor) start(ctx context.Context, args string, stdout *os.File) (*child, error) {
	binary, err := s.finder.Find(ctx)
	if err != nil {
		return nil, err
	}
	cmd, err := command(binary.Path, args)
	if err != nil {
		return nil, err
	}
	stderr := newStderrLog(s.logger)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	cmd.Stderr = stderr
	// Bounds Wait when a grandchild keeps stderr open after the
	// encoder itself exits.
	cmd.WaitDelay = s.killTimeout

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting encoder %s: %w", binary.Path, err)
	}

	running := &child{
		pid:    cmd.Process.Pid,
		cmd:    cmd,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	stderr.setLogger(s.logger.With("pid", running.pid))

	s.children[running.pid] = running
	s.waiters.Add(1)
	go s.reap(running)

	s.logger.Info("encoder started", "pid", running.pid, "path", binary.Path)
	return running, nil
}

// reap waits for the child, records its exit, and forgets it.
func (s *Supervisor) reap(running *child) {
	defer s.waiters.Done()
	running.err = running.cmd.Wait()

	// Forget the child before announcing the exit so Running never
	// lists a pid whose done channel is closed.
	s.mu.Lock()
	delete(s.children, running.pid)
	s.mu.Unlock()
	close(running.done)

	s.logger.Info("encoder exited", "pid", running.pid, "status", exitStatus(running.err))
}

// terminate kills the child's process tree and waits up to killTimeout
// for it to be reaped.
func (s *Supervisor) terminate(running *child) {
	select {
	case <-running.done:
		return
	default:
	}
	if err := process.KillTree(running.pid); err != nil {
		s.logger.Warn("killing encoder tree", "pid", running.pid, "error", err)
	}
	select {
	case <-running.done:
	case <-s.clock.After(s.killTimeout):
		s.logger.Error("encoder did not exit after kill", "pid", running.pid, "timeout", s.killTimeout)
	}
}

// LaunchDirect starts a detached encoder and returns its pid at once.
// The encoder writes wherever args tell it to; its stdout is discarded.
// It keeps running until it exits, Stop is called, or the supervisor
// closes.
func (s *Supervisor) LaunchDirect(ctx context.Context, args string) (int, error) {
	running, err := s.start(ctx, args, nil)
	if err != nil {
		return 0, err
	}
	return running.pid, nil
}

// Stop kills an encoder started by this supervisor.
func (s *Supervisor) Stop(pid int) error {
	s.mu.Lock()
	running, ok := s.children[pid]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProcess, pid)
	}
	s.terminate(running)
	return nil
}

// Relay starts an encoder and streams its stdout to conn. If the encoder
// exits within the grace window, Relay returns an error carrying the
// exit status and the last stderr lines, and ack is never called.
// Otherwise ack is called (it writes the acknowledgement frame) and the
// raw output is copied to conn until the encoder finishes, ctx is
// cancelled, a write fails, or the peer closes its end. The encoder tree
// is killed on every path.
//
// Errors after the acknowledgement are not returned: the stream simply
// ends, and the caller closes conn.
func (s *Supervisor) Relay(ctx context.Context, args string, conn net.Conn, ack func() error) error {
	output, outputWriter, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating output pipe: %w", err)
	}
	defer output.Close()

	running, err := s.start(ctx, args, outputWriter)
	// The child holds its own copy of the write end. Closing ours lets
	// reads see EOF once the encoder exits.
	outputWriter.Close()
	if err != nil {
		return err
	}
	defer s.terminate(running)

	select {
	case <-running.done:
		return fmt.Errorf("encoder exited during startup (%s): %s", exitStatus(running.err), running.stderr.Tail())
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(s.graceWindow):
	}

	if err := ack(); err != nil {
		return fmt.Errorf("acknowledging stream: %w", err)
	}

	// stop is closed by whichever side ends the stream first.
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopStream := func() { stopOnce.Do(func() { close(stop) }) }

	var streams sync.WaitGroup

	// The client sends nothing after the command, so any read result
	// means it went away.
	streams.Add(1)
	go func() {
		defer streams.Done()
		defer stopStream()
		var discard [1]byte
		conn.Read(discard[:])
	}()

	streams.Add(1)
	go func() {
		defer streams.Done()
		defer stopStream()
		buffer := make([]byte, relayChunkSize)
		for {
			count, readErr := output.Read(buffer)
			if count > 0 {
				if _, writeErr := conn.Write(buffer[:count]); writeErr != nil {
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	select {
	case <-stop:
	case <-ctx.Done():
	}

	// Kill first so the output pipe reaches EOF, then wake the peer
	// watcher.
	s.terminate(running)
	output.Close()
	conn.SetReadDeadline(time.Now())
	streams.Wait()

	s.logger.Debug("encoder stream ended", "pid", running.pid)
	return nil
}

// Running returns the pids of live encoders.
func (s *Supervisor) Running() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]int, 0, len(s.children))
	for pid := range s.children {
		pids = append(pids, pid)
	}
	return pids
}

// Close kills every running encoder and waits for all of them to be
// reaped. Later launches fail with ErrClosed.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.closed = true
	running := make([]*child, 0, len(s.children))
	for _, each := range s.children {
		running = append(running, each)
	}
	s.mu.Unlock()

	for _, each := range running {
		s.terminate(each)
	}
	s.waiters.Wait()
	return nil
}

// exitStatus renders a Wait result for logs and errors.
func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Error()
	}
	return err.Error()
}
