// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/deskbridge/lib/clock"
)

// ErrIdle is returned by Serve when the agent shut itself down after
// the idle timeout. It is a normal exit.
var ErrIdle = errors.New("agent idle timeout reached")

// acceptRetryDelay spaces retries after a transient Accept failure.
const acceptRetryDelay = 100 * time.Millisecond

// State is the agent's liveness bookkeeping. The zero value is ready to
// use.
type State struct {
	// lastActivity is the Unix-nanosecond time a connection was last
	// accepted or finished.
	lastActivity atomic.Int64

	// active counts connections being served. An encoder stream can
	// outlast the idle timeout and must not be cut off by it.
	active atomic.Int32
}

// Touch records activity at now.
func (s *State) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the time of the last recorded activity.
func (s *State) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Active returns the number of connections being served.
func (s *State) Active() int {
	return int(s.active.Load())
}

// Idle reports whether no connection is being served and more than
// timeout has passed since the last activity.
func (s *State) Idle(now time.Time, timeout time.Duration) bool {
	return s.active.Load() == 0 && now.Sub(s.LastActivity()) > timeout
}

// begin and end bracket one served connection.
func (s *State) begin(now time.Time) {
	s.active.Add(1)
	s.Touch(now)
}

func (s *State) end(now time.Time) {
	s.Touch(now)
	s.active.Add(-1)
}

// ServerOptions configures NewServer.
type ServerOptions struct {
	Listener   net.Listener
	Dispatcher *Dispatcher

	// AcceptLoops is the number of concurrent accept loops. Defaults
	// to 4.
	AcceptLoops int

	// IdleTimeout ends Serve with ErrIdle after this long without a
	// connection or a live encoder. Zero disables it.
	IdleTimeout time.Duration

	// IdleCheckInterval is how often the idle condition is checked.
	// Defaults to one minute.
	IdleCheckInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server accepts channel connections and hands each to the dispatcher.
type Server struct {
	listener          net.Listener
	dispatcher        *Dispatcher
	acceptLoops       int
	idleTimeout       time.Duration
	idleCheckInterval time.Duration
	clock             clock.Clock
	logger            *slog.Logger

	state State
}

// NewServer returns a Server. The server owns the listener and the
// dispatcher's encoders: Serve closes both before returning.
func NewServer(options ServerOptions) *Server {
	server := &Server{
		listener:          options.Listener,
		dispatcher:        options.Dispatcher,
		acceptLoops:       options.AcceptLoops,
		idleTimeout:       options.IdleTimeout,
		idleCheckInterval: options.IdleCheckInterval,
		clock:             options.Clock,
		logger:            options.Logger,
	}
	if server.acceptLoops <= 0 {
		server.acceptLoops = 4
	}
	if server.idleCheckInterval <= 0 {
		server.idleCheckInterval = time.Minute
	}
	if server.clock == nil {
		server.clock = clock.Real()
	}
	if server.logger == nil {
		server.logger = slog.New(slog.DiscardHandler)
	}
	return server
}

// State exposes the liveness bookkeeping.
func (s *Server) State() *State {
	return &s.state
}

// Serve runs the accept loops and the idle watcher until ctx is
// cancelled (returns nil) or the idle timeout passes (returns ErrIdle).
// Either way the listener is closed, exchanges already in progress are
// allowed to finish, and running encoders are killed.
func (s *Server) Serve(ctx context.Context) error {
	s.state.Touch(s.clock.Now())
	s.logger.Info("agent serving",
		"address", s.listener.Addr().String(),
		"accept_loops", s.acceptLoops,
		"idle_timeout", s.idleTimeout,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for index := range s.acceptLoops {
		group.Go(func() error {
			s.acceptLoop(groupCtx, index)
			return nil
		})
	}
	if s.idleTimeout > 0 {
		group.Go(func() error {
			return s.watchIdle(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		s.listener.Close()
		return nil
	})

	err := group.Wait()
	if closeErr := s.dispatcher.Close(); closeErr != nil {
		s.logger.Warn("closing encoders", "error", closeErr)
	}
	if errors.Is(err, ErrIdle) {
		s.logger.Info("agent idle, shut down",
			"last_activity", s.state.LastActivity(),
			"idle_timeout", s.idleTimeout,
		)
		return ErrIdle
	}
	return err
}

// acceptLoop serves connections one at a time until the listener
// closes.
func (s *Server) acceptLoop(ctx context.Context, index int) {
	logger := s.logger.With("accept_loop", index)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("accept failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(acceptRetryDelay):
			}
			continue
		}
		s.state.begin(s.clock.Now())
		s.dispatcher.ServeConn(ctx, conn)
		s.state.end(s.clock.Now())
	}
}

// watchIdle returns ErrIdle once the agent has been idle longer than
// the timeout, checking every idleCheckInterval. Live encoders count as
// activity, so the timeout runs from the last check that saw one.
func (s *Server) watchIdle(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := s.clock.Now()
			// A detached encoder is streaming to a caller that has no
			// reason to send further commands.
			if pids := s.dispatcher.RunningEncoders(); len(pids) > 0 {
				s.state.Touch(now)
				continue
			}
			if s.state.Idle(now, s.idleTimeout) {
				return ErrIdle
			}
		}
	}
}
