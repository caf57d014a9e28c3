// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/bureau-foundation/deskbridge/agent"
	"github.com/bureau-foundation/deskbridge/lib/channel"
	"github.com/bureau-foundation/deskbridge/lib/config"
	"github.com/bureau-foundation/deskbridge/lib/launcher"
	"github.com/bureau-foundation/deskbridge/lib/session"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// ConfigPath is passed to a launched agent with --config so both
	// sides agree on the channel name and timeouts.
	ConfigPath string

	// Executable is the binary launched in agent mode. Defaults to the
	// running executable.
	Executable string

	Logger *slog.Logger
}

// Open returns a Client suited to the calling process. In the services
// session it talks to the agent over the channel and launches the agent
// on demand. On an interactive desktop it serves every call in-process.
func Open(cfg *config.Config, options OpenOptions) (*Client, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	current := session.Current()
	if !current.Interactive {
		return openRemote(cfg, options, logger)
	}
	logger.Debug("interactive session, serving desktop calls in-process",
		"session_id", current.SessionID,
	)
	return openLocal(agent.NewHostDispatcher(cfg, logger), logger), nil
}

func openRemote(cfg *config.Config, options OpenOptions, logger *slog.Logger) (*Client, error) {
	executable := options.Executable
	if executable == "" {
		var err error
		executable, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating own executable: %w", err)
		}
	}

	dial := func(ctx context.Context) (net.Conn, error) {
		return channel.Dial(ctx, cfg.Channel.Name, cfg.Channel.ConnectTimeout.Std())
	}
	lifecycle := NewLifecycle(LifecycleOptions{
		Dial:           dial,
		Starter:        launcher.New(launcher.NewPlatform(), logger.With("component", "launcher")),
		CommandLine:    AgentCommandLine(executable, options.ConfigPath),
		StateDir:       cfg.StateDir,
		PreferElevated: cfg.Launcher.PreferElevated,
		PingTimeout:    cfg.Agent.PingTimeout.Std(),
		LaunchTimeout:  cfg.Agent.LaunchTimeout.Std(),
		PollInterval:   cfg.Agent.PollInterval.Std(),
		Logger:         logger.With("component", "lifecycle"),
	})
	return NewClient(ClientOptions{
		Dial:      dial,
		Lifecycle: lifecycle,
		Logger:    logger,
	}), nil
}

// openLocal returns a Client whose connections are served by dispatcher
// in this process. Close cancels running streams, waits for every
// exchange to finish, and closes the dispatcher.
func openLocal(dispatcher *agent.Dispatcher, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	var serving sync.WaitGroup
	client := NewClient(ClientOptions{
		Dial: func(context.Context) (net.Conn, error) {
			clientEnd, agentEnd := net.Pipe()
			serving.Go(func() {
				dispatcher.ServeConn(ctx, agentEnd)
			})
			return clientEnd, nil
		},
		Logger: logger,
	})
	client.closer = func() error {
		cancel()
		serving.Wait()
		return dispatcher.Close()
	}
	return client
}
