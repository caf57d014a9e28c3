// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/deskbridge/agent"
	"github.com/bureau-foundation/deskbridge/lib/channel"
	"github.com/bureau-foundation/deskbridge/lib/clock"
	"github.com/bureau-foundation/deskbridge/lib/config"
	"github.com/bureau-foundation/deskbridge/lib/process"
	"github.com/bureau-foundation/deskbridge/lib/session"
	"github.com/bureau-foundation/deskbridge/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("deskbridge", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	var (
		agentMode   bool
		configPath  string
		showVersion bool
		verbose     bool
	)
	flags.BoolVar(&agentMode, "agent", false, "run the desktop agent in this session")
	flags.StringVar(&configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.Usage = func() { printUsage(flags) }

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("deskbridge %s\n", version.Info())
		fmt.Printf("  %s\n", version.Platform())
		return nil
	}

	logger := newLogger(verbose)
	slog.SetDefault(logger)

	cfg, configPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if agentMode {
		return runAgent(cfg, logger)
	}
	return runCommand(cfg, configPath, flags.Args(), logger)
}

// newLogger writes text to a terminal and JSON otherwise, so a service
// host or log collector gets structured lines.
func newLogger(verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// loadConfig reads the --config file, else the file named by the
// environment, else the defaults. It returns the path actually used so
// a launched agent reads the same file.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = os.Getenv(config.EnvironmentVariable)
	}
	if path == "" {
		return config.Default(), "", nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// runAgent serves the channel until interrupted or idle. An idle
// shutdown is a normal exit.
func runAgent(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	current := session.Current()
	logger = logger.With("component", "agent", "session_id", current.SessionID)
	logger.Info("agent starting",
		"version", version.Info(),
		"pid", os.Getpid(),
		"interactive", current.Interactive,
	)
	if !current.Interactive {
		logger.Warn("agent running outside an interactive session; desktop calls will fail")
	}

	listener, err := channel.Listen(cfg.Channel.Name)
	if err != nil {
		return err
	}

	server := agent.NewServer(agent.ServerOptions{
		Listener:          listener,
		Dispatcher:        agent.NewHostDispatcher(cfg, logger),
		AcceptLoops:       cfg.Agent.AcceptLoops,
		IdleTimeout:       cfg.Agent.IdleTimeout.Std(),
		IdleCheckInterval: cfg.Agent.IdleCheckInterval.Std(),
		Clock:             clock.Real(),
		Logger:            logger,
	})
	err = server.Serve(ctx)
	if errors.Is(err, agent.ErrIdle) {
		return nil
	}
	return err
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, `deskbridge - reach the interactive desktop from a background service

USAGE
    deskbridge --agent [--config FILE]
    deskbridge [--config FILE] <command> [args...]

COMMANDS
`)
	for _, command := range commands {
		fmt.Fprintf(os.Stderr, "    %-40s %s\n", command.usage, command.summary)
	}
	fmt.Fprint(os.Stderr, "\nFLAGS\n")
	flags.SetOutput(os.Stderr)
	flags.PrintDefaults()
}
