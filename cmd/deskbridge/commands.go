// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/deskbridge/bridge"
	"github.com/bureau-foundation/deskbridge/lib/config"
	"github.com/bureau-foundation/deskbridge/lib/launcher"
	"github.com/bureau-foundation/deskbridge/lib/protocol"
	"github.com/bureau-foundation/deskbridge/lib/sealed"
)

// environment is what an operator command runs against.
type environment struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	stdout     io.Writer
}

func (e *environment) client() (*bridge.Client, error) {
	return bridge.Open(e.cfg, bridge.OpenOptions{
		ConfigPath: e.configPath,
		Logger:     e.logger,
	})
}

// withClient opens a client for one command and closes it afterwards.
func (e *environment) withClient(action func(*bridge.Client) error) error {
	client, err := e.client()
	if err != nil {
		return err
	}
	defer client.Close()
	return action(client)
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{"ping", "ping", "start the agent if needed and print its protocol version", runPing},
	{"screenshot", "screenshot -o FILE", "save a JPEG of the desktop", runScreenshot},
	{"click", "click X Y [--button left|right|middle]", "click at normalized coordinates", runClick},
	{"key", "key VK", "press and release a virtual key", runKey},
	{"lock", "lock", "lock the workstation", runLock},
	{"bounds", "bounds", "print the virtual screen rectangle", runBounds},
	{"windows", "windows", "list visible top-level windows", runWindows},
	{"launch-encoder", "launch-encoder -- ARGS...", "start a detached encoder and print its pid", runLaunchEncoder},
	{"stop-encoder", "stop-encoder PID", "stop an encoder started by launch-encoder", runStopEncoder},
	{"stream-encoder", "stream-encoder -o FILE -- ARGS...", "relay encoder stdout into FILE (- for stdout)", runStreamEncoder},
	{"status", "status", "print the last agent launch record", runStatus},
	{"seal-password", "seal-password RECIPIENT...", "seal a password from stdin to age recipients", runSealPassword},
}

func runCommand(cfg *config.Config, configPath string, args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		return errors.New("no command given (try --help)")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &environment{cfg: cfg, configPath: configPath, logger: logger, stdout: os.Stdout}
	for _, candidate := range commands {
		if candidate.name == args[0] {
			return classify(candidate.run(ctx, env, args[1:]))
		}
	}
	return fmt.Errorf("unknown command %q (try --help)", args[0])
}

// Exit statuses beyond the generic 1, for scripts driving the CLI.
const (
	exitUnreachable  = 2
	exitLaunchFailed = 3
	exitCommandError = 4
)

// statusError attaches an exit status to an error for process.Fatal.
type statusError struct {
	err  error
	code int
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }
func (e *statusError) ExitCode() int { return e.code }

// classify maps client failures to exit statuses.
func classify(err error) error {
	var launchErr *launcher.Error
	var commandErr *bridge.CommandError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &launchErr), errors.Is(err, bridge.ErrLaunchTimeout):
		return &statusError{err: err, code: exitLaunchFailed}
	case errors.Is(err, bridge.ErrNoResponse):
		return &statusError{err: err, code: exitUnreachable}
	case errors.As(err, &commandErr):
		return &statusError{err: err, code: exitCommandError}
	}
	return err
}

// parseFlags parses a command's own flags and checks the positional
// argument count.
func parseFlags(flags *pflag.FlagSet, args []string, minimum, maximum int) ([]string, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	positional := flags.Args()
	if len(positional) < minimum || (maximum >= 0 && len(positional) > maximum) {
		return nil, fmt.Errorf("%s: wrong number of arguments", flags.Name())
	}
	return positional, nil
}

func runPing(ctx context.Context, env *environment, args []string) error {
	if _, err := parseFlags(pflag.NewFlagSet("ping", pflag.ContinueOnError), args, 0, 0); err != nil {
		return err
	}
	return env.withClient(func(client *bridge.Client) error {
		agentVersion, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.stdout, "agent protocol version %d (client %d)\n", agentVersion, protocol.Version)
		return nil
	})
}

func runScreenshot(ctx context.Context, env *environment, args []string) error {
	flags := pflag.NewFlagSet("screenshot", pflag.ContinueOnError)
	output := flags.StringP("output", "o", "", "file to write the JPEG to")
	if _, err := parseFlags(flags, args, 0, 0); err != nil {
		return err
	}
	if *output == "" {
		return errors.New("screenshot: --output is required")
	}
	return env.withClient(func(client *bridge.Client) error {
		jpeg, err := client.CaptureScreen(ctx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*output, jpeg, 0o644); err != nil {
			return fmt.Errorf("writing screenshot: %w", err)
		}
		fmt.Fprintf(env.stdout, "wrote %d bytes to %s\n", len(jpeg), *output)
		return nil
	})
}

func runClick(ctx context.Context, env *environment, args []string) error {
	flags := pflag.NewFlagSet("click", pflag.ContinueOnError)
	buttonName := flags.String("button", "left", "left, right, or middle")
	positional, err := parseFlags(flags, args, 2, 2)
	if err != nil {
		return err
	}
	x, err := strconv.ParseFloat(positional[0], 64)
	if err != nil {
		return fmt.Errorf("click: X: %w", err)
	}
	y, err := strconv.ParseFloat(positional[1], 64)
	if err != nil {
		return fmt.Errorf("click: Y: %w", err)
	}
	event := bridge.MouseEvent{X: x, Y: y}
	switch *buttonName {
	case "left":
		event.Action = bridge.MouseClick
	case "right":
		event.Action = bridge.MouseRightClick
	case "middle":
		event.Action = bridge.MouseMiddleClick
	default:
		return fmt.Errorf("click: unknown button %q", *buttonName)
	}
	return env.withClient(func(client *bridge.Client) error {
		return client.SendMouseEvent(ctx, event)
	})
}

func runKey(ctx context.Context, env *environment, args []string) error {
	positional, err := parseFlags(pflag.NewFlagSet("key", pflag.ContinueOnError), args, 1, 1)
	if err != nil {
		return err
	}
	code, err := strconv.ParseInt(positional[0], 0, 32)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	return env.withClient(func(client *bridge.Client) error {
		if err := client.SendKey(ctx, int(code), true); err != nil {
			return err
		}
		return client.SendKey(ctx, int(code), false)
	})
}

func runLock(ctx context.Context, env *environment, args []string) error {
	if _, err := parseFlags(pflag.NewFlagSet("lock", pflag.ContinueOnError), args, 0, 0); err != nil {
		return err
	}
	return env.withClient(func(client *bridge.Client) error {
		return client.LockWorkstation(ctx)
	})
}

func runBounds(ctx context.Context, env *environment, args []string) error {
	if _, err := parseFlags(pflag.NewFlagSet("bounds", pflag.ContinueOnError), args, 0, 0); err != nil {
		return err
	}
	return env.withClient(func(client *bridge.Client) error {
		bounds, err := client.ScreenBounds(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.stdout, "%dx%d at (%d, %d)\n", bounds.Width, bounds.Height, bounds.X, bounds.Y)
		return nil
	})
}

func runWindows(ctx context.Context, env *environment, args []string) error {
	flags := pflag.NewFlagSet("windows", pflag.ContinueOnError)
	asJSON := flags.Bool("json", false, "print JSON")
	if _, err := parseFlags(flags, args, 0, 0); err != nil {
		return err
	}
	return env.withClient(func(client *bridge.Client) error {
		windows, err := client.EnumWindows(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			encoder := json.NewEncoder(env.stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(windows)
		}
		for _, window := range windows {
			fmt.Fprintf(env.stdout, "%8d  %s\n", window.PID, window.Title)
		}
		return nil
	})
}

func runLaunchEncoder(ctx context.Context, env *environment, args []string) error {
	positional, err := parseFlags(pflag.NewFlagSet("launch-encoder", pflag.ContinueOnError), args, 1, -1)
	if err != nil {
		return err
	}
	return env.withClient(func(client *bridge.Client) error {
		pid, err := client.LaunchEncoder(ctx, strings.Join(positional, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(env.stdout, pid)
		return nil
	})
}

func runStopEncoder(ctx context.Context, env *environment, args []string) error {
	positional, err := parseFlags(pflag.NewFlagSet("stop-encoder", pflag.ContinueOnError), args, 1, 1)
	if err != nil {
		return err
	}
	pid, err := strconv.Atoi(positional[0])
	if err != nil {
		return fmt.Errorf("stop-encoder: %w", err)
	}
	return env.withClient(func(client *bridge.Client) error {
		return client.StopEncoder(ctx, pid)
	})
}

func runStreamEncoder(ctx context.Context, env *environment, args []string) error {
	flags := pflag.NewFlagSet("stream-encoder", pflag.ContinueOnError)
	output := flags.StringP("output", "o", "", "file to write the stream to, - for stdout")
	positional, err := parseFlags(flags, args, 1, -1)
	if err != nil {
		return err
	}
	if *output == "" {
		return errors.New("stream-encoder: --output is required")
	}

	var destination io.Writer = env.stdout
	if *output != "-" {
		file, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", *output, err)
		}
		defer file.Close()
		destination = file
	}

	return env.withClient(func(client *bridge.Client) error {
		stream, err := client.StartEncoderStream(ctx, strings.Join(positional, " "))
		if err != nil {
			return err
		}
		// Closing the stream on interrupt ends the copy and stops the
		// encoder on the agent side.
		stopOnCancel := context.AfterFunc(ctx, func() { stream.Close() })
		defer stopOnCancel()
		defer stream.Close()

		written, err := io.Copy(destination, stream)
		env.logger.Info("encoder stream ended", "bytes", written)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("relaying stream: %w", err)
		}
		return nil
	})
}

func runStatus(_ context.Context, env *environment, args []string) error {
	if _, err := parseFlags(pflag.NewFlagSet("status", pflag.ContinueOnError), args, 0, 0); err != nil {
		return err
	}
	record, err := bridge.ReadLaunchRecord(env.cfg.StateDir)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(env.stdout, "no agent launched from %s\n", env.cfg.StateDir)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "pid:          %d\n", record.PID)
	fmt.Fprintf(env.stdout, "launched at:  %s\n", record.LaunchedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(env.stdout, "command line: %s\n", record.CommandLine)
	fmt.Fprintf(env.stdout, "elevated:     %t (preferred)\n", record.PreferElevated)
	return nil
}

// runSealPassword reads a password (prompting without echo on a
// terminal) and prints it sealed to the given age recipients, ready for
// elevated_identity.password_file.
func runSealPassword(_ context.Context, env *environment, args []string) error {
	recipients, err := parseFlags(pflag.NewFlagSet("seal-password", pflag.ContinueOnError), args, 1, -1)
	if err != nil {
		return err
	}

	var password []byte
	stdin := int(os.Stdin.Fd())
	if term.IsTerminal(stdin) {
		fmt.Fprint(os.Stderr, "password: ")
		password, err = term.ReadPassword(stdin)
		fmt.Fprintln(os.Stderr)
	} else {
		password, err = io.ReadAll(os.Stdin)
		password = bytes.TrimRight(password, "\r\n")
	}
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if len(password) == 0 {
		return errors.New("seal-password: empty password")
	}

	ciphertext, err := sealed.Seal(password, recipients...)
	clear(password)
	if err != nil {
		return err
	}
	_, err = env.stdout.Write(ciphertext)
	return err
}
