// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/deskbridge/lib/desktop"
	"github.com/bureau-foundation/deskbridge/lib/frame"
	"github.com/bureau-foundation/deskbridge/lib/protocol"
)

// readTimeout is how long a connection may take to deliver its command.
// Clients write immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout bounds writing one response frame.
const writeTimeout = 10 * time.Second

// Image is a handler result sent as an image frame instead of JSON.
type Image []byte

// Handler executes one decoded command. The result is merged into the
// {"ok":true} response; a nil result sends just {"ok":true}.
type Handler func(ctx context.Context, command protocol.Command) (any, error)

// Encoders is the subset of the encoder supervisor the dispatcher uses.
type Encoders interface {
	LaunchDirect(ctx context.Context, args string) (int, error)
	Stop(pid int) error
	Relay(ctx context.Context, args string, conn net.Conn, ack func() error) error
	Running() []int
	Close() error
}

// Dispatcher routes commands to handlers.
type Dispatcher struct {
	desktop  desktop.Desktop
	encoders Encoders
	logger   *slog.Logger
	handlers map[string]Handler
}

// NewDispatcher returns a Dispatcher with every command registered.
func NewDispatcher(primitives desktop.Desktop, encoders Encoders, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{
		desktop:  primitives,
		encoders: encoders,
		logger:   logger,
		handlers: make(map[string]Handler),
	}

	handle(d, func(context.Context, protocol.Ping) (any, error) {
		return protocol.PingResult{Version: protocol.Version}, nil
	})
	handle(d, func(ctx context.Context, _ protocol.Screenshot) (any, error) {
		jpeg, err := d.desktop.Capture(ctx)
		if err != nil {
			return nil, err
		}
		return Image(jpeg), nil
	})
	handle(d, func(_ context.Context, command protocol.MouseClick) (any, error) {
		return nil, d.desktop.Click(command.Point, protocol.ButtonLeft)
	})
	handle(d, func(_ context.Context, command protocol.MouseRightClick) (any, error) {
		return nil, d.desktop.Click(command.Point, protocol.ButtonRight)
	})
	handle(d, func(_ context.Context, command protocol.MouseMiddleClick) (any, error) {
		return nil, d.desktop.Click(command.Point, protocol.ButtonMiddle)
	})
	handle(d, func(_ context.Context, command protocol.MouseMove) (any, error) {
		return nil, d.desktop.Move(command.Point)
	})
	handle(d, func(_ context.Context, command protocol.MouseDown) (any, error) {
		return nil, d.desktop.ButtonDown(command.Point, command.Button)
	})
	handle(d, func(_ context.Context, command protocol.MouseUp) (any, error) {
		return nil, d.desktop.ButtonUp(command.Point, command.Button)
	})
	handle(d, func(_ context.Context, command protocol.MouseWheel) (any, error) {
		return nil, d.desktop.Wheel(command.Point, command.Delta)
	})
	handle(d, func(_ context.Context, command protocol.Keyboard) (any, error) {
		return nil, d.desktop.Key(command.VKCode, command.IsKeyDown)
	})
	handle(d, func(_ context.Context, command protocol.KeyboardMulti) (any, error) {
		return nil, d.desktop.Keys(command.VKCodes, command.IsKeyDown)
	})
	handle(d, func(context.Context, protocol.Lock) (any, error) {
		return nil, d.desktop.Lock()
	})
	handle(d, func(context.Context, protocol.ScreenBounds) (any, error) {
		return d.desktop.ScreenBounds()
	})
	handle(d, func(context.Context, protocol.EnumWindows) (any, error) {
		windows, err := d.desktop.Windows()
		if err != nil {
			return nil, err
		}
		if windows == nil {
			windows = []protocol.Window{}
		}
		return protocol.WindowList{Windows: windows}, nil
	})
	handle(d, func(ctx context.Context, command protocol.LaunchFFmpeg) (any, error) {
		pid, err := d.encoders.LaunchDirect(ctx, command.Args)
		if err != nil {
			return nil, err
		}
		return protocol.LaunchResult{PID: pid}, nil
	})
	handle(d, func(_ context.Context, command protocol.StopFFmpeg) (any, error) {
		return nil, d.encoders.Stop(command.PID)
	})
	// start_ffmpeg takes over the connection and is served by stream,
	// not through the handler table.

	return d
}

// handle registers a handler for the command type C. Panics on a
// duplicate registration.
func handle[C protocol.Command](d *Dispatcher, handler func(context.Context, C) (any, error)) {
	var zero C
	tag := zero.Type()
	if _, exists := d.handlers[tag]; exists {
		panic(fmt.Sprintf("agent.Dispatcher: duplicate handler for %q", tag))
	}
	d.handlers[tag] = typed(handler)
}

// typed adapts a handler for one concrete command type to Handler.
func typed[C protocol.Command](handler func(context.Context, C) (any, error)) Handler {
	return func(ctx context.Context, command protocol.Command) (any, error) {
		concrete, ok := command.(C)
		if !ok {
			return nil, fmt.Errorf("handler for %s received %T", command.Type(), command)
		}
		return handler(ctx, concrete)
	}
}

// ServeConn runs one exchange on conn and closes it. Once dispatched, a
// command runs to completion even if ctx is cancelled; only an encoder
// stream stops on cancellation.
func (d *Dispatcher) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := d.logger.With("connection_id", uuid.NewString())

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	payload, err := frame.Read(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Connected and closed without a command: a liveness probe
			// at the transport level.
			return
		}
		logger.Debug("reading request failed", "error", err)
		if errors.Is(err, frame.ErrOversized) {
			d.writeFrame(conn, logger, protocol.Failure(err.Error()))
		}
		return
	}
	conn.SetReadDeadline(time.Time{})

	command, err := protocol.DecodeCommand(payload)
	if err != nil {
		logger.Debug("rejecting request", "error", err)
		d.writeFrame(conn, logger, protocol.Failure(err.Error()))
		return
	}
	logger = logger.With("command", command.Type())

	if start, ok := command.(protocol.StartFFmpeg); ok {
		d.stream(ctx, conn, start, logger)
		return
	}

	result, err := d.dispatch(ctx, command, logger)
	if err != nil {
		logger.Debug("command failed", "error", err)
		d.writeFrame(conn, logger, protocol.Failure(err.Error()))
		return
	}

	if image, ok := result.(Image); ok {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := frame.WriteImage(conn, image)
		if errors.Is(err, frame.ErrOversized) {
			// Nothing was written; the size check precedes the header.
			logger.Warn("screenshot too large for one frame", "bytes", len(image))
			d.writeFrame(conn, logger, protocol.Failure(fmt.Sprintf(
				"screenshot of %d bytes exceeds the %d byte frame limit", len(image), frame.MaxSize)))
			return
		}
		if err != nil {
			logger.Debug("writing image response failed", "error", err)
		}
		return
	}
	response, err := protocol.Success(result)
	if err != nil {
		logger.Error("encoding response", "error", err)
		d.writeFrame(conn, logger, protocol.Failure("internal: "+err.Error()))
		return
	}
	d.writeFrame(conn, logger, response)
}

// dispatch runs the handler for command, converting a panic into an
// error so one bad command cannot take the agent down.
func (d *Dispatcher) dispatch(ctx context.Context, command protocol.Command, logger *slog.Logger) (result any, err error) {
	handler, exists := d.handlers[command.Type()]
	if !exists {
		return nil, &protocol.UnknownCommandError{Tag: command.Type()}
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("handler panicked",
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
			result, err = nil, fmt.Errorf("internal error handling %s: %v", command.Type(), recovered)
		}
	}()
	return handler(context.WithoutCancel(ctx), command)
}

// stream serves start_ffmpeg: the acknowledgement frame, then raw
// encoder output until either side stops.
func (d *Dispatcher) stream(ctx context.Context, conn net.Conn, command protocol.StartFFmpeg, logger *slog.Logger) {
	ack := func() error {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		defer conn.SetWriteDeadline(time.Time{})
		response, err := protocol.Success(nil)
		if err != nil {
			return err
		}
		return frame.Write(conn, response)
	}
	if err := d.encoders.Relay(ctx, command.Args, conn, ack); err != nil {
		logger.Debug("encoder stream failed before acknowledgement", "error", err)
		d.writeFrame(conn, logger, protocol.Failure(err.Error()))
		return
	}
	logger.Debug("encoder stream closed")
}

// RunningEncoders returns the pids of live encoders, direct or relayed.
func (d *Dispatcher) RunningEncoders() []int {
	return d.encoders.Running()
}

func (d *Dispatcher) writeFrame(conn net.Conn, logger *slog.Logger, payload []byte) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := frame.Write(conn, payload); err != nil {
		logger.Debug("writing response failed", "error", err)
	}
}

// Close releases the encoders.
func (d *Dispatcher) Close() error {
	return d.encoders.Close()
}
