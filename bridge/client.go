// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/deskbridge/lib/frame"
	"github.com/bureau-foundation/deskbridge/lib/protocol"
)

// ErrNoResponse means the exchange with the agent failed at the
// transport level: nothing listening, a connect timeout, or a missing,
// truncated, or malformed response frame.
var ErrNoResponse = errors.New("no response from desktop agent")

// CommandError is an ok:false reply from the agent.
type CommandError struct {
	// Type is the command tag that failed.
	Type string

	// Message is the agent's error text.
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Type, e.Message)
}

// Dialer opens one connection to the agent.
type Dialer func(ctx context.Context) (net.Conn, error)

// MouseAction selects which mouse command SendMouseEvent sends.
type MouseAction int

const (
	MouseClick MouseAction = iota
	MouseRightClick
	MouseMiddleClick
	MouseMove
	MouseDown
	MouseUp
	MouseWheel
)

// MouseEvent is one pointer operation. X and Y are normalized to 0-1
// across the virtual screen. Button applies to MouseDown and MouseUp;
// Delta to MouseWheel, in multiples of 120 per notch.
type MouseEvent struct {
	Action MouseAction
	X, Y   float64
	Button protocol.MouseButton
	Delta  int
}

func (e MouseEvent) command() (protocol.Command, error) {
	point := protocol.Point{X: e.X, Y: e.Y}
	switch e.Action {
	case MouseClick:
		return protocol.MouseClick{Point: point}, nil
	case MouseRightClick:
		return protocol.MouseRightClick{Point: point}, nil
	case MouseMiddleClick:
		return protocol.MouseMiddleClick{Point: point}, nil
	case MouseMove:
		return protocol.MouseMove{Point: point}, nil
	case MouseDown:
		return protocol.MouseDown{Point: point, Button: e.Button}, nil
	case MouseUp:
		return protocol.MouseUp{Point: point, Button: e.Button}, nil
	case MouseWheel:
		return protocol.MouseWheel{Point: point, Delta: e.Delta}, nil
	}
	return nil, fmt.Errorf("unknown mouse action %d", int(e.Action))
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	// Dial opens a connection to the agent. Required.
	Dial Dialer

	// Lifecycle, when set, is asked to ensure an agent is running
	// before every operation.
	Lifecycle *Lifecycle

	Logger *slog.Logger
}

// Client performs desktop operations through the agent. Every operation
// is one connection carrying one request and one response. Safe for
// concurrent use.
type Client struct {
	dial      Dialer
	lifecycle *Lifecycle
	logger    *slog.Logger

	// closer runs on Close; Open sets it for in-process clients.
	closer func() error

	// warnedVersions records agent protocol versions already reported
	// as mismatched.
	warnedVersions sync.Map
}

// NewClient returns a Client.
func NewClient(options ClientOptions) *Client {
	client := &Client{
		dial:      options.Dial,
		lifecycle: options.Lifecycle,
		logger:    options.Logger,
	}
	if client.logger == nil {
		client.logger = slog.New(slog.DiscardHandler)
	}
	return client
}

// Close releases resources held by an in-process client. It does not
// stop a separate agent process; that exits on its own when idle.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Ping returns the agent's protocol version. A version other than
// protocol.Version is logged once per version and otherwise tolerated:
// commands the agent does not know come back as a CommandError.
func (c *Client) Ping(ctx context.Context) (int, error) {
	response, err := c.call(ctx, protocol.Ping{})
	if err != nil {
		return 0, err
	}
	if response.Version != protocol.Version {
		if _, warned := c.warnedVersions.LoadOrStore(response.Version, true); !warned {
			c.logger.Warn("agent protocol version differs",
				"agent_version", response.Version,
				"client_version", protocol.Version,
			)
		}
	}
	return response.Version, nil
}

// CaptureScreen returns a JPEG of the whole virtual screen.
func (c *Client) CaptureScreen(ctx context.Context) ([]byte, error) {
	command := protocol.Screenshot{}
	payload, err := c.exchange(ctx, command)
	if err != nil {
		return nil, err
	}
	if jpeg, ok := frame.ImageBody(payload); ok {
		return jpeg, nil
	}
	if _, err := c.interpret(command, payload); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: screenshot reply carried no image", ErrNoResponse)
}

// SendMouseEvent injects one pointer operation.
func (c *Client) SendMouseEvent(ctx context.Context, event MouseEvent) error {
	command, err := event.command()
	if err != nil {
		return err
	}
	_, err = c.call(ctx, command)
	return err
}

// SendKey presses or releases one virtual key.
func (c *Client) SendKey(ctx context.Context, code int, down bool) error {
	_, err := c.call(ctx, protocol.Keyboard{VKCode: code, IsKeyDown: down})
	return err
}

// SendKeys presses or releases several virtual keys in one input batch,
// for chords such as Ctrl+C.
func (c *Client) SendKeys(ctx context.Context, codes []int, down bool) error {
	_, err := c.call(ctx, protocol.KeyboardMulti{VKCodes: codes, IsKeyDown: down})
	return err
}

// LockWorkstation locks the interactive session.
func (c *Client) LockWorkstation(ctx context.Context) error {
	_, err := c.call(ctx, protocol.Lock{})
	return err
}

// ScreenBounds returns the virtual screen rectangle in pixels.
func (c *Client) ScreenBounds(ctx context.Context) (protocol.Bounds, error) {
	response, err := c.call(ctx, protocol.ScreenBounds{})
	if err != nil {
		return protocol.Bounds{}, err
	}
	return response.Bounds, nil
}

// EnumWindows lists the visible titled top-level windows.
func (c *Client) EnumWindows(ctx context.Context) ([]protocol.Window, error) {
	response, err := c.call(ctx, protocol.EnumWindows{})
	if err != nil {
		return nil, err
	}
	return response.Windows, nil
}

// LaunchEncoder starts a detached encoder with args and returns its pid.
// The encoder writes wherever args tell it to.
func (c *Client) LaunchEncoder(ctx context.Context, args string) (int, error) {
	response, err := c.call(ctx, protocol.LaunchFFmpeg{Args: args})
	if err != nil {
		return 0, err
	}
	return response.PID, nil
}

// StopEncoder kills an encoder started by LaunchEncoder.
func (c *Client) StopEncoder(ctx context.Context, pid int) error {
	_, err := c.call(ctx, protocol.StopFFmpeg{PID: pid})
	return err
}

// StartEncoderStream starts an encoder whose standard output is relayed
// over the returned reader. args must direct output to stdout ("-").
// Closing the reader kills the encoder; the stream ends when the
// encoder exits. Cancelling ctx aborts the call before the stream is
// established and has no effect afterwards.
func (c *Client) StartEncoderStream(ctx context.Context, args string) (io.ReadCloser, error) {
	command := protocol.StartFFmpeg{Args: args}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	payload, err := c.send(conn, command)
	if !stop() {
		conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := c.interpret(command, payload); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// call runs one exchange and interprets the JSON reply.
func (c *Client) call(ctx context.Context, command protocol.Command) (protocol.Response, error) {
	payload, err := c.exchange(ctx, command)
	if err != nil {
		return protocol.Response{}, err
	}
	return c.interpret(command, payload)
}

func (c *Client) interpret(command protocol.Command, payload []byte) (protocol.Response, error) {
	if frame.IsImage(payload) {
		return protocol.Response{}, fmt.Errorf("%w: unexpected image reply to %s", ErrNoResponse, command.Type())
	}
	response, err := protocol.DecodeResponse(payload)
	if err != nil {
		c.logger.Debug("malformed agent reply", "command", command.Type(), "error", err)
		return protocol.Response{}, fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	if !response.OK {
		return response, &CommandError{Type: command.Type(), Message: response.Error}
	}
	return response, nil
}

// exchange connects, sends command, and returns the raw reply payload.
func (c *Client) exchange(ctx context.Context, command protocol.Command) ([]byte, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()
	payload, err := c.send(conn, command)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return payload, err
}

// connect makes sure an agent is running and dials it.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	if c.lifecycle != nil {
		if err := c.lifecycle.EnsureRunning(ctx); err != nil {
			return nil, err
		}
	}
	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Debug("dialing agent failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	return conn, nil
}

func (c *Client) send(conn net.Conn, command protocol.Command) ([]byte, error) {
	payload, err := writeRead(conn, command)
	if err != nil {
		c.logger.Debug("agent exchange failed", "command", command.Type(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	return payload, nil
}

// roundTrip dials, writes command, and reads one reply frame.
func roundTrip(ctx context.Context, dial Dialer, command protocol.Command) ([]byte, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()
	return writeRead(conn, command)
}

func writeRead(conn net.Conn, command protocol.Command) ([]byte, error) {
	request, err := protocol.EncodeCommand(command)
	if err != nil {
		return nil, err
	}
	if err := frame.Write(conn, request); err != nil {
		return nil, fmt.Errorf("sending %s: %w", command.Type(), err)
	}
	payload, err := frame.Read(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = frame.ErrBrokenPipe
		}
		return nil, fmt.Errorf("reading %s reply: %w", command.Type(), err)
	}
	return payload, nil
}
