// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/bureau-foundation/deskbridge/agent"
	"github.com/bureau-foundation/deskbridge/lib/channel"
	"github.com/bureau-foundation/deskbridge/lib/desktop"
	"github.com/bureau-foundation/deskbridge/lib/frame"
	"github.com/bureau-foundation/deskbridge/lib/protocol"
)

// stubEncoders answers encoder commands without starting processes.
type stubEncoders struct{}

func (stubEncoders) LaunchDirect(context.Context, string) (int, error) { return 7001, nil }
func (stubEncoders) Stop(int) error                                   { return nil }
func (stubEncoders) Relay(context.Context, string, net.Conn, func() error) error {
	return errors.New("no encoder in tests")
}
func (stubEncoders) Running() []int { return nil }
func (stubEncoders) Close() error   { return nil }

func newLocalClient(t *testing.T, fake *desktop.Fake) *Client {
	t.Helper()
	client := openLocal(agent.NewDispatcher(fake, stubEncoders{}, nil), nil)
	t.Cleanup(func() { client.Close() })
	return client
}

// scriptedAgent returns a Dialer whose agent reads one request and then
// runs reply on the connection.
func scriptedAgent(reply func(conn net.Conn)) Dialer {
	return func(context.Context) (net.Conn, error) {
		clientEnd, agentEnd := net.Pipe()
		go func() {
			defer agentEnd.Close()
			if _, err := frame.Read(agentEnd); err != nil {
				return
			}
			reply(agentEnd)
		}()
		return clientEnd, nil
	}
}

func TestClientOperations(t *testing.T) {
	t.Parallel()

	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0}
	fake := &desktop.Fake{
		Screenshot: jpeg,
		Bounds:     protocol.Bounds{Width: 1920, Height: 1080},
		WindowList: []protocol.Window{{PID: 12, Title: "Task Manager"}},
	}
	client := newLocalClient(t, fake)
	ctx := context.Background()

	version, err := client.Ping(ctx)
	if err != nil || version != protocol.Version {
		t.Fatalf("Ping = %d, %v; want %d", version, err, protocol.Version)
	}

	image, err := client.CaptureScreen(ctx)
	if err != nil {
		t.Fatalf("CaptureScreen: %v", err)
	}
	if !bytes.Equal(image, jpeg) {
		t.Errorf("CaptureScreen = % x, want % x without the image prefix", image, jpeg)
	}

	if err := client.SendMouseEvent(ctx, MouseEvent{Action: MouseDown, X: 0.5, Y: 0.5, Button: protocol.ButtonRight}); err != nil {
		t.Fatalf("SendMouseEvent down: %v", err)
	}
	if err := client.SendMouseEvent(ctx, MouseEvent{Action: MouseWheel, X: 0.5, Y: 0.5, Delta: 240}); err != nil {
		t.Fatalf("SendMouseEvent wheel: %v", err)
	}
	if err := client.SendKey(ctx, 13, true); err != nil {
		t.Fatalf("SendKey: %v", err)
	}
	if err := client.SendKeys(ctx, []int{17, 67}, true); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}
	if err := client.LockWorkstation(ctx); err != nil {
		t.Fatalf("LockWorkstation: %v", err)
	}

	bounds, err := client.ScreenBounds(ctx)
	if err != nil || bounds != fake.Bounds {
		t.Errorf("ScreenBounds = %+v, %v; want %+v", bounds, err, fake.Bounds)
	}
	windows, err := client.EnumWindows(ctx)
	if err != nil || len(windows) != 1 || windows[0].Title != "Task Manager" {
		t.Errorf("EnumWindows = %+v, %v", windows, err)
	}

	pid, err := client.LaunchEncoder(ctx, "-f gdigrab -i desktop out.mp4")
	if err != nil || pid != 7001 {
		t.Errorf("LaunchEncoder = %d, %v; want 7001", pid, err)
	}
	if err := client.StopEncoder(ctx, pid); err != nil {
		t.Errorf("StopEncoder: %v", err)
	}

	want := []string{
		"capture",
		"down right 0.5,0.5",
		"wheel 240 0.5,0.5",
		"key down 13",
		"keys down [17 67]",
		"lock",
		"bounds",
		"windows",
	}
	if got := fake.Calls(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("desktop calls = %q, want %q", got, want)
	}
}

func TestCommandError(t *testing.T) {
	t.Parallel()

	client := newLocalClient(t, &desktop.Fake{Err: errors.New("access denied")})
	err := client.LockWorkstation(context.Background())

	var commandErr *CommandError
	if !errors.As(err, &commandErr) {
		t.Fatalf("LockWorkstation error = %v, want *CommandError", err)
	}
	if commandErr.Type != protocol.TypeLock || commandErr.Message != "access denied" {
		t.Errorf("CommandError = %+v", commandErr)
	}
	if errors.Is(err, ErrNoResponse) {
		t.Error("a command failure must not read as a transport failure")
	}

	if _, err := client.CaptureScreen(context.Background()); !errors.As(err, &commandErr) {
		t.Errorf("CaptureScreen error = %v, want *CommandError", err)
	}
}

func TestOversizedScreenshotIsCommandError(t *testing.T) {
	t.Parallel()

	client := newLocalClient(t, &desktop.Fake{Screenshot: make([]byte, frame.MaxSize)})
	_, err := client.CaptureScreen(context.Background())

	var commandErr *CommandError
	if !errors.As(err, &commandErr) {
		t.Fatalf("CaptureScreen error = %v, want *CommandError", err)
	}
	if commandErr.Type != protocol.TypeScreenshot {
		t.Errorf("CommandError type = %q, want %q", commandErr.Type, protocol.TypeScreenshot)
	}
	if errors.Is(err, ErrNoResponse) {
		t.Error("an oversized screenshot must not read as a transport failure")
	}
}

func TestInvalidMouseAction(t *testing.T) {
	t.Parallel()

	client := newLocalClient(t, &desktop.Fake{})
	if err := client.SendMouseEvent(context.Background(), MouseEvent{Action: MouseAction(99)}); err == nil {
		t.Fatal("unknown mouse action accepted")
	}
}

func TestNoResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dial Dialer
	}{
		{
			name: "nothing listening",
			dial: func(context.Context) (net.Conn, error) { return nil, channel.ErrNotListening },
		},
		{
			name: "closed without reply",
			dial: scriptedAgent(func(net.Conn) {}),
		},
		{
			name: "truncated reply",
			dial: scriptedAgent(func(conn net.Conn) { conn.Write([]byte{0x10, 0, 0, 0, '{'}) }),
		},
		{
			name: "malformed reply",
			dial: scriptedAgent(func(conn net.Conn) { frame.Write(conn, []byte("<html>")) }),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			client := NewClient(ClientOptions{Dial: test.dial})
			_, err := client.Ping(context.Background())
			if !errors.Is(err, ErrNoResponse) {
				t.Errorf("Ping error = %v, want ErrNoResponse", err)
			}
		})
	}
}

func TestVersionMismatchWarnsOnce(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	client := NewClient(ClientOptions{
		Dial: scriptedAgent(func(conn net.Conn) {
			frame.Write(conn, []byte(`{"ok":true,"version":2}`))
		}),
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	})

	for range 3 {
		version, err := client.Ping(context.Background())
		if err != nil {
			t.Fatalf("Ping: %v", err)
		}
		if version != 2 {
			t.Errorf("version = %d, want 2", version)
		}
	}
	if count := strings.Count(logs.String(), "agent protocol version differs"); count != 1 {
		t.Errorf("mismatch logged %d times, want once:\n%s", count, logs.String())
	}
}

func TestStartEncoderStream(t *testing.T) {
	t.Parallel()

	client := NewClient(ClientOptions{
		Dial: scriptedAgent(func(conn net.Conn) {
			frame.Write(conn, []byte(`{"ok":true}`))
			conn.Write([]byte("\x47\x40\x00"))
			conn.Write([]byte("\x47\x40\x01"))
		}),
	})

	stream, err := client.StartEncoderStream(context.Background(), "-f gdigrab -i desktop -f mpegts -")
	if err != nil {
		t.Fatalf("StartEncoderStream: %v", err)
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(data) != "\x47\x40\x00\x47\x40\x01" {
		t.Errorf("stream = %q", data)
	}
}

func TestStartEncoderStreamFailure(t *testing.T) {
	t.Parallel()

	client := NewClient(ClientOptions{
		Dial: scriptedAgent(func(conn net.Conn) {
			frame.Write(conn, protocol.Failure("encoder exited during startup (exit status 1)"))
		}),
	})
	_, err := client.StartEncoderStream(context.Background(), "-bogus -")
	var commandErr *CommandError
	if !errors.As(err, &commandErr) || commandErr.Type != protocol.TypeStartFFmpeg {
		t.Fatalf("error = %v, want start_ffmpeg CommandError", err)
	}
}

func TestCancelledCallReturnsContextError(t *testing.T) {
	t.Parallel()

	// The agent reads the request and never answers.
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	client := NewClient(ClientOptions{
		Dial: scriptedAgent(func(net.Conn) { <-hang }),
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := client.Ping(ctx)
		result <- err
	}()
	cancel()
	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Errorf("Ping error = %v, want context.Canceled", err)
	}
}
