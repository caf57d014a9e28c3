// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the messages exchanged between deskbridge
// clients and the agent. Every request is a JSON object whose "type"
// field selects one of the command structs below; DecodeCommand turns a
// frame payload into exactly one of them or an error, so handlers never
// see a half-validated message.
//
// Responses are flat JSON objects: {"ok":true, ...result fields} or
// {"ok":false,"error":"..."}. The agent builds them with Success and
// Failure; clients parse them with DecodeResponse.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Version is reported by ping. Bump it whenever a command's fields or
// response shape change incompatibly.
const Version = 1

// Command is implemented by every request struct.
type Command interface {
	// Type returns the wire tag.
	Type() string
}

// validator is implemented by commands with field constraints beyond
// what JSON decoding checks.
type validator interface {
	validate() error
}

// Wire tags.
const (
	TypePing             = "ping"
	TypeScreenshot       = "screenshot"
	TypeMouseClick       = "mouse_click"
	TypeMouseRightClick  = "mouse_right_click"
	TypeMouseMiddleClick = "mouse_middle_click"
	TypeMouseMove        = "mouse_move"
	TypeMouseDown        = "mouse_down"
	TypeMouseUp          = "mouse_up"
	TypeMouseWheel       = "mouse_wheel"
	TypeKeyboard         = "keyboard"
	TypeKeyboardMulti    = "keyboard_multi"
	TypeLock             = "lock"
	TypeScreenBounds     = "screen_bounds"
	TypeLaunchFFmpeg     = "launch_ffmpeg"
	TypeStartFFmpeg      = "start_ffmpeg"
	TypeStopFFmpeg       = "stop_ffmpeg"
	TypeEnumWindows      = "enum_windows"
)

// Point is a position on the virtual screen in normalized coordinates:
// (0,0) is the top-left corner and (1,1) the bottom-right.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) validate() error {
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
		return fmt.Errorf("coordinates (%g, %g) outside the normalized range 0-1", p.X, p.Y)
	}
	return nil
}

// MouseButton selects the button for mouse_down and mouse_up.
type MouseButton int

const (
	ButtonLeft   MouseButton = 0
	ButtonRight  MouseButton = 1
	ButtonMiddle MouseButton = 2
)

func (b MouseButton) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	default:
		return fmt.Sprintf("button(%d)", int(b))
	}
}

func (b MouseButton) validate() error {
	if b < ButtonLeft || b > ButtonMiddle {
		return fmt.Errorf("unknown mouse button %d", int(b))
	}
	return nil
}

type Ping struct{}

type Screenshot struct{}

type MouseClick struct{ Point }

type MouseRightClick struct{ Point }

type MouseMiddleClick struct{ Point }

type MouseMove struct{ Point }

type MouseDown struct {
	Point
	Button MouseButton `json:"button"`
}

type MouseUp struct {
	Point
	Button MouseButton `json:"button"`
}

// MouseWheel scrolls by Delta, in WHEEL_DELTA units (120 per notch);
// positive scrolls away from the user.
type MouseWheel struct {
	Point
	Delta int `json:"delta"`
}

// Keyboard presses or releases one virtual-key code.
type Keyboard struct {
	VKCode    int  `json:"vkCode"`
	IsKeyDown bool `json:"isKeyDown"`
}

// KeyboardMulti presses or releases several keys in one input batch,
// in order. Chords are sent as a down batch followed by an up batch.
type KeyboardMulti struct {
	VKCodes   []int `json:"vkCodes"`
	IsKeyDown bool  `json:"isKeyDown"`
}

type Lock struct{}

type ScreenBounds struct{}

// LaunchFFmpeg starts a detached encoder. Args is the argument string,
// destination included; the agent does not interpret it.
type LaunchFFmpeg struct {
	Args string `json:"args"`
}

// StartFFmpeg starts an encoder whose stdout is streamed back over the
// requesting connection.
type StartFFmpeg struct {
	Args string `json:"args"`
}

// StopFFmpeg kills an encoder previously started by launch_ffmpeg.
type StopFFmpeg struct {
	PID int `json:"pid"`
}

type EnumWindows struct{}

func (Ping) Type() string             { return TypePing }
func (Screenshot) Type() string       { return TypeScreenshot }
func (MouseClick) Type() string       { return TypeMouseClick }
func (MouseRightClick) Type() string  { return TypeMouseRightClick }
func (MouseMiddleClick) Type() string { return TypeMouseMiddleClick }
func (MouseMove) Type() string        { return TypeMouseMove }
func (MouseDown) Type() string        { return TypeMouseDown }
func (MouseUp) Type() string          { return TypeMouseUp }
func (MouseWheel) Type() string       { return TypeMouseWheel }
func (Keyboard) Type() string         { return TypeKeyboard }
func (KeyboardMulti) Type() string    { return TypeKeyboardMulti }
func (Lock) Type() string             { return TypeLock }
func (ScreenBounds) Type() string     { return TypeScreenBounds }
func (LaunchFFmpeg) Type() string     { return TypeLaunchFFmpeg }
func (StartFFmpeg) Type() string      { return TypeStartFFmpeg }
func (StopFFmpeg) Type() string       { return TypeStopFFmpeg }
func (EnumWindows) Type() string      { return TypeEnumWindows }

func (c MouseDown) validate() error {
	if err := c.Point.validate(); err != nil {
		return err
	}
	return c.Button.validate()
}

func (c MouseUp) validate() error {
	if err := c.Point.validate(); err != nil {
		return err
	}
	return c.Button.validate()
}

func (c Keyboard) validate() error {
	return validateVirtualKey(c.VKCode)
}

func (c KeyboardMulti) validate() error {
	if len(c.VKCodes) == 0 {
		return errors.New("vkCodes must not be empty")
	}
	for _, code := range c.VKCodes {
		if err := validateVirtualKey(code); err != nil {
			return err
		}
	}
	return nil
}

func (c LaunchFFmpeg) validate() error { return validateArgs(c.Args) }
func (c StartFFmpeg) validate() error  { return validateArgs(c.Args) }

func (c StopFFmpeg) validate() error {
	if c.PID <= 0 {
		return fmt.Errorf("pid must be positive, got %d", c.PID)
	}
	return nil
}

func validateVirtualKey(code int) error {
	if code < 0 || code > 255 {
		return fmt.Errorf("vkCode %d outside 0-255", code)
	}
	return nil
}

func validateArgs(args string) error {
	if args == "" {
		return errors.New("args must not be empty")
	}
	return nil
}

// commandEntry describes one tag: how to decode it and which fields must
// be present.
type commandEntry struct {
	decode   func([]byte) (Command, error)
	required []string
}

func decodeAs[C Command](data []byte) (Command, error) {
	var command C
	if err := json.Unmarshal(data, &command); err != nil {
		return nil, err
	}
	return command, nil
}

var pointFields = []string{"x", "y"}

var commands = map[string]commandEntry{
	TypePing:             {decode: decodeAs[Ping]},
	TypeScreenshot:       {decode: decodeAs[Screenshot]},
	TypeMouseClick:       {decode: decodeAs[MouseClick], required: pointFields},
	TypeMouseRightClick:  {decode: decodeAs[MouseRightClick], required: pointFields},
	TypeMouseMiddleClick: {decode: decodeAs[MouseMiddleClick], required: pointFields},
	TypeMouseMove:        {decode: decodeAs[MouseMove], required: pointFields},
	TypeMouseDown:        {decode: decodeAs[MouseDown], required: []string{"x", "y", "button"}},
	TypeMouseUp:          {decode: decodeAs[MouseUp], required: []string{"x", "y", "button"}},
	TypeMouseWheel:       {decode: decodeAs[MouseWheel], required: []string{"x", "y", "delta"}},
	TypeKeyboard:         {decode: decodeAs[Keyboard], required: []string{"vkCode", "isKeyDown"}},
	TypeKeyboardMulti:    {decode: decodeAs[KeyboardMulti], required: []string{"vkCodes", "isKeyDown"}},
	TypeLock:             {decode: decodeAs[Lock]},
	TypeScreenBounds:     {decode: decodeAs[ScreenBounds]},
	TypeLaunchFFmpeg:     {decode: decodeAs[LaunchFFmpeg], required: []string{"args"}},
	TypeStartFFmpeg:      {decode: decodeAs[StartFFmpeg], required: []string{"args"}},
	TypeStopFFmpeg:       {decode: decodeAs[StopFFmpeg], required: []string{"pid"}},
	TypeEnumWindows:      {decode: decodeAs[EnumWindows]},
}

// Types returns every known tag in sorted order.
func Types() []string {
	tags := make([]string, 0, len(commands))
	for tag := range commands {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// UnknownCommandError reports a well-formed request with a tag this
// version does not implement.
type UnknownCommandError struct {
	Tag string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command type %q", e.Tag)
}

// DecodeCommand parses one request payload into its command struct.
func DecodeCommand(payload []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	rawTag, ok := fields["type"]
	if !ok {
		return nil, errors.New("invalid request: missing required field: type")
	}
	var tag string
	if err := json.Unmarshal(rawTag, &tag); err != nil {
		return nil, fmt.Errorf("invalid request: type must be a string: %w", err)
	}

	entry, known := commands[tag]
	if !known {
		return nil, &UnknownCommandError{Tag: tag}
	}
	for _, name := range entry.required {
		if _, present := fields[name]; !present {
			return nil, fmt.Errorf("invalid %s request: missing required field: %s", tag, name)
		}
	}
	command, err := entry.decode(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid %s request: %w", tag, err)
	}
	if check, ok := command.(validator); ok {
		if err := check.validate(); err != nil {
			return nil, fmt.Errorf("invalid %s request: %w", tag, err)
		}
	}
	return command, nil
}

// EncodeCommand renders command as a request payload with its type tag.
func EncodeCommand(command Command) ([]byte, error) {
	return withField(command, "type", command.Type())
}

// withField marshals value as a JSON object and adds one top-level key.
func withField(value any, key string, extra any) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%T does not encode as a JSON object: %w", value, err)
		}
	}
	encoded, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}
	fields[key] = encoded
	return json.Marshal(fields)
}
