// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		payload string
		want    Command
	}{
		{`{"type":"ping"}`, Ping{}},
		{`{"type":"screenshot"}`, Screenshot{}},
		{`{"type":"mouse_click","x":0.5,"y":0.25}`, MouseClick{Point{0.5, 0.25}}},
		{`{"type":"mouse_right_click","x":0,"y":1}`, MouseRightClick{Point{0, 1}}},
		{`{"type":"mouse_middle_click","x":1,"y":0}`, MouseMiddleClick{Point{1, 0}}},
		{`{"type":"mouse_move","x":0.1,"y":0.9}`, MouseMove{Point{0.1, 0.9}}},
		{`{"type":"mouse_down","x":0.5,"y":0.5,"button":1}`, MouseDown{Point{0.5, 0.5}, ButtonRight}},
		{`{"type":"mouse_up","x":0.5,"y":0.5,"button":0}`, MouseUp{Point{0.5, 0.5}, ButtonLeft}},
		{`{"type":"mouse_wheel","x":0.5,"y":0.5,"delta":-120}`, MouseWheel{Point{0.5, 0.5}, -120}},
		{`{"type":"keyboard","vkCode":13,"isKeyDown":true}`, Keyboard{VKCode: 13, IsKeyDown: true}},
		{`{"type":"keyboard_multi","vkCodes":[17,67],"isKeyDown":false}`, KeyboardMulti{VKCodes: []int{17, 67}}},
		{`{"type":"lock"}`, Lock{}},
		{`{"type":"screen_bounds"}`, ScreenBounds{}},
		{`{"type":"launch_ffmpeg","args":"-f gdigrab -i desktop out.mp4"}`, LaunchFFmpeg{Args: "-f gdigrab -i desktop out.mp4"}},
		{`{"type":"start_ffmpeg","args":"-f gdigrab -i desktop -f mjpeg -"}`, StartFFmpeg{Args: "-f gdigrab -i desktop -f mjpeg -"}},
		{`{"type":"stop_ffmpeg","pid":4242}`, StopFFmpeg{PID: 4242}},
		{`{"type":"enum_windows"}`, EnumWindows{}},
	}
	for _, test := range tests {
		t.Run(test.want.Type(), func(t *testing.T) {
			t.Parallel()
			got, err := DecodeCommand([]byte(test.payload))
			if err != nil {
				t.Fatalf("DecodeCommand(%s): %v", test.payload, err)
			}
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("got %#v, want %#v", got, test.want)
			}
		})
	}
}

func TestEveryTagDecodes(t *testing.T) {
	t.Parallel()

	if got := len(Types()); got != 17 {
		t.Errorf("len(Types()) = %d, want 17", got)
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	t.Parallel()

	_, err := DecodeCommand([]byte(`{"type":"reboot","force":true}`))
	var unknown *UnknownCommandError
	if !errors.As(err, &unknown) {
		t.Fatalf("DecodeCommand = %v, want *UnknownCommandError", err)
	}
	if unknown.Tag != "reboot" {
		t.Errorf("Tag = %q, want reboot", unknown.Tag)
	}
	if err.Error() != `unknown command type "reboot"` {
		t.Errorf("message = %q", err.Error())
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"not json", `ping`, "invalid request"},
		{"not an object", `[1,2]`, "invalid request"},
		{"missing type", `{"x":1}`, "missing required field: type"},
		{"numeric type", `{"type":7}`, "type must be a string"},
		{"missing y", `{"type":"mouse_click","x":0.5}`, "missing required field: y"},
		{"x out of range", `{"type":"mouse_move","x":1.5,"y":0}`, "outside the normalized range"},
		{"negative y", `{"type":"mouse_click","x":0,"y":-0.1}`, "outside the normalized range"},
		{"bad button", `{"type":"mouse_down","x":0,"y":0,"button":7}`, "unknown mouse button"},
		{"vk too large", `{"type":"keyboard","vkCode":256,"isKeyDown":true}`, "outside 0-255"},
		{"vk wrong type", `{"type":"keyboard","vkCode":"a","isKeyDown":true}`, "invalid keyboard request"},
		{"empty multi", `{"type":"keyboard_multi","vkCodes":[],"isKeyDown":true}`, "must not be empty"},
		{"multi out of range", `{"type":"keyboard_multi","vkCodes":[65,300],"isKeyDown":true}`, "outside 0-255"},
		{"empty args", `{"type":"launch_ffmpeg","args":""}`, "args must not be empty"},
		{"missing args", `{"type":"start_ffmpeg"}`, "missing required field: args"},
		{"zero pid", `{"type":"stop_ffmpeg","pid":0}`, "pid must be positive"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeCommand([]byte(test.payload))
			if err == nil {
				t.Fatalf("DecodeCommand(%s) succeeded", test.payload)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, test.wantErr)
			}
		})
	}
}

func TestEncodeCommandRoundTrip(t *testing.T) {
	t.Parallel()

	commands := []Command{
		Ping{},
		MouseWheel{Point{0.25, 0.75}, 240},
		KeyboardMulti{VKCodes: []int{0x11, 0x12, 0x2e}, IsKeyDown: true},
		StartFFmpeg{Args: "-i x -f mjpeg -"},
	}
	for _, command := range commands {
		payload, err := EncodeCommand(command)
		if err != nil {
			t.Fatalf("EncodeCommand(%#v): %v", command, err)
		}
		if !strings.Contains(string(payload), `"type":"`+command.Type()+`"`) {
			t.Errorf("payload %s lacks type tag", payload)
		}
		decoded, err := DecodeCommand(payload)
		if err != nil {
			t.Fatalf("DecodeCommand(%s): %v", payload, err)
		}
		if !reflect.DeepEqual(decoded, command) {
			t.Errorf("round trip: got %#v, want %#v", decoded, command)
		}
	}
}

func TestResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result any
		want   string
	}{
		{"bare", nil, `{"ok":true}`},
		{"ping", PingResult{Version: Version}, `{"ok":true,"version":1}`},
		{"launch", LaunchResult{PID: 99}, `{"ok":true,"pid":99}`},
		{"bounds", Bounds{X: -1920, Y: 0, Width: 3840, Height: 1080}, `{"height":1080,"ok":true,"width":3840,"x":-1920,"y":0}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, err := Success(test.result)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != test.want {
				t.Errorf("Success = %s, want %s", got, test.want)
			}
		})
	}

	if got := string(Failure("no desktop")); got != `{"ok":false,"error":"no desktop"}` {
		t.Errorf("Failure = %s", got)
	}
	if _, err := Success("not an object"); err == nil {
		t.Error("Success with a non-object result should fail")
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	payload, err := Success(WindowList{Windows: []Window{{PID: 10, Title: "Notepad"}, {PID: 11, Title: "Calculator"}}})
	if err != nil {
		t.Fatal(err)
	}
	response, err := DecodeResponse(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !response.OK || len(response.Windows) != 2 || response.Windows[1].Title != "Calculator" {
		t.Errorf("response = %+v", response)
	}

	bounds, err := Success(Bounds{X: 0, Y: -200, Width: 2560, Height: 1640})
	if err != nil {
		t.Fatal(err)
	}
	response, err = DecodeResponse(bounds)
	if err != nil {
		t.Fatal(err)
	}
	if response.Bounds != (Bounds{X: 0, Y: -200, Width: 2560, Height: 1640}) {
		t.Errorf("bounds = %+v", response.Bounds)
	}

	response, err = DecodeResponse(Failure("boom"))
	if err != nil {
		t.Fatal(err)
	}
	if response.OK || response.Error != "boom" {
		t.Errorf("failure response = %+v", response)
	}

	if _, err := DecodeResponse([]byte("IMG:....")); err == nil {
		t.Error("DecodeResponse accepted an image frame")
	}
}
