// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
)

// PingResult is the ping reply body.
type PingResult struct {
	Version int `json:"version"`
}

// Bounds is the virtual screen rectangle in physical pixels. X and Y
// can be negative when a monitor sits left of or above the primary one.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LaunchResult is the launch_ffmpeg reply body.
type LaunchResult struct {
	PID int `json:"pid"`
}

// Window is one visible top-level window.
type Window struct {
	PID   int    `json:"pid"`
	Title string `json:"title"`
}

// WindowList is the enum_windows reply body.
type WindowList struct {
	Windows []Window `json:"windows"`
}

// Success renders {"ok":true} merged with the fields of result, which
// must encode as a JSON object. A nil result yields just {"ok":true}.
func Success(result any) ([]byte, error) {
	data, err := withField(result, "ok", true)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return data, nil
}

// Failure renders {"ok":false,"error":message}.
func Failure(message string) []byte {
	data, _ := json.Marshal(struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}{false, message})
	return data
}

// Response is the client-side view of any JSON reply. Fields a given
// command does not return stay zero.
type Response struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Version int      `json:"version,omitempty"`
	PID     int      `json:"pid,omitempty"`
	Windows []Window `json:"windows,omitempty"`
	Bounds
}

// DecodeResponse parses a JSON reply payload.
func DecodeResponse(payload []byte) (Response, error) {
	var response Response
	if err := json.Unmarshal(payload, &response); err != nil {
		return Response{}, fmt.Errorf("invalid response: %w", err)
	}
	return response, nil
}
