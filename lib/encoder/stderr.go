// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encoder

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// tailLines is how many trailing stderr lines are kept for error
// reports.
const tailLines = 8

// maxLineLength caps a single buffered stderr line. The encoder rewrites
// its progress line with carriage returns, which can grow without bound.
const maxLineLength = 4096

// stderrLog is the encoder's stderr. Each line is logged at debug level
// and the last few are kept for the error returned on early exit.
type stderrLog struct {
	logger *slog.Logger

	mu      sync.Mutex
	partial []byte
	tail    []string
}

func newStderrLog(logger *slog.Logger) *stderrLog {
	return &stderrLog{logger: logger}
}

// setLogger replaces the logger once the pid is known.
func (s *stderrLog) setLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

func (s *stderrLog) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partial = append(s.partial, data...)
	for {
		index := bytes.IndexAny(s.partial, "\r\n")
		if index < 0 {
			break
		}
		s.line(string(s.partial[:index]))
		s.partial = s.partial[index+1:]
	}
	if len(s.partial) > maxLineLength {
		s.line(string(s.partial))
		s.partial = nil
	}
	return len(data), nil
}

// line must be called with mu held.
func (s *stderrLog) line(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.logger.Debug("encoder stderr", "line", text)
	s.tail = append(s.tail, text)
	if len(s.tail) > tailLines {
		s.tail = s.tail[len(s.tail)-tailLines:]
	}
}

// Tail returns the retained lines, including an unterminated last line.
func (s *stderrLog) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := append([]string(nil), s.tail...)
	if last := strings.TrimSpace(string(s.partial)); last != "" {
		lines = append(lines, last)
	}
	return strings.Join(lines, "\n")
}
