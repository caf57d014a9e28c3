// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/deskbridge/lib/binhash"
)

// ErrBinaryNotFound means no candidate passed validation.
var ErrBinaryNotFound = errors.New("encoder binary not found")

// defaultProbeTimeout bounds one validation run.
const defaultProbeTimeout = 10 * time.Second

// Binary is a validated encoder executable.
type Binary struct {
	Path   string
	Digest binhash.Digest
}

// Finder resolves the encoder binary to run.
type Finder interface {
	Find(ctx context.Context) (Binary, error)
}

// LocatorOptions configures NewLocator.
type LocatorOptions struct {
	// Binary is probed before anything else when set.
	Binary string

	// Candidates replaces the built-in search list when non-empty.
	// Bare names are looked up on PATH.
	Candidates []string

	// VersionArgs are passed to each candidate; a clean exit marks it
	// usable. Defaults to -version.
	VersionArgs []string

	// ProbeTimeout bounds each validation run. Defaults to 10s.
	ProbeTimeout time.Duration

	Logger *slog.Logger
}

// Locator finds a working encoder binary. Validation results are cached
// per path and keyed on the file's digest, so a binary replaced in place
// is validated again. Safe for concurrent use.
type Locator struct {
	binary       string
	candidates   []string
	versionArgs  []string
	probeTimeout time.Duration
	logger       *slog.Logger

	// probe runs the validation command. Replaced in tests.
	probe func(ctx context.Context, path string) error

	mu        sync.Mutex
	validated map[string]binhash.Digest
}

// NewLocator returns a Locator.
func NewLocator(options LocatorOptions) *Locator {
	locator := &Locator{
		binary:       options.Binary,
		candidates:   options.Candidates,
		versionArgs:  options.VersionArgs,
		probeTimeout: options.ProbeTimeout,
		logger:       options.Logger,
		validated:    make(map[string]binhash.Digest),
	}
	if len(locator.versionArgs) == 0 {
		locator.versionArgs = []string{"-version"}
	}
	if locator.probeTimeout <= 0 {
		locator.probeTimeout = defaultProbeTimeout
	}
	if locator.logger == nil {
		locator.logger = slog.New(slog.DiscardHandler)
	}
	locator.probe = locator.runVersion
	return locator
}

// Find returns the first candidate that exists and validates.
func (l *Locator) Find(ctx context.Context) (Binary, error) {
	var tried []string
	for _, candidate := range l.candidatePaths() {
		path, err := resolve(candidate)
		if err != nil {
			continue
		}
		tried = append(tried, path)

		digest, err := binhash.File(path)
		if err != nil {
			l.logger.Debug("encoder candidate unreadable", "path", path, "error", err)
			continue
		}
		if l.cached(path, digest) {
			return Binary{Path: path, Digest: digest}, nil
		}
		if err := l.probe(ctx, path); err != nil {
			if ctx.Err() != nil {
				return Binary{}, ctx.Err()
			}
			l.logger.Debug("encoder candidate failed validation", "path", path, "error", err)
			continue
		}

		l.mu.Lock()
		l.validated[path] = digest
		l.mu.Unlock()
		l.logger.Info("encoder binary validated", "path", path, "digest", digest.Short())
		return Binary{Path: path, Digest: digest}, nil
	}
	if len(tried) == 0 {
		return Binary{}, fmt.Errorf("%w: no candidate exists", ErrBinaryNotFound)
	}
	return Binary{}, fmt.Errorf("%w: tried %s", ErrBinaryNotFound, strings.Join(tried, ", "))
}

func (l *Locator) cached(path string, digest binhash.Digest) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	known, ok := l.validated[path]
	return ok && known == digest
}

// candidatePaths lists candidates in probe order, without duplicates.
func (l *Locator) candidatePaths() []string {
	var list []string
	if l.binary != "" {
		list = append(list, l.binary)
	}
	if len(l.candidates) > 0 {
		list = append(list, l.candidates...)
	} else {
		list = append(list, builtinCandidates()...)
	}

	seen := make(map[string]bool, len(list))
	unique := list[:0]
	for _, candidate := range list {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		unique = append(unique, candidate)
	}
	return unique
}

// executableName is the encoder's file name on this platform.
func executableName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// builtinCandidates is the search list when none is configured: next to
// our own executable, then PATH, then common install locations.
func builtinCandidates() []string {
	var list []string
	if self, err := os.Executable(); err == nil {
		list = append(list, filepath.Join(filepath.Dir(self), executableName()))
	}
	list = append(list, executableName())
	return append(list, wellKnownPaths()...)
}

func wellKnownPaths() []string {
	if runtime.GOOS != "windows" {
		return []string{"/usr/local/bin/ffmpeg", "/usr/bin/ffmpeg", "/opt/homebrew/bin/ffmpeg"}
	}
	var paths []string
	for _, variable := range []string{"ProgramFiles", "ProgramFiles(x86)", "LOCALAPPDATA"} {
		if root := os.Getenv(variable); root != "" {
			paths = append(paths, filepath.Join(root, "ffmpeg", "bin", "ffmpeg.exe"))
		}
	}
	return append(paths, `C:\ffmpeg\bin\ffmpeg.exe`)
}

// resolve turns a candidate into an existing file path. Bare names are
// looked up on PATH.
func resolve(candidate string) (string, error) {
	if !strings.ContainsAny(candidate, `/\`) {
		return exec.LookPath(candidate)
	}
	info, err := os.Stat(candidate)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", candidate)
	}
	return filepath.Clean(candidate), nil
}

// runVersion runs path with the version arguments and requires a clean
// exit within the probe timeout.
func (l *Locator) runVersion(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, l.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, l.versionArgs...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	cmd.WaitDelay = time.Second
	hideWindow(cmd)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("no exit within %s", l.probeTimeout)
		}
		return err
	}
	return nil
}
