// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/deskbridge/lib/sealed"
)

// EnvironmentVariable names the variable holding the config file path.
const EnvironmentVariable = "DESKBRIDGE_CONFIG"

// Config is the complete deskbridge configuration.
type Config struct {
	// StateDir holds the launch record and the launch lock file.
	StateDir string `yaml:"state_dir"`

	Channel          ChannelConfig    `yaml:"channel"`
	Agent            AgentConfig      `yaml:"agent"`
	Launcher         LauncherConfig   `yaml:"launcher"`
	Encoder          EncoderConfig    `yaml:"encoder"`
	Capture          CaptureConfig    `yaml:"capture"`
	ElevatedIdentity ElevatedIdentity `yaml:"elevated_identity"`
}

// ChannelConfig names the IPC endpoint shared by clients and the agent.
type ChannelConfig struct {
	// Name is the pipe name on Windows (\\.\pipe\<name>) and the socket
	// file stem elsewhere. On Unix an absolute path names the socket
	// file directly.
	Name string `yaml:"name"`

	// ConnectTimeout bounds each dial.
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// AgentConfig controls the agent process and how clients wait for it.
type AgentConfig struct {
	// IdleTimeout is how long the agent stays up without accepting a
	// connection before shutting itself down.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// IdleCheckInterval is how often the agent compares the last
	// activity time against IdleTimeout.
	IdleCheckInterval Duration `yaml:"idle_check_interval"`

	// AcceptLoops is the number of concurrent accept-loop instances
	// serving the channel.
	AcceptLoops int `yaml:"accept_loops"`

	// PingTimeout bounds each liveness probe.
	PingTimeout Duration `yaml:"ping_timeout"`

	// LaunchTimeout bounds the wait for a freshly launched agent to
	// answer a ping.
	LaunchTimeout Duration `yaml:"launch_timeout"`

	// PollInterval spaces liveness probes while waiting for a launch.
	PollInterval Duration `yaml:"poll_interval"`
}

// LauncherConfig controls how the agent is started in the user session.
type LauncherConfig struct {
	// PreferElevated borrows the token of a high-integrity process in
	// the session when one exists.
	PreferElevated bool `yaml:"prefer_elevated"`
}

// EncoderConfig controls discovery and supervision of the encoder.
type EncoderConfig struct {
	// Binary, when set, is probed before every built-in candidate.
	Binary string `yaml:"binary"`

	// Candidates replaces the built-in candidate list when non-empty.
	Candidates []string `yaml:"candidates"`

	// VersionArgs are passed when validating a candidate.
	VersionArgs []string `yaml:"version_args"`

	// GraceWindow is how long relay mode waits for an early exit
	// before acknowledging the stream.
	GraceWindow Duration `yaml:"grace_window"`

	// KillTimeout bounds the wait for a killed encoder tree to exit.
	KillTimeout Duration `yaml:"kill_timeout"`
}

// CaptureConfig controls screenshots.
type CaptureConfig struct {
	// JPEGQuality is 1-100.
	JPEGQuality int `yaml:"jpeg_quality"`
}

// ElevatedIdentity is the account the logon-task collaborator registers
// so an elevated agent starts at the next login. deskbridge only loads
// and exposes it.
type ElevatedIdentity struct {
	Username string `yaml:"username"`
	Domain   string `yaml:"domain"`

	// PasswordFile holds the password, plaintext or age-sealed.
	PasswordFile string `yaml:"password_file"`

	// IdentityFile is the age identity that opens a sealed PasswordFile.
	IdentityFile string `yaml:"identity_file"`
}

// Configured reports whether an elevated identity was provided.
func (e ElevatedIdentity) Configured() bool {
	return e.Username != ""
}

// Account returns DOMAIN\user, or just user without a domain.
func (e ElevatedIdentity) Account() string {
	if e.Domain == "" {
		return e.Username
	}
	return e.Domain + `\` + e.Username
}

// Password reads the password, opening it with the identity file when
// sealed. The caller should discard the slice as soon as it is used.
func (e ElevatedIdentity) Password() ([]byte, error) {
	if !e.Configured() {
		return nil, errors.New("no elevated identity configured")
	}
	return sealed.ReadSecretFile(e.PasswordFile, e.IdentityFile)
}

// Duration is a time.Duration written as a Go duration string ("90s",
// "10m") in YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StateDir: defaultStateDir(),
		Channel: ChannelConfig{
			Name:           "deskbridge-agent",
			ConnectTimeout: Duration(2 * time.Second),
		},
		Agent: AgentConfig{
			IdleTimeout:       Duration(30 * time.Minute),
			IdleCheckInterval: Duration(time.Minute),
			AcceptLoops:       4,
			PingTimeout:       Duration(2 * time.Second),
			LaunchTimeout:     Duration(10 * time.Second),
			PollInterval:      Duration(500 * time.Millisecond),
		},
		Launcher: LauncherConfig{PreferElevated: true},
		Encoder: EncoderConfig{
			VersionArgs: []string{"-version"},
			GraceWindow: Duration(500 * time.Millisecond),
			KillTimeout: Duration(5 * time.Second),
		},
		Capture: CaptureConfig{JPEGQuality: 75},
	}
}

func defaultStateDir() string {
	if runtime.GOOS == "windows" {
		return expand(`${PROGRAMDATA:-C:\ProgramData}\deskbridge`)
	}
	return filepath.Join(os.TempDir(), "deskbridge")
}

// Load reads the file named by DESKBRIDGE_CONFIG, or returns Default
// when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, expands variables, and
// validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are rejected so a
// misspelled option fails loudly instead of silently keeping a default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	// An empty file decodes to io.EOF and means "all defaults".
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.StateDir = expand(cfg.StateDir)
	cfg.Encoder.Binary = expand(cfg.Encoder.Binary)
	for index, candidate := range cfg.Encoder.Candidates {
		cfg.Encoder.Candidates[index] = expand(candidate)
	}
	cfg.ElevatedIdentity.PasswordFile = expand(cfg.ElevatedIdentity.PasswordFile)
	cfg.ElevatedIdentity.IdentityFile = expand(cfg.ElevatedIdentity.IdentityFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	switch {
	case c.StateDir == "":
		return errors.New("state_dir must not be empty")
	case c.Channel.Name == "":
		return errors.New("channel.name must not be empty")
	case strings.ContainsAny(c.Channel.Name, `/\`) && !filepath.IsAbs(c.Channel.Name):
		return fmt.Errorf("channel.name %q must be a bare name or an absolute socket path", c.Channel.Name)
	case c.Channel.ConnectTimeout <= 0:
		return errors.New("channel.connect_timeout must be positive")
	case c.Agent.IdleTimeout <= 0:
		return errors.New("agent.idle_timeout must be positive")
	case c.Agent.IdleCheckInterval <= 0:
		return errors.New("agent.idle_check_interval must be positive")
	case c.Agent.AcceptLoops < 1 || c.Agent.AcceptLoops > 64:
		return fmt.Errorf("agent.accept_loops must be between 1 and 64, got %d", c.Agent.AcceptLoops)
	case c.Agent.PingTimeout <= 0:
		return errors.New("agent.ping_timeout must be positive")
	case c.Agent.LaunchTimeout <= 0:
		return errors.New("agent.launch_timeout must be positive")
	case c.Agent.PollInterval <= 0:
		return errors.New("agent.poll_interval must be positive")
	case c.Encoder.GraceWindow < 0:
		return errors.New("encoder.grace_window must not be negative")
	case c.Encoder.KillTimeout <= 0:
		return errors.New("encoder.kill_timeout must be positive")
	case c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100:
		return fmt.Errorf("capture.jpeg_quality must be between 1 and 100, got %d", c.Capture.JPEGQuality)
	case c.ElevatedIdentity.Configured() && c.ElevatedIdentity.PasswordFile == "":
		return errors.New("elevated_identity.password_file is required when username is set")
	}
	return nil
}

var variablePattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expand substitutes ${NAME} and ${NAME:-fallback} from the environment.
func expand(text string) string {
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(parts[1]); ok && value != "" {
			return value
		}
		return parts[2]
	})
}
