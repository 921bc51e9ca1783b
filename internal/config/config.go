// Package config loads the sm daemon configuration from a TOML file and
// fills in defaults for anything not set. A missing config file is not an
// error; the defaults describe a working single-host setup.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultAPIURL is where clients reach the daemon unless SM_API_URL
	// overrides it.
	DefaultAPIURL = "http://127.0.0.1:8420"
	// DefaultStateDir holds the state file and database by default.
	DefaultStateDir = "/tmp/claude-sessions"

	// EnvAPIURL overrides the daemon address for CLI and hook scripts.
	EnvAPIURL = "SM_API_URL"
	// EnvSessionID identifies the calling session in hook scripts.
	EnvSessionID = "CLAUDE_SESSION_MANAGER_ID"
	// EnvConfig overrides the config file path.
	EnvConfig = "SM_CONFIG"
)

// Duration unmarshals TOML strings like "5s" or "10m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full daemon configuration.
type Config struct {
	Server     Server     `toml:"server"`
	Tmux       Tmux       `toml:"tmux"`
	Monitor    Monitor    `toml:"monitor"`
	Queue      Queue      `toml:"queue"`
	ParentWake ParentWake `toml:"parent_wake"`
}

// Server holds the listen address and on-disk paths.
type Server struct {
	Addr      string `toml:"addr"`
	StateFile string `toml:"state_file"`
	DBPath    string `toml:"db_path"`
	ObsLog    string `toml:"obs_log"`
}

// Tmux holds subprocess timeouts for pane operations.
type Tmux struct {
	SendText Duration `toml:"send_text_timeout"`
	Capture  Duration `toml:"capture_timeout"`
}

// Monitor tunes the per-session output watchers.
type Monitor struct {
	CaptureInterval    Duration `toml:"capture_interval"`
	StableWindow       Duration `toml:"stable_window"`
	IdleCooldown       Duration `toml:"idle_cooldown"`
	PermissionDebounce Duration `toml:"permission_debounce"`
}

// Queue tunes message delivery and retries.
type Queue struct {
	PollInterval Duration `toml:"poll_interval"`
	RetryBase    Duration `toml:"retry_base"`
	RetryCap     Duration `toml:"retry_cap"`
	MaxAttempts  int      `toml:"max_attempts"`
}

// ParentWake tunes the child-progress digest scheduler.
type ParentWake struct {
	Period          Duration `toml:"period"`
	EscalatedPeriod Duration `toml:"escalated_period"`
	PollInterval    Duration `toml:"poll_interval"`
	ActivityTail    int      `toml:"activity_tail"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:      "127.0.0.1:8420",
			StateFile: filepath.Join(DefaultStateDir, "sessions.json"),
			DBPath:    filepath.Join(DefaultStateDir, "sm.db"),
			ObsLog:    filepath.Join(DefaultStateDir, "tool-events.jsonl"),
		},
		Tmux: Tmux{
			SendText: Duration(2 * time.Second),
			Capture:  Duration(5 * time.Second),
		},
		Monitor: Monitor{
			CaptureInterval:    Duration(1 * time.Second),
			StableWindow:       Duration(2 * time.Second),
			IdleCooldown:       Duration(300 * time.Second),
			PermissionDebounce: Duration(30 * time.Second),
		},
		Queue: Queue{
			PollInterval: Duration(5 * time.Second),
			RetryBase:    Duration(1 * time.Second),
			RetryCap:     Duration(30 * time.Second),
			MaxAttempts:  5,
		},
		ParentWake: ParentWake{
			Period:          Duration(600 * time.Second),
			EscalatedPeriod: Duration(300 * time.Second),
			PollInterval:    Duration(10 * time.Second),
			ActivityTail:    5,
		},
	}
}

// DefaultPath returns the config file location, honoring SM_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/etc", "sm", "config.toml")
	}
	return filepath.Join(home, ".config", "sm", "config.toml")
}

// Load reads the config at path. A missing file yields the defaults;
// fields absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores zero-valued fields that TOML left unset.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.StateFile == "" {
		c.Server.StateFile = def.Server.StateFile
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = def.Server.DBPath
	}
	if c.Server.ObsLog == "" {
		c.Server.ObsLog = def.Server.ObsLog
	}
	if c.Tmux.SendText == 0 {
		c.Tmux.SendText = def.Tmux.SendText
	}
	if c.Tmux.Capture == 0 {
		c.Tmux.Capture = def.Tmux.Capture
	}
	if c.Monitor.CaptureInterval == 0 {
		c.Monitor.CaptureInterval = def.Monitor.CaptureInterval
	}
	if c.Monitor.StableWindow == 0 {
		c.Monitor.StableWindow = def.Monitor.StableWindow
	}
	if c.Monitor.IdleCooldown == 0 {
		c.Monitor.IdleCooldown = def.Monitor.IdleCooldown
	}
	if c.Monitor.PermissionDebounce == 0 {
		c.Monitor.PermissionDebounce = def.Monitor.PermissionDebounce
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = def.Queue.PollInterval
	}
	if c.Queue.RetryBase == 0 {
		c.Queue.RetryBase = def.Queue.RetryBase
	}
	if c.Queue.RetryCap == 0 {
		c.Queue.RetryCap = def.Queue.RetryCap
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = def.Queue.MaxAttempts
	}
	if c.ParentWake.Period == 0 {
		c.ParentWake.Period = def.ParentWake.Period
	}
	if c.ParentWake.EscalatedPeriod == 0 {
		c.ParentWake.EscalatedPeriod = def.ParentWake.EscalatedPeriod
	}
	if c.ParentWake.PollInterval == 0 {
		c.ParentWake.PollInterval = def.ParentWake.PollInterval
	}
	if c.ParentWake.ActivityTail == 0 {
		c.ParentWake.ActivityTail = def.ParentWake.ActivityTail
	}
}

// APIURL returns the daemon base URL for clients, honoring SM_API_URL.
func APIURL() string {
	if u := os.Getenv(EnvAPIURL); u != "" {
		return u
	}
	return DefaultAPIURL
}
