package appconfig

import (
	logx "idlebot/pkg/logx"
)

// Config is the app-level configuration file (JSON or YAML). Zero values
// get sensible defaults via Normalize.
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Logging  LoggingConfig  `json:"logging"`
	Discord  DiscordConfig  `json:"discord"`
	Watchdog WatchdogConfig `json:"watchdog,omitempty"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Pprof    PprofConfig    `json:"pprof,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr,omitempty"`

	// Rate limiting for mutating control endpoints.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`

	// Console is a pointer so "omitted" defaults to true while an explicit
	// false still disables it.
	Console *bool         `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`

	// RingMinLevel is the lowest level mirrored into the status-line ring.
	RingMinLevel string `json:"ring_min_level,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type DiscordConfig struct {
	// EnvFile holds the DISCORD_TOKEN line.
	EnvFile string `json:"env_file,omitempty"`

	// GuildConfigFile is the per-guild JSON store.
	GuildConfigFile string `json:"guild_config_file,omitempty"`

	CommandPrefix string `json:"command_prefix,omitempty"`
}

// WatchdogConfig controls the scheduled voice-presence check.
type WatchdogConfig struct {
	Enabled bool `json:"enabled,omitempty"`

	// Schedule is a cron spec (robfig/cron syntax, "@every 1m" style works).
	Schedule string `json:"schedule,omitempty"`
}

type StorageConfig struct {
	// Driver selects the audit backend: "file" (JSONL) or "sqlite".
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
}

type PprofConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// Normalize fills defaults in place and returns the config for chaining.
func (c *Config) Normalize() *Config {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":5000"
	}
	if c.HTTP.RatePerSec <= 0 {
		c.HTTP.RatePerSec = 5
	}
	if c.HTTP.Burst <= 0 {
		c.HTTP.Burst = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.RingMinLevel == "" {
		c.Logging.RingMinLevel = "INFO"
	}
	if c.Discord.EnvFile == "" {
		c.Discord.EnvFile = ".env"
	}
	if c.Discord.GuildConfigFile == "" {
		c.Discord.GuildConfigFile = "server_configs.json"
	}
	if c.Discord.CommandPrefix == "" {
		c.Discord.CommandPrefix = "."
	}
	if c.Watchdog.Schedule == "" {
		c.Watchdog.Schedule = "@every 1m"
	}
	return c
}

// LogxConfig maps the logging section onto the logx service config.
func (c *Config) LogxConfig() logx.Config {
	console := true
	if c.Logging.Console != nil {
		console = *c.Logging.Console
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Ring: logx.RingConfig{MinLevel: c.Logging.RingMinLevel},
	}
}
