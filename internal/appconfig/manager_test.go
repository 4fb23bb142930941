package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"idlebot/pkg/logx"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"http": {"addr": ":8080", "rate_per_sec": 2, "burst": 4},
		"logging": {"level": "DEBUG"},
		"discord": {"env_file": "/etc/bot/.env", "command_prefix": "!"},
		"watchdog": {"enabled": true, "schedule": "@every 30s"},
		"storage": {"driver": "file", "path": "audit.jsonl"}
	}`)

	cfg, err := NewManager(path, logx.Nop()).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.HTTP.RatePerSec != 2 || cfg.HTTP.Burst != 4 {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Discord.EnvFile != "/etc/bot/.env" || cfg.Discord.CommandPrefix != "!" {
		t.Errorf("discord = %+v", cfg.Discord)
	}
	if !cfg.Watchdog.Enabled || cfg.Watchdog.Schedule != "@every 30s" {
		t.Errorf("watchdog = %+v", cfg.Watchdog)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	// Untouched sections still get defaults.
	if cfg.Discord.GuildConfigFile != "server_configs.json" {
		t.Errorf("guild config file = %q", cfg.Discord.GuildConfigFile)
	}
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
http:
  addr: ":9090"
logging:
  level: WARN
  console: false
discord:
  command_prefix: "?"
`)

	cfg, err := NewManager(path, logx.Nop()).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Logging.Console == nil || *cfg.Logging.Console {
		t.Errorf("console = %v, want explicit false", cfg.Logging.Console)
	}
	if cfg.Discord.CommandPrefix != "?" {
		t.Errorf("prefix = %q", cfg.Discord.CommandPrefix)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json", `{"http": {"adress": ":8080"}}`)

	if _, err := NewManager(path, logx.Nop()).Parse(); err == nil {
		t.Fatal("unknown field accepted")
	} else if !strings.Contains(err.Error(), "adress") {
		t.Errorf("err = %v, want field name in message", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"http": {"addr": ":8080"}} {"extra": true}`)

	if _, err := NewManager(path, logx.Nop()).Parse(); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope.json"), logx.Nop())

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":5000" {
		t.Errorf("addr = %q, want :5000", cfg.HTTP.Addr)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get does not return the committed config")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := (&Config{}).Normalize()

	if cfg.HTTP.Addr != ":5000" || cfg.HTTP.RatePerSec != 5 || cfg.HTTP.Burst != 10 {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.Logging.Level != "INFO" || cfg.Logging.RingMinLevel != "INFO" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Discord.EnvFile != ".env" || cfg.Discord.GuildConfigFile != "server_configs.json" ||
		cfg.Discord.CommandPrefix != "." {
		t.Errorf("discord = %+v", cfg.Discord)
	}
	if cfg.Watchdog.Schedule != "@every 1m" {
		t.Errorf("watchdog schedule = %q", cfg.Watchdog.Schedule)
	}
	if cfg.Storage != nil {
		t.Errorf("storage = %+v, want nil (disabled)", cfg.Storage)
	}
}

func TestSubscribePublishDropsOldest(t *testing.T) {
	m := NewManager("unused.json", logx.Nop())
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := (&Config{HTTP: HTTPConfig{Addr: ":1"}}).Normalize()
	second := (&Config{HTTP: HTTPConfig{Addr: ":2"}}).Normalize()
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.HTTP.Addr != ":2" {
		t.Errorf("delivered addr = %q, want the latest (:2)", got.HTTP.Addr)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second delivery: %+v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager("unused.json", logx.Nop())
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	m.publish((&Config{}).Normalize())
}

func TestLogxConfigMapping(t *testing.T) {
	off := false
	cfg := (&Config{Logging: LoggingConfig{
		Level:        "DEBUG",
		Console:      &off,
		File:         FileLogConfig{Enabled: true, Path: "bot.log"},
		RingMinLevel: "WARN",
	}}).Normalize()

	lc := cfg.LogxConfig()
	if lc.Level != "DEBUG" || lc.Console || !lc.File.Enabled || lc.File.Path != "bot.log" ||
		lc.Ring.MinLevel != "WARN" {
		t.Errorf("logx config = %+v", lc)
	}
}
