package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Strategy.Fast != 20 || cfg.Strategy.Slow != 50 {
		t.Errorf("unexpected windows %+v", cfg.Strategy)
	}
	if cfg.Risk.VolTarget != 0.15 || cfg.Risk.StopLossPct != 0.05 || cfg.Risk.TakeProfitPct != 0.10 {
		t.Errorf("unexpected risk defaults %+v", cfg.Risk.Config)
	}
	if cfg.Risk.LiveVolLookback != 120 || cfg.Risk.LiveMinReturns != 10 {
		t.Errorf("unexpected live vol defaults %+v", cfg.Risk)
	}
	if cfg.Execution.InitialCash != 100000 || cfg.Execution.SlippageBps != 1 || cfg.Execution.ExitOnFlat {
		t.Errorf("unexpected execution defaults %+v", cfg.Execution)
	}
	if cfg.Live.PollInterval != 10*time.Second || cfg.Live.HistoryLimit != 5000 {
		t.Errorf("unexpected live defaults %+v", cfg.Live)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
symbol: aapl
strategy:
  fast: 5
  slow: 30
execution:
  initial_cash: 5000
live:
  poll_interval: 3s
`)
	t.Setenv("QUANTBOT_STRATEGY_SLOW", "40")
	t.Setenv("QUANTBOT_TELEGRAM_CHAT_ID", "12345")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--fast", "7", "--feed", "stream"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "file", got: cfg.Symbol, want: "aapl"},
		{name: "flag over file", got: cfg.Strategy.Fast, want: 7},
		{name: "env over file", got: cfg.Strategy.Slow, want: 40},
		{name: "file float", got: cfg.Execution.InitialCash, want: 5000.0},
		{name: "file duration", got: cfg.Live.PollInterval, want: 3 * time.Second},
		{name: "flag string", got: cfg.Live.Feed, want: "stream"},
		{name: "env int64", got: cfg.Telegram.ChatID, want: int64(12345)},
		{name: "unset flag keeps default", got: cfg.Data.Source, want: "csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "empty symbol", mutate: func(c *Config) { c.Symbol = " " }},
		{name: "fast not below slow", mutate: func(c *Config) { c.Strategy.Fast = 50 }},
		{name: "fast too small", mutate: func(c *Config) { c.Strategy.Fast = 1 }},
		{name: "zero cash", mutate: func(c *Config) { c.Execution.InitialCash = 0 }},
		{name: "negative slippage", mutate: func(c *Config) { c.Execution.SlippageBps = -1 }},
		{name: "bad source", mutate: func(c *Config) { c.Data.Source = "s3" }},
		{name: "bad broker", mutate: func(c *Config) { c.Live.Broker = "ib" }},
		{name: "bad feed", mutate: func(c *Config) { c.Live.Feed = "grpc" }},
		{name: "zero poll interval", mutate: func(c *Config) { c.Live.PollInterval = 0 }},
		{name: "bad risk", mutate: func(c *Config) { c.Risk.VolTarget = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", nil)
			if err != nil {
				t.Fatalf("load defaults: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestEveryFlagIsMapped(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)

	fs.VisitAll(func(f *pflag.Flag) {
		if _, ok := flagKeys[f.Name]; !ok {
			t.Errorf("flag %s has no config key", f.Name)
		}
	})
	for name := range flagKeys {
		if fs.Lookup(name) == nil {
			t.Errorf("config key for %s has no flag", name)
		}
	}
}

// ----------------Helper functions----------------

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quantbot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
