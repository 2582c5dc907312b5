package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadDefaults checks defaults apply when the file is missing.
func TestLoadDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	ServerFlags(fs)
	if err := fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.PingPeriod != 54*time.Second || cfg.ReadLimit != 32768 || cfg.SendBuffer != 256 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.RateLimit.Limit != 50 || cfg.RateLimit.Interval != time.Second {
		t.Errorf("rate limit defaults = %+v", cfg.RateLimit)
	}
	if cfg.Secret == "" {
		t.Error("secret should fall back to a default")
	}
	if cfg.PongWait() <= cfg.PingPeriod {
		t.Error("pong wait must exceed ping period")
	}
}

// TestLoadFileAndFlags checks the file overrides defaults and set flags
// override the file.
func TestLoadFileAndFlags(t *testing.T) {
	path := writeFile(t, `
port: 9000
codec: cbor
backpressure: disconnect
database:
  path: /tmp/members.db
rate_limit:
  limit: 5
  interval: 2s
`)
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	ServerFlags(fs)
	if err := fs.Parse([]string{"--config", path, "--port", "9100"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("port = %d, want flag value 9100", cfg.Port)
	}
	if cfg.Codec != "cbor" || cfg.Backpressure != "disconnect" || cfg.Database.Path != "/tmp/members.db" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.RateLimit.Limit != 5 || cfg.RateLimit.Interval != 2*time.Second {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
}

// TestLoadClient checks client defaults and the required name.
func TestLoadClient(t *testing.T) {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	ClientFlags(fs)
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	if err := fs.Parse([]string{"--config", missing}); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClient(fs); err == nil {
		t.Fatal("expected error without a user name")
	}

	fs = pflag.NewFlagSet("client", pflag.ContinueOnError)
	ClientFlags(fs)
	if err := fs.Parse([]string{"--config", missing, "--name", "alice"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadClient(fs)
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.Reconnect.Count != 5 || cfg.Reconnect.Delay != time.Second {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.ICE.StunURL == "" || cfg.User.Name != "alice" {
		t.Errorf("unexpected client config %+v", cfg)
	}
}
