package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	eshet "github.com/danmuck/eshet"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eshetrc.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCLIConfigDefaults(t *testing.T) {
	t.Setenv(eshet.EnvServer, "")
	cfg, err := loadCLIConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("missing file must be fine: %v", err)
	}
	if cfg.Server != "" || cfg.IdentityFile != "" {
		t.Fatalf("unexpected values from missing file: %+v", cfg)
	}
}

func TestLoadCLIConfigParsesFile(t *testing.T) {
	t.Setenv(eshet.EnvServer, "")
	path := writeConfig(t, `
server = "bus.local:11000"
idle_ping = "2s"
server_timeout = "10s"
ping_timeout = "1s"
identity_file = "/tmp/eshet-id"
`)
	cfg, err := loadCLIConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server != "bus.local:11000" {
		t.Fatalf("server mismatch: %q", cfg.Server)
	}
	if cfg.Timeouts.IdlePing != 2*time.Second || cfg.Timeouts.ServerTimeout != 10*time.Second || cfg.Timeouts.PingTimeout != 1*time.Second {
		t.Fatalf("timeouts mismatch: %+v", cfg.Timeouts)
	}
	if cfg.IdentityFile != "/tmp/eshet-id" {
		t.Fatalf("identity file mismatch: %q", cfg.IdentityFile)
	}
}

func TestEnvOverridesFileServer(t *testing.T) {
	path := writeConfig(t, `server = "bus.local:11000"`)
	t.Setenv(eshet.EnvServer, "other:12000")
	cfg, err := loadCLIConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server != "other:12000" {
		t.Fatalf("env must win: %q", cfg.Server)
	}
}

func TestLoadCLIConfigRejectsBadTimeout(t *testing.T) {
	t.Setenv(eshet.EnvServer, "")
	path := writeConfig(t, `idle_ping = "soon"`)
	if _, err := loadCLIConfig(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestIdentityPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id")
	token := eshet.MustPack("client-9")
	persistIdentity(path, &token)
	got := loadIdentity(path)
	if got == nil || !got.Equal(token) {
		t.Fatalf("identity round trip failed: %v", got)
	}
	if loadIdentity(filepath.Join(t.TempDir(), "missing")) != nil {
		t.Fatalf("missing identity file must load as nil")
	}
}
