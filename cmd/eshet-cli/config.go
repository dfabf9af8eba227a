package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	eshet "github.com/danmuck/eshet"
)

// fileConfig is the optional ~/.eshetrc.toml. Everything in it has a
// default; ESHET_SERVER still wins over the server key.
type fileConfig struct {
	Server        string `toml:"server"`
	IdlePing      string `toml:"idle_ping"`
	ServerTimeout string `toml:"server_timeout"`
	PingTimeout   string `toml:"ping_timeout"`
	IdentityFile  string `toml:"identity_file"`
}

type cliConfig struct {
	Server       string
	Timeouts     eshet.Timeouts
	IdentityFile string
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".eshetrc.toml")
}

func loadCLIConfig(path string) (cliConfig, error) {
	var cfg cliConfig

	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// optional file
		case err != nil:
			return cliConfig{}, fmt.Errorf("load %s: %w", path, err)
		default:
			if meta.IsDefined("server") {
				cfg.Server = strings.TrimSpace(raw.Server)
			}
			if meta.IsDefined("idle_ping") {
				if cfg.Timeouts.IdlePing, err = parseTimeout(raw.IdlePing); err != nil {
					return cliConfig{}, err
				}
			}
			if meta.IsDefined("server_timeout") {
				if cfg.Timeouts.ServerTimeout, err = parseTimeout(raw.ServerTimeout); err != nil {
					return cliConfig{}, err
				}
			}
			if meta.IsDefined("ping_timeout") {
				if cfg.Timeouts.PingTimeout, err = parseTimeout(raw.PingTimeout); err != nil {
					return cliConfig{}, err
				}
			}
			if meta.IsDefined("identity_file") {
				cfg.IdentityFile = strings.TrimSpace(raw.IdentityFile)
			}
		}
	}

	// the environment wins over the file
	if env := strings.TrimSpace(os.Getenv(eshet.EnvServer)); env != "" {
		cfg.Server = env
	}
	return cfg, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse timeout %q: %w", raw, err)
	}
	return d, nil
}

// loadIdentity reads a previously persisted identity token, if any.
func loadIdentity(path string) *eshet.Payload {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	p := eshet.PayloadFromRaw(b)
	return &p
}

// persistIdentity writes the token the server assigned so the next
// invocation keeps its server-side ownership.
func persistIdentity(path string, id *eshet.Payload) {
	if path == "" || id == nil {
		return
	}
	_ = os.WriteFile(path, id.Raw(), 0o600)
}
