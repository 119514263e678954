// Package config loads server configuration from config.json with
// environment overrides (§4.12), grounded on the teacher's main.go
// flag/env wiring — stdlib encoding/json is used throughout, matching the
// teacher's choice of stdlib JSON for every wire and config type.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds every server-wide setting (§4.12, §6).
type Config struct {
	GamePort        int    `json:"gamePort"`
	HTTPPort        int    `json:"httpPort"`
	ServerName      string `json:"serverName"`
	WelcomeMessage  string `json:"welcomeMessage"`
	HTTPService     bool   `json:"httpService"`
	AdminToken      string `json:"adminToken"`
	ViewToken       string `json:"viewToken"`
	AdminDataPath   string `json:"adminDataPath"`
	IdentityBaseURL string `json:"identityBaseUrl"`
	ReplayBaseDir   string `json:"replayBaseDir"`
}

// Default returns the documented defaults (§4.12).
func Default() Config {
	return Config{
		GamePort:      12346,
		HTTPPort:      12347,
		ServerName:    "phira-mp server",
		HTTPService:   true,
		AdminDataPath: "admin_data.json",
		ReplayBaseDir: ".",
	}
}

// Load reads path (if it exists; a missing file is not an error, matching
// §4.12 "config.json (if present)") over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, jsonErr)
			}
		case os.IsNotExist(err):
			// No config file; defaults plus env overrides still apply.
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("HTTP_SERVICE"); ok {
		cfg.HTTPService = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		if n, err := parsePort(v); err == nil {
			cfg.HTTPPort = n
		}
	}
	if v, ok := os.LookupEnv("GAME_PORT"); ok {
		if n, err := parsePort(v); err == nil {
			cfg.GamePort = n
		}
	}
	if v, ok := os.LookupEnv("ADMIN_TOKEN"); ok {
		cfg.AdminToken = v
	}
	if v, ok := os.LookupEnv("ADMIN_DATA_PATH"); ok {
		cfg.AdminDataPath = v
	} else if v, ok := os.LookupEnv("PHIRA_MP_HOME"); ok {
		cfg.AdminDataPath = v + string(os.PathSeparator) + "admin_data.json"
	}
}

func parsePort(v string) (int, error) {
	var n int
	_, err := fmt.Sscanf(v, "%d", &n)
	return n, err
}
