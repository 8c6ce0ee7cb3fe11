package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds the optional config-file defaults. All fields may also
// be set on the command line; explicit flags win.
type Config struct {
	Algorithm string `json:"algorithm,omitempty"`
	Threads   int    `json:"threads,omitempty"`
	Quiet     int    `json:"quiet,omitempty"`
}

// ConfigFileName is the project-local config file name.
const ConfigFileName = ".disktest.json"

var errConfigFileNotFound = errors.New("config file not found")

// globalConfigPath returns the path of the per-user config file:
// $XDG_CONFIG_HOME/disktest/config.json, or ~/.config/disktest/config.json.
// Empty when no home directory can be determined.
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "disktest", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "disktest", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "disktest", "config.json")
	}

	return ""
}

// parseConfigFile reads and parses one JSON-with-comments config file.
func parseConfigFile(path string) (Config, error) {
	var cfg Config

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, errConfigFileNotFound
		}

		return Config{}, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// loadConfig resolves the effective config with the precedence:
// defaults, global user config, project config, explicit --config path.
func loadConfig(workDir, explicitPath string, env map[string]string) (Config, error) {
	var cfg Config

	if path := globalConfigPath(env); path != "" {
		global, err := parseConfigFile(path)
		if err == nil {
			cfg = mergeConfig(cfg, global)
		} else if !errors.Is(err, errConfigFileNotFound) {
			return Config{}, err
		}
	}

	project, err := parseConfigFile(filepath.Join(workDir, ConfigFileName))
	if err == nil {
		cfg = mergeConfig(cfg, project)
	} else if !errors.Is(err, errConfigFileNotFound) {
		return Config{}, err
	}

	if explicitPath != "" {
		explicit, err := parseConfigFile(explicitPath)
		if err != nil {
			return Config{}, err
		}

		cfg = mergeConfig(cfg, explicit)
	}

	return cfg, nil
}

// mergeConfig overlays set fields of over onto base.
func mergeConfig(base, over Config) Config {
	if over.Algorithm != "" {
		base.Algorithm = over.Algorithm
	}

	if over.Threads != 0 {
		base.Threads = over.Threads
	}

	if over.Quiet != 0 {
		base.Quiet = over.Quiet
	}

	return base
}
