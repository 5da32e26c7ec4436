// Package config resolves the engine's on-disk directories and loads the
// user-editable settings file, in the same spirit as the teacher's config
// package (XDG-aware base dir, YAML settings, lazily created subdirs).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const dirName = "streampull"

// GetStreampullDir returns the base directory for all engine state: state
// files, logs, the instance lock and the settings file. It honors
// XDG_CONFIG_HOME first, falling back to os.UserConfigDir.
func GetStreampullDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, dirName)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, dirName)
	}
	return filepath.Join(os.TempDir(), dirName)
}

// GetLogsDir returns the directory debug logs are written to.
func GetLogsDir() string {
	return filepath.Join(GetStreampullDir(), "logs")
}

// GetStateDir returns the directory StateStore persists resume records in.
func GetStateDir() string {
	return filepath.Join(GetStreampullDir(), "state")
}

// EnsureDirs creates the base, logs, and state directories if missing.
func EnsureDirs() error {
	for _, dir := range []string{GetStreampullDir(), GetLogsDir(), GetStateDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// GeneralSettings holds engine-wide defaults editable by the user.
type GeneralSettings struct {
	DefaultDownloadDir string `yaml:"default_download_dir"`
}

// EngineSettings holds the knobs spec.md exposes as operator-tunable
// defaults: concurrency, the optional global speed cap, and an AutoResume
// flag. AutoResume is stored and shown by `settings`, but no command reads
// it; incomplete downloads resume only through `streampull resume`.
type EngineSettings struct {
	MaxConnectionsPerHost int   `yaml:"max_connections_per_host"`
	GlobalSpeedLimitBps   int64 `yaml:"global_speed_limit_bps"`
	AutoResume            bool  `yaml:"auto_resume"`
}

// Settings is the root of the YAML settings file.
type Settings struct {
	General GeneralSettings `yaml:"general"`
	Engine  EngineSettings  `yaml:"engine"`
}

func settingsPath() string {
	return filepath.Join(GetStreampullDir(), "settings.yaml")
}

// LoadSettings reads settings.yaml, returning zero-value Settings (not an
// error) if the file does not exist yet.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(settingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	return &s, nil
}

// SaveSettings writes settings.yaml, creating the base directory first.
func SaveSettings(s *Settings) error {
	if err := EnsureDirs(); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	tmp := settingsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return os.Rename(tmp, settingsPath())
}
