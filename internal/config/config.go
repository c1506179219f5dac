/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package config loads the player's YAML configuration and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	applog "gonovel/internal/log"
)

// AppConfig is the user-editable configuration persisted as YAML.
// Environment variables are read-only overrides applied after the file.
//
// config_version: bump when the structure changes in a backward-incompatible way.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	Story         StoryConfig   `yaml:"story"`
	Engine        EngineConfig  `yaml:"engine"`
	Backend       BackendConfig `yaml:"backend"`
	Logging       LoggingConfig `yaml:"logging"`
}

type StoryConfig struct {
	Root      string `yaml:"root"`
	Entry     string `yaml:"entry"`
	ScriptExt string `yaml:"script_ext"`
}

type EngineConfig struct {
	MaxStepsPerTurn int `yaml:"max_steps_per_turn"`
}

type BackendConfig struct {
	DSN       string `yaml:"dsn"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Addr      string `yaml:"addr"`     // listen address for `gonovel serve`
	BaseURL   string `yaml:"base_url"` // remote server for `run --remote`
	// AuthSecret signs API tokens. It is only read from the environment.
	AuthSecret string `yaml:"-"`
	// AccessKey is exchanged for a token by `run --remote`. Environment only.
	AccessKey string `yaml:"-"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Story:         StoryConfig{Root: ".", Entry: "main", ScriptExt: ".vns"},
		Engine:        EngineConfig{MaxStepsPerTurn: 10000},
		Backend:       BackendConfig{TimeoutMs: 5000, Addr: ":8080", BaseURL: "http://localhost:8080"},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvStoryRoot        = "GNV_STORY_ROOT"
	EnvEntry            = "GNV_ENTRY"
	EnvScriptExt        = "GNV_SCRIPT_EXT"
	EnvMaxSteps         = "GNV_MAX_STEPS"
	EnvPGDSN            = "GNV_PG_DSN"
	EnvBackendTimeoutMs = "GNV_BACKEND_TIMEOUT_MS"
	EnvBackendAddr      = "GNV_BACKEND_ADDR"
	EnvBackendURL       = "GNV_BACKEND_URL"
	EnvAuthSecret       = "GNV_AUTH_SECRET"
	EnvAccessKey        = "GNV_ACCESS_KEY"
	EnvConfigFile       = "GNV_CONFIG"

	EnvLogLevel  = applog.EnvLogLevel
	EnvLogFormat = applog.EnvLogFormat
	EnvLogSource = applog.EnvLogSource
	EnvLogFile   = applog.EnvLogFile
)

// ConfigPath returns the config file path: $GNV_CONFIG, else the per-user location.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "gonovel")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "gonovel")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "gonovel")
		} else if home := os.Getenv("HOME"); home != "" {
			base = filepath.Join(home, ".config", "gonovel")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the config file at ConfigPath (if present), then applies env overrides.
func Load() (AppConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Defaults()
		applyEnvOverrides(&cfg)
		return cfg, err
	}
	return LoadFile(path)
}

// LoadFile merges the YAML file at path over the defaults and applies env overrides.
// A missing file is not an error; a malformed one is.
func LoadFile(path string) (AppConfig, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			applyEnvOverrides(&cfg)
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	case !errors.Is(err, os.ErrNotExist):
		applyEnvOverrides(&cfg)
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(path string, cfg AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if v := strings.TrimSpace(src.Story.Root); v != "" {
		dst.Story.Root = v
	}
	if v := strings.TrimSpace(src.Story.Entry); v != "" {
		dst.Story.Entry = v
	}
	if v := strings.TrimSpace(src.Story.ScriptExt); v != "" {
		dst.Story.ScriptExt = v
	}
	if src.Engine.MaxStepsPerTurn > 0 {
		dst.Engine.MaxStepsPerTurn = src.Engine.MaxStepsPerTurn
	}
	if v := strings.TrimSpace(src.Backend.DSN); v != "" {
		dst.Backend.DSN = v
	}
	if src.Backend.TimeoutMs != 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	if v := strings.TrimSpace(src.Backend.Addr); v != "" {
		dst.Backend.Addr = v
	}
	if v := strings.TrimSpace(src.Backend.BaseURL); v != "" {
		dst.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(src.Logging.Level); v != "" {
		dst.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.Format); v != "" {
		dst.Logging.Format = strings.ToLower(v)
	}
	dst.Logging.Source = src.Logging.Source
	if v := strings.TrimSpace(src.Logging.File); v != "" {
		dst.Logging.File = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvStoryRoot)); v != "" {
		cfg.Story.Root = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEntry)); v != "" {
		cfg.Story.Entry = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvScriptExt)); v != "" {
		cfg.Story.ScriptExt = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMaxSteps)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxStepsPerTurn = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvPGDSN)); v != "" {
		cfg.Backend.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendAddr)); v != "" {
		cfg.Backend.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		cfg.Backend.BaseURL = v
	}
	cfg.Backend.AuthSecret = os.Getenv(EnvAuthSecret)
	cfg.Backend.AccessKey = strings.TrimSpace(os.Getenv(EnvAccessKey))
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		lv := strings.ToLower(v)
		cfg.Logging.Source = lv == "1" || lv == "true" || lv == "on" || lv == "yes"
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var envKeys = map[string]string{
	"story.root":                EnvStoryRoot,
	"story.entry":               EnvEntry,
	"story.script_ext":          EnvScriptExt,
	"engine.max_steps_per_turn": EnvMaxSteps,
	"backend.dsn":               EnvPGDSN,
	"backend.timeout_ms":        EnvBackendTimeoutMs,
	"backend.addr":              EnvBackendAddr,
	"backend.base_url":          EnvBackendURL,
	"logging.level":             EnvLogLevel,
	"logging.format":            EnvLogFormat,
	"logging.source":            EnvLogSource,
	"logging.file":              EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := envKeys[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// Timeout returns the backend timeout, falling back to the default when unset.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// LogOptions converts the logging section for applog.Init.
func (l LoggingConfig) LogOptions() applog.Options {
	return applog.Options{Level: l.Level, Format: l.Format, AddSource: l.Source, File: l.File}
}
