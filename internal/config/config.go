// Copyright 2026 The scriptd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the scriptd configuration file.
// Configuration is YAML; environment variables take precedence over
// file values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scriptd/scriptd/internal/service"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete scriptd configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Script   ScriptConfig   `yaml:"script"`
	Timeouts TimeoutsConfig `yaml:"timeouts,omitempty"`
	Controls ControlsConfig `yaml:"controls,omitempty"`
	Log      LogConfig      `yaml:"log,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	History  HistoryConfig  `yaml:"history,omitempty"`
}

// ServiceConfig identifies the service to the control manager.
type ServiceConfig struct {
	// Name is the registered service name.
	// Default: scriptd
	Name string `yaml:"name"`

	// DisplayName is the human-readable name used in logs.
	// Default: the service name.
	DisplayName string `yaml:"display_name,omitempty"`

	// LogName is the OS log start/stop entries are written to when
	// auto_log is enabled.
	// Default: Application
	LogName string `yaml:"log_name,omitempty"`

	// AutoLog writes start/stop entries to the log automatically.
	// Default: true
	AutoLog *bool `yaml:"auto_log,omitempty"`

	// PIDFile is the path to the PID file. Empty means no PID file.
	// Environment: SCRIPTD_PID_FILE
	PIDFile string `yaml:"pid_file,omitempty"`
}

// ScriptConfig describes the script session the service hosts.
type ScriptConfig struct {
	// Path is the script executed for the lifetime of the service.
	// Environment: SCRIPTD_SCRIPT
	Path string `yaml:"path"`

	// Args are the default positional arguments. Start parameters from
	// the control manager take precedence.
	Args []string `yaml:"args,omitempty"`

	// WorkDir is the session working directory. Empty means the host
	// process working directory.
	WorkDir string `yaml:"work_dir,omitempty"`
}

// TimeoutsConfig holds the wait hints advertised to the control manager
// and the internal stop deadline. All values are in milliseconds.
type TimeoutsConfig struct {
	// StartMillis is the wait hint for the start-pending report.
	// Default: 30000
	StartMillis int `yaml:"start_ms,omitempty"`

	// StopMillis is the wait hint for the stop-pending report.
	// Default: 30000
	StopMillis int `yaml:"stop_ms,omitempty"`

	// PauseMillis is the wait hint for the pause-pending report.
	// Default: 5000
	PauseMillis int `yaml:"pause_ms,omitempty"`

	// ContinueMillis is the wait hint for the continue-pending report.
	// Default: 5000
	ContinueMillis int `yaml:"continue_ms,omitempty"`

	// ScriptStopMillis is how long a stop waits for the session to end
	// gracefully before forcing termination. Unlike the wait hints this
	// is a hard internal deadline.
	// Environment: SCRIPTD_SCRIPT_STOP_TIMEOUT_MS
	// Default: 15000
	ScriptStopMillis int `yaml:"script_stop_ms,omitempty"`
}

// ControlsConfig selects the control categories the service accepts.
type ControlsConfig struct {
	// Stop accepts stop controls.
	// Default: true
	Stop *bool `yaml:"stop,omitempty"`

	// Shutdown accepts system shutdown notifications.
	// Default: true
	Shutdown *bool `yaml:"shutdown,omitempty"`

	// PauseContinue accepts pause and continue controls.
	// Default: true
	PauseContinue *bool `yaml:"pause_continue,omitempty"`

	// PowerEvent forwards power broadcasts to subscribers.
	// Default: false
	PowerEvent bool `yaml:"power_event,omitempty"`

	// SessionChange forwards session-change notifications to subscribers.
	// Default: false
	SessionChange bool `yaml:"session_change,omitempty"`

	// AllowSuspend is the answer given to power query-suspend requests.
	// Default: true
	AllowSuspend *bool `yaml:"allow_suspend,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level,omitempty"`

	// Format is json or text.
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format,omitempty"`

	// Source includes source locations in log records.
	// Environment: LOG_SOURCE
	// Default: false
	Source bool `yaml:"source,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics and /healthz on Listen.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Listen is the address of the metrics listener.
	// Environment: SCRIPTD_METRICS_LISTEN
	// Default: 127.0.0.1:9920
	Listen string `yaml:"listen,omitempty"`
}

// HistoryConfig configures the transition history store.
type HistoryConfig struct {
	// Enabled records every status report in a SQLite database.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Path is the SQLite database file.
	// Environment: SCRIPTD_HISTORY_PATH
	// Default: scriptd-history.db
	Path string `yaml:"path,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	on := true
	return &Config{
		Service: ServiceConfig{
			Name:    "scriptd",
			LogName: "Application",
			AutoLog: &on,
		},
		Timeouts: TimeoutsConfig{
			StartMillis:      30000,
			StopMillis:       30000,
			PauseMillis:      5000,
			ContinueMillis:   5000,
			ScriptStopMillis: 15000,
		},
		Controls: ControlsConfig{
			Stop:          &on,
			Shutdown:      &on,
			PauseContinue: &on,
			AllowSuspend:  &on,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9920",
		},
		History: HistoryConfig{
			Path: "scriptd-history.db",
		},
	}
}

// Load reads configuration from a YAML file over the defaults, then
// applies environment overrides and validates. An empty path loads
// defaults and environment only.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", configPath, err)
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// applyDefaults fills zero values left by a minimal config file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Service.Name == "" {
		c.Service.Name = defaults.Service.Name
	}
	if c.Service.DisplayName == "" {
		c.Service.DisplayName = c.Service.Name
	}
	if c.Service.LogName == "" {
		c.Service.LogName = defaults.Service.LogName
	}
	if c.Service.AutoLog == nil {
		c.Service.AutoLog = defaults.Service.AutoLog
	}

	if c.Timeouts.StartMillis == 0 {
		c.Timeouts.StartMillis = defaults.Timeouts.StartMillis
	}
	if c.Timeouts.StopMillis == 0 {
		c.Timeouts.StopMillis = defaults.Timeouts.StopMillis
	}
	if c.Timeouts.PauseMillis == 0 {
		c.Timeouts.PauseMillis = defaults.Timeouts.PauseMillis
	}
	if c.Timeouts.ContinueMillis == 0 {
		c.Timeouts.ContinueMillis = defaults.Timeouts.ContinueMillis
	}
	if c.Timeouts.ScriptStopMillis == 0 {
		c.Timeouts.ScriptStopMillis = defaults.Timeouts.ScriptStopMillis
	}

	if c.Controls.Stop == nil {
		c.Controls.Stop = defaults.Controls.Stop
	}
	if c.Controls.Shutdown == nil {
		c.Controls.Shutdown = defaults.Controls.Shutdown
	}
	if c.Controls.PauseContinue == nil {
		c.Controls.PauseContinue = defaults.Controls.PauseContinue
	}
	if c.Controls.AllowSuspend == nil {
		c.Controls.AllowSuspend = defaults.Controls.AllowSuspend
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = defaults.Metrics.Listen
	}
	if c.History.Path == "" {
		c.History.Path = defaults.History.Path
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("SCRIPTD_SCRIPT"); val != "" {
		c.Script.Path = val
	}
	if val := os.Getenv("SCRIPTD_PID_FILE"); val != "" {
		c.Service.PIDFile = val
	}
	if val := os.Getenv("SCRIPTD_SCRIPT_STOP_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			c.Timeouts.ScriptStopMillis = ms
		}
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.Source = val == "true" || val == "1"
	}
	if val := os.Getenv("SCRIPTD_METRICS_LISTEN"); val != "" {
		c.Metrics.Listen = val
		c.Metrics.Enabled = true
	}
	if val := os.Getenv("SCRIPTD_HISTORY_PATH"); val != "" {
		c.History.Path = val
		c.History.Enabled = true
	}
}

// Validate checks the configuration for contradictions and missing
// required fields.
func (c *Config) Validate() error {
	if c.Script.Path == "" {
		return fmt.Errorf("%w: script.path is required", ErrInvalidConfig)
	}
	if c.Service.Name == "" {
		return fmt.Errorf("%w: service.name must not be empty", ErrInvalidConfig)
	}
	for name, ms := range map[string]int{
		"timeouts.start_ms":       c.Timeouts.StartMillis,
		"timeouts.stop_ms":        c.Timeouts.StopMillis,
		"timeouts.pause_ms":       c.Timeouts.PauseMillis,
		"timeouts.continue_ms":    c.Timeouts.ContinueMillis,
		"timeouts.script_stop_ms": c.Timeouts.ScriptStopMillis,
	} {
		if ms < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q (want debug, info, warn or error)", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log.format %q (want json or text)", ErrInvalidConfig, c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", ErrInvalidConfig)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("%w: history.path is required when history is enabled", ErrInvalidConfig)
	}
	return nil
}

// Settings maps the validated configuration to the controller's settings.
func (c *Config) Settings() service.Settings {
	return service.Settings{
		ServiceName:            c.Service.Name,
		DisplayName:            c.Service.DisplayName,
		LogName:                c.Service.LogName,
		ScriptPath:             c.Script.Path,
		WorkDir:                c.Script.WorkDir,
		StartTimeout:           time.Duration(c.Timeouts.StartMillis) * time.Millisecond,
		StopTimeout:            time.Duration(c.Timeouts.StopMillis) * time.Millisecond,
		PauseTimeout:           time.Duration(c.Timeouts.PauseMillis) * time.Millisecond,
		ContinueTimeout:        time.Duration(c.Timeouts.ContinueMillis) * time.Millisecond,
		ScriptStopTimeout:      time.Duration(c.Timeouts.ScriptStopMillis) * time.Millisecond,
		CanStop:                *c.Controls.Stop,
		CanShutdown:            *c.Controls.Shutdown,
		CanPauseContinue:       *c.Controls.PauseContinue,
		CanHandlePowerEvent:    c.Controls.PowerEvent,
		CanHandleSessionChange: c.Controls.SessionChange,
		AllowSuspend:           *c.Controls.AllowSuspend,
		AutoLog:                *c.Service.AutoLog,
	}
}
