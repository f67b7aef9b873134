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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scriptd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfig(t, `
script:
  path: /opt/scripts/service.sh
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scriptd", cfg.Service.Name)
	assert.Equal(t, "scriptd", cfg.Service.DisplayName)
	assert.Equal(t, "Application", cfg.Service.LogName)
	assert.Equal(t, 30000, cfg.Timeouts.StartMillis)
	assert.Equal(t, 15000, cfg.Timeouts.ScriptStopMillis)
	assert.True(t, *cfg.Controls.Stop)
	assert.True(t, *cfg.Controls.PauseContinue)
	assert.False(t, cfg.Controls.PowerEvent)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  name: backup-runner
  display_name: Nightly Backup Runner
  log_name: System
  auto_log: false
  pid_file: /run/backup-runner.pid
script:
  path: /opt/scripts/backup.sh
  args: ["--incremental"]
  work_dir: /var/lib/backup
timeouts:
  start_ms: 60000
  stop_ms: 45000
  pause_ms: 2000
  continue_ms: 2000
  script_stop_ms: 20000
controls:
  pause_continue: false
  power_event: true
  session_change: true
  allow_suspend: false
log:
  level: debug
  format: text
metrics:
  enabled: true
  listen: 127.0.0.1:9999
history:
  enabled: true
  path: /var/lib/backup/history.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "backup-runner", cfg.Service.Name)
	assert.Equal(t, "Nightly Backup Runner", cfg.Service.DisplayName)
	assert.False(t, *cfg.Service.AutoLog)
	assert.Equal(t, []string{"--incremental"}, cfg.Script.Args)
	assert.Equal(t, 60000, cfg.Timeouts.StartMillis)
	assert.False(t, *cfg.Controls.PauseContinue)
	assert.True(t, *cfg.Controls.Stop, "unset controls keep their defaults")
	assert.True(t, cfg.Controls.PowerEvent)
	assert.False(t, *cfg.Controls.AllowSuspend)
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.History.Enabled)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
script:
  path: /opt/scripts/service.sh
  shell: zsh
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingScriptPath(t *testing.T) {
	path := writeConfig(t, `
service:
  name: scriptd
`)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Script.Path = "/opt/scripts/service.sh"
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid defaults", func(*Config) {}, true},
		{"negative timeout", func(c *Config) { c.Timeouts.PauseMillis = -1 }, false},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, false},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, false},
		{"metrics without listen", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = ""
		}, false},
		{"history without path", func(c *Config) {
			c.History.Enabled = true
			c.History.Path = ""
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
script:
  path: /opt/scripts/service.sh
log:
  level: info
`)
	t.Setenv("SCRIPTD_SCRIPT", "/opt/scripts/other.sh")
	t.Setenv("SCRIPTD_SCRIPT_STOP_TIMEOUT_MS", "2500")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SCRIPTD_METRICS_LISTEN", "0.0.0.0:9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/scripts/other.sh", cfg.Script.Path)
	assert.Equal(t, 2500, cfg.Timeouts.ScriptStopMillis)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "0.0.0.0:9100", cfg.Metrics.Listen)
}

func TestSettingsMapping(t *testing.T) {
	path := writeConfig(t, `
service:
  name: worker
script:
  path: /opt/scripts/worker.sh
timeouts:
  script_stop_ms: 7000
controls:
  allow_suspend: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, "worker", s.ServiceName)
	assert.Equal(t, "worker", s.DisplayName)
	assert.Equal(t, "/opt/scripts/worker.sh", s.ScriptPath)
	assert.Equal(t, 30*time.Second, s.StartTimeout)
	assert.Equal(t, 7*time.Second, s.ScriptStopTimeout)
	assert.True(t, s.CanStop)
	assert.False(t, s.AllowSuspend)
	assert.True(t, s.AutoLog)
}
