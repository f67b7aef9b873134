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

package service

import "time"

// Settings are the controller's plain-value configuration, populated once
// at construction from the validated configuration file.
type Settings struct {
	// ServiceName is the registered service name.
	ServiceName string

	// DisplayName is the human-readable service name used in logs.
	DisplayName string

	// LogName is the OS log the service writes to when AutoLog is set.
	LogName string

	// ScriptPath is the script the session runs.
	ScriptPath string

	// WorkDir is the session working directory (empty: host's cwd).
	WorkDir string

	// Wait hints advertised to the control manager per transition
	// category. Only ScriptStopTimeout is a hard internal deadline; the
	// others bound nothing internally.
	StartTimeout    time.Duration
	StopTimeout     time.Duration
	PauseTimeout    time.Duration
	ContinueTimeout time.Duration

	// ScriptStopTimeout is how long Stop waits for the session to complete
	// before forcing termination.
	ScriptStopTimeout time.Duration

	// Control categories the service advertises to the control manager.
	CanStop                bool
	CanShutdown            bool
	CanPauseContinue       bool
	CanHandlePowerEvent    bool
	CanHandleSessionChange bool

	// AllowSuspend is the answer given to power query-suspend requests,
	// independent of subscriber outcome.
	AllowSuspend bool

	// AutoLog writes start/stop entries to the log automatically.
	AutoLog bool
}
