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

import "log/slog"

// Exit codes reported to the OS control manager, following the Win32
// service error conventions.
const (
	// ExitNoError is the no-error win32 exit code.
	ExitNoError = 0

	// ExitExceptionInService (ERROR_EXCEPTION_IN_SERVICE) is reported when
	// the session failed to launch or a subscriber raised during a
	// transition.
	ExitExceptionInService = 1064

	// ExitServiceSpecific (ERROR_SERVICE_SPECIFIC_ERROR) directs the
	// control manager to the ServiceSpecificExitCode field, used when the
	// script itself reported a positive exit code.
	ExitServiceSpecific = 1066
)

// StatusReport is the acknowledgement sent to the OS control manager after
// every lifecycle state change. A control manager that does not receive a
// report within the previously advertised wait hint considers the service
// hung and may kill the host process.
type StatusReport struct {
	State State

	// Win32ExitCode is ExitNoError, ExitExceptionInService or
	// ExitServiceSpecific.
	Win32ExitCode int

	// ServiceSpecificExitCode carries the script-reported exit code when
	// Win32ExitCode is ExitServiceSpecific.
	ServiceSpecificExitCode int

	// Checkpoint advances monotonically across the pending reports of one
	// lifecycle attempt and resets to zero on stable states.
	Checkpoint int

	// WaitHintMillis is the advertised maximum time the control manager
	// should wait for the next report. Zero on stable states.
	WaitHintMillis int
}

// StatusReporter delivers status reports to the OS control manager. It is
// called after every state change, including failure paths. Implementations
// must not block for longer than a status write.
type StatusReporter interface {
	Report(rep StatusReport)
}

// LogReporter is a StatusReporter for console mode: reports are written to
// the structured log instead of a control manager.
type LogReporter struct {
	Logger *slog.Logger
}

// Report logs the status report.
func (r *LogReporter) Report(rep StatusReport) {
	r.Logger.Info("status report",
		slog.String("state", rep.State.String()),
		slog.Int("win32_exit_code", rep.Win32ExitCode),
		slog.Int("service_exit_code", rep.ServiceSpecificExitCode),
		slog.Int("checkpoint", rep.Checkpoint),
		slog.Int("wait_hint_ms", rep.WaitHintMillis),
	)
}

// ReporterFunc adapts a function to the StatusReporter interface.
type ReporterFunc func(rep StatusReport)

// Report calls f(rep).
func (f ReporterFunc) Report(rep StatusReport) { f(rep) }

// TransitionSink receives a copy of every status report for retention,
// for example in the transition history store. Sink failures are logged by
// the controller and never affect the transition.
type TransitionSink interface {
	RecordTransition(rep StatusReport) error
}
