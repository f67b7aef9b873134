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

// Package scm adapts the lifecycle controller to the host's service
// control manager. On Windows the service runs under the SCM via
// golang.org/x/sys/windows/svc; everywhere else a console runner
// translates POSIX signals into control requests.
package scm

import (
	"sync"

	"github.com/scriptd/scriptd/internal/events"
	"github.com/scriptd/scriptd/internal/service"
)

// Controller is the lifecycle surface the control-manager adapters drive.
// *service.Controller satisfies it.
type Controller interface {
	Start(args []string) error
	Stop() error
	Shutdown() error
	Pause() error
	Continue() error
	HandlePowerEvent(status events.PowerStatus) bool
	HandleSessionChange(reason events.SessionChangeReason, sessionID int)
	HandleCustomCommand(code int)
	State() service.State
	Stopped() <-chan struct{}
}

// StatusRelay is a StatusReporter whose destination is bound after the
// controller is constructed. The Windows Execute loop only receives its
// status channel once the SCM invokes it, long after main has wired the
// controller, so the controller reports into the relay and the runner
// binds the real destination before issuing Start. Reports arriving
// before Bind only update Last.
type StatusRelay struct {
	mu   sync.Mutex
	sink func(service.StatusReport)
	last service.StatusReport
}

// Bind sets the destination for subsequent reports.
func (r *StatusRelay) Bind(sink func(service.StatusReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Report records the report and forwards it to the bound destination.
// The lock is held across the forward so reports arrive in order.
func (r *StatusRelay) Report(rep service.StatusReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = rep
	if r.sink != nil {
		r.sink(rep)
	}
}

// Last returns the most recent report, zero if none arrived yet.
func (r *StatusRelay) Last() service.StatusReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// ExitCode maps a final status report to a process exit code for console
// mode. Win32 error codes exceed the byte range POSIX exit statuses can
// carry, so a service-generic failure collapses to 1 while a
// script-reported code passes through unchanged.
func ExitCode(rep service.StatusReport) int {
	switch rep.Win32ExitCode {
	case service.ExitNoError:
		return 0
	case service.ExitServiceSpecific:
		return rep.ServiceSpecificExitCode
	default:
		return 1
	}
}
