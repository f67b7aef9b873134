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

//go:build windows

package scm

import (
	"context"
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/debug"

	"github.com/scriptd/scriptd/internal/events"
	"github.com/scriptd/scriptd/internal/service"
)

// Run hosts the controller under the Windows service control manager.
// When the process was not launched by the SCM it falls back to the
// debug runner, which emulates the SCM on a console and forwards Ctrl+C
// as a Stop control.
func Run(ctx context.Context, ctrl Controller, settings service.Settings, relay *StatusRelay, logger *slog.Logger, args []string) (int, error) {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return 1, fmt.Errorf("scm: detect service context: %w", err)
	}

	h := &handler{
		ctrl:     ctrl,
		settings: settings,
		relay:    relay,
		logger:   logger,
		args:     args,
	}

	run := debug.Run
	if isService {
		run = svc.Run
	}
	if err := run(settings.ServiceName, h); err != nil {
		return 1, fmt.Errorf("scm: run service %s: %w", settings.ServiceName, err)
	}
	return ExitCode(relay.Last()), nil
}

type handler struct {
	ctrl     Controller
	settings service.Settings
	relay    *StatusRelay
	logger   *slog.Logger
	args     []string
}

// Execute is the svc.Handler entry point. It binds the relay to the SCM
// status channel, starts the controller and translates change requests
// until the controller reaches Stopped.
func (h *handler) Execute(scmArgs []string, requests <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	h.relay.Bind(func(rep service.StatusReport) {
		changes <- h.toStatus(rep)
	})

	// SCM start parameters override the configured arguments; the first
	// element is the service name.
	args := h.args
	if len(scmArgs) > 1 {
		args = scmArgs[1:]
	}

	if err := h.ctrl.Start(args); err != nil {
		h.logger.Error("service start failed", slog.Any("error", err))
	}

	for {
		select {
		case <-h.ctrl.Stopped():
			rep := h.relay.Last()
			if rep.Win32ExitCode == service.ExitServiceSpecific {
				return true, uint32(rep.ServiceSpecificExitCode)
			}
			return false, uint32(rep.Win32ExitCode)
		case cr := <-requests:
			h.handle(cr, changes)
		}
	}
}

func (h *handler) handle(cr svc.ChangeRequest, changes chan<- svc.Status) {
	switch cr.Cmd {
	case svc.Interrogate:
		changes <- cr.CurrentStatus
	case svc.Stop:
		h.control("stop", h.ctrl.Stop)
	case svc.Shutdown:
		h.control("shutdown", h.ctrl.Shutdown)
	case svc.Pause:
		h.control("pause", h.ctrl.Pause)
	case svc.Continue:
		h.control("continue", h.ctrl.Continue)
	case svc.PowerEvent:
		h.ctrl.HandlePowerEvent(powerStatus(cr.EventType))
	case svc.SessionChange:
		n := (*wtsSessionNotification)(unsafe.Pointer(cr.EventData))
		h.ctrl.HandleSessionChange(events.SessionChangeReason(cr.EventType), int(n.sessionID))
	default:
		if cr.Cmd >= 128 {
			h.ctrl.HandleCustomCommand(int(cr.Cmd))
			return
		}
		h.logger.Warn("unexpected control request", slog.Int("cmd", int(cr.Cmd)))
	}
}

// control issues a lifecycle request; invalid-transition errors are logged
// and dropped, matching SCM behavior for controls sent in the wrong state.
func (h *handler) control(name string, fn func() error) {
	if err := fn(); err != nil {
		h.logger.Warn("control request rejected",
			slog.String("control", name),
			slog.Any("error", err),
		)
	}
}

// toStatus converts a controller report into an SCM status. Controls are
// only accepted in stable running states; while a transition is pending
// the accepted mask is empty, as the protocol requires.
func (h *handler) toStatus(rep service.StatusReport) svc.Status {
	st := svc.Status{
		State:                   svcState(rep.State),
		CheckPoint:              uint32(rep.Checkpoint),
		WaitHint:                uint32(rep.WaitHintMillis),
		Win32ExitCode:           uint32(rep.Win32ExitCode),
		ServiceSpecificExitCode: uint32(rep.ServiceSpecificExitCode),
	}
	if rep.State == service.Running || rep.State == service.Paused {
		st.Accepts = h.accepts()
	}
	return st
}

func (h *handler) accepts() svc.Accepted {
	var a svc.Accepted
	if h.settings.CanStop {
		a |= svc.AcceptStop
	}
	if h.settings.CanShutdown {
		a |= svc.AcceptShutdown
	}
	if h.settings.CanPauseContinue {
		a |= svc.AcceptPauseAndContinue
	}
	if h.settings.CanHandlePowerEvent {
		a |= svc.AcceptPowerEvent
	}
	if h.settings.CanHandleSessionChange {
		a |= svc.AcceptSessionChange
	}
	return a
}

func svcState(s service.State) svc.State {
	switch s {
	case service.StartPending:
		return svc.StartPending
	case service.Running:
		return svc.Running
	case service.PausePending:
		return svc.PausePending
	case service.Paused:
		return svc.Paused
	case service.ContinuePending:
		return svc.ContinuePending
	case service.StopPending:
		return svc.StopPending
	default:
		return svc.Stopped
	}
}

// Power broadcast event types (PBT_* from winuser.h).
const (
	pbtAPMQuerySuspend       = 0x0000
	pbtAPMQuerySuspendFailed = 0x0002
	pbtAPMSuspend            = 0x0004
	pbtAPMResumeCritical     = 0x0006
	pbtAPMResumeSuspend      = 0x0007
	pbtAPMBatteryLow         = 0x0009
	pbtAPMPowerStatusChange  = 0x000A
	pbtAPMOEMEvent           = 0x000B
	pbtAPMResumeAutomatic    = 0x0012
)

func powerStatus(eventType uint32) events.PowerStatus {
	switch eventType {
	case pbtAPMQuerySuspend:
		return events.PowerQuerySuspend
	case pbtAPMQuerySuspendFailed:
		return events.PowerQuerySuspendFailed
	case pbtAPMSuspend:
		return events.PowerSuspend
	case pbtAPMResumeCritical:
		return events.PowerResumeCritical
	case pbtAPMResumeSuspend:
		return events.PowerResumeSuspend
	case pbtAPMBatteryLow:
		return events.PowerBatteryLow
	case pbtAPMPowerStatusChange:
		return events.PowerStatusChange
	case pbtAPMOEMEvent:
		return events.PowerOemEvent
	case pbtAPMResumeAutomatic:
		return events.PowerResumeAutomatic
	default:
		return events.PowerStatusChange
	}
}

// wtsSessionNotification mirrors WTSSESSION_NOTIFICATION, pointed to by
// the EventData of a SessionChange request.
type wtsSessionNotification struct {
	size      uint32
	sessionID uint32
}
