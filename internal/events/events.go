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

package events

import (
	"fmt"
	"strings"
)

// Category identifies one of the event categories the host forwards to
// subscribers. Each category has an independent subscriber list.
type Category int

const (
	CategoryPower Category = iota
	CategorySessionChange
	CategoryPause
	CategoryContinue
	CategoryShutdown
	CategoryStop
	CategoryCustomCommand

	numCategories
)

// String returns the category name used in logs and metrics labels.
func (c Category) String() string {
	switch c {
	case CategoryPower:
		return "power"
	case CategorySessionChange:
		return "session-change"
	case CategoryPause:
		return "pause"
	case CategoryContinue:
		return "continue"
	case CategoryShutdown:
		return "shutdown"
	case CategoryStop:
		return "stop"
	case CategoryCustomCommand:
		return "custom-command"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory converts a category name to its Category value.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "power":
		return CategoryPower, nil
	case "session-change", "sessionchange":
		return CategorySessionChange, nil
	case "pause":
		return CategoryPause, nil
	case "continue":
		return CategoryContinue, nil
	case "shutdown":
		return CategoryShutdown, nil
	case "stop":
		return CategoryStop, nil
	case "custom-command", "customcommand":
		return CategoryCustomCommand, nil
	default:
		return 0, fmt.Errorf("events: unknown category %q", s)
	}
}

// PowerStatus describes a power broadcast from the OS.
type PowerStatus int

const (
	PowerQuerySuspend PowerStatus = iota
	PowerQuerySuspendFailed
	PowerSuspend
	PowerResumeAutomatic
	PowerResumeCritical
	PowerResumeSuspend
	PowerBatteryLow
	PowerStatusChange
	PowerOemEvent
)

func (p PowerStatus) String() string {
	switch p {
	case PowerQuerySuspend:
		return "query-suspend"
	case PowerQuerySuspendFailed:
		return "query-suspend-failed"
	case PowerSuspend:
		return "suspend"
	case PowerResumeAutomatic:
		return "resume-automatic"
	case PowerResumeCritical:
		return "resume-critical"
	case PowerResumeSuspend:
		return "resume-suspend"
	case PowerBatteryLow:
		return "battery-low"
	case PowerStatusChange:
		return "status-change"
	case PowerOemEvent:
		return "oem-event"
	default:
		return fmt.Sprintf("power(%d)", int(p))
	}
}

// SessionChangeReason describes why a session-change notification fired.
type SessionChangeReason int

const (
	SessionConsoleConnect SessionChangeReason = iota + 1
	SessionConsoleDisconnect
	SessionRemoteConnect
	SessionRemoteDisconnect
	SessionLogon
	SessionLogoff
	SessionLock
	SessionUnlock
	SessionRemoteControl
)

func (r SessionChangeReason) String() string {
	switch r {
	case SessionConsoleConnect:
		return "console-connect"
	case SessionConsoleDisconnect:
		return "console-disconnect"
	case SessionRemoteConnect:
		return "remote-connect"
	case SessionRemoteDisconnect:
		return "remote-disconnect"
	case SessionLogon:
		return "logon"
	case SessionLogoff:
		return "logoff"
	case SessionLock:
		return "lock"
	case SessionUnlock:
		return "unlock"
	case SessionRemoteControl:
		return "remote-control"
	default:
		return fmt.Sprintf("session-change(%d)", int(r))
	}
}

// SessionChange carries the payload of a session-change notification.
type SessionChange struct {
	Reason    SessionChangeReason
	SessionID int
}

// Event is the payload forwarded to subscribers. Only the fields relevant
// to the category are populated.
type Event struct {
	Category Category

	// Power is set for CategoryPower events.
	Power PowerStatus

	// SessionChange is set for CategorySessionChange events.
	SessionChange SessionChange

	// CommandCode is set for CategoryCustomCommand events.
	CommandCode int
}

// Handler is a subscriber callback. A non-nil error (or a panic, which is
// recovered at the dispatch boundary) is reported to the dispatcher but
// never stops delivery to the remaining subscribers.
type Handler func(Event) error
