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

// Package engine defines the script-engine collaborator boundary. The
// lifecycle controller treats a script session as an opaque asynchronous
// task behind these interfaces; concrete engines live in subpackages.
package engine

import (
	"context"
	"fmt"

	"github.com/scriptd/scriptd/internal/events"
)

// InvocationState is the session's own execution status. Exactly one
// terminal state (Completed, Failed or Stopped) is observed per session.
type InvocationState int

const (
	StateNotStarted InvocationState = iota
	StateRunning
	StateCompleted
	StateFailed
	StateStopped
)

// String returns the state name used in logs.
func (s InvocationState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("InvocationState(%d)", int(s))
	}
}

// Terminal reports whether s is a terminal invocation state.
func (s InvocationState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

// LaunchSpec describes one script session to launch.
type LaunchSpec struct {
	// ScriptPath is the path of the script to run.
	ScriptPath string

	// Args are positional parameters passed to the script.
	Args []string

	// WorkDir is the working directory for the session. Empty means the
	// host's current directory.
	WorkDir string

	// Env is the session environment in KEY=VALUE form. Nil means the
	// host's environment.
	Env []string
}

// Result is what a finished invocation produced.
type Result struct {
	// Output is the text the script wrote while running. It is logged at
	// stop time, never treated as an error.
	Output string

	// Err is the failure that ended the invocation, nil on clean
	// completion, context.Canceled when the session was stopped.
	Err error
}

// Host is the callback surface the host process exposes to a running
// session. All methods are safe to call from the session's goroutine.
type Host interface {
	// AllowSuspend reports whether the host answers power query-suspend
	// requests affirmatively.
	AllowSuspend() bool

	// PowerEventsEnabled reports whether power events are forwarded to
	// subscribers at all.
	PowerEventsEnabled() bool

	// Subscribe registers a handler for one of the event categories the
	// host forwards. Subscriptions are cleared when the session stops.
	Subscribe(cat events.Category, h events.Handler) events.Subscription

	// Unsubscribe removes a previously registered handler.
	Unsubscribe(sub events.Subscription)

	// RequestShutdown asks the host to stop, carrying the script's exit
	// code. A positive code is surfaced as a service-specific error in the
	// host's final status. The stop runs asynchronously; RequestShutdown
	// returns immediately.
	RequestShutdown(exitCode int)
}

// Invocation is one prepared script run. Run executes the script to
// completion or until ctx is cancelled; it is called exactly once, on a
// goroutine owned by the session supervisor.
type Invocation interface {
	Run(ctx context.Context) Result
}

// Engine launches script sessions. Launch performs bounded setup only
// (reading and parsing the script); it must not execute anything.
type Engine interface {
	Launch(spec LaunchSpec, host Host) (Invocation, error)
}
