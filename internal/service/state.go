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

import "fmt"

// State is the controller's lifecycle state. Transitions follow the service
// control protocol's graph: Stopped → StartPending → Running,
// Running → PausePending → Paused, Paused → ContinuePending → Running, and
// any non-stopped state → StopPending → Stopped. Stopped is re-enterable.
type State int32

const (
	Stopped State = iota
	StartPending
	Running
	PausePending
	Paused
	ContinuePending
	StopPending
)

// String returns the state name as reported in logs and status entries.
func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case StartPending:
		return "StartPending"
	case Running:
		return "Running"
	case PausePending:
		return "PausePending"
	case Paused:
		return "Paused"
	case ContinuePending:
		return "ContinuePending"
	case StopPending:
		return "StopPending"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Pending reports whether s is a transitional state. Status reports for
// pending states carry a non-zero wait hint and an advancing checkpoint;
// stable states reset both to zero.
func (s State) Pending() bool {
	switch s {
	case StartPending, PausePending, ContinuePending, StopPending:
		return true
	default:
		return false
	}
}
