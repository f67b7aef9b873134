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

/*
Package service implements the service lifecycle controller: the state
machine that translates OS control requests into script-session lifecycle
transitions and acknowledges each one to the control manager.

# Components

The Controller owns the lifecycle State and the transition lock. The
Supervisor owns the asynchronous script Session: it launches the session on
its own goroutine, exposes a completion signal, and force-terminates a
session that ignores the stop timeout. Every transition produces a
StatusReport delivered through a StatusReporter; pending states carry an
advancing checkpoint and a wait hint, stable states reset both.

# Concurrency

Three goroutine domains interact: the control manager's callbacks, the
session's execution goroutine, and the session's completion-notification
goroutine. All transitions serialize on the controller's mutex. The
completion callback runs on the notification goroutine and posts the stop
sequence to a fresh goroutine, because Stop waits on the very completion
signal that goroutine raises; calling it inline would deadlock.

# Failure isolation

Subscriber errors and panics are caught at the dispatch boundary, logged
with the category name, and converted into the exception-in-service exit
code on the final status report. A misbehaving handler never crashes the
controller or blocks a pending acknowledgement. A session launch failure is
fatal to that one start attempt only.
*/
package service
