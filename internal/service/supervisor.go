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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/scriptd/scriptd/internal/engine"
	internallog "github.com/scriptd/scriptd/internal/log"
)

// Supervisor launches script sessions on the configured engine. Launch
// performs bounded setup only; script execution runs on a goroutine owned
// by the returned Session so that control-manager callbacks stay
// responsive.
type Supervisor struct {
	engine engine.Engine
	logger *slog.Logger
}

// NewSupervisor creates a supervisor for the given engine.
func NewSupervisor(e engine.Engine, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		engine: e,
		logger: internallog.WithComponent(logger, "supervisor"),
	}
}

// Launch prepares and starts one script session. onComplete, when non-nil,
// is registered before execution begins so a session that completes
// immediately still notifies exactly once. The error return is a launch
// failure: no session exists and nothing needs disposing.
func (s *Supervisor) Launch(spec engine.LaunchSpec, host engine.Host, onComplete func(engine.InvocationState)) (*Session, error) {
	inv, err := s.engine.Launch(spec, host)
	if err != nil {
		return nil, fmt.Errorf("launch session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sess.logger = internallog.WithSessionID(s.logger, sess.id)
	sess.state.Store(int32(engine.StateRunning))
	if onComplete != nil {
		sess.onComplete.Store(&onComplete)
	}

	go sess.run(ctx, inv)

	s.logger.Debug("session launched",
		slog.String(internallog.SessionIDKey, sess.id),
		slog.String(internallog.ScriptKey, spec.ScriptPath))
	return sess, nil
}

// Session is the handle for one asynchronous script session. At most one
// live Session exists per controller; it is created on Start and disposed
// when Stop completes.
type Session struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger

	state atomic.Int32 // engine.InvocationState

	// onComplete fires exactly once, on the session's internal
	// completion-notification goroutine, when a terminal invocation state
	// is reached. It must never run the blocking stop sequence inline.
	onComplete atomic.Pointer[func(engine.InvocationState)]

	resultMu sync.Mutex
	result   engine.Result

	forceOnce sync.Once
}

// run executes the invocation and publishes the terminal state. It is the
// session's completion-notification goroutine.
func (s *Session) run(ctx context.Context, inv engine.Invocation) {
	res := inv.Run(ctx)

	state := engine.StateCompleted
	switch {
	case res.Err == nil:
		state = engine.StateCompleted
	case errors.Is(res.Err, context.Canceled):
		state = engine.StateStopped
	default:
		state = engine.StateFailed
	}

	s.resultMu.Lock()
	s.result = res
	s.resultMu.Unlock()
	s.state.Store(int32(state))
	close(s.done)

	if cb := s.onComplete.Load(); cb != nil {
		(*cb)(state)
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// InvocationState returns the session's current invocation state.
func (s *Session) InvocationState() engine.InvocationState {
	return engine.InvocationState(s.state.Load())
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns what the invocation produced. Valid once Done is closed.
func (s *Session) Result() engine.Result {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	return s.result
}

// ClearOnComplete unregisters the completion callback. Called at the start
// of the stop sequence so a completion observed during Stop cannot trigger
// a re-entrant stop.
func (s *Session) ClearOnComplete() {
	s.onComplete.Store(nil)
}

// RequestStop signals the session to stop cooperatively.
func (s *Session) RequestStop() {
	s.cancel()
}

// WaitForCompletion blocks until the session reaches a terminal state or
// the timeout elapses, reporting whether it completed in time.
func (s *Session) WaitForCompletion(timeout time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ForceTerminate terminates a session that did not stop cooperatively. It
// is safe to call on a completed session (no-op) and safe to call more than
// once; it reports whether it actually forced anything.
func (s *Session) ForceTerminate() bool {
	select {
	case <-s.done:
		return false
	default:
	}

	acted := false
	s.forceOnce.Do(func() {
		s.cancel()
		acted = true
		s.logger.Warn("session force-terminated")
	})
	return acted
}

// Dispose releases the session's resources. Idempotent.
func (s *Session) Dispose() {
	s.cancel()
}
