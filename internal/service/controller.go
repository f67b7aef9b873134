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

	"github.com/scriptd/scriptd/internal/engine"
	"github.com/scriptd/scriptd/internal/events"
	internallog "github.com/scriptd/scriptd/internal/log"
)

// ErrInvalidTransition is returned when an operation is requested from a
// state it is not valid in.
var ErrInvalidTransition = errors.New("service: invalid lifecycle transition")

// Controller is the service lifecycle controller. It owns the lifecycle
// state machine, drives the session supervisor and the subscription
// registry, and acknowledges every transition to the OS control manager
// through the status reporter.
//
// Three concurrency domains meet here: the control manager's callback
// goroutines, the session's execution goroutine, and the session's
// completion-notification goroutine. All state transitions are serialized
// by mu; the completion-notification goroutine never runs the stop sequence
// inline, it posts it to a fresh goroutine.
type Controller struct {
	settings   Settings
	logger     *slog.Logger
	reporter   StatusReporter
	registry   *events.Registry
	supervisor *Supervisor
	sink       TransitionSink // optional

	// mu is the transition lock: it serializes Start/Stop/Pause/Continue
	// and guards session and checkpoint. state is written only under mu
	// and read lock-free so sampling never blocks behind a bounded stop
	// wait.
	mu         sync.Mutex
	state      atomic.Int32 // State
	session    atomic.Pointer[Session]
	checkpoint int

	// scriptExit is the exit code the script requested via the host
	// callback surface, tied to the current session: reset on Start,
	// consumed by the stop sequence. Lock-free so the session goroutine
	// never blocks behind the transition lock.
	scriptExit atomic.Int64

	// stoppedCh is replaced on every Start and closed when the controller
	// returns to Stopped, so hosts can wait for an autonomous stop.
	stoppedMu sync.Mutex
	stoppedCh chan struct{}
}

// NewController creates a controller in the Stopped state.
func NewController(settings Settings, sup *Supervisor, reporter StatusReporter, logger *slog.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		settings:   settings,
		logger:     internallog.WithComponent(logger, "controller"),
		reporter:   reporter,
		registry:   events.NewRegistry(),
		supervisor: sup,
	}
	c.state.Store(int32(Stopped))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ControllerOption configures optional controller collaborators.
type ControllerOption func(*Controller)

// WithTransitionSink records every status report to the given sink.
func WithTransitionSink(sink TransitionSink) ControllerOption {
	return func(c *Controller) { c.sink = sink }
}

// State returns the current lifecycle state. It never blocks, even while a
// bounded stop wait is in progress.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stopped returns a channel closed when the controller next reaches the
// Stopped state. Valid between Start and the completion of the matching
// stop sequence.
func (c *Controller) Stopped() <-chan struct{} {
	c.stoppedMu.Lock()
	defer c.stoppedMu.Unlock()
	if c.stoppedCh == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.stoppedCh
}

// Start launches the script session. Valid only from Stopped. On launch
// failure the controller returns to Stopped with an exception-in-service
// exit code; the failure is fatal to this attempt only.
func (c *Controller) Start(args []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != Stopped {
		c.logger.Warn("start requested in invalid state", slog.String(internallog.StateKey, c.State().String()))
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.State())
	}

	c.stoppedMu.Lock()
	c.stoppedCh = make(chan struct{})
	c.stoppedMu.Unlock()

	c.transitionLocked(StartPending, ExitNoError, 0)
	c.scriptExit.Store(0)

	sess, err := c.supervisor.Launch(engine.LaunchSpec{
		ScriptPath: c.settings.ScriptPath,
		Args:       args,
		WorkDir:    c.settings.WorkDir,
	}, c, c.onSessionComplete)
	if err != nil {
		launchFailuresTotal.Inc()
		c.logger.Error("session launch failed", internallog.Error(err),
			slog.String(internallog.ScriptKey, c.settings.ScriptPath))
		c.registry.Clear()
		c.transitionLocked(Stopped, ExitExceptionInService, 0)
		c.signalStoppedLocked()
		return err
	}

	c.session.Store(sess)

	c.transitionLocked(Running, ExitNoError, 0)
	if c.settings.AutoLog {
		c.logger.Info("service started",
			slog.String("service", c.settings.DisplayName),
			slog.String("log_name", c.settings.LogName),
			slog.String(internallog.ScriptKey, c.settings.ScriptPath),
			slog.String(internallog.SessionIDKey, sess.ID()))
	}
	return nil
}

// onSessionComplete runs on the session's completion-notification
// goroutine. The stop sequence waits on the completion signal this
// goroutine just raised, so it must be posted to an independent goroutine,
// never called inline.
func (c *Controller) onSessionComplete(state engine.InvocationState) {
	lvl := slog.LevelInfo
	if state == engine.StateFailed {
		lvl = slog.LevelError
	}
	c.logger.Log(context.Background(), lvl, "script session ended",
		slog.String("invocation_state", state.String()))

	go func() {
		if err := c.Stop(); err != nil {
			c.logger.Error("self-initiated stop failed", internallog.Error(err))
		}
	}()
}

// Pause suspends the service. Valid only from Running. Subscriber errors
// are absorbed: they set the exception-in-service exit code on the final
// report but never block the transition.
func (c *Controller) Pause() error {
	return c.pauseContinue(Running, PausePending, Paused, events.CategoryPause)
}

// Continue resumes a paused service. Valid only from Paused.
func (c *Controller) Continue() error {
	return c.pauseContinue(Paused, ContinuePending, Running, events.CategoryContinue)
}

func (c *Controller) pauseContinue(from, pending, final State, cat events.Category) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != from {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, cat, c.State())
	}

	c.transitionLocked(pending, ExitNoError, 0)

	exit := ExitNoError
	if c.dispatch(events.Event{Category: cat}) > 0 {
		exit = ExitExceptionInService
	}

	c.transitionLocked(final, exit, 0)
	return nil
}

// Stop runs the stop sequence. Valid from any non-stopped state and
// idempotent: a stop request while already Stopped (or queued behind an
// in-flight stop) is a no-op.
//
// The calling goroutine blocks for up to the script-stop timeout while
// waiting for graceful completion; afterwards the session is forcibly
// terminated rather than waited on indefinitely.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == Stopped {
		// Already stopped, or queued behind a stop that just finished.
		c.logger.Debug("stop requested while already stopped")
		return nil
	}

	sess := c.session.Load()
	if sess != nil {
		// Unregister first so the completion we are about to wait for
		// cannot trigger a second stop.
		sess.ClearOnComplete()
	}

	c.transitionLocked(StopPending, ExitNoError, 0)

	win32, specific := ExitNoError, 0
	if sess != nil {
		// The session may complete between this check and the dispatch;
		// subscribers then miss the stop notification. That window is
		// inherent to observing the invocation state without blocking the
		// session.
		if sess.InvocationState() == engine.StateRunning {
			c.dispatch(events.Event{Category: events.CategoryStop})
			sess.RequestStop()
		}

		if sess.WaitForCompletion(c.settings.ScriptStopTimeout) {
			res := sess.Result()
			if res.Output != "" {
				c.logger.Info("script output",
					slog.String(internallog.SessionIDKey, sess.ID()),
					slog.String("output", res.Output))
			}
			if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
				c.logger.Error("script session failed", internallog.Error(res.Err),
					slog.String("invocation_state", sess.InvocationState().String()))
			}
			if code := int(c.scriptExit.Load()); code > 0 {
				win32 = ExitServiceSpecific
				specific = code
			}
		} else {
			if sess.ForceTerminate() {
				forcedTerminationsTotal.Inc()
				c.logger.Warn("script did not stop in time, terminating",
					slog.String(internallog.SessionIDKey, sess.ID()),
					slog.Int64(internallog.DurationKey, c.settings.ScriptStopTimeout.Milliseconds()))
			}
		}

		sess.Dispose()
		c.session.Store(nil)
	}

	// Once stopped, previously registered handlers are invalid; the next
	// start re-subscribes from scratch.
	c.registry.Clear()

	c.transitionLocked(Stopped, win32, specific)
	if c.settings.AutoLog {
		c.logger.Info("service stopped",
			slog.String("service", c.settings.DisplayName),
			slog.Int(internallog.ExitCodeKey, win32),
			slog.Int("service_exit_code", specific))
	}
	c.signalStoppedLocked()
	return nil
}

// Shutdown handles the OS shutdown notification: the shutdown event is
// forwarded to subscribers, then the normal stop sequence runs.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	if c.State() == Stopped {
		c.mu.Unlock()
		return nil
	}
	c.dispatch(events.Event{Category: events.CategoryShutdown})
	c.mu.Unlock()

	return c.Stop()
}

// HandlePowerEvent forwards a power broadcast to subscribers when power
// handling is enabled. The return value answers query-suspend requests from
// configuration alone, independent of subscriber outcome. Never changes the
// lifecycle state.
func (c *Controller) HandlePowerEvent(status events.PowerStatus) bool {
	if c.settings.CanHandlePowerEvent {
		c.dispatch(events.Event{Category: events.CategoryPower, Power: status})
	}
	if status == events.PowerQuerySuspend {
		return c.settings.AllowSuspend
	}
	return true
}

// HandleSessionChange forwards an OS session-change notification to
// subscribers. Never changes the lifecycle state.
func (c *Controller) HandleSessionChange(reason events.SessionChangeReason, sessionID int) {
	c.dispatch(events.Event{
		Category:      events.CategorySessionChange,
		SessionChange: events.SessionChange{Reason: reason, SessionID: sessionID},
	})
}

// HandleCustomCommand forwards a custom control code to subscribers. Never
// changes the lifecycle state.
func (c *Controller) HandleCustomCommand(code int) {
	c.dispatch(events.Event{Category: events.CategoryCustomCommand, CommandCode: code})
}

// dispatch forwards ev to subscribers, logging each subscriber failure with
// the category name and returning how many handlers failed. Failures never
// propagate past this boundary.
func (c *Controller) dispatch(ev events.Event) int {
	errs := c.registry.Dispatch(ev)
	for _, err := range errs {
		subscriberErrorsTotal.WithLabelValues(ev.Category.String()).Inc()
		c.logger.Error("subscriber error", internallog.Error(err),
			slog.String(internallog.CategoryKey, ev.Category.String()))
	}
	return len(errs)
}

// transitionLocked mutates the lifecycle state and emits the status report.
// Callers must hold mu.
func (c *Controller) transitionLocked(to State, win32, specific int) {
	c.state.Store(int32(to))

	rep := StatusReport{
		State:                   to,
		Win32ExitCode:           win32,
		ServiceSpecificExitCode: specific,
	}
	if to.Pending() {
		c.checkpoint++
		rep.Checkpoint = c.checkpoint
		rep.WaitHintMillis = int(c.waitHint(to).Milliseconds())
	} else {
		c.checkpoint = 0
	}

	transitionsTotal.WithLabelValues(to.String()).Inc()
	c.reporter.Report(rep)

	if c.sink != nil {
		if err := c.sink.RecordTransition(rep); err != nil {
			c.logger.Warn("transition history write failed", internallog.Error(err))
		}
	}
}

func (c *Controller) waitHint(s State) time.Duration {
	switch s {
	case StartPending:
		return c.settings.StartTimeout
	case StopPending:
		return c.settings.StopTimeout
	case PausePending:
		return c.settings.PauseTimeout
	case ContinuePending:
		return c.settings.ContinueTimeout
	default:
		return 0
	}
}

func (c *Controller) signalStoppedLocked() {
	c.stoppedMu.Lock()
	if c.stoppedCh != nil {
		close(c.stoppedCh)
		c.stoppedCh = nil
	}
	c.stoppedMu.Unlock()
}

// AllowSuspend implements engine.Host.
func (c *Controller) AllowSuspend() bool { return c.settings.AllowSuspend }

// PowerEventsEnabled implements engine.Host.
func (c *Controller) PowerEventsEnabled() bool { return c.settings.CanHandlePowerEvent }

// Subscribe implements engine.Host.
func (c *Controller) Subscribe(cat events.Category, h events.Handler) events.Subscription {
	return c.registry.Subscribe(cat, h)
}

// Unsubscribe implements engine.Host.
func (c *Controller) Unsubscribe(sub events.Subscription) {
	c.registry.Unsubscribe(sub)
}

// RequestShutdown implements engine.Host: a script-initiated stop. The exit
// code is recorded for the stop sequence, which runs on an independent
// goroutine so the session goroutine never waits on its own termination.
func (c *Controller) RequestShutdown(exitCode int) {
	c.scriptExit.Store(int64(exitCode))
	go func() {
		if err := c.Stop(); err != nil {
			c.logger.Error("script-requested stop failed", internallog.Error(err))
		}
	}()
}
