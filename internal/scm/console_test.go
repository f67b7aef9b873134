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

//go:build !windows

package scm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptd/scriptd/internal/events"
	"github.com/scriptd/scriptd/internal/service"
)

type fakeController struct {
	mu       sync.Mutex
	calls    []string
	startErr error
	stopErr  error
	stopped  chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{stopped: make(chan struct{})}
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Start(args []string) error {
	f.record("start")
	return f.startErr
}

func (f *fakeController) Stop() error {
	f.record("stop")
	if f.stopErr == nil {
		close(f.stopped)
	}
	return f.stopErr
}

func (f *fakeController) Shutdown() error { f.record("shutdown"); return nil }
func (f *fakeController) Pause() error    { f.record("pause"); return nil }
func (f *fakeController) Continue() error { f.record("continue"); return nil }

func (f *fakeController) HandlePowerEvent(events.PowerStatus) bool { return true }

func (f *fakeController) HandleSessionChange(events.SessionChangeReason, int) {}

func (f *fakeController) HandleCustomCommand(int) {}

func (f *fakeController) State() service.State { return service.Running }

func (f *fakeController) Stopped() <-chan struct{} { return f.stopped }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunReturnsWhenControllerStops(t *testing.T) {
	ctrl := newFakeController()
	relay := &StatusRelay{}

	done := make(chan int, 1)
	go func() {
		code, err := Run(context.Background(), ctrl, service.Settings{}, relay, discardLogger(), nil)
		assert.NoError(t, err)
		done <- code
	}()

	// Simulate the controller finishing its stop path.
	time.Sleep(20 * time.Millisecond)
	relay.Report(service.StatusReport{
		State:                   service.Stopped,
		Win32ExitCode:           service.ExitServiceSpecific,
		ServiceSpecificExitCode: 5,
	})
	close(ctrl.stopped)

	select {
	case code := <-done:
		assert.Equal(t, 5, code)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after controller stopped")
	}
	assert.Equal(t, []string{"start"}, ctrl.recorded())
}

func TestRunStartFailure(t *testing.T) {
	ctrl := newFakeController()
	ctrl.startErr = errors.New("launch failed")
	relay := &StatusRelay{}
	relay.Report(service.StatusReport{State: service.Stopped, Win32ExitCode: service.ExitExceptionInService})

	code, err := Run(context.Background(), ctrl, service.Settings{}, relay, discardLogger(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, code)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctrl := newFakeController()
	relay := &StatusRelay{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		code, err := Run(ctx, ctrl, service.Settings{}, relay, discardLogger(), nil)
		assert.NoError(t, err)
		assert.Equal(t, 0, code)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Contains(t, ctrl.recorded(), "stop")
}

func TestHandleSignalMapping(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{os.Interrupt, "stop"},
		{syscall.SIGTERM, "stop"},
		{syscall.SIGUSR1, "pause"},
		{syscall.SIGUSR2, "continue"},
	}
	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			ctrl := newFakeController()
			r := &consoleRunner{ctrl: ctrl, logger: discardLogger()}
			r.handleSignal(tt.sig)
			assert.Equal(t, []string{tt.want}, ctrl.recorded())
		})
	}
}

func TestHandleSignalRejectedRequestLogged(t *testing.T) {
	ctrl := newFakeController()
	ctrl.stopErr = service.ErrInvalidTransition
	r := &consoleRunner{ctrl: ctrl, logger: discardLogger()}

	// Must not panic or close the stopped channel.
	r.handleSignal(syscall.SIGTERM)
	select {
	case <-ctrl.stopped:
		t.Fatal("stopped channel closed on rejected stop")
	default:
	}
}
