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
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scriptd/scriptd/internal/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeInvocation adapts a function to engine.Invocation.
type fakeInvocation struct {
	run func(ctx context.Context) engine.Result
}

func (f *fakeInvocation) Run(ctx context.Context) engine.Result { return f.run(ctx) }

// fakeEngine is an in-package engine double. Behavior is driven by runFn;
// launchErr, when set, fails Launch itself.
type fakeEngine struct {
	launchErr error
	runFn     func(ctx context.Context, host engine.Host) engine.Result

	mu       sync.Mutex
	launches int
}

func (e *fakeEngine) Launch(spec engine.LaunchSpec, host engine.Host) (engine.Invocation, error) {
	e.mu.Lock()
	e.launches++
	e.mu.Unlock()
	if e.launchErr != nil {
		return nil, e.launchErr
	}
	return &fakeInvocation{run: func(ctx context.Context) engine.Result {
		return e.runFn(ctx, host)
	}}, nil
}

func (e *fakeEngine) launchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches
}

// completesImmediately ends the session right away with no output.
func completesImmediately(context.Context, engine.Host) engine.Result {
	return engine.Result{}
}

// blocksUntilCancel runs until the session is asked to stop.
func blocksUntilCancel(ctx context.Context, _ engine.Host) engine.Result {
	<-ctx.Done()
	return engine.Result{Err: ctx.Err()}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLaunchFailureReturnsNoSession(t *testing.T) {
	boom := errors.New("engine out of fuel")
	sup := NewSupervisor(&fakeEngine{launchErr: boom}, discardLogger())

	sess, err := sup.Launch(engine.LaunchSpec{ScriptPath: "x.sh"}, nil, nil)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, sess)
}

func TestCompletionNotificationFiresExactlyOnce(t *testing.T) {
	sup := NewSupervisor(&fakeEngine{runFn: completesImmediately}, discardLogger())

	var fired atomic.Int32
	states := make(chan engine.InvocationState, 4)

	sess, err := sup.Launch(engine.LaunchSpec{ScriptPath: "x.sh"}, nil, func(st engine.InvocationState) {
		fired.Add(1)
		states <- st
	})
	require.NoError(t, err)

	require.True(t, sess.WaitForCompletion(time.Second))
	// Give the notification goroutine a beat past the completion signal.
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, engine.StateCompleted, <-states)
	assert.Equal(t, engine.StateCompleted, sess.InvocationState())
	assert.Equal(t, int32(1), fired.Load())
	sess.Dispose()
}

func TestTerminalStateFromError(t *testing.T) {
	fail := errors.New("script blew up")
	tests := []struct {
		name string
		run  func(ctx context.Context, host engine.Host) engine.Result
		stop bool
		want engine.InvocationState
	}{
		{"clean completion", completesImmediately, false, engine.StateCompleted},
		{"failure", func(context.Context, engine.Host) engine.Result {
			return engine.Result{Err: fail}
		}, false, engine.StateFailed},
		{"cooperative stop", blocksUntilCancel, true, engine.StateStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup := NewSupervisor(&fakeEngine{runFn: tt.run}, discardLogger())
			sess, err := sup.Launch(engine.LaunchSpec{ScriptPath: "x.sh"}, nil, nil)
			require.NoError(t, err)
			if tt.stop {
				sess.RequestStop()
			}
			require.True(t, sess.WaitForCompletion(time.Second))
			assert.Equal(t, tt.want, sess.InvocationState())
			sess.Dispose()
		})
	}
}

func TestForceTerminate(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// Ignores cancellation entirely, like a wedged script.
	wedged := func(context.Context, engine.Host) engine.Result {
		<-release
		return engine.Result{}
	}

	sup := NewSupervisor(&fakeEngine{runFn: wedged}, discardLogger())
	sess, err := sup.Launch(engine.LaunchSpec{ScriptPath: "x.sh"}, nil, nil)
	require.NoError(t, err)

	require.False(t, sess.WaitForCompletion(20*time.Millisecond))

	assert.True(t, sess.ForceTerminate(), "first force must act")
	assert.False(t, sess.ForceTerminate(), "second force must be a no-op")
	sess.Dispose()
}

func TestForceTerminateAfterCompletionIsNoop(t *testing.T) {
	sup := NewSupervisor(&fakeEngine{runFn: completesImmediately}, discardLogger())
	sess, err := sup.Launch(engine.LaunchSpec{ScriptPath: "x.sh"}, nil, nil)
	require.NoError(t, err)

	require.True(t, sess.WaitForCompletion(time.Second))
	assert.False(t, sess.ForceTerminate())
	assert.Equal(t, engine.StateCompleted, sess.InvocationState())
	sess.Dispose()
}

func TestResultCarriesOutput(t *testing.T) {
	sup := NewSupervisor(&fakeEngine{runFn: func(context.Context, engine.Host) engine.Result {
		return engine.Result{Output: "hello from the script\n"}
	}}, discardLogger())

	sess, err := sup.Launch(engine.LaunchSpec{ScriptPath: "x.sh"}, nil, nil)
	require.NoError(t, err)
	require.True(t, sess.WaitForCompletion(time.Second))
	assert.Equal(t, "hello from the script\n", sess.Result().Output)
	sess.Dispose()
}

func TestClearOnCompleteSuppressesNotification(t *testing.T) {
	release := make(chan struct{})
	var fired atomic.Int32

	sup := NewSupervisor(&fakeEngine{runFn: func(context.Context, engine.Host) engine.Result {
		<-release
		return engine.Result{}
	}}, discardLogger())

	sess, err := sup.Launch(engine.LaunchSpec{ScriptPath: "x.sh"}, nil, func(engine.InvocationState) {
		fired.Add(1)
	})
	require.NoError(t, err)

	sess.ClearOnComplete()
	close(release)
	require.True(t, sess.WaitForCompletion(time.Second))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fired.Load(), "completion after unregistering must not notify")
	sess.Dispose()
}
