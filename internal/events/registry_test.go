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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchOrder(t *testing.T) {
	r := NewRegistry()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		r.Subscribe(CategoryPause, func(Event) error {
			order = append(order, i)
			return nil
		})
	}

	errs := r.Dispatch(Event{Category: CategoryPause})
	require.Empty(t, errs)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order, "handlers must run in subscription order")
}

func TestDispatchCollectsErrorsAndContinues(t *testing.T) {
	r := NewRegistry()

	boom := errors.New("boom")
	var calls int

	r.Subscribe(CategoryStop, func(Event) error { calls++; return boom })
	r.Subscribe(CategoryStop, func(Event) error { calls++; panic("handler exploded") })
	r.Subscribe(CategoryStop, func(Event) error { calls++; return nil })

	errs := r.Dispatch(Event{Category: CategoryStop})
	assert.Equal(t, 3, calls, "a failing handler must not stop delivery")
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], boom)
	assert.Contains(t, errs[1].Error(), "handler panic")
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry()

	var got []string
	subA := r.Subscribe(CategoryContinue, func(Event) error { got = append(got, "a"); return nil })
	r.Subscribe(CategoryContinue, func(Event) error { got = append(got, "b"); return nil })

	r.Unsubscribe(subA)
	// Double removal is a no-op.
	r.Unsubscribe(subA)
	// Zero-value token is a no-op.
	r.Unsubscribe(Subscription{})

	r.Dispatch(Event{Category: CategoryContinue})
	assert.Equal(t, []string{"b"}, got)
	assert.Equal(t, 1, r.Count(CategoryContinue))
}

func TestClearEmptyRegistry(t *testing.T) {
	r := NewRegistry()
	r.Clear()

	for cat := CategoryPower; cat < numCategories; cat++ {
		assert.Zero(t, r.Count(cat))
	}
}

func TestClearWaitsForInflightDispatch(t *testing.T) {
	r := NewRegistry()

	entered := make(chan struct{})
	release := make(chan struct{})
	r.Subscribe(CategoryShutdown, func(Event) error {
		close(entered)
		<-release
		return nil
	})

	go r.Dispatch(Event{Category: CategoryShutdown})
	<-entered

	cleared := make(chan struct{})
	go func() {
		r.Clear()
		close(cleared)
	}()

	select {
	case <-cleared:
		t.Fatal("Clear returned while a dispatch for the same category was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("Clear did not complete after dispatch finished")
	}
	assert.Zero(t, r.Count(CategoryShutdown))
}

func TestIndependentCategoriesDoNotBlock(t *testing.T) {
	r := NewRegistry()

	blocked := make(chan struct{})
	release := make(chan struct{})
	r.Subscribe(CategoryPower, func(Event) error {
		close(blocked)
		<-release
		return nil
	})
	r.Subscribe(CategoryCustomCommand, func(Event) error { return nil })

	go r.Dispatch(Event{Category: CategoryPower})
	<-blocked

	done := make(chan struct{})
	go func() {
		r.Dispatch(Event{Category: CategoryCustomCommand})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch of an unrelated category blocked behind another category's lock")
	}
	close(release)
}

func TestConcurrentSubscribeDispatch(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub := r.Subscribe(CategorySessionChange, func(Event) error { return nil })
				r.Unsubscribe(sub)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Dispatch(Event{Category: CategorySessionChange})
			}
		}()
	}
	wg.Wait()
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"power", CategoryPower, false},
		{"session-change", CategorySessionChange, false},
		{"PAUSE", CategoryPause, false},
		{"continue", CategoryContinue, false},
		{"shutdown", CategoryShutdown, false},
		{"stop", CategoryStop, false},
		{"custom-command", CategoryCustomCommand, false},
		{"customcommand", CategoryCustomCommand, false},
		{"bogus", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCategory(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
