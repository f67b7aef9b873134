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
	"sync"
	"sync/atomic"
)

// Subscription is a token returned by Subscribe and consumed by Unsubscribe.
// The zero value is not a valid subscription.
type Subscription struct {
	category Category
	id       uint64
}

// Category returns the category this subscription belongs to.
func (s Subscription) Category() Category { return s.category }

type subscriber struct {
	id      uint64
	handler Handler
}

// categoryList is the per-category subscriber collection. The mutex is held
// for the full duration of a dispatch, so add/remove/clear for one category
// never race with an in-flight dispatch of that category. Dispatches of
// different categories proceed independently.
type categoryList struct {
	mu   sync.Mutex
	subs []subscriber
}

// Registry is a thread-safe multi-subscriber event bus. Handlers for one
// category are invoked synchronously in subscription order. Handlers must
// not subscribe to or unsubscribe from the category they are being invoked
// for; other categories are fine.
type Registry struct {
	nextID     atomic.Uint64
	categories [numCategories]categoryList
}

// NewRegistry creates an empty registry covering all event categories.
func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe appends h to the subscriber list for cat and returns a token
// for later removal.
func (r *Registry) Subscribe(cat Category, h Handler) Subscription {
	id := r.nextID.Add(1)
	list := &r.categories[cat]
	list.mu.Lock()
	list.subs = append(list.subs, subscriber{id: id, handler: h})
	list.mu.Unlock()
	return Subscription{category: cat, id: id}
}

// Unsubscribe removes the subscription identified by sub. Removing a
// subscription that no longer exists is a no-op.
func (r *Registry) Unsubscribe(sub Subscription) {
	if sub.id == 0 {
		return
	}
	list := &r.categories[sub.category]
	list.mu.Lock()
	defer list.mu.Unlock()
	for i, s := range list.subs {
		if s.id == sub.id {
			list.subs = append(list.subs[:i], list.subs[i+1:]...)
			return
		}
	}
}

// Dispatch invokes every subscriber of ev.Category in subscription order on
// the calling goroutine. Each handler error, and each handler panic
// (recovered here), is collected; delivery always continues to the next
// subscriber. The returned slice has one entry per failing handler.
func (r *Registry) Dispatch(ev Event) []error {
	list := &r.categories[ev.Category]
	list.mu.Lock()
	defer list.mu.Unlock()

	var errs []error
	for _, s := range list.subs {
		if err := invoke(s.handler, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// invoke runs a single handler, converting a panic into an error.
func invoke(h Handler, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("events: handler panic: %v", rec)
		}
	}()
	return h(ev)
}

// Count returns the number of subscribers for cat.
func (r *Registry) Count(cat Category) int {
	list := &r.categories[cat]
	list.mu.Lock()
	defer list.mu.Unlock()
	return len(list.subs)
}

// Clear removes every subscription in every category. It is safe to call
// with zero subscribers and waits for any in-flight dispatch of each
// category before clearing it.
func (r *Registry) Clear() {
	for i := range r.categories {
		list := &r.categories[i]
		list.mu.Lock()
		list.subs = nil
		list.mu.Unlock()
	}
}
