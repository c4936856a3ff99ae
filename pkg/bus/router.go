// Copyright 2026 Strand Authors
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

package bus

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/observability"
)

// DefaultSubscriberBuffer bounds each subscriber's delivery queue.
const DefaultSubscriberBuffer = 256

// Filter selects which events a subscriber receives. The zero value
// passes every public event of the subscribed context and drops
// internal and debug kinds.
type Filter struct {
	// TaskID restricts delivery to one task; events whose parent task
	// matches are included so sub-agent activity stays visible.
	TaskID string
	// Internal, when true, also delivers internal-prefixed and debug
	// kinds.
	Internal bool
	// IncludeKinds, when non-empty, allows only the listed kinds.
	IncludeKinds []event.Kind
	// ExcludeKinds drops the listed kinds after inclusion.
	ExcludeKinds []event.Kind
	// Predicate, when set, is the final check.
	Predicate func(event.Event) bool
}

// Match reports whether the filter passes an event.
func (f Filter) Match(ev event.Event) bool {
	if f.TaskID != "" && ev.TaskID != f.TaskID && ev.ParentTaskID != f.TaskID {
		return false
	}
	if !f.Internal && (ev.Kind.IsInternal() || event.DebugKinds[ev.Kind]) {
		return false
	}
	if len(f.IncludeKinds) > 0 && !slices.Contains(f.IncludeKinds, ev.Kind) {
		return false
	}
	if slices.Contains(f.ExcludeKinds, ev.Kind) {
		return false
	}
	if f.Predicate != nil && !f.Predicate(ev) {
		return false
	}
	return true
}

// Subscriber is one bounded event consumer. When its queue is full the
// oldest queued entry is dropped so live delivery never blocks the
// publisher.
type Subscriber struct {
	id        string
	contextID string
	filter    Filter

	mu     sync.Mutex
	ch     chan Entry
	closed bool
}

// ID returns the subscriber id.
func (s *Subscriber) ID() string { return s.id }

// ContextID returns the subscribed context.
func (s *Subscriber) ContextID() string { return s.contextID }

// Events is the delivery channel; it closes when the subscriber is
// closed.
func (s *Subscriber) Events() <-chan Entry { return s.ch }

// offer enqueues without blocking, evicting the oldest queued entry on
// overflow. Reports whether an entry was dropped.
func (s *Subscriber) offer(e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- e:
			return false
		default:
		}
		select {
		case <-s.ch:
			// Evicted; retry the send.
		default:
		}
		select {
		case s.ch <- e:
			return true
		default:
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Router fans entries out to the subscribers of a context.
type Router struct {
	log     *slog.Logger
	metrics *observability.Metrics

	mu   sync.RWMutex
	subs map[string]map[string]*Subscriber
}

// NewRouter builds an empty router.
func NewRouter(log *slog.Logger, metrics *observability.Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:     log,
		metrics: metrics,
		subs:    make(map[string]map[string]*Subscriber),
	}
}

// Add registers a subscriber for a context and returns it.
func (r *Router) Add(contextID string, filter Filter, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	s := &Subscriber{
		id:        event.NewID(),
		contextID: contextID,
		filter:    filter,
		ch:        make(chan Entry, buffer),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.subs[contextID]
	if !ok {
		byID = make(map[string]*Subscriber)
		r.subs[contextID] = byID
	}
	byID[s.id] = s
	return s
}

// Remove unregisters and closes a subscriber.
func (r *Router) Remove(s *Subscriber) {
	r.mu.Lock()
	if byID, ok := r.subs[s.contextID]; ok {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(r.subs, s.contextID)
		}
	}
	r.mu.Unlock()
	s.close()
}

// Route delivers an entry to every matching subscriber of its context.
func (r *Router) Route(e Entry) {
	r.mu.RLock()
	var targets []*Subscriber
	for _, s := range r.subs[e.Event.ContextID] {
		if s.filter.Match(e.Event) {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if s.offer(e) {
			r.metrics.SubscriberDropped()
			r.log.Warn("subscriber queue overflow, oldest event dropped",
				"subscriber", s.id, "context", s.contextID)
		}
	}
}

// CloseContext removes and closes every subscriber of a context.
func (r *Router) CloseContext(contextID string) {
	r.mu.Lock()
	byID := r.subs[contextID]
	delete(r.subs, contextID)
	r.mu.Unlock()
	for _, s := range byID {
		s.close()
	}
}

// CloseAll removes and closes every subscriber.
func (r *Router) CloseAll() {
	r.mu.Lock()
	all := r.subs
	r.subs = make(map[string]map[string]*Subscriber)
	r.mu.Unlock()
	for _, byID := range all {
		for _, s := range byID {
			s.close()
		}
	}
}
