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

// Package bus is the in-process event backbone: a bounded per-context
// event log with monotonic sequence ids, and a router fanning published
// events out to filtered subscribers with drop-oldest backpressure.
package bus

import (
	"sync"

	"github.com/strandai/strand/pkg/event"
)

// DefaultLogCapacity bounds each context's event log.
const DefaultLogCapacity = 1024

// Entry is one logged event with its per-context sequence id. Ids start
// at 1 and increase by one per append; they never repeat within a
// context, even after eviction.
type Entry struct {
	ID    uint64
	Event event.Event
}

// ring is a fixed-capacity event log for one context.
type ring struct {
	buf   []Entry
	start int
	size  int
	next  uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Entry, capacity), next: 1}
}

func (r *ring) append(ev event.Event) Entry {
	e := Entry{ID: r.next, Event: ev}
	r.next++
	if r.size == len(r.buf) {
		r.buf[r.start] = e
		r.start = (r.start + 1) % len(r.buf)
		return e
	}
	r.buf[(r.start+r.size)%len(r.buf)] = e
	r.size++
	return e
}

func (r *ring) oldest() (uint64, bool) {
	if r.size == 0 {
		return 0, false
	}
	return r.buf[r.start].ID, true
}

func (r *ring) last() uint64 { return r.next - 1 }

// replay returns the retained entries with id > since, in order, and
// whether evicted entries fall in the requested range.
func (r *ring) replay(since uint64) ([]Entry, bool) {
	oldest, ok := r.oldest()
	if !ok {
		return nil, since < r.last()
	}
	gap := since+1 < oldest
	var out []Entry
	for i := 0; i < r.size; i++ {
		e := r.buf[(r.start+i)%len(r.buf)]
		if e.ID > since {
			out = append(out, e)
		}
	}
	return out, gap
}

// Log holds one bounded event log per context.
type Log struct {
	capacity int

	mu    sync.RWMutex
	rings map[string]*ring
}

// NewLog builds an event log with the given per-context capacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{capacity: capacity, rings: make(map[string]*ring)}
}

// Append logs an event under its context and returns the stamped entry.
func (l *Log) Append(ev event.Event) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rings[ev.ContextID]
	if !ok {
		r = newRing(l.capacity)
		l.rings[ev.ContextID] = r
	}
	return r.append(ev)
}

// Replay returns the retained entries for a context with id > since and
// whether any requested entries were already evicted.
func (l *Log) Replay(contextID string, since uint64) ([]Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.rings[contextID]
	if !ok {
		return nil, false
	}
	return r.replay(since)
}

// Last returns the newest sequence id issued for a context, zero when
// nothing was logged.
func (l *Log) Last(contextID string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.rings[contextID]
	if !ok {
		return 0
	}
	return r.last()
}

// Drop discards a context's log entirely.
func (l *Log) Drop(contextID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rings, contextID)
}
