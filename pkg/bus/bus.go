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
	"sync"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/observability"
)

// Bus couples the event log with the router: publishing appends to the
// context's log and fans the stamped entry out to live subscribers.
type Bus struct {
	log     *Log
	router  *Router
	logger  *slog.Logger
	metrics *observability.Metrics
	buffer  int

	// pubMu serialises publish-vs-subscribe so a replaying subscriber
	// never misses or double-receives an entry.
	pubMu sync.Mutex
}

// BusOption configures a bus.
type BusOption func(*Bus)

// WithLogCapacity sets the per-context log capacity.
func WithLogCapacity(n int) BusOption {
	return func(b *Bus) { b.log = NewLog(n) }
}

// WithBusLogger sets the bus logger.
func WithBusLogger(log *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = log }
}

// WithBusMetrics wires publish and drop counters.
func WithBusMetrics(m *observability.Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// WithSubscriberBuffer sets the queue size used when a subscriber does
// not ask for one.
func WithSubscriberBuffer(n int) BusOption {
	return func(b *Bus) { b.buffer = n }
}

// New builds a bus with default capacities.
func New(opts ...BusOption) *Bus {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = NewLog(DefaultLogCapacity)
	}
	b.router = NewRouter(b.logger, b.metrics)
	return b
}

// Publish logs the event and routes it to subscribers, returning the
// stamped entry.
func (b *Bus) Publish(ev event.Event) Entry {
	b.pubMu.Lock()
	e := b.log.Append(ev)
	b.router.Route(e)
	b.pubMu.Unlock()
	b.metrics.EventPublished(string(ev.Kind))
	return e
}

// Subscribe registers a live subscriber for a context.
func (b *Bus) Subscribe(contextID string, filter Filter, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = b.buffer
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.router.Add(contextID, filter, buffer)
}

// SubscribeWithReplay registers a subscriber and pre-queues the
// retained entries with id > since that pass the filter. It reports
// whether part of the requested range was already evicted.
func (b *Bus) SubscribeWithReplay(contextID string, since uint64, filter Filter, buffer int) (*Subscriber, bool) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	entries, gap := b.log.Replay(contextID, since)
	if buffer <= 0 {
		buffer = b.buffer
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if buffer < len(entries) {
		buffer = len(entries)
	}
	s := b.router.Add(contextID, filter, buffer)
	for _, e := range entries {
		if filter.Match(e.Event) {
			s.offer(e)
		}
	}
	return s, gap
}

// Unsubscribe removes and closes a subscriber.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.router.Remove(s)
}

// Replay returns the retained entries for a context with id > since.
func (b *Bus) Replay(contextID string, since uint64) ([]Entry, bool) {
	return b.log.Replay(contextID, since)
}

// Last returns the newest sequence id for a context.
func (b *Bus) Last(contextID string) uint64 {
	return b.log.Last(contextID)
}

// DropContext discards a context's log and closes its subscribers.
func (b *Bus) DropContext(contextID string) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.log.Drop(contextID)
	b.router.CloseContext(contextID)
}

// Close closes every subscriber; the logs stay readable.
func (b *Bus) Close() {
	b.router.CloseAll()
}
