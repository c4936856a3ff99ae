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

// Package session persists per-context conversation history and serves
// token-budgeted slices of it to the turn loop.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/strandai/strand/pkg/model"
)

// ErrContextNotFound is returned when a context has no history.
var ErrContextNotFound = errors.New("context not found")

// Store persists conversation history per context.
type Store interface {
	// Append adds one message to a context's history, creating the
	// context on first use.
	Append(ctx context.Context, contextID string, msg model.Message) error

	// Messages returns the full history of a context in order.
	Messages(ctx context.Context, contextID string) ([]model.Message, error)

	// Recent returns the newest suffix of a context's history that fits
	// the token budget, in chronological order. A budget of zero means
	// no limit. The newest message is always included.
	Recent(ctx context.Context, contextID string, tokenBudget int) ([]model.Message, error)

	// Delete discards a context's history.
	Delete(ctx context.Context, contextID string) error
}

type record struct {
	messages []model.Message
	tokens   []int
	updated  time.Time
}

// MemoryStore is the in-memory Store. Token counts are computed once on
// append.
type MemoryStore struct {
	counter TokenCounter

	mu       sync.RWMutex
	contexts map[string]*record
}

// NewMemoryStore builds an in-memory store. A nil counter falls back to
// the default tokenizer.
func NewMemoryStore(counter TokenCounter) *MemoryStore {
	if counter == nil {
		counter = NewTiktokenCounter()
	}
	return &MemoryStore{counter: counter, contexts: make(map[string]*record)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, contextID string, msg model.Message) error {
	tokens := s.counter.Count(msg.Content)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.contexts[contextID]
	if !ok {
		r = &record{}
		s.contexts[contextID] = r
	}
	r.messages = append(r.messages, msg)
	r.tokens = append(r.tokens, tokens)
	r.updated = time.Now()
	return nil
}

// Messages implements Store.
func (s *MemoryStore) Messages(_ context.Context, contextID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.contexts[contextID]
	if !ok {
		return nil, ErrContextNotFound
	}
	out := make([]model.Message, len(r.messages))
	copy(out, r.messages)
	return out, nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(_ context.Context, contextID string, tokenBudget int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.contexts[contextID]
	if !ok {
		return nil, ErrContextNotFound
	}
	if tokenBudget <= 0 {
		out := make([]model.Message, len(r.messages))
		copy(out, r.messages)
		return out, nil
	}

	start := len(r.messages)
	budget := tokenBudget
	for start > 0 {
		cost := r.tokens[start-1]
		if cost > budget && start < len(r.messages) {
			break
		}
		budget -= cost
		start--
		if budget <= 0 {
			break
		}
	}
	out := make([]model.Message, len(r.messages)-start)
	copy(out, r.messages[start:])
	return out, nil
}

// Range returns messages [start, end) of a context's history. Bounds
// are clamped; a reversed range is empty.
func (s *MemoryStore) Range(_ context.Context, contextID string, start, end int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.contexts[contextID]
	if !ok {
		return nil, ErrContextNotFound
	}
	if start < 0 {
		start = 0
	}
	if end > len(r.messages) {
		end = len(r.messages)
	}
	if start >= end {
		return nil, nil
	}
	out := make([]model.Message, end-start)
	copy(out, r.messages[start:end])
	return out, nil
}

// Compact drops the oldest messages of a context, keeping the newest
// keep entries.
func (s *MemoryStore) Compact(_ context.Context, contextID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.contexts[contextID]
	if !ok {
		return ErrContextNotFound
	}
	if keep < 0 {
		keep = 0
	}
	if drop := len(r.messages) - keep; drop > 0 {
		r.messages = append([]model.Message(nil), r.messages[drop:]...)
		r.tokens = append([]int(nil), r.tokens[drop:]...)
		r.updated = time.Now()
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, contextID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
