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

// Package task tracks turn lifecycle records: which tasks exist, what
// state they are in, and what they finally produced.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/strandai/strand/pkg/event"
)

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("task not found")

// Task is one turn's lifecycle record.
type Task struct {
	ID        string             `json:"id"`
	ContextID string             `json:"contextId"`
	AgentID   string             `json:"agentId,omitempty"`
	State     event.TaskState    `json:"state"`
	Reason    string             `json:"reason,omitempty"`
	Content   string             `json:"content,omitempty"`
	Finish    event.FinishReason `json:"finishReason,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Terminal reports whether the task reached a final state.
func (t Task) Terminal() bool {
	switch t.State {
	case event.TaskCompleted, event.TaskFailed, event.TaskCanceled:
		return true
	}
	return false
}

// Store persists task records.
type Store interface {
	// Create registers a new submitted task.
	Create(ctx context.Context, t Task) error

	// Get returns a task by id.
	Get(ctx context.Context, taskID string) (Task, error)

	// Update applies fn to the stored task under the store lock.
	Update(ctx context.Context, taskID string, fn func(*Task)) error

	// List returns a context's tasks, newest first.
	List(ctx context.Context, contextID string) ([]Task, error)

	// Delete removes a task record.
	Delete(ctx context.Context, taskID string) error
}

// MemoryStore is the in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
	order []string
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, t Task) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.State == "" {
		t.State = event.TaskSubmitted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return errors.New("task id already exists")
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, taskID string, fn func(*Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	fn(&t)
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, contextID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for i := len(s.order) - 1; i >= 0; i-- {
		t, ok := s.tasks[s.order[i]]
		if ok && t.ContextID == contextID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
