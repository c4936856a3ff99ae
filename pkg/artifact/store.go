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

// Package artifact provides the typed artifact store consumed by tools
// and exposed over the task API.
package artifact

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no artifact matches the id.
var ErrNotFound = errors.New("artifact not found")

// Type classifies an artifact.
type Type string

const (
	TypeFile    Type = "file"
	TypeData    Type = "data"
	TypeDataset Type = "dataset"
)

// Artifact is one stored artifact. File artifacts carry Data; data and
// dataset artifacts carry Value.
type Artifact struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	ContextID string    `json:"contextId"`
	Type      Type      `json:"type"`
	Name      string    `json:"name,omitempty"`
	MimeType  string    `json:"mimeType,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	Value     any       `json:"value,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the artifact store contract. Reads are idempotent.
type Store interface {
	Put(ctx context.Context, a *Artifact) error
	Get(ctx context.Context, id string) (*Artifact, error)
	ListByTask(ctx context.Context, taskID string) ([]*Artifact, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the in-process Store used by the default runtime.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Artifact
	byTask map[string][]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Artifact),
		byTask: make(map[string][]string),
	}
}

// Put stores the artifact, assigning an id and timestamp when missing.
func (s *MemoryStore) Put(_ context.Context, a *Artifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[a.ID]; !exists {
		s.byTask[a.TaskID] = append(s.byTask[a.TaskID], a.ID)
	}
	s.byID[a.ID] = a
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) ListByTask(_ context.Context, taskID string) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTask[taskID]
	out := make([]*Artifact, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	ids := s.byTask[a.TaskID]
	for i, v := range ids {
		if v == id {
			s.byTask[a.TaskID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
