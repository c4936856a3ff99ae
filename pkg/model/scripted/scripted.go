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

// Package scripted provides a deterministic in-memory provider that
// replays pre-written delta scripts. It backs tests and local dry runs.
package scripted

import (
	"context"
	"iter"
	"sync"

	"github.com/strandai/strand/pkg/model"
)

// Script is the delta sequence one provider call replays, optionally
// ending in an error.
type Script struct {
	Deltas []model.ChoiceDelta
	Err    error
}

// Provider replays scripts in order, one per Stream call. When calls
// outnumber scripts the last script repeats. Requests are recorded for
// assertion.
type Provider struct {
	name string

	mu       sync.Mutex
	scripts  []Script
	calls    int
	requests []model.Request
}

// New builds a provider over the given scripts.
func New(scripts ...Script) *Provider {
	return &Provider{name: "scripted", scripts: scripts}
}

// Name implements model.Provider.
func (p *Provider) Name() string { return p.name }

// Stream implements model.Provider.
func (p *Provider) Stream(ctx context.Context, req model.Request) iter.Seq2[model.ChoiceDelta, error] {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	idx := p.calls
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	p.calls++
	var script Script
	if idx >= 0 {
		script = p.scripts[idx]
	}
	p.mu.Unlock()

	return func(yield func(model.ChoiceDelta, error) bool) {
		for _, d := range script.Deltas {
			if err := ctx.Err(); err != nil {
				yield(model.ChoiceDelta{}, err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
		if script.Err != nil {
			yield(model.ChoiceDelta{}, script.Err)
		}
	}
}

// Calls reports how many times Stream was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns a copy of every request seen so far.
func (p *Provider) Requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

var _ model.Provider = (*Provider)(nil)
