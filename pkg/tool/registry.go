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

package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/strandai/strand/pkg/model"
)

// Registry holds an ordered list of tool providers. Resolution picks
// the first provider that serves a tool name; registration order is the
// precedence order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	log       *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log}
}

// Register appends a provider. Provider names must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.providers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("tool provider %q already registered", p.Name())
		}
	}
	r.providers = append(r.providers, p)
	return nil
}

// Providers returns a snapshot of the registered providers in order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Resolve returns the first provider serving the tool name, with its
// definition, or nil when none does. Provider lookup errors are logged
// and treated as "does not serve".
func (r *Registry) Resolve(ctx context.Context, name string) (Provider, *model.ToolDefinition) {
	for _, p := range r.Providers() {
		def, err := p.GetTool(ctx, name)
		if err != nil {
			r.log.Warn("tool lookup failed", "provider", p.Name(), "tool", name, "error", err)
			continue
		}
		if def != nil {
			return p, def
		}
	}
	return nil, nil
}

// ListAll queries every provider's ListTools concurrently and flattens
// the results in registration order. Duplicate ids are kept; resolution
// order decides which provider serves a duplicated name. A provider
// failure is logged and its tools are omitted.
func (r *Registry) ListAll(ctx context.Context) []model.ToolDefinition {
	providers := r.Providers()
	results := make([][]model.ToolDefinition, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			defs, err := p.ListTools(gctx)
			if err != nil {
				r.log.Warn("listing tools failed", "provider", p.Name(), "error", err)
				return nil
			}
			results[i] = defs
			return nil
		})
	}
	_ = g.Wait()

	var out []model.ToolDefinition
	seen := make(map[string]string)
	for i, defs := range results {
		for _, def := range defs {
			if prev, dup := seen[def.Name]; dup {
				r.log.Warn("duplicate tool id across providers",
					"tool", def.Name, "serving", prev, "shadowed", providers[i].Name())
			} else {
				seen[def.Name] = providers[i].Name()
			}
			out = append(out, def)
		}
	}
	return out
}
