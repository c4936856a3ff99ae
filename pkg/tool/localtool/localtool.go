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

// Package localtool provides an in-process tool provider. Tools are
// plain Go functions; parameter schemas can be written by hand or
// reflected from an argument struct.
package localtool

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
	"github.com/strandai/strand/pkg/tool"
)

// Handler executes one tool call and returns its result value.
type Handler func(ctx context.Context, args map[string]any, ec tool.ExecContext) (any, error)

type entry struct {
	def     model.ToolDefinition
	handler Handler
}

// Provider is a registry of in-process tools.
type Provider struct {
	name string

	mu    sync.RWMutex
	tools map[string]entry
	order []string
}

// New returns an empty provider with the given name.
func New(name string) *Provider {
	return &Provider{name: name, tools: make(map[string]entry)}
}

// NewBuiltins returns a provider preloaded with the built-in tools.
func NewBuiltins() *Provider {
	p := New("builtin")
	registerBuiltins(p)
	return p
}

// Register adds one tool. The definition is validated; duplicate names
// within the provider are rejected.
func (p *Provider) Register(def model.ToolDefinition, h Handler) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	p.tools[def.Name] = entry{def: def, handler: h}
	p.order = append(p.order, def.Name)
	return nil
}

// Name implements tool.Provider.
func (p *Provider) Name() string { return p.name }

// GetTool implements tool.Provider.
func (p *Provider) GetTool(_ context.Context, name string) (*model.ToolDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.tools[name]
	if !ok {
		return nil, nil
	}
	def := e.def
	return &def, nil
}

// ListTools implements tool.Provider.
func (p *Provider) ListTools(_ context.Context) ([]model.ToolDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.ToolDefinition, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.tools[name].def)
	}
	return out, nil
}

// ExecuteTool implements tool.Provider. The handler runs synchronously;
// its result (or error) becomes the final tool-complete event.
func (p *Provider) ExecuteTool(ctx context.Context, call event.ToolCall, ec tool.ExecContext) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		p.mu.RLock()
		e, ok := p.tools[call.Name]
		p.mu.RUnlock()
		if !ok {
			yield(event.Event{}, fmt.Errorf("unknown tool %q", call.Name))
			return
		}
		if err := ctx.Err(); err != nil {
			yield(event.Event{}, err)
			return
		}

		result, err := e.handler(ctx, call.Arguments, ec)
		if err != nil {
			yield(tool.CompleteEvent(ec, tool.Result{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Success:    false,
				Error:      err.Error(),
			}), nil)
			return
		}
		yield(tool.CompleteEvent(ec, tool.Result{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    true,
			Result:     result,
		}), nil)
	}
}

// SchemaFor reflects an object-typed JSON Schema from an argument
// struct type.
func SchemaFor(v any) map[string]any {
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(v)
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	// The runtime only needs the object schema, not draft metadata.
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

type echoArgs struct {
	Message string `json:"message" jsonschema:"title=Message,description=Text to echo back"`
}

func registerBuiltins(p *Provider) {
	// Registration of the built-in set only fails on programmer error.
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(p.Register(model.ToolDefinition{
		Name:        "echo",
		Description: "Echo the given message back verbatim.",
		Parameters:  SchemaFor(&echoArgs{}),
	}, func(_ context.Context, args map[string]any, _ tool.ExecContext) (any, error) {
		msg, _ := args["message"].(string)
		return msg, nil
	}))

	must(p.Register(model.ToolDefinition{
		Name:        "clock",
		Description: "Report the current UTC time.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(_ context.Context, _ map[string]any, _ tool.ExecContext) (any, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	}))
}

var _ tool.Provider = (*Provider)(nil)
