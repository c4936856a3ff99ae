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

// Package stream fans one provider delta stream into four derived
// streams: cleaned content text, recognised thought tags, assembled
// tool calls, and the single aggregated final record.
//
// The upstream is subscribed exactly once, no matter how many derived
// streams are consumed; a single goroutine drives the aggregator and
// feeds the channels. Opening N independent provider calls to serve N
// consumers would be a correctness bug, not an optimisation.
package stream

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
	"github.com/strandai/strand/pkg/tagparser"
)

// DefaultThoughtTags is the recognised thought-tag name set used when
// none is configured.
var DefaultThoughtTags = []string{
	"thinking", "analysis", "reasoning", "planning",
	"reflection", "decision", "observation", "strategy",
}

const defaultBuffer = 64

// Outcome is the terminal element of a pipeline: the aggregated record,
// or the upstream error that ended the stream early.
type Outcome struct {
	Aggregated model.Aggregated
	Err        error
}

// Pipeline exposes the four derived streams of one LLM call.
//
// Channel closing order is fixed: Content and Thoughts close when the
// upstream ends, then ToolCalls delivers the assembled calls and closes,
// then Final delivers exactly one Outcome. Consumers that drain the
// channels in that order never block.
type Pipeline struct {
	content   chan string
	thoughts  chan tagparser.Tag
	toolCalls chan event.ToolCall
	final     chan Outcome
}

// Content streams cleaned text fragments with inline tags removed.
func (p *Pipeline) Content() <-chan string { return p.content }

// Thoughts streams extracted tags whose name is in the recognised set.
func (p *Pipeline) Thoughts() <-chan tagparser.Tag { return p.thoughts }

// ToolCalls delivers each assembled call exactly once, with parsed
// object-valued arguments, after the upstream terminates.
func (p *Pipeline) ToolCalls() <-chan event.ToolCall { return p.toolCalls }

// Final delivers the single aggregated record.
func (p *Pipeline) Final() <-chan Outcome { return p.final }

// Option configures a pipeline.
type Option func(*options)

type options struct {
	thoughtTags map[string]bool
	buffer      int
}

// WithThoughtTags replaces the recognised thought-tag name set.
func WithThoughtTags(names []string) Option {
	return func(o *options) {
		o.thoughtTags = make(map[string]bool, len(names))
		for _, n := range names {
			o.thoughtTags[n] = true
		}
	}
}

// WithBuffer sets the derived-channel buffer depth.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// Run subscribes to the upstream exactly once and starts the fan-out.
// The upstream is consumed on a dedicated goroutine; cancellation of ctx
// abandons the remaining upstream and surfaces ctx's error in Final.
func Run(ctx context.Context, upstream iter.Seq2[model.ChoiceDelta, error], opts ...Option) *Pipeline {
	o := options{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.thoughtTags == nil {
		WithThoughtTags(DefaultThoughtTags)(&o)
	}

	p := &Pipeline{
		content:   make(chan string, o.buffer),
		thoughts:  make(chan tagparser.Tag, o.buffer),
		toolCalls: make(chan event.ToolCall, o.buffer),
		final:     make(chan Outcome, 1),
	}
	go p.run(ctx, upstream, o)
	return p
}

func (p *Pipeline) run(ctx context.Context, upstream iter.Seq2[model.ChoiceDelta, error], o options) {
	agg := model.NewAggregator()
	var streamErr error

	for d, err := range upstream {
		if err != nil {
			streamErr = err
			break
		}
		if !p.fanOut(ctx, agg.Push(d), o) {
			streamErr = ctx.Err()
			break
		}
		if ctx.Err() != nil {
			streamErr = ctx.Err()
			break
		}
	}

	aggregated, tail := agg.Close()
	if streamErr == nil {
		p.fanOut(ctx, tail, o)
	}
	close(p.content)
	close(p.thoughts)

	if streamErr == nil {
		for _, c := range aggregated.ToolCalls {
			if !sendCtx(ctx, p.toolCalls, parseCall(c)) {
				streamErr = ctx.Err()
				break
			}
		}
	}
	close(p.toolCalls)

	p.final <- Outcome{Aggregated: aggregated, Err: streamErr}
	close(p.final)
}

// fanOut routes parser emissions to the content and thoughts channels.
func (p *Pipeline) fanOut(ctx context.Context, ems []tagparser.Emission, o options) bool {
	for _, em := range ems {
		if em.Tag != nil {
			if !o.thoughtTags[em.Tag.Name] {
				continue // unrecognised tags are discarded
			}
			if !sendCtx(ctx, p.thoughts, *em.Tag) {
				return false
			}
			continue
		}
		if !sendCtx(ctx, p.content, em.Text) {
			return false
		}
	}
	return true
}

func sendCtx[T any](ctx context.Context, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseCall converts an assembled call into its public shape, parsing
// the accumulated argument text into an object. Unparseable argument
// text degrades to an empty object; schema validation downstream turns
// that into a tool execution error.
func parseCall(c model.AssembledToolCall) event.ToolCall {
	args := make(map[string]any)
	if c.Arguments != "" {
		_ = json.Unmarshal([]byte(c.Arguments), &args)
	}
	id := c.ID
	if id == "" {
		id = event.NewID()
	}
	return event.ToolCall{ID: id, Name: c.Name, Arguments: args}
}

// ThoughtPayload maps a recognised tag to its public event payload:
// thoughtType from the thoughtType attribute (else the tag name) and
// verbosity from the verbosity attribute (default "normal").
func ThoughtPayload(t tagparser.Tag) *event.ThoughtPayload {
	return &event.ThoughtPayload{
		ThoughtType: attrString(t.Attributes, "thoughtType", t.Name),
		Verbosity:   attrString(t.Attributes, "verbosity", "normal"),
		Content:     t.Body,
		Attributes:  t.Attributes,
	}
}

func attrString(attrs map[string]any, key, fallback string) string {
	switch v := attrs[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case []string:
		if len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return fallback
}
