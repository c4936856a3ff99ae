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

package agent

import (
	"context"
	"errors"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
	"github.com/strandai/strand/pkg/stream"
)

// errAborted signals that the event consumer detached; the turn winds
// down silently.
var errAborted = errors.New("event consumer detached")

// iterationResult is what one LLM-call-plus-tools cycle produced.
type iterationResult struct {
	aggregated model.Aggregated
	toolFailed bool
}

// runIteration executes one complete cycle: prepare messages, list
// tools, call the provider, fan the delta stream out, and dispatch the
// assembled tool calls in parallel. Every produced event goes through
// emit; deltaIndex keeps content-delta indexes monotonic across the
// whole task.
func (a *Agent) runIteration(
	ctx context.Context,
	lc LoopContext,
	n int,
	history []model.Message,
	deltaIndex *int,
	emit func(event.Event) bool,
) (*iterationResult, error) {
	ctx, span := a.tracer.Start(ctx, "agent.iteration",
		trace.WithAttributes(
			attribute.String("agent.id", a.id),
			attribute.Int("iteration", n),
		))
	defer span.End()

	messages := PrepareMessages(lc, history)
	tools := a.registry.ListAll(ctx)

	upstream := a.provider.Stream(ctx, model.Request{
		Messages:  messages,
		Tools:     tools,
		SessionID: lc.ContextID,
		Stream:    true,
	})
	pipe := stream.Run(ctx, upstream, stream.WithThoughtTags(a.thoughtTags()))

	// Drain content and thoughts live; both close when the upstream
	// ends.
	contentCh, thoughtCh := pipe.Content(), pipe.Thoughts()
	for contentCh != nil || thoughtCh != nil {
		select {
		case text, ok := <-contentCh:
			if !ok {
				contentCh = nil
				continue
			}
			ev := event.New(event.KindContentDelta, lc.ContextID, lc.TaskID)
			ev.Delta = &event.DeltaPayload{Text: text, Index: *deltaIndex}
			*deltaIndex++
			if !emit(ev) {
				return nil, errAborted
			}
		case tag, ok := <-thoughtCh:
			if !ok {
				thoughtCh = nil
				continue
			}
			ev := event.New(event.KindThoughtStream, lc.ContextID, lc.TaskID)
			ev.Thought = stream.ThoughtPayload(tag)
			if !emit(ev) {
				return nil, errAborted
			}
		}
	}

	var calls []event.ToolCall
	for call := range pipe.ToolCalls() {
		calls = append(calls, call)
	}
	outcome := <-pipe.Final()
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	aggregated := outcome.Aggregated

	complete := event.New(event.KindContentComplete, lc.ContextID, lc.TaskID)
	complete.Complete = &event.CompletePayload{
		Content:      aggregated.Content,
		ToolCalls:    calls,
		FinishReason: aggregated.FinishReason,
	}
	if !emit(complete) {
		return nil, errAborted
	}

	if !aggregated.Usage.IsZero() {
		usage := event.New(event.KindUsage, lc.ContextID, lc.TaskID)
		usage.Usage = &event.UsagePayload{
			PromptTokens:     aggregated.Usage.PromptTokens,
			CompletionTokens: aggregated.Usage.CompletionTokens,
			TotalTokens:      aggregated.Usage.TotalTokens,
			CacheReadTokens:  aggregated.Usage.CacheReadTokens,
			CacheWriteTokens: aggregated.Usage.CacheWriteTokens,
			Details:          aggregated.Usage.Details,
		}
		if !emit(usage) {
			return nil, errAborted
		}
	}

	toolFailed, err := a.dispatchCalls(ctx, span, lc, calls, emit)
	if err != nil {
		return nil, err
	}

	return &iterationResult{aggregated: aggregated, toolFailed: toolFailed}, nil
}

// dispatchCalls runs every assembled call in parallel. Events from
// concurrent tools may interleave; each tool's own lifecycle stays
// serial because its dispatch sequence is consumed by one goroutine.
func (a *Agent) dispatchCalls(
	ctx context.Context,
	span trace.Span,
	lc LoopContext,
	calls []event.ToolCall,
	emit func(event.Event) bool,
) (bool, error) {
	if len(calls) == 0 {
		return false, nil
	}

	ec := lc.ExecContext()
	ec.Trace = span.SpanContext()

	var toolFailed atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for _, call := range calls {
		g.Go(func() error {
			callEv := event.New(event.KindToolCall, lc.ContextID, lc.TaskID)
			callEv.ToolCall = &call
			for ev, err := range a.dispatcher.Dispatch(gctx, callEv, ec) {
				if err != nil {
					return err
				}
				if ev.Kind == event.KindToolComplete && ev.ParentTaskID == "" &&
					ev.Tool != nil && !ev.Tool.Success {
					toolFailed.Store(true)
				}
				if !emit(ev) {
					return errAborted
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return toolFailed.Load(), err
	}
	return toolFailed.Load(), nil
}
