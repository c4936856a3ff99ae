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
	"iter"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/observability"
)

// Dispatcher resolves tool-call events against a registry and wraps
// provider execution with the lifecycle contract:
//
//	tool-call → tool-start → provider events → tool-complete
//
// Tool failures are never fatal: a provider error, a panic, or an
// argument schema violation all normalise to tool-complete with
// success=false. A missing provider is a warning; the original
// tool-call event passes through unchanged so the host can decide how
// to answer it.
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.Metrics
	validate bool
}

// DispatcherOption configures a dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// WithMetrics wires execution counters.
func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithoutValidation disables argument schema validation.
func WithoutValidation() DispatcherOption {
	return func(d *Dispatcher) { d.validate = false }
}

// NewDispatcher builds a dispatcher over the registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		log:      slog.Default(),
		tracer:   observability.Tracer(),
		validate: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch consumes one tool-call event and streams the resulting
// lifecycle. The tool-call event itself is always the first element, so
// each call is surfaced to consumers exactly once, by the dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, callEv event.Event, ec ExecContext) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		if callEv.ToolCall == nil {
			yield(event.Event{}, fmt.Errorf("dispatch of %s event without tool call payload", callEv.Kind))
			return
		}
		call := *callEv.ToolCall

		provider, def := d.registry.Resolve(ctx, call.Name)
		if provider == nil {
			d.log.Warn("no provider serves tool", "tool", call.Name, "task", ec.TaskID)
			d.metrics.ToolExecuted(call.Name, "missing")
			yield(callEv, nil) // pass the call through unchanged
			return
		}

		if !yield(callEv, nil) {
			return
		}

		start := event.New(event.KindToolStart, ec.ContextID, ec.TaskID)
		start.Path = ec.Path
		start.Tool = &event.ToolPayload{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Arguments:  call.Arguments,
			Icon:       def.Icon,
		}
		if !yield(start, nil) {
			return
		}

		fail := func(msg string) event.Event {
			d.metrics.ToolExecuted(call.Name, "error")
			return CompleteEvent(ec, Result{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Success:    false,
				Error:      msg,
			})
		}

		if d.validate && def.Parameters != nil {
			if err := ValidateArguments(def.Parameters, call.Arguments); err != nil {
				d.log.Debug("tool arguments rejected", "tool", call.Name, "error", err)
				yield(fail(fmt.Sprintf("invalid arguments: %v", err)), nil)
				return
			}
		}

		execCtx := ctx
		if ec.Trace.IsValid() {
			execCtx = trace.ContextWithSpanContext(ctx, ec.Trace)
		}
		execCtx, span := d.tracer.Start(execCtx, "tool.execute",
			trace.WithAttributes(
				attribute.String("tool.name", call.Name),
				attribute.String("tool.provider", provider.Name()),
			))
		defer span.End()

		completed, aborted := d.runProvider(execCtx, provider, call, ec, yield, fail)
		if aborted {
			return
		}
		if !completed {
			// The provider finished without reporting completion;
			// synthesise success so the lifecycle invariant holds.
			d.metrics.ToolExecuted(call.Name, "ok")
			yield(CompleteEvent(ec, Result{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Success:    true,
			}), nil)
		}
	}
}

// runProvider streams the provider's events, tracking whether it emitted
// its own tool-complete. Panics and stream errors normalise to a failed
// completion. aborted reports that the consumer stopped pulling.
func (d *Dispatcher) runProvider(
	ctx context.Context,
	provider Provider,
	call event.ToolCall,
	ec ExecContext,
	yield func(event.Event, error) bool,
	fail func(string) event.Event,
) (completed, aborted bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tool provider panicked", "tool", call.Name, "panic", r)
			if !aborted && !completed {
				completed = true
				if !yield(fail(fmt.Sprintf("%v", r)), nil) {
					aborted = true
				}
			}
		}
	}()

	for ev, err := range provider.ExecuteTool(ctx, call, ec) {
		if err != nil {
			completed = true
			if !yield(fail(err.Error()), nil) {
				aborted = true
			}
			return
		}
		if ev.Kind == event.KindToolComplete && ev.ParentTaskID == "" &&
			ev.Tool != nil && ev.Tool.ToolCallID == call.ID {
			completed = true
			if ev.Tool.Success {
				d.metrics.ToolExecuted(call.Name, "ok")
			} else {
				d.metrics.ToolExecuted(call.Name, "error")
			}
		}
		if !yield(ev, nil) {
			aborted = true
			return
		}
	}
	return
}
