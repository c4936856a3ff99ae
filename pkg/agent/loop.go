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
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
	"github.com/strandai/strand/pkg/observability"
	"github.com/strandai/strand/pkg/stream"
	"github.com/strandai/strand/pkg/tool"
)

// DefaultMaxIterations caps the turn loop when no option overrides it.
const DefaultMaxIterations = 10

const eventBuffer = 64

// Options are the turn-loop knobs.
type Options struct {
	MaxIterations   int
	StopOnToolError bool
	ThoughtTags     []string
}

// Agent drives turns against one LLM provider and a tool registry.
type Agent struct {
	id         string
	provider   model.Provider
	registry   *tool.Registry
	dispatcher *tool.Dispatcher
	log        *slog.Logger
	tracer     trace.Tracer
	metrics    *observability.Metrics

	mu   sync.RWMutex
	opts Options
}

// Option configures an agent.
type Option func(*Agent)

// WithMaxIterations overrides the iteration cap.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.opts.MaxIterations = n
		}
	}
}

// WithStopOnToolError stops iterating after the first failed tool.
func WithStopOnToolError() Option {
	return func(a *Agent) { a.opts.StopOnToolError = true }
}

// WithThoughtTags overrides the recognised thought-tag name set.
func WithThoughtTags(tags []string) Option {
	return func(a *Agent) { a.opts.ThoughtTags = slices.Clone(tags) }
}

// WithAgentLogger sets the agent logger.
func WithAgentLogger(log *slog.Logger) Option {
	return func(a *Agent) { a.log = log }
}

// WithAgentMetrics wires turn counters.
func WithAgentMetrics(m *observability.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithDispatcher replaces the default dispatcher over the registry.
func WithDispatcher(d *tool.Dispatcher) Option {
	return func(a *Agent) { a.dispatcher = d }
}

// New builds an agent over a provider and a tool registry.
func New(id string, provider model.Provider, registry *tool.Registry, opts ...Option) *Agent {
	a := &Agent{
		id:       id,
		provider: provider,
		registry: registry,
		log:      slog.Default(),
		tracer:   observability.Tracer(),
		opts: Options{
			MaxIterations: DefaultMaxIterations,
			ThoughtTags:   slices.Clone(stream.DefaultThoughtTags),
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.dispatcher == nil {
		a.dispatcher = tool.NewDispatcher(registry,
			tool.WithLogger(a.log), tool.WithMetrics(a.metrics))
	}
	return a
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// SetThoughtTags replaces the recognised thought-tag set at runtime;
// the next iteration picks it up.
func (a *Agent) SetThoughtTags(tags []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts.ThoughtTags = slices.Clone(tags)
}

func (a *Agent) thoughtTags() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opts.ThoughtTags
}

func (a *Agent) maxIterations() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opts.MaxIterations
}

func (a *Agent) stopOnToolError() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opts.StopOnToolError
}

// loopState is the turn state machine position.
type loopState int

const (
	stateInit loopState = iota
	stateIterating
	stateFinalising
	stateDone
)

// Run executes one turn and streams its events. The sequence ends after
// task-complete; a terminal error (transient provider failure, internal
// invariant violation) is additionally surfaced as the final element.
// Cancelling ctx aborts the in-flight provider call and tools, emits
// task-status(canceled) and task-complete{finishReason:error}, and ends
// the sequence without an error.
func (a *Agent) Run(ctx context.Context, lc LoopContext, history []model.Message) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		out := make(chan event.Event, eventBuffer)
		consumerGone := make(chan struct{})
		errCh := make(chan error, 1)

		go func() {
			emit := func(ev event.Event) bool {
				select {
				case out <- ev:
					return true
				case <-consumerGone:
					return false
				}
			}
			errCh <- a.run(ctx, lc, history, emit)
			close(out)
		}()

		alive := true
		for ev := range out {
			if alive && !yield(ev, nil) {
				alive = false
				close(consumerGone)
			}
		}
		if err := <-errCh; err != nil && alive {
			yield(event.Event{}, err)
		}
	}
}

// run is the state machine of §turn loop: Init emits the task lifecycle
// head, Iterating expands LLM calls until the finish reason is terminal
// or the cap is reached, Finalising derives task-complete from the last
// aggregated record.
func (a *Agent) run(ctx context.Context, lc LoopContext, history []model.Message, emit func(event.Event) bool) error {
	started := time.Now()
	iterations := 0
	a.metrics.TurnStarted()
	defer func() {
		a.metrics.TurnFinished(time.Since(started), iterations)
	}()

	if lc.Trace.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, lc.Trace)
	}
	ctx, span := a.tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("agent.id", a.id),
			attribute.String("context.id", lc.ContextID),
			attribute.String("task.id", lc.TaskID),
		))
	defer span.End()

	log := lc.Log().With("agent", a.id, "context", lc.ContextID, "task", lc.TaskID)

	status := func(state event.TaskState, reason string) event.Event {
		ev := event.New(event.KindTaskStatus, lc.ContextID, lc.TaskID)
		ev.Status = &event.StatusPayload{State: state, Reason: reason}
		return ev
	}
	taskComplete := func(content string, fr event.FinishReason) event.Event {
		ev := event.New(event.KindTaskComplete, lc.ContextID, lc.TaskID)
		ev.Complete = &event.CompletePayload{Content: content, FinishReason: fr}
		return ev
	}

	hist := slices.Clone(history)
	deltaIndex := 0
	n := 0
	var last model.Aggregated
	var runErr error

	state := stateInit
	for state != stateDone {
		switch state {
		case stateInit:
			created := event.New(event.KindTaskCreated, lc.ContextID, lc.TaskID)
			created.Status = &event.StatusPayload{State: event.TaskSubmitted}
			if !emit(created) || !emit(status(event.TaskWorking, "")) {
				return nil
			}
			state = stateIterating

		case stateIterating:
			if ctx.Err() != nil {
				emit(status(event.TaskCanceled, ""))
				emit(taskComplete(last.Content, event.FinishError))
				log.Info("turn canceled", "iterations", iterations)
				return nil
			}

			var mu sync.Mutex
			var events []event.Event
			record := func(ev event.Event) bool {
				mu.Lock()
				events = append(events, ev)
				mu.Unlock()
				return emit(ev)
			}

			res, err := a.runIteration(ctx, lc, n, hist, &deltaIndex, record)
			iterations = n + 1
			if err != nil {
				if errors.Is(err, errAborted) {
					return nil
				}
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					emit(status(event.TaskCanceled, ""))
					emit(taskComplete(last.Content, event.FinishError))
					log.Info("turn canceled", "iterations", iterations)
					return nil
				}
				emit(status(event.TaskFailed, err.Error()))
				emit(taskComplete("", event.FinishError))
				log.Error("iteration failed", "iteration", n, "error", err)
				runErr = err
				state = stateDone
				continue
			}

			last = res.aggregated
			if res.toolFailed && a.stopOnToolError() {
				emit(status(event.TaskFailed, "tool execution failed"))
				emit(taskComplete(last.Content, event.FinishError))
				log.Warn("turn stopped on tool error", "iteration", n)
				state = stateDone
				continue
			}

			if last.FinishReason == event.FinishToolCalls && n+1 < a.maxIterations() {
				hist = append(hist, EventsToMessages(events)...)
				n++
				continue
			}
			state = stateFinalising

		case stateFinalising:
			// Reaching the cap with a non-terminal finish reason is
			// still success: whatever content is available ships.
			if !emit(taskComplete(last.Content, last.FinishReason)) {
				return nil
			}
			log.Debug("turn complete",
				"iterations", iterations, "finish", string(last.FinishReason))
			state = stateDone
		}
	}
	return runErr
}
