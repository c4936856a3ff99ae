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

// Package runtime assembles the moving parts into a running service:
// it accepts messages, spawns turns, publishes their events on the
// bus, and keeps the session and task stores current.
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/strandai/strand/pkg/agent"
	"github.com/strandai/strand/pkg/artifact"
	"github.com/strandai/strand/pkg/bus"
	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
	"github.com/strandai/strand/pkg/server"
	"github.com/strandai/strand/pkg/session"
	"github.com/strandai/strand/pkg/task"
)

// ErrUnknownAgent is returned for unrecognised agent ids. It is the
// server package's sentinel so HTTP handlers can map it to a 404.
var ErrUnknownAgent = server.ErrUnknownAgent

// ErrDraining is returned when the runtime no longer accepts work.
var ErrDraining = errors.New("runtime is shutting down")

type agentEntry struct {
	agent        *agent.Agent
	systemPrompt string
	skills       []agent.Skill
}

// Runtime accepts messages and runs turns to completion in the
// background.
type Runtime struct {
	bus       *bus.Bus
	sessions  session.Store
	tasks     task.Store
	artifacts artifact.Store
	log       *slog.Logger

	tokenBudget  int
	defaultAgent string

	mu       sync.Mutex
	agents   map[string]*agentEntry
	inflight map[string]context.CancelFunc
	draining bool
	wg       sync.WaitGroup
}

var _ server.TurnStarter = (*Runtime)(nil)

// RuntimeOption configures a runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(log *slog.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.log = log }
}

// WithTokenBudget caps the history tokens handed to each turn; zero
// means unlimited.
func WithTokenBudget(n int) RuntimeOption {
	return func(rt *Runtime) { rt.tokenBudget = n }
}

// WithArtifacts sets the artifact store handed to tools.
func WithArtifacts(store artifact.Store) RuntimeOption {
	return func(rt *Runtime) { rt.artifacts = store }
}

// New builds a runtime over the given stores and bus.
func New(eventBus *bus.Bus, sessions session.Store, tasks task.Store, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		bus:      eventBus,
		sessions: sessions,
		tasks:    tasks,
		log:      slog.Default(),
		agents:   make(map[string]*agentEntry),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.artifacts == nil {
		rt.artifacts = artifact.NewMemoryStore()
	}
	return rt
}

// AddAgent registers an agent. The first registered agent is the
// default.
func (rt *Runtime) AddAgent(a *agent.Agent, systemPrompt string, skills []agent.Skill) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.agents[a.ID()]; exists {
		return errors.New("agent " + a.ID() + " already registered")
	}
	rt.agents[a.ID()] = &agentEntry{agent: a, systemPrompt: systemPrompt, skills: skills}
	if rt.defaultAgent == "" {
		rt.defaultAgent = a.ID()
	}
	return nil
}

// Agent returns a registered agent by id.
func (rt *Runtime) Agent(id string) (*agent.Agent, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e, ok := rt.agents[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// StartTurn appends the user message to the context's history and runs
// one turn in the background, publishing its events on the bus. It
// returns the new task id immediately.
func (rt *Runtime) StartTurn(ctx context.Context, contextID, agentID, message string) (string, error) {
	rt.mu.Lock()
	if rt.draining {
		rt.mu.Unlock()
		return "", ErrDraining
	}
	if agentID == "" {
		agentID = rt.defaultAgent
	}
	entry, ok := rt.agents[agentID]
	if !ok {
		rt.mu.Unlock()
		return "", ErrUnknownAgent
	}

	taskID := event.NewID()
	// The turn outlives the HTTP request that started it.
	turnCtx, cancel := context.WithCancel(context.Background())
	rt.inflight[taskID] = cancel
	rt.wg.Add(1)
	rt.mu.Unlock()

	if err := rt.sessions.Append(ctx, contextID, model.User(message)); err != nil {
		rt.finishTask(taskID)
		return "", err
	}
	history, err := rt.sessions.Recent(ctx, contextID, rt.tokenBudget)
	if err != nil {
		rt.finishTask(taskID)
		return "", err
	}
	if err := rt.tasks.Create(ctx, task.Task{
		ID:        taskID,
		ContextID: contextID,
		AgentID:   agentID,
		State:     event.TaskSubmitted,
	}); err != nil {
		rt.finishTask(taskID)
		return "", err
	}

	lc := agent.LoopContext{
		AgentID:      agentID,
		ContextID:    contextID,
		TaskID:       taskID,
		SystemPrompt: entry.systemPrompt,
		Skills:       entry.skills,
		Logger:       rt.log,
		Artifacts:    rt.artifacts,
	}
	go rt.runTurn(turnCtx, entry.agent, lc, history)
	return taskID, nil
}

func (rt *Runtime) runTurn(ctx context.Context, a *agent.Agent, lc agent.LoopContext, history []model.Message) {
	defer rt.finishTask(lc.TaskID)

	for ev, err := range a.Run(ctx, lc, history) {
		if err != nil {
			rt.log.Error("turn ended with error",
				"context", lc.ContextID, "task", lc.TaskID, "error", err)
			return
		}
		rt.bus.Publish(ev)
		rt.applyEvent(ev)
	}
}

// applyEvent mirrors lifecycle events into the task store and persists
// the final assistant message.
func (rt *Runtime) applyEvent(ev event.Event) {
	if ev.ParentTaskID != "" {
		return
	}
	ctx := context.Background()
	switch ev.Kind {
	case event.KindTaskStatus:
		if ev.Status == nil {
			return
		}
		_ = rt.tasks.Update(ctx, ev.TaskID, func(t *task.Task) {
			t.State = ev.Status.State
			t.Reason = ev.Status.Reason
		})

	case event.KindTaskComplete:
		if ev.Complete == nil {
			return
		}
		_ = rt.tasks.Update(ctx, ev.TaskID, func(t *task.Task) {
			if !t.Terminal() {
				t.State = event.TaskCompleted
			}
			t.Content = ev.Complete.Content
			t.Finish = ev.Complete.FinishReason
		})
		if ev.Complete.Content != "" && ev.Complete.FinishReason != event.FinishError {
			if err := rt.sessions.Append(ctx, ev.ContextID, model.Assistant(ev.Complete.Content)); err != nil {
				rt.log.Warn("failed to persist assistant message",
					"context", ev.ContextID, "error", err)
			}
		}
	}
}

func (rt *Runtime) finishTask(taskID string) {
	rt.mu.Lock()
	cancel, ok := rt.inflight[taskID]
	if ok {
		delete(rt.inflight, taskID)
	}
	rt.mu.Unlock()
	if ok {
		cancel()
		rt.wg.Done()
	}
}

// CancelTask aborts a running task. It reports false when the task is
// unknown or already finished.
func (rt *Runtime) CancelTask(taskID string) bool {
	rt.mu.Lock()
	cancel, ok := rt.inflight[taskID]
	rt.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// StopIntake makes StartTurn reject new work.
func (rt *Runtime) StopIntake() {
	rt.mu.Lock()
	rt.draining = true
	rt.mu.Unlock()
}

// CancelAll cancels every in-flight task.
func (rt *Runtime) CancelAll() {
	rt.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(rt.inflight))
	for _, cancel := range rt.inflight {
		cancels = append(cancels, cancel)
	}
	rt.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Wait blocks until every in-flight turn has finished or ctx expires.
func (rt *Runtime) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
