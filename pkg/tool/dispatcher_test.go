package tool

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
)

// fakeProvider serves a fixed set of tools with scripted behaviour.
type fakeProvider struct {
	name  string
	tools map[string]*model.ToolDefinition
	exec  func(ctx context.Context, call event.ToolCall, ec ExecContext) iter.Seq2[event.Event, error]
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) GetTool(_ context.Context, name string) (*model.ToolDefinition, error) {
	return f.tools[name], nil
}

func (f *fakeProvider) ListTools(_ context.Context) ([]model.ToolDefinition, error) {
	var out []model.ToolDefinition
	for _, d := range f.tools {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeProvider) ExecuteTool(ctx context.Context, call event.ToolCall, ec ExecContext) iter.Seq2[event.Event, error] {
	return f.exec(ctx, call, ec)
}

func emitComplete(r Result) func(context.Context, event.ToolCall, ExecContext) iter.Seq2[event.Event, error] {
	return func(_ context.Context, call event.ToolCall, ec ExecContext) iter.Seq2[event.Event, error] {
		return func(yield func(event.Event, error) bool) {
			yield(CompleteEvent(ec, r), nil)
		}
	}
}

func callEvent(id, name string, args map[string]any) event.Event {
	ev := event.New(event.KindToolCall, "ctx-1", "task-1")
	ev.ToolCall = &event.ToolCall{ID: id, Name: name, Arguments: args}
	return ev
}

func collectDispatch(t *testing.T, d *Dispatcher, ev event.Event) []event.Event {
	t.Helper()
	var out []event.Event
	for e, err := range d.Dispatch(context.Background(), ev, ExecContext{ContextID: "ctx-1", TaskID: "task-1"}) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func kinds(events []event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestDispatchLifecycle(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(&fakeProvider{
		name: "local",
		tools: map[string]*model.ToolDefinition{
			"calc": {Name: "calc", Icon: "abacus", Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"x": map[string]any{"type": "number"}},
			}},
		},
		exec: emitComplete(Result{ToolCallID: "c1", ToolName: "calc", Success: true, Result: 3}),
	}))
	d := NewDispatcher(reg)

	events := collectDispatch(t, d, callEvent("c1", "calc", map[string]any{"x": float64(1)}))
	assert.Equal(t, []event.Kind{
		event.KindToolCall, event.KindToolStart, event.KindToolComplete,
	}, kinds(events))

	start := events[1]
	assert.Equal(t, "c1", start.Tool.ToolCallID)
	assert.Equal(t, "calc", start.Tool.ToolName)
	assert.Equal(t, "abacus", start.Tool.Icon)

	complete := events[2]
	assert.True(t, complete.Tool.Success)
	assert.Equal(t, 3, complete.Tool.Result)
}

func TestDispatchMissingToolPassesThrough(t *testing.T) {
	d := NewDispatcher(NewRegistry(nil))
	original := callEvent("c9", "ghost", nil)

	events := collectDispatch(t, d, original)
	require.Len(t, events, 1)
	assert.Equal(t, original, events[0])
}

func TestDispatchNormalisesStreamError(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(&fakeProvider{
		name:  "flaky",
		tools: map[string]*model.ToolDefinition{"lookup": {Name: "lookup"}},
		exec: func(_ context.Context, _ event.ToolCall, _ ExecContext) iter.Seq2[event.Event, error] {
			return func(yield func(event.Event, error) bool) {
				yield(event.Event{}, errors.New("DB down"))
			}
		},
	}))
	d := NewDispatcher(reg)

	events := collectDispatch(t, d, callEvent("c1", "lookup", map[string]any{}))
	assert.Equal(t, []event.Kind{
		event.KindToolCall, event.KindToolStart, event.KindToolComplete,
	}, kinds(events))
	complete := events[len(events)-1]
	assert.False(t, complete.Tool.Success)
	assert.Equal(t, "DB down", complete.Tool.Error)
}

func TestDispatchNormalisesPanic(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(&fakeProvider{
		name:  "panicky",
		tools: map[string]*model.ToolDefinition{"boom": {Name: "boom"}},
		exec: func(_ context.Context, _ event.ToolCall, _ ExecContext) iter.Seq2[event.Event, error] {
			return func(func(event.Event, error) bool) {
				panic("unexpected state")
			}
		},
	}))
	d := NewDispatcher(reg)

	events := collectDispatch(t, d, callEvent("c1", "boom", map[string]any{}))
	complete := events[len(events)-1]
	assert.Equal(t, event.KindToolComplete, complete.Kind)
	assert.False(t, complete.Tool.Success)
	assert.Equal(t, "unexpected state", complete.Tool.Error)
}

func TestDispatchSchemaViolationIsToolError(t *testing.T) {
	reg := NewRegistry(nil)
	executed := false
	require.NoError(t, reg.Register(&fakeProvider{
		name: "strict",
		tools: map[string]*model.ToolDefinition{
			"typed": {Name: "typed", Parameters: map[string]any{
				"type":                 "object",
				"required":             []any{"x"},
				"properties":           map[string]any{"x": map[string]any{"type": "number"}},
				"additionalProperties": false,
			}},
		},
		exec: func(_ context.Context, _ event.ToolCall, _ ExecContext) iter.Seq2[event.Event, error] {
			executed = true
			return func(func(event.Event, error) bool) {}
		},
	}))
	d := NewDispatcher(reg)

	events := collectDispatch(t, d, callEvent("c1", "typed", map[string]any{"x": "not a number"}))
	complete := events[len(events)-1]
	assert.Equal(t, event.KindToolComplete, complete.Kind)
	assert.False(t, complete.Tool.Success)
	assert.Contains(t, complete.Tool.Error, "invalid arguments")
	assert.False(t, executed, "provider must not run on schema violation")
}

func TestDispatchSynthesisesMissingComplete(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(&fakeProvider{
		name:  "quiet",
		tools: map[string]*model.ToolDefinition{"fire": {Name: "fire"}},
		exec: func(_ context.Context, call event.ToolCall, ec ExecContext) iter.Seq2[event.Event, error] {
			return func(yield func(event.Event, error) bool) {
				yield(ProgressEvent(ec, call, "working"), nil)
			}
		},
	}))
	d := NewDispatcher(reg)

	events := collectDispatch(t, d, callEvent("c1", "fire", map[string]any{}))
	assert.Equal(t, []event.Kind{
		event.KindToolCall, event.KindToolStart, event.KindToolProgress, event.KindToolComplete,
	}, kinds(events))
	assert.True(t, events[len(events)-1].Tool.Success)
}

func TestRegistryFirstMatchWins(t *testing.T) {
	reg := NewRegistry(nil)
	def := &model.ToolDefinition{Name: "shared"}
	first := &fakeProvider{name: "first", tools: map[string]*model.ToolDefinition{"shared": def}}
	second := &fakeProvider{name: "second", tools: map[string]*model.ToolDefinition{"shared": def}}
	require.NoError(t, reg.Register(first))
	require.NoError(t, reg.Register(second))

	p, got := reg.Resolve(context.Background(), "shared")
	require.NotNil(t, p)
	assert.Equal(t, "first", p.Name())
	assert.Equal(t, "shared", got.Name)
}

func TestRegistryRejectsDuplicateProviderName(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(&fakeProvider{name: "dup"}))
	assert.Error(t, reg.Register(&fakeProvider{name: "dup"}))
}

func TestRegistryListAllFlattens(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(&fakeProvider{
		name:  "a",
		tools: map[string]*model.ToolDefinition{"one": {Name: "one"}},
	}))
	require.NoError(t, reg.Register(&fakeProvider{
		name:  "b",
		tools: map[string]*model.ToolDefinition{"two": {Name: "two"}},
	}))

	defs := reg.ListAll(context.Background())
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	assert.ElementsMatch(t, []string{"one", "two"}, names)
}
