package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
	"github.com/strandai/strand/pkg/model/scripted"
	"github.com/strandai/strand/pkg/tool"
	"github.com/strandai/strand/pkg/tool/localtool"
)

func contentScript(chunks ...string) scripted.Script {
	var s scripted.Script
	for _, c := range chunks {
		s.Deltas = append(s.Deltas, model.ChoiceDelta{Delta: model.Delta{Content: c}})
	}
	s.Deltas = append(s.Deltas, model.ChoiceDelta{FinishReason: "stop"})
	return s
}

func toolCallScript(id, name, args string) scripted.Script {
	return scripted.Script{Deltas: []model.ChoiceDelta{
		{Delta: model.Delta{ToolCalls: []model.ToolCallDelta{{
			Index:    0,
			ID:       id,
			Type:     "function",
			Function: model.FunctionDelta{Name: name, Arguments: args},
		}}}},
		{FinishReason: "tool_calls"},
	}}
}

func echoRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry(nil)
	require.NoError(t, reg.Register(localtool.NewBuiltins()))
	return reg
}

func runTurn(t *testing.T, a *Agent, ctx context.Context) ([]event.Event, error) {
	t.Helper()
	lc := LoopContext{
		AgentID:   a.ID(),
		ContextID: "ctx-1",
		TaskID:    "task-1",
	}
	var events []event.Event
	for ev, err := range a.Run(ctx, lc, []model.Message{model.User("hi")}) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func kinds(events []event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestRunPlainContentTurn(t *testing.T) {
	provider := scripted.New(contentScript("Hello, ", "world"))
	a := New("helper", provider, echoRegistry(t))

	events, err := runTurn(t, a, context.Background())
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(events), 5)
	assert.Equal(t, event.KindTaskCreated, events[0].Kind)
	assert.Equal(t, event.KindTaskStatus, events[1].Kind)
	assert.Equal(t, event.TaskWorking, events[1].Status.State)

	var concat strings.Builder
	for _, ev := range events {
		if ev.Kind == event.KindContentDelta {
			concat.WriteString(ev.Delta.Text)
		}
	}
	assert.Equal(t, "Hello, world", concat.String())

	last := events[len(events)-1]
	require.Equal(t, event.KindTaskComplete, last.Kind)
	assert.Equal(t, "Hello, world", last.Complete.Content)
	assert.Equal(t, event.FinishStop, last.Complete.FinishReason)
	assert.Equal(t, 1, provider.Calls())
}

func TestRunToolCallTurn(t *testing.T) {
	provider := scripted.New(
		toolCallScript("call-1", "echo", `{"message":"hi"}`),
		contentScript("done"),
	)
	a := New("helper", provider, echoRegistry(t))

	events, err := runTurn(t, a, context.Background())
	require.NoError(t, err)

	got := kinds(events)
	assert.Contains(t, got, event.KindToolCall)
	assert.Contains(t, got, event.KindToolStart)
	assert.Contains(t, got, event.KindToolComplete)

	// The tool lifecycle stays ordered within the turn.
	idx := func(k event.Kind) int {
		for i, ev := range events {
			if ev.Kind == k {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx(event.KindContentComplete), idx(event.KindToolCall))
	assert.Less(t, idx(event.KindToolCall), idx(event.KindToolStart))
	assert.Less(t, idx(event.KindToolStart), idx(event.KindToolComplete))

	last := events[len(events)-1]
	require.Equal(t, event.KindTaskComplete, last.Kind)
	assert.Equal(t, "done", last.Complete.Content)
	assert.Equal(t, event.FinishStop, last.Complete.FinishReason)

	// The second provider call sees the assistant tool calls and the
	// tool result.
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	var sawCall, sawResult bool
	for _, m := range msgs {
		if m.Role == model.RoleAssistant && len(m.ToolCalls) == 1 {
			sawCall = true
			assert.Equal(t, "echo", m.ToolCalls[0].Name)
		}
		if m.Role == model.RoleTool {
			sawResult = true
			assert.Equal(t, "call-1", m.ToolCallID)
			assert.Equal(t, "hi", m.Content)
		}
	}
	assert.True(t, sawCall, "assistant tool-call message missing from follow-up request")
	assert.True(t, sawResult, "tool result message missing from follow-up request")
}

func TestRunThoughtTagsBecomeThoughtStream(t *testing.T) {
	provider := scripted.New(contentScript("<thinking>check the docs</thinking>", "Answer"))
	a := New("helper", provider, echoRegistry(t))

	events, err := runTurn(t, a, context.Background())
	require.NoError(t, err)

	var thoughts []string
	var content strings.Builder
	for _, ev := range events {
		switch ev.Kind {
		case event.KindThoughtStream:
			thoughts = append(thoughts, ev.Thought.Content)
		case event.KindContentDelta:
			content.WriteString(ev.Delta.Text)
		}
	}
	require.Len(t, thoughts, 1)
	assert.Equal(t, "check the docs", thoughts[0])
	assert.Equal(t, "Answer", content.String())

	last := events[len(events)-1]
	require.Equal(t, event.KindTaskComplete, last.Kind)
	assert.Equal(t, "Answer", last.Complete.Content)
}

func TestRunDeltaIndexesMonotonicAcrossIterations(t *testing.T) {
	first := toolCallScript("call-1", "echo", `{"message":"x"}`)
	first.Deltas = append([]model.ChoiceDelta{
		{Delta: model.Delta{Content: "step one "}},
	}, first.Deltas...)

	provider := scripted.New(first, contentScript("step ", "two"))
	a := New("helper", provider, echoRegistry(t))

	events, err := runTurn(t, a, context.Background())
	require.NoError(t, err)

	want := 0
	for _, ev := range events {
		if ev.Kind != event.KindContentDelta {
			continue
		}
		assert.Equal(t, want, ev.Delta.Index)
		want++
	}
	assert.Equal(t, 3, want)
}

func TestRunMaxIterationsCapsTheLoop(t *testing.T) {
	// Every iteration asks for another tool call; the cap must end the
	// turn as a success.
	provider := scripted.New(toolCallScript("call-1", "echo", `{"message":"again"}`))
	a := New("helper", provider, echoRegistry(t), WithMaxIterations(3))

	events, err := runTurn(t, a, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, provider.Calls())
	last := events[len(events)-1]
	require.Equal(t, event.KindTaskComplete, last.Kind)
	assert.Equal(t, event.FinishToolCalls, last.Complete.FinishReason)
}

func TestRunProviderErrorFailsTask(t *testing.T) {
	provider := scripted.New(scripted.Script{
		Deltas: []model.ChoiceDelta{{Delta: model.Delta{Content: "par"}}},
		Err:    errors.New("upstream 503"),
	})
	a := New("helper", provider, echoRegistry(t))

	events, err := runTurn(t, a, context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 503")

	require.GreaterOrEqual(t, len(events), 2)
	status := events[len(events)-2]
	require.Equal(t, event.KindTaskStatus, status.Kind)
	assert.Equal(t, event.TaskFailed, status.Status.State)
	assert.Contains(t, status.Status.Reason, "upstream 503")

	last := events[len(events)-1]
	require.Equal(t, event.KindTaskComplete, last.Kind)
	assert.Equal(t, event.FinishError, last.Complete.FinishReason)
}

func TestRunCanceledContextEndsWithCanceledStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := scripted.New(contentScript("never"))
	a := New("helper", provider, echoRegistry(t))

	events, err := runTurn(t, a, ctx)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(events), 2)
	status := events[len(events)-2]
	require.Equal(t, event.KindTaskStatus, status.Kind)
	assert.Equal(t, event.TaskCanceled, status.Status.State)

	last := events[len(events)-1]
	require.Equal(t, event.KindTaskComplete, last.Kind)
	assert.Equal(t, event.FinishError, last.Complete.FinishReason)
}

func TestRunStopOnToolError(t *testing.T) {
	reg := tool.NewRegistry(nil)
	p := localtool.New("flaky")
	require.NoError(t, p.Register(model.ToolDefinition{
		Name:       "boom",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(context.Context, map[string]any, tool.ExecContext) (any, error) {
		return nil, errors.New("disk full")
	}))
	require.NoError(t, reg.Register(p))

	provider := scripted.New(toolCallScript("call-1", "boom", `{}`))
	a := New("helper", provider, reg, WithStopOnToolError())

	events, err := runTurn(t, a, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, provider.Calls())

	status := events[len(events)-2]
	require.Equal(t, event.KindTaskStatus, status.Kind)
	assert.Equal(t, event.TaskFailed, status.Status.State)

	last := events[len(events)-1]
	require.Equal(t, event.KindTaskComplete, last.Kind)
	assert.Equal(t, event.FinishError, last.Complete.FinishReason)
}

func TestRunToolErrorContinuesByDefault(t *testing.T) {
	reg := tool.NewRegistry(nil)
	p := localtool.New("flaky")
	require.NoError(t, p.Register(model.ToolDefinition{
		Name:       "boom",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
	}, func(context.Context, map[string]any, tool.ExecContext) (any, error) {
		return nil, errors.New("disk full")
	}))
	require.NoError(t, reg.Register(p))

	provider := scripted.New(
		toolCallScript("call-1", "boom", `{}`),
		contentScript("recovered"),
	)
	a := New("helper", provider, reg)

	events, err := runTurn(t, a, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, provider.Calls())
	last := events[len(events)-1]
	require.Equal(t, event.KindTaskComplete, last.Kind)
	assert.Equal(t, "recovered", last.Complete.Content)

	// The failed result still reaches the follow-up request so the
	// model can react.
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	var sawError bool
	for _, m := range reqs[1].Messages {
		if m.Role == model.RoleTool && strings.Contains(m.Content, "disk full") {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRunUsageEventEmitted(t *testing.T) {
	s := contentScript("hi")
	s.Deltas[len(s.Deltas)-1].Usage = &model.Usage{
		PromptTokens:     12,
		CompletionTokens: 3,
		TotalTokens:      15,
	}
	provider := scripted.New(s)
	a := New("helper", provider, echoRegistry(t))

	events, err := runTurn(t, a, context.Background())
	require.NoError(t, err)

	var usage *event.UsagePayload
	for _, ev := range events {
		if ev.Kind == event.KindUsage {
			usage = ev.Usage
		}
	}
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.PromptTokens)
	assert.Equal(t, 15, usage.TotalTokens)
}

func TestRunConsumerDetachStopsTheTurn(t *testing.T) {
	provider := scripted.New(contentScript("a", "b", "c"))
	a := New("helper", provider, echoRegistry(t))

	lc := LoopContext{AgentID: "helper", ContextID: "ctx-1", TaskID: "task-1"}
	seen := 0
	for _, err := range a.Run(context.Background(), lc, []model.Message{model.User("hi")}) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestSetThoughtTagsAppliesToNextTurn(t *testing.T) {
	provider := scripted.New(contentScript("<plan>outline</plan>", "ok"))
	a := New("helper", provider, echoRegistry(t))
	a.SetThoughtTags([]string{"plan"})

	events, err := runTurn(t, a, context.Background())
	require.NoError(t, err)

	var thoughts int
	for _, ev := range events {
		if ev.Kind == event.KindThoughtStream {
			thoughts++
			assert.Equal(t, "outline", ev.Thought.Content)
		}
	}
	assert.Equal(t, 1, thoughts)
}
