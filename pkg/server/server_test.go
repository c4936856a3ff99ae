package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandai/strand/pkg/bus"
	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/task"
)

type fakeStarter struct {
	lastContext string
	lastAgent   string
	lastMessage string
	taskID      string
	err         error
	canceled    []string
}

func (f *fakeStarter) StartTurn(_ context.Context, contextID, agentID, message string) (string, error) {
	f.lastContext, f.lastAgent, f.lastMessage = contextID, agentID, message
	if f.err != nil {
		return "", f.err
	}
	return f.taskID, nil
}

func (f *fakeStarter) CancelTask(taskID string) bool {
	f.canceled = append(f.canceled, taskID)
	return taskID == "running-task"
}

func newTestServer(t *testing.T, starter *fakeStarter, b *bus.Bus, tasks task.Store) *httptest.Server {
	t.Helper()
	if b == nil {
		b = bus.New()
	}
	if tasks == nil {
		tasks = task.NewMemoryStore()
	}
	srv := httptest.NewServer(New(starter, b, tasks).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestPostMessageAccepted(t *testing.T) {
	starter := &fakeStarter{taskID: "task-9"}
	srv := newTestServer(t, starter, nil, nil)

	resp, err := http.Post(srv.URL+"/v1/contexts/ctx-1/messages", "application/json",
		strings.NewReader(`{"agentId":"helper","message":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body messageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "task-9", body.TaskID)
	assert.Equal(t, "ctx-1", body.ContextID)
	assert.Equal(t, "helper", starter.lastAgent)
	assert.Equal(t, "hello", starter.lastMessage)
}

func TestPostMessageValidation(t *testing.T) {
	srv := newTestServer(t, &fakeStarter{taskID: "t"}, nil, nil)

	resp, err := http.Post(srv.URL+"/v1/contexts/ctx-1/messages", "application/json",
		strings.NewReader(`{"message":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/contexts/ctx-1/messages", "application/json",
		strings.NewReader(`{not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostMessageUnknownAgent(t *testing.T) {
	srv := newTestServer(t, &fakeStarter{err: ErrUnknownAgent}, nil, nil)

	resp, err := http.Post(srv.URL+"/v1/contexts/ctx-1/messages", "application/json",
		strings.NewReader(`{"agentId":"ghost","message":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTask(t *testing.T) {
	tasks := task.NewMemoryStore()
	require.NoError(t, tasks.Create(context.Background(), task.Task{
		ID: "task-1", ContextID: "ctx-1", State: event.TaskWorking,
	}))
	srv := newTestServer(t, &fakeStarter{}, nil, tasks)

	resp, err := http.Get(srv.URL + "/v1/contexts/ctx-1/tasks/task-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got task.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, event.TaskWorking, got.State)

	// A task is only visible under its own context.
	resp, err = http.Get(srv.URL + "/v1/contexts/other/tasks/task-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelTask(t *testing.T) {
	starter := &fakeStarter{}
	srv := newTestServer(t, starter, nil, nil)

	resp, err := http.Post(srv.URL+"/v1/contexts/ctx-1/tasks/running-task/cancel", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"running-task"}, starter.canceled)

	resp, err = http.Post(srv.URL+"/v1/contexts/ctx-1/tasks/done-task/cancel", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeStarter{}, nil, nil)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	Event string
	ID    string
	Data  string
}

func readFrames(t *testing.T, url string, header http.Header, n int) []sseFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var frames []sseFrame
	var cur sseFrame
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur != (sseFrame{}) {
				frames = append(frames, cur)
				cur = sseFrame{}
				if len(frames) == n {
					return frames
				}
			}
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended after %d frames, wanted %d", len(frames), n)
	return nil
}

func publishDelta(b *bus.Bus, contextID, text string) {
	ev := event.New(event.KindContentDelta, contextID, "task-1")
	ev.Delta = &event.DeltaPayload{Text: text}
	b.Publish(ev)
}

func TestEventsReplayAndLive(t *testing.T) {
	b := bus.New()
	starter := &fakeStarter{}
	srv := newTestServer(t, starter, b, nil)

	publishDelta(b, "ctx-1", "one")
	publishDelta(b, "ctx-1", "two")
	publishDelta(b, "ctx-1", "three")

	frames := readFrames(t, srv.URL+"/v1/contexts/ctx-1/events?lastEventId=1", nil, 2)

	assert.Equal(t, "2", frames[0].ID)
	assert.Equal(t, "content-delta", frames[0].Event)
	var ev event.Event
	require.NoError(t, json.Unmarshal([]byte(frames[0].Data), &ev))
	assert.Equal(t, "two", ev.Delta.Text)
	assert.Equal(t, "3", frames[1].ID)
}

func TestEventsLastEventIDHeader(t *testing.T) {
	b := bus.New()
	srv := newTestServer(t, &fakeStarter{}, b, nil)

	publishDelta(b, "ctx-1", "one")
	publishDelta(b, "ctx-1", "two")

	header := http.Header{"Last-Event-ID": []string{"1"}}
	frames := readFrames(t, srv.URL+"/v1/contexts/ctx-1/events", header, 1)
	assert.Equal(t, "2", frames[0].ID)
}

func TestEventsReplayGapSentinel(t *testing.T) {
	b := bus.New(bus.WithLogCapacity(2))
	srv := newTestServer(t, &fakeStarter{}, b, nil)

	for range 5 {
		publishDelta(b, "ctx-1", "x")
	}

	frames := readFrames(t, srv.URL+"/v1/contexts/ctx-1/events?lastEventId=1", nil, 3)
	assert.Equal(t, "internal:replay-gap", frames[0].Event)
	assert.Equal(t, "4", frames[1].ID)
	assert.Equal(t, "5", frames[2].ID)
}

func TestEventsTaskFilter(t *testing.T) {
	b := bus.New()
	srv := newTestServer(t, &fakeStarter{}, b, nil)

	evA := event.New(event.KindContentDelta, "ctx-1", "task-a")
	evA.Delta = &event.DeltaPayload{Text: "a"}
	b.Publish(evA)
	evB := event.New(event.KindContentDelta, "ctx-1", "task-b")
	evB.Delta = &event.DeltaPayload{Text: "b"}
	b.Publish(evB)

	frames := readFrames(t, srv.URL+"/v1/contexts/ctx-1/events?lastEventId=0&taskId=task-b", nil, 1)
	var ev event.Event
	require.NoError(t, json.Unmarshal([]byte(frames[0].Data), &ev))
	assert.Equal(t, "task-b", ev.TaskID)
}

func TestEventsInternalFilter(t *testing.T) {
	b := bus.New()
	srv := newTestServer(t, &fakeStarter{}, b, nil)

	usage := event.New(event.KindUsage, "ctx-1", "task-1")
	usage.Usage = &event.UsagePayload{TotalTokens: 5}
	b.Publish(usage)
	publishDelta(b, "ctx-1", "visible")

	// Default stream drops debug kinds.
	frames := readFrames(t, srv.URL+"/v1/contexts/ctx-1/events?lastEventId=0", nil, 1)
	assert.Equal(t, "content-delta", frames[0].Event)

	// internal=true surfaces them.
	frames = readFrames(t, srv.URL+"/v1/contexts/ctx-1/events?lastEventId=0&internal=true", nil, 2)
	assert.Equal(t, "llm-usage", frames[0].Event)
}

func TestEventsRejectsBadLastEventID(t *testing.T) {
	srv := newTestServer(t, &fakeStarter{}, nil, nil)
	resp, err := http.Get(srv.URL + "/v1/contexts/ctx-1/events?lastEventId=banana")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
