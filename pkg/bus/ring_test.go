package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandai/strand/pkg/event"
)

func deltaEvent(contextID, text string) event.Event {
	ev := event.New(event.KindContentDelta, contextID, "task-1")
	ev.Delta = &event.DeltaPayload{Text: text}
	return ev
}

func TestLogSequenceIDsMonotonicFromOne(t *testing.T) {
	l := NewLog(8)
	for i := 1; i <= 5; i++ {
		e := l.Append(deltaEvent("ctx-1", fmt.Sprintf("d%d", i)))
		assert.Equal(t, uint64(i), e.ID)
	}
	assert.Equal(t, uint64(5), l.Last("ctx-1"))
}

func TestLogContextsAreIndependent(t *testing.T) {
	l := NewLog(8)
	l.Append(deltaEvent("ctx-a", "a1"))
	l.Append(deltaEvent("ctx-a", "a2"))
	e := l.Append(deltaEvent("ctx-b", "b1"))

	assert.Equal(t, uint64(1), e.ID)
	assert.Equal(t, uint64(2), l.Last("ctx-a"))
	assert.Equal(t, uint64(1), l.Last("ctx-b"))
}

func TestLogEvictionKeepsIDsStable(t *testing.T) {
	l := NewLog(3)
	for i := 1; i <= 5; i++ {
		l.Append(deltaEvent("ctx-1", fmt.Sprintf("d%d", i)))
	}

	entries, gap := l.Replay("ctx-1", 0)
	assert.True(t, gap)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(3), entries[0].ID)
	assert.Equal(t, uint64(5), entries[2].ID)
	assert.Equal(t, "d3", entries[0].Event.Delta.Text)
}

func TestLogReplaySince(t *testing.T) {
	l := NewLog(8)
	for i := 1; i <= 5; i++ {
		l.Append(deltaEvent("ctx-1", fmt.Sprintf("d%d", i)))
	}

	entries, gap := l.Replay("ctx-1", 3)
	assert.False(t, gap)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(4), entries[0].ID)
	assert.Equal(t, uint64(5), entries[1].ID)
}

func TestLogReplayUpToDate(t *testing.T) {
	l := NewLog(8)
	l.Append(deltaEvent("ctx-1", "d1"))

	entries, gap := l.Replay("ctx-1", 1)
	assert.False(t, gap)
	assert.Empty(t, entries)
}

func TestLogReplayGapAfterEviction(t *testing.T) {
	l := NewLog(2)
	for i := 1; i <= 4; i++ {
		l.Append(deltaEvent("ctx-1", fmt.Sprintf("d%d", i)))
	}

	// Oldest retained id is 3; asking since 1 crosses evicted ground.
	entries, gap := l.Replay("ctx-1", 1)
	assert.True(t, gap)
	require.Len(t, entries, 2)

	// Since 2 lands exactly on the retention edge.
	entries, gap = l.Replay("ctx-1", 2)
	assert.False(t, gap)
	require.Len(t, entries, 2)
}

func TestLogReplayUnknownContext(t *testing.T) {
	l := NewLog(8)
	entries, gap := l.Replay("nope", 0)
	assert.False(t, gap)
	assert.Empty(t, entries)
}

func TestLogDrop(t *testing.T) {
	l := NewLog(8)
	l.Append(deltaEvent("ctx-1", "d1"))
	l.Drop("ctx-1")

	assert.Equal(t, uint64(0), l.Last("ctx-1"))
	entries, gap := l.Replay("ctx-1", 0)
	assert.False(t, gap)
	assert.Empty(t, entries)
}
