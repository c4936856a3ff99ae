package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandai/strand/pkg/model"
)

// fixedCounter charges one token per rune, keeping budgets readable.
type fixedCounter struct{}

func (fixedCounter) Count(text string) int { return len([]rune(text)) }

func TestMemoryStoreAppendAndMessages(t *testing.T) {
	s := NewMemoryStore(fixedCounter{})
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "ctx-1", model.User("hello")))
	require.NoError(t, s.Append(ctx, "ctx-1", model.Assistant("hi there")))

	msgs, err := s.Messages(ctx, "ctx-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi there", msgs[1].Content)
}

func TestMemoryStoreUnknownContext(t *testing.T) {
	s := NewMemoryStore(fixedCounter{})
	_, err := s.Messages(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrContextNotFound)
}

func TestMemoryStoreRecentRespectsBudget(t *testing.T) {
	s := NewMemoryStore(fixedCounter{})
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "ctx-1", model.User("aaaaa")))      // 5
	require.NoError(t, s.Append(ctx, "ctx-1", model.Assistant("bbbb"))) // 4
	require.NoError(t, s.Append(ctx, "ctx-1", model.User("ccc")))       // 3

	msgs, err := s.Recent(ctx, "ctx-1", 7)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "bbbb", msgs[0].Content)
	assert.Equal(t, "ccc", msgs[1].Content)
}

func TestMemoryStoreRecentAlwaysKeepsNewest(t *testing.T) {
	s := NewMemoryStore(fixedCounter{})
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "ctx-1", model.User("a long earlier message")))
	require.NoError(t, s.Append(ctx, "ctx-1", model.User("an even longer latest message")))

	msgs, err := s.Recent(ctx, "ctx-1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "an even longer latest message", msgs[0].Content)
}

func TestMemoryStoreRecentZeroBudgetReturnsAll(t *testing.T) {
	s := NewMemoryStore(fixedCounter{})
	ctx := context.Background()
	for range 3 {
		require.NoError(t, s.Append(ctx, "ctx-1", model.User("msg")))
	}

	msgs, err := s.Recent(ctx, "ctx-1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestMemoryStoreRange(t *testing.T) {
	s := NewMemoryStore(fixedCounter{})
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three", "four"} {
		require.NoError(t, s.Append(ctx, "ctx-1", model.User(text)))
	}

	msgs, err := s.Range(ctx, "ctx-1", 1, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)

	msgs, err = s.Range(ctx, "ctx-1", -5, 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)

	msgs, err = s.Range(ctx, "ctx-1", 3, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryStoreCompact(t *testing.T) {
	s := NewMemoryStore(fixedCounter{})
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three", "four"} {
		require.NoError(t, s.Append(ctx, "ctx-1", model.User(text)))
	}

	require.NoError(t, s.Compact(ctx, "ctx-1", 2))
	msgs, err := s.Messages(ctx, "ctx-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Content)

	// Token bookkeeping survives compaction.
	msgs, err = s.Recent(ctx, "ctx-1", 5)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	assert.ErrorIs(t, s.Compact(ctx, "missing", 1), ErrContextNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore(fixedCounter{})
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "ctx-1", model.User("hello")))
	require.NoError(t, s.Delete(ctx, "ctx-1"))

	_, err := s.Messages(ctx, "ctx-1")
	assert.ErrorIs(t, err, ErrContextNotFound)
}

func TestTiktokenCounterMonotone(t *testing.T) {
	c := NewTiktokenCounter()
	assert.Equal(t, 0, c.Count(""))
	short := c.Count("hi")
	long := c.Count("a considerably longer piece of text than the short one")
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}
