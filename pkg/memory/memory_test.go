package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
)

func TestStoreThreadLifecycle(t *testing.T) {
	s := NewStore(10)

	id, err := s.NewThread("dora questions")
	require.NoError(t, err)
	assert.Len(t, id, 12)

	info, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "dora questions", info.Title)
	assert.Equal(t, 0, info.MessageCount)

	require.NoError(t, s.Append(id, conversation.NewUserMessage("hello")))
	require.NoError(t, s.Touch(id, 1))

	info, err = s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, info.MessageCount)
	require.Len(t, info.Messages, 1)

	require.NoError(t, s.Delete(id))
	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestStoreUnknownThread(t *testing.T) {
	s := NewStore(10)
	assert.ErrorIs(t, s.Touch("nope", 1), ErrThreadNotFound)
	assert.ErrorIs(t, s.Delete("nope"), ErrThreadNotFound)
	assert.ErrorIs(t, s.Trim("nope", 5), ErrThreadNotFound)
}

func TestStoreEviction(t *testing.T) {
	s := NewStore(3)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.NewThread(fmt.Sprintf("thread %d", i))
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	// touch the oldest so it becomes the most recently active
	require.NoError(t, s.Touch(ids[0], 0))
	time.Sleep(2 * time.Millisecond)

	// capacity reached: the least recently active (ids[1]) must go
	_, err := s.NewThread("overflow")
	require.NoError(t, err)

	_, err = s.Get(ids[1])
	assert.ErrorIs(t, err, ErrThreadNotFound)
	_, err = s.Get(ids[0])
	assert.NoError(t, err)

	// never more than maxThreads survive
	assert.LessOrEqual(t, len(s.List()), 3)
}

func TestTrimMessages(t *testing.T) {
	msgs := conversation.Conversation{
		conversation.NewSystemMessage("system a"),
		conversation.NewSystemMessage("system b"),
		conversation.NewUserMessage("u1"),
		conversation.NewAssistantMessage("a1"),
		conversation.NewUserMessage("u2"),
		conversation.NewAssistantMessage("a2"),
	}

	t.Run("under budget untouched", func(t *testing.T) {
		out := TrimMessages(msgs, 10)
		assert.Len(t, out, 6)
	})

	t.Run("drops oldest non-system first", func(t *testing.T) {
		out := TrimMessages(msgs, 4)
		require.Len(t, out, 4)
		assert.Equal(t, "system a", out[0].Text)
		assert.Equal(t, "system b", out[1].Text)
		assert.Equal(t, "u2", out[2].Text)
		assert.Equal(t, "a2", out[3].Text)
	})

	t.Run("system prefix survives even over budget", func(t *testing.T) {
		out := TrimMessages(msgs, 1)
		require.Len(t, out, 2)
		assert.Equal(t, conversation.RoleSystem, out[0].Role)
		assert.Equal(t, conversation.RoleSystem, out[1].Role)
	})
}

func TestSQLiteStore(t *testing.T) {
	path := t.TempDir() + "/threads.db"
	s, err := NewSQLiteStore(path, 3)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	id, err := s.NewThread("persistent")
	require.NoError(t, err)

	require.NoError(t, s.Append(id, conversation.NewUserMessage("hi"), conversation.NewAssistantMessage("hello")))
	require.NoError(t, s.Touch(id, 2))

	info, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount)
	require.Len(t, info.Messages, 2)
	assert.Equal(t, conversation.RoleAssistant, info.Messages[1].Role)

	t.Run("eviction", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := s.NewThread(fmt.Sprintf("t%d", i))
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
		}
		assert.LessOrEqual(t, len(s.List()), 3)
	})

	t.Run("trim", func(t *testing.T) {
		id, err := s.NewThread("trimmed")
		require.NoError(t, err)
		require.NoError(t, s.Append(id,
			conversation.NewSystemMessage("sys"),
			conversation.NewUserMessage("u1"),
			conversation.NewUserMessage("u2"),
			conversation.NewUserMessage("u3"),
		))
		require.NoError(t, s.Trim(id, 2))
		info, err := s.Get(id)
		require.NoError(t, err)
		require.Len(t, info.Messages, 2)
		assert.Equal(t, "sys", info.Messages[0].Text)
		assert.Equal(t, "u3", info.Messages[1].Text)
	})
}
