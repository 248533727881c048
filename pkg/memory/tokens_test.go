package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
)

func TestTokenCounterCounts(t *testing.T) {
	tc, err := NewTokenCounter()
	require.NoError(t, err)

	assert.Equal(t, 0, tc.Count(""))
	assert.Greater(t, tc.Count("hello world"), 0)

	msgs := conversation.Conversation{
		conversation.NewUserMessage("hello"),
		conversation.NewAssistantMessage("world"),
	}
	assert.Equal(t, tc.Count("hello")+tc.Count("world"), tc.CountConversation(msgs))
}

func TestTrimToTokenBudgetKeepsNewestAndSystem(t *testing.T) {
	tc, err := NewTokenCounter()
	require.NoError(t, err)

	msgs := conversation.Conversation{
		conversation.NewSystemMessage("you are terse"),
		conversation.NewUserMessage(strings.Repeat("old granular detail ", 40)),
		conversation.NewAssistantMessage("short recent answer"),
	}

	budget := tc.Count("you are terse") + tc.Count("short recent answer") + 2
	trimmed := tc.TrimToTokenBudget(msgs, budget)

	require.Len(t, trimmed, 2)
	assert.Equal(t, conversation.RoleSystem, trimmed[0].Role)
	assert.Equal(t, "short recent answer", trimmed[1].Text)
}

func TestTrimToTokenBudgetNoopWhenWithinBudget(t *testing.T) {
	tc, err := NewTokenCounter()
	require.NoError(t, err)

	msgs := conversation.Conversation{conversation.NewUserMessage("hi")}
	assert.Equal(t, msgs, tc.TrimToTokenBudget(msgs, 100))
	assert.Equal(t, msgs, tc.TrimToTokenBudget(msgs, 0), "a non-positive budget disables trimming")
}
