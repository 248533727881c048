package memory

import (
	"github.com/pkg/errors"
	tiktoken "github.com/weaviate/tiktoken-go"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
)

// TokenCounter counts tokens with the cl100k_base encoding, which is close
// enough for budget enforcement across the hosted models in use.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter() (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, errors.Wrap(err, "initialize tokenizer")
	}
	return &TokenCounter{enc: enc}, nil
}

func (tc *TokenCounter) Count(text string) int {
	return len(tc.enc.Encode(text, nil, nil))
}

func (tc *TokenCounter) CountConversation(msgs conversation.Conversation) int {
	total := 0
	for _, m := range msgs {
		total += tc.Count(m.Text)
	}
	return total
}

// TrimToTokenBudget drops the oldest non-system messages until the total
// token count fits the budget. Leading system messages are never dropped,
// even when they alone exceed the budget.
func (tc *TokenCounter) TrimToTokenBudget(msgs conversation.Conversation, budget int) conversation.Conversation {
	if budget <= 0 || tc.CountConversation(msgs) <= budget {
		return msgs
	}

	systemPrefix := 0
	for systemPrefix < len(msgs) && msgs[systemPrefix].Role == conversation.RoleSystem {
		systemPrefix++
	}

	systemTokens := tc.CountConversation(msgs[:systemPrefix])
	rest := msgs[systemPrefix:]

	// walk backwards keeping the newest messages that fit
	kept := 0
	remaining := budget - systemTokens
	for i := len(rest) - 1; i >= 0; i-- {
		n := tc.Count(rest[i].Text)
		if n > remaining {
			break
		}
		remaining -= n
		kept++
	}

	out := make(conversation.Conversation, 0, systemPrefix+kept)
	out = append(out, msgs[:systemPrefix]...)
	out = append(out, rest[len(rest)-kept:]...)
	return out
}
