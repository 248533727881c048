package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
)

// ErrInference is the single failure kind for model calls. Timeouts,
// rate limits and malformed structured output all wrap it, so callers can
// treat them uniformly (pipelines count them as an evaluator "fail").
var ErrInference = errors.New("inference failure")

// Engine processes a conversation and returns it extended with the model's
// response. Implementations handle provider-specific communication.
type Engine interface {
	// RunInference processes messages and returns the conversation with the
	// new assistant message appended.
	RunInference(ctx context.Context, messages conversation.Conversation) (conversation.Conversation, error)
}

// StreamingEngine additionally surfaces incremental deltas while the
// response is produced. The final conversation is identical to what
// RunInference would have returned.
type StreamingEngine interface {
	Engine
	RunInferenceStream(ctx context.Context, messages conversation.Conversation, onDelta func(delta string)) (conversation.Conversation, error)
}

// StructuredEngine constrains the model to JSON output matching a schema and
// decodes it into out. A response that fails schema validation is an
// inference failure, never partially decoded.
type StructuredEngine interface {
	Engine
	RunStructured(ctx context.Context, messages conversation.Conversation, schemaJSON []byte, out interface{}) error
}
