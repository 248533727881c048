package openai

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/xeipuuv/gojsonschema"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/profiles"
)

// Config holds the immutable connection settings for an OpenAI-compatible
// inference endpoint.
type Config struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// Engine talks to any OpenAI-compatible chat completion endpoint, bound to
// one model profile. Construct one engine per specialist.
type Engine struct {
	client    *go_openai.Client
	selection profiles.ModelSelection
}

var (
	_ engine.Engine           = (*Engine)(nil)
	_ engine.StreamingEngine  = (*Engine)(nil)
	_ engine.StructuredEngine = (*Engine)(nil)
)

func NewEngine(cfg Config, selection profiles.ModelSelection) *Engine {
	clientCfg := go_openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Engine{
		client:    go_openai.NewClientWithConfig(clientCfg),
		selection: selection,
	}
}

func (e *Engine) makeRequest(messages conversation.Conversation) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		if m.Role == conversation.RoleTool {
			// tool observations are folded in as user turns; the hosted
			// endpoints reject orphan tool messages
			role = string(go_openai.ChatMessageRoleUser)
		}
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Text,
		})
	}
	return go_openai.ChatCompletionRequest{
		Model:       e.selection.ModelID,
		Temperature: float32(e.selection.Temperature),
		Messages:    msgs,
	}
}

func (e *Engine) RunInference(ctx context.Context, messages conversation.Conversation) (conversation.Conversation, error) {
	req := e.makeRequest(messages)
	log.Debug().
		Str("model", e.selection.ModelID).
		Int("num_messages", len(req.Messages)).
		Msg("running inference")

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(engine.ErrInference, "chat completion: %v", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Wrap(engine.ErrInference, "empty completion response")
	}

	return append(messages, conversation.NewAssistantMessage(resp.Choices[0].Message.Content)), nil
}

func (e *Engine) RunInferenceStream(ctx context.Context, messages conversation.Conversation, onDelta func(delta string)) (conversation.Conversation, error) {
	req := e.makeRequest(messages)
	req.Stream = true

	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(engine.ErrInference, "open completion stream: %v", err)
	}
	defer stream.Close()

	completion := ""
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(engine.ErrInference, "read completion stream: %v", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		completion += delta
		if onDelta != nil {
			onDelta(delta)
		}
	}

	return append(messages, conversation.NewAssistantMessage(completion)), nil
}

// RunStructured asks for JSON output and validates it against schemaJSON
// before decoding into out. A schema violation is an inference failure, so
// pipelines treat it like any other model failure.
func (e *Engine) RunStructured(ctx context.Context, messages conversation.Conversation, schemaJSON []byte, out interface{}) error {
	req := e.makeRequest(messages)
	req.ResponseFormat = &go_openai.ChatCompletionResponseFormat{
		Type: go_openai.ChatCompletionResponseFormatTypeJSONObject,
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return errors.Wrapf(engine.ErrInference, "structured completion: %v", err)
	}
	if len(resp.Choices) == 0 {
		return errors.Wrap(engine.ErrInference, "empty structured response")
	}

	raw := resp.Choices[0].Message.Content
	if len(schemaJSON) > 0 {
		result, err := gojsonschema.Validate(
			gojsonschema.NewBytesLoader(schemaJSON),
			gojsonschema.NewStringLoader(raw),
		)
		if err != nil {
			return errors.Wrapf(engine.ErrInference, "validate structured output: %v", err)
		}
		if !result.Valid() {
			log.Debug().Interface("errors", result.Errors()).Msg("structured output failed schema validation")
			return errors.Wrapf(engine.ErrInference, "structured output does not match schema: %v", result.Errors())
		}
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errors.Wrapf(engine.ErrInference, "decode structured output: %v", err)
	}
	return nil
}
