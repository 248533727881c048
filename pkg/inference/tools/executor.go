package tools

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
)

const (
	DefaultToolTimeout = 30 * time.Second
	resultSummaryLen   = 2000
)

// ToolExecutor runs whitelisted tool calls with a per-call timeout, one
// transparent retry on failure, and tool-start/tool-end event emission.
type ToolExecutor struct {
	registry  ToolRegistry
	whitelist *Whitelist
	timeout   time.Duration
	sink      events.Sink
}

type ExecutorOption func(*ToolExecutor)

func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *ToolExecutor) { e.timeout = d }
}

func WithSink(sink events.Sink) ExecutorOption {
	return func(e *ToolExecutor) { e.sink = sink }
}

func NewToolExecutor(registry ToolRegistry, whitelist *Whitelist, options ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{
		registry:  registry,
		whitelist: whitelist,
		timeout:   DefaultToolTimeout,
		sink:      events.NullSink{},
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Execute validates the call against the whitelist and registry, then runs
// it. Boundary rejections (unknown name, not whitelisted) come back as fatal
// tool errors with no record; execution failures are retried once and
// recorded either way.
func (e *ToolExecutor) Execute(ctx context.Context, meta events.EventMetadata, call ToolCall) (ToolCallRecord, error) {
	if err := e.whitelist.Check(e.registry, call.Name); err != nil {
		log.Warn().Str("tool", call.Name).Err(err).Msg("tool call rejected at boundary")
		return ToolCallRecord{Name: call.Name, Args: call.Arguments, Error: err.Error()}, err
	}

	tool, err := e.registry.GetTool(call.Name)
	if err != nil {
		return ToolCallRecord{Name: call.Name, Args: call.Arguments, Error: err.Error()}, err
	}

	e.sink.PublishBlind(events.NewToolStartEvent(meta, call.Name, call.Arguments))

	record := e.runOnce(ctx, tool, call)
	if !record.OK {
		log.Debug().Str("tool", call.Name).Str("error", record.Error).Msg("retrying failed tool call")
		retried := e.runOnce(ctx, tool, call)
		retried.Retries = 1
		retried.Elapsed += record.Elapsed
		record = retried
	}

	e.sink.PublishBlind(events.NewToolEndEvent(
		meta, call.Name, record.OK,
		record.ResultSummary(resultSummaryLen), record.Error,
		record.Elapsed.Milliseconds(),
	))

	return record, nil
}

func (e *ToolExecutor) runOnce(ctx context.Context, tool *ToolDefinition, call ToolCall) ToolCallRecord {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Function.Execute(callCtx, call.Arguments)
	elapsed := time.Since(start)

	record := ToolCallRecord{
		Name:    call.Name,
		Args:    call.Arguments,
		Elapsed: elapsed,
	}
	if err != nil {
		if callCtx.Err() != nil {
			err = &ToolError{ToolName: call.Name, Type: ToolErrorTimeout, Message: err.Error()}
		}
		record.Error = err.Error()
		return record
	}
	record.OK = true
	record.Result = result
	return record
}
