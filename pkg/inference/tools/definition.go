package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// ToolDefinition represents a typed function a model may call. Parameters is
// the JSON schema of the function's input struct, generated by reflection.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
	Function    ToolFunc           `json:"-"`
}

// ToolFunc wraps the implementation with a pre-compiled executor.
type ToolFunc struct {
	fn        interface{}
	executor  func(context.Context, []byte) (interface{}, error)
	inputType reflect.Type
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// NewToolFromFunc builds a ToolDefinition from a function of shape
// func(context.Context, Input) (Output, error). An empty name derives
// snake_case from the input struct type (SQLQueryInput -> sql_query).
func NewToolFromFunc(name, description string, fn interface{}) (*ToolDefinition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}
	if funcType.NumIn() != 2 || funcType.In(0) != ctxType {
		return nil, errors.New("tool function must be func(context.Context, Input) (Output, error)")
	}
	if funcType.NumOut() != 2 || !funcType.Out(1).Implements(errType) {
		return nil, errors.New("tool function must return (Output, error)")
	}

	inputType := funcType.In(1)
	if name == "" {
		base := inputType.Name()
		if len(base) > len("Input") && base[len(base)-len("Input"):] == "Input" {
			base = base[:len(base)-len("Input")]
		}
		name = strcase.ToSnake(base)
	}

	schema, err := schemaForType(inputType)
	if err != nil {
		return nil, errors.Wrapf(err, "generate schema for tool %s", name)
	}

	funcValue := reflect.ValueOf(fn)
	executor := func(ctx context.Context, args []byte) (interface{}, error) {
		input := reflect.New(inputType).Interface()
		if len(args) > 0 {
			if err := json.Unmarshal(args, input); err != nil {
				return nil, &ToolError{ToolName: name, Type: ToolErrorValidation, Message: err.Error()}
			}
		}
		results := funcValue.Call([]reflect.Value{
			reflect.ValueOf(ctx),
			reflect.ValueOf(input).Elem(),
		})
		if errv := results[1].Interface(); errv != nil {
			return results[0].Interface(), errv.(error)
		}
		return results[0].Interface(), nil
	}

	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Function: ToolFunc{
			fn:        fn,
			executor:  executor,
			inputType: inputType,
		},
	}, nil
}

func schemaForType(t reflect.Type) (*jsonschema.Schema, error) {
	instance := reflect.New(t).Elem().Interface()
	reflector := jsonschema.Reflector{
		// expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(instance)
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema, nil
}

// Execute runs the wrapped function with JSON-encoded arguments.
func (tf *ToolFunc) Execute(ctx context.Context, args []byte) (interface{}, error) {
	if tf.executor == nil {
		return nil, errors.New("tool function not initialized")
	}
	return tf.executor(ctx, args)
}

// ToolCall is a model-requested invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallRecord is the audited outcome of one invocation. It feeds both the
// turn's tool log and the tool-end event.
type ToolCallRecord struct {
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args,omitempty"`
	OK      bool            `json:"ok"`
	Result  interface{}     `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Elapsed time.Duration   `json:"elapsed"`
	Retries int             `json:"retries,omitempty"`
}

// ResultSummary renders the result compactly for observations and events.
func (r ToolCallRecord) ResultSummary(maxLen int) string {
	if !r.OK {
		return r.Error
	}
	b, err := json.Marshal(r.Result)
	if err != nil {
		return "unserializable result"
	}
	s := string(b)
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

const (
	ToolErrorValidation = "validation"
	ToolErrorExecution  = "execution"
	ToolErrorTimeout    = "timeout"
	ToolErrorNotFound   = "not_found"
	ToolErrorForbidden  = "forbidden"
)

type ToolError struct {
	ToolName string `json:"tool_name"`
	Type     string `json:"type"`
	Message  string `json:"message"`
}

func (e *ToolError) Error() string {
	return "tool error [" + e.Type + "]: " + e.Message
}

// IsFatalToolError reports whether the failure must end the turn instead of
// being retried: unknown or non-whitelisted tool names.
func IsFatalToolError(err error) bool {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Type == ToolErrorNotFound || te.Type == ToolErrorForbidden
	}
	return false
}
