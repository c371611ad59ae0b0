package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Content is one item of a tool result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Result is the outcome of a tool call. IsError marks a failure the model
// should see, as opposed to a protocol error.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult returns a result with a single text item.
func TextResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult returns a failed result with a single text item.
func ErrorResult(text string) *Result {
	r := TextResult(text)
	r.IsError = true
	return r
}

// ImageResult returns a result with a single base64 image.
func ImageResult(data, mimeType string) *Result {
	return &Result{Content: []Content{{Type: "image", Data: data, MimeType: mimeType}}}
}

// Annotations are optional hints about tool behavior.
type Annotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    *bool  `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool  `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool  `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool  `json:"openWorldHint,omitempty"`
}

// Tool is a tool served by a Server.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Annotations *Annotations

	call func(ctx context.Context, args json.RawMessage) (*Result, error)
}

// invalidArgsError marks arguments that do not decode into the tool's
// input type.
type invalidArgsError struct{ err error }

func (e *invalidArgsError) Error() string { return "invalid arguments: " + e.err.Error() }
func (e *invalidArgsError) Unwrap() error { return e.err }

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// NewTool defines a tool whose arguments decode into T. The input schema is
// reflected from T: json tags name the properties, fields without omitempty
// are required, and jsonschema tags add descriptions and constraints.
func NewTool[T any](name, description string, handler func(ctx context.Context, input T) (*Result, error)) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		InputSchema: SchemaFor[T](),
		call: func(ctx context.Context, args json.RawMessage) (*Result, error) {
			var input T
			if len(args) > 0 {
				if err := json.Unmarshal(args, &input); err != nil {
					return nil, &invalidArgsError{err: err}
				}
			}
			return handler(ctx, input)
		},
	}
}

// NewRawTool defines a tool with a hand-written schema and untyped
// arguments. A nil schema accepts any object.
func NewRawTool(name, description string, schema json.RawMessage, handler func(ctx context.Context, args map[string]any) (*Result, error)) *Tool {
	if schema == nil {
		schema = emptyObjectSchema
	}
	return &Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
		call: func(ctx context.Context, raw json.RawMessage) (*Result, error) {
			args := map[string]any{}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, &invalidArgsError{err: err}
				}
			}
			return handler(ctx, args)
		},
	}
}

// WithAnnotations sets the tool's annotations and returns the tool.
func (t *Tool) WithAnnotations(a Annotations) *Tool {
	t.Annotations = &a
	return t
}

// SchemaFor reflects the JSON schema of T as an inline object schema.
func SchemaFor[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var zero T
	s := r.Reflect(&zero)
	s.Version = ""
	data, err := json.Marshal(s)
	if err != nil {
		return emptyObjectSchema
	}
	return data
}

func (t *Tool) invoke(ctx context.Context, args json.RawMessage) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name, r)
		}
	}()
	return t.call(ctx, args)
}
