package schemas

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Role identifies the author of a message in a model conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ScreenshotHandle is an opaque reference to a captured screen image.
// Drivers produce data URIs of the form "data:image/jpeg;base64,...".
type ScreenshotHandle string

// Decode splits a data URI handle into its MIME type and raw bytes.
func (h ScreenshotHandle) Decode() (string, []byte, error) {
	s := string(h)
	if !strings.HasPrefix(s, "data:") {
		return "", nil, fmt.Errorf("screenshot handle is not a data URI")
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("screenshot handle has no payload")
	}
	mime, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return "", nil, fmt.Errorf("unsupported screenshot encoding %q", encoding)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode screenshot payload: %w", err)
	}
	return mime, data, nil
}

// ToolCall is a single model-issued invocation. Arguments holds the raw JSON
// object exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of a model conversation.
type Message struct {
	Role       Role               `json:"role"`
	Content    string             `json:"content,omitempty"`
	Images     []ScreenshotHandle `json:"images,omitempty"`
	ToolCalls  []ToolCall         `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	// Name is the tool name a tool-role message answers. Some providers key
	// function responses by name rather than by correlation id.
	Name string `json:"name,omitempty"`
}

// ParameterSchema is the JSON-schema subset used to describe tool parameters.
type ParameterSchema struct {
	Type        string                      `json:"type"`
	Description string                      `json:"description,omitempty"`
	Properties  map[string]*ParameterSchema `json:"properties,omitempty"`
	Required    []string                    `json:"required,omitempty"`
	Items       *ParameterSchema            `json:"items,omitempty"`
	Default     any                         `json:"default,omitempty"`
	Minimum     *float64                    `json:"minimum,omitempty"`
	Maximum     *float64                    `json:"maximum,omitempty"`
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  *ParameterSchema `json:"parameters"`
}

// ToolChoice controls whether the model may call tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// ChatRequest is a provider-neutral chat completion request. The model name
// and credentials belong to the client.
type ChatRequest struct {
	Messages   []Message
	Tools      []ToolDefinition
	ToolChoice ToolChoice
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatResponse carries the single choice returned by the model.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
}

// ChatClient is implemented by every language model provider.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
