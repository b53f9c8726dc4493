// internal/agent/conversation.go
package agent

import (
	"fmt"

	"github.com/xkilldash9x/automate-cli/api/schemas"
)

// Conversation is the append-only message log for one execution attempt.
// Every tool-role message must answer a tool call issued earlier in the same
// conversation, and each correlation id is answered at most once.
type Conversation struct {
	messages []schemas.Message
	issued   map[string]bool // correlation id -> answered
}

// NewConversation starts a conversation with the given seed messages.
func NewConversation(seed ...schemas.Message) *Conversation {
	c := &Conversation{issued: make(map[string]bool)}
	c.messages = append(c.messages, seed...)
	return c
}

// AppendAssistant records a model reply and the correlation ids it issues.
func (c *Conversation) AppendAssistant(msg schemas.Message) error {
	if msg.Role != schemas.RoleAssistant {
		return fmt.Errorf("expected assistant message, got %q", msg.Role)
	}
	for _, tc := range msg.ToolCalls {
		if tc.ID == "" {
			return fmt.Errorf("tool call %q has no correlation id", tc.Name)
		}
		if _, seen := c.issued[tc.ID]; seen {
			return fmt.Errorf("correlation id %q reused", tc.ID)
		}
	}
	for _, tc := range msg.ToolCalls {
		c.issued[tc.ID] = false
	}
	c.messages = append(c.messages, msg)
	return nil
}

// AppendToolResult records the outcome of the tool call with the given id.
func (c *Conversation) AppendToolResult(id string, tool ToolName, content string) error {
	answered, ok := c.issued[id]
	if !ok {
		return fmt.Errorf("no tool call with correlation id %q", id)
	}
	if answered {
		return fmt.Errorf("tool call %q already answered", id)
	}
	c.issued[id] = true
	c.messages = append(c.messages, schemas.Message{
		Role:       schemas.RoleTool,
		Content:    content,
		ToolCallID: id,
		Name:       string(tool),
	})
	return nil
}

// AppendUser adds a user message with optional screenshots.
func (c *Conversation) AppendUser(text string, images ...schemas.ScreenshotHandle) {
	c.messages = append(c.messages, schemas.Message{Role: schemas.RoleUser, Content: text, Images: images})
}

// Pending returns the tool calls that have not been answered yet, in the
// order they were issued.
func (c *Conversation) Pending() []schemas.ToolCall {
	var calls []schemas.ToolCall
	for _, m := range c.messages {
		for _, tc := range m.ToolCalls {
			if !c.issued[tc.ID] {
				calls = append(calls, tc)
			}
		}
	}
	return calls
}

// Issued reports whether a tool call with the given id was recorded.
func (c *Conversation) Issued(id string) bool {
	_, ok := c.issued[id]
	return ok
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []schemas.Message {
	out := make([]schemas.Message, len(c.messages))
	copy(out, c.messages)
	return out
}
