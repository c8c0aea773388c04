package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Role represents the message role
type Role string

const (
	// RoleUser represents a user message
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message
	RoleAssistant Role = "assistant"

	// RoleTool represents the result of a tool call
	RoleTool Role = "tool"

	// RoleCheckpoint represents a bookkeeping marker that is never sent to the model
	RoleCheckpoint Role = "checkpoint"

	// RoleInterruptedTool represents a tool call that was cut short before producing a result
	RoleInterruptedTool Role = "interrupted_tool"
)

// Message is one entry of a conversation log.
//
// The set of implementations is closed: *UserMessage, *AssistantMessage,
// *ToolMessage, *CheckpointMessage and *InterruptedToolMessage.
type Message interface {
	// MessageID returns the unique, stable message ID.
	MessageID() string

	// Time returns when the message was created.
	Time() time.Time

	// Role returns the message role.
	Role() Role

	isMessage()
}

// Header holds the fields shared by every message.
type Header struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageID returns the message ID.
func (h Header) MessageID() string { return h.ID }

// Time returns the message timestamp.
func (h Header) Time() time.Time { return h.Timestamp }

// PartType represents the type of a content part
type PartType string

const (
	// PartText is plain text content
	PartText PartType = "text"

	// PartToolCall is a tool invocation emitted by the assistant
	PartToolCall PartType = "tool_call"

	// PartImage is an image reference
	PartImage PartType = "image"
)

// ContentPart is a piece of user or assistant content.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text content
	Text string `json:"text,omitempty"`

	// Tool call content
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Image content
	Image *ImageRef `json:"image,omitempty"`
}

// ToolCall is a tool invocation requested by the assistant.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ImageRef references an image attachment. Only the reference is kept.
type ImageRef struct {
	MediaType string `json:"media_type,omitempty"`
	URL       string `json:"url,omitempty"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ToolCallPart returns a tool call content part.
func ToolCallPart(id, name string, args json.RawMessage) ContentPart {
	return ContentPart{Type: PartToolCall, ToolCall: &ToolCall{ID: id, Name: name, Arguments: args}}
}

// ImagePart returns an image content part.
func ImagePart(mediaType, url string) ContentPart {
	return ContentPart{Type: PartImage, Image: &ImageRef{MediaType: mediaType, URL: url}}
}

// UserMessage is input typed by the user.
type UserMessage struct {
	Header
	Parts []ContentPart `json:"parts"`
}

// Role returns RoleUser.
func (*UserMessage) Role() Role { return RoleUser }
func (*UserMessage) isMessage() {}

// Text returns the concatenated text parts.
func (m *UserMessage) Text() string { return joinText(m.Parts) }

// AssistantMessage is a model response, possibly requesting tool calls.
type AssistantMessage struct {
	Header
	Parts []ContentPart `json:"parts"`

	// Summary marks a synthetic message carrying compacted context.
	Summary bool `json:"summary,omitempty"`
}

// Role returns RoleAssistant.
func (*AssistantMessage) Role() Role { return RoleAssistant }
func (*AssistantMessage) isMessage() {}

// Text returns the concatenated text parts.
func (m *AssistantMessage) Text() string { return joinText(m.Parts) }

// ToolCalls returns the tool calls requested by this message, in order.
func (m *AssistantMessage) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolMessage carries the result of one tool call.
type ToolMessage struct {
	Header
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`

	// CompactedAt is set once the content has been logically cleared.
	CompactedAt *time.Time `json:"compacted_at,omitempty"`
}

// Role returns RoleTool.
func (*ToolMessage) Role() Role { return RoleTool }
func (*ToolMessage) isMessage() {}

// Compacted reports whether the content has been cleared.
func (m *ToolMessage) Compacted() bool { return m.CompactedAt != nil }

// CheckpointMessage is a bookkeeping marker. It is never sent to the model.
type CheckpointMessage struct {
	Header
	Label string `json:"label,omitempty"`

	// Boundary marks an explicit start of the log for retention scans.
	Boundary bool `json:"boundary,omitempty"`
}

// Role returns RoleCheckpoint.
func (*CheckpointMessage) Role() Role { return RoleCheckpoint }
func (*CheckpointMessage) isMessage() {}

// InterruptedToolMessage records a tool call that was cancelled before it finished.
type InterruptedToolMessage struct {
	Header
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason,omitempty"`
}

// Role returns RoleInterruptedTool.
func (*InterruptedToolMessage) Role() Role { return RoleInterruptedTool }
func (*InterruptedToolMessage) isMessage() {}

// ResultCallID returns the tool call ID answered by m, if m is a tool or
// interrupted tool message.
func ResultCallID(m Message) (string, bool) {
	switch v := m.(type) {
	case *ToolMessage:
		return v.ToolCallID, true
	case *InterruptedToolMessage:
		return v.ToolCallID, true
	}
	return "", false
}

func joinText(parts []ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// Usage represents token usage reported by the model provider
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }
