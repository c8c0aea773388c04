package compaction

import (
	"github.com/youssefsiam38/agentctx/types"
)

// Estimation constants.
const (
	// ImageTokens is the fixed cost of an image part.
	ImageTokens = 1600

	// MessageOverhead is added for every message sent.
	MessageOverhead = 4

	// ToolCallOverhead is added for every tool call and tool result to cover
	// the serialization of IDs and argument framing.
	ToolCallOverhead = 10
)

// ClearedToolContent replaces the content of a compacted tool result.
const ClearedToolContent = "[Old tool result content cleared]"

// Estimate returns the approximate token count of text, round(len/4).
func Estimate(text string) int {
	return (len(text) + 2) / 4
}

// EstimateMessage returns the approximate token count of one message as it
// would be sent to the model.
func EstimateMessage(m types.Message) int {
	switch v := m.(type) {
	case *types.UserMessage:
		return MessageOverhead + estimateParts(v.Parts)
	case *types.AssistantMessage:
		return MessageOverhead + estimateParts(v.Parts)
	case *types.ToolMessage:
		content := v.Content
		if v.Compacted() {
			content = ClearedToolContent
		}
		return MessageOverhead + ToolCallOverhead + Estimate(content)
	case *types.InterruptedToolMessage:
		return MessageOverhead + ToolCallOverhead + Estimate(interruptedContent(v))
	case *types.CheckpointMessage:
		return 0
	}
	return 0
}

// EstimateLog returns the sum of EstimateMessage over messages.
func EstimateLog(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessage(m)
	}
	return total
}

func estimateParts(parts []types.ContentPart) int {
	total := 0
	for _, p := range parts {
		switch p.Type {
		case types.PartText:
			total += Estimate(p.Text)
		case types.PartImage:
			total += ImageTokens
		case types.PartToolCall:
			if p.ToolCall != nil {
				total += ToolCallOverhead + Estimate(p.ToolCall.Name) + Estimate(string(p.ToolCall.Arguments))
			}
		}
	}
	return total
}

func interruptedContent(m *types.InterruptedToolMessage) string {
	if m.Reason == "" {
		return "[Tool call interrupted]"
	}
	return "[Tool call interrupted: " + m.Reason + "]"
}
