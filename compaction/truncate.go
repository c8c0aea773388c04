package compaction

import (
	"fmt"
	"unicode/utf8"

	"github.com/youssefsiam38/agentctx/types"
)

// truncationMarker is inserted between the kept head and tail of a body.
const truncationMarker = "\n\n... [truncated %d chars] ...\n\n"

// truncateBody keeps roughly the first two thirds and the last third of s
// within limit bytes. Cuts fall on rune boundaries.
func truncateBody(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	headLen := runeFloor(s, limit*2/3)
	tailStart := runeCeil(s, len(s)-(limit-limit*2/3))
	if tailStart <= headLen {
		return s, false
	}
	removed := tailStart - headLen
	return s[:headLen] + fmt.Sprintf(truncationMarker, removed) + s[tailStart:], true
}

func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func runeCeil(s string, i int) int {
	for i < len(s) && i > 0 && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// truncateMessage returns a truncated copy of m, or m itself when nothing
// exceeded limit.
func truncateMessage(m types.Message, limit int) (types.Message, bool) {
	switch v := m.(type) {
	case *types.UserMessage:
		parts, changed := truncateParts(v.Parts, limit)
		if !changed {
			return m, false
		}
		c := *v
		c.Parts = parts
		return &c, true
	case *types.AssistantMessage:
		parts, changed := truncateParts(v.Parts, limit)
		if !changed {
			return m, false
		}
		c := *v
		c.Parts = parts
		return &c, true
	case *types.ToolMessage:
		if v.Compacted() {
			return m, false
		}
		content, changed := truncateBody(v.Content, limit)
		if !changed {
			return m, false
		}
		c := *v
		c.Content = content
		return &c, true
	}
	return m, false
}

func truncateParts(parts []types.ContentPart, limit int) ([]types.ContentPart, bool) {
	var out []types.ContentPart
	for i, p := range parts {
		if p.Type != types.PartText {
			continue
		}
		text, changed := truncateBody(p.Text, limit)
		if !changed {
			continue
		}
		if out == nil {
			out = append([]types.ContentPart(nil), parts...)
		}
		out[i].Text = text
	}
	if out == nil {
		return parts, false
	}
	return out, true
}

// truncateOldest truncates oversized bodies in messages[:end], oldest first,
// until total (the running estimate of the whole request) satisfies fits.
// messages is modified in place and must be a working copy. It returns the new
// total and the number of messages truncated.
func truncateOldest(messages []types.Message, end, limit, total int, fits func(int) bool) (int, int) {
	truncated := 0
	for i := 0; i < end && i < len(messages); i++ {
		if fits(total) {
			break
		}
		cut, changed := truncateMessage(messages[i], limit)
		if !changed {
			continue
		}
		total += EstimateMessage(cut) - EstimateMessage(messages[i])
		messages[i] = cut
		truncated++
	}
	return total, truncated
}

// sendable drops checkpoints and tool results that answer no earlier tool
// call, and replaces the content of compacted tool results with a placeholder.
// The input is not modified.
func sendable(messages []types.Message) []types.Message {
	open := make(map[string]struct{})
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		switch v := m.(type) {
		case *types.CheckpointMessage:
			continue
		case *types.AssistantMessage:
			for _, call := range v.ToolCalls() {
				open[call.ID] = struct{}{}
			}
		case *types.ToolMessage:
			if _, ok := open[v.ToolCallID]; !ok {
				continue
			}
			delete(open, v.ToolCallID)
			if v.Compacted() && v.Content != ClearedToolContent {
				c := *v
				c.Content = ClearedToolContent
				m = &c
			}
		case *types.InterruptedToolMessage:
			if _, ok := open[v.ToolCallID]; !ok {
				continue
			}
			delete(open, v.ToolCallID)
		}
		out = append(out, m)
	}
	return out
}
