package types

import "time"

// ConversationLog is the ordered, append-only message history of one thread.
//
// The only permitted in-place change is setting CompactedAt on tool messages
// through MarkCompacted.
type ConversationLog []Message

// Clone returns a copy of the log that can be modified without touching l.
// Tool messages are copied by value; other messages are shared since they are
// never mutated.
func (l ConversationLog) Clone() ConversationLog {
	if l == nil {
		return nil
	}
	out := make(ConversationLog, len(l))
	for i, m := range l {
		out[i] = CloneMessage(m)
	}
	return out
}

// CloneMessage returns a shallow copy of m with its own header and slices.
func CloneMessage(m Message) Message {
	switch v := m.(type) {
	case *UserMessage:
		c := *v
		c.Parts = append([]ContentPart(nil), v.Parts...)
		return &c
	case *AssistantMessage:
		c := *v
		c.Parts = append([]ContentPart(nil), v.Parts...)
		return &c
	case *ToolMessage:
		c := *v
		if v.CompactedAt != nil {
			at := *v.CompactedAt
			c.CompactedAt = &at
		}
		return &c
	case *CheckpointMessage:
		c := *v
		return &c
	case *InterruptedToolMessage:
		c := *v
		return &c
	}
	return m
}

// MarkCompacted sets CompactedAt on every tool message whose ID is in ids and
// that is not already compacted. It returns the number of messages that
// changed. Calling it again with the same IDs is a no-op.
func (l ConversationLog) MarkCompacted(ids []string, at time.Time) int {
	if len(ids) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	changed := 0
	for _, m := range l {
		tm, ok := m.(*ToolMessage)
		if !ok || tm.CompactedAt != nil {
			continue
		}
		if _, ok := want[tm.ID]; !ok {
			continue
		}
		stamp := at
		tm.CompactedAt = &stamp
		changed++
	}
	return changed
}

// Turns returns the number of user messages in the log.
func (l ConversationLog) Turns() int {
	n := 0
	for _, m := range l {
		if m.Role() == RoleUser {
			n++
		}
	}
	return n
}

// LastUserText returns the text of the most recent user message.
func (l ConversationLog) LastUserText() string {
	for i := len(l) - 1; i >= 0; i-- {
		if um, ok := l[i].(*UserMessage); ok {
			return um.Text()
		}
	}
	return ""
}
