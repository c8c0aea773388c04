package compaction

import "github.com/youssefsiam38/agentctx/types"

// recentWindowStart returns the index of the first message belonging to the
// last keepTurns turns. A turn starts at a user message, so the returned index
// never separates a tool call from its result. Returns 0 when the log holds
// keepTurns turns or fewer, and len(messages) when keepTurns is zero.
func recentWindowStart(messages []types.Message, keepTurns int) int {
	if keepTurns <= 0 {
		return len(messages)
	}
	seen := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role() != types.RoleUser {
			continue
		}
		seen++
		if seen == keepTurns {
			if i == firstUserIndex(messages) {
				return 0
			}
			return i
		}
	}
	return 0
}

func firstUserIndex(messages []types.Message) int {
	for i, m := range messages {
		if m.Role() == types.RoleUser {
			return i
		}
	}
	return -1
}

// turnRangeOf returns the turns spanned by messages, given the number of user
// messages that precede them in the log.
func turnRangeOf(messages []types.Message, offset int) types.TurnRange {
	users := 0
	for _, m := range messages {
		if m.Role() == types.RoleUser {
			users++
		}
	}
	if users == 0 {
		return types.TurnRange{Start: offset, End: offset}
	}
	return types.TurnRange{Start: offset, End: offset + users - 1}
}

// countTurns returns the number of user messages in messages.
func countTurns(messages []types.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role() == types.RoleUser {
			n++
		}
	}
	return n
}

// OlderMessages returns the sendable messages that precede the last keepTurns
// turns: the part of the log a level 3 assembly replaces with a summary.
func OlderMessages(log types.ConversationLog, keepTurns int) []types.Message {
	base := sendable(log)
	return base[:recentWindowStart(base, keepTurns)]
}
