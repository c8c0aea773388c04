// Package compaction keeps a conversation inside a model's context window.
//
// Every turn, the Assembler sizes the thread's log against a TokenBudget and,
// when it does not fit, escalates through five ordered compression levels
// until it does:
//
//   - Level 0 (Full Context): the log as is, minus orphaned tool results and
//     checkpoint markers.
//   - Level 1 (Smart Truncation): oversized message bodies outside the recent
//     turns are cut to head and tail with a truncation marker.
//   - Level 2 (Sliding Window + Prune): the Pruner clears old tool results in
//     a working copy and bodies are truncated harder.
//   - Level 3 (Deep Compression + Summary): turns before the recent window are
//     replaced by one synthetic assistant message holding a StructuredSummary.
//   - Level 4 (Session Handoff Required): a handoff summary is produced and the
//     caller must seed a new thread with BuildHandoff.
//
// Levels never decrease within one assembly and the loop always stops at
// level 4.
//
// # Usage
//
//	cfg := compaction.DefaultConfig()
//	asm := compaction.NewAssembler(cfg, compaction.NewModelSummarizer(completer, cfg, logger), logger)
//	result, err := asm.Assemble(ctx, compaction.AssembleInput{
//	    Log:           log,
//	    SystemPrompt:  systemPrompt,
//	    PendingUser:   userText,
//	})
//	if result.HandoffRequired {
//	    doc := compaction.BuildHandoff(result.Summary, threadID, workDir, compaction.HandoffOptions{})
//	    // ...
//	}
//
// # Summaries
//
// Summaries come from a Summarizer. RuleSummarizer extracts facts
// deterministically and never fails. ModelSummarizer asks a model for a JSON
// summary and falls back to the rules on transport errors, timeouts or
// malformed output, so summarization never fails a turn.
//
// # Token Estimation
//
// Estimates use roughly four characters per token with fixed costs for images
// and per-message overhead. They are cheap enough to recompute at every level.
package compaction
