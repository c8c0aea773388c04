// Package agentctx manages the conversation context of a long-running coding
// agent so that every model call fits the model's context window.
//
// Before each call the Manager estimates the thread's size and escalates
// through five compression levels until it fits:
//
//   - Level 0, Full Context: the log is sent as is
//   - Level 1, Smart Truncation: large old message bodies are cut
//   - Level 2, Sliding Window + Prune: old tool results are cleared
//   - Level 3, Deep Compression: older turns are replaced by a structured summary
//   - Level 4, Session Handoff: the thread is closed and continues in a new one
//
// The log itself is only ever appended to. Pruning stamps tool results as
// compacted; summaries are stored beside the log.
//
// # Quick Start
//
//	pool, _ := pgxpool.New(ctx, databaseURL)
//	drv := pgxv5.New(pool)
//	_ = sqlstore.Migrate(ctx, drv.GetExecutor())
//
//	client := anthropic.NewClient()
//	mgr, err := agentctx.NewFromDriver(drv, agentctx.DefaultConfig(),
//	    agentctx.WithCompleter(llm.NewAnthropic(&client, "claude-haiku-4-5")),
//	    agentctx.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close(ctx)
//
// Each turn:
//
//	turn, err := mgr.AssembleTurn(ctx, agentctx.TurnRequest{
//	    ThreadID:           threadID,
//	    PendingUserContent: input,
//	    SystemPrompt:       systemPrompt,
//	})
//	// send turn.HandoffContext + systemPrompt, turn.Messages and input
//	_ = mgr.Append(ctx, threadID, userMsg, assistantMsg)
//	_ = mgr.RecordUsage(ctx, threadID, types.Usage{InputTokens: in, OutputTokens: out})
//
// # Handoff
//
// When a turn reaches level 4, TurnResult.HandoffRequired is set and the
// thread accepts no more turns. Move the work to a new thread:
//
//	doc, _ := mgr.RequestHandoff(ctx, threadID, workingDirectory)
//	injection, _ := mgr.ConsumeHandoff(ctx, doc, newThreadID)
//
// Turns on the new thread carry the injection ahead of the system prompt.
//
// # Storage
//
// The Manager persists through driver.Store. driver/pgxv5 and
// driver/databasesql store threads in PostgreSQL, driver/redisstore in Redis
// and driver/memory in process.
//
// # Observability
//
// hooks.Registry exposes assembly, summary and handoff events.
// hooks.LoggingHooks and hooks.MetricsHooks log them and export them to
// Prometheus. AssembleTurn, RequestHandoff, ConsumeHandoff and background
// summary refreshes are traced with OpenTelemetry.
package agentctx
