package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/llm"
	"github.com/youssefsiam38/agentctx/render"
	"github.com/youssefsiam38/agentctx/types"
	"golang.org/x/sync/errgroup"
)

// threadReport is the output of inspect.
type threadReport struct {
	ThreadID        string                   `json:"thread_id"`
	Messages        int                      `json:"messages"`
	Turns           int                      `json:"turns"`
	Compacted       int                      `json:"compacted_tool_results"`
	LastLevel       types.CompressionLevel   `json:"last_level"`
	LastRatio       float64                  `json:"last_ratio"`
	LastUsage       types.Usage              `json:"last_usage"`
	HandoffRequired bool                     `json:"handoff_required"`
	Estimate        int                      `json:"estimated_tokens"`
	Ratio           float64                  `json:"ratio"`
	Level           types.CompressionLevel   `json:"level"`
	Steps           []compaction.LevelStep   `json:"steps"`
	Summary         *types.StructuredSummary `json:"summary,omitempty"`
	PendingHandoff  string                   `json:"pending_handoff,omitempty"`
}

func (a *app) inspectCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <thread-id>",
		Short: "Show a thread's state and the level its next turn would need",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.out, report)
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "thread:\t%s\n", report.ThreadID)
			fmt.Fprintf(w, "messages:\t%d (%d turns, %d tool results compacted)\n", report.Messages, report.Turns, report.Compacted)
			fmt.Fprintf(w, "last turn:\tlevel %d (%s), ratio %.2f, %d tokens reported\n",
				report.LastLevel, compaction.NameOf(report.LastLevel), report.LastRatio, report.LastUsage.Total())
			fmt.Fprintf(w, "next turn:\tlevel %d (%s), %d tokens, ratio %.2f\n",
				report.Level, compaction.NameOf(report.Level), report.Estimate, report.Ratio)
			fmt.Fprintf(w, "handoff required:\t%t\n", report.HandoffRequired)
			if s := report.Summary; s != nil {
				fmt.Fprintf(w, "summary:\tgeneration %d, turns %d-%d, %s\n", s.Generation, s.TurnRange.Start, s.TurnRange.End, s.Source)
			} else {
				fmt.Fprintf(w, "summary:\tnone\n")
			}
			if report.PendingHandoff != "" {
				fmt.Fprintf(w, "pending handoff:\t%s\n", report.PendingHandoff)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) inspect(ctx context.Context, threadID string) (*threadReport, error) {
	state, err := a.store.LoadThread(ctx, threadID)
	if errors.Is(err, driver.ErrThreadNotFound) {
		state = types.NewThreadState(threadID)
	} else if err != nil {
		return nil, err
	}
	log, err := a.store.ReadLog(ctx, threadID)
	if err != nil {
		return nil, err
	}
	summary, err := a.store.LoadSummary(ctx, threadID)
	if err != nil {
		return nil, err
	}

	res, err := compaction.NewAssembler(&a.cfg.Compaction, nil, nil).Assemble(ctx, compaction.AssembleInput{
		ThreadID:      threadID,
		Log:           log,
		CachedSummary: summary,
	})
	if err != nil {
		return nil, err
	}

	report := &threadReport{
		ThreadID:        threadID,
		Messages:        len(log),
		Turns:           log.Turns(),
		LastLevel:       state.LastLevel,
		LastRatio:       state.LastRatio,
		LastUsage:       state.LastUsage,
		HandoffRequired: state.HandoffRequired,
		Estimate:        res.EstimatedTokens,
		Ratio:           res.Ratio,
		Level:           res.Level,
		Steps:           res.Steps,
		Summary:         summary,
	}
	for _, m := range log {
		if tm, ok := m.(*types.ToolMessage); ok && tm.Compacted() {
			report.Compacted++
		}
	}

	doc, err := a.store.PendingHandoff(ctx, threadID)
	switch {
	case err == nil:
		report.PendingHandoff = doc.ID
	case !errors.Is(err, driver.ErrHandoffNotFound):
		return nil, err
	}
	return report, nil
}

func (a *app) prunePlanCommand() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "prune-plan <thread-id>",
		Short: "List the tool results a level 2 turn would clear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log, err := a.store.ReadLog(ctx, args[0])
			if err != nil {
				return err
			}
			plan := compaction.NewPruner(&a.cfg.Compaction).Plan(log)

			fmt.Fprintf(a.out, "%d tool results, %d tokens (%d messages scanned)\n", len(plan.MessageIDs), plan.Tokens, plan.Scanned)
			for _, id := range plan.MessageIDs {
				fmt.Fprintln(a.out, id)
			}
			if !apply || plan.Empty() {
				return nil
			}
			n, err := a.store.MarkCompacted(ctx, args[0], plan.MessageIDs, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "marked %d compacted\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "mark the planned results compacted")
	return cmd
}

func (a *app) summarizeCommand() *cobra.Command {
	var (
		mode   string
		model  string
		save   bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "summarize <thread-id>",
		Short: "Summarize a thread's log",
		Long: "Summarize a thread's log. With ANTHROPIC_API_KEY set the summary is produced by the model " +
			"and merged with the rule-based extraction; otherwise only rules are used.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := compaction.SummaryMode(mode)
			switch m {
			case compaction.ModeQuick, compaction.ModeDetailed, compaction.ModeHandoff:
			default:
				return fmt.Errorf("unknown --mode %q", mode)
			}

			log, err := a.store.ReadLog(ctx, args[0])
			if err != nil {
				return err
			}

			var completer llm.Completer
			if os.Getenv("ANTHROPIC_API_KEY") != "" {
				client := anthropic.NewClient()
				completer = llm.NewAnthropic(&client, model)
			}
			summarizer := compaction.NewModelSummarizer(completer, &a.cfg.Compaction, nil).WithModel(model)
			summary := summarizer.Summarize(ctx, compaction.SummaryRequest{Messages: log, Mode: m})

			if save {
				if err := a.store.StoreSummary(ctx, args[0], summary); err != nil {
					return err
				}
			}
			if asJSON {
				return writeJSON(a.out, summary)
			}
			fmt.Fprint(a.out, compaction.RenderSummary(summary))
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(compaction.ModeDetailed), "quick, detailed or handoff")
	cmd.Flags().StringVar(&model, "model", "", "model name (default: the completer's default)")
	cmd.Flags().BoolVar(&save, "save", false, "store the result as the thread's summary")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) renderHandoffCommand() *cobra.Command {
	var (
		asHTML bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "render-handoff <thread-id>",
		Short: "Render the pending handoff document created from a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.store.PendingHandoff(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			text := compaction.RenderInjection(doc)
			if asHTML {
				text, err = render.New().Page("Handoff from "+doc.FromSessionID, text)
				if err != nil {
					return err
				}
			}

			if output == "" {
				_, err = fmt.Fprint(a.out, text)
				return err
			}
			return os.WriteFile(output, []byte(text), 0o644)
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "render sanitized HTML instead of Markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print summary and handoff notifications as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.listen == nil {
				return errors.New("watch requires --redis-url or --database-url with --sql-driver pgx")
			}
			return a.watch(cmd.Context())
		},
	}
}

func (a *app) watch(ctx context.Context) error {
	listener, err := a.listen(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = listener.Close(context.Background()) }()

	for _, channel := range []string{driver.ChannelSummaryStored, driver.ChannelHandoffCreated} {
		if err := listener.Listen(ctx, channel); err != nil {
			return fmt.Errorf("listen on %s: %w", channel, err)
		}
	}

	notifications := make(chan *driver.Notification)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(notifications)
		for {
			n, err := listener.WaitForNotification(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			select {
			case notifications <- n:
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		for n := range notifications {
			if _, err := fmt.Fprintf(a.out, "%s\t%s\t%s\n", time.Now().Format(time.RFC3339), n.Channel, n.Payload); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
