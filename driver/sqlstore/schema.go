package sqlstore

import (
	"context"
	"fmt"

	"github.com/youssefsiam38/agentctx/driver"
)

// Schema creates the agentctx tables. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS agentctx_threads (
	thread_id        TEXT PRIMARY KEY,
	state            JSONB NOT NULL,
	handoff_required BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS agentctx_messages (
	seq          BIGSERIAL,
	thread_id    TEXT NOT NULL,
	id           TEXT NOT NULL,
	role         TEXT NOT NULL,
	data         JSONB NOT NULL,
	compacted_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (thread_id, id)
);

CREATE INDEX IF NOT EXISTS agentctx_messages_thread_seq_idx
	ON agentctx_messages (thread_id, seq);

CREATE TABLE IF NOT EXISTS agentctx_summaries (
	thread_id  TEXT PRIMARY KEY,
	summary    JSONB NOT NULL,
	generation BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS agentctx_handoffs (
	id             TEXT PRIMARY KEY,
	from_thread_id TEXT NOT NULL,
	document       JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	consumed_at    TIMESTAMPTZ,
	consumed_by    TEXT
);

CREATE INDEX IF NOT EXISTS agentctx_handoffs_pending_idx
	ON agentctx_handoffs (from_thread_id, created_at DESC)
	WHERE consumed_at IS NULL;
`

// Migrate runs Schema through exec.
func Migrate(ctx context.Context, exec driver.Executor) error {
	if _, err := exec.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply agentctx schema: %w", err)
	}
	return nil
}
