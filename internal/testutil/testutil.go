// Package testutil provides test utilities for agentctx
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/youssefsiam38/agentctx/types"
)

// TestDB wraps a PostgreSQL connection pool for testing
type TestDB struct {
	Pool *pgxpool.Pool
}

// NewTestDB creates a test database connection from DATABASE_URL env var.
// The test is skipped if DATABASE_URL is not set.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	RequireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to ping database: %v", err)
	}

	return &TestDB{Pool: pool}
}

// Close closes the database connection
func (db *TestDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// CleanTables truncates all tables for test isolation
func (db *TestDB) CleanTables(ctx context.Context) error {
	tables := []string{
		"agentctx_handoffs",
		"agentctx_summaries",
		"agentctx_messages",
		"agentctx_threads",
	}

	for _, table := range tables {
		_, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		if err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}

	return nil
}

// RequireIntegration skips the test if not running integration tests
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
}

// LogBuilder builds conversation logs with sequential IDs and timestamps.
type LogBuilder struct {
	log  types.ConversationLog
	seq  int
	base time.Time
}

// NewLog returns an empty LogBuilder.
func NewLog() *LogBuilder {
	return &LogBuilder{base: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (b *LogBuilder) header(prefix string) types.Header {
	b.seq++
	return types.Header{
		ID:        fmt.Sprintf("%s-%d", prefix, b.seq),
		Timestamp: b.base.Add(time.Duration(b.seq) * time.Second),
	}
}

// User appends a user message.
func (b *LogBuilder) User(text string) *LogBuilder {
	b.log = append(b.log, &types.UserMessage{Header: b.header("u"), Parts: []types.ContentPart{types.TextPart(text)}})
	return b
}

// Assistant appends a plain assistant message.
func (b *LogBuilder) Assistant(text string) *LogBuilder {
	b.log = append(b.log, &types.AssistantMessage{Header: b.header("a"), Parts: []types.ContentPart{types.TextPart(text)}})
	return b
}

// Tool appends an assistant tool call followed by its result.
func (b *LogBuilder) Tool(name string, args map[string]any, result string) *LogBuilder {
	return b.tool(name, args, result, false)
}

// ToolError appends an assistant tool call followed by a failed result.
func (b *LogBuilder) ToolError(name string, args map[string]any, result string) *LogBuilder {
	return b.tool(name, args, result, true)
}

func (b *LogBuilder) tool(name string, args map[string]any, result string, isErr bool) *LogBuilder {
	raw, _ := json.Marshal(args)
	call := b.header("a")
	callID := "call-" + call.ID
	b.log = append(b.log, &types.AssistantMessage{
		Header: call,
		Parts:  []types.ContentPart{types.ToolCallPart(callID, name, raw)},
	})
	b.log = append(b.log, &types.ToolMessage{
		Header:     b.header("t"),
		ToolCallID: callID,
		Name:       name,
		Content:    result,
		IsError:    isErr,
	})
	return b
}

// Interrupted appends an assistant tool call that the user interrupted.
func (b *LogBuilder) Interrupted(name string) *LogBuilder {
	call := b.header("a")
	callID := "call-" + call.ID
	b.log = append(b.log, &types.AssistantMessage{
		Header: call,
		Parts:  []types.ContentPart{types.ToolCallPart(callID, name, json.RawMessage(`{}`))},
	})
	b.log = append(b.log, &types.InterruptedToolMessage{Header: b.header("i"), ToolCallID: callID, Name: name, Reason: "user interrupted"})
	return b
}

// Orphan appends a tool result that answers no tool call.
func (b *LogBuilder) Orphan(name, content string) *LogBuilder {
	b.log = append(b.log, &types.ToolMessage{Header: b.header("t"), ToolCallID: "missing", Name: name, Content: content})
	return b
}

// Checkpoint appends a checkpoint marker.
func (b *LogBuilder) Checkpoint(label string, boundary bool) *LogBuilder {
	b.log = append(b.log, &types.CheckpointMessage{Header: b.header("c"), Label: label, Boundary: boundary})
	return b
}

// Log returns the built log.
func (b *LogBuilder) Log() types.ConversationLog {
	return b.log
}

// Text returns a string of n bytes, useful for sizing messages.
func Text(n int) string {
	return strings.Repeat("x", n)
}
