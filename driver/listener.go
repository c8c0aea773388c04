package driver

import "context"

// Notification is a message received on a notification channel.
type Notification struct {
	Channel string
	Payload string
}

// Notifier sends notifications: pg_notify for the SQL drivers, PUBLISH for
// redisstore.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// Logger reports failed notifications. *slog.Logger and compaction.Logger
// satisfy it.
type Logger interface {
	Warn(msg string, args ...any)
}

// Listener receives notifications on a dedicated connection. pgxv5 and
// redisstore provide one; database/sql pools cannot hold a connection for
// LISTEN.
type Listener interface {
	// Listen subscribes to channel.
	Listen(ctx context.Context, channel string) error

	// WaitForNotification blocks until a notification arrives on any
	// subscribed channel or ctx is done.
	WaitForNotification(ctx context.Context) (*Notification, error)

	// Close releases the connection. The listener cannot be reused.
	Close(ctx context.Context) error
}

// Notification channels used by the stores. Payloads are the thread ID.
const (
	// ChannelHandoffCreated is notified after SaveHandoff stores a new document.
	ChannelHandoffCreated = "agentctx_handoff_created"

	// ChannelSummaryStored is notified after StoreSummary writes a summary.
	ChannelSummaryStored = "agentctx_summary_stored"
)
