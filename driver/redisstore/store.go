// Package redisstore implements driver.Store on Redis with go-redis.
//
// Keys, under a configurable prefix:
//
//	log:<thread>        list of message envelopes in append order
//	ids:<thread>        set of stored message IDs
//	tools:<thread>      set of tool message IDs
//	compacted:<thread>  hash of tool message ID to compaction time
//	summary:<thread>    summary JSON
//	thread:<thread>     thread state JSON
//	handoff:<id>        handoff document JSON
//	consumed:<id>       thread that consumed the handoff
//	pending:<thread>    sorted set of unconsumed handoff IDs by creation time
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/types"
)

// DefaultPrefix is the key prefix used when Options.Prefix is empty.
const DefaultPrefix = "agentctx:"

// Options configures a Store.
type Options struct {
	// Prefix is prepended to every key. Default: DefaultPrefix.
	Prefix string

	// TTL expires a thread's keys after this long without writes.
	// Zero keeps them forever.
	TTL time.Duration

	// DisableNotify stops the store from publishing ChannelSummaryStored
	// and ChannelHandoffCreated messages.
	DisableNotify bool

	// Logger, when set, reports failed publishes.
	Logger driver.Logger
}

// Store implements driver.Store on a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	notify bool
	logger driver.Logger
}

// New creates a Store over client.
func New(client redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Store{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		notify: !opts.DisableNotify,
		logger: opts.Logger,
	}
}

// Key helpers
func (s *Store) logKey(threadID string) string       { return s.prefix + "log:" + threadID }
func (s *Store) idsKey(threadID string) string       { return s.prefix + "ids:" + threadID }
func (s *Store) toolsKey(threadID string) string     { return s.prefix + "tools:" + threadID }
func (s *Store) compactedKey(threadID string) string { return s.prefix + "compacted:" + threadID }
func (s *Store) summaryKey(threadID string) string   { return s.prefix + "summary:" + threadID }
func (s *Store) threadKey(threadID string) string    { return s.prefix + "thread:" + threadID }
func (s *Store) handoffKey(id string) string         { return s.prefix + "handoff:" + id }
func (s *Store) consumedKey(id string) string        { return s.prefix + "consumed:" + id }
func (s *Store) pendingKey(threadID string) string   { return s.prefix + "pending:" + threadID }

// Channel returns the pub/sub channel name used for a notification channel.
func (s *Store) Channel(channel string) string { return s.prefix + channel }

func (s *Store) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if s.ttl <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, s.ttl)
	}
}

func (s *Store) publish(ctx context.Context, channel, payload string) {
	if !s.notify {
		return
	}
	if err := s.client.Publish(ctx, s.Channel(channel), payload).Err(); err != nil && s.logger != nil {
		s.logger.Warn("failed to publish notification", "channel", s.Channel(channel), "thread_id", payload, "error", err)
	}
}

// appendScript pushes each (id, role, data) triple whose ID is new.
var appendScript = redis.NewScript(`
local added = 0
for i = 1, #ARGV, 3 do
	if redis.call('SADD', KEYS[1], ARGV[i]) == 1 then
		redis.call('RPUSH', KEYS[2], ARGV[i + 2])
		if ARGV[i + 1] == 'tool' then
			redis.call('SADD', KEYS[3], ARGV[i])
		end
		added = added + 1
	end
end
return added
`)

// markScript stamps each listed tool message ID that has no stamp yet.
var markScript = redis.NewScript(`
local marked = 0
for i = 2, #ARGV do
	if redis.call('SISMEMBER', KEYS[1], ARGV[i]) == 1 then
		marked = marked + redis.call('HSETNX', KEYS[2], ARGV[i], ARGV[1])
	end
end
return marked
`)

// ReadLog returns the thread's messages in append order.
func (s *Store) ReadLog(ctx context.Context, threadID string) (types.ConversationLog, error) {
	pipe := s.client.Pipeline()
	entries := pipe.LRange(ctx, s.logKey(threadID), 0, -1)
	stamps := pipe.HGetAll(ctx, s.compactedKey(threadID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	compacted := stamps.Val()
	var log types.ConversationLog
	for _, raw := range entries.Val() {
		msg, err := types.UnmarshalMessage([]byte(raw))
		if err != nil {
			return nil, err
		}
		if tm, ok := msg.(*types.ToolMessage); ok {
			if stamp, ok := compacted[tm.ID]; ok {
				at, err := time.Parse(time.RFC3339Nano, stamp)
				if err != nil {
					return nil, fmt.Errorf("parse compaction time of %s: %w", tm.ID, err)
				}
				tm.CompactedAt = &at
			}
		}
		log = append(log, msg)
	}
	return log, nil
}

// AppendMessages pushes messages in order, skipping stored IDs. Compaction
// stamps of appended tool messages go to the compacted hash.
func (s *Store) AppendMessages(ctx context.Context, threadID string, messages ...types.Message) error {
	if len(messages) == 0 {
		return nil
	}

	args := make([]any, 0, 3*len(messages))
	stamps := make(map[string]any)
	for _, m := range messages {
		data, err := types.MarshalMessage(m)
		if err != nil {
			return err
		}
		args = append(args, m.MessageID(), string(m.Role()), string(data))
		if tm, ok := m.(*types.ToolMessage); ok && tm.CompactedAt != nil {
			stamps[tm.ID] = tm.CompactedAt.UTC().Format(time.RFC3339Nano)
		}
	}

	keys := []string{s.idsKey(threadID), s.logKey(threadID), s.toolsKey(threadID)}
	if err := appendScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}

	if len(stamps) == 0 && s.ttl <= 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for id, stamp := range stamps {
		pipe.HSetNX(ctx, s.compactedKey(threadID), id, stamp)
	}
	s.expire(ctx, pipe, append(keys, s.compactedKey(threadID))...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// MarkCompacted stamps the listed tool messages that are not yet compacted.
func (s *Store) MarkCompacted(ctx context.Context, threadID string, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}

	n, err := markScript.Run(ctx, s.client, []string{s.toolsKey(threadID), s.compactedKey(threadID)}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("mark compacted: %w", err)
	}
	return n, nil
}

// StoreSummary replaces the thread's summary.
func (s *Store) StoreSummary(ctx context.Context, threadID string, summary *types.StructuredSummary) error {
	if summary == nil {
		return errors.New("summary is required")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := s.client.Set(ctx, s.summaryKey(threadID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	s.publish(ctx, driver.ChannelSummaryStored, threadID)
	return nil
}

// LoadSummary returns the stored summary or nil.
func (s *Store) LoadSummary(ctx context.Context, threadID string) (*types.StructuredSummary, error) {
	data, err := s.client.Get(ctx, s.summaryKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	var summary types.StructuredSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &summary, nil
}

// LoadThread returns the thread's state or driver.ErrThreadNotFound.
func (s *Store) LoadThread(ctx context.Context, threadID string) (*types.ThreadState, error) {
	data, err := s.client.Get(ctx, s.threadKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", driver.ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	var state types.ThreadState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal thread state: %w", err)
	}
	return &state, nil
}

// SaveThread replaces the thread's state.
func (s *Store) SaveThread(ctx context.Context, state *types.ThreadState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal thread state: %w", err)
	}
	if err := s.client.Set(ctx, s.threadKey(state.ThreadID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save thread: %w", err)
	}
	return nil
}

// SaveHandoff stores doc unless its ID is already stored. Handoff documents
// never expire.
func (s *Store) SaveHandoff(ctx context.Context, doc *types.HandoffDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal handoff: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.handoffKey(doc.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	if !created {
		return nil
	}

	pipe := s.client.TxPipeline()
	if doc.Consumed() {
		pipe.SetNX(ctx, s.consumedKey(doc.ID), doc.ConsumedBy, 0)
	} else {
		pipe.ZAdd(ctx, s.pendingKey(doc.FromSessionID), redis.Z{
			Score:  float64(doc.CreatedAt.UnixMilli()),
			Member: doc.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index handoff: %w", err)
	}
	s.publish(ctx, driver.ChannelHandoffCreated, doc.FromSessionID)
	return nil
}

// PendingHandoff returns the newest unconsumed document from the thread.
func (s *Store) PendingHandoff(ctx context.Context, fromThreadID string) (*types.HandoffDocument, error) {
	ids, err := s.client.ZRevRange(ctx, s.pendingKey(fromThreadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending handoff: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: thread %s", driver.ErrHandoffNotFound, fromThreadID)
	}
	return s.loadHandoff(ctx, ids[0])
}

func (s *Store) loadHandoff(ctx context.Context, id string) (*types.HandoffDocument, error) {
	data, err := s.client.Get(ctx, s.handoffKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", driver.ErrHandoffNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load handoff: %w", err)
	}
	var doc types.HandoffDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal handoff: %w", err)
	}
	return &doc, nil
}

// ConsumeHandoff marks the document consumed by newThreadID. The consumed
// key decides the race; the document is rewritten afterwards.
func (s *Store) ConsumeHandoff(ctx context.Context, handoffID, newThreadID string, at time.Time) (bool, error) {
	doc, err := s.loadHandoff(ctx, handoffID)
	if err != nil {
		return false, err
	}

	won, err := s.client.SetNX(ctx, s.consumedKey(handoffID), newThreadID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("consume handoff: %w", err)
	}
	if !won {
		by, err := s.client.Get(ctx, s.consumedKey(handoffID)).Result()
		if err != nil {
			return false, fmt.Errorf("consume handoff: %w", err)
		}
		if by == newThreadID {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s", driver.ErrHandoffConsumed, handoffID)
	}

	consumedAt := at.UTC()
	doc.ConsumedAt = &consumedAt
	doc.ConsumedBy = newThreadID
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("marshal handoff: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.handoffKey(handoffID), data, 0)
	pipe.ZRem(ctx, s.pendingKey(doc.FromSessionID), handoffID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("consume handoff: %w", err)
	}
	return true, nil
}

// Compile-time check
var _ driver.Store = (*Store)(nil)
