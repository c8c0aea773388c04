package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/youssefsiam38/agentctx/driver"
)

// ErrListenerClosed is returned by a Listener after Close.
var ErrListenerClosed = errors.New("listener closed")

// Notifier publishes notifications with PUBLISH under the store's prefix.
type Notifier struct {
	client redis.UniversalClient
	prefix string
}

// Notifier returns a Notifier sharing the store's client and prefix.
func (s *Store) Notifier() *Notifier {
	return &Notifier{client: s.client, prefix: s.prefix}
}

// Notify publishes payload on channel.
func (n *Notifier) Notify(ctx context.Context, channel, payload string) error {
	return n.client.Publish(ctx, n.prefix+channel, payload).Err()
}

// Listener receives notifications published by a Store with the same prefix.
type Listener struct {
	mu     sync.Mutex
	pubsub *redis.PubSub
	prefix string
	closed bool
}

// Listener returns a Listener on the store's client. It holds a dedicated
// connection until Close.
func (s *Store) Listener(ctx context.Context) *Listener {
	return &Listener{pubsub: s.client.Subscribe(ctx), prefix: s.prefix}
}

func (l *Listener) active() (*redis.PubSub, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrListenerClosed
	}
	return l.pubsub, nil
}

// Listen subscribes to channel and waits for the server to confirm, so
// messages published after it returns are delivered.
func (l *Listener) Listen(ctx context.Context, channel string) error {
	ps, err := l.active()
	if err != nil {
		return err
	}
	if err := ps.Subscribe(ctx, l.prefix+channel); err != nil {
		return err
	}
	msg, err := ps.Receive(ctx)
	if err != nil {
		return err
	}
	if _, ok := msg.(*redis.Subscription); !ok {
		return fmt.Errorf("unexpected reply to subscribe: %T", msg)
	}
	return nil
}

// WaitForNotification blocks until a message arrives or ctx is done.
// Subscription confirmations are skipped.
func (l *Listener) WaitForNotification(ctx context.Context) (*driver.Notification, error) {
	ps, err := l.active()
	if err != nil {
		return nil, err
	}
	msg, err := ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &driver.Notification{
		Channel: strings.TrimPrefix(msg.Channel, l.prefix),
		Payload: msg.Payload,
	}, nil
}

// Close unsubscribes and releases the connection.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.pubsub.Close()
}

// Compile-time checks
var (
	_ driver.Listener = (*Listener)(nil)
	_ driver.Notifier = (*Notifier)(nil)
)
