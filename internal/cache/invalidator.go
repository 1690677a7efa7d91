package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/quasar/internal/logging"
	"github.com/redis/go-redis/v9"
)

// DefaultInvalidationChannel is the Pub/Sub channel carrying changed keys.
const DefaultInvalidationChannel = "quasar:cache:invalidate"

// Invalidator evicts keys from a local cache when another process announces
// a change over Redis Pub/Sub. Paired with TieredCache.OnWrite it keeps the
// L1 copies of the export function table consistent across daemons.
type Invalidator struct {
	local   Cache
	client  *redis.Client
	channel string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewInvalidator creates an invalidator on channel, or the default channel
// when empty.
func NewInvalidator(local Cache, client *redis.Client, channel string) *Invalidator {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	return &Invalidator{local: local, client: client, channel: channel}
}

// Start subscribes and returns once the subscription is confirmed. Keys are
// evicted in the background until ctx is done or Close is called.
func (iv *Invalidator) Start(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := iv.client.Subscribe(subCtx, iv.channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", iv.channel, err)
	}

	iv.mu.Lock()
	iv.cancel = cancel
	iv.mu.Unlock()

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := iv.local.Delete(subCtx, msg.Payload); err != nil {
					logging.Op().Warn("cache invalidation failed", "key", msg.Payload, "error", err)
				}
			}
		}
	}()
	return nil
}

// Publish announces that key changed.
func (iv *Invalidator) Publish(ctx context.Context, key string) error {
	return iv.client.Publish(ctx, iv.channel, key).Err()
}

// Close stops the listener.
func (iv *Invalidator) Close() error {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.cancel != nil {
		iv.cancel()
		iv.cancel = nil
	}
	return nil
}
