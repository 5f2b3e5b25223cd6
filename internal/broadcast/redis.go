package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Broadcaster backed by Redis Pub/Sub. At-most-once delivery: a
// slow subscriber or a dropped connection loses messages, which the engine's
// poll loop absorbs.
type Redis struct {
	rdb       *redis.Client
	namespace string
}

// NewRedis creates a Redis broadcaster. All channels are namespaced so that
// independent deployments can share a server.
func NewRedis(opts *redis.Options, namespace string) (*Redis, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Redis{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
	}, nil
}

// Ping verifies Redis connectivity. Useful for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection. Implements io.Closer.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Publish implements Broadcaster.
func (r *Redis) Publish(ctx context.Context, ann Announcement) error {
	payload, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}

	channel := DocumentChannel(r.namespace, ann.DocumentID)
	if err := r.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish announcement: %w", err)
	}
	return nil
}

// Subscribe implements Broadcaster. Events are delivered on a buffered
// channel (size 16) to keep a slow consumer from blocking the reader
// goroutine; Redis itself may also drop messages for slow subscribers.
func (r *Redis) Subscribe(ctx context.Context, documentID string) (*Subscription, error) {
	channel := DocumentChannel(r.namespace, documentID)
	pubsub := r.rdb.Subscribe(ctx, channel)

	// Force the subscription to be established before returning, so a
	// Publish immediately after Subscribe is not silently missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan Announcement, 16)
	errorsChan := make(chan error, 16)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
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

				var ann Announcement
				if err := json.Unmarshal([]byte(msg.Payload), &ann); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal announcement: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- ann:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
