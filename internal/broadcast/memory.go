package broadcast

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Broadcaster for single-process deployments and
// tests. Same contract as Redis: best-effort, at-most-once — an announcement
// that would block a full subscriber buffer is dropped for that subscriber.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Announcement // documentID -> subscriber id -> channel
	nextID int
	closed bool
}

// NewMemoryBus creates an in-process broadcaster.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]chan Announcement)}
}

// Publish implements Broadcaster.
func (b *MemoryBus) Publish(ctx context.Context, ann Announcement) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	for _, ch := range b.subs[ann.DocumentID] {
		select {
		case ch <- ann:
		default:
			// Subscriber is not keeping up; drop, the poll loop will catch it up.
		}
	}
	return nil
}

// Subscribe implements Broadcaster.
func (b *MemoryBus) Subscribe(ctx context.Context, documentID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Announcement, 16)
	if b.subs[documentID] == nil {
		b.subs[documentID] = make(map[int]chan Announcement)
	}
	b.subs[documentID][id] = ch

	events := make(chan Announcement, 16)
	errors := make(chan error, 1)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(events)
		defer close(errors)
		defer b.unsubscribe(documentID, id)

		for {
			select {
			case <-subCtx.Done():
				return
			case ann := <-ch:
				select {
				case events <- ann:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: events,
		errors: errors,
		cancel: cancelFunc,
	}, nil
}

// Close implements Broadcaster. Existing subscriptions keep draining until
// individually closed; no further announcements are delivered.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBus) unsubscribe(documentID string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[documentID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subs, documentID)
		}
	}
}
