package gateway

import (
	"context"
	"sync"

	"github.com/af-corp/scout/internal/types"
)

// Broadcast is an append-only event log that any number of subscribers can
// replay from the start and then follow until it is closed. It is the shared
// value of a deduplicated request.
type Broadcast struct {
	mu     sync.Mutex
	events []types.Event
	closed bool
	notify chan struct{}
}

func NewBroadcast() *Broadcast {
	return &Broadcast{notify: make(chan struct{})}
}

// Send appends ev and wakes subscribers. Sends after Close are dropped.
func (b *Broadcast) Send(ev types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.events = append(b.events, ev)
	close(b.notify)
	b.notify = make(chan struct{})
}

// Close marks the log complete.
func (b *Broadcast) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// Subscribe calls fn for every event in order, waiting for new ones until
// the log is closed, ctx is done or fn fails.
func (b *Broadcast) Subscribe(ctx context.Context, fn func(types.Event) error) error {
	next := 0
	for {
		b.mu.Lock()
		pending := b.events[next:]
		closed := b.closed
		wait := b.notify
		b.mu.Unlock()

		for _, ev := range pending {
			if err := fn(ev); err != nil {
				return err
			}
		}
		next += len(pending)
		if len(pending) > 0 {
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len reports how many events have been sent.
func (b *Broadcast) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
