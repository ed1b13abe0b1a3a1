package agent

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultPoolWidth bounds concurrent jobs when no width is configured.
const DefaultPoolWidth = 50

// Pool runs independent jobs with bounded concurrency
type Pool struct {
	width int
}

// NewPool creates a pool; width <= 0 uses DefaultPoolWidth.
func NewPool(width int) *Pool {
	if width <= 0 {
		width = DefaultPoolWidth
	}
	return &Pool{width: width}
}

func (p *Pool) Width() int { return p.width }

// Map applies fn to every item and returns the outputs in input order.
// fn reports failures inside Out; Map itself only stops early when ctx is
// cancelled, leaving the zero value for jobs that never started.
func Map[In, Out any](ctx context.Context, p *Pool, items []In, fn func(ctx context.Context, item In) Out) []Out {
	out := make([]Out, len(items))
	if len(items) == 0 {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.width)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		i, item := i, item
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out[i] = fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// EventBroadcaster fans swarm events out to subscribers
type EventBroadcaster struct {
	subscribers map[chan SwarmEvent]struct{}
	mu          sync.RWMutex
	closed      bool
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		subscribers: make(map[chan SwarmEvent]struct{}),
	}
}

// Subscribe creates a new subscription channel
func (b *EventBroadcaster) Subscribe() <-chan SwarmEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan SwarmEvent)
		close(ch)
		return ch
	}

	ch := make(chan SwarmEvent, 100)
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription
func (b *EventBroadcaster) Unsubscribe(ch <-chan SwarmEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub == ch {
			close(sub)
			delete(b.subscribers, sub)
			return
		}
	}
}

// Broadcast sends an event to all subscribers. Full subscribers miss it.
func (b *EventBroadcaster) Broadcast(event SwarmEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan SwarmEvent]struct{})
}
