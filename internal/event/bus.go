package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opencode-ai/opencode/internal/logging"
)

// DefaultQueueSize is the per-subscriber buffer depth. A publisher that
// outruns a subscriber blocks on that subscriber's channel rather than
// dropping the event — §4.A requires delivery, not best-effort.
const DefaultQueueSize = 64

// Subscription is a restartable-once, cancellable stream of events. A
// subscriber reads from Events until Cancel is called or the bus itself
// is closed, at which point the channel is closed.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Cancel stops delivery to this subscription and releases its queue.
// Safe to call more than once.
func (s *Subscription) Cancel() { s.cancel() }

type subscriber struct {
	id        uint64
	ch        chan Event
	sessionID string // "" means unfiltered
	done      chan struct{}
	closeOnce sync.Once
}

// Bus is the broadcast implementation of the event fan-out described in
// §4.A. The subscriber-facing contract above — bounded queue, blocking
// backpressure, session filtering, cancellable Subscription — is
// implemented directly over per-subscriber buffered channels. A watermill
// gochannel is created in NewBus and closed in Close, but Publish and
// Subscribe do not route events through it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	closed      bool
	pubsub      *gochannel.GoChannel
}

// NullBus accepts publishes and hands back already-finished
// subscriptions; it exists for tests that don't want to reason about
// delivery at all.
type NullBus struct{}

func (NullBus) Publish(Event)                           {}
func (NullBus) Subscribe(sessionID string) *Subscription {
	ch := make(chan Event)
	close(ch)
	return &Subscription{Events: ch, cancel: func() {}}
}

// Publisher is the interface the rest of the core depends on, so tests
// can substitute NullBus without importing *Bus.
type Publisher interface {
	Publish(Event)
	Subscribe(sessionID string) *Subscription
}

var _ Publisher = (*Bus)(nil)
var _ Publisher = NullBus{}

// NewBus constructs a broadcast bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: int64(DefaultQueueSize)},
			watermill.NopLogger{},
		),
	}
}

// Subscribe opens a Subscription. An empty sessionID receives every
// event; a non-empty sessionID receives only events whose
// properties["sessionID"] equals it — events without a sessionID are
// never delivered to a filtered subscription.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := atomic.AddUint64(&b.nextID, 1)
	sub := &subscriber{
		id:        id,
		ch:        make(chan Event, DefaultQueueSize),
		sessionID: sessionID,
		done:      make(chan struct{}),
	}
	if b.closed {
		close(sub.ch)
		return &Subscription{Events: sub.ch, cancel: func() {}}
	}
	b.subscribers[id] = sub

	return &Subscription{
		Events: sub.ch,
		cancel: func() { b.remove(id) },
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		sub.closeOnce.Do(func() { close(sub.done); close(sub.ch) })
	}
}

// Publish delivers event to every subscriber whose filter accepts it,
// in publish order per subscriber. A full subscriber queue blocks this
// call until that subscriber drains or cancels — callers are expected
// to publish off any latency-sensitive path. Publishing with no
// subscribers is a cheap no-op.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.sessionID == "" || sub.sessionID == evt.SessionID() {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		case <-sub.done:
			// subscriber cancelled while we were blocked on it; drop silently.
		}
	}
}

// Close shuts down the bus and every open subscription. Subsequent
// Publish/Subscribe calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[uint64]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() { close(sub.done); close(sub.ch) })
	}
	logging.Debug().Msg("event bus closed")
	return b.pubsub.Close()
}
