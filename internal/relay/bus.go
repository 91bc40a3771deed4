package relay

import (
	"sync"
	"time"

	"clinic-inbox/internal/logger"

	"github.com/google/uuid"
)

const defaultBuffer = 256

// Bus fans change events out to in-process subscribers. Publish never blocks:
// a subscriber whose buffer is full is dropped and its channel closed, the
// same policy the websocket hub applies to slow clients.
type Bus struct {
	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	forwarders []func(Event)
	buffer     int
	origin     string
	log        *logger.Logger
}

func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: defaultBuffer,
		origin: uuid.NewString(),
		log:    log.With("component", "relay"),
	}
}

// WithBuffer sets the per-subscriber queue length for later subscriptions.
func (b *Bus) WithBuffer(n int) *Bus {
	if n > 0 {
		b.buffer = n
	}
	return b
}

// Origin identifies this process in events that leave it.
func (b *Bus) Origin() string {
	return b.origin
}

// Forward registers fn to receive every event published locally. Events
// received through Deliver are not forwarded.
func (b *Bus) Forward(fn func(Event)) {
	b.mu.Lock()
	b.forwarders = append(b.forwarders, fn)
	b.mu.Unlock()
}

// Publish stamps e with this bus's origin and delivers it locally and to the
// forwarders.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	e.Origin = b.origin
	b.Deliver(e)

	b.mu.Lock()
	fwd := append([]func(Event){}, b.forwarders...)
	b.mu.Unlock()
	for _, fn := range fwd {
		fn(e)
	}
}

// Deliver hands e to matching local subscribers only.
func (b *Bus) Deliver(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.filter.Match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.log.Warn("dropping slow subscriber", "table", e.Table, "contact_id", sub.filter.ContactID)
			b.removeLocked(sub)
		}
	}
}

func (b *Bus) Subscribe(f Filter) *Subscription {
	sub := &Subscription{
		bus:    b,
		filter: f,
		ch:     make(chan Event, b.buffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) removeLocked(sub *Subscription) {
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Subscription is a scoped listener. Close releases it; it is safe to call
// more than once and after the bus dropped the subscriber.
type Subscription struct {
	bus    *Bus
	filter Filter
	ch     chan Event
	once   sync.Once
}

// Events is closed when the subscription is released.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.bus.removeLocked(s)
		s.bus.mu.Unlock()
	})
}
