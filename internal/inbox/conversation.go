package inbox

import (
	"context"
	"errors"
	"sync"

	"clinic-inbox/internal/models"
	"clinic-inbox/internal/relay"
)

// ErrLagged ends a conversation whose consumer fell behind its event stream.
// The view stops at that point; the consumer should reopen to resynchronize.
var ErrLagged = errors.New("conversation consumer fell behind")

const conversationBuffer = 64

// Conversation is an operator's open view of one contact. It holds a relay
// subscription and a presence mark until Close.
type Conversation struct {
	ContactID string
	Contact   *models.Contact

	view   *relay.MessageView
	sub    *relay.Subscription
	events chan relay.Event
	svc    *Service
	once   sync.Once

	mu  sync.Mutex
	err error
}

// Open resets the contact's unread count, loads its messages and starts
// following changes for it. The subscription is taken before the load so no
// write between the two is missed.
func (s *Service) Open(ctx context.Context, contactID string) (*Conversation, error) {
	if _, err := s.store.GetContact(ctx, contactID); err != nil {
		return nil, err
	}

	sub := s.bus.Subscribe(relay.Filter{ContactID: contactID})
	s.presence.acquire(contactID)

	contact, err := s.MarkRead(ctx, contactID)
	if err != nil {
		sub.Close()
		s.presence.release(contactID)
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, contactID)
	if err != nil {
		sub.Close()
		s.presence.release(contactID)
		return nil, err
	}

	conv := &Conversation{
		ContactID: contactID,
		Contact:   contact,
		view:      relay.NewMessageView(msgs),
		sub:       sub,
		events:    make(chan relay.Event, conversationBuffer),
		svc:       s,
	}
	go conv.follow()
	return conv, nil
}

// follow applies every change to the view and hands it on. Delivery is never
// silently lossy: if the consumer cannot keep up, or the bus drops the
// subscription, the conversation ends with ErrLagged.
func (c *Conversation) follow() {
	defer close(c.events)
	for e := range c.sub.Events() {
		c.view.Apply(e)
		select {
		case c.events <- e:
		default:
			c.end(ErrLagged)
			return
		}
	}
	// Closed by Close, or dropped by the bus for being slow.
	c.end(ErrLagged)
}

// Messages is the reconciled conversation in created_at order.
func (c *Conversation) Messages() []models.Message {
	return c.view.Snapshot()
}

// Events yields every change applied to the view, in order, until the
// conversation ends. The channel closes after Close or on ErrLagged; check Err
// to tell the two apart.
func (c *Conversation) Events() <-chan relay.Event {
	return c.events
}

// Err is ErrLagged when the conversation ended because its consumer fell
// behind, nil otherwise.
func (c *Conversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close releases the subscription and the presence mark. It is idempotent.
func (c *Conversation) Close() {
	c.end(nil)
}

func (c *Conversation) end(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.sub.Close()
		c.svc.presence.release(c.ContactID)
		if err != nil {
			c.svc.log.Warn("conversation ended", "contact_id", c.ContactID, "error", err)
		}
	})
}
