package inbox

import (
	"context"
	"sync"

	"clinic-inbox/internal/logger"
)

// Presence tracks which contacts currently have an open conversation.
// Several operators may hold the same contact open, so it is refcounted.
// With a shared set attached, conversations open on other instances count
// as well.
type Presence struct {
	mu     sync.Mutex
	open   map[string]int
	shared *sharedSet
	log    *logger.Logger
}

func NewPresence() *Presence {
	return &Presence{open: make(map[string]int), log: logger.Nop()}
}

func (p *Presence) acquire(contactID string) {
	p.mu.Lock()
	p.open[contactID]++
	first := p.open[contactID] == 1
	p.mu.Unlock()
	if first && p.shared != nil {
		p.shared.sync(contactID, p.isOpenLocal)
	}
}

func (p *Presence) release(contactID string) {
	p.mu.Lock()
	last := p.open[contactID] <= 1
	if last {
		delete(p.open, contactID)
	} else {
		p.open[contactID]--
	}
	p.mu.Unlock()
	if last && p.shared != nil {
		p.shared.sync(contactID, p.isOpenLocal)
	}
}

func (p *Presence) isOpenLocal(contactID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open[contactID] > 0
}

// IsOpen reports whether contactID is open here or, when shared, on any
// instance. A Redis failure falls back to the local answer.
func (p *Presence) IsOpen(ctx context.Context, contactID string) bool {
	if p.isOpenLocal(contactID) {
		return true
	}
	if p.shared == nil {
		return false
	}
	open, err := p.shared.has(ctx, contactID)
	if err != nil {
		p.log.Warn("shared presence lookup failed", "contact_id", contactID, "error", err)
		return false
	}
	return open
}

// ActiveContactID returns contactID when it is open somewhere, "" otherwise.
// The result is what callers pass as Inbound.ActiveContactID.
func (p *Presence) ActiveContactID(ctx context.Context, contactID string) string {
	if p.IsOpen(ctx, contactID) {
		return contactID
	}
	return ""
}

// countsAsUnread decides whether an inbound message bumps unread_count.
// A message for the conversation the operator has open is already read.
func countsAsUnread(contactID, activeContactID string) bool {
	return contactID != activeContactID
}
