package relay

import (
	"sort"
	"sync"

	"clinic-inbox/internal/models"
)

// MessageView is a subscriber-side copy of one conversation, reconciled by
// message id and kept in created_at order.
type MessageView struct {
	mu   sync.RWMutex
	msgs []models.Message
}

func NewMessageView(initial []models.Message) *MessageView {
	v := &MessageView{msgs: append([]models.Message(nil), initial...)}
	v.sortLocked()
	return v
}

// Apply upserts on insert/update and removes on delete. Events for other
// tables are ignored. It reports whether the view changed.
func (v *MessageView) Apply(e Event) bool {
	if e.Table != TableMessages {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	idx := -1
	for i := range v.msgs {
		if v.msgs[i].ID == e.ID {
			idx = i
			break
		}
	}

	switch e.Op {
	case OpDelete:
		if idx < 0 {
			return false
		}
		v.msgs = append(v.msgs[:idx], v.msgs[idx+1:]...)
		return true
	case OpInsert, OpUpdate:
		if e.Message == nil {
			return false
		}
		if idx >= 0 {
			v.msgs[idx] = *e.Message
		} else {
			v.msgs = append(v.msgs, *e.Message)
		}
		v.sortLocked()
		return true
	}
	return false
}

func (v *MessageView) sortLocked() {
	sort.SliceStable(v.msgs, func(i, j int) bool {
		return v.msgs[i].CreatedAt.Before(v.msgs[j].CreatedAt)
	})
}

func (v *MessageView) Snapshot() []models.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]models.Message(nil), v.msgs...)
}

// ContactView is a subscriber-side copy of the contact list, reconciled by
// contact id and kept in list order: most recent activity first, contacts
// without messages last.
type ContactView struct {
	mu       sync.RWMutex
	contacts []models.Contact
}

func NewContactView(initial []models.Contact) *ContactView {
	v := &ContactView{contacts: append([]models.Contact(nil), initial...)}
	v.sortLocked()
	return v
}

func (v *ContactView) Apply(e Event) bool {
	if e.Table != TableContacts {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	idx := -1
	for i := range v.contacts {
		if v.contacts[i].ID == e.ID {
			idx = i
			break
		}
	}

	switch e.Op {
	case OpDelete:
		if idx < 0 {
			return false
		}
		v.contacts = append(v.contacts[:idx], v.contacts[idx+1:]...)
		return true
	case OpInsert, OpUpdate:
		if e.Contact == nil {
			return false
		}
		if idx >= 0 {
			v.contacts[idx] = *e.Contact
		} else {
			v.contacts = append(v.contacts, *e.Contact)
		}
		v.sortLocked()
		return true
	}
	return false
}

func (v *ContactView) sortLocked() {
	sort.SliceStable(v.contacts, func(i, j int) bool {
		a, b := v.contacts[i].LastMessageAt, v.contacts[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
}

func (v *ContactView) Snapshot() []models.Contact {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]models.Contact(nil), v.contacts...)
}
