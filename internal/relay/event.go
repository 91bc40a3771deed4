package relay

import (
	"time"

	"clinic-inbox/internal/models"
)

type Table string

const (
	TableContacts Table = "contacts"
	TableMessages Table = "messages"
	TablePrompts  Table = "prompts"
	// TableTyping carries the AI typing indicator; it has no backing rows.
	TableTyping Table = "typing"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Typing struct {
	ContactID string `json:"contact_id"`
	Active    bool   `json:"active"`
}

// Event is a row-level change. Exactly one payload field is set, matching Table.
type Event struct {
	Table     Table           `json:"table"`
	Op        Op              `json:"op"`
	ID        string          `json:"id"`
	ContactID string          `json:"contact_id,omitempty"`
	Contact   *models.Contact `json:"contact,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
	Prompt    *models.Prompt  `json:"prompt,omitempty"`
	Typing    *Typing         `json:"typing,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	At        time.Time       `json:"at"`
}

func ContactEvent(op Op, c *models.Contact) Event {
	return Event{Table: TableContacts, Op: op, ID: c.ID, ContactID: c.ID, Contact: c}
}

func MessageEvent(op Op, m *models.Message) Event {
	return Event{Table: TableMessages, Op: op, ID: m.ID, ContactID: m.ContactID, Message: m}
}

func PromptEvent(op Op, p *models.Prompt) Event {
	return Event{Table: TablePrompts, Op: op, ID: p.ID, Prompt: p}
}

func TypingEvent(contactID string, active bool) Event {
	return Event{
		Table:     TableTyping,
		Op:        OpUpdate,
		ID:        contactID,
		ContactID: contactID,
		Typing:    &Typing{ContactID: contactID, Active: active},
	}
}

// Filter selects events for a subscriber. Empty fields match everything.
type Filter struct {
	Tables    []Table
	Ops       []Op
	ContactID string
}

func (f Filter) Match(e Event) bool {
	if len(f.Tables) > 0 && !containsTable(f.Tables, e.Table) {
		return false
	}
	if len(f.Ops) > 0 && !containsOp(f.Ops, e.Op) {
		return false
	}
	if f.ContactID != "" && f.ContactID != e.ContactID {
		return false
	}
	return true
}

func containsTable(list []Table, t Table) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsOp(list []Op, op Op) bool {
	for _, v := range list {
		if v == op {
			return true
		}
	}
	return false
}
