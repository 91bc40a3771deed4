package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type SenderType string

const (
	SenderUser    SenderType = "user"    // clinic operator
	SenderContact SenderType = "contact" // patient
	SenderBot     SenderType = "bot"     // AI responder
)

func (s SenderType) Valid() bool {
	switch s {
	case SenderUser, SenderContact, SenderBot:
		return true
	}
	return false
}

// Message status values. Status is a display hint, not a delivery receipt.
const (
	StatusSent     = "sent"
	StatusReceived = "received"
	StatusDraft    = "draft"
	StatusFailed   = "failed"
)

type Tag string

const (
	TagTriage    Tag = "triage"
	TagScheduled Tag = "scheduled"
	TagUrgent    Tag = "urgent"
	TagPostVisit Tag = "post_visit"
	TagAwaiting  Tag = "awaiting"
)

var knownTags = map[Tag]bool{
	TagTriage:    true,
	TagScheduled: true,
	TagUrgent:    true,
	TagPostVisit: true,
	TagAwaiting:  true,
}

// ErrValidation marks input rejected before any store call.
var ErrValidation = errors.New("validation failed")

var ErrInvalidTag = fmt.Errorf("%w: invalid tag", ErrValidation)

// NormalizeTags validates tags against the known set and drops duplicates,
// keeping first-seen order.
func NormalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if !knownTags[Tag(t)] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTag, t)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// Contact is a conversation thread with one patient.
type Contact struct {
	ID             string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RemoteJID      string                      `gorm:"type:varchar(255);uniqueIndex;not null" json:"remote_jid"`
	Name           *string                     `gorm:"type:varchar(255)" json:"name"`
	PhoneNumber    *string                     `gorm:"type:varchar(50)" json:"phone_number"`
	ProfilePic     *string                     `gorm:"type:text" json:"profile_pic"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	AIEnabled      bool                        `gorm:"not null;default:false" json:"ai_enabled"`
	Persona        string                      `gorm:"type:varchar(100)" json:"persona"`
	MedicalHistory string                      `gorm:"type:text" json:"medical_history"`
	LastMessageAt  *time.Time                  `gorm:"index" json:"last_message_at"`
	UnreadCount    int                         `gorm:"not null;default:0" json:"unread_count"`
	CreatedAt      time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// DisplayName falls back to the phone number, then the remote JID.
func (c *Contact) DisplayName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	if c.PhoneNumber != nil && *c.PhoneNumber != "" {
		return *c.PhoneNumber
	}
	return c.RemoteJID
}

// Message is one entry of a contact's conversation log.
type Message struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ContactID  string     `gorm:"type:varchar(36);index;not null" json:"contact_id"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	SenderType SenderType `gorm:"type:varchar(20);not null" json:"sender_type"`
	IsDraft    bool       `gorm:"not null;default:false" json:"is_draft"`
	Status     string     `gorm:"type:varchar(20)" json:"status"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

var ErrDraftNotBot = fmt.Errorf("%w: only bot messages can be drafts", ErrValidation)

// Validate enforces that drafts are always bot-authored.
func (m *Message) Validate() error {
	if !m.SenderType.Valid() {
		return fmt.Errorf("%w: invalid sender type %q", ErrValidation, m.SenderType)
	}
	if m.IsDraft && m.SenderType != SenderBot {
		return ErrDraftNotBot
	}
	return nil
}

const (
	DefaultAssistantName = "Carol"
	DefaultTone          = "empático"
	DefaultResponseDelay = 3
	MinResponseDelay     = 1
	MaxResponseDelay     = 10
)

// Prompt is a persona configuration for the AI responder. At most one is active.
type Prompt struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title         string    `gorm:"type:varchar(255);not null" json:"title"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	AssistantName string    `gorm:"type:varchar(100)" json:"assistant_name"`
	Tone          string    `gorm:"type:varchar(50)" json:"tone"`
	ResponseDelay int       `gorm:"not null;default:3" json:"response_delay"`
	IsActive      bool      `gorm:"not null;default:false;index" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Prompt) TableName() string {
	return "prompts"
}

// Delay returns the configured response delay as a duration.
func (p *Prompt) Delay() time.Duration {
	return time.Duration(p.ResponseDelay) * time.Second
}
