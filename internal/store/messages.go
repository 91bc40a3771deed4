package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinic-inbox/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Touch describes the contact side effect of appending a message.
type Touch struct {
	// At becomes the contact's last_message_at. Zero means the message time.
	At time.Time
	// UnreadDelta is added to unread_count in the same statement.
	UnreadDelta int
}

// AppendMessage inserts msg and, when touch is non-nil, updates the owning
// contact in the same transaction. The returned contact is nil when touch is nil.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message, touch *Touch) (*models.Message, *models.Contact, error) {
	if err := msg.Validate(); err != nil {
		return nil, nil, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	var contact *models.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&models.Contact{}).Where("id = ?", msg.ContactID).Count(&exists).Error; err != nil {
			return fmt.Errorf("lookup contact: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}

		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if touch == nil {
			return nil
		}

		at := touch.At
		if at.IsZero() {
			at = msg.CreatedAt
		}
		updates := map[string]interface{}{"last_message_at": at}
		if touch.UnreadDelta != 0 {
			updates["unread_count"] = gorm.Expr("unread_count + ?", touch.UnreadDelta)
		}
		if err := tx.Model(&models.Contact{}).Where("id = ?", msg.ContactID).Updates(updates).Error; err != nil {
			return fmt.Errorf("touch contact: %w", err)
		}
		c, err := getContact(tx, msg.ContactID)
		if err != nil {
			return err
		}
		contact = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return msg, contact, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return getMessage(s.db.WithContext(ctx), id)
}

func getMessage(tx *gorm.DB, id string) (*models.Message, error) {
	var m models.Message
	if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListMessages returns the conversation in created_at ascending order.
func (s *Store) ListMessages(ctx context.Context, contactID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.WithContext(ctx).
		Where("contact_id = ?", contactID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) SetMessageStatus(ctx context.Context, id, status string) (*models.Message, error) {
	var out *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).Where("id = ?", id).Update("status", status)
		if res.Error != nil {
			return fmt.Errorf("set status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		m, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApproveDraft turns a draft into a final sent message. Content and
// created_at are left as they are.
func (s *Store) ApproveDraft(ctx context.Context, id string) (*models.Message, error) {
	return s.updateDraft(ctx, id, map[string]interface{}{
		"is_draft": false,
		"status":   models.StatusSent,
	})
}

// UpdateDraftContent edits a draft in place; it stays a draft.
func (s *Store) UpdateDraftContent(ctx context.Context, id, content string) (*models.Message, error) {
	return s.updateDraft(ctx, id, map[string]interface{}{"content": content})
}

func (s *Store) updateDraft(ctx context.Context, id string, updates map[string]interface{}) (*models.Message, error) {
	var out *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("id = ? AND is_draft = ?", id, true).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update draft: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return draftMiss(tx, id)
		}
		m, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDraft removes a draft and returns the deleted row.
func (s *Store) DeleteDraft(ctx context.Context, id string) (*models.Message, error) {
	var out *models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		res := tx.Where("id = ? AND is_draft = ?", id, true).Delete(&models.Message{})
		if res.Error != nil {
			return fmt.Errorf("delete draft: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return draftMiss(tx, id)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// draftMiss tells a missing message apart from one that is no longer a draft.
func draftMiss(tx *gorm.DB, id string) error {
	if _, err := getMessage(tx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return ErrNotDraft
}

// Stats is the inbox summary shown on the dashboard.
type Stats struct {
	Contacts       int64 `json:"contacts"`
	UnreadContacts int64 `json:"unread_contacts"`
	UnreadMessages int64 `json:"unread_messages"`
	AIContacts     int64 `json:"ai_contacts"`
	PendingDrafts  int64 `json:"pending_drafts"`
	MessagesToday  int64 `json:"messages_today"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	var st Stats
	if err := db.Model(&models.Contact{}).Count(&st.Contacts).Error; err != nil {
		return nil, fmt.Errorf("count contacts: %w", err)
	}
	if err := db.Model(&models.Contact{}).Where("unread_count > 0").Count(&st.UnreadContacts).Error; err != nil {
		return nil, fmt.Errorf("count unread contacts: %w", err)
	}
	if err := db.Model(&models.Contact{}).Select("COALESCE(SUM(unread_count), 0)").Scan(&st.UnreadMessages).Error; err != nil {
		return nil, fmt.Errorf("sum unread: %w", err)
	}
	if err := db.Model(&models.Contact{}).Where("ai_enabled = ?", true).Count(&st.AIContacts).Error; err != nil {
		return nil, fmt.Errorf("count ai contacts: %w", err)
	}
	if err := db.Model(&models.Message{}).Where("is_draft = ?", true).Count(&st.PendingDrafts).Error; err != nil {
		return nil, fmt.Errorf("count drafts: %w", err)
	}
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := db.Model(&models.Message{}).Where("created_at >= ?", midnight).Count(&st.MessagesToday).Error; err != nil {
		return nil, fmt.Errorf("count today: %w", err)
	}
	return &st, nil
}
