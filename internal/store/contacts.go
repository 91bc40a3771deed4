package store

import (
	"context"
	"fmt"
	"strings"

	"clinic-inbox/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// View selects one of the mutually exclusive contact list filters.
type View string

const (
	ViewAll    View = "all"
	ViewUnread View = "unread"
	ViewAI     View = "ai"
)

func ParseView(v string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(v))) {
	case "", ViewAll:
		return ViewAll, nil
	case ViewUnread:
		return ViewUnread, nil
	case ViewAI:
		return ViewAI, nil
	}
	return "", fmt.Errorf("%w: unknown view %q", models.ErrValidation, v)
}

// ContactQuery filters the contact list. Limit <= 0 means no limit.
type ContactQuery struct {
	Search string
	View   View
	Limit  int
	Offset int
}

// ContactPatch holds operator edits. Nil fields are left untouched.
type ContactPatch struct {
	Name           *string
	PhoneNumber    *string
	ProfilePic     *string
	Tags           *[]string
	AIEnabled      *bool
	Persona        *string
	MedicalHistory *string
}

func (p ContactPatch) updates() map[string]interface{} {
	m := map[string]interface{}{}
	if p.Name != nil {
		m["name"] = *p.Name
	}
	if p.PhoneNumber != nil {
		m["phone_number"] = *p.PhoneNumber
	}
	if p.ProfilePic != nil {
		m["profile_pic"] = *p.ProfilePic
	}
	if p.Tags != nil {
		m["tags"] = datatypes.JSONSlice[string](*p.Tags)
	}
	if p.AIEnabled != nil {
		m["ai_enabled"] = *p.AIEnabled
	}
	if p.Persona != nil {
		m["persona"] = *p.Persona
	}
	if p.MedicalHistory != nil {
		m["medical_history"] = *p.MedicalHistory
	}
	return m
}

func (s *Store) CreateContact(ctx context.Context, c *models.Contact) (*models.Contact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Tags == nil {
		c.Tags = datatypes.JSONSlice[string]{}
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return c, nil
}

func (s *Store) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	return getContact(s.db.WithContext(ctx), id)
}

func getContact(tx *gorm.DB, id string) (*models.Contact, error) {
	var c models.Contact
	if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) GetContactByRemoteJID(ctx context.Context, jid string) (*models.Contact, error) {
	var c models.Contact
	if err := s.db.WithContext(ctx).Where("remote_jid = ?", jid).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// UpsertContactByRemoteJID returns the contact for jid, creating it with the
// given name and phone when it does not exist yet. created reports whether a
// row was inserted.
func (s *Store) UpsertContactByRemoteJID(ctx context.Context, jid, name, phone string) (c *models.Contact, created bool, err error) {
	attrs := models.Contact{ID: uuid.NewString(), Tags: datatypes.JSONSlice[string]{}}
	if name != "" {
		attrs.Name = &name
	}
	if phone != "" {
		attrs.PhoneNumber = &phone
	}

	var out models.Contact
	res := s.db.WithContext(ctx).
		Where(models.Contact{RemoteJID: jid}).
		Attrs(attrs).
		FirstOrCreate(&out)
	if res.Error != nil {
		return nil, false, fmt.Errorf("upsert contact %s: %w", jid, res.Error)
	}
	// FirstOrCreate reports one affected row for a hit as well; only a fresh
	// insert carries the generated id.
	return &out, out.ID == attrs.ID, nil
}

func (s *Store) UpdateContact(ctx context.Context, id string, patch ContactPatch) (*models.Contact, error) {
	updates := patch.updates()
	var out *models.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			res := tx.Model(&models.Contact{}).Where("id = ?", id).Updates(updates)
			if res.Error != nil {
				return fmt.Errorf("update contact: %w", res.Error)
			}
		}
		c, err := getContact(tx, id)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ToggleAI flips ai_enabled in a single statement.
func (s *Store) ToggleAI(ctx context.Context, id string) (*models.Contact, error) {
	var out *models.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contact{}).Where("id = ?", id).
			Update("ai_enabled", gorm.Expr("NOT ai_enabled"))
		if res.Error != nil {
			return fmt.Errorf("toggle ai: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		c, err := getContact(tx, id)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResetUnread zeroes unread_count. changed is false when it was already zero.
func (s *Store) ResetUnread(ctx context.Context, id string) (c *models.Contact, changed bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contact{}).
			Where("id = ? AND unread_count > 0", id).
			Update("unread_count", 0)
		if res.Error != nil {
			return fmt.Errorf("reset unread: %w", res.Error)
		}
		changed = res.RowsAffected > 0
		c, err = getContact(tx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return c, changed, nil
}

// ListContacts applies the search and view filters and orders by
// last_message_at descending, contacts that never exchanged a message last.
func (s *Store) ListContacts(ctx context.Context, q ContactQuery) ([]models.Contact, error) {
	tx := s.db.WithContext(ctx).Model(&models.Contact{})

	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		like := "%" + escapeLike(term) + "%"
		tx = tx.Where(
			"LOWER(COALESCE(name, '')) LIKE ? ESCAPE '\\' OR LOWER(COALESCE(phone_number, '')) LIKE ? ESCAPE '\\'",
			like, like,
		)
	}

	switch q.View {
	case ViewUnread:
		tx = tx.Where("unread_count > 0")
	case ViewAI:
		tx = tx.Where("ai_enabled = ?", true)
	}

	tx = tx.Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END").
		Order("last_message_at DESC").
		Order("created_at DESC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit).Offset(q.Offset)
	}

	contacts := []models.Contact{}
	if err := tx.Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
