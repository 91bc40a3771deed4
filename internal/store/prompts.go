package store

import (
	"context"
	"fmt"

	"clinic-inbox/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PromptPatch holds prompt edits. Activation is not editable here; use
// ActivatePrompt.
type PromptPatch struct {
	Title         *string
	Content       *string
	AssistantName *string
	Tone          *string
	ResponseDelay *int
}

func (p PromptPatch) updates() map[string]interface{} {
	m := map[string]interface{}{}
	if p.Title != nil {
		m["title"] = *p.Title
	}
	if p.Content != nil {
		m["content"] = *p.Content
	}
	if p.AssistantName != nil {
		m["assistant_name"] = *p.AssistantName
	}
	if p.Tone != nil {
		m["tone"] = *p.Tone
	}
	if p.ResponseDelay != nil {
		m["response_delay"] = *p.ResponseDelay
	}
	return m
}

// CreatePrompt inserts an inactive prompt.
func (s *Store) CreatePrompt(ctx context.Context, p *models.Prompt) (*models.Prompt, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.IsActive = false
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create prompt: %w", err)
	}
	return p, nil
}

func (s *Store) GetPrompt(ctx context.Context, id string) (*models.Prompt, error) {
	return getPrompt(s.db.WithContext(ctx), id)
}

func getPrompt(tx *gorm.DB, id string) (*models.Prompt, error) {
	var p models.Prompt
	if err := tx.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListPrompts returns prompts newest first.
func (s *Store) ListPrompts(ctx context.Context) ([]models.Prompt, error) {
	return listPrompts(s.db.WithContext(ctx))
}

func listPrompts(tx *gorm.DB) ([]models.Prompt, error) {
	prompts := []models.Prompt{}
	if err := tx.Order("created_at DESC").Find(&prompts).Error; err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return prompts, nil
}

// ActivePrompt returns ErrNotFound when no prompt is active.
func (s *Store) ActivePrompt(ctx context.Context) (*models.Prompt, error) {
	var p models.Prompt
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) UpdatePrompt(ctx context.Context, id string, patch PromptPatch) (*models.Prompt, error) {
	updates := patch.updates()
	var out *models.Prompt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&models.Prompt{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return fmt.Errorf("update prompt: %w", err)
			}
		}
		p, err := getPrompt(tx, id)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePrompt returns the deleted row.
func (s *Store) DeletePrompt(ctx context.Context, id string) (*models.Prompt, error) {
	var out *models.Prompt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := getPrompt(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&models.Prompt{}).Error; err != nil {
			return fmt.Errorf("delete prompt: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActivatePrompt makes id the only active prompt. The flag is rewritten for
// every row by one UPDATE inside a transaction, so no reader ever observes
// zero or two active prompts. It returns every prompt after the switch.
func (s *Store) ActivatePrompt(ctx context.Context, id string) ([]models.Prompt, error) {
	var out []models.Prompt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := getPrompt(tx, id); err != nil {
			return err
		}
		res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Model(&models.Prompt{}).
			Update("is_active", gorm.Expr("id = ?", id))
		if res.Error != nil {
			return fmt.Errorf("activate prompt: %w", res.Error)
		}
		prompts, err := listPrompts(tx)
		if err != nil {
			return err
		}
		out = prompts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
