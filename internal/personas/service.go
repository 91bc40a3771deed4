package personas

import (
	"context"
	"fmt"
	"strings"

	"clinic-inbox/internal/logger"
	"clinic-inbox/internal/models"
	"clinic-inbox/internal/relay"
	"clinic-inbox/internal/store"
)

// Input is the operator-editable part of a prompt.
type Input struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	AssistantName string `json:"assistant_name"`
	Tone          string `json:"tone"`
	ResponseDelay int    `json:"response_delay"`
}

// normalize trims fields, applies defaults and validates.
func (in Input) normalize() (Input, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.AssistantName = strings.TrimSpace(in.AssistantName)
	in.Tone = strings.TrimSpace(in.Tone)

	if in.Title == "" {
		return in, fmt.Errorf("%w: title is required", models.ErrValidation)
	}
	if in.Content == "" {
		return in, fmt.Errorf("%w: content is required", models.ErrValidation)
	}
	if in.AssistantName == "" {
		in.AssistantName = models.DefaultAssistantName
	}
	if in.Tone == "" {
		in.Tone = models.DefaultTone
	}
	if in.ResponseDelay == 0 {
		in.ResponseDelay = models.DefaultResponseDelay
	}
	if in.ResponseDelay < models.MinResponseDelay || in.ResponseDelay > models.MaxResponseDelay {
		return in, fmt.Errorf("%w: response_delay must be between %d and %d seconds",
			models.ErrValidation, models.MinResponseDelay, models.MaxResponseDelay)
	}
	return in, nil
}

// Service manages AI personas. Exactly one persona drives the responder at a
// time; see Activate.
type Service struct {
	store *store.Store
	bus   *relay.Bus
	log   *logger.Logger
}

func NewService(st *store.Store, bus *relay.Bus, log *logger.Logger) *Service {
	return &Service{
		store: st,
		bus:   bus,
		log:   log.With("component", "personas"),
	}
}

func (s *Service) List(ctx context.Context) ([]models.Prompt, error) {
	return s.store.ListPrompts(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Prompt, error) {
	return s.store.GetPrompt(ctx, id)
}

// Active returns store.ErrNotFound when no persona is active.
func (s *Service) Active(ctx context.Context) (*models.Prompt, error) {
	return s.store.ActivePrompt(ctx)
}

func (s *Service) Create(ctx context.Context, in Input) (*models.Prompt, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	p, err := s.store.CreatePrompt(ctx, &models.Prompt{
		Title:         in.Title,
		Content:       in.Content,
		AssistantName: in.AssistantName,
		Tone:          in.Tone,
		ResponseDelay: in.ResponseDelay,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("persona created", "prompt_id", p.ID, "title", p.Title)
	s.bus.Publish(relay.PromptEvent(relay.OpInsert, p))
	return p, nil
}

// Update replaces the editable fields. The active flag is left alone.
func (s *Service) Update(ctx context.Context, id string, in Input) (*models.Prompt, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	p, err := s.store.UpdatePrompt(ctx, id, store.PromptPatch{
		Title:         &in.Title,
		Content:       &in.Content,
		AssistantName: &in.AssistantName,
		Tone:          &in.Tone,
		ResponseDelay: &in.ResponseDelay,
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(relay.PromptEvent(relay.OpUpdate, p))
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	p, err := s.store.DeletePrompt(ctx, id)
	if err != nil {
		return err
	}
	s.log.Info("persona deleted", "prompt_id", id, "was_active", p.IsActive)
	s.bus.Publish(relay.PromptEvent(relay.OpDelete, p))
	return nil
}

// Activate makes id the only active persona. Activating the persona that is
// already active changes nothing.
func (s *Service) Activate(ctx context.Context, id string) (*models.Prompt, error) {
	prompts, err := s.store.ActivatePrompt(ctx, id)
	if err != nil {
		return nil, err
	}

	var active *models.Prompt
	for i := range prompts {
		p := &prompts[i]
		if p.ID == id {
			active = p
		}
		s.bus.Publish(relay.PromptEvent(relay.OpUpdate, p))
	}
	if active == nil {
		return nil, store.ErrNotFound
	}
	s.log.Info("persona activated", "prompt_id", id)
	return active, nil
}
