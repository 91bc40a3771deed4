package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinic-inbox/internal/models"
	"clinic-inbox/internal/relay"
	"clinic-inbox/internal/responder"
)

var errAIDisabled = errors.New("ai disabled for contact")

// triggerDraft schedules an AI draft for contactID. It returns immediately;
// the delay runs on its own goroutine. A second trigger for the same contact
// does not cancel the first.
func (s *Service) triggerDraft(contactID, lastMessage string) {
	if s.responder == nil {
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	token := s.beginPending(contactID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.endPending(contactID, token)

		msg, err := s.generateDraft(ctx, contactID, lastMessage)
		switch {
		case err == nil:
			s.log.Debug("draft created", "contact_id", contactID, "message_id", msg.ID)
		case errors.Is(err, context.Canceled), errors.Is(err, errAIDisabled):
			s.log.Info("draft abandoned", "contact_id", contactID, "reason", err.Error())
		default:
			s.log.Warn("draft generation failed", "contact_id", contactID, "error", err)
		}
	}()
}

func (s *Service) generateDraft(ctx context.Context, contactID, lastMessage string) (*models.Message, error) {
	prompt := s.activePrompt(ctx)
	delay := s.defaultDelay
	if prompt != nil && prompt.ResponseDelay > 0 {
		delay = prompt.Delay()
	}
	if err := s.waiter.Wait(ctx, delay); err != nil {
		return nil, err
	}

	// AI may have been switched off by another instance while we waited.
	contact, err := s.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if !contact.AIEnabled {
		return nil, errAIDisabled
	}

	genCtx, cancel := context.WithTimeout(ctx, s.aiTimeout)
	text, err := s.responder.Generate(genCtx, responder.Request{
		ContactID:   contactID,
		LastMessage: lastMessage,
		Prompt:      prompt,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, responder.ErrEmptyReply
	}

	msg, _, err := s.store.AppendMessage(ctx, &models.Message{
		ContactID:  contactID,
		Content:    text,
		SenderType: models.SenderBot,
		IsDraft:    true,
		Status:     models.StatusDraft,
	}, nil)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(relay.MessageEvent(relay.OpInsert, msg))
	return msg, nil
}

func (s *Service) activePrompt(ctx context.Context) *models.Prompt {
	if s.prompts == nil {
		return nil
	}
	p, err := s.prompts.Active(ctx)
	if err != nil {
		if !isNotFound(err) {
			s.log.Warn("active persona lookup failed", "error", err)
		}
		return nil
	}
	return p
}

// beginPending registers a generation. The typing indicator goes on with the
// first pending generation of a contact.
func (s *Service) beginPending(contactID string, cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	s.seq++
	token := s.seq
	set := s.pending[contactID]
	first := len(set) == 0
	if set == nil {
		set = make(map[uint64]context.CancelFunc)
		s.pending[contactID] = set
	}
	set[token] = cancel
	s.mu.Unlock()

	if first {
		if s.typing != nil {
			s.typing.sync(contactID, s.isTypingLocal)
		}
		s.bus.Publish(relay.TypingEvent(contactID, true))
	}
	return token
}

// endPending removes a generation. The indicator goes off with the last one.
func (s *Service) endPending(contactID string, token uint64) {
	s.mu.Lock()
	set := s.pending[contactID]
	delete(set, token)
	last := len(set) == 0
	if last {
		delete(s.pending, contactID)
	}
	s.mu.Unlock()

	if last {
		if s.typing != nil {
			s.typing.sync(contactID, s.isTypingLocal)
		}
		s.bus.Publish(relay.TypingEvent(contactID, false))
	}
}

func (s *Service) cancelPending(contactID string) {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.pending[contactID]))
	for _, c := range s.pending[contactID] {
		cancels = append(cancels, c)
	}
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	if len(cancels) > 0 {
		s.log.Info("cancelled pending drafts", "contact_id", contactID, "count", len(cancels))
	}
}

// IsTyping reports whether a draft is being generated for contactID here or,
// in a cluster, on any instance.
func (s *Service) IsTyping(ctx context.Context, contactID string) bool {
	if s.isTypingLocal(contactID) {
		return true
	}
	if s.typing == nil {
		return false
	}
	typing, err := s.typing.has(ctx, contactID)
	if err != nil {
		s.log.Warn("shared typing lookup failed", "contact_id", contactID, "error", err)
		return false
	}
	return typing
}

func (s *Service) isTypingLocal(contactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[contactID]) > 0
}

// ApproveDraft makes a draft final and delivers it to the patient. Content
// and created_at are preserved.
func (s *Service) ApproveDraft(ctx context.Context, id string) (*models.Message, error) {
	msg, err := s.store.ApproveDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(relay.MessageEvent(relay.OpUpdate, msg))

	contact, err := s.store.GetContact(ctx, msg.ContactID)
	if err != nil {
		s.log.Error("approved draft without contact", "message_id", id, "error", err)
		return msg, nil
	}
	return s.dispatch(ctx, contact, msg), nil
}

// EditDraft replaces the draft text in place. No revision history is kept.
func (s *Service) EditDraft(ctx context.Context, id, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	msg, err := s.store.UpdateDraftContent(ctx, id, content)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(relay.MessageEvent(relay.OpUpdate, msg))
	return msg, nil
}

// RejectDraft discards a draft.
func (s *Service) RejectDraft(ctx context.Context, id string) error {
	msg, err := s.store.DeleteDraft(ctx, id)
	if err != nil {
		return err
	}
	s.bus.Publish(relay.MessageEvent(relay.OpDelete, msg))
	return nil
}
