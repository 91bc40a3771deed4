package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"clinic-inbox/internal/logger"
	"clinic-inbox/internal/models"
	"clinic-inbox/internal/relay"
	"clinic-inbox/internal/responder"
	"clinic-inbox/internal/store"
)

var ErrEmptyContent = fmt.Errorf("%w: content is empty", models.ErrValidation)

// Dispatcher delivers final messages to the patient channel.
type Dispatcher interface {
	SendText(ctx context.Context, to, body string) error
}

// PromptSource yields the active persona; store.ErrNotFound means none.
type PromptSource interface {
	Active(ctx context.Context) (*models.Prompt, error)
}

type Deps struct {
	Store      *store.Store
	Bus        *relay.Bus
	Responder  responder.Responder
	Waiter     responder.Waiter
	Prompts    PromptSource
	Dispatcher Dispatcher
	Log        *logger.Logger
	// Cluster shares presence and typing with other instances; nil when the
	// service runs alone.
	Cluster *Cluster

	// DefaultDelay applies when no persona is active.
	DefaultDelay time.Duration
	// AITimeout bounds a single Responder.Generate call.
	AITimeout time.Duration
}

// Service owns the conversation and draft model. Every write goes to the
// store first; relay events are published only after the store confirms.
type Service struct {
	store      *store.Store
	bus        *relay.Bus
	responder  responder.Responder
	waiter     responder.Waiter
	prompts    PromptSource
	dispatcher Dispatcher
	presence   *Presence
	typing     *sharedSet
	log        *logger.Logger

	defaultDelay time.Duration
	aiTimeout    time.Duration

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	seq     uint64
	pending map[string]map[uint64]context.CancelFunc
}

func NewService(d Deps) *Service {
	if d.Waiter == nil {
		d.Waiter = responder.SleepWaiter{}
	}
	if d.DefaultDelay <= 0 {
		d.DefaultDelay = models.DefaultResponseDelay * time.Second
	}
	if d.AITimeout <= 0 {
		d.AITimeout = 30 * time.Second
	}
	log := d.Log.With("component", "inbox")
	presence := NewPresence()
	presence.log = log
	var typing *sharedSet
	if d.Cluster != nil {
		presence.shared = d.Cluster.presence
		typing = d.Cluster.typing
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:        d.Store,
		bus:          d.Bus,
		responder:    d.Responder,
		waiter:       d.Waiter,
		prompts:      d.Prompts,
		dispatcher:   d.Dispatcher,
		presence:     presence,
		typing:       typing,
		log:          log,
		defaultDelay: d.DefaultDelay,
		aiTimeout:    d.AITimeout,
		baseCtx:      ctx,
		stop:         cancel,
		pending:      make(map[string]map[uint64]context.CancelFunc),
	}
}

func (s *Service) Presence() *Presence {
	return s.presence
}

// Close cancels pending draft generations and waits for them to exit.
func (s *Service) Close() {
	s.stop()
	s.wg.Wait()
}

// Drain waits for pending draft generations to finish without cancelling them.
func (s *Service) Drain() {
	s.wg.Wait()
}

// Send appends an operator message and delivers it to the patient. On a store
// error nothing is written and the caller keeps the content for a retry.
func (s *Service) Send(ctx context.Context, contactID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	msg, contact, err := s.store.AppendMessage(ctx, &models.Message{
		ContactID:  contactID,
		Content:    content,
		SenderType: models.SenderUser,
		Status:     models.StatusSent,
	}, &store.Touch{})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(relay.MessageEvent(relay.OpInsert, msg))
	s.bus.Publish(relay.ContactEvent(relay.OpUpdate, contact))

	msg = s.dispatch(ctx, contact, msg)

	if contact.AIEnabled {
		s.triggerDraft(contact.ID, content)
	}
	return msg, nil
}

// Inbound is a patient message. ActiveContactID is the conversation the
// receiving operator has open, "" for none.
type Inbound struct {
	ContactID       string
	Content         string
	ActiveContactID string
}

// Receive appends a patient message. unread_count grows by one in the same
// statement unless the conversation is the active one.
func (s *Service) Receive(ctx context.Context, in Inbound) (*models.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	touch := &store.Touch{}
	if countsAsUnread(in.ContactID, in.ActiveContactID) {
		touch.UnreadDelta = 1
	}
	msg, contact, err := s.store.AppendMessage(ctx, &models.Message{
		ContactID:  in.ContactID,
		Content:    content,
		SenderType: models.SenderContact,
		Status:     models.StatusReceived,
	}, touch)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(relay.MessageEvent(relay.OpInsert, msg))
	s.bus.Publish(relay.ContactEvent(relay.OpUpdate, contact))

	if contact.AIEnabled {
		s.triggerDraft(contact.ID, content)
	}
	return msg, nil
}

// ProvisionContact returns the contact for a remote address, creating it on
// first contact.
func (s *Service) ProvisionContact(ctx context.Context, remoteJID, name, phone string) (*models.Contact, error) {
	c, created, err := s.store.UpsertContactByRemoteJID(ctx, remoteJID, name, phone)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("contact provisioned", "contact_id", c.ID, "contact", c.DisplayName(), "remote_jid", remoteJID)
		s.bus.Publish(relay.ContactEvent(relay.OpInsert, c))
	}
	return c, nil
}

func (s *Service) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	return s.store.GetContact(ctx, id)
}

func (s *Service) ListContacts(ctx context.Context, q store.ContactQuery) ([]models.Contact, error) {
	return s.store.ListContacts(ctx, q)
}

func (s *Service) Messages(ctx context.Context, contactID string) ([]models.Message, error) {
	if _, err := s.store.GetContact(ctx, contactID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, contactID)
}

func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}

// MarkRead resets unread_count without opening a conversation.
func (s *Service) MarkRead(ctx context.Context, contactID string) (*models.Contact, error) {
	c, changed, err := s.store.ResetUnread(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.bus.Publish(relay.ContactEvent(relay.OpUpdate, c))
	}
	return c, nil
}

// UpdateContact applies operator edits. Tags are validated against the known
// set. Turning AI off cancels draft generations still waiting.
func (s *Service) UpdateContact(ctx context.Context, id string, patch store.ContactPatch) (*models.Contact, error) {
	if patch.Tags != nil {
		tags, err := models.NormalizeTags(*patch.Tags)
		if err != nil {
			return nil, err
		}
		patch.Tags = &tags
	}
	c, err := s.store.UpdateContact(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(relay.ContactEvent(relay.OpUpdate, c))
	if !c.AIEnabled {
		s.cancelPending(c.ID)
	}
	return c, nil
}

func (s *Service) SetAIEnabled(ctx context.Context, id string, enabled bool) (*models.Contact, error) {
	return s.UpdateContact(ctx, id, store.ContactPatch{AIEnabled: &enabled})
}

// ToggleAI flips the AI flag; an operator taking over a conversation turns it off.
func (s *Service) ToggleAI(ctx context.Context, id string) (*models.Contact, error) {
	c, err := s.store.ToggleAI(ctx, id)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(relay.ContactEvent(relay.OpUpdate, c))
	if !c.AIEnabled {
		s.cancelPending(c.ID)
	}
	return c, nil
}

// dispatch delivers msg to the patient. A delivery failure marks the message
// failed; it is not retried.
func (s *Service) dispatch(ctx context.Context, contact *models.Contact, msg *models.Message) *models.Message {
	if s.dispatcher == nil {
		return msg
	}
	err := s.dispatcher.SendText(ctx, contact.RemoteJID, msg.Content)
	if err == nil {
		return msg
	}
	s.log.Error("dispatch failed", "contact_id", contact.ID, "contact", contact.DisplayName(), "message_id", msg.ID, "error", err)

	failed, serr := s.store.SetMessageStatus(context.WithoutCancel(ctx), msg.ID, models.StatusFailed)
	if serr != nil {
		s.log.Error("mark message failed", "message_id", msg.ID, "error", serr)
		return msg
	}
	s.bus.Publish(relay.MessageEvent(relay.OpUpdate, failed))
	return failed
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
