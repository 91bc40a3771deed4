package webhook

import (
	"context"
	"net/http"

	"clinic-inbox/internal/config"
	"clinic-inbox/internal/inbox"
	"clinic-inbox/internal/logger"
	"clinic-inbox/internal/whatsapp"
	"clinic-inbox/pkg/models"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Config *config.Config
	Inbox  *inbox.Service
	log    *logger.Logger
}

func NewHandler(cfg *config.Config, inboxService *inbox.Service, log *logger.Logger) *Handler {
	return &Handler{
		Config: cfg,
		Inbox:  inboxService,
		log:    log.With("component", "webhook"),
	}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "" && token != "" {
		if mode == "subscribe" && token == h.Config.VerifyToken {
			h.log.Info("webhook verified")
			c.String(http.StatusOK, challenge)
		} else {
			c.Status(http.StatusForbidden)
		}
	} else {
		c.Status(http.StatusBadRequest)
	}
}

// HandleMessage records every patient message in the payload. A body that is
// not valid JSON gets a 400. Otherwise failures are logged per message and the
// Cloud API gets a 200 so it does not redeliver.
func (h *Handler) HandleMessage(c *gin.Context) {
	var payload models.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.Warn("bad webhook payload", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, message := range change.Value.Messages {
				h.handleIncoming(ctx, change.Value, message)
			}
		}
	}

	c.Status(http.StatusOK)
}

func (h *Handler) handleIncoming(ctx context.Context, value models.ChangeValue, message models.IncomingMessage) {
	jid := whatsapp.JIDFromPhone(message.From)
	contact, err := h.Inbox.ProvisionContact(ctx, jid, value.ProfileName(message.From), message.From)
	if err != nil {
		h.log.Error("provision contact failed", "from", message.From, "error", err)
		return
	}

	_, err = h.Inbox.Receive(ctx, inbox.Inbound{
		ContactID:       contact.ID,
		Content:         message.Content(),
		ActiveContactID: h.Inbox.Presence().ActiveContactID(ctx, contact.ID),
	})
	if err != nil {
		h.log.Error("store inbound message failed", "contact_id", contact.ID, "wa_message_id", message.ID, "error", err)
		return
	}
	h.log.Info("inbound message", "contact_id", contact.ID, "type", message.Type)
}
