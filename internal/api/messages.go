package api

import (
	"net/http"

	"clinic-inbox/internal/inbox"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	Inbox *inbox.Service
}

func NewMessageHandler(inboxService *inbox.Service) *MessageHandler {
	return &MessageHandler{Inbox: inboxService}
}

func (h *MessageHandler) GetMessages(c *gin.Context) {
	messages, err := h.Inbox.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

type SendRequest struct {
	Content string `json:"content"`
}

// SendMessage echoes the content back on failure so the client can keep it
// in the input field.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.Inbox.Send(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "content": req.Content})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

type InboundRequest struct {
	Content string `json:"content"`
	// ActiveContactID overrides the server-side presence lookup.
	ActiveContactID *string `json:"active_contact_id"`
}

// SimulateInbound records a patient message without going through WhatsApp.
func (h *MessageHandler) SimulateInbound(c *gin.Context) {
	var req InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contactID := c.Param("id")
	active := h.Inbox.Presence().ActiveContactID(c.Request.Context(), contactID)
	if req.ActiveContactID != nil {
		active = *req.ActiveContactID
	}

	msg, err := h.Inbox.Receive(c.Request.Context(), inbox.Inbound{
		ContactID:       contactID,
		Content:         req.Content,
		ActiveContactID: active,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *MessageHandler) ApproveDraft(c *gin.Context) {
	msg, err := h.Inbox.ApproveDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) EditDraft(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.Inbox.EditDraft(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) RejectDraft(c *gin.Context) {
	if err := h.Inbox.RejectDraft(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Draft discarded"})
}
