package api

import (
	"fmt"
	"net/http"
	"strconv"

	"clinic-inbox/internal/inbox"
	"clinic-inbox/internal/models"
	"clinic-inbox/internal/store"

	"github.com/gin-gonic/gin"
)

type ContactHandler struct {
	Inbox *inbox.Service
}

func NewContactHandler(inboxService *inbox.Service) *ContactHandler {
	return &ContactHandler{Inbox: inboxService}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	view, err := store.ParseView(c.Query("view"))
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := queryCount(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	offset, err := queryCount(c, "offset")
	if err != nil {
		respondError(c, err)
		return
	}

	contacts, err := h.Inbox.ListContacts(c.Request.Context(), store.ContactQuery{
		Search: c.Query("search"),
		View:   view,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

// queryCount reads an optional non-negative integer query parameter.
func queryCount(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", models.ErrValidation, name)
	}
	return n, nil
}

func (h *ContactHandler) GetContact(c *gin.Context) {
	contact, err := h.Inbox.GetContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

type UpdateContactRequest struct {
	Name           *string   `json:"name"`
	PhoneNumber    *string   `json:"phone_number"`
	Tags           *[]string `json:"tags"`
	AIEnabled      *bool     `json:"ai_enabled"`
	Persona        *string   `json:"persona"`
	MedicalHistory *string   `json:"medical_history"`
}

func (h *ContactHandler) UpdateContact(c *gin.Context) {
	var req UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contact, err := h.Inbox.UpdateContact(c.Request.Context(), c.Param("id"), store.ContactPatch{
		Name:           req.Name,
		PhoneNumber:    req.PhoneNumber,
		Tags:           req.Tags,
		AIEnabled:      req.AIEnabled,
		Persona:        req.Persona,
		MedicalHistory: req.MedicalHistory,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

type SetAIRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *ContactHandler) SetAI(c *gin.Context) {
	var req SetAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contact, err := h.Inbox.SetAIEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

// TakeOver toggles the AI flag for the conversation.
func (h *ContactHandler) TakeOver(c *gin.Context) {
	contact, err := h.Inbox.ToggleAI(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

// OpenContact marks the conversation read and returns it with its messages.
// Live updates are served on the conversation websocket.
func (h *ContactHandler) OpenContact(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	contact, err := h.Inbox.MarkRead(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	messages, err := h.Inbox.Messages(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"contact":  contact,
		"messages": messages,
		"typing":   h.Inbox.IsTyping(ctx, id),
	})
}
