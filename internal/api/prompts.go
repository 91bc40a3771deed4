package api

import (
	"net/http"

	"clinic-inbox/internal/personas"

	"github.com/gin-gonic/gin"
)

type PromptHandler struct {
	Personas *personas.Service
}

func NewPromptHandler(svc *personas.Service) *PromptHandler {
	return &PromptHandler{Personas: svc}
}

func (h *PromptHandler) GetPrompts(c *gin.Context) {
	prompts, err := h.Personas.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prompts)
}

func (h *PromptHandler) GetPrompt(c *gin.Context) {
	p, err := h.Personas.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PromptHandler) GetActivePrompt(c *gin.Context) {
	p, err := h.Personas.Active(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PromptHandler) CreatePrompt(c *gin.Context) {
	var req personas.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.Personas.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *PromptHandler) UpdatePrompt(c *gin.Context) {
	var req personas.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.Personas.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PromptHandler) DeletePrompt(c *gin.Context) {
	if err := h.Personas.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Prompt deleted"})
}

func (h *PromptHandler) ActivatePrompt(c *gin.Context) {
	p, err := h.Personas.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
