package api

import (
	"net/http"

	"clinic-inbox/internal/inbox"

	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	Inbox *inbox.Service
}

func NewDashboardHandler(inboxService *inbox.Service) *DashboardHandler {
	return &DashboardHandler{Inbox: inboxService}
}

func (h *DashboardHandler) GetStats(c *gin.Context) {
	stats, err := h.Inbox.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
