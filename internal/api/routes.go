package api

import (
	"clinic-inbox/internal/inbox"
	"clinic-inbox/internal/personas"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the inbox API on g.
func RegisterRoutes(g *gin.RouterGroup, inboxService *inbox.Service, personaService *personas.Service) {
	contactHandler := NewContactHandler(inboxService)
	messageHandler := NewMessageHandler(inboxService)
	promptHandler := NewPromptHandler(personaService)
	dashboardHandler := NewDashboardHandler(inboxService)

	g.GET("/dashboard", dashboardHandler.GetStats)

	// Contact Routes
	g.GET("/contacts", contactHandler.GetContacts)
	g.GET("/contacts/:id", contactHandler.GetContact)
	g.PATCH("/contacts/:id", contactHandler.UpdateContact)
	g.POST("/contacts/:id/ai", contactHandler.SetAI)
	g.POST("/contacts/:id/takeover", contactHandler.TakeOver)
	g.POST("/contacts/:id/open", contactHandler.OpenContact)

	// Conversation Routes
	g.GET("/contacts/:id/messages", messageHandler.GetMessages)
	g.POST("/contacts/:id/messages", messageHandler.SendMessage)
	g.POST("/contacts/:id/inbound", messageHandler.SimulateInbound)

	// Draft Routes
	g.POST("/drafts/:id/approve", messageHandler.ApproveDraft)
	g.PUT("/drafts/:id", messageHandler.EditDraft)
	g.DELETE("/drafts/:id", messageHandler.RejectDraft)

	// Persona Routes
	g.GET("/prompts", promptHandler.GetPrompts)
	g.POST("/prompts", promptHandler.CreatePrompt)
	g.GET("/prompts/active", promptHandler.GetActivePrompt)
	g.GET("/prompts/:id", promptHandler.GetPrompt)
	g.PUT("/prompts/:id", promptHandler.UpdatePrompt)
	g.DELETE("/prompts/:id", promptHandler.DeletePrompt)
	g.POST("/prompts/:id/activate", promptHandler.ActivatePrompt)
}
