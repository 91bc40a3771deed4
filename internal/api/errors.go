package api

import (
	"errors"
	"net/http"

	"clinic-inbox/internal/models"
	"clinic-inbox/internal/store"

	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotDraft):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
