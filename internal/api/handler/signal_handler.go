package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/api/dto"
	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateSignal handles POST /api/v1/signals
// Accepts a reply or bounce notification and forwards it to the inbox queue
func (h *LeadHandler) CreateSignal(c *gin.Context) {
	var req dto.CreateSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid signal body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	kind := domain.SignalKind(strings.ToLower(req.Kind))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown signal kind",
		})
		return
	}

	signal := domain.Signal{
		ID:         uuid.New().String(),
		LeadID:     req.LeadID,
		Kind:       kind,
		ReceivedAt: time.Now().UTC(),
	}

	if err := h.signals.Publish(c.Request.Context(), signal); err != nil {
		h.logger.Error("Failed to publish signal",
			slog.String("lead_id", signal.LeadID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to accept signal",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.SignalAcceptedResponse{
		SignalID: signal.ID,
		LeadID:   signal.LeadID,
		Kind:     string(signal.Kind),
	})
}
