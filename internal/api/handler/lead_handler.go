package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/campaign-crm/internal/api/dto"
	"github.com/cuongbtq/campaign-crm/internal/api/model"
	"github.com/cuongbtq/campaign-crm/internal/api/storage"
	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var leadStatuses = map[string]bool{
	domain.LeadStatusNew:       true,
	domain.LeadStatusVerified:  true,
	domain.LeadStatusRejected:  true,
	domain.LeadStatusContacted: true,
	domain.LeadStatusFailed:    true,
}

func toLeadDTO(lead *model.Lead) dto.LeadDTO {
	out := dto.LeadDTO{
		LeadID:           lead.LeadID,
		Email:            lead.Email,
		Company:          lead.Company,
		Industry:         lead.Industry,
		ContactNumber:    lead.ContactNumber,
		Status:           lead.Status,
		ValidationReason: lead.ValidationReason,
		OutreachAttempts: lead.OutreachAttempts,
		OutreachError:    lead.OutreachError,
		Replies:          lead.Replies,
		Bounced:          lead.Bounced,
		CreatedAt:        lead.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        lead.UpdatedAt.Format(time.RFC3339),
	}
	if lead.EmailValid.Valid {
		valid := lead.EmailValid.Bool
		out.EmailValid = &valid
	}
	return out
}

// CreateLead handles POST /api/v1/leads
// Registers a lead for verification and outreach
func (h *LeadHandler) CreateLead(c *gin.Context) {
	var req dto.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	now := time.Now().UTC()
	lead := model.Lead{
		LeadID:        uuid.New().String(),
		Email:         strings.TrimSpace(req.Email),
		Company:       strings.TrimSpace(req.Company),
		Industry:      strings.TrimSpace(req.Industry),
		ContactNumber: strings.TrimSpace(req.ContactNumber),
		Status:        domain.LeadStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.leads.CreateLead(c.Request.Context(), &lead); err != nil {
		h.logger.Error("Failed to create lead", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create lead",
		})
		return
	}

	h.logger.Info("Lead created",
		slog.String("lead_id", lead.LeadID),
		slog.String("company", lead.Company),
	)

	c.JSON(http.StatusCreated, toLeadDTO(&lead))
}

// GetLead handles GET /api/v1/leads/:lead_id
func (h *LeadHandler) GetLead(c *gin.Context) {
	leadID := c.Param("lead_id")

	if _, err := uuid.Parse(leadID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "lead_id must be a valid UUID",
		})
		return
	}

	lead, err := h.leads.GetLeadByID(c.Request.Context(), leadID)
	if errors.Is(err, domain.ErrLeadNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Lead not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get lead",
			slog.String("lead_id", leadID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get lead",
		})
		return
	}

	c.JSON(http.StatusOK, toLeadDTO(lead))
}

// ListLeads handles GET /api/v1/leads
// Lists leads newest first with optional status filter and cursor pagination
func (h *LeadHandler) ListLeads(c *gin.Context) {
	var req dto.ListLeadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	req.Status = strings.ToUpper(req.Status)
	if req.Status != "" && !leadStatuses[req.Status] {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown lead status",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeLeadCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	leads, err := h.leads.ListLeads(c.Request.Context(), storage.LeadFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list leads", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list leads",
		})
		return
	}

	hasMore := len(leads) > req.PageSize
	if hasMore {
		leads = leads[:req.PageSize]
	}

	resp := dto.ListLeadsResponse{
		Leads: make([]dto.LeadDTO, len(leads)),
	}
	for i := range leads {
		resp.Leads[i] = toLeadDTO(&leads[i])
	}

	if hasMore {
		last := leads[len(leads)-1]
		resp.NextCursor = EncodeLeadCursor(&storage.LeadCursor{
			CreatedAt: last.CreatedAt,
			LeadID:    last.LeadID,
		})
	}

	c.JSON(http.StatusOK, resp)
}
