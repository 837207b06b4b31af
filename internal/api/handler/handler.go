package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/campaign-crm/internal/api/model"
	"github.com/cuongbtq/campaign-crm/internal/api/storage"
	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
)

// LeadStore is the lead persistence used by the handlers
type LeadStore interface {
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLeadByID(ctx context.Context, leadID string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter storage.LeadFilter) ([]model.Lead, error)
}

// SignalPublisher forwards inbound signals to the campaign inbox
type SignalPublisher interface {
	Publish(ctx context.Context, signal domain.Signal) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Leads   LeadStore
	Signals SignalPublisher
}

// LeadHandler handles lead and signal HTTP requests
type LeadHandler struct {
	logger  *slog.Logger
	leads   LeadStore
	signals SignalPublisher
}

// NewLeadHandler creates a new LeadHandler instance
func NewLeadHandler(deps *Dependencies) *LeadHandler {
	return &LeadHandler{
		logger:  deps.Logger,
		leads:   deps.Leads,
		signals: deps.Signals,
	}
}
