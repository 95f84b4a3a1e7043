// Package handler contains the HTTP handlers for the billing and quota API.
//
// This file implements the quota endpoints:
//
//   - PUT  /users/{id}                -> CreateUser (implicit default quota state)
//   - GET  /users/{id}/quota          -> GetQuota
//   - POST /users/{id}/quota/consume  -> ConsumeQuota
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jfenner/hirewell/internal/domain"
	"github.com/jfenner/hirewell/internal/service"
	"github.com/jfenner/hirewell/internal/store"
)

// QuotaHandler exposes the quota ledger over HTTP.
type QuotaHandler struct {
	quota  service.QuotaService
	users  store.QuotaStore
	logger *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quota service.QuotaService, users store.QuotaStore, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:  quota,
		users:  users,
		logger: logger,
	}
}

// RegisterRoutes registers quota routes on the provided mux.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /users/{id}", h.CreateUser)
	mux.HandleFunc("GET /users/{id}/quota", h.GetQuota)
	mux.HandleFunc("POST /users/{id}/quota/consume", h.ConsumeQuota)
}

// quotaResponse is the wire form of a user's quota usage.
type quotaResponse struct {
	PlanName     string     `json:"plan"`
	Used         int64      `json:"used"`
	Limit        int64      `json:"limit"`
	Remaining    int64      `json:"remaining"`
	Unlimited    bool       `json:"unlimited"`
	WindowAnchor *time.Time `json:"window_anchor,omitempty"`
	PlanEnd      *time.Time `json:"plan_end,omitempty"`
}

func toQuotaResponse(u *domain.QuotaUsage) quotaResponse {
	return quotaResponse{
		PlanName:     u.PlanName,
		Used:         u.Used,
		Limit:        u.Limit,
		Remaining:    u.Remaining,
		Unlimited:    u.IsUnlimited,
		WindowAnchor: u.WindowAnchor,
		PlanEnd:      u.PlanEnd,
	}
}

// CreateUser registers a user with the default plan. Idempotent.
func (h *QuotaHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.users.CreateUser(r.Context(), userID); err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "handler.create_user", "failed to create user"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetQuota returns the user's current usage against the plan limit.
func (h *QuotaHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	usage, err := h.quota.Remaining(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuotaResponse(usage))
}

// ConsumeQuota atomically checks and consumes one job post. Responds 402
// when the plan budget is spent.
func (h *QuotaHandler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	usage, err := h.quota.ConsumeIfAllowed(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuotaResponse(usage))
}

func parseUserID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, domain.Invalid("handler.parse_user_id", "user id must be a UUID")
	}
	return id, nil
}
