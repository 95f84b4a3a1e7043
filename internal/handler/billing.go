// Package handler contains the HTTP handlers for the billing and quota API.
//
// This file implements the billing endpoints:
//
//   - GET  /plans                 -> ListPlans
//   - POST /users/{id}/checkout   -> StartCheckout
//   - POST /users/{id}/upgrade    -> Upgrade
//   - POST /webhooks/stripe       -> HandleStripeWebhook
//
// The webhook route is PUBLIC because Stripe calls it directly;
// authentication is the webhook signature itself.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jfenner/hirewell/internal/billing"
	"github.com/jfenner/hirewell/internal/domain"
	"github.com/jfenner/hirewell/internal/service"
)

// BillingHandler exposes the plan catalog and the upgrade transaction.
type BillingHandler struct {
	billing service.BillingService
	gateway billing.Gateway
	baseURL string
	logger  *slog.Logger
	printer *message.Printer
}

// NewBillingHandler creates a new BillingHandler.
// gateway may be nil when Stripe is not configured; checkout then responds
// 409 and the webhook acknowledges events without acting on them.
func NewBillingHandler(billingService service.BillingService, gateway billing.Gateway, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billingService,
		gateway: gateway,
		baseURL: baseURL,
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /plans", h.ListPlans)
	mux.HandleFunc("POST /users/{id}/checkout", h.StartCheckout)
	mux.HandleFunc("POST /users/{id}/upgrade", h.Upgrade)
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

type planResponse struct {
	Name         string   `json:"name"`
	JobPostLimit int64    `json:"job_post_limit"`
	Unlimited    bool     `json:"unlimited"`
	Price        int64    `json:"price_minor_units"`
	Currency     string   `json:"currency"`
	DisplayPrice string   `json:"display_price"`
	DurationDays int      `json:"duration_days"`
	Features     []string `json:"features"`
}

// ListPlans returns the plan catalog.
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	tiers := domain.PlanTiers()
	out := make([]planResponse, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, planResponse{
			Name:         t.Name,
			JobPostLimit: t.JobPostLimit,
			Unlimited:    t.IsUnlimited(),
			Price:        t.Price.Amount,
			Currency:     t.Price.Currency,
			DisplayPrice: h.displayPrice(t.Price),
			DurationDays: int(t.Duration / (24 * time.Hour)),
			Features:     t.Features,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

// displayPrice renders a minor-unit amount for humans, e.g. "$1,049.00".
func (h *BillingHandler) displayPrice(m domain.Money) string {
	symbol := m.Currency + " "
	if m.Currency == "USD" {
		symbol = "$"
	}
	return h.printer.Sprintf("%s%.2f", symbol, float64(m.Amount)/100)
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// StartCheckout creates a payment-gateway checkout session for a paid plan
// and returns the URL to redirect the user to. The actual upgrade happens
// later, when the gateway confirms payment via webhook.
func (h *BillingHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.checkout", "invalid request body"))
		return
	}

	tier, err := domain.TierOf(req.Plan)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if tier.Price.Amount == 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.checkout", "plan is free and needs no checkout"))
		return
	}

	if h.gateway == nil {
		ErrorResponse(w, r, h.logger, &domain.Error{
			Code:    domain.ECONFLICT,
			Op:      "handler.checkout",
			Message: "billing is not configured",
		})
		return
	}

	priceID := h.gateway.PriceForPlan(tier.Name)
	if priceID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.checkout", "plan is not purchasable"))
		return
	}

	url, err := h.gateway.CreateCheckoutSession(
		userID.String(), tier.Name, priceID,
		h.baseURL+"/upgrade/success", h.baseURL+"/upgrade/cancelled",
	)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "handler.checkout", "failed to start checkout"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

type upgradeRequest struct {
	Plan       string `json:"plan"`
	PaymentRef string `json:"payment_ref"`
	SessionRef string `json:"session_ref"`
}

type upgradeResponse struct {
	SubscriptionID string    `json:"subscription_id"`
	Plan           string    `json:"plan"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Active         bool      `json:"active"`
}

// Upgrade commits a plan upgrade for a user whose payment has already been
// confirmed by the gateway.
func (h *BillingHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.upgrade", "invalid request body"))
		return
	}
	if req.Plan == "" || req.PaymentRef == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.upgrade", "plan and payment_ref are required"))
		return
	}

	sub, err := h.billing.Upgrade(r.Context(), userID, req.Plan, req.PaymentRef, req.SessionRef)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, upgradeResponse{
		SubscriptionID: sub.ID,
		Plan:           sub.PlanName,
		StartDate:      sub.StartDate,
		EndDate:        sub.EndDate,
		Active:         sub.Active,
	})
}

// HandleStripeWebhook processes incoming Stripe webhook events.
func (h *BillingHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		h.logger.Warn("stripe webhook received but billing gateway is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Limit body to 64KB
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := h.gateway.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(r, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	// Always acknowledge verified events; failures are retried via the
	// payment-ref idempotency on the upgrade path.
	w.WriteHeader(http.StatusOK)
}

func (h *BillingHandler) handleCheckoutCompleted(r *http.Request, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return
	}

	userID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		h.logger.Warn("checkout session carries no usable user reference", "session_id", session.ID)
		return
	}

	plan := session.Metadata["plan"]
	if plan == "" {
		plan = h.gateway.PlanForPriceID(session.Metadata["price_id"])
	}
	if plan == "" {
		h.logger.Warn("checkout session carries no plan metadata", "session_id", session.ID)
		return
	}

	paymentRef := ""
	if session.PaymentIntent != nil {
		paymentRef = session.PaymentIntent.ID
	}
	if paymentRef == "" {
		h.logger.Warn("checkout session carries no payment intent", "session_id", session.ID)
		return
	}

	if _, err := h.billing.Upgrade(r.Context(), userID, plan, paymentRef, session.ID); err != nil {
		h.logger.Error("failed to commit upgrade from webhook",
			"user_id", userID, "plan", plan, "payment_ref", paymentRef, "error", err)
	}
}
