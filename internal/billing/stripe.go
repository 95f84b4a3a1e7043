// Package billing provides the Stripe payment-gateway adapter.
//
// The gateway is a black box to the rest of the system: it ultimately
// supplies an opaque, already-verified payment reference (and optionally a
// checkout session reference) that the upgrade transaction records. This
// package never re-validates payment authenticity beyond the webhook
// signature.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Gateway defines the payment-gateway operations the service needs.
type Gateway interface {
	// CreateCheckoutSession creates a Stripe Checkout session for buying a
	// plan. The user and plan ride along as session metadata so the webhook
	// can route the completed payment. Returns the checkout URL to redirect
	// the user to.
	CreateCheckoutSession(userID, planName, priceID, successURL, cancelURL string) (string, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and
	// returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// PlanForPriceID returns the catalog plan name for a Stripe price ID,
	// or "" when the price is not mapped.
	PlanForPriceID(priceID string) string

	// PriceForPlan returns the Stripe price ID configured for a catalog plan
	// name, or "" when the plan is not purchasable through the gateway.
	PriceForPlan(planName string) string
}

// PriceConfig holds the Stripe price IDs for each purchasable plan.
type PriceConfig struct {
	StandardPriceID string
	PremiumPriceID  string
}

type stripeGateway struct {
	webhookSecret string
	priceToPlan   map[string]string
	planToPrice   map[string]string
}

// NewStripeGateway creates a Stripe-backed Gateway.
//
// The secretKey authenticates Stripe API calls, the webhookSecret verifies
// incoming webhook signatures, and prices map Stripe price IDs to catalog
// plan names.
func NewStripeGateway(secretKey, webhookSecret string, prices PriceConfig) Gateway {
	stripe.Key = secretKey

	priceToPlan := make(map[string]string)
	planToPrice := make(map[string]string)
	if prices.StandardPriceID != "" {
		priceToPlan[prices.StandardPriceID] = "Standard"
		planToPrice["Standard"] = prices.StandardPriceID
	}
	if prices.PremiumPriceID != "" {
		priceToPlan[prices.PremiumPriceID] = "Premium"
		planToPrice["Premium"] = prices.PremiumPriceID
	}

	return &stripeGateway{
		webhookSecret: webhookSecret,
		priceToPlan:   priceToPlan,
		planToPrice:   planToPrice,
	}
}

func (g *stripeGateway) CreateCheckoutSession(userID, planName, priceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		ClientReferenceID: stripe.String(userID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		Params: stripe.Params{
			Metadata: map[string]string{
				"plan":     planName,
				"price_id": priceID,
			},
		},
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (g *stripeGateway) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (g *stripeGateway) PlanForPriceID(priceID string) string {
	return g.priceToPlan[priceID]
}

func (g *stripeGateway) PriceForPlan(planName string) string {
	return g.planToPrice[planName]
}
