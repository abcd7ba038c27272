package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
)

// Stripe event types that can complete a token purchase.
const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// Processor opens and reads hosted checkout sessions.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
}

// StripeProcessor talks to the Stripe API through a per-instance client.
type StripeProcessor struct {
	api *client.API
}

// NewStripeProcessor creates a processor bound to secretKey.
func NewStripeProcessor(secretKey string) *StripeProcessor {
	return &StripeProcessor{api: client.New(secretKey, nil)}
}

// NewStripeProcessorWithBackends is used to point the client at a local
// Stripe twin.
func NewStripeProcessorWithBackends(secretKey string, backends *stripe.Backends) *StripeProcessor {
	return &StripeProcessor{api: client.New(secretKey, backends)}
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(req.Package.Name),
						Description: stripe.String(req.Package.description()),
					},
					UnitAmount: stripe.Int64(req.Package.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	for k, v := range req.Metadata() {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError("failed to create checkout session", err)
	}
	return fromStripeSession(s), nil
}

func (p *StripeProcessor) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := p.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, mapStripeError("failed to load checkout session", err)
	}
	return fromStripeSession(s), nil
}

func fromStripeSession(s *stripe.CheckoutSession) *CheckoutSession {
	metadata := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		metadata[k] = v
	}
	return &CheckoutSession{
		ID:                s.ID,
		URL:               s.URL,
		Paid:              s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:       s.AmountTotal,
		Currency:          strings.ToLower(string(s.Currency)),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          metadata,
	}
}

func mapStripeError(message string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
		return apperror.NotFound("Checkout session not found")
	}
	return apperror.Upstream(message, err)
}

// WebhookEvent is a verified Stripe event. Session is set for checkout
// session events.
type WebhookEvent struct {
	ID      string
	Type    string
	Session *CheckoutSession
}

// CompletesPurchase reports whether the event carries a paid checkout.
func (e *WebhookEvent) CompletesPurchase() bool {
	switch e.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncPaymentSucceeded:
		return e.Session != nil && e.Session.Paid
	default:
		return false
	}
}

// ParseStripeWebhook verifies the Stripe-Signature header and decodes the event.
func ParseStripeWebhook(payload []byte, signatureHeader, secret string) (*WebhookEvent, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperror.Configuration("webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperror.Unauthenticated("invalid webhook signature")
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") && event.Data != nil {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, apperror.InvalidRequest(fmt.Sprintf("invalid %s payload", out.Type))
		}
		out.Session = fromStripeSession(&s)
	}
	return out, nil
}
