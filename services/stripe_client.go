package services

import (
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"
	"github.com/stripe/stripe-go/v80/price"
	"github.com/stripe/stripe-go/v80/webhook"
)

// PaymentGateway is the slice of the Stripe API the checkout orchestrator
// and webhook processor depend on.
type PaymentGateway interface {
	ListActivePrices(productRef, currency string, limit int64) ([]*stripe.Price, error)
	CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	// ListLineItemsPage fetches a single page of a session's line items and
	// reports whether more pages remain. Paging is sequential: the cursor is
	// the last item id of the previous page.
	ListLineItemsPage(sessionID, startingAfter string, limit int64) ([]*stripe.LineItem, bool, error)
}

// WebhookVerifier verifies a signed event payload against the shared secret.
// Verification is over the exact raw bytes, before any JSON parsing.
type WebhookVerifier interface {
	VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// StripeService implements PaymentGateway and WebhookVerifier against the
// live Stripe API.
type StripeService struct {
	SecretKey     string
	WebhookSecret string
}

func NewStripeService(secretKey, webhookSecret string) *StripeService {
	stripe.Key = secretKey
	return &StripeService{SecretKey: secretKey, WebhookSecret: webhookSecret}
}

func (s *StripeService) ListActivePrices(productRef, currency string, limit int64) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{
		Product:  stripe.String(productRef),
		Active:   stripe.Bool(true),
		Currency: stripe.String(currency),
	}
	params.Limit = stripe.Int64(limit)
	params.Single = true

	var prices []*stripe.Price
	it := price.List(params)
	for it.Next() {
		prices = append(prices, it.Price())
	}
	return prices, it.Err()
}

func (s *StripeService) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return session.New(params)
}

func (s *StripeService) ListLineItemsPage(sessionID, startingAfter string, limit int64) ([]*stripe.LineItem, bool, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Limit = stripe.Int64(limit)
	params.Single = true
	if startingAfter != "" {
		params.StartingAfter = stripe.String(startingAfter)
	}

	var items []*stripe.LineItem
	it := session.ListLineItems(params)
	for it.Next() {
		items = append(items, it.LineItem())
	}
	if err := it.Err(); err != nil {
		return nil, false, err
	}
	return items, it.List().GetListMeta().HasMore, nil
}

func (s *StripeService) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, s.WebhookSecret)
}
