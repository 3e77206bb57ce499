package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"checkout-service/mapping"
	"checkout-service/models"
	"checkout-service/repository"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

const (
	lineItemPageSize = 100
	fallbackCurrency = "gbp"
)

// WebhookService reconciles asynchronous checkout events into durable order
// and reservation records. Every write is safe under at-least-once delivery:
// the order upsert converges by session id, the item set is regrouped and
// replaced wholesale, and reservation transitions are guarded against
// terminal states. Returning an error makes the controller answer 5xx so the
// provider redelivers the event; that redelivery is the recovery mechanism
// for transient failures.
type WebhookService struct {
	reservations repository.ReservationRepository
	orders       repository.OrderRepository
	products     repository.ProductRepository
	ledger       repository.StockLedger
	gateway      PaymentGateway
	logger       *zap.Logger
}

func NewWebhookService(
	reservations repository.ReservationRepository,
	orders repository.OrderRepository,
	products repository.ProductRepository,
	ledger repository.StockLedger,
	gateway PaymentGateway,
	logger *zap.Logger,
) *WebhookService {
	return &WebhookService{
		reservations: reservations,
		orders:       orders,
		products:     products,
		ledger:       ledger,
		gateway:      gateway,
		logger:       logger,
	}
}

// ProcessEvent dispatches a verified event. Unrecognized event types are
// acknowledged and ignored.
func (s *WebhookService) ProcessEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		sess, err := sessionFromEvent(event)
		if err != nil {
			return err
		}
		return s.handleCompletedSession(ctx, sess)
	case "checkout.session.expired":
		sess, err := sessionFromEvent(event)
		if err != nil {
			return err
		}
		return s.handleExpiredSession(ctx, sess.ID)
	default:
		s.logger.Info("Ignoring unhandled webhook event type",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
		)
		return nil
	}
}

func sessionFromEvent(event stripe.Event) (*stripe.CheckoutSession, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session from event %s: %w", event.ID, err)
	}
	return &sess, nil
}

func (s *WebhookService) handleCompletedSession(ctx context.Context, sess *stripe.CheckoutSession) error {
	// The reservation may be absent for sessions predating reservation
	// tracking; the order is materialized regardless.
	reservation, err := s.reservations.FindBySessionID(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load reservation for session %s: %w", sess.ID, err)
	}

	lineItems, err := s.listAllLineItems(sess.ID)
	if err != nil {
		return fmt.Errorf("list line items for session %s: %w", sess.ID, err)
	}

	productMap, err := s.products.MapIDsByStripeProductID(ctx, stripeProductIDs(lineItems))
	if err != nil {
		return fmt.Errorf("map product references for session %s: %w", sess.ID, err)
	}

	order := buildOrder(sess)
	if err := s.orders.UpsertBySessionID(ctx, order); err != nil {
		return fmt.Errorf("upsert order for session %s: %w", sess.ID, err)
	}

	items := toOrderItems(order.ID, mapping.GroupLineItems(lineItems, productMap))
	if err := s.orders.ReplaceItems(ctx, order.ID, items); err != nil {
		return fmt.Errorf("replace order items for order %s: %w", order.ID, err)
	}

	if reservation != nil {
		switch reservation.Status {
		case models.ReservationStatusCompleted:
			// Duplicate delivery; nothing left to transition.
		case models.ReservationStatusExpired:
			// Terminal-state violation: an expired reservation must never be
			// marked paid. Refuse the transition and keep the order as the
			// audit trail.
			s.logger.Error("Refusing to complete an expired reservation",
				zap.String("session_id", sess.ID),
				zap.String("order_id", order.ID.String()),
			)
		default:
			updated, err := s.reservations.MarkCompleted(ctx, sess.ID, order.ID)
			if err != nil {
				return fmt.Errorf("complete reservation for session %s: %w", sess.ID, err)
			}
			if !updated {
				s.logger.Warn("Reservation transitioned concurrently; completion skipped",
					zap.String("session_id", sess.ID),
				)
			}
		}
	}

	s.logger.Info("Checkout session reconciled",
		zap.String("session_id", sess.ID),
		zap.String("order_id", order.ID.String()),
		zap.Int("line_items", len(lineItems)),
	)
	return nil
}

func (s *WebhookService) handleExpiredSession(ctx context.Context, sessionID string) error {
	reservation, err := s.reservations.FindBySessionID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load reservation for session %s: %w", sessionID, err)
	}
	if reservation == nil {
		// Nothing to reconcile; sessions without a tracked reservation
		// expire silently.
		return nil
	}
	if reservation.Status == models.ReservationStatusExpired ||
		reservation.Status == models.ReservationStatusCompleted {
		return nil
	}

	// Stock must not be recorded as released unless the ledger call actually
	// applied; on failure the provider retries the event later.
	if err := s.ledger.Release(ctx, reservation.Items); err != nil {
		return fmt.Errorf("release reserved stock for session %s: %w", sessionID, err)
	}

	updated, err := s.reservations.MarkExpired(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("expire reservation for session %s: %w", sessionID, err)
	}
	if !updated {
		s.logger.Warn("Reservation transitioned concurrently; expiration skipped",
			zap.String("session_id", sessionID),
		)
	}
	return nil
}

// listAllLineItems pages through the provider's line-item listing until no
// results remain. Providers cap the page size, so a single page is never
// assumed to be complete.
func (s *WebhookService) listAllLineItems(sessionID string) ([]*stripe.LineItem, error) {
	var all []*stripe.LineItem
	startingAfter := ""
	for {
		page, hasMore, err := s.gateway.ListLineItemsPage(sessionID, startingAfter, lineItemPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if !hasMore || len(page) == 0 {
			return all, nil
		}
		startingAfter = page[len(page)-1].ID
	}
}

func stripeProductIDs(lineItems []*stripe.LineItem) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range lineItems {
		if item == nil || item.Price == nil || item.Price.Product == nil {
			continue
		}
		id := item.Price.Product.ID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func buildOrder(sess *stripe.CheckoutSession) *models.Order {
	order := &models.Order{
		StripeSessionID: sess.ID,
		Currency:        strings.ToLower(string(sess.Currency)),
		AmountTotal:     sess.AmountTotal,
		Status:          models.OrderStatusPending,
	}
	if order.Currency == "" {
		order.Currency = fallbackCurrency
	}
	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		order.Status = models.OrderStatusPaid
	}
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		order.StripePaymentIntentID = &sess.PaymentIntent.ID
	}
	if email := customerEmail(sess); email != "" {
		order.CustomerEmail = &email
	}
	if raw, err := json.Marshal(sess); err == nil {
		rawStr := string(raw)
		order.RawSession = &rawStr
	}
	return order
}

func customerEmail(sess *stripe.CheckoutSession) string {
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		return sess.CustomerDetails.Email
	}
	return sess.CustomerEmail
}

func toOrderItems(orderID uuid.UUID, grouped []mapping.GroupedLineItem) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(grouped))
	for _, g := range grouped {
		items = append(items, models.OrderItem{
			OrderID:         orderID,
			ProductID:       g.ProductID,
			StripeProductID: g.StripeProductID,
			StripePriceID:   g.StripePriceID,
			Description:     g.Description,
			Quantity:        g.Quantity,
			UnitAmount:      g.UnitAmount,
			Currency:        g.Currency,
		})
	}
	return items
}
