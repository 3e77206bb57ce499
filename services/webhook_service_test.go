package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"checkout-service/models"
	"checkout-service/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// ---- mock order repository ----

type replaceCall struct {
	orderID uuid.UUID
	items   []models.OrderItem
}

type mockOrderRepo struct {
	upserted     []*models.Order
	upsertErr    error
	assignID     uuid.UUID
	replaceCalls []replaceCall
	replaceErr   error
}

func (m *mockOrderRepo) UpsertBySessionID(_ context.Context, order *models.Order) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.assignID == uuid.Nil {
		m.assignID = uuid.New()
	}
	order.ID = m.assignID
	m.upserted = append(m.upserted, order)
	return nil
}

func (m *mockOrderRepo) ReplaceItems(_ context.Context, orderID uuid.UUID, items []models.OrderItem) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.replaceCalls = append(m.replaceCalls, replaceCall{orderID, items})
	return nil
}

// ---- helpers ----

func newWebhookService(reservations *mockReservationRepo, orders *mockOrderRepo, products *mockProductRepo, ledger *mockLedger, gateway *mockGateway) *services.WebhookService {
	return services.NewWebhookService(reservations, orders, products, ledger, gateway, zap.NewNop())
}

func completedEvent(t *testing.T, sessionID string) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":             sessionID,
		"currency":       "gbp",
		"amount_total":   4500,
		"payment_status": "paid",
		"payment_intent": "pi_123",
		"customer_details": map[string]interface{}{
			"email": "potter@example.com",
		},
	})
	assert.NoError(t, err)
	return stripe.Event{
		ID:   "evt_1",
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: raw},
	}
}

func expiredEvent(t *testing.T, sessionID string) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"id": sessionID})
	assert.NoError(t, err)
	return stripe.Event{
		ID:   "evt_2",
		Type: "checkout.session.expired",
		Data: &stripe.EventData{Raw: raw},
	}
}

func gatewayWithLineItems(pages ...[]*stripe.LineItem) *mockGateway {
	return &mockGateway{pages: pages}
}

func reservedReservation(sessionID string) *models.StockReservation {
	return &models.StockReservation{
		StripeSessionID: sessionID,
		Items:           models.ReservationItems{{ProductID: "sku-1", Quantity: 3}},
		Status:          models.ReservationStatusReserved,
	}
}

// ---- completion ----

func TestProcessEvent_CompletedMaterializesOrder(t *testing.T) {
	reservations := &mockReservationRepo{
		reservation:         reservedReservation("cs_123"),
		markCompletedResult: true,
	}
	orders := &mockOrderRepo{}
	products := &mockProductRepo{mapped: map[string]string{"prod_1": "sku-1"}}
	ledger := &mockLedger{}
	gateway := gatewayWithLineItems([]*stripe.LineItem{
		lineItemForTest("li_1", "price_1", "prod_1", 3, 4500),
	})
	svc := newWebhookService(reservations, orders, products, ledger, gateway)

	err := svc.ProcessEvent(context.Background(), completedEvent(t, "cs_123"))
	assert.NoError(t, err)

	if assert.Len(t, orders.upserted, 1) {
		order := orders.upserted[0]
		assert.Equal(t, "cs_123", order.StripeSessionID)
		assert.Equal(t, models.OrderStatusPaid, order.Status)
		assert.Equal(t, int64(4500), order.AmountTotal)
		if assert.NotNil(t, order.StripePaymentIntentID) {
			assert.Equal(t, "pi_123", *order.StripePaymentIntentID)
		}
		if assert.NotNil(t, order.CustomerEmail) {
			assert.Equal(t, "potter@example.com", *order.CustomerEmail)
		}
		assert.NotNil(t, order.RawSession)
	}

	if assert.Len(t, orders.replaceCalls, 1) {
		items := orders.replaceCalls[0].items
		if assert.Len(t, items, 1) {
			assert.Equal(t, "price_1", items[0].StripePriceID)
			assert.Equal(t, 3, items[0].Quantity)
			if assert.NotNil(t, items[0].ProductID) {
				assert.Equal(t, "sku-1", *items[0].ProductID)
			}
		}
	}

	if assert.Len(t, reservations.completedCalls, 1) {
		assert.Equal(t, "cs_123", reservations.completedCalls[0].sessionID)
		assert.Equal(t, orders.assignID, reservations.completedCalls[0].orderID)
	}
	// completion never touches the ledger
	assert.Empty(t, ledger.released)
}

func TestProcessEvent_CompletedIsIdempotent(t *testing.T) {
	reservations := &mockReservationRepo{
		reservation:         reservedReservation("cs_123"),
		markCompletedResult: true,
	}
	orders := &mockOrderRepo{}
	products := &mockProductRepo{mapped: map[string]string{"prod_1": "sku-1"}}
	gateway := gatewayWithLineItems([]*stripe.LineItem{
		lineItemForTest("li_1", "price_1", "prod_1", 3, 4500),
	})
	svc := newWebhookService(reservations, orders, products, &mockLedger{}, gateway)

	assert.NoError(t, svc.ProcessEvent(context.Background(), completedEvent(t, "cs_123")))

	// Redelivery: reservation is now completed, line items are re-fetched.
	reservations.reservation.Status = models.ReservationStatusCompleted
	gateway.pages = append(gateway.pages, []*stripe.LineItem{
		lineItemForTest("li_1", "price_1", "prod_1", 3, 4500),
	})
	assert.NoError(t, svc.ProcessEvent(context.Background(), completedEvent(t, "cs_123")))

	// both passes converge on the same session row and the same item set
	assert.Len(t, orders.upserted, 2)
	assert.Equal(t, orders.upserted[0].StripeSessionID, orders.upserted[1].StripeSessionID)
	assert.Len(t, orders.replaceCalls, 2)
	assert.Equal(t, orders.replaceCalls[0].items, orders.replaceCalls[1].items)

	// the terminal reservation is not transitioned again
	assert.Len(t, reservations.completedCalls, 1)
}

func TestProcessEvent_CompletedRefusesExpiredReservation(t *testing.T) {
	reservation := reservedReservation("cs_123")
	reservation.Status = models.ReservationStatusExpired
	reservations := &mockReservationRepo{reservation: reservation}
	orders := &mockOrderRepo{}
	gateway := gatewayWithLineItems([]*stripe.LineItem{
		lineItemForTest("li_1", "price_1", "prod_1", 1, 1500),
	})
	svc := newWebhookService(reservations, orders, &mockProductRepo{mapped: map[string]string{}}, &mockLedger{}, gateway)

	err := svc.ProcessEvent(context.Background(), completedEvent(t, "cs_123"))

	assert.NoError(t, err)
	assert.Len(t, orders.upserted, 1) // the order is still the audit trail
	assert.Empty(t, reservations.completedCalls)
}

func TestProcessEvent_CompletedWithoutReservation(t *testing.T) {
	reservations := &mockReservationRepo{}
	orders := &mockOrderRepo{}
	gateway := gatewayWithLineItems([]*stripe.LineItem{
		lineItemForTest("li_1", "price_1", "prod_1", 1, 1500),
	})
	svc := newWebhookService(reservations, orders, &mockProductRepo{mapped: map[string]string{}}, &mockLedger{}, gateway)

	err := svc.ProcessEvent(context.Background(), completedEvent(t, "cs_old"))

	assert.NoError(t, err)
	assert.Len(t, orders.upserted, 1)
	assert.Empty(t, reservations.completedCalls)
}

func TestProcessEvent_CompletedPagesThroughAllLineItems(t *testing.T) {
	pageOne := make([]*stripe.LineItem, 100)
	pageTwo := make([]*stripe.LineItem, 100)
	pageThree := make([]*stripe.LineItem, 50)
	for i := range pageOne {
		pageOne[i] = lineItemForTest(fmt.Sprintf("li_a%d", i), fmt.Sprintf("price_%d", i), "prod_1", 1, 100)
	}
	for i := range pageTwo {
		pageTwo[i] = lineItemForTest(fmt.Sprintf("li_b%d", i), fmt.Sprintf("price_%d", 100+i), "prod_1", 1, 100)
	}
	for i := range pageThree {
		pageThree[i] = lineItemForTest(fmt.Sprintf("li_c%d", i), fmt.Sprintf("price_%d", 200+i), "prod_1", 1, 100)
	}

	orders := &mockOrderRepo{}
	gateway := gatewayWithLineItems(pageOne, pageTwo, pageThree)
	svc := newWebhookService(&mockReservationRepo{}, orders, &mockProductRepo{mapped: map[string]string{}}, &mockLedger{}, gateway)

	err := svc.ProcessEvent(context.Background(), completedEvent(t, "cs_big"))
	assert.NoError(t, err)

	// all 250 items retrieved before grouping
	if assert.Len(t, orders.replaceCalls, 1) {
		assert.Len(t, orders.replaceCalls[0].items, 250)
	}
	// sequential cursors: each page starts after the previous page's last item
	if assert.Len(t, gateway.pageCalls, 3) {
		assert.Equal(t, "", gateway.pageCalls[0].startingAfter)
		assert.Equal(t, "li_a99", gateway.pageCalls[1].startingAfter)
		assert.Equal(t, "li_b99", gateway.pageCalls[2].startingAfter)
	}
}

func TestProcessEvent_CompletedGroupsSplitLineItems(t *testing.T) {
	orders := &mockOrderRepo{}
	gateway := gatewayWithLineItems([]*stripe.LineItem{
		lineItemForTest("li_1", "price_1", "prod_1", 2, 3000),
		lineItemForTest("li_2", "price_1", "prod_1", 1, 1500),
	})
	svc := newWebhookService(&mockReservationRepo{}, orders, &mockProductRepo{mapped: map[string]string{}}, &mockLedger{}, gateway)

	err := svc.ProcessEvent(context.Background(), completedEvent(t, "cs_123"))
	assert.NoError(t, err)

	if assert.Len(t, orders.replaceCalls, 1) {
		items := orders.replaceCalls[0].items
		if assert.Len(t, items, 1) {
			assert.Equal(t, 3, items[0].Quantity)
		}
	}
}

func TestProcessEvent_CompletedLineItemFailureIsRetryable(t *testing.T) {
	gateway := &mockGateway{pageErr: errors.New("stripe timeout")}
	orders := &mockOrderRepo{}
	svc := newWebhookService(&mockReservationRepo{}, orders, &mockProductRepo{}, &mockLedger{}, gateway)

	err := svc.ProcessEvent(context.Background(), completedEvent(t, "cs_123"))

	assert.Error(t, err)
	assert.Empty(t, orders.upserted)
}

// ---- expiration ----

func TestProcessEvent_ExpiredReleasesStock(t *testing.T) {
	reservations := &mockReservationRepo{
		reservation:       reservedReservation("cs_123"),
		markExpiredResult: true,
	}
	ledger := &mockLedger{}
	svc := newWebhookService(reservations, &mockOrderRepo{}, &mockProductRepo{}, ledger, &mockGateway{})

	err := svc.ProcessEvent(context.Background(), expiredEvent(t, "cs_123"))

	assert.NoError(t, err)
	if assert.Len(t, ledger.released, 1) {
		assert.Equal(t, []models.ReservationItem{{ProductID: "sku-1", Quantity: 3}}, ledger.released[0])
	}
	assert.Equal(t, []string{"cs_123"}, reservations.expiredCalls)
}

func TestProcessEvent_ExpiredAfterCompletionIsNoOp(t *testing.T) {
	reservation := reservedReservation("cs_123")
	reservation.Status = models.ReservationStatusCompleted
	reservations := &mockReservationRepo{reservation: reservation}
	ledger := &mockLedger{}
	svc := newWebhookService(reservations, &mockOrderRepo{}, &mockProductRepo{}, ledger, &mockGateway{})

	err := svc.ProcessEvent(context.Background(), expiredEvent(t, "cs_123"))

	// out-of-order delivery: stock backing a completed order is never released
	assert.NoError(t, err)
	assert.Empty(t, ledger.released)
	assert.Empty(t, reservations.expiredCalls)
}

func TestProcessEvent_ExpiredTwiceIsNoOp(t *testing.T) {
	reservation := reservedReservation("cs_123")
	reservation.Status = models.ReservationStatusExpired
	reservations := &mockReservationRepo{reservation: reservation}
	ledger := &mockLedger{}
	svc := newWebhookService(reservations, &mockOrderRepo{}, &mockProductRepo{}, ledger, &mockGateway{})

	assert.NoError(t, svc.ProcessEvent(context.Background(), expiredEvent(t, "cs_123")))
	assert.Empty(t, ledger.released)
}

func TestProcessEvent_ExpiredWithoutReservationIsNoOp(t *testing.T) {
	ledger := &mockLedger{}
	svc := newWebhookService(&mockReservationRepo{}, &mockOrderRepo{}, &mockProductRepo{}, ledger, &mockGateway{})

	assert.NoError(t, svc.ProcessEvent(context.Background(), expiredEvent(t, "cs_gone")))
	assert.Empty(t, ledger.released)
}

func TestProcessEvent_ExpiredReleaseFailureIsRetryable(t *testing.T) {
	reservations := &mockReservationRepo{reservation: reservedReservation("cs_123")}
	ledger := &mockLedger{releaseErr: errors.New("ledger unavailable")}
	svc := newWebhookService(reservations, &mockOrderRepo{}, &mockProductRepo{}, ledger, &mockGateway{})

	err := svc.ProcessEvent(context.Background(), expiredEvent(t, "cs_123"))

	// stock must not be marked released when the ledger call did not apply
	assert.Error(t, err)
	assert.Empty(t, reservations.expiredCalls)
}

// ---- dispatch ----

func TestProcessEvent_UnhandledTypeIsAcknowledged(t *testing.T) {
	svc := newWebhookService(&mockReservationRepo{}, &mockOrderRepo{}, &mockProductRepo{}, &mockLedger{}, &mockGateway{})

	err := svc.ProcessEvent(context.Background(), stripe.Event{
		ID:   "evt_3",
		Type: "invoice.paid",
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	})
	assert.NoError(t, err)
}

func lineItemForTest(id, priceID, productID string, quantity, subtotal int64) *stripe.LineItem {
	return &stripe.LineItem{
		ID:             id,
		Quantity:       quantity,
		AmountSubtotal: subtotal,
		Currency:       stripe.CurrencyGBP,
		Description:    "Test item",
		Price: &stripe.Price{
			ID:       priceID,
			Currency: stripe.CurrencyGBP,
			Product:  &stripe.Product{ID: productID},
		},
	}
}
