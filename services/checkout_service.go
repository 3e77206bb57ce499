package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"checkout-service/mapping"
	"checkout-service/models"
	"checkout-service/repository"

	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

const (
	// MaxQuantityPerProduct caps the per-product quantity after duplicate
	// cart lines are summed.
	MaxQuantityPerProduct = 20

	stripeProductPrefix  = "prod_"
	priceLookupPageLimit = 2
)

// ServiceError is a typed, user-facing failure carrying the HTTP status the
// controller should respond with.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// CheckoutService orchestrates checkout session creation: validate the cart,
// resolve products and prices, reserve stock, create the hosted session and
// compensate when a later step fails. Each step is a hard gate; the first
// failure aborts the request.
type CheckoutService struct {
	products       repository.ProductRepository
	ledger         repository.StockLedger
	reservations   repository.ReservationRepository
	gateway        PaymentGateway
	currency       string
	allowedOrigins map[string]struct{}
	logger         *zap.Logger
}

func NewCheckoutService(
	products repository.ProductRepository,
	ledger repository.StockLedger,
	reservations repository.ReservationRepository,
	gateway PaymentGateway,
	currency string,
	allowedOrigins []string,
	logger *zap.Logger,
) *CheckoutService {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &CheckoutService{
		products:       products,
		ledger:         ledger,
		reservations:   reservations,
		gateway:        gateway,
		currency:       strings.ToLower(currency),
		allowedOrigins: allowed,
		logger:         logger,
	}
}

// CreateSession runs the checkout saga and returns the hosted payment page
// URL. requestOrigin is the value of the Origin header, used when the body
// does not carry one.
func (s *CheckoutService) CreateSession(ctx context.Context, requestOrigin string, req *models.CheckoutRequest) (string, *ServiceError) {
	siteOrigin, svcErr := s.resolveOrigin(requestOrigin, req.Origin)
	if svcErr != nil {
		return "", svcErr
	}

	quantityByProduct, productIDs, svcErr := validateCartItems(req.Items)
	if svcErr != nil {
		return "", svcErr
	}

	productByID, svcErr := s.resolveProducts(ctx, productIDs, quantityByProduct)
	if svcErr != nil {
		return "", svcErr
	}

	priceByProductID, svcErr := s.resolvePrices(productIDs, productByID)
	if svcErr != nil {
		return "", svcErr
	}

	reservationItems := make([]models.ReservationItem, 0, len(productIDs))
	for _, productID := range productIDs {
		reservationItems = append(reservationItems, models.ReservationItem{
			ProductID: productID,
			Quantity:  quantityByProduct[productID],
		})
	}

	// Authoritative stock check. The read-then-check above is only a soft
	// guard; this call is atomic and race-safe across concurrent checkouts.
	if err := s.ledger.Reserve(ctx, reservationItems); err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientStock):
			return "", &ServiceError{http.StatusConflict, "One or more items are out of stock."}
		case errors.Is(err, repository.ErrInvalidItems):
			return "", &ServiceError{http.StatusBadRequest, "Invalid cart items for stock reservation."}
		default:
			s.logger.Error("Stock reservation failed", zap.Error(err))
			return "", &ServiceError{http.StatusConflict, mapping.ErrorMessageFromError(err, "Unable to update stock.")}
		}
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(productIDs))
	for _, productID := range productIDs {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(priceByProductID[productID]),
			Quantity: stripe.Int64(int64(quantityByProduct[productID])),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:                     stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:                lineItems,
		SuccessURL:               stripe.String(siteOrigin + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:                stripe.String(siteOrigin + "/cart"),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionAuto)),
		AllowPromotionCodes:      stripe.Bool(true),
	}

	sess, err := s.gateway.CreateCheckoutSession(params)
	if err != nil {
		s.logger.Error("Stripe checkout session creation failed", zap.Error(err))
		s.compensate(ctx, reservationItems)
		return "", &ServiceError{http.StatusInternalServerError, "Failed to create Stripe checkout session."}
	}
	if sess.URL == "" {
		s.compensate(ctx, reservationItems)
		return "", &ServiceError{http.StatusInternalServerError, "Stripe checkout URL was not returned."}
	}

	reservation := &models.StockReservation{
		StripeSessionID: sess.ID,
		Items:           reservationItems,
		Status:          models.ReservationStatusReserved,
	}
	if err := s.reservations.Create(ctx, reservation); err != nil {
		s.logger.Error("Failed to record stock reservation",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		s.compensate(ctx, reservationItems)
		return "", &ServiceError{http.StatusInternalServerError, "Unable to record stock reservation."}
	}

	s.logger.Info("Checkout session created",
		zap.String("session_id", sess.ID),
		zap.Int("products", len(productIDs)),
	)
	return sess.URL, nil
}

// resolveOrigin prefers the body origin over the Origin header and enforces
// the allow-list when one is configured.
func (s *CheckoutService) resolveOrigin(requestOrigin, bodyOrigin string) (string, *ServiceError) {
	siteOrigin := ""
	if bodyOrigin != "" {
		siteOrigin = mapping.NormalizeOrigin(bodyOrigin)
	}
	if siteOrigin == "" && requestOrigin != "" {
		siteOrigin = mapping.NormalizeOrigin(requestOrigin)
	}
	if siteOrigin == "" {
		return "", &ServiceError{http.StatusBadRequest, "Invalid origin."}
	}
	if len(s.allowedOrigins) > 0 {
		if _, ok := s.allowedOrigins[siteOrigin]; !ok {
			return "", &ServiceError{http.StatusForbidden, "Origin is not allowed."}
		}
	}
	return siteOrigin, nil
}

// validateCartItems deduplicates cart lines by summing quantities per
// product, enforcing the per-product cap. Returns quantities keyed by
// product id plus the product ids in first-seen order.
func validateCartItems(items []models.CheckoutItem) (map[string]int, []string, *ServiceError) {
	if len(items) == 0 {
		return nil, nil, &ServiceError{http.StatusBadRequest, "At least one cart item is required."}
	}

	quantityByProduct := make(map[string]int, len(items))
	var productIDs []string
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Quantity < 1 || item.Quantity > MaxQuantityPerProduct {
			return nil, nil, &ServiceError{http.StatusBadRequest, "Invalid cart item payload."}
		}

		next := quantityByProduct[productID] + item.Quantity
		if next > MaxQuantityPerProduct {
			return nil, nil, &ServiceError{
				http.StatusBadRequest,
				fmt.Sprintf("Quantity for %s exceeds the limit.", productID),
			}
		}
		if _, seen := quantityByProduct[productID]; !seen {
			productIDs = append(productIDs, productID)
		}
		quantityByProduct[productID] = next
	}
	return quantityByProduct, productIDs, nil
}

// resolveProducts batch-fetches the referenced products and gates on
// activeness, provider reference shape and (softly) current stock.
func (s *CheckoutService) resolveProducts(ctx context.Context, productIDs []string, quantityByProduct map[string]int) (map[string]models.Product, *ServiceError) {
	products, err := s.products.FindByIDs(ctx, productIDs)
	if err != nil {
		s.logger.Error("Product lookup failed", zap.Error(err))
		return nil, &ServiceError{http.StatusInternalServerError, "Unable to read products."}
	}

	productByID := make(map[string]models.Product, len(products))
	for _, product := range products {
		productByID[product.ID] = product
	}

	for _, productID := range productIDs {
		product, ok := productByID[productID]
		if !ok || !product.Active {
			return nil, &ServiceError{http.StatusBadRequest, fmt.Sprintf("Product %s is unavailable.", productID)}
		}
		if product.StripeProductID == nil || *product.StripeProductID == "" {
			return nil, &ServiceError{http.StatusBadRequest, fmt.Sprintf("Product %s is missing a Stripe product ID.", product.Name)}
		}
		if !strings.HasPrefix(*product.StripeProductID, stripeProductPrefix) {
			return nil, &ServiceError{http.StatusBadRequest, fmt.Sprintf("Product %s has an invalid Stripe product ID.", product.Name)}
		}
		if product.StockQuantity < 0 {
			return nil, &ServiceError{http.StatusBadRequest, fmt.Sprintf("Product %s has invalid stock.", product.Name)}
		}
		if quantityByProduct[productID] > product.StockQuantity {
			return nil, &ServiceError{
				http.StatusConflict,
				fmt.Sprintf("%s only has %d left in stock.", product.Name, product.StockQuantity),
			}
		}
	}
	return productByID, nil
}

// resolvePrices requires exactly one active price per product in the
// settlement currency; zero or multiple is a configuration error.
func (s *CheckoutService) resolvePrices(productIDs []string, productByID map[string]models.Product) (map[string]string, *ServiceError) {
	priceByProductID := make(map[string]string, len(productIDs))
	for _, productID := range productIDs {
		product := productByID[productID]
		prices, err := s.gateway.ListActivePrices(*product.StripeProductID, s.currency, priceLookupPageLimit)
		if err != nil {
			s.logger.Warn("Stripe price lookup failed",
				zap.String("product_id", productID),
				zap.Error(err),
			)
			return nil, &ServiceError{http.StatusBadRequest, fmt.Sprintf("Unable to resolve a Stripe price for %s.", product.Name)}
		}
		if len(prices) != 1 {
			return nil, &ServiceError{
				http.StatusBadRequest,
				fmt.Sprintf("Expected exactly one active %s Stripe price for %s.", strings.ToUpper(s.currency), product.Name),
			}
		}
		priceByProductID[productID] = prices[0].ID
	}
	return priceByProductID, nil
}

// compensate releases a reservation after a failed session creation.
// Best-effort: a failed release is logged and swallowed; the session
// expiration webhook is the reconciliation backstop.
func (s *CheckoutService) compensate(ctx context.Context, items []models.ReservationItem) {
	if err := s.ledger.Release(ctx, items); err != nil {
		s.logger.Warn("Failed to release reserved stock after checkout failure", zap.Error(err))
	}
}
