package mapping

import (
	"math"
	"strings"

	"github.com/stripe/stripe-go/v80"
)

const defaultLineItemCurrency = "gbp"

// GroupedLineItem is one deduplicated order line derived from the provider's
// line items for a session.
type GroupedLineItem struct {
	ProductID       *string
	StripeProductID string
	StripePriceID   string
	Description     string
	Quantity        int
	UnitAmount      int64
	Currency        string
}

// GroupLineItems deduplicates Stripe line items by price+product reference,
// summing quantities. The unit amount is derived from the subtotal when
// available, falling back to the price's list amount. Items without a price,
// product reference or positive quantity are skipped. productIDByStripeID
// cross-references provider product ids to internal ones; unmatched
// references keep a nil internal id. Input order is preserved.
func GroupLineItems(lineItems []*stripe.LineItem, productIDByStripeID map[string]string) []GroupedLineItem {
	grouped := make(map[string]*GroupedLineItem)
	var keys []string

	for _, item := range lineItems {
		if item == nil || item.Price == nil {
			continue
		}
		price := item.Price
		stripePriceID := price.ID
		stripeProductID := ""
		if price.Product != nil {
			stripeProductID = price.Product.ID
		}
		quantity := int(item.Quantity)
		if stripePriceID == "" || stripeProductID == "" || quantity < 1 {
			continue
		}

		key := stripePriceID + ":" + stripeProductID
		if existing, ok := grouped[key]; ok {
			existing.Quantity += quantity
			continue
		}

		currency := strings.ToLower(string(item.Currency))
		if currency == "" {
			currency = strings.ToLower(string(price.Currency))
		}
		if currency == "" {
			currency = defaultLineItemCurrency
		}

		unitAmount := price.UnitAmount
		if item.AmountSubtotal > 0 && quantity > 0 {
			unitAmount = int64(math.Round(float64(item.AmountSubtotal) / float64(quantity)))
		}
		if unitAmount < 0 {
			unitAmount = 0
		}

		description := item.Description
		if description == "" {
			description = "Stripe item"
		}

		var productID *string
		if id, ok := productIDByStripeID[stripeProductID]; ok {
			productID = &id
		}

		grouped[key] = &GroupedLineItem{
			ProductID:       productID,
			StripeProductID: stripeProductID,
			StripePriceID:   stripePriceID,
			Description:     description,
			Quantity:        quantity,
			UnitAmount:      unitAmount,
			Currency:        currency,
		}
		keys = append(keys, key)
	}

	items := make([]GroupedLineItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, *grouped[key])
	}
	return items
}
