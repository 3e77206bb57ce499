package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reservation lifecycle. Completed and expired are terminal.
const (
	ReservationStatusReserved  = "reserved"
	ReservationStatusCompleted = "completed"
	ReservationStatusExpired   = "expired"
)

const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
)

// CheckoutItem is a single cart line in the checkout request payload.
type CheckoutItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CheckoutRequest is the body of POST /checkout/session.
type CheckoutRequest struct {
	Origin string         `json:"origin"`
	Items  []CheckoutItem `json:"items"`
}

// ReservationItem is a product/quantity pair as recorded on a reservation
// and as passed to the inventory ledger's stored procedures.
type ReservationItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ReservationItems stores the reserved item list as a jsonb column.
type ReservationItems []ReservationItem

func (items ReservationItems) Value() (driver.Value, error) {
	return json.Marshal(items)
}

func (items *ReservationItems) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*items = nil
		return nil
	case []byte:
		return json.Unmarshal(v, items)
	case string:
		return json.Unmarshal([]byte(v), items)
	default:
		return fmt.Errorf("unsupported type %T for reservation items", value)
	}
}

// Product is owned by the inventory store. The checkout service only reads
// it; stock mutations go through the ledger's stored procedures.
type Product struct {
	ID              string  `gorm:"primaryKey"`
	Name            string  `gorm:"not null"`
	Active          bool    `gorm:"not null;default:true"`
	StockQuantity   int     `gorm:"not null;default:0"`
	StripeProductID *string `gorm:"uniqueIndex"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StockReservation records the intent behind a stock decrement, keyed by the
// Stripe checkout session it backs. The ledger remains the source of truth
// for available stock.
type StockReservation struct {
	StripeSessionID string           `gorm:"primaryKey"`
	Items           ReservationItems `gorm:"type:jsonb;not null"`
	Status          string           `gorm:"type:varchar(20);not null;default:'reserved'"`
	OrderID         *uuid.UUID       `gorm:"type:uuid"`
	CompletedAt     *time.Time
	ReleasedAt      *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// Order is materialized by the webhook processor, upserted by session id so
// redelivered completion events converge on one row.
type Order struct {
	ID                    uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StripeSessionID       string    `gorm:"uniqueIndex;not null"`
	StripePaymentIntentID *string
	CustomerEmail         *string
	Currency              string  `gorm:"type:varchar(10);not null"`
	AmountTotal           int64   `gorm:"not null"`
	Status                string  `gorm:"type:varchar(20);not null;default:'pending'"`
	RawSession            *string `gorm:"type:jsonb"` // retained for audit and debugging
	CreatedAt             time.Time
	UpdatedAt             time.Time
	OrderItems            []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// OrderItem is one grouped line of an order. The full set for an order is
// replaced on every completion event.
type OrderItem struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID         uuid.UUID `gorm:"type:uuid;not null;index"`
	ProductID       *string
	StripeProductID string `gorm:"not null"`
	StripePriceID   string `gorm:"not null"`
	Description     string
	Quantity        int    `gorm:"not null"`
	UnitAmount      int64  `gorm:"not null"`
	Currency        string `gorm:"type:varchar(10);not null"`
}
