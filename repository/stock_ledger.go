package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"checkout-service/models"

	"gorm.io/gorm"
)

var (
	// ErrInsufficientStock signals the ledger rejected a reservation because
	// at least one product lacks the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidItems signals the ledger rejected the item list itself
	// (unknown product, non-positive quantity).
	ErrInvalidItems = errors.New("invalid items for stock reservation")
)

// StockLedger is the inventory ledger contract: two atomic, race-safe
// primitives. It is the only code path allowed to change stock counts.
type StockLedger interface {
	Reserve(ctx context.Context, items []models.ReservationItem) error
	Release(ctx context.Context, items []models.ReservationItem) error
}

// PostgresStockLedger calls the ledger's stored procedures
// (reserve_product_stock / release_product_stock). The procedures serialize
// concurrent calls per product and raise INSUFFICIENT_STOCK or INVALID_ITEMS
// on rejection; stock never goes negative.
type PostgresStockLedger struct {
	db *gorm.DB
}

func NewPostgresStockLedger(db *gorm.DB) StockLedger {
	return &PostgresStockLedger{db: db}
}

func (l *PostgresStockLedger) Reserve(ctx context.Context, items []models.ReservationItem) error {
	return l.call(ctx, "reserve_product_stock", items)
}

func (l *PostgresStockLedger) Release(ctx context.Context, items []models.ReservationItem) error {
	return l.call(ctx, "release_product_stock", items)
}

func (l *PostgresStockLedger) call(ctx context.Context, procedure string, items []models.ReservationItem) error {
	if len(items) == 0 {
		return nil
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal ledger items: %w", err)
	}

	query := fmt.Sprintf("SELECT %s(?::jsonb)", procedure)
	if err := l.db.WithContext(ctx).Exec(query, string(payload)).Error; err != nil {
		return classifyLedgerError(procedure, err)
	}
	return nil
}

func classifyLedgerError(procedure string, err error) error {
	message := err.Error()
	if strings.Contains(message, "INSUFFICIENT_STOCK") {
		return ErrInsufficientStock
	}
	if strings.Contains(message, "INVALID_ITEMS") {
		return ErrInvalidItems
	}
	return fmt.Errorf("%s: %w", procedure, err)
}
