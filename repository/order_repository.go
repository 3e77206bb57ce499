package repository

import (
	"context"

	"checkout-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository materializes orders from completion events. Both writes
// are idempotent under webhook redelivery: the upsert converges on one row
// per session, and the item set is replaced wholesale.
type OrderRepository interface {
	// UpsertBySessionID inserts the order or updates the existing row with
	// the same stripe_session_id, and fills in the row's id.
	UpsertBySessionID(ctx context.Context, order *models.Order) error
	// ReplaceItems deletes all items for the order and inserts the given
	// set in one transaction.
	ReplaceItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error
}

// GormOrderRepository implements OrderRepository using GORM.
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) UpsertBySessionID(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).
		Omit("OrderItems").
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"stripe_payment_intent_id",
				"customer_email",
				"currency",
				"amount_total",
				"status",
				"raw_session",
				"updated_at",
			}),
		}).
		Create(order).Error
}

func (r *GormOrderRepository) ReplaceItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
}
