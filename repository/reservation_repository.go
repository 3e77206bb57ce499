package repository

import (
	"context"
	"errors"
	"time"

	"checkout-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReservationRepository persists the reservation record created by the
// checkout orchestrator and transitioned by the webhook processor. The
// terminal-state guards live in the conditional updates here, so duplicate
// or out-of-order webhook deliveries can never move a reservation out of
// completed or expired.
type ReservationRepository interface {
	Create(ctx context.Context, reservation *models.StockReservation) error
	// FindBySessionID returns (nil, nil) when no reservation exists for the
	// session; absence is not an error for the webhook processor.
	FindBySessionID(ctx context.Context, sessionID string) (*models.StockReservation, error)
	// MarkCompleted transitions reserved -> completed, linking the order.
	// Returns false when the reservation was not in the reserved state.
	MarkCompleted(ctx context.Context, sessionID string, orderID uuid.UUID) (bool, error)
	// MarkExpired transitions reserved -> expired. Returns false when the
	// reservation was not in the reserved state.
	MarkExpired(ctx context.Context, sessionID string) (bool, error)
}

// GormReservationRepository implements ReservationRepository using GORM.
type GormReservationRepository struct {
	db *gorm.DB
}

func NewGormReservationRepository(db *gorm.DB) ReservationRepository {
	return &GormReservationRepository{db: db}
}

func (r *GormReservationRepository) Create(ctx context.Context, reservation *models.StockReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *GormReservationRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.StockReservation, error) {
	var reservation models.StockReservation
	err := r.db.WithContext(ctx).
		Where("stripe_session_id = ?", sessionID).
		First(&reservation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *GormReservationRepository) MarkCompleted(ctx context.Context, sessionID string, orderID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	tx := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("stripe_session_id = ? AND status = ?", sessionID, models.ReservationStatusReserved).
		Updates(map[string]interface{}{
			"status":       models.ReservationStatusCompleted,
			"order_id":     orderID,
			"completed_at": now,
			"updated_at":   now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *GormReservationRepository) MarkExpired(ctx context.Context, sessionID string) (bool, error) {
	now := time.Now().UTC()
	tx := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("stripe_session_id = ? AND status = ?", sessionID, models.ReservationStatusReserved).
		Updates(map[string]interface{}{
			"status":      models.ReservationStatusExpired,
			"released_at": now,
			"updated_at":  now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
