package repository

import (
	"context"

	"checkout-service/models"

	"gorm.io/gorm"
)

// ProductRepository provides read access to the catalog rows owned by the
// inventory store. Stock mutations never go through here.
type ProductRepository interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	MapIDsByStripeProductID(ctx context.Context, stripeProductIDs []string) (map[string]string, error)
}

// GormProductRepository implements ProductRepository using GORM.
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) ProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// MapIDsByStripeProductID cross-references Stripe product ids to internal
// product ids. Unknown references are simply absent from the result.
func (r *GormProductRepository) MapIDsByStripeProductID(ctx context.Context, stripeProductIDs []string) (map[string]string, error) {
	mapped := make(map[string]string)
	if len(stripeProductIDs) == 0 {
		return mapped, nil
	}

	var products []models.Product
	if err := r.db.WithContext(ctx).
		Where("stripe_product_id IN ?", stripeProductIDs).
		Find(&products).Error; err != nil {
		return nil, err
	}

	for _, product := range products {
		if product.StripeProductID != nil && *product.StripeProductID != "" {
			mapped[*product.StripeProductID] = product.ID
		}
	}
	return mapped, nil
}
