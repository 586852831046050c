package orders

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	var o Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("ShippingMethod").
		Preload("ShippingAddress").
		Preload("BillingAddress").
		First(&o, "id = ?", id).Error
	return o, err
}

func (r *Repo) GetByNumber(ctx context.Context, number string) (Order, error) {
	var o Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&o, "order_number = ?", number).Error
	return o, err
}

func (r *Repo) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	var list []Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

func (r *Repo) Address(ctx context.Context, id string) (Address, error) {
	var a Address
	err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error
	return a, err
}
