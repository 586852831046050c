package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// GetOrCreate returns the cart with the given id, creating it when the id
// is empty or stale. The returned cart always exists in the database.
func (r *Repo) GetOrCreate(ctx context.Context, cartID string, userID *string) (Cart, error) {
	if cartID != "" {
		var c Cart
		err := r.db.WithContext(ctx).First(&c, "id = ?", cartID).Error
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Cart{}, err
		}
	}
	c := Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
		return Cart{}, err
	}
	return c, nil
}

func (r *Repo) Get(ctx context.Context, cartID string) (Cart, error) {
	var c Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("cart_items.created_at ASC") }).
		Preload("Items.Product").
		First(&c, "id = ?", cartID).Error
	return c, err
}

// ItemsOldestFirst loads the cart rows in insertion order. Depletion after a
// paid order walks this slice front to back.
func (r *Repo) ItemsOldestFirst(ctx context.Context, tx *gorm.DB, cartID string) ([]CartItem, error) {
	if tx == nil {
		tx = r.db
	}
	var items []CartItem
	err := tx.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}
