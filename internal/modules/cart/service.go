package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"derukkies.com/app/internal/modules/products"
)

type Service struct {
	db   *gorm.DB
	repo *Repo
}

func NewService(db *gorm.DB, repo *Repo) *Service {
	return &Service{db: db, repo: repo}
}

// AddItem puts qty units of a product into the cart, merging with an existing
// row for the same product. A merged quantity above current stock is rejected
// for physical products.
func (s *Service) AddItem(ctx context.Context, cartID, productID string, qty int) (CartItem, error) {
	if qty < 1 {
		qty = 1
	}
	var out CartItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p products.Product
		if err := tx.First(&p, "id = ?", productID).Error; err != nil {
			return err
		}
		if !p.IsActive {
			return ErrProductInactive
		}

		var item CartItem
		err := tx.Where("cart_id = ? AND product_id = ?", cartID, productID).First(&item).Error
		switch {
		case err == nil:
			item.Quantity += qty
		case errors.Is(err, gorm.ErrRecordNotFound):
			item = CartItem{
				ID:        uuid.NewString(),
				CartID:    cartID,
				ProductID: productID,
				Quantity:  qty,
				CreatedAt: time.Now(),
			}
		default:
			return err
		}
		if !p.IsDigital && item.Quantity > p.Stock {
			return fmt.Errorf("%w: %s has %d left", ErrNotEnoughStock, p.Name, p.Stock)
		}
		item.UpdatedAt = time.Now()
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		out = item
		return nil
	})
	return out, err
}

// SetQuantity overwrites the quantity of a cart row. Zero or negative removes
// the row.
func (s *Service) SetQuantity(ctx context.Context, cartID, productID string, qty int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if qty <= 0 {
			return tx.Where("cart_id = ? AND product_id = ?", cartID, productID).
				Delete(&CartItem{}).Error
		}
		var p products.Product
		if err := tx.First(&p, "id = ?", productID).Error; err != nil {
			return err
		}
		if !p.IsDigital && qty > p.Stock {
			return fmt.Errorf("%w: %s has %d left", ErrNotEnoughStock, p.Name, p.Stock)
		}
		return tx.Model(&CartItem{}).
			Where("cart_id = ? AND product_id = ?", cartID, productID).
			Updates(map[string]any{"quantity": qty, "updated_at": time.Now()}).Error
	})
}

func (s *Service) RemoveItem(ctx context.Context, cartID, productID string) error {
	return s.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		Delete(&CartItem{}).Error
}

func (s *Service) Clear(ctx context.Context, cartID string) error {
	return s.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&CartItem{}).Error
}

// Subtotal sums price*quantity over the cart at current catalog prices.
func (s *Service) Subtotal(ctx context.Context, cartID string) (decimal.Decimal, error) {
	c, err := s.repo.Get(ctx, cartID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total, nil
}
