package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"derukkies.com/app/internal/modules/cart"
	"derukkies.com/app/internal/modules/products"
	"derukkies.com/app/internal/shared/dbx"
)

// FinalizePaid flips a pending order to paid and applies the paid-only side
// effects. It returns true only when this call performed the transition, so
// callers racing on the same success signal (redirect confirm, webhook,
// manual verify) apply notifications and follow-ups at most once.
//
// Stock decrement and the status flip commit together. Cart depletion runs
// in a second transaction: losing it after the flip leaves stale cart rows,
// never a half-finalized order.
func (s *Service) FinalizePaid(ctx context.Context, orderID, provider, providerTxnID string) (bool, error) {
	var (
		order      Order
		becamePaid bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := dbx.ForUpdate(tx).First(&order, "id = ?", orderID).Error; err != nil {
			return err
		}
		if PaidStatuses[order.Status] {
			s.log.InfoContext(ctx, "finalize skipped",
				"order_id", order.ID, "status", order.Status,
				"provider", provider, "provider_txn_id", providerTxnID)
			return nil
		}
		if order.Status != StatusPending {
			return nil
		}

		var items []OrderItem
		if err := tx.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
			return err
		}
		for _, item := range items {
			var p products.Product
			if err := dbx.ForUpdate(tx).First(&p, "id = ?", item.ProductID).Error; err != nil {
				return err
			}
			if p.IsDigital {
				continue
			}
			next := p.Stock - item.Quantity
			if next < 0 {
				s.log.WarnContext(ctx, "finalize low stock",
					"order_id", order.ID, "product_id", p.ID,
					"available", p.Stock, "required", item.Quantity,
					"provider", provider)
				next = 0
			}
			if err := tx.Model(&products.Product{}).
				Where("id = ?", p.ID).
				Updates(map[string]any{"stock": next, "updated_at": time.Now()}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&Order{}).
			Where("id = ?", order.ID).
			Updates(map[string]any{"status": StatusPaid, "updated_at": time.Now()}).Error; err != nil {
			return err
		}
		order.Status = StatusPaid
		becamePaid = true
		return nil
	})
	if err != nil || !becamePaid {
		return false, err
	}

	removed := 0
	if order.UserID != nil {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var items []OrderItem
			if err := tx.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
				return err
			}
			for _, item := range items {
				remaining := item.Quantity
				if remaining <= 0 {
					continue
				}
				var rows []cart.CartItem
				if err := dbx.ForUpdate(tx).
					Joins("JOIN carts ON carts.id = cart_items.cart_id").
					Where("carts.user_id = ? AND cart_items.product_id = ?", *order.UserID, item.ProductID).
					Order("cart_items.created_at ASC, cart_items.id ASC").
					Find(&rows).Error; err != nil {
					return err
				}
				for _, row := range rows {
					if remaining <= 0 {
						break
					}
					if row.Quantity <= remaining {
						remaining -= row.Quantity
						if err := tx.Delete(&cart.CartItem{}, "id = ?", row.ID).Error; err != nil {
							return err
						}
						removed++
					} else {
						if err := tx.Model(&cart.CartItem{}).
							Where("id = ?", row.ID).
							Update("quantity", row.Quantity-remaining).Error; err != nil {
							return err
						}
						remaining = 0
					}
				}
			}
			return nil
		})
		if err != nil {
			s.log.ErrorContext(ctx, "finalize cart depletion failed",
				"order_id", order.ID, "error", err)
		}
	}

	s.log.InfoContext(ctx, "order finalized",
		"order_id", order.ID, "provider", provider,
		"provider_txn_id", providerTxnID, "cart_items_removed", removed)
	return true, nil
}
