package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/shared/apperr"
)

// ensureOrderAccess enforces the ownership rule: a user-owned order is only
// visible to that user; a guest order only to the session that created it.
func ensureOrderAccess(c *gin.Context, order *orders.Order) error {
	if order.UserID != nil {
		uid := middleware.CurrentUserID(c)
		if uid == nil || *uid != *order.UserID {
			return apperr.ForbiddenErr("forbidden", "You are not allowed to access this order.")
		}
		return nil
	}
	sess := middleware.CurrentSession(c)
	if sess == nil || !sess.OrderAccessGranted(order.ID) {
		return apperr.ForbiddenErr("forbidden", "You are not allowed to access this guest order.")
	}
	return nil
}

func loadOrder(c *gin.Context, repo *orders.Repo, orderID string) (orders.Order, error) {
	order, err := repo.Get(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return orders.Order{}, apperr.NotFoundErr("order_not_found")
		}
		return orders.Order{}, apperr.Wrap(err)
	}
	return order, nil
}

func orderJSON(o *orders.Order) gin.H {
	items := make([]gin.H, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, gin.H{
			"product_id":   it.ProductID,
			"product_name": it.ProductName,
			"unit_price":   it.UnitPrice.StringFixed(2),
			"quantity":     it.Quantity,
		})
	}
	return gin.H{
		"id":            o.ID,
		"order_number":  o.OrderNumber,
		"status":        o.Status,
		"currency":      o.Currency,
		"subtotal":      o.Subtotal.StringFixed(2),
		"shipping_cost": o.ShippingCost.StringFixed(2),
		"tax_amount":    o.TaxAmount.StringFixed(2),
		"total":         o.Total.StringFixed(2),
		"items":         items,
		"created_at":    o.CreatedAt,
	}
}
