package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/http/validation"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/shared/apperr"
)

type CheckoutHandler struct {
	DB     *gorm.DB
	Orders *orders.Service
}

func NewCheckoutHandler(db *gorm.DB, svc *orders.Service) *CheckoutHandler {
	return &CheckoutHandler{DB: db, Orders: svc}
}

type checkoutReq struct {
	ContactEmail      string               `json:"contact_email" binding:"omitempty,email"`
	ShippingMethodID  string               `json:"shipping_method_id" binding:"omitempty,uuid4"`
	ShippingAddressID string               `json:"shipping_address_id" binding:"omitempty,uuid4"`
	ShippingAddress   *orders.AddressInput `json:"shipping_address"`
	BillingAddressID  string               `json:"billing_address_id" binding:"omitempty,uuid4"`
	BillingAddress    *orders.AddressInput `json:"billing_address"`
}

func (h *CheckoutHandler) Create(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidFieldsErr("validation_failed", validation.FromBindError(err, &req)))
		return
	}
	sess := middleware.CurrentSession(c)
	if sess == nil || sess.CartID == "" {
		middleware.Fail(c, apperr.InvalidErr("empty_cart", "Your cart is empty."))
		return
	}
	userID := middleware.CurrentUserID(c)
	if userID == nil && req.ContactEmail == "" {
		middleware.Fail(c, apperr.InvalidErr("contact_email_required", "Guest checkout requires a contact email.").WithField("contact_email"))
		return
	}

	order, err := h.Orders.Checkout(c.Request.Context(), orders.CheckoutInput{
		CartID:            sess.CartID,
		UserID:            userID,
		ContactEmail:      req.ContactEmail,
		ShippingMethodID:  req.ShippingMethodID,
		ShippingAddressID: req.ShippingAddressID,
		ShippingAddress:   req.ShippingAddress,
		BillingAddressID:  req.BillingAddressID,
		BillingAddress:    req.BillingAddress,
	})
	if err != nil {
		middleware.Fail(c, checkoutError(err))
		return
	}

	// Guests prove ownership through the session that created the order.
	if userID == nil {
		if err := middleware.GrantOrderAccess(h.DB, sess, order.ID); err != nil {
			middleware.Fail(c, apperr.Wrap(err))
			return
		}
	}
	c.JSON(http.StatusCreated, orderJSON(&order))
}

func checkoutError(err error) error {
	var stockErr *orders.InsufficientStockError
	var unavailErr *orders.ProductUnavailableError
	var addrErr *orders.AddressValidationError
	var ownErr *orders.AddressOwnershipError
	switch {
	case errors.Is(err, orders.ErrEmptyCart):
		return apperr.InvalidErr("empty_cart", "Your cart is empty.")
	case errors.As(err, &stockErr):
		return apperr.ConflictErr("insufficient_stock", stockErr.Error()).
			WithMeta("product_id", stockErr.ProductID).
			WithMeta("available", stockErr.Available)
	case errors.As(err, &unavailErr):
		return apperr.ConflictErr("product_unavailable", unavailErr.Error()).
			WithMeta("product_id", unavailErr.ProductID)
	case errors.As(err, &addrErr):
		fields := make(map[string]string, len(addrErr.Missing))
		for _, f := range addrErr.Missing {
			fields[f] = "This field is required."
		}
		return apperr.InvalidFieldsErr("missing_"+addrErr.Role+"_fields", fields)
	case errors.As(err, &ownErr):
		field := ownErr.Role + "_address_id"
		if !ownErr.Authenticated {
			return apperr.ForbiddenErr("authentication_required_for_saved_address",
				"Sign in to use a saved address.").WithField(field)
		}
		return apperr.InvalidErr("invalid_"+ownErr.Role+"_address_id",
			"No such saved address on this account.").WithField(field)
	default:
		return apperr.Wrap(err)
	}
}
