package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/http/validation"
	"derukkies.com/app/internal/modules/cart"
	"derukkies.com/app/internal/shared/apperr"
)

type CartHandler struct {
	DB      *gorm.DB
	Repo    *cart.Repo
	Service *cart.Service
}

func NewCartHandler(db *gorm.DB, repo *cart.Repo, svc *cart.Service) *CartHandler {
	return &CartHandler{DB: db, Repo: repo, Service: svc}
}

// currentCart resolves the session's cart, creating one on first use and
// binding its id back onto the session.
func (h *CartHandler) currentCart(c *gin.Context) (cart.Cart, error) {
	sess := middleware.CurrentSession(c)
	if sess == nil {
		return cart.Cart{}, apperr.Wrap(errors.New("session missing"))
	}
	ct, err := h.Repo.GetOrCreate(c.Request.Context(), sess.CartID, sess.UserID)
	if err != nil {
		return cart.Cart{}, apperr.Wrap(err)
	}
	if sess.CartID != ct.ID {
		if err := middleware.BindCart(h.DB, sess, ct.ID); err != nil {
			return cart.Cart{}, apperr.Wrap(err)
		}
	}
	return ct, nil
}

func (h *CartHandler) Show(c *gin.Context) {
	ct, err := h.currentCart(c)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	h.render(c, ct.ID)
}

type cartItemReq struct {
	ProductID string `json:"product_id" binding:"required,uuid4"`
	Quantity  *int   `json:"quantity"`
}

// qty defaults a missing quantity to one. An explicit zero or negative is the
// caller's mistake, not a removal request, on the add path.
func (r cartItemReq) qty() (int, bool) {
	if r.Quantity == nil {
		return 1, true
	}
	return *r.Quantity, *r.Quantity > 0
}

func (h *CartHandler) Add(c *gin.Context) {
	var req cartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidFieldsErr("validation_failed", validation.FromBindError(err, &req)))
		return
	}
	qty, ok := req.qty()
	if !ok {
		middleware.Fail(c, apperr.InvalidErr("invalid_quantity", "Quantity must be at least 1.").WithField("quantity"))
		return
	}
	ct, err := h.currentCart(c)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	if _, err := h.Service.AddItem(c.Request.Context(), ct.ID, req.ProductID, qty); err != nil {
		middleware.Fail(c, cartError(err))
		return
	}
	h.render(c, ct.ID)
}

func (h *CartHandler) Update(c *gin.Context) {
	var req cartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidFieldsErr("validation_failed", validation.FromBindError(err, &req)))
		return
	}
	if req.Quantity == nil {
		middleware.Fail(c, apperr.InvalidErr("invalid_quantity", "quantity is required.").WithField("quantity"))
		return
	}
	ct, err := h.currentCart(c)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	if err := h.Service.SetQuantity(c.Request.Context(), ct.ID, req.ProductID, *req.Quantity); err != nil {
		middleware.Fail(c, cartError(err))
		return
	}
	h.render(c, ct.ID)
}

func (h *CartHandler) Remove(c *gin.Context) {
	ct, err := h.currentCart(c)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	if err := h.Service.RemoveItem(c.Request.Context(), ct.ID, c.Param("productID")); err != nil {
		middleware.Fail(c, cartError(err))
		return
	}
	h.render(c, ct.ID)
}

func (h *CartHandler) Clear(c *gin.Context) {
	ct, err := h.currentCart(c)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	if err := h.Service.Clear(c.Request.Context(), ct.ID); err != nil {
		middleware.Fail(c, apperr.Wrap(err))
		return
	}
	h.render(c, ct.ID)
}

func (h *CartHandler) render(c *gin.Context, cartID string) {
	ct, err := h.Repo.Get(c.Request.Context(), cartID)
	if err != nil {
		middleware.Fail(c, apperr.Wrap(err))
		return
	}
	items := make([]gin.H, 0, len(ct.Items))
	subtotal, _ := h.Service.Subtotal(c.Request.Context(), ct.ID)
	for i := range ct.Items {
		it := &ct.Items[i]
		items = append(items, gin.H{
			"product_id": it.ProductID,
			"name":       it.Product.Name,
			"slug":       it.Product.Slug,
			"unit_price": it.Product.Price.StringFixed(2),
			"quantity":   it.Quantity,
			"line_total": it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))).StringFixed(2),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"cart_id":  ct.ID,
		"items":    items,
		"subtotal": subtotal.StringFixed(2),
	})
}

func cartError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFoundErr("product_not_found")
	case errors.Is(err, cart.ErrProductInactive):
		return apperr.ConflictErr("product_inactive", "This product is no longer available.")
	case errors.Is(err, cart.ErrNotEnoughStock):
		return apperr.ConflictErr("insufficient_stock", "Not enough stock for the requested quantity.")
	default:
		return apperr.Wrap(err)
	}
}
