package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/http/validation"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/modules/payments"
	"derukkies.com/app/internal/shared/apperr"
)

type PaymentHandler struct {
	DB          *gorm.DB
	Orders      *orders.Repo
	Stripe      *payments.StripeService
	Flutterwave *payments.FlutterwaveService
	PayPal      *payments.PayPalService
	Verify      *payments.VerifyService
	BaseURL     string
}

func NewPaymentHandler(db *gorm.DB, repo *orders.Repo, stripe *payments.StripeService, flw *payments.FlutterwaveService, pp *payments.PayPalService, verify *payments.VerifyService, baseURL string) *PaymentHandler {
	return &PaymentHandler{
		DB:          db,
		Orders:      repo,
		Stripe:      stripe,
		Flutterwave: flw,
		PayPal:      pp,
		Verify:      verify,
		BaseURL:     baseURL,
	}
}

type orderRef struct {
	OrderID string `json:"order_id" binding:"required,uuid4"`
}

// ownedOrder loads an order and enforces the access rule shared by every
// payment entry point.
func (h *PaymentHandler) ownedOrder(c *gin.Context, orderID string) (orders.Order, bool) {
	if orderID == "" {
		middleware.Fail(c, apperr.InvalidErr("order_id_required", "order_id is required.").WithField("order_id"))
		return orders.Order{}, false
	}
	order, err := loadOrder(c, h.Orders, orderID)
	if err != nil {
		middleware.Fail(c, err)
		return orders.Order{}, false
	}
	if err := ensureOrderAccess(c, &order); err != nil {
		middleware.Fail(c, err)
		return orders.Order{}, false
	}
	return order, true
}

func (h *PaymentHandler) StripeCreateSession(c *gin.Context) {
	var req orderRef
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidFieldsErr("validation_failed", validation.FromBindError(err, &req)))
		return
	}
	order, ok := h.ownedOrder(c, req.OrderID)
	if !ok {
		return
	}
	url, err := h.Stripe.CreateCheckoutSession(c.Request.Context(), &order, h.BaseURL)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

func (h *PaymentHandler) StripeConfirm(c *gin.Context) {
	order, ok := h.ownedOrder(c, c.Query("order_id"))
	if !ok {
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		middleware.Fail(c, apperr.InvalidErr("session_id_required", "session_id is required.").WithField("session_id"))
		return
	}
	res, err := h.Stripe.ConfirmSession(c.Request.Context(), &order, sessionID)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmJSON(res))
}

func (h *PaymentHandler) FlutterwaveCreate(c *gin.Context) {
	var req orderRef
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidFieldsErr("validation_failed", validation.FromBindError(err, &req)))
		return
	}
	order, ok := h.ownedOrder(c, req.OrderID)
	if !ok {
		return
	}
	redirect := h.BaseURL + "/payments/flutterwave/return?order_id=" + order.ID
	link, err := h.Flutterwave.CreatePayment(c.Request.Context(), &order, redirect, order.GuestEmail, "")
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_link": link})
}

func (h *PaymentHandler) FlutterwaveConfirm(c *gin.Context) {
	order, ok := h.ownedOrder(c, c.Query("order_id"))
	if !ok {
		return
	}
	res, err := h.Flutterwave.Confirm(c.Request.Context(), &order, c.Query("transaction_id"), c.Query("tx_ref"), c.Query("status"))
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmJSON(res))
}

func (h *PaymentHandler) PayPalConfig(c *gin.Context) {
	cfg, err := h.PayPal.ClientConfig()
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client_id": cfg.ClientID,
		"currency":  cfg.Currency,
		"env":       cfg.Env,
	})
}

type paypalCreateReq struct {
	OrderID  string `json:"order_id" binding:"required,uuid4"`
	Currency string `json:"currency"`
}

func (h *PaymentHandler) PayPalCreateOrder(c *gin.Context) {
	var req paypalCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidFieldsErr("validation_failed", validation.FromBindError(err, &req)))
		return
	}
	order, ok := h.ownedOrder(c, req.OrderID)
	if !ok {
		return
	}
	ppOrderID, status, err := h.PayPal.CreateOrder(c.Request.Context(), &order, req.Currency)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paypal_order_id": ppOrderID, "status": status})
}

type paypalCaptureReq struct {
	OrderID       string `json:"order_id" binding:"required,uuid4"`
	PayPalOrderID string `json:"paypal_order_id" binding:"required"`
}

func (h *PaymentHandler) PayPalCaptureOrder(c *gin.Context) {
	var req paypalCaptureReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidFieldsErr("validation_failed", validation.FromBindError(err, &req)))
		return
	}
	order, ok := h.ownedOrder(c, req.OrderID)
	if !ok {
		return
	}
	res, err := h.PayPal.CaptureOrder(c.Request.Context(), &order, req.PayPalOrderID)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmJSON(res))
}

type verifyReq struct {
	OrderID       string `json:"order_id" binding:"required,uuid4"`
	Provider      string `json:"provider"`
	ProviderTxnID string `json:"provider_txn_id"`
	Amount        string `json:"amount"`
	VerifyToken   string `json:"verify_token"`
}

// ManualVerify is the operator backstop for payments the provider settled
// but the shop never heard about. Token-gated, no session ownership check.
func (h *PaymentHandler) ManualVerify(c *gin.Context) {
	var req verifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidFieldsErr("validation_failed", validation.FromBindError(err, &req)))
		return
	}
	token := req.VerifyToken
	if token == "" {
		token = c.GetHeader("X-VERIFY-TOKEN")
	}
	if err := h.Verify.CheckToken(token); err != nil {
		middleware.Fail(c, err)
		return
	}
	order, err := loadOrder(c, h.Orders, req.OrderID)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	provider := req.Provider
	if provider == "" {
		provider = payments.ProviderManual
	}
	txn, err := h.Verify.MarkPaid(c.Request.Context(), &order, provider, req.ProviderTxnID, req.Amount)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"order_status":   order.Status,
		"transaction_id": txn.ID,
	})
}

func confirmJSON(res payments.ConfirmResult) gin.H {
	out := gin.H{
		"paid":         res.Paid,
		"order_status": res.OrderStatus,
	}
	if res.PaymentStatus != "" {
		out["payment_status"] = res.PaymentStatus
	}
	if res.TransactionID != "" {
		out["transaction_id"] = res.TransactionID
	}
	return out
}
