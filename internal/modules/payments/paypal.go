package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"derukkies.com/app/internal/config"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/shared/apperr"
)

// PayPalService drives the two-phase v2 Checkout flow: create an approval
// order, then capture it. The capture id, not the PayPal order id, is the
// durable transaction reference.
type PayPalService struct {
	cfg      config.PayPal
	appEnv   string
	currency string
	client   *http.Client
	tokens   TokenCache
	orders   *orders.Repo
	recorder *Recorder
	settler  *Settler
	log      *slog.Logger
}

func NewPayPalService(cfg config.PayPal, appEnv, currency string, client *http.Client, tokens TokenCache, ordersRepo *orders.Repo, recorder *Recorder, settler *Settler, log *slog.Logger) *PayPalService {
	return &PayPalService{
		cfg:      cfg,
		appEnv:   appEnv,
		currency: currency,
		client:   client,
		tokens:   tokens,
		orders:   ordersRepo,
		recorder: recorder,
		settler:  settler,
		log:      log,
	}
}

func (s *PayPalService) configIssue() *apperr.AppError {
	if s.cfg.ClientID == "" || s.cfg.Secret == "" {
		return apperr.ConfigErr("paypal_not_configured", "Missing PAYPAL_CLIENT_ID or PAYPAL_CLIENT_SECRET.")
	}
	if s.cfg.Mode(s.appEnv) == "live" {
		if strings.Contains(strings.ToLower(s.cfg.ClientID), "sandbox") || strings.Contains(strings.ToLower(s.cfg.Secret), "sandbox") {
			return apperr.ConfigErr("paypal_not_configured", "PAYPAL_ENV is set to live but sandbox PayPal credentials were detected.")
		}
	}
	return nil
}

// ClientConfig is what the storefront needs to render the PayPal buttons.
type PayPalClientConfig struct {
	ClientID string `json:"client_id"`
	Env      string `json:"env"`
	Currency string `json:"currency"`
}

func (s *PayPalService) ClientConfig() (PayPalClientConfig, error) {
	if err := s.configIssue(); err != nil {
		return PayPalClientConfig{}, err
	}
	return PayPalClientConfig{ClientID: s.cfg.ClientID, Env: s.cfg.Mode(s.appEnv), Currency: s.currency}, nil
}

// CreateOrder opens the approval phase for the frozen total.
func (s *PayPalService) CreateOrder(ctx context.Context, order *orders.Order, currency string) (string, string, error) {
	if err := s.configIssue(); err != nil {
		return "", "", err
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.currency
	}
	if currency != s.currency {
		return "", "", apperr.InvalidErr("unsupported_currency", fmt.Sprintf("Only %s is currently supported.", s.currency))
	}
	if err := guardPayable(order); err != nil {
		return "", "", err
	}
	if paid, err := s.recorder.HasSuccess(ctx, order.ID); err != nil {
		return "", "", err
	} else if paid {
		return "", "", apperr.ConflictErr("order_already_paid", "")
	}

	payload := map[string]any{
		"intent":         "CAPTURE",
		"purchase_units": []map[string]any{s.purchaseUnit(order, currency)},
		"application_context": map[string]any{
			"brand_name":          "De-Rukkies Collections",
			"user_action":         "PAY_NOW",
			"landing_page":        "BILLING",
			"shipping_preference": "SET_PROVIDED_ADDRESS",
		},
	}
	requestID := fmt.Sprintf("order-%s-%s", order.ID, strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	status, raw, err := s.api(ctx, http.MethodPost, "/v2/checkout/orders", payload, map[string]string{"PayPal-Request-Id": requestID})
	if err != nil {
		return "", "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		s.log.WarnContext(ctx, "paypal create order failed", "order_id", order.ID, "status", status, "detail", truncate(string(raw), 500))
		s.recorder.RecordAttempt(ctx, Record{
			Order:    order,
			Provider: ProviderPayPal,
			Amount:   &order.Total,
			Currency: currency,
			Status:   "failed",
			Raw:      map[string]any{"event": "create_order_failed", "status_code": status},
		})
		return "", "", apperr.UpstreamErr("paypal_create_order_failed", fmt.Errorf("paypal returned %d", status))
	}

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		return "", "", apperr.UpstreamErr("paypal_error", fmt.Errorf("invalid paypal response: %w", err))
	}
	ppOrderID := strings.TrimSpace(created.ID)
	ppStatus := strings.ToLower(strings.TrimSpace(created.Status))
	if ppStatus == "" {
		ppStatus = "created"
	}
	s.recorder.RecordAttempt(ctx, Record{
		Order:         order,
		Provider:      ProviderPayPal,
		ProviderTxnID: ppOrderID,
		PayPalOrderID: ppOrderID,
		Amount:        &order.Total,
		Currency:      currency,
		Status:        ppStatus,
		Raw:           map[string]any{"event": "paypal_order_created"},
	})
	s.log.InfoContext(ctx, "paypal order created", "order_id", order.ID, "paypal_order_id", ppOrderID, "status", ppStatus)
	return ppOrderID, ppStatus, nil
}

func (s *PayPalService) purchaseUnit(order *orders.Order, currency string) map[string]any {
	itemTotal := decimal.Zero
	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		itemTotal = itemTotal.Add(line)
		items = append(items, map[string]any{
			"name":        truncate(item.ProductName, 127),
			"unit_amount": map[string]any{"currency_code": currency, "value": item.UnitPrice.StringFixed(2)},
			"quantity":    fmt.Sprint(item.Quantity),
		})
	}
	itemTotal = itemTotal.Round(2)

	// Tax and shipping ride in the breakdown so the unit sums to the frozen
	// order total.
	extra := order.Total.Sub(itemTotal).Round(2)
	if extra.IsNegative() {
		extra = decimal.Zero
	}
	breakdown := map[string]any{
		"item_total": map[string]any{"currency_code": currency, "value": itemTotal.StringFixed(2)},
	}
	if extra.IsPositive() {
		breakdown["shipping"] = map[string]any{"currency_code": currency, "value": extra.StringFixed(2)}
	}
	return map[string]any{
		"reference_id": "order-" + order.ID,
		"custom_id":    order.ID,
		"invoice_id":   order.OrderNumber,
		"description":  "Order " + order.OrderNumber,
		"amount": map[string]any{
			"currency_code": currency,
			"value":         order.Total.StringFixed(2),
			"breakdown":     breakdown,
		},
		"items": items,
	}
}

// CaptureOrder performs the capture phase and settles on success. The amount
// and currency PayPal reports for the capture are verified against the
// frozen total before anything is applied.
func (s *PayPalService) CaptureOrder(ctx context.Context, order *orders.Order, ppOrderID string) (ConfirmResult, error) {
	if err := s.configIssue(); err != nil {
		return ConfirmResult{}, err
	}
	if order.Paid() {
		return ConfirmResult{Paid: true, OrderStatus: order.Status}, nil
	}
	if !order.Payable() {
		return ConfirmResult{}, apperr.ConflictErr("order_not_payable", fmt.Sprintf("Order status is %s", order.Status))
	}

	status, raw, err := s.api(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(ppOrderID)+"/capture", map[string]any{}, nil)
	if err != nil {
		return ConfirmResult{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		s.log.WarnContext(ctx, "paypal capture failed",
			"order_id", order.ID, "paypal_order_id", ppOrderID, "status", status, "detail", truncate(string(raw), 500))
		s.recorder.RecordAttempt(ctx, Record{
			Order:         order,
			Provider:      ProviderPayPal,
			ProviderTxnID: ppOrderID,
			PayPalOrderID: ppOrderID,
			Amount:        &order.Total,
			Status:        "failed",
			Raw:           map[string]any{"event": "capture_failed", "status_code": status},
		})
		return ConfirmResult{}, apperr.UpstreamErr("paypal_capture_failed", fmt.Errorf("paypal returned %d", status))
	}

	capture := extractPayPalCapture(raw)
	captureID := capture.ID
	if captureID == "" {
		captureID = ppOrderID
	}

	if !CurrencyMatches(s.currency, capture.Currency) {
		s.recorder.RecordAttempt(ctx, Record{
			Order:         order,
			Provider:      ProviderPayPal,
			ProviderTxnID: captureID,
			PayPalOrderID: ppOrderID,
			Currency:      capture.Currency,
			PayerEmail:    capture.PayerEmail,
			Status:        "failed",
			Raw:           map[string]any{"event": "capture_currency_mismatch"},
		})
		return ConfirmResult{}, apperr.IntegrityErr("currency_mismatch", fmt.Sprintf("Expected %s, got %s.", s.currency, capture.Currency))
	}

	amount, ok := ParseAmount(capture.Amount)
	if !ok || !AmountMatches(order.Total, amount) {
		s.log.WarnContext(ctx, "paypal capture amount mismatch",
			"order_id", order.ID, "paypal_order_id", ppOrderID,
			"provided", capture.Amount, "expected", order.Total.StringFixed(2))
		s.recorder.RecordAttempt(ctx, Record{
			Order:         order,
			Provider:      ProviderPayPal,
			ProviderTxnID: captureID,
			PayPalOrderID: ppOrderID,
			PayerEmail:    capture.PayerEmail,
			Status:        "failed",
			Raw:           map[string]any{"event": "capture_amount_mismatch"},
		})
		return ConfirmResult{}, apperr.IntegrityErr("amount_mismatch", "")
	}

	txn, _, err := s.settler.Settle(ctx, Record{
		Order:         order,
		Provider:      ProviderPayPal,
		ProviderTxnID: captureID,
		PayPalOrderID: ppOrderID,
		Amount:        &amount,
		Currency:      capture.Currency,
		PayerEmail:    capture.PayerEmail,
		Status:        capture.Status,
		Raw:           map[string]any{"event": "capture_completed"},
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{
		Paid:          order.Paid(),
		OrderStatus:   order.Status,
		TransactionID: txn.ID,
		PayerEmail:    capture.PayerEmail,
	}, nil
}

// PayPalWebhookHeaders are the transmission headers PayPal signs each
// delivery with.
type PayPalWebhookHeaders struct {
	TransmissionID   string
	TransmissionTime string
	CertURL          string
	TransmissionSig  string
	AuthAlgo         string
}

func (h PayPalWebhookHeaders) complete() bool {
	return h.TransmissionID != "" && h.TransmissionTime != "" && h.CertURL != "" && h.TransmissionSig != "" && h.AuthAlgo != ""
}

// Webhook verifies the delivery through PayPal's verification API, then
// routes capture events to settlement. Events that cannot be matched to a
// known transaction are acknowledged and dropped.
func (s *PayPalService) Webhook(ctx context.Context, headers PayPalWebhookHeaders, body []byte) error {
	webhookID := strings.TrimSpace(s.cfg.WebhookID)
	if webhookID == "" {
		s.log.ErrorContext(ctx, "paypal webhook misconfigured", "reason", "missing_webhook_id")
		return apperr.ConfigErr("paypal_webhook_not_configured", "")
	}
	var event paypalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return apperr.InvalidErr("invalid_payload", "")
	}
	if !headers.complete() {
		return apperr.InvalidErr("missing_signature_headers", "")
	}

	verifyPayload := map[string]any{
		"transmission_id":   headers.TransmissionID,
		"transmission_time": headers.TransmissionTime,
		"cert_url":          headers.CertURL,
		"auth_algo":         headers.AuthAlgo,
		"transmission_sig":  headers.TransmissionSig,
		"webhook_id":        webhookID,
		"webhook_event":     json.RawMessage(body),
	}
	status, raw, err := s.api(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", verifyPayload, nil)
	if err != nil {
		return err
	}
	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	_ = json.Unmarshal(raw, &verification)
	if (status != http.StatusOK && status != http.StatusCreated) || strings.ToUpper(verification.VerificationStatus) != "SUCCESS" {
		s.log.WarnContext(ctx, "paypal webhook invalid signature", "status", status, "verification_status", verification.VerificationStatus)
		return apperr.InvalidErr("invalid_signature", "")
	}

	var (
		ppOrderID  string
		txnID      string
		amountStr  string
		currency   = s.currency
		payerEmail string
		mapped     = "pending"
	)
	switch {
	case strings.HasPrefix(event.EventType, "PAYMENT.CAPTURE."):
		txnID = strings.TrimSpace(event.Resource.ID)
		amountStr = event.Resource.Amount.Value
		if c := strings.ToUpper(event.Resource.Amount.CurrencyCode); c != "" {
			currency = c
		}
		payerEmail = strings.TrimSpace(event.Resource.Payer.EmailAddress)
		ppOrderID = strings.TrimSpace(event.Resource.SupplementaryData.RelatedIDs.OrderID)
		switch event.EventType {
		case "PAYMENT.CAPTURE.COMPLETED":
			mapped = "completed"
		case "PAYMENT.CAPTURE.PENDING":
			mapped = "pending"
		case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.REVERSED":
			mapped = "failed"
		case "PAYMENT.CAPTURE.REFUNDED":
			mapped = "refunded"
		}
	case strings.HasPrefix(event.EventType, "CHECKOUT.ORDER."):
		ppOrderID = strings.TrimSpace(event.Resource.ID)
		if st := strings.ToLower(strings.TrimSpace(event.Resource.Status)); st != "" {
			mapped = st
		}
	default:
		return nil
	}

	seed, err := s.findSeedTransaction(ctx, ppOrderID, txnID)
	if err != nil {
		s.log.InfoContext(ctx, "paypal webhook unmatched event",
			"event_type", event.EventType, "paypal_order_id", ppOrderID, "provider_txn_id", txnID)
		return nil
	}
	order, err := s.orders.Get(ctx, seed.OrderID)
	if err != nil {
		return nil
	}

	effectiveTxnID := txnID
	if effectiveTxnID == "" {
		effectiveTxnID = ppOrderID
	}

	if mapped == "completed" {
		var amount *decimal.Decimal
		if a, ok := ParseAmount(amountStr); ok {
			amount = &a
			if !AmountMatches(order.Total, a) {
				s.log.WarnContext(ctx, "paypal webhook amount mismatch",
					"order_id", order.ID, "paypal_order_id", ppOrderID,
					"provided", a.StringFixed(2), "expected", order.Total.StringFixed(2))
				s.recorder.RecordAttempt(ctx, Record{
					Order:         &order,
					Provider:      ProviderPayPal,
					ProviderTxnID: effectiveTxnID,
					PayPalOrderID: ppOrderID,
					Amount:        amount,
					Currency:      currency,
					PayerEmail:    payerEmail,
					Status:        "failed",
					Raw:           map[string]any{"event": "webhook_amount_mismatch", "event_type": event.EventType},
				})
				return nil
			}
		}
		_, _, err = s.settler.Settle(ctx, Record{
			Order:         &order,
			Provider:      ProviderPayPal,
			ProviderTxnID: effectiveTxnID,
			PayPalOrderID: ppOrderID,
			Amount:        amount,
			Currency:      currency,
			PayerEmail:    payerEmail,
			Raw:           map[string]any{"event": event.EventType},
		})
		return err
	}

	s.recorder.RecordAttempt(ctx, Record{
		Order:         &order,
		Provider:      ProviderPayPal,
		ProviderTxnID: effectiveTxnID,
		PayPalOrderID: ppOrderID,
		Currency:      currency,
		PayerEmail:    payerEmail,
		Status:        mapped,
		Raw:           map[string]any{"event": event.EventType},
	})
	return nil
}

func (s *PayPalService) findSeedTransaction(ctx context.Context, ppOrderID, txnID string) (Transaction, error) {
	q := s.recorder.db.WithContext(ctx).Where("provider = ?", ProviderPayPal)
	switch {
	case ppOrderID != "":
		q = q.Where("pay_pal_order_id = ?", ppOrderID)
	case txnID != "":
		q = q.Where("provider_txn_id = ?", txnID)
	default:
		return Transaction{}, fmt.Errorf("no paypal reference in event")
	}
	var txn Transaction
	err := q.Order("created_at DESC").First(&txn).Error
	return txn, err
}

func (s *PayPalService) accessToken(ctx context.Context) (string, error) {
	if s.cfg.ClientID == "" || s.cfg.Secret == "" {
		return "", apperr.ConfigErr("paypal_not_configured", "Missing PAYPAL_CLIENT_ID or PAYPAL_CLIENT_SECRET.")
	}
	idPrefix := s.cfg.ClientID
	if len(idPrefix) > 10 {
		idPrefix = idPrefix[:10]
	}
	cacheKey := fmt.Sprintf("paypal_access_token:%s:%s", s.cfg.Mode(s.appEnv), idPrefix)
	if token, ok := s.tokens.Get(ctx, cacheKey); ok {
		return token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBase(s.appEnv)+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperr.Wrap(err)
	}
	req.SetBasicAuth(s.cfg.ClientID, s.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", apperr.UpstreamErr("paypal_unreachable", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.UpstreamErr("paypal_unreachable", err)
	}
	if resp.StatusCode >= 400 {
		return "", apperr.UpstreamErr("paypal_oauth_failed", fmt.Errorf("paypal oauth returned %d: %s", resp.StatusCode, truncate(string(raw), 200)))
	}
	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &token); err != nil || token.AccessToken == "" {
		return "", apperr.UpstreamErr("paypal_oauth_failed", fmt.Errorf("missing access token in oauth response"))
	}

	ttl := 540 * time.Second
	if token.ExpiresIn > 0 {
		secs := token.ExpiresIn - 60
		if secs < 60 {
			secs = 60
		}
		ttl = time.Duration(secs) * time.Second
	}
	s.tokens.Set(ctx, cacheKey, token.AccessToken, ttl)
	return token.AccessToken, nil
}

func (s *PayPalService) api(ctx context.Context, method, path string, payload any, extraHeaders map[string]string) (int, []byte, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return 0, nil, err
	}
	var body io.Reader
	if payload != nil {
		b, merr := json.Marshal(payload)
		if merr != nil {
			return 0, nil, apperr.Wrap(merr)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBase(s.appEnv)+path, body)
	if err != nil {
		return 0, nil, apperr.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, apperr.UpstreamErr("paypal_unreachable", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apperr.UpstreamErr("paypal_unreachable", err)
	}
	return resp.StatusCode, raw, nil
}

type paypalEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
		Payer struct {
			EmailAddress string `json:"email_address"`
		} `json:"payer"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

type paypalCapture struct {
	ID         string
	Status     string
	Amount     string
	Currency   string
	PayerEmail string
}

func extractPayPalCapture(raw []byte) paypalCapture {
	var payload struct {
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Amount struct {
						Value        string `json:"value"`
						CurrencyCode string `json:"currency_code"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
		Payer struct {
			EmailAddress string `json:"email_address"`
		} `json:"payer"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return paypalCapture{Status: "pending", Currency: "USD"}
	}
	out := paypalCapture{PayerEmail: strings.TrimSpace(payload.Payer.EmailAddress)}
	if len(payload.PurchaseUnits) > 0 && len(payload.PurchaseUnits[0].Payments.Captures) > 0 {
		c := payload.PurchaseUnits[0].Payments.Captures[0]
		out.ID = strings.TrimSpace(c.ID)
		out.Status = strings.ToLower(strings.TrimSpace(c.Status))
		out.Amount = c.Amount.Value
		out.Currency = strings.ToUpper(c.Amount.CurrencyCode)
	}
	if out.Status == "" {
		out.Status = strings.ToLower(strings.TrimSpace(payload.Status))
	}
	if out.Status == "" {
		out.Status = "pending"
	}
	if out.Currency == "" {
		out.Currency = "USD"
	}
	return out
}
