package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"derukkies.com/app/internal/config"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/shared/apperr"
)

var stripeKeyRe = regexp.MustCompile(`^sk_(test|live)_`)

// ConfirmResult is the outcome of a redirect-side confirmation. Paid=false
// with a PaymentStatus means the provider has not settled yet; the caller
// should poll again rather than treat it as failure.
type ConfirmResult struct {
	Paid          bool
	OrderStatus   string
	PaymentStatus string
	TransactionID string
	PayerEmail    string
}

type StripeService struct {
	cfg      config.Stripe
	currency string
	client   *http.Client
	orders   *orders.Repo
	recorder *Recorder
	settler  *Settler
	log      *slog.Logger
}

func NewStripeService(cfg config.Stripe, currency string, client *http.Client, ordersRepo *orders.Repo, recorder *Recorder, settler *Settler, log *slog.Logger) *StripeService {
	return &StripeService{
		cfg:      cfg,
		currency: currency,
		client:   client,
		orders:   ordersRepo,
		recorder: recorder,
		settler:  settler,
		log:      log,
	}
}

func (s *StripeService) keyIssue() *apperr.AppError {
	key := s.cfg.SecretKey
	if key == "" {
		return apperr.ConfigErr("stripe_not_configured", "Missing Stripe secret key. Set STRIPE_SECRET_KEY.")
	}
	if !stripeKeyRe.MatchString(key) {
		return apperr.ConfigErr("stripe_invalid_key_format", "Stripe secret key must start with sk_test_ or sk_live_.")
	}
	if s.cfg.Mode == "LIVE" && strings.HasPrefix(key, "sk_test_") {
		return apperr.ConfigErr("stripe_live_mode_requires_live_key", "STRIPE_MODE is LIVE but STRIPE_SECRET_KEY is a test key.")
	}
	if s.cfg.Mode == "TEST" && strings.HasPrefix(key, "sk_live_") {
		return apperr.ConfigErr("stripe_test_mode_requires_test_key", "STRIPE_MODE is TEST but STRIPE_SECRET_KEY is a live key.")
	}
	return nil
}

func guardPayable(order *orders.Order) error {
	if len(order.Items) == 0 {
		return apperr.InvalidErr("order_has_no_line_items", "")
	}
	if !order.Payable() {
		return apperr.ConflictErr("order_not_payable", fmt.Sprintf("Order status is %s", order.Status))
	}
	return nil
}

// CreateCheckoutSession builds a hosted checkout session whose line items sum
// exactly to the frozen order total. Tax and flat shipping, which Stripe does
// not see as products, ride as synthetic lines so the charge can never drift
// from what checkout computed.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, order *orders.Order, redirectRoot string) (string, error) {
	if err := guardPayable(order); err != nil {
		return "", err
	}
	if paid, err := s.recorder.HasSuccess(ctx, order.ID); err != nil {
		return "", err
	} else if paid {
		return "", apperr.ConflictErr("order_already_paid", "")
	}
	if err := s.keyIssue(); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", fmt.Sprintf("%s/?payment=success&provider=stripe&order=%s&session_id={CHECKOUT_SESSION_ID}", redirectRoot, order.ID))
	form.Set("cancel_url", fmt.Sprintf("%s/checkout?payment=cancelled&provider=stripe&order=%s", redirectRoot, order.ID))
	form.Set("metadata[order_id]", order.ID)

	cur := strings.ToLower(s.currency)
	lineTotalCents := int64(0)
	idx := 0
	addLine := func(name string, unitCents int64, qty int) {
		prefix := fmt.Sprintf("line_items[%d]", idx)
		form.Set(prefix+"[price_data][currency]", cur)
		form.Set(prefix+"[price_data][product_data][name]", name)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(unitCents, 10))
		form.Set(prefix+"[quantity]", strconv.Itoa(qty))
		lineTotalCents += unitCents * int64(qty)
		idx++
	}
	for _, item := range order.Items {
		addLine(item.ProductName, item.UnitPrice.Mul(decimal.NewFromInt(100)).IntPart(), item.Quantity)
	}
	if order.ShippingCost.IsPositive() {
		addLine("Shipping", order.ShippingCost.Mul(decimal.NewFromInt(100)).IntPart(), 1)
	}

	expectedCents := order.Total.Mul(decimal.NewFromInt(100)).IntPart()
	switch {
	case expectedCents > lineTotalCents:
		addLine("Tax & Fees", expectedCents-lineTotalCents, 1)
	case expectedCents < lineTotalCents:
		s.log.WarnContext(ctx, "stripe session rejected",
			"order_id", order.ID, "expected_cents", expectedCents, "line_cents", lineTotalCents)
		return "", apperr.InvalidErr("invalid_order_total", "")
	}

	var session stripeObject
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return "", err
	}

	if _, err := s.recorder.RecordAttempt(ctx, Record{
		Order:         order,
		Provider:      ProviderStripe,
		ProviderTxnID: session.ID,
		Amount:        &order.Total,
		Raw:           map[string]any{"event": "checkout_session_created", "session_id": session.ID, "payment_status": session.PaymentStatus},
	}); err != nil {
		return "", err
	}
	s.log.InfoContext(ctx, "stripe session created", "order_id", order.ID, "session_id", session.ID)
	return session.URL, nil
}

// ConfirmSession is the redirect-side fallback for a delayed webhook. It
// re-reads the session from Stripe and only then settles.
func (s *StripeService) ConfirmSession(ctx context.Context, order *orders.Order, sessionID string) (ConfirmResult, error) {
	if !order.Payable() && !order.Paid() {
		return ConfirmResult{}, apperr.ConflictErr("order_not_payable", fmt.Sprintf("Order status is %s", order.Status))
	}
	if s.cfg.SecretKey == "" {
		return ConfirmResult{}, apperr.ConfigErr("stripe_not_configured", "")
	}

	var session stripeObject
	if err := s.call(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return ConfirmResult{}, err
	}

	if id := session.Metadata["order_id"]; id != "" && id != order.ID {
		s.log.WarnContext(ctx, "stripe session order mismatch", "order_id", order.ID, "metadata_order_id", id)
		return ConfirmResult{}, apperr.IntegrityErr("order_mismatch", "")
	}

	paymentStatus := strings.ToLower(session.PaymentStatus)
	if paymentStatus != "paid" && paymentStatus != "no_payment_required" {
		return ConfirmResult{Paid: false, OrderStatus: order.Status, PaymentStatus: paymentStatus}, nil
	}

	// A foreign settlement currency is rejected outright, even when the
	// numeric amount happens to line up.
	if session.Currency != "" && !CurrencyMatches(s.currency, session.Currency) {
		s.recorder.RecordAttempt(ctx, Record{
			Order:         order,
			Provider:      ProviderStripe,
			ProviderTxnID: sessionID,
			Currency:      session.Currency,
			Raw:           map[string]any{"event": "confirm_session_currency_mismatch", "session_id": sessionID},
		})
		return ConfirmResult{}, apperr.IntegrityErr("currency_mismatch", fmt.Sprintf("Expected %s, got %s.", s.currency, session.Currency))
	}

	var amount *decimal.Decimal
	if session.AmountTotal != nil {
		a := FromCents(*session.AmountTotal)
		amount = &a
		if !AmountMatches(order.Total, a) {
			s.log.WarnContext(ctx, "stripe confirm amount mismatch",
				"order_id", order.ID, "session_id", sessionID,
				"provided", a.StringFixed(2), "expected", order.Total.StringFixed(2))
			s.recorder.RecordAttempt(ctx, Record{
				Order:         order,
				Provider:      ProviderStripe,
				ProviderTxnID: sessionID,
				Amount:        amount,
				Raw:           map[string]any{"event": "confirm_session_amount_mismatch", "session_id": sessionID},
			})
			return ConfirmResult{}, apperr.IntegrityErr("amount_mismatch", "")
		}
	}

	txnID := session.PaymentIntent
	if txnID == "" {
		txnID = sessionID
	}
	txn, _, err := s.settler.Settle(ctx, Record{
		Order:         order,
		Provider:      ProviderStripe,
		ProviderTxnID: txnID,
		Amount:        amount,
		Currency:      session.Currency,
		PayerEmail:    session.payerEmail(),
		Raw:           map[string]any{"session_id": sessionID, "payment_status": paymentStatus},
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{
		Paid:          order.Paid(),
		OrderStatus:   order.Status,
		TransactionID: txn.ID,
		PayerEmail:    session.payerEmail(),
	}, nil
}

// Webhook handles checkout.session.completed and payment_intent.succeeded.
// Signal problems scoped to one event (unknown order, stale amount) are
// acknowledged so Stripe stops retrying; only signature and configuration
// problems surface as errors.
func (s *StripeService) Webhook(ctx context.Context, sigHeader string, body []byte) error {
	secret := s.cfg.WebhookSecret
	if s.cfg.Mode == "LIVE" && secret == "" {
		s.log.ErrorContext(ctx, "stripe webhook misconfigured", "reason", "missing_webhook_secret")
		return apperr.ConfigErr("stripe_webhook_not_configured", "")
	}
	if secret != "" {
		if !verifyStripeSignature(secret, sigHeader, body, time.Now()) {
			return apperr.InvalidErr("invalid_signature", "")
		}
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object stripeObject `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return apperr.InvalidErr("invalid_payload", "")
	}
	if event.Type != "checkout.session.completed" && event.Type != "payment_intent.succeeded" {
		return nil
	}
	obj := event.Data.Object

	orderID := obj.Metadata["order_id"]
	if orderID == "" {
		orderID = obj.ClientReferenceID
	}
	if orderID == "" {
		return nil
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.log.InfoContext(ctx, "stripe webhook unmatched order", "order_id", orderID, "type", event.Type)
		return nil
	}

	var (
		txnID       string
		amountCents *int64
		payerEmail  string
	)
	if event.Type == "checkout.session.completed" {
		txnID = obj.PaymentIntent
		if txnID == "" {
			txnID = obj.ID
		}
		amountCents = firstCents(obj.AmountTotal, obj.AmountSubtotal, obj.Amount)
		payerEmail = obj.payerEmail()
	} else {
		txnID = obj.ID
		if txnID == "" {
			txnID = obj.PaymentIntent
		}
		amountCents = firstCents(obj.AmountReceived, obj.Amount)
		payerEmail = obj.ReceiptEmail
	}

	if obj.Currency != "" && !CurrencyMatches(s.currency, obj.Currency) {
		s.log.WarnContext(ctx, "stripe webhook currency mismatch",
			"order_id", order.ID, "provider_txn_id", txnID,
			"provided", obj.Currency, "expected", s.currency)
		s.recorder.RecordAttempt(ctx, Record{
			Order:         &order,
			Provider:      ProviderStripe,
			ProviderTxnID: txnID,
			Currency:      obj.Currency,
			Raw:           map[string]any{"event": "webhook_currency_mismatch", "type": event.Type},
		})
		return nil
	}

	var amount *decimal.Decimal
	if amountCents != nil {
		a := FromCents(*amountCents)
		amount = &a
		if !AmountMatches(order.Total, a) {
			s.log.WarnContext(ctx, "stripe webhook amount mismatch",
				"order_id", order.ID, "provider_txn_id", txnID,
				"provided", a.StringFixed(2), "expected", order.Total.StringFixed(2))
			s.recorder.RecordAttempt(ctx, Record{
				Order:         &order,
				Provider:      ProviderStripe,
				ProviderTxnID: txnID,
				Amount:        amount,
				Raw:           map[string]any{"event": "webhook_amount_mismatch", "type": event.Type},
			})
			return nil
		}
	}

	_, _, err = s.settler.Settle(ctx, Record{
		Order:         &order,
		Provider:      ProviderStripe,
		ProviderTxnID: txnID,
		Amount:        amount,
		Currency:      obj.Currency,
		PayerEmail:    payerEmail,
		Raw:           map[string]any{"event": event.Type},
	})
	return err
}

func (s *StripeService) call(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, body)
	if err != nil {
		return apperr.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.UpstreamErr("stripe_unreachable", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.UpstreamErr("stripe_unreachable", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return apperr.ConfigErr("stripe_auth_error", "Stripe rejected the configured secret key.")
	}
	if resp.StatusCode >= 400 {
		return apperr.UpstreamErr("stripe_error", fmt.Errorf("stripe returned %d: %s", resp.StatusCode, truncate(string(raw), 500)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.UpstreamErr("stripe_error", fmt.Errorf("invalid stripe response: %w", err))
		}
	}
	return nil
}

// stripeObject covers the union of the checkout session and payment intent
// fields this service reads.
type stripeObject struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       *int64            `json:"amount_total"`
	AmountSubtotal    *int64            `json:"amount_subtotal"`
	AmountReceived    *int64            `json:"amount_received"`
	Amount            *int64            `json:"amount"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
	ReceiptEmail      string            `json:"receipt_email"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

func (o *stripeObject) payerEmail() string {
	if e := strings.TrimSpace(o.CustomerDetails.Email); e != "" {
		return e
	}
	return strings.TrimSpace(o.CustomerEmail)
}

func firstCents(vals ...*int64) *int64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

const stripeSignatureTolerance = 5 * time.Minute

// verifyStripeSignature checks the t=...,v1=... header scheme: HMAC-SHA256
// over "<timestamp>.<payload>" with a bounded clock skew.
func verifyStripeSignature(secret, header string, payload []byte, now time.Time) bool {
	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if d := now.Sub(time.Unix(unix, 0)); d > stripeSignatureTolerance || d < -stripeSignatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, c := range candidates {
		if hmac.Equal([]byte(expected), []byte(c)) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
