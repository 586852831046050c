package payments

import (
	"bytes"
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
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"derukkies.com/app/internal/config"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/shared/apperr"
)

var (
	flwKeyRe   = regexp.MustCompile(`(?i)^FLWSECK[-_]`)
	flwTxRefRe = regexp.MustCompile(`^order-([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)
)

type FlutterwaveService struct {
	cfg      config.Flutterwave
	currency string
	client   *http.Client
	orders   *orders.Repo
	recorder *Recorder
	settler  *Settler
	log      *slog.Logger
}

func NewFlutterwaveService(cfg config.Flutterwave, currency string, client *http.Client, ordersRepo *orders.Repo, recorder *Recorder, settler *Settler, log *slog.Logger) *FlutterwaveService {
	return &FlutterwaveService{
		cfg:      cfg,
		currency: currency,
		client:   client,
		orders:   ordersRepo,
		recorder: recorder,
		settler:  settler,
		log:      log,
	}
}

func (s *FlutterwaveService) keyIssue() *apperr.AppError {
	key := s.cfg.SecretKey
	if key == "" {
		return apperr.ConfigErr("flutterwave_not_configured", "Missing Flutterwave secret key. Set FLUTTERWAVE_SECRET_KEY.")
	}
	if !flwKeyRe.MatchString(key) {
		return apperr.ConfigErr("flutterwave_invalid_key_format", "Flutterwave secret key must start with FLWSECK- or FLWSECK_.")
	}
	upper := strings.ToUpper(key)
	if s.cfg.Mode == "LIVE" && strings.Contains(upper, "TEST") {
		return apperr.ConfigErr("flutterwave_live_mode_requires_live_key", "FLUTTERWAVE_MODE is LIVE but the provided key appears to be a TEST key.")
	}
	if s.cfg.Mode == "TEST" && strings.Contains(upper, "LIVE") {
		return apperr.ConfigErr("flutterwave_test_mode_requires_test_key", "FLUTTERWAVE_MODE is TEST but the provided key appears to be a LIVE key.")
	}
	return nil
}

// CreatePayment requests a hosted payment link. The tx_ref embeds the order
// id so webhook and confirm paths can resolve the order without metadata.
func (s *FlutterwaveService) CreatePayment(ctx context.Context, order *orders.Order, redirectURL, customerEmail, customerName string) (string, error) {
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

	if customerEmail == "" {
		customerEmail = "guest@example.com"
	}
	if customerName == "" {
		customerName = "Guest"
	}
	txRef := fmt.Sprintf("order-%s-%s", order.ID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	payload := map[string]any{
		"tx_ref":       txRef,
		"amount":       order.Total.StringFixed(2),
		"currency":     s.currency,
		"redirect_url": redirectURL,
		"customer": map[string]any{
			"email": customerEmail,
			"name":  customerName,
		},
		"customizations": map[string]any{
			"title":       "De-Rukkies Checkout",
			"description": fmt.Sprintf("Payment for order %s", order.OrderNumber),
		},
		"meta": map[string]any{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
		},
	}

	var resp flwEnvelope
	if err := s.call(ctx, http.MethodPost, "/payments", payload, &resp); err != nil {
		return "", err
	}
	if resp.Data.Link == "" {
		return "", apperr.UpstreamErr("flutterwave_error", fmt.Errorf("payment link missing from response"))
	}

	if _, err := s.recorder.RecordAttempt(ctx, Record{
		Order:         order,
		Provider:      ProviderFlutterwave,
		ProviderTxnID: txRef,
		Amount:        &order.Total,
		Raw:           map[string]any{"event": "payment_link_created", "tx_ref": txRef, "link": resp.Data.Link},
	}); err != nil {
		return "", err
	}
	s.log.InfoContext(ctx, "flutterwave payment link created", "order_id", order.ID, "tx_ref", txRef)
	return resp.Data.Link, nil
}

// Confirm re-verifies a transaction server-side after the redirect. The
// redirect query parameters alone are never trusted.
func (s *FlutterwaveService) Confirm(ctx context.Context, order *orders.Order, transactionID, txRef, redirectStatus string) (ConfirmResult, error) {
	if order.Paid() {
		return ConfirmResult{Paid: true, OrderStatus: order.Status}, nil
	}
	if !order.Payable() {
		return ConfirmResult{}, apperr.ConflictErr("order_not_payable", fmt.Sprintf("Order status is %s", order.Status))
	}
	redirectStatus = strings.ToLower(strings.TrimSpace(redirectStatus))
	if redirectStatus != "" && redirectStatus != "successful" && redirectStatus != "completed" {
		return ConfirmResult{Paid: false, OrderStatus: order.Status, PaymentStatus: redirectStatus}, nil
	}
	if s.cfg.SecretKey == "" {
		return ConfirmResult{}, apperr.ConfigErr("flutterwave_not_configured", "")
	}

	var path string
	switch {
	case transactionID != "":
		path = "/transactions/" + url.PathEscape(transactionID) + "/verify"
	case txRef != "":
		path = "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(txRef)
	default:
		return ConfirmResult{}, apperr.InvalidErr("transaction_reference_required", "")
	}

	var resp flwEnvelope
	if err := s.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return ConfirmResult{}, err
	}
	data := resp.Data

	paymentStatus := strings.ToLower(strings.TrimSpace(data.Status))
	if paymentStatus != "successful" && paymentStatus != "completed" {
		return ConfirmResult{Paid: false, OrderStatus: order.Status, PaymentStatus: paymentStatus}, nil
	}

	effectiveTxRef := strings.TrimSpace(data.TxRef)
	if effectiveTxRef == "" {
		effectiveTxRef = txRef
	}
	if id := data.metaOrderID(); id != "" && id != order.ID {
		s.log.WarnContext(ctx, "flutterwave confirm order mismatch", "order_id", order.ID, "meta_order_id", id)
		return ConfirmResult{}, apperr.IntegrityErr("order_mismatch", "")
	}
	if m := flwTxRefRe.FindStringSubmatch(effectiveTxRef); m != nil && m[1] != order.ID {
		s.log.WarnContext(ctx, "flutterwave confirm tx_ref mismatch", "order_id", order.ID, "tx_ref", effectiveTxRef)
		return ConfirmResult{}, apperr.IntegrityErr("order_mismatch", "")
	}

	providerTxnID := data.idString()
	if providerTxnID == "" {
		providerTxnID = transactionID
	}
	if providerTxnID == "" {
		providerTxnID = effectiveTxRef
	}

	if data.Currency != "" && !CurrencyMatches(s.currency, data.Currency) {
		s.recorder.RecordAttempt(ctx, Record{
			Order:         order,
			Provider:      ProviderFlutterwave,
			ProviderTxnID: providerTxnID,
			Currency:      data.Currency,
			Raw:           map[string]any{"event": "confirm_currency_mismatch", "tx_ref": effectiveTxRef},
		})
		return ConfirmResult{}, apperr.IntegrityErr("currency_mismatch", fmt.Sprintf("Expected %s, got %s.", s.currency, data.Currency))
	}

	var amount *decimal.Decimal
	if a, ok := ParseAmount(data.Amount.String()); ok {
		amount = &a
		if !AmountMatches(order.Total, a) {
			s.log.WarnContext(ctx, "flutterwave confirm amount mismatch",
				"order_id", order.ID, "provided", a.StringFixed(2), "expected", order.Total.StringFixed(2))
			s.recorder.RecordAttempt(ctx, Record{
				Order:         order,
				Provider:      ProviderFlutterwave,
				ProviderTxnID: providerTxnID,
				Amount:        amount,
				Raw:           map[string]any{"event": "confirm_amount_mismatch", "tx_ref": effectiveTxRef},
			})
			return ConfirmResult{}, apperr.IntegrityErr("amount_mismatch", "")
		}
	}

	txn, _, err := s.settler.Settle(ctx, Record{
		Order:         order,
		Provider:      ProviderFlutterwave,
		ProviderTxnID: providerTxnID,
		Amount:        amount,
		Currency:      data.Currency,
		Raw:           map[string]any{"event": "confirm_redirect", "transaction_id": transactionID, "tx_ref": effectiveTxRef},
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Paid: order.Paid(), OrderStatus: order.Status, TransactionID: txn.ID}, nil
}

// Webhook accepts either the static verif-hash header or an HMAC-SHA256 of
// the payload with the same secret.
func (s *FlutterwaveService) Webhook(ctx context.Context, verifHash string, body []byte) error {
	secret := strings.TrimSpace(s.cfg.WebhookSecret)
	if s.cfg.Mode == "LIVE" && secret == "" {
		s.log.ErrorContext(ctx, "flutterwave webhook misconfigured", "reason", "missing_webhook_secret")
		return apperr.ConfigErr("flutterwave_webhook_not_configured", "")
	}
	if secret != "" {
		sig := strings.TrimSpace(verifHash)
		staticValid := sig != "" && hmac.Equal([]byte(sig), []byte(secret))
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		computed := hex.EncodeToString(mac.Sum(nil))
		hmacValid := sig != "" && hmac.Equal([]byte(sig), []byte(computed))
		if !staticValid && !hmacValid {
			return apperr.InvalidErr("invalid_signature", "")
		}
	}

	var event flwEnvelope
	if err := json.Unmarshal(body, &event); err != nil {
		return apperr.InvalidErr("invalid_payload", "")
	}
	data := event.Data

	status := strings.ToLower(strings.TrimSpace(data.Status))
	if status != "successful" && status != "completed" {
		return nil
	}

	orderID := ""
	if m := flwTxRefRe.FindStringSubmatch(strings.TrimSpace(data.TxRef)); m != nil {
		orderID = m[1]
	} else {
		orderID = data.metaOrderID()
	}
	if orderID == "" {
		return nil
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.log.InfoContext(ctx, "flutterwave webhook unmatched order", "order_id", orderID)
		return nil
	}

	providerTxnID := data.idString()
	if providerTxnID == "" {
		providerTxnID = data.TxRef
	}

	if data.Currency != "" && !CurrencyMatches(s.currency, data.Currency) {
		s.log.WarnContext(ctx, "flutterwave webhook currency mismatch",
			"order_id", order.ID, "provider_txn_id", providerTxnID,
			"provided", data.Currency, "expected", s.currency)
		s.recorder.RecordAttempt(ctx, Record{
			Order:         &order,
			Provider:      ProviderFlutterwave,
			ProviderTxnID: providerTxnID,
			Currency:      data.Currency,
			Raw:           map[string]any{"event": "webhook_currency_mismatch"},
		})
		return nil
	}

	var amount *decimal.Decimal
	if a, ok := ParseAmount(data.Amount.String()); ok {
		amount = &a
		if !AmountMatches(order.Total, a) {
			s.log.WarnContext(ctx, "flutterwave webhook amount mismatch",
				"order_id", order.ID, "provider_txn_id", providerTxnID,
				"provided", a.StringFixed(2), "expected", order.Total.StringFixed(2))
			s.recorder.RecordAttempt(ctx, Record{
				Order:         &order,
				Provider:      ProviderFlutterwave,
				ProviderTxnID: providerTxnID,
				Amount:        amount,
				Raw:           map[string]any{"event": "webhook_amount_mismatch"},
			})
			return nil
		}
	}

	_, _, err = s.settler.Settle(ctx, Record{
		Order:         &order,
		Provider:      ProviderFlutterwave,
		ProviderTxnID: providerTxnID,
		Amount:        amount,
		Currency:      data.Currency,
		Raw:           map[string]any{"event": "webhook"},
	})
	return err
}

func (s *FlutterwaveService) call(ctx context.Context, method, path string, payload any, out *flwEnvelope) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return apperr.Wrap(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, body)
	if err != nil {
		return apperr.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SecretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.UpstreamErr("flutterwave_unreachable", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.UpstreamErr("flutterwave_unreachable", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apperr.UpstreamErr("flutterwave_error", fmt.Errorf("flutterwave returned %d: %s", resp.StatusCode, truncate(string(raw), 500)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.UpstreamErr("flutterwave_error", fmt.Errorf("invalid flutterwave response: %w", err))
	}
	return nil
}

type flwEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    flwTx  `json:"data"`
}

type flwTx struct {
	ID       json.Number    `json:"id"`
	TxRef    string         `json:"tx_ref"`
	Link     string         `json:"link"`
	Status   string         `json:"status"`
	Amount   json.Number    `json:"amount"`
	Currency string         `json:"currency"`
	Meta     map[string]any `json:"meta"`
}

func (d *flwTx) idString() string {
	return strings.TrimSpace(d.ID.String())
}

func (d *flwTx) metaOrderID() string {
	if d.Meta == nil {
		return ""
	}
	if v, ok := d.Meta["order_id"]; ok {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}
