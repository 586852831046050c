package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"derukkies.com/app/internal/config"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/shared/apperr"
)

func newStripe(env *testEnv, cfg config.Stripe) *StripeService {
	return NewStripeService(cfg, "USD", http.DefaultClient, env.repo, env.recorder, env.settler, slog.Default())
}

func stripeSigHeader(secret string, at time.Time, body []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeKeyIssue(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		cfg  config.Stripe
		code string
	}{
		{"missing", config.Stripe{}, "stripe_not_configured"},
		{"bad format", config.Stripe{SecretKey: "pk_test_x"}, "stripe_invalid_key_format"},
		{"live mode test key", config.Stripe{SecretKey: "sk_test_x", Mode: "LIVE"}, "stripe_live_mode_requires_live_key"},
		{"test mode live key", config.Stripe{SecretKey: "sk_live_x", Mode: "TEST"}, "stripe_test_mode_requires_test_key"},
		{"ok", config.Stripe{SecretKey: "sk_test_x", Mode: "TEST"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newStripe(env, tt.cfg).keyIssue()
			if tt.code == "" {
				require.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			require.Equal(t, tt.code, err.Code)
		})
	}
}

func TestStripeCreateCheckoutSessionLinesSumToTotal(t *testing.T) {
	env := newTestEnv(t)
	order := env.seedOrder(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, order.ID, r.PostForm.Get("metadata[order_id]"))

		sum := int64(0)
		for i := 0; ; i++ {
			unit := r.PostForm.Get(fmt.Sprintf("line_items[%d][price_data][unit_amount]", i))
			if unit == "" {
				break
			}
			u, err := strconv.ParseInt(unit, 10, 64)
			require.NoError(t, err)
			q, err := strconv.Atoi(r.PostForm.Get(fmt.Sprintf("line_items[%d][quantity]", i)))
			require.NoError(t, err)
			sum += u * int64(q)
		}
		require.EqualValues(t, 2159, sum)

		json.NewEncoder(w).Encode(map[string]any{
			"id":  "cs_test_1",
			"url": "https://checkout.stripe.test/cs_test_1",
		})
	}))
	defer srv.Close()

	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST", BaseURL: srv.URL})
	url, err := svc.CreateCheckoutSession(context.Background(), &order, "https://shop.example.com")
	require.NoError(t, err)
	require.Equal(t, "https://checkout.stripe.test/cs_test_1", url)

	// The session was recorded as a pending attempt.
	var txn Transaction
	require.NoError(t, env.db.First(&txn, "order_id = ?", order.ID).Error)
	require.False(t, txn.Success)
	require.Equal(t, "cs_test_1", txn.Ref())
}

func TestStripeCreateCheckoutSessionGuards(t *testing.T) {
	env := newTestEnv(t)
	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST"})
	ctx := context.Background()

	empty := env.seedOrder(t, nil)
	empty.Items = nil
	_, err := svc.CreateCheckoutSession(ctx, &empty, "https://shop.example.com")
	require.Equal(t, "order_has_no_line_items", apperr.Code(err))

	paid := env.seedOrder(t, nil)
	paid.Status = orders.StatusPaid
	_, err = svc.CreateCheckoutSession(ctx, &paid, "https://shop.example.com")
	require.Equal(t, "order_not_payable", apperr.Code(err))

	captured := env.seedOrder(t, nil)
	_, _, err = env.recorder.RecordSuccess(ctx, Record{Order: &captured, Provider: ProviderStripe, ProviderTxnID: "pi_x"})
	require.NoError(t, err)
	_, err = svc.CreateCheckoutSession(ctx, &captured, "https://shop.example.com")
	require.Equal(t, "order_already_paid", apperr.Code(err))
}

func TestStripeConfirmSessionSettles(t *testing.T) {
	env := newTestEnv(t)
	order := env.seedOrder(t, nil)
	cents := int64(2159)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions/cs_test_1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_test_1",
			"payment_status": "paid",
			"payment_intent": "pi_123",
			"amount_total":   cents,
			"currency":       "usd",
			"metadata":       map[string]string{"order_id": order.ID},
			"customer_details": map[string]any{
				"email": "payer@example.com",
			},
		})
	}))
	defer srv.Close()

	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST", BaseURL: srv.URL})
	res, err := svc.ConfirmSession(context.Background(), &order, "cs_test_1")
	require.NoError(t, err)
	require.True(t, res.Paid)
	require.Equal(t, orders.StatusPaid, res.OrderStatus)
	require.Equal(t, "payer@example.com", res.PayerEmail)
	require.Equal(t, orders.StatusPaid, env.orderStatus(t, order.ID))

	var txn Transaction
	require.NoError(t, env.db.First(&txn, "order_id = ? AND success = ?", order.ID, true).Error)
	require.Equal(t, "pi_123", txn.Ref())
}

func TestStripeConfirmSessionNotPaidYet(t *testing.T) {
	env := newTestEnv(t)
	order := env.seedOrder(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_test_1",
			"payment_status": "unpaid",
			"metadata":       map[string]string{"order_id": order.ID},
		})
	}))
	defer srv.Close()

	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST", BaseURL: srv.URL})
	res, err := svc.ConfirmSession(context.Background(), &order, "cs_test_1")
	require.NoError(t, err)
	require.False(t, res.Paid)
	require.Equal(t, "unpaid", res.PaymentStatus)
	require.Equal(t, orders.StatusPending, env.orderStatus(t, order.ID))
}

func TestStripeConfirmSessionOrderMismatch(t *testing.T) {
	env := newTestEnv(t)
	order := env.seedOrder(t, nil)
	other := env.seedOrder(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_test_1",
			"payment_status": "paid",
			"metadata":       map[string]string{"order_id": other.ID},
		})
	}))
	defer srv.Close()

	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST", BaseURL: srv.URL})
	_, err := svc.ConfirmSession(context.Background(), &order, "cs_test_1")
	require.Equal(t, "order_mismatch", apperr.Code(err))
}

func TestStripeConfirmSessionAmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	order := env.seedOrder(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_test_1",
			"payment_status": "paid",
			"amount_total":   999,
			"metadata":       map[string]string{"order_id": order.ID},
		})
	}))
	defer srv.Close()

	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST", BaseURL: srv.URL})
	_, err := svc.ConfirmSession(context.Background(), &order, "cs_test_1")
	require.Equal(t, "amount_mismatch", apperr.Code(err))
	require.Equal(t, orders.StatusPending, env.orderStatus(t, order.ID))
}

func TestStripeConfirmSessionCurrencyMismatch(t *testing.T) {
	env := newTestEnv(t)
	order := env.seedOrder(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_test_1",
			"payment_status": "paid",
			"payment_intent": "pi_123",
			"amount_total":   2159,
			"currency":       "eur",
			"metadata":       map[string]string{"order_id": order.ID},
		})
	}))
	defer srv.Close()

	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST", BaseURL: srv.URL})
	_, err := svc.ConfirmSession(context.Background(), &order, "cs_test_1")
	require.Equal(t, "currency_mismatch", apperr.Code(err))
	require.Equal(t, orders.StatusPending, env.orderStatus(t, order.ID))

	var txn Transaction
	require.NoError(t, env.db.First(&txn, "order_id = ?", order.ID).Error)
	require.False(t, txn.Success)
}

func TestVerifyStripeSignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"checkout.session.completed"}`)
	now := time.Now()

	require.True(t, verifyStripeSignature(secret, stripeSigHeader(secret, now, body), body, now))
	require.False(t, verifyStripeSignature(secret, stripeSigHeader("other", now, body), body, now))
	require.False(t, verifyStripeSignature(secret, stripeSigHeader(secret, now.Add(-6*time.Minute), body), body, now))
	require.False(t, verifyStripeSignature(secret, stripeSigHeader(secret, now.Add(6*time.Minute), body), body, now))
	require.False(t, verifyStripeSignature(secret, "", body, now))
	require.False(t, verifyStripeSignature(secret, "t=abc,v1=def", body, now))
	require.False(t, verifyStripeSignature(secret, stripeSigHeader(secret, now, body), []byte("tampered"), now))
}

func stripeWebhookBody(t *testing.T, orderID string, cents int64, currency string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_1",
				"payment_status": "paid",
				"payment_intent": "pi_wh_1",
				"amount_total":   cents,
				"currency":       currency,
				"metadata":       map[string]string{"order_id": orderID},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestStripeWebhookSettles(t *testing.T) {
	env := newTestEnv(t)
	order := env.seedOrder(t, nil)
	secret := "whsec_test"
	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST", WebhookSecret: secret})

	body := stripeWebhookBody(t, order.ID, 2159, "usd")
	err := svc.Webhook(context.Background(), stripeSigHeader(secret, time.Now(), body), body)
	require.NoError(t, err)
	require.Equal(t, orders.StatusPaid, env.orderStatus(t, order.ID))

	// Redelivery of the same event is acknowledged without side effects.
	err = svc.Webhook(context.Background(), stripeSigHeader(secret, time.Now(), body), body)
	require.NoError(t, err)
	require.EqualValues(t, 1, env.txnCount(t, order.ID))
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	order := env.seedOrder(t, nil)
	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST", WebhookSecret: "whsec_test"})

	body := stripeWebhookBody(t, order.ID, 2159, "usd")
	err := svc.Webhook(context.Background(), stripeSigHeader("wrong", time.Now(), body), body)
	require.Equal(t, "invalid_signature", apperr.Code(err))
	require.Equal(t, orders.StatusPending, env.orderStatus(t, order.ID))
}

func TestStripeWebhookLiveRequiresSecret(t *testing.T) {
	env := newTestEnv(t)
	svc := newStripe(env, config.Stripe{SecretKey: "sk_live_x", Mode: "LIVE"})
	err := svc.Webhook(context.Background(), "", []byte(`{}`))
	require.Equal(t, "stripe_webhook_not_configured", apperr.Code(err))
}

func TestStripeWebhookAcksEventScopedProblems(t *testing.T) {
	env := newTestEnv(t)
	order := env.seedOrder(t, nil)
	secret := "whsec_test"
	svc := newStripe(env, config.Stripe{SecretKey: "sk_test_x", Mode: "TEST", WebhookSecret: secret})
	ctx := context.Background()

	// Unknown order: acknowledged, nothing recorded.
	body := stripeWebhookBody(t, "00000000-0000-0000-0000-000000000000", 2159, "usd")
	require.NoError(t, svc.Webhook(ctx, stripeSigHeader(secret, time.Now(), body), body))

	// Amount mismatch: acknowledged, audit row recorded, order untouched.
	body = stripeWebhookBody(t, order.ID, 999, "usd")
	require.NoError(t, svc.Webhook(ctx, stripeSigHeader(secret, time.Now(), body), body))
	require.Equal(t, orders.StatusPending, env.orderStatus(t, order.ID))
	var txn Transaction
	require.NoError(t, env.db.First(&txn, "order_id = ?", order.ID).Error)
	require.False(t, txn.Success)

	// Currency mismatch: a right-amount event in the wrong settlement
	// currency never finalizes the order.
	foreign := env.seedOrder(t, nil)
	body = stripeWebhookBody(t, foreign.ID, 2159, "eur")
	require.NoError(t, svc.Webhook(ctx, stripeSigHeader(secret, time.Now(), body), body))
	require.Equal(t, orders.StatusPending, env.orderStatus(t, foreign.ID))
	var attempt Transaction
	require.NoError(t, env.db.First(&attempt, "order_id = ?", foreign.ID).Error)
	require.False(t, attempt.Success)
	require.EqualValues(t, 1, env.txnCount(t, foreign.ID))

	// Irrelevant event types are ignored.
	require.NoError(t, svc.Webhook(ctx, stripeSigHeader(secret, time.Now(), []byte(`{"type":"invoice.created"}`)), []byte(`{"type":"invoice.created"}`)))
}
