package notify

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"derukkies.com/app/internal/config"
	"derukkies.com/app/internal/mailer"
	"derukkies.com/app/internal/modules/orders"
)

func testOrder() *orders.Order {
	return &orders.Order{
		ID:          "o-1",
		OrderNumber: "A1B2C3D4E5F6",
		GuestEmail:  "guest@example.com",
		Currency:    "USD",
		Total:       decimal.RequireFromString("21.59"),
	}
}

func waitForMail(t *testing.T, m *mailer.Mock, n int) []mailer.Email {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(m.Messages()) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return m.Messages()
}

func TestOrderCreatedEmailsContact(t *testing.T) {
	mock := &mailer.Mock{}
	svc := NewService(mock, config.SMTP{From: "shop@derukkies.test", FromName: "De-Rukkies"}, slog.Default())

	svc.OrderCreated(testOrder(), "buyer@example.com")

	sent := waitForMail(t, mock, 1)
	require.Equal(t, []string{"buyer@example.com"}, sent[0].To)
	require.Contains(t, sent[0].Subject, "A1B2C3D4E5F6")
	require.Contains(t, sent[0].TextBody, "USD 21.59")
}

func TestOrderCreatedFallsBackToGuestEmail(t *testing.T) {
	mock := &mailer.Mock{}
	svc := NewService(mock, config.SMTP{From: "shop@derukkies.test"}, slog.Default())

	svc.OrderCreated(testOrder(), "")

	sent := waitForMail(t, mock, 1)
	require.Equal(t, []string{"guest@example.com"}, sent[0].To)
}

func TestOrderCreatedNoRecipientIsSilent(t *testing.T) {
	mock := &mailer.Mock{}
	svc := NewService(mock, config.SMTP{From: "shop@derukkies.test"}, slog.Default())

	o := testOrder()
	o.GuestEmail = ""
	svc.OrderCreated(o, "")

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, mock.Messages())
}

func TestOrderPaidNotifiesCustomerAndOps(t *testing.T) {
	mock := &mailer.Mock{}
	svc := NewService(mock, config.SMTP{From: "shop@derukkies.test", OpsEmail: "ops@derukkies.test"}, slog.Default())

	svc.OrderPaid(testOrder(), "stripe")

	sent := waitForMail(t, mock, 2)
	recipients := map[string]bool{}
	for _, e := range sent {
		for _, to := range e.To {
			recipients[to] = true
		}
	}
	require.True(t, recipients["guest@example.com"])
	require.True(t, recipients["ops@derukkies.test"])
}
