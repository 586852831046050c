package payments

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/shared/apperr"
)

// VerifyService backs the operator escape hatch for marking an order paid
// after out-of-band verification. It is gated by a shared token compared in
// constant time, and it reuses the same settle pipeline as the providers, so
// replaying it can never double-apply side effects.
type VerifyService struct {
	token    string
	recorder *Recorder
	settler  *Settler
	log      *slog.Logger
}

func NewVerifyService(token string, recorder *Recorder, settler *Settler, log *slog.Logger) *VerifyService {
	return &VerifyService{token: token, recorder: recorder, settler: settler, log: log}
}

func (s *VerifyService) CheckToken(provided string) error {
	if s.token == "" {
		s.log.Error("manual verify disabled", "reason", "missing_verify_token")
		return apperr.ConfigErr("payment_verify_disabled", "PAYMENT_VERIFY_TOKEN is not configured.")
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
		return apperr.ForbiddenErr("verification_failed", "")
	}
	return nil
}

// MarkPaid records a success for the given reference and finalizes the
// order. A blank amount skips amount verification; a present one must match.
func (s *VerifyService) MarkPaid(ctx context.Context, order *orders.Order, provider, providerTxnID, amountRaw string) (Transaction, error) {
	if provider == "" {
		return Transaction{}, apperr.InvalidErr("provider_required", "")
	}
	if !order.Payable() && !order.Paid() {
		return Transaction{}, apperr.ConflictErr("order_not_payable", fmt.Sprintf("Order status is %s", order.Status))
	}

	var amount *decimal.Decimal
	if amountRaw != "" {
		a, ok := ParseAmount(amountRaw)
		if !ok || !AmountMatches(order.Total, a) {
			s.log.WarnContext(ctx, "manual verify amount mismatch",
				"order_id", order.ID, "provider", provider,
				"provided", amountRaw, "expected", order.Total.StringFixed(2))
			s.recorder.RecordAttempt(ctx, Record{
				Order:         order,
				Provider:      provider,
				ProviderTxnID: providerTxnID,
				Raw:           map[string]any{"event": "verify_amount_mismatch"},
			})
			return Transaction{}, apperr.IntegrityErr("amount_mismatch", "")
		}
		amount = &a
	}

	txn, becamePaid, err := s.settler.Settle(ctx, Record{
		Order:         order,
		Provider:      provider,
		ProviderTxnID: providerTxnID,
		Amount:        amount,
		Raw:           map[string]any{"event": "manual_verify"},
	})
	if err != nil {
		return Transaction{}, err
	}
	if becamePaid {
		s.log.InfoContext(ctx, "manual verify marked paid",
			"order_id", order.ID, "provider", provider, "provider_txn_id", providerTxnID)
	}
	return txn, nil
}
