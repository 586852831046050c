package payments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/shared/dbx"
)

// Record carries everything a confirmation channel learned about a payment.
// Amount is nil when the channel did not report one; the order total is used
// as the audit value in that case.
type Record struct {
	Order         *orders.Order
	Provider      string
	ProviderTxnID string
	PayPalOrderID string
	Amount        *decimal.Decimal
	Currency      string
	PayerEmail    string
	Status        string
	Raw           map[string]any
}

func (r *Record) normalize(defaultStatus string) {
	r.ProviderTxnID = strings.TrimSpace(r.ProviderTxnID)
	r.PayPalOrderID = strings.TrimSpace(r.PayPalOrderID)
	if r.Provider == ProviderPayPal && r.PayPalOrderID == "" {
		r.PayPalOrderID = r.ProviderTxnID
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = "USD"
	}
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	if r.Status == "" {
		r.Status = defaultStatus
	}
	r.PayerEmail = strings.TrimSpace(r.PayerEmail)
}

func (r *Record) amountOrTotal() decimal.Decimal {
	if r.Amount != nil {
		return r.Amount.Round(2)
	}
	return r.Order.Total
}

func (r *Record) rawJSON() datatypes.JSON {
	if r.Raw == nil {
		return datatypes.JSON([]byte("{}"))
	}
	b, err := json.Marshal(r.Raw)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}

// Recorder is the only writer of payment_transactions.
type Recorder struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewRecorder(db *gorm.DB, log *slog.Logger) *Recorder {
	return &Recorder{db: db, log: log}
}

// HasSuccess reports whether any capture already succeeded for the order.
// Create-payment endpoints refuse to start a second charge when it has.
func (r *Recorder) HasSuccess(ctx context.Context, orderID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Transaction{}).
		Where("order_id = ? AND success = ?", orderID, true).
		Count(&n).Error
	return n > 0, err
}

// RecordAttempt upserts a non-success audit row, keyed by provider reference
// when one exists. It never flips success on an existing capture.
func (r *Recorder) RecordAttempt(ctx context.Context, rec Record) (Transaction, error) {
	rec.normalize("pending")

	var out Transaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.ProviderTxnID != "" {
			var existing Transaction
			err := tx.Where("provider = ? AND provider_txn_id = ?", rec.Provider, rec.ProviderTxnID).
				First(&existing).Error
			if err == nil {
				updates := map[string]any{
					"raw_response": rec.rawJSON(),
					"updated_at":   time.Now(),
				}
				if rec.Amount != nil {
					updates["amount"] = rec.Amount.Round(2)
				}
				if !existing.Success {
					updates["status"] = rec.Status
					updates["currency"] = rec.Currency
					if rec.PayPalOrderID != "" {
						updates["pay_pal_order_id"] = rec.PayPalOrderID
					}
					if rec.PayerEmail != "" {
						updates["payer_email"] = rec.PayerEmail
					}
				}
				if err := tx.Model(&Transaction{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
					return err
				}
				out = existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		out = rec.newRow(false)
		if err := tx.Create(&out).Error; err != nil {
			if dbx.IsDuplicate(err) {
				return tx.Where("provider = ? AND provider_txn_id = ?", rec.Provider, rec.ProviderTxnID).
					First(&out).Error
			}
			return err
		}
		return nil
	})
	return out, err
}

// RecordSuccess upserts the success row for a capture and reports whether the
// caller should run finalization. A replay against an already-successful row
// still asks for finalization when the order has somehow not reached a paid
// status, so a crash between recording and finalizing heals on the next
// delivery of the same signal.
func (r *Recorder) RecordSuccess(ctx context.Context, rec Record) (Transaction, bool, error) {
	rec.normalize("completed")

	var (
		out      Transaction
		finalize bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.ProviderTxnID != "" {
			var existing Transaction
			err := tx.Where("provider = ? AND provider_txn_id = ?", rec.Provider, rec.ProviderTxnID).
				First(&existing).Error
			if err == nil {
				if existing.Success {
					out = existing
					finalize = !rec.Order.Paid()
					if !finalize {
						r.log.InfoContext(ctx, "duplicate capture ignored",
							"order_id", rec.Order.ID, "provider", rec.Provider,
							"provider_txn_id", rec.ProviderTxnID)
					}
					return nil
				}
				updates := map[string]any{
					"success":      true,
					"status":       rec.Status,
					"currency":     rec.Currency,
					"raw_response": rec.rawJSON(),
					"updated_at":   time.Now(),
				}
				if rec.Amount != nil {
					updates["amount"] = rec.Amount.Round(2)
				}
				if rec.PayPalOrderID != "" {
					updates["pay_pal_order_id"] = rec.PayPalOrderID
				}
				if rec.PayerEmail != "" {
					updates["payer_email"] = rec.PayerEmail
				}
				if rec.Order.UserID != nil {
					updates["user_id"] = *rec.Order.UserID
				}
				if err := tx.Model(&Transaction{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
					return err
				}
				existing.Success = true
				existing.Status = rec.Status
				out = existing
				finalize = true
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		out = rec.newRow(true)
		if err := tx.Create(&out).Error; err != nil {
			if dbx.IsDuplicate(err) {
				// Lost the race against a concurrent channel recording the
				// same reference. Treat it as a replay.
				var existing Transaction
				if ferr := tx.Where("provider = ? AND provider_txn_id = ?", rec.Provider, rec.ProviderTxnID).
					First(&existing).Error; ferr != nil {
					return ferr
				}
				out = existing
				finalize = !rec.Order.Paid()
				return nil
			}
			return err
		}
		finalize = true
		return nil
	})
	return out, finalize, err
}

func (rec *Record) newRow(success bool) Transaction {
	var txnID *string
	if rec.ProviderTxnID != "" {
		id := rec.ProviderTxnID
		txnID = &id
	}
	var userID *string
	if rec.Order.UserID != nil {
		uid := *rec.Order.UserID
		userID = &uid
	}
	return Transaction{
		ID:            uuid.NewString(),
		OrderID:       rec.Order.ID,
		UserID:        userID,
		Provider:      rec.Provider,
		ProviderTxnID: txnID,
		PayPalOrderID: rec.PayPalOrderID,
		Amount:        rec.amountOrTotal(),
		Currency:      rec.Currency,
		PayerEmail:    rec.PayerEmail,
		Status:        rec.Status,
		Success:       success,
		RawResponse:   rec.rawJSON(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}
