package payments

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	ProviderStripe      = "stripe"
	ProviderFlutterwave = "flutterwave"
	ProviderPayPal      = "paypal"
	ProviderManual      = "manual"
)

// Transaction is the audit row for every payment attempt and capture. The
// (provider, provider_txn_id) pair is unique so a replayed success signal
// lands on the existing row instead of creating a second capture.
//
// ProviderTxnID is a pointer: attempts that have no provider reference yet
// store NULL, which keeps them out of the unique index.
type Transaction struct {
	ID      string  `gorm:"type:char(36);primaryKey"`
	OrderID string  `gorm:"type:char(36);not null;index:ix_payment_txns_order"`
	UserID  *string `gorm:"type:char(36)"`

	Provider      string  `gorm:"type:varchar(20);not null;uniqueIndex:ux_payment_txns_provider_ref,priority:1"`
	ProviderTxnID *string `gorm:"type:varchar(191);uniqueIndex:ux_payment_txns_provider_ref,priority:2"`
	PayPalOrderID string  `gorm:"type:varchar(191);index:ix_payment_txns_paypal_order"`

	Amount     decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Currency   string          `gorm:"type:char(3);not null;default:USD"`
	PayerEmail string          `gorm:"type:varchar(255)"`

	Status  string `gorm:"type:varchar(20);not null;default:pending"`
	Success bool   `gorm:"not null;default:false"`

	RawResponse datatypes.JSON `gorm:"type:json"`

	CreatedAt time.Time `gorm:"type:datetime;not null;index:ix_payment_txns_created"`
	UpdatedAt time.Time `gorm:"type:datetime;not null"`
}

func (Transaction) TableName() string { return "payment_transactions" }

func (t *Transaction) Ref() string {
	if t.ProviderTxnID == nil {
		return ""
	}
	return *t.ProviderTxnID
}
