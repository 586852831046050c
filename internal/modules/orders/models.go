package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"derukkies.com/app/internal/modules/products"
	"derukkies.com/app/internal/modules/shipping"
)

const (
	StatusPending    = "pending"
	StatusPaid       = "paid"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
)

// PaidStatuses are the states an order reaches only after a successful
// capture. A success signal arriving while the order is in one of these is a
// duplicate and must not re-apply side effects.
var PaidStatuses = map[string]bool{
	StatusPaid:       true,
	StatusProcessing: true,
	StatusShipped:    true,
	StatusDelivered:  true,
}

type Address struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	UserID     *string   `gorm:"type:char(36);index:ix_addresses_user"`
	FullName   string    `gorm:"type:varchar(255);not null"`
	Phone      string    `gorm:"type:varchar(32)"`
	Line1      string    `gorm:"type:varchar(255);not null"`
	Line2      string    `gorm:"type:varchar(255)"`
	City       string    `gorm:"type:varchar(100);not null"`
	State      string    `gorm:"type:varchar(100)"`
	PostalCode string    `gorm:"type:varchar(20);not null"`
	Country    string    `gorm:"type:varchar(64);not null"`
	CreatedAt  time.Time `gorm:"type:datetime;not null"`
	UpdatedAt  time.Time `gorm:"type:datetime;not null"`
}

func (Address) TableName() string { return "addresses" }

type Order struct {
	ID          string  `gorm:"type:char(36);primaryKey"`
	OrderNumber string  `gorm:"type:varchar(12);not null;uniqueIndex:ux_orders_number"`
	UserID      *string `gorm:"type:char(36);index:ix_orders_user"`
	GuestEmail  string  `gorm:"type:varchar(255)"`
	Status      string  `gorm:"type:varchar(20);not null;default:pending;index:ix_orders_status"`

	Currency     string          `gorm:"type:char(3);not null"`
	Subtotal     decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	ShippingCost decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	TaxAmount    decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Total        decimal.Decimal `gorm:"type:decimal(10,2);not null"`

	ShippingMethodID  *string `gorm:"type:char(36)"`
	ShippingAddressID *string `gorm:"type:char(36)"`
	BillingAddressID  *string `gorm:"type:char(36)"`

	CreatedAt time.Time `gorm:"type:datetime;not null;index:ix_orders_created"`
	UpdatedAt time.Time `gorm:"type:datetime;not null"`

	Items           []OrderItem      `gorm:"foreignKey:OrderID"`
	ShippingMethod  *shipping.Method `gorm:"foreignKey:ShippingMethodID"`
	ShippingAddress *Address         `gorm:"foreignKey:ShippingAddressID"`
	BillingAddress  *Address         `gorm:"foreignKey:BillingAddressID"`
}

func (Order) TableName() string { return "orders" }

// Payable reports whether a payment flow may still start for the order.
func (o *Order) Payable() bool { return o.Status == StatusPending }

func (o *Order) Paid() bool { return PaidStatuses[o.Status] }

// OrderItem freezes product name and unit price at checkout time. Later
// catalog price changes never touch an existing order.
type OrderItem struct {
	ID          string          `gorm:"type:char(36);primaryKey"`
	OrderID     string          `gorm:"type:char(36);not null;index:ix_order_items_order"`
	ProductID   string          `gorm:"type:char(36);not null"`
	ProductName string          `gorm:"type:varchar(255);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Quantity    int             `gorm:"not null"`
	CreatedAt   time.Time       `gorm:"type:datetime;not null"`

	Product products.Product `gorm:"foreignKey:ProductID"`
}

func (OrderItem) TableName() string { return "order_items" }
