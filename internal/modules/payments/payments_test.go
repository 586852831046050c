package payments

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"derukkies.com/app/internal/modules/cart"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/modules/products"
	"derukkies.com/app/internal/modules/shipping"
)

type captureNotifier struct {
	paid []string
}

func (n *captureNotifier) OrderCreated(o *orders.Order, email string) {}
func (n *captureNotifier) OrderPaid(o *orders.Order, provider string) {
	n.paid = append(n.paid, provider)
}

type testEnv struct {
	db       *gorm.DB
	orders   *orders.Service
	repo     *orders.Repo
	recorder *Recorder
	settler  *Settler
	notifier *captureNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&products.Product{}, &shipping.Method{},
		&cart.Cart{}, &cart.CartItem{},
		&orders.Address{}, &orders.Order{}, &orders.OrderItem{},
		&Transaction{},
	))
	notifier := &captureNotifier{}
	repo := orders.NewRepo(db)
	quoter := shipping.Quoter{Flat: decimal.RequireFromString("9.99"), FreeThreshold: decimal.RequireFromString("100")}
	svc := orders.NewService(db, repo, cart.NewRepo(db), shipping.NewRepo(db),
		quoter, "USD", decimal.RequireFromString("0.08"), notifier, slog.Default())
	recorder := NewRecorder(db, slog.Default())
	return &testEnv{
		db:       db,
		orders:   svc,
		repo:     repo,
		recorder: recorder,
		settler:  NewSettler(recorder, svc, notifier, slog.Default()),
		notifier: notifier,
	}
}

// seedOrder persists a pending order with one physical product line so
// finalization has stock to decrement. Totals: 19.99 + 0.00 shipping + 1.60
// tax = 21.59.
func (e *testEnv) seedOrder(t *testing.T, userID *string) orders.Order {
	t.Helper()
	p := products.Product{
		ID: uuid.NewString(), Name: "Ankara Tee", Slug: uuid.NewString(),
		Price: decimal.RequireFromString("19.99"), Stock: 10,
		IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, e.db.Create(&p).Error)

	order := orders.Order{
		ID:           uuid.NewString(),
		OrderNumber:  uuid.NewString()[:12],
		UserID:       userID,
		GuestEmail:   "guest@example.com",
		Status:       orders.StatusPending,
		Currency:     "USD",
		Subtotal:     decimal.RequireFromString("19.99"),
		ShippingCost: decimal.Zero,
		TaxAmount:    decimal.RequireFromString("1.60"),
		Total:        decimal.RequireFromString("21.59"),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, e.db.Create(&order).Error)
	item := orders.OrderItem{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		ProductID:   p.ID,
		ProductName: p.Name,
		UnitPrice:   p.Price,
		Quantity:    1,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, e.db.Create(&item).Error)
	order.Items = []orders.OrderItem{item}
	return order
}

func (e *testEnv) orderStatus(t *testing.T, orderID string) string {
	t.Helper()
	var o orders.Order
	require.NoError(t, e.db.First(&o, "id = ?", orderID).Error)
	return o.Status
}

func (e *testEnv) txnCount(t *testing.T, orderID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&Transaction{}).Where("order_id = ?", orderID).Count(&n).Error)
	return n
}

func amt(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
