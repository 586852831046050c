package orders

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"derukkies.com/app/internal/modules/cart"
	"derukkies.com/app/internal/modules/products"
	"derukkies.com/app/internal/modules/shipping"
)

type stubNotifier struct {
	created []string
	paid    []string
}

func (n *stubNotifier) OrderCreated(o *Order, email string) { n.created = append(n.created, o.ID) }
func (n *stubNotifier) OrderPaid(o *Order, provider string) { n.paid = append(n.paid, provider) }

func testService(t *testing.T) (*Service, *gorm.DB, *stubNotifier) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&products.Product{}, &shipping.Method{},
		&cart.Cart{}, &cart.CartItem{},
		&Address{}, &Order{}, &OrderItem{},
	))
	notifier := &stubNotifier{}
	quoter := shipping.Quoter{Flat: decimal.RequireFromString("9.99"), FreeThreshold: decimal.RequireFromString("100")}
	svc := NewService(db, NewRepo(db), cart.NewRepo(db), shipping.NewRepo(db),
		quoter, "USD", decimal.RequireFromString("0.08"), notifier, slog.Default())
	return svc, db, notifier
}

func seedProduct(t *testing.T, db *gorm.DB, name string, price string, stock int) products.Product {
	t.Helper()
	p := products.Product{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      uuid.NewString(),
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func seedCart(t *testing.T, db *gorm.DB, userID *string, lines map[string]int) string {
	t.Helper()
	ct := cart.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, db.Create(&ct).Error)
	at := time.Now().Add(-time.Minute)
	for productID, qty := range lines {
		item := cart.CartItem{
			ID:        uuid.NewString(),
			CartID:    ct.ID,
			ProductID: productID,
			Quantity:  qty,
			CreatedAt: at,
			UpdatedAt: at,
		}
		at = at.Add(time.Second)
		require.NoError(t, db.Create(&item).Error)
	}
	return ct.ID
}

func testAddress() *AddressInput {
	return &AddressInput{
		FullName:   "Ada Okafor",
		Line1:      "14 Broad Street",
		City:       "Lagos",
		PostalCode: "101233",
		Country:    "ng",
	}
}

func TestCheckoutTotals(t *testing.T) {
	svc, db, notifier := testService(t)
	ctx := context.Background()

	a := seedProduct(t, db, "Tee", "10.00", 5)
	b := seedProduct(t, db, "Mug", "9.99", 5)
	cartID := seedCart(t, db, nil, map[string]int{a.ID: 1, b.ID: 1})

	order, err := svc.Checkout(ctx, CheckoutInput{
		CartID:          cartID,
		ContactEmail:    "guest@example.com",
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)

	require.Equal(t, "19.99", order.Subtotal.StringFixed(2))
	require.Equal(t, "9.99", order.ShippingCost.StringFixed(2))
	// (19.99 + 9.99) * 0.08 = 2.3984 -> 2.40
	require.Equal(t, "2.40", order.TaxAmount.StringFixed(2))
	require.Equal(t, "32.38", order.Total.StringFixed(2))
	require.Equal(t, StatusPending, order.Status)
	require.Equal(t, "USD", order.Currency)
	require.Len(t, order.Items, 2)
	require.Len(t, notifier.created, 1)

	// The cart survives checkout; it is depleted only after payment.
	var itemCount int64
	require.NoError(t, db.Model(&cart.CartItem{}).Where("cart_id = ?", cartID).Count(&itemCount).Error)
	require.EqualValues(t, 2, itemCount)
}

func TestCheckoutFreeShippingAboveThreshold(t *testing.T) {
	svc, db, _ := testService(t)

	p := seedProduct(t, db, "Jacket", "120.00", 3)
	cartID := seedCart(t, db, nil, map[string]int{p.ID: 1})

	order, err := svc.Checkout(context.Background(), CheckoutInput{
		CartID:          cartID,
		ContactEmail:    "guest@example.com",
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)
	require.Equal(t, "0.00", order.ShippingCost.StringFixed(2))
	require.Equal(t, "9.60", order.TaxAmount.StringFixed(2))
	require.Equal(t, "129.60", order.Total.StringFixed(2))
}

func TestCheckoutUsesMethodPrice(t *testing.T) {
	svc, db, _ := testService(t)

	p := seedProduct(t, db, "Tee", "10.00", 5)
	cartID := seedCart(t, db, nil, map[string]int{p.ID: 1})
	method := shipping.Method{
		ID: uuid.NewString(), Name: "Express", Price: decimal.RequireFromString("15.00"),
		EstimatedDay: 2, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&method).Error)

	order, err := svc.Checkout(context.Background(), CheckoutInput{
		CartID:           cartID,
		ContactEmail:     "guest@example.com",
		ShippingMethodID: method.ID,
		ShippingAddress:  testAddress(),
	})
	require.NoError(t, err)
	require.Equal(t, "15.00", order.ShippingCost.StringFixed(2))
	require.NotNil(t, order.ShippingMethodID)
	require.Equal(t, method.ID, *order.ShippingMethodID)
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc, db, _ := testService(t)
	cartID := seedCart(t, db, nil, nil)

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		CartID:          cartID,
		ContactEmail:    "guest@example.com",
		ShippingAddress: testAddress(),
	})
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	svc, db, _ := testService(t)

	p := seedProduct(t, db, "Tee", "10.00", 2)
	cartID := seedCart(t, db, nil, map[string]int{p.ID: 3})

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		CartID:          cartID,
		ContactEmail:    "guest@example.com",
		ShippingAddress: testAddress(),
	})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, p.ID, stockErr.ProductID)
	require.Equal(t, 2, stockErr.Available)

	// Nothing was persisted.
	var count int64
	require.NoError(t, db.Model(&Order{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCheckoutInactiveProduct(t *testing.T) {
	svc, db, _ := testService(t)

	p := seedProduct(t, db, "Tee", "10.00", 5)
	cartID := seedCart(t, db, nil, map[string]int{p.ID: 1})
	require.NoError(t, db.Model(&products.Product{}).Where("id = ?", p.ID).Update("is_active", false).Error)

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		CartID:          cartID,
		ContactEmail:    "guest@example.com",
		ShippingAddress: testAddress(),
	})
	var unavailErr *ProductUnavailableError
	require.ErrorAs(t, err, &unavailErr)
}

func TestCheckoutDigitalIgnoresStock(t *testing.T) {
	svc, db, _ := testService(t)

	p := products.Product{
		ID: uuid.NewString(), Name: "Ebook", Slug: uuid.NewString(),
		Price: decimal.RequireFromString("5.00"), Stock: 0,
		IsDigital: true, IsActive: true,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&p).Error)
	cartID := seedCart(t, db, nil, map[string]int{p.ID: 4})

	order, err := svc.Checkout(context.Background(), CheckoutInput{
		CartID:          cartID,
		ContactEmail:    "guest@example.com",
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)
	require.Equal(t, "20.00", order.Subtotal.StringFixed(2))
}

func TestCheckoutAddressValidation(t *testing.T) {
	svc, db, _ := testService(t)

	p := seedProduct(t, db, "Tee", "10.00", 5)
	cartID := seedCart(t, db, nil, map[string]int{p.ID: 1})

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		CartID:          cartID,
		ContactEmail:    "guest@example.com",
		ShippingAddress: &AddressInput{FullName: "Ada Okafor", City: "Lagos"},
	})
	var addrErr *AddressValidationError
	require.ErrorAs(t, err, &addrErr)
	require.Equal(t, "shipping", addrErr.Role)
	require.ElementsMatch(t, []string{"line1", "postal_code", "country"}, addrErr.Missing)
}

func TestCheckoutSavedAddressOwnership(t *testing.T) {
	svc, db, _ := testService(t)

	owner := uuid.NewString()
	other := uuid.NewString()
	addr := Address{
		ID: uuid.NewString(), UserID: &owner,
		FullName: "Ada Okafor", Line1: "14 Broad Street",
		City: "Lagos", PostalCode: "101233", Country: "NG",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Create(&addr).Error)

	p := seedProduct(t, db, "Tee", "10.00", 5)
	cartID := seedCart(t, db, &other, map[string]int{p.ID: 1})

	_, err := svc.Checkout(context.Background(), CheckoutInput{
		CartID:            cartID,
		UserID:            &other,
		ShippingAddressID: addr.ID,
	})
	require.True(t, errors.Is(err, ErrAddressForbidden))
	var ownErr *AddressOwnershipError
	require.True(t, errors.As(err, &ownErr))
	require.Equal(t, "shipping", ownErr.Role)
	require.True(t, ownErr.Authenticated)

	// Guests cannot reference saved addresses at all.
	guestCart := seedCart(t, db, nil, map[string]int{p.ID: 1})
	_, err = svc.Checkout(context.Background(), CheckoutInput{
		CartID:            guestCart,
		ContactEmail:      "guest@example.com",
		ShippingAddressID: addr.ID,
	})
	require.True(t, errors.As(err, &ownErr))
	require.False(t, ownErr.Authenticated)
}

func TestCheckoutBillingDefaultsToShipping(t *testing.T) {
	svc, db, _ := testService(t)

	p := seedProduct(t, db, "Tee", "10.00", 5)
	cartID := seedCart(t, db, nil, map[string]int{p.ID: 1})

	order, err := svc.Checkout(context.Background(), CheckoutInput{
		CartID:          cartID,
		ContactEmail:    "guest@example.com",
		ShippingAddress: testAddress(),
	})
	require.NoError(t, err)
	require.NotNil(t, order.ShippingAddressID)
	require.NotNil(t, order.BillingAddressID)
	require.Equal(t, *order.ShippingAddressID, *order.BillingAddressID)
}
