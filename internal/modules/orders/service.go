package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"derukkies.com/app/internal/modules/cart"
	"derukkies.com/app/internal/modules/products"
	"derukkies.com/app/internal/modules/shipping"
	"derukkies.com/app/internal/shared/dbx"
)

// Notifier receives order lifecycle events. Implementations must not block
// the caller and must never surface delivery failures as errors.
type Notifier interface {
	OrderCreated(order *Order, contactEmail string)
	OrderPaid(order *Order, provider string)
}

type AddressInput struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// AddressValidationError reports the required address fields a checkout
// request left blank.
type AddressValidationError struct {
	Role    string
	Missing []string
}

func (e *AddressValidationError) Error() string {
	return fmt.Sprintf("missing %s address fields: %s", e.Role, strings.Join(e.Missing, ", "))
}

var ErrAddressForbidden = errors.New("address belongs to another user")

type CheckoutInput struct {
	CartID       string
	UserID       *string
	ContactEmail string

	ShippingMethodID  string
	ShippingAddressID string
	ShippingAddress   *AddressInput
	BillingAddressID  string
	BillingAddress    *AddressInput
}

type Service struct {
	db       *gorm.DB
	repo     *Repo
	carts    *cart.Repo
	methods  *shipping.Repo
	quoter   shipping.Quoter
	currency string
	taxRate  decimal.Decimal
	notifier Notifier
	log      *slog.Logger
}

func NewService(db *gorm.DB, repo *Repo, carts *cart.Repo, methods *shipping.Repo, quoter shipping.Quoter, currency string, taxRate decimal.Decimal, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		carts:    carts,
		methods:  methods,
		quoter:   quoter,
		currency: currency,
		taxRate:  taxRate,
		notifier: notifier,
		log:      log,
	}
}

func newOrderNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:12])
}

// Checkout turns the cart into a pending order with frozen totals. Products
// are row-locked so stock and prices cannot shift under the computation. The
// cart is left intact; it is depleted only after payment succeeds.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (Order, error) {
	var order Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, err := s.carts.ItemsOldestFirst(ctx, tx, in.CartID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		ids := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ProductID)
		}
		var locked []products.Product
		if err := dbx.ForUpdate(tx).Find(&locked, "id IN ?", ids).Error; err != nil {
			return err
		}
		byID := make(map[string]products.Product, len(locked))
		for _, p := range locked {
			byID[p.ID] = p
		}

		subtotal := decimal.Zero
		for _, it := range items {
			p, ok := byID[it.ProductID]
			if !ok || !p.IsActive {
				return &ProductUnavailableError{ProductID: it.ProductID, Name: p.Name}
			}
			if !p.IsDigital && it.Quantity > p.Stock {
				return &InsufficientStockError{
					ProductID: p.ID,
					Name:      p.Name,
					Requested: it.Quantity,
					Available: p.Stock,
				}
			}
			subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
		subtotal = subtotal.Round(2)

		var method *shipping.Method
		if in.ShippingMethodID != "" {
			m, err := s.methods.Get(ctx, in.ShippingMethodID)
			if err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
			} else {
				method = &m
			}
		}

		shipTo, err := s.resolveAddress(tx, in.UserID, in.ShippingAddressID, in.ShippingAddress, "shipping")
		if err != nil {
			return err
		}
		billTo := shipTo
		if in.BillingAddressID != "" || in.BillingAddress != nil {
			billTo, err = s.resolveAddress(tx, in.UserID, in.BillingAddressID, in.BillingAddress, "billing")
			if err != nil {
				return err
			}
		}

		shippingCost := s.quoter.Quote(subtotal, method)
		tax := subtotal.Add(shippingCost).Mul(s.taxRate).Round(2)
		total := subtotal.Add(shippingCost).Add(tax).Round(2)

		order = Order{
			ID:                uuid.NewString(),
			OrderNumber:       newOrderNumber(),
			UserID:            in.UserID,
			GuestEmail:        in.ContactEmail,
			Status:            StatusPending,
			Currency:          s.currency,
			Subtotal:          subtotal,
			ShippingCost:      shippingCost,
			TaxAmount:         tax,
			Total:             total,
			ShippingAddressID: &shipTo.ID,
			BillingAddressID:  &billTo.ID,
			CreatedAt:         time.Now(),
			UpdatedAt:         time.Now(),
		}
		if method != nil {
			order.ShippingMethodID = &method.ID
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		lines := make([]OrderItem, 0, len(items))
		for _, it := range items {
			p := byID[it.ProductID]
			lines = append(lines, OrderItem{
				ID:          uuid.NewString(),
				OrderID:     order.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				UnitPrice:   p.Price,
				Quantity:    it.Quantity,
				CreatedAt:   time.Now(),
			})
		}
		if err := tx.Create(&lines).Error; err != nil {
			return err
		}
		order.Items = lines
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.log.InfoContext(ctx, "checkout created",
		"order_id", order.ID, "order_number", order.OrderNumber,
		"cart_id", in.CartID, "total", order.Total.StringFixed(2))
	if s.notifier != nil {
		s.notifier.OrderCreated(&order, in.ContactEmail)
	}
	return order, nil
}

// resolveAddress either verifies ownership of a saved address or validates
// and persists a fresh one.
func (s *Service) resolveAddress(tx *gorm.DB, userID *string, addressID string, in *AddressInput, role string) (Address, error) {
	if addressID != "" {
		if userID == nil {
			return Address{}, &AddressOwnershipError{Role: role}
		}
		var a Address
		if err := tx.First(&a, "id = ?", addressID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return Address{}, &AddressOwnershipError{Role: role, Authenticated: true}
			}
			return Address{}, err
		}
		if a.UserID == nil || *a.UserID != *userID {
			return Address{}, &AddressOwnershipError{Role: role, Authenticated: true}
		}
		return a, nil
	}
	if in == nil {
		return Address{}, &AddressValidationError{Role: role, Missing: []string{"full_name", "line1", "city", "postal_code", "country"}}
	}
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"full_name", in.FullName},
		{"line1", in.Line1},
		{"city", in.City},
		{"postal_code", in.PostalCode},
		{"country", in.Country},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return Address{}, &AddressValidationError{Role: role, Missing: missing}
	}
	a := Address{
		ID:         uuid.NewString(),
		UserID:     userID,
		FullName:   strings.TrimSpace(in.FullName),
		Phone:      strings.TrimSpace(in.Phone),
		Line1:      strings.TrimSpace(in.Line1),
		Line2:      strings.TrimSpace(in.Line2),
		City:       strings.TrimSpace(in.City),
		State:      strings.TrimSpace(in.State),
		PostalCode: strings.TrimSpace(in.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(in.Country)),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := tx.Create(&a).Error; err != nil {
		return Address{}, err
	}
	return a, nil
}
