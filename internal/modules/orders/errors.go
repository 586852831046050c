package orders

import (
	"errors"
	"fmt"
)

var ErrEmptyCart = errors.New("cart has no items")

// InsufficientStockError aborts checkout when a locked product cannot cover
// the requested quantity.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// ProductUnavailableError aborts checkout when a cart references an inactive
// product.
type ProductUnavailableError struct {
	ProductID string
	Name      string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is not available", e.Name)
}

// AddressOwnershipError rejects a saved-address id the requester cannot use:
// guests cannot reference saved addresses at all, and users only their own.
type AddressOwnershipError struct {
	Role          string
	Authenticated bool
}

func (e *AddressOwnershipError) Error() string {
	if !e.Authenticated {
		return fmt.Sprintf("saved %s address requires authentication", e.Role)
	}
	return fmt.Sprintf("invalid %s address id", e.Role)
}

func (e *AddressOwnershipError) Unwrap() error { return ErrAddressForbidden }
