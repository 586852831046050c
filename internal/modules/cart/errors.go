package cart

import "errors"

var (
	ErrCartEmpty       = errors.New("cart is empty")
	ErrProductInactive = errors.New("product is not available")
	ErrNotEnoughStock  = errors.New("not enough stock")
)
