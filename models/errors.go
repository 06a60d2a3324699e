package models

import (
	"errors"
	"fmt"
)

// ErrEmptyCart aborts checkout before any write happens.
var ErrEmptyCart = errors.New("cart is empty")

// ErrInvalidQuantity rejects a cart line before the order transaction runs.
var ErrInvalidQuantity = errors.New("quantity must be at least one")

// ErrPaymentMismatch rejects a status check whose fingerprint does not belong
// to the order's payment.
var ErrPaymentMismatch = errors.New("fingerprint does not match the order payment")

// StockError aborts the whole order transaction; no partial write survives it.
type StockError struct {
	ProductCode string
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductCode)
}
