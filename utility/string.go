package utility

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func NewUUID() string {
	return uuid.New().String()
}

// AmountString renders an amount without a trailing decimal part,
// so 250.00 becomes "250" and 10.50 becomes "10.5".
func AmountString(amount float64) string {
	return decimal.NewFromFloat(amount).String()
}

// PriceString renders an amount with two fixed decimals for display.
func PriceString(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
