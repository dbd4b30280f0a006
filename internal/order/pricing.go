package order

import (
	"github.com/shopspring/decimal"
)

// FiatPlaces is the minimum number of fractional digits shown for a fiat amount.
const FiatPlaces = 2

// CryptoPrecision is the number of fractional digits kept in a crypto total (satoshi resolution).
const CryptoPrecision = 8

// ComputeSubtotal sums UnitPrice*Quantity over items without any rounding.
func ComputeSubtotal(items []OrderItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return subtotal
}

// ComputeCryptoTotal converts a fiat amount to crypto at rate, rounded half away
// from zero to CryptoPrecision digits.
func ComputeCryptoTotal(fiat, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, &PricingError{Reason: "exchange rate must be greater than zero"}
	}
	return fiat.DivRound(rate, CryptoPrecision), nil
}

// FormatFiat renders d with at least FiatPlaces fractional digits. Extra digits
// are kept, never rounded away.
func FormatFiat(d decimal.Decimal) string {
	places := int32(FiatPlaces)
	if exp := -d.Exponent(); exp > places {
		places = exp
	}
	for places > FiatPlaces && d.Equal(d.Truncate(places-1)) {
		places--
	}
	return d.StringFixed(places)
}
