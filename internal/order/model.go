package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem is one line of a cart.
type OrderItem struct {
	ID        int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Order is a persisted purchase settled in bitcoin. Totals, owner and payment
// address are set by Service.CreateOrder and never change afterwards.
type Order struct {
	ID             int64
	OrderNumber    string
	OrderDate      time.Time
	Owner          string
	Items          []OrderItem
	ExchangeRate   decimal.Decimal
	TotalFiat      decimal.Decimal
	TotalCrypto    decimal.Decimal
	PaymentAddress string
	CreatedAt      time.Time
}

// Submission is a cart as received from a client.
type Submission struct {
	// OrderNumber is optional; one is generated when empty.
	OrderNumber string
	// OrderDate is optional; the zero time and the Unix epoch mean "now".
	OrderDate time.Time
	// Owner is ignored. Orders always belong to the authenticated caller.
	Owner        string
	ExchangeRate decimal.Decimal
	Items        []OrderItem
}
