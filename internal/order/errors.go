package order

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("invalid order")
	ErrPricing         = errors.New("order cannot be priced")
	ErrPaymentIssuance = errors.New("payment address could not be issued")
	ErrPersistence     = errors.New("order storage failed")
	ErrNotFound        = errors.New("order not found")
	ErrForbidden       = errors.New("access to order denied")
)

// ValidationError names the submission rule that was violated.
type ValidationError struct {
	Rule string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Rule)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type PricingError struct {
	Reason string
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPricing, e.Reason)
}

func (e *PricingError) Is(target error) bool {
	return target == ErrPricing
}

// PersistenceError reports a failed repository call. AddressIssued is set when a
// payment address had already been taken from the wallet, in which case the
// address is orphaned and must be reconciled by hand.
type PersistenceError struct {
	Op             string
	AddressIssued  bool
	PaymentAddress string
	OrderNumber    string
	Err            error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrPersistence, e.Op)
	if e.AddressIssued {
		msg += " (payment address issued, order not persisted)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// errNotSaved stands in for the cause when SaveAll reports that nothing was written.
var errNotSaved = errors.New("write did not take effect")
