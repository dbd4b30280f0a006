package order

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/btcshop-orders/internal/auth"
)

// Lookup fetches single orders. Lookup by number is global and therefore
// restricted to administrators. Lookup by id is scoped to the caller's own
// orders unless the caller is an administrator; someone else's order is
// reported as ErrNotFound so its existence is not disclosed.
type Lookup struct {
	repo Repository
	gate auth.Gate
}

func NewLookup(repo Repository, gate auth.Gate) *Lookup {
	return &Lookup{repo: repo, gate: gate}
}

func (l *Lookup) GetByNumber(ctx context.Context, id auth.Identity, number string) (*Order, error) {
	caller, err := resolveCaller(ctx, l.gate, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() {
		log.Warn().Str("username", caller.Username).Str("order_number", number).Msg("service: order number lookup denied")
		return nil, ErrForbidden
	}
	if !orderNumberPattern.MatchString(number) {
		return nil, ErrNotFound
	}

	o, err := l.repo.GetOrderByNumber(ctx, number)
	return classifyLookup(o, err, "get order by number")
}

func (l *Lookup) GetByID(ctx context.Context, id auth.Identity, orderID int64) (*Order, error) {
	caller, err := resolveCaller(ctx, l.gate, id)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 {
		return nil, ErrNotFound
	}

	owner := caller.Username
	if caller.IsAdmin() {
		owner = AnyOwner
	}

	o, err := l.repo.GetOrderByID(ctx, owner, orderID)
	return classifyLookup(o, err, "get order by id")
}

func classifyLookup(o *Order, err error, op string) (*Order, error) {
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		log.Error().Err(err).Str("op", op).Msg("service: order lookup failed")
		return nil, &PersistenceError{Op: op, Err: err}
	case o == nil:
		return nil, ErrNotFound
	}
	return o, nil
}
