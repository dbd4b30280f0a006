package order

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/btcshop-orders/internal/auth"
)

// ListingService returns the orders a caller may see: every order for
// administrators, the caller's own orders for everyone else.
type ListingService struct {
	repo Repository
	gate auth.Gate
}

func NewListingService(repo Repository, gate auth.Gate) *ListingService {
	return &ListingService{repo: repo, gate: gate}
}

// List never reports an empty result as an error.
func (s *ListingService) List(ctx context.Context, id auth.Identity) ([]Order, error) {
	caller, err := resolveCaller(ctx, s.gate, id)
	if err != nil {
		return nil, err
	}

	var orders []Order
	if caller.IsAdmin() {
		orders, err = s.repo.GetAllOrders(ctx)
	} else {
		orders, err = s.repo.GetOrdersByOwner(ctx, caller.Username, true)
	}
	if err != nil {
		log.Error().Err(err).Str("username", caller.Username).Bool("admin", caller.IsAdmin()).Msg("service: failed to list orders")
		return nil, &PersistenceError{Op: "list orders", Err: err}
	}

	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

func resolveCaller(ctx context.Context, gate auth.Gate, id auth.Identity) (auth.Caller, error) {
	if id.Username == "" {
		return auth.Caller{}, ErrForbidden
	}
	caller, err := gate.Resolve(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("username", id.Username).Msg("service: failed to resolve caller roles")
		return auth.Caller{}, &PersistenceError{Op: "resolve caller roles", Err: err}
	}
	return caller, nil
}
