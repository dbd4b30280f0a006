package wallet

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// FreshnessGuard refuses any address the wrapped issuer has already returned
// during the life of the process.
type FreshnessGuard struct {
	next Issuer

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewFreshnessGuard(next Issuer) *FreshnessGuard {
	return &FreshnessGuard{next: next, seen: make(map[string]struct{})}
}

func (g *FreshnessGuard) IssueAddress(ctx context.Context) (string, error) {
	addr, err := g.next.IssueAddress(ctx)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.seen[addr]; dup {
		log.Error().Str("payment_address", addr).Msg("wallet: address issued twice")
		return "", ErrAddressReused
	}
	g.seen[addr] = struct{}{}
	return addr, nil
}
