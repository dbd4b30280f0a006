package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/btcshop-orders/internal/config"
)

var (
	ErrAddressReused = errors.New("wallet returned an address that was already issued")
	ErrWrongNetwork  = errors.New("wallet returned an address for another network")
)

// Issuer hands out fresh payment addresses.
type Issuer interface {
	IssueAddress(ctx context.Context) (string, error)
}

// BitcoindIssuer asks a bitcoind wallet for a new receiving address over JSON-RPC.
type BitcoindIssuer struct {
	client  *rpcclient.Client
	params  *chaincfg.Params
	label   string
	timeout time.Duration
}

func NewBitcoindIssuer(cfg config.WalletConfig) (*BitcoindIssuer, error) {
	params, err := networkParams(cfg.Network)
	if err != nil {
		return nil, err
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.RPCHost,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPassword,
		Params:       params.Name,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("wallet: failed to create rpc client: %w", err)
	}

	log.Info().Str("host", cfg.RPCHost).Str("network", params.Name).Msg("wallet: bitcoind client configured")
	return &BitcoindIssuer{
		client:  client,
		params:  params,
		label:   cfg.Label,
		timeout: cfg.Timeout,
	}, nil
}

func networkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case chaincfg.MainNetParams.Name:
		return &chaincfg.MainNetParams, nil
	case chaincfg.TestNet3Params.Name:
		return &chaincfg.TestNet3Params, nil
	case chaincfg.RegressionNetParams.Name:
		return &chaincfg.RegressionNetParams, nil
	case chaincfg.SigNetParams.Name:
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("wallet: unknown network %q", name)
	}
}

type addressResult struct {
	addr btcutil.Address
	err  error
}

// IssueAddress performs a single getnewaddress call. It does not retry: a
// repeated call could hand out a second address for the same order.
func (b *BitcoindIssuer) IssueAddress(ctx context.Context) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	future := b.client.GetNewAddressAsync(b.label)
	done := make(chan addressResult, 1)
	go func() {
		addr, err := future.Receive()
		done <- addressResult{addr: addr, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("wallet: getnewaddress: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("wallet: getnewaddress: %w", res.err)
		}
		if !res.addr.IsForNet(b.params) {
			return "", fmt.Errorf("%w: %s", ErrWrongNetwork, b.params.Name)
		}
		return res.addr.EncodeAddress(), nil
	}
}

func (b *BitcoindIssuer) Close() {
	b.client.Shutdown()
	log.Info().Msg("wallet: bitcoind client closed")
}
