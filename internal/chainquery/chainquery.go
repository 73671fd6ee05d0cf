// Package chainquery fetches confirmed UTXOs and address balances from
// public chain indexers, trying providers in priority order.
//
// It never caches; callers that want cached balances go through the
// reconciliation monitor and the ledger.
package chainquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

var (
	// ErrAllProvidersFailed is returned when every configured provider
	// failed to answer a query.
	ErrAllProvidersFailed = errors.New("all chain providers failed")

	// ErrBadResponse marks a provider answer that could not be parsed.
	ErrBadResponse = errors.New("malformed provider response")

	errBalanceOnly = errors.New("provider does not serve utxos")
)

// UTXO is a confirmed unspent output. Ephemeral: fetched fresh for every
// transaction build and never persisted.
type UTXO struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"` // satoshis
}

// Provider answers UTXO and balance queries for one upstream indexer.
type Provider interface {
	Name() string
	UTXOs(ctx context.Context, address string) ([]UTXO, error)
	Balance(ctx context.Context, address string) (int64, error)
}

// DefaultTimeout bounds every outbound request.
const DefaultTimeout = 15 * time.Second

// Client queries an ordered list of providers, accepting the first success.
type Client struct {
	providers []Provider
	logger    *slog.Logger
}

// New creates a client over the given providers, tried in order.
func New(logger *slog.Logger, providers ...Provider) *Client {
	return &Client{providers: providers, logger: logger}
}

// NewDefault wires the standard provider chain: Blockstream, Mempool.space
// (both esplora), then blockchain.info for balance queries.
func NewDefault(logger *slog.Logger) *Client {
	httpc := &http.Client{Timeout: DefaultTimeout}
	return New(logger,
		NewEsploraProvider("blockstream", "https://blockstream.info/api", httpc),
		NewEsploraProvider("mempool.space", "https://mempool.space/api", httpc),
		NewBlockchainInfoProvider(httpc),
	)
}

// UTXOs returns the confirmed unspent outputs for an address from the first
// provider that answers. Only unreachable or malformed providers fall
// through; an empty UTXO set is a valid answer.
func (c *Client) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var lastErr error
	for _, p := range c.providers {
		utxos, err := p.UTXOs(ctx, address)
		if err != nil {
			if !errors.Is(err, errBalanceOnly) {
				c.logger.Warn("utxo query failed", "provider", p.Name(), "error", err)
				lastErr = err
			}
			continue
		}
		return utxos, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no utxo-capable providers configured")
	}
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// Balance returns the confirmed balance of an address in satoshis.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	var lastErr error
	for _, p := range c.providers {
		bal, err := p.Balance(ctx, address)
		if err != nil {
			c.logger.Warn("balance query failed", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		return bal, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}
