package chainquery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// EsploraProvider talks to an esplora-compatible indexer (Blockstream,
// Mempool.space). Serves both UTXO and balance queries.
type EsploraProvider struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewEsploraProvider creates a provider for an esplora API root such as
// "https://blockstream.info/api".
func NewEsploraProvider(name, baseURL string, client *http.Client) *EsploraProvider {
	return &EsploraProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (p *EsploraProvider) Name() string { return p.name }

type esploraUTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed bool `json:"confirmed"`
	} `json:"status"`
}

// UTXOs fetches the address's unspent outputs, keeping confirmed ones only.
func (p *EsploraProvider) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	body, err := p.get(ctx, fmt.Sprintf("%s/address/%s/utxo", p.baseURL, address))
	if err != nil {
		return nil, err
	}

	var raw []esploraUTXO
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	utxos := make([]UTXO, 0, len(raw))
	for _, u := range raw {
		if !u.Status.Confirmed {
			continue
		}
		utxos = append(utxos, UTXO{TxID: u.TxID, Vout: u.Vout, Value: u.Value})
	}
	return utxos, nil
}

type esploraAddress struct {
	ChainStats struct {
		FundedSum int64 `json:"funded_txo_sum"`
		SpentSum  int64 `json:"spent_txo_sum"`
	} `json:"chain_stats"`
}

// Balance returns funded minus spent from the address's chain stats.
func (p *EsploraProvider) Balance(ctx context.Context, address string) (int64, error) {
	body, err := p.get(ctx, fmt.Sprintf("%s/address/%s", p.baseURL, address))
	if err != nil {
		return 0, err
	}

	var stats esploraAddress
	if err := json.Unmarshal(body, &stats); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return stats.ChainStats.FundedSum - stats.ChainStats.SpentSum, nil
}

func (p *EsploraProvider) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", p.name, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// BlockchainInfoProvider serves balance queries from blockchain.info. The
// service has no UTXO endpoint compatible with the others, so UTXO queries
// fall through to the next provider.
type BlockchainInfoProvider struct {
	baseURL string
	client  *http.Client
}

// NewBlockchainInfoProvider creates a balance-only fallback provider.
func NewBlockchainInfoProvider(client *http.Client) *BlockchainInfoProvider {
	return &BlockchainInfoProvider{baseURL: "https://blockchain.info", client: client}
}

func (p *BlockchainInfoProvider) Name() string { return "blockchain.info" }

func (p *BlockchainInfoProvider) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	return nil, errBalanceOnly
}

// Balance hits the plain-text addressbalance endpoint.
func (p *BlockchainInfoProvider) Balance(ctx context.Context, address string) (int64, error) {
	url := fmt.Sprintf("%s/q/addressbalance/%s", p.baseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("blockchain.info returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, err
	}
	bal, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return bal, nil
}
