package chainquery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func esploraServer(t *testing.T, utxoBody, addrBody string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		switch {
		case r.URL.Path == "/address/bc1qtest/utxo":
			w.Write([]byte(utxoBody))
		case r.URL.Path == "/address/bc1qtest":
			w.Write([]byte(addrBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

const utxoJSON = `[
	{"txid":"aa11","vout":0,"value":5000,"status":{"confirmed":true}},
	{"txid":"bb22","vout":1,"value":3000,"status":{"confirmed":false}},
	{"txid":"cc33","vout":2,"value":2000,"status":{"confirmed":true}}
]`

const addrJSON = `{"chain_stats":{"funded_txo_sum":10000,"spent_txo_sum":3000}}`

func TestEsploraUTXOsFiltersUnconfirmed(t *testing.T) {
	srv := esploraServer(t, utxoJSON, addrJSON, http.StatusOK)
	defer srv.Close()

	p := NewEsploraProvider("test", srv.URL, srv.Client())
	utxos, err := p.UTXOs(context.Background(), "bc1qtest")
	if err != nil {
		t.Fatalf("UTXOs: %v", err)
	}
	if len(utxos) != 2 {
		t.Fatalf("got %d utxos, want 2 (unconfirmed dropped)", len(utxos))
	}
	if utxos[0].TxID != "aa11" || utxos[0].Value != 5000 {
		t.Errorf("utxo[0] = %+v", utxos[0])
	}
	if utxos[1].Vout != 2 {
		t.Errorf("utxo[1] = %+v", utxos[1])
	}
}

func TestEsploraBalance(t *testing.T) {
	srv := esploraServer(t, utxoJSON, addrJSON, http.StatusOK)
	defer srv.Close()

	p := NewEsploraProvider("test", srv.URL, srv.Client())
	bal, err := p.Balance(context.Background(), "bc1qtest")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 7000 {
		t.Errorf("balance = %d, want 7000", bal)
	}
}

func TestEsploraBadJSON(t *testing.T) {
	srv := esploraServer(t, "not json", "not json", http.StatusOK)
	defer srv.Close()

	p := NewEsploraProvider("test", srv.URL, srv.Client())
	if _, err := p.UTXOs(context.Background(), "bc1qtest"); !errors.Is(err, ErrBadResponse) {
		t.Errorf("UTXOs err = %v, want ErrBadResponse", err)
	}
	if _, err := p.Balance(context.Background(), "bc1qtest"); !errors.Is(err, ErrBadResponse) {
		t.Errorf("Balance err = %v, want ErrBadResponse", err)
	}
}

func TestClientFallsThroughToSecondProvider(t *testing.T) {
	down := esploraServer(t, "", "", http.StatusBadGateway)
	defer down.Close()
	up := esploraServer(t, utxoJSON, addrJSON, http.StatusOK)
	defer up.Close()

	c := New(testLogger(),
		NewEsploraProvider("down", down.URL, down.Client()),
		NewEsploraProvider("up", up.URL, up.Client()),
	)

	utxos, err := c.UTXOs(context.Background(), "bc1qtest")
	if err != nil {
		t.Fatalf("UTXOs: %v", err)
	}
	if len(utxos) != 2 {
		t.Errorf("got %d utxos", len(utxos))
	}

	bal, err := c.Balance(context.Background(), "bc1qtest")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 7000 {
		t.Errorf("balance = %d", bal)
	}
}

func TestClientAllProvidersFailed(t *testing.T) {
	down := esploraServer(t, "", "", http.StatusBadGateway)
	defer down.Close()

	c := New(testLogger(), NewEsploraProvider("down", down.URL, down.Client()))

	if _, err := c.UTXOs(context.Background(), "bc1qtest"); !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("UTXOs err = %v, want ErrAllProvidersFailed", err)
	}
	if _, err := c.Balance(context.Background(), "bc1qtest"); !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("Balance err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestBlockchainInfoBalanceOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/q/addressbalance/bc1qtest" {
			w.Write([]byte(" 4321\n"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewBlockchainInfoProvider(srv.Client())
	p.baseURL = srv.URL

	bal, err := p.Balance(context.Background(), "bc1qtest")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 4321 {
		t.Errorf("balance = %d, want 4321", bal)
	}

	// UTXO queries fall through silently.
	if _, err := p.UTXOs(context.Background(), "bc1qtest"); !errors.Is(err, errBalanceOnly) {
		t.Errorf("UTXOs err = %v, want errBalanceOnly", err)
	}
}

func TestEmptyUTXOSetIsValid(t *testing.T) {
	srv := esploraServer(t, "[]", addrJSON, http.StatusOK)
	defer srv.Close()

	c := New(testLogger(), NewEsploraProvider("test", srv.URL, srv.Client()))
	utxos, err := c.UTXOs(context.Background(), "bc1qtest")
	if err != nil {
		t.Fatalf("UTXOs: %v", err)
	}
	if len(utxos) != 0 {
		t.Errorf("got %d utxos, want 0", len(utxos))
	}
}
