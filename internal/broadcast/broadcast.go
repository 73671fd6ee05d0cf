// Package broadcast submits signed transaction hex to relay endpoints.
//
// There is no retry here; whether to retry a failed broadcast is the
// caller's decision.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrUnreachable is returned when no relay endpoint could be reached.
	ErrUnreachable = errors.New("all broadcast endpoints unreachable")

	// ErrRejected is returned when a relay accepted the request but
	// rejected the transaction (or answered with something that is not a
	// transaction id).
	ErrRejected = errors.New("transaction rejected by relay")
)

// DefaultTimeout bounds every submission attempt.
const DefaultTimeout = 15 * time.Second

var txidPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Broadcaster submits raw hex to esplora-style /tx endpoints, trying each
// in order.
type Broadcaster struct {
	endpoints []string
	client    *http.Client
	logger    *slog.Logger
}

// New creates a broadcaster over the given esplora API roots (e.g.
// "https://blockstream.info/api").
func New(logger *slog.Logger, endpoints ...string) *Broadcaster {
	trimmed := make([]string, len(endpoints))
	for i, e := range endpoints {
		trimmed[i] = strings.TrimRight(e, "/")
	}
	return &Broadcaster{
		endpoints: trimmed,
		client:    &http.Client{Timeout: DefaultTimeout},
		logger:    logger,
	}
}

// NewDefault wires the standard relay chain.
func NewDefault(logger *slog.Logger) *Broadcaster {
	return New(logger, "https://blockstream.info/api", "https://mempool.space/api")
}

// Submit posts the raw transaction hex and returns the transaction id.
// A relay-side rejection stops the chain immediately: the transaction is
// invalid everywhere, so falling through would only repeat the error.
func (b *Broadcaster) Submit(ctx context.Context, rawHex string) (string, error) {
	var lastErr error
	for _, endpoint := range b.endpoints {
		txid, err := b.submitOne(ctx, endpoint, rawHex)
		if err != nil {
			if errors.Is(err, ErrRejected) {
				return "", err
			}
			b.logger.Warn("broadcast attempt failed", "endpoint", endpoint, "error", err)
			lastErr = err
			continue
		}
		return txid, nil
	}
	return "", fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

func (b *Broadcaster) submitOne(ctx context.Context, endpoint, rawHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(body))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, text)
	}
	if !txidPattern.MatchString(text) {
		return "", fmt.Errorf("%w: unexpected response %q", ErrRejected, text)
	}
	return text, nil
}
