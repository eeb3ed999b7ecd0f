package solana

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/mr-tron/base58"
)

// MaxBundleSize is the block engine's limit on transactions per bundle.
const MaxBundleSize = 5

// BundleClient submits atomic transaction bundles to a block engine.
type BundleClient struct {
	rpc *rpc.Client
}

func DialBundle(ctx context.Context, url string, httpClient *http.Client) (*BundleClient, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("solana: dial bundle engine: %w", err)
	}
	return &BundleClient{rpc: c}, nil
}

// SendBundle submits signed transactions as one all-or-nothing bundle and
// returns the engine's bundle id.
func (b *BundleClient) SendBundle(ctx context.Context, signed [][]byte) (string, error) {
	if len(signed) == 0 || len(signed) > MaxBundleSize {
		return "", fmt.Errorf("solana: bundle size %d out of range", len(signed))
	}
	encoded := make([]string, len(signed))
	for i, tx := range signed {
		encoded[i] = base58.Encode(tx)
	}
	var id string
	if err := b.rpc.CallContext(ctx, &id, "sendBundle", encoded); err != nil {
		return "", fmt.Errorf("solana: sendBundle: %w", err)
	}
	return id, nil
}

func (b *BundleClient) Close() { b.rpc.Close() }
