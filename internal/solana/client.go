// Package solana talks JSON-RPC to a Solana node and signs venue-built
// transactions for agent keypairs.
package solana

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// LamportsPerSOL converts between native units and lamports.
const LamportsPerSOL = 1_000_000_000

// Client wraps a JSON-RPC 2.0 connection to a Solana node.
type Client struct {
	rpc *rpc.Client
}

// Dial connects over HTTP(S). The http.Client sets per-request timeouts.
func Dial(ctx context.Context, url string, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("solana: dial %s: %w", url, err)
	}
	return &Client{rpc: c}, nil
}

func (c *Client) Close() { c.rpc.Close() }

type balanceResult struct {
	Value uint64 `json:"value"`
}

// NativeBalance returns owner's balance in SOL.
func (c *Client) NativeBalance(ctx context.Context, owner string) (float64, error) {
	var res balanceResult
	if err := c.rpc.CallContext(ctx, &res, "getBalance", owner); err != nil {
		return 0, fmt.Errorf("solana: getBalance: %w", err)
	}
	return float64(res.Value) / LamportsPerSOL, nil
}

// NativeBalances fetches many balances in one batch. Failed elements are
// reported per owner in the error map.
func (c *Client) NativeBalances(ctx context.Context, owners []string) (map[string]float64, map[string]error, error) {
	results := make([]balanceResult, len(owners))
	batch := make([]rpc.BatchElem, len(owners))
	for i, o := range owners {
		batch[i] = rpc.BatchElem{Method: "getBalance", Args: []any{o}, Result: &results[i]}
	}
	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		return nil, nil, fmt.Errorf("solana: getBalance batch: %w", err)
	}
	out := make(map[string]float64, len(owners))
	errs := map[string]error{}
	for i, o := range owners {
		if batch[i].Error != nil {
			errs[o] = batch[i].Error
			continue
		}
		out[o] = float64(results[i].Value) / LamportsPerSOL
	}
	return out, errs, nil
}

type tokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						TokenAmount struct {
							Amount   string `json:"amount"`
							Decimals int    `json:"decimals"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

// TokenBalance returns owner's balance of mint in the token's smallest unit,
// summed over all token accounts. No accounts means zero.
func (c *Client) TokenBalance(ctx context.Context, owner, mint string) (int64, error) {
	var res tokenAccountsResult
	err := c.rpc.CallContext(ctx, &res, "getTokenAccountsByOwner",
		owner,
		map[string]string{"mint": mint},
		map[string]string{"encoding": "jsonParsed"},
	)
	if err != nil {
		return 0, fmt.Errorf("solana: getTokenAccountsByOwner: %w", err)
	}
	var total int64
	for _, acct := range res.Value {
		amt := acct.Account.Data.Parsed.Info.TokenAmount.Amount
		if amt == "" {
			continue
		}
		v, err := strconv.ParseInt(amt, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("solana: token amount %q: %w", amt, err)
		}
		total += v
	}
	return total, nil
}

// SendTransaction broadcasts a signed transaction without preflight simulation
// and returns the signature reported by the node.
func (c *Client) SendTransaction(ctx context.Context, signed []byte) (string, error) {
	var sig string
	err := c.rpc.CallContext(ctx, &sig, "sendTransaction",
		base64.StdEncoding.EncodeToString(signed),
		map[string]any{"encoding": "base64", "skipPreflight": true, "maxRetries": 0},
	)
	if err != nil {
		return "", fmt.Errorf("solana: sendTransaction: %w", err)
	}
	return sig, nil
}

// SignatureStatus is the node's view of one broadcast transaction.
type SignatureStatus struct {
	Slot               uint64 `json:"slot"`
	Confirmations      *int   `json:"confirmations"`
	Err                any    `json:"err"`
	ConfirmationStatus string `json:"confirmationStatus"`
}

// Landed reports whether the transaction reached at least "confirmed".
func (s *SignatureStatus) Landed() bool {
	return s != nil && (s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized")
}

// Failed reports whether the transaction executed with an error.
func (s *SignatureStatus) Failed() bool { return s != nil && s.Err != nil }

// SignatureStatuses returns one entry per signature; unknown signatures are nil.
func (c *Client) SignatureStatuses(ctx context.Context, sigs ...string) ([]*SignatureStatus, error) {
	var res struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.rpc.CallContext(ctx, &res, "getSignatureStatuses", sigs); err != nil {
		return nil, fmt.Errorf("solana: getSignatureStatuses: %w", err)
	}
	return res.Value, nil
}

// LatestBlockhash returns the most recent blockhash and its last valid height.
func (c *Client) LatestBlockhash(ctx context.Context) (string, uint64, error) {
	var res struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.rpc.CallContext(ctx, &res, "getLatestBlockhash", map[string]string{"commitment": "confirmed"}); err != nil {
		return "", 0, fmt.Errorf("solana: getLatestBlockhash: %w", err)
	}
	return res.Value.Blockhash, res.Value.LastValidBlockHeight, nil
}
