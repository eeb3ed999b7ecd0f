package venue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimaryBuild(t *testing.T) {
	var got tradeLocalRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{1, 2, 3, 4})
	}))
	defer srv.Close()

	p := NewPrimary(PrimaryConfig{TradeURL: srv.URL, MintSuffixes: []string{"pump"}})
	assert.True(t, p.Eligible("AbCpump"))
	assert.False(t, p.Eligible("AbCdef"))

	tx, err := p.Build(context.Background(), Request{
		Owner: "Owner1", Side: Buy, Asset: "AbCpump", NativeAmount: 0.03, SlippageBps: 100, PriorityFee: 0.0005,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, tx.Raw)
	assert.Equal(t, "primary", tx.Venue)
	assert.Equal(t, "buy", got.Action)
	assert.Equal(t, "true", got.DenominatedInSol)
	assert.Equal(t, 0.03, got.Amount)
	assert.Equal(t, 1.0, got.Slippage)
	assert.Equal(t, "auto", got.Pool)

	_, err = p.Build(context.Background(), Request{
		Owner: "Owner1", Side: Sell, Asset: "AbCpump", Tokens: 2_500_000, SlippageBps: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, "false", got.DenominatedInSol)
	assert.Equal(t, 2.5, got.Amount, "sell amounts are sent in whole tokens")
	assert.Equal(t, 3.0, got.Slippage)
}

func TestPrimaryBuild_ErrorBodies(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"errors":["bad mint"]}`))
	}))
	defer srv.Close()
	p := NewPrimary(PrimaryConfig{TradeURL: srv.URL})
	req := Request{Owner: "o", Side: Buy, Asset: "m", NativeAmount: 1}

	_, err := p.Build(context.Background(), req)
	assert.ErrorIs(t, err, ErrBadResponse)

	status = http.StatusBadRequest
	_, err = p.Build(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = p.Build(context.Background(), Request{Owner: "o", Side: Buy, Asset: "m"})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestPrimaryBuildBundle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []tradeLocalRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		out := make([]string, len(reqs))
		for i := range reqs {
			out[i] = base58.Encode([]byte(reqs[i].PublicKey))
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	p := NewPrimary(PrimaryConfig{TradeURL: srv.URL, BundleURL: srv.URL})
	txs, err := p.BuildBundle(context.Background(), []Request{
		{Owner: "a", Side: Buy, Asset: "m", NativeAmount: 0.01},
		{Owner: "b", Side: Buy, Asset: "m", NativeAmount: 0.01},
	})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, []byte("a"), txs[0])
	assert.Equal(t, []byte("b"), txs[1])

	_, err = NewPrimary(PrimaryConfig{TradeURL: srv.URL}).BuildBundle(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSecondaryBuild(t *testing.T) {
	var swapBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /quote", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		q := r.URL.Query()
		if q.Get("inputMint") == NativeMint {
			assert.Equal(t, "30000000", q.Get("amount"))
			w.Write([]byte(`{"outAmount":"1000","routePlan":[]}`))
			return
		}
		assert.Equal(t, "1000", q.Get("amount"))
		w.Write([]byte(`{"outAmount":"45500000","routePlan":[]}`))
	})
	mux.HandleFunc("POST /swap", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &swapBody))
		json.NewEncoder(w).Encode(map[string]string{"swapTransaction": base64.StdEncoding.EncodeToString([]byte{9, 9})})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSecondary(SecondaryConfig{QuoteURL: srv.URL + "/quote", SwapURL: srv.URL + "/swap", APIKey: "k"})
	assert.True(t, s.Eligible("anything"))

	tx, err := s.Build(context.Background(), Request{Owner: "o", Side: Buy, Asset: "m", NativeAmount: 0.03, SlippageBps: 100})
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, tx.Raw)
	assert.Equal(t, 1000.0, tx.ExpectedOut)
	assert.Equal(t, true, swapBody["wrapAndUnwrapSol"])
	assert.Equal(t, "o", swapBody["userPublicKey"])
	assert.NotNil(t, swapBody["quoteResponse"])

	tx, err = s.Build(context.Background(), Request{Owner: "o", Side: Sell, Asset: "m", Tokens: 1000, SlippageBps: 300})
	require.NoError(t, err)
	assert.InDelta(t, 0.0455, tx.ExpectedOut, 1e-12)
}

func TestSecondaryBuild_NoSwapTx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"outAmount":"5"}`))
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSecondary(SecondaryConfig{QuoteURL: srv.URL + "/quote", SwapURL: srv.URL + "/swap"})
	_, err := s.Build(context.Background(), Request{Owner: "o", Side: Buy, Asset: "m", NativeAmount: 0.01})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadResponse))
}

func TestSecondaryQuote_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewSecondary(SecondaryConfig{QuoteURL: srv.URL, SwapURL: srv.URL})
	_, err := s.Build(context.Background(), Request{Owner: "o", Side: Buy, Asset: "m", NativeAmount: 0.01})
	assert.ErrorIs(t, err, ErrUnavailable)
}
