package paper

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-swarm/internal/models"
	"github.com/kjannette/trahn-swarm/internal/solana"
	"github.com/kjannette/trahn-swarm/internal/venue"
)

const mint = "AssetMint1111111111111111111111111111111pump"

type prices map[string]float64

func (p prices) Price(asset string) (models.PriceSnapshot, bool) {
	v, ok := p[asset]
	return models.PriceSnapshot{Asset: asset, Native: v}, ok
}

func key(b byte) *solana.Keypair {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return solana.NewKeypairFromSeed(seed)
}

func signed(t *testing.T, v *Venue, kp *solana.Keypair, req venue.Request) ([]byte, string) {
	t.Helper()
	req.Owner = kp.PublicKey()
	tx, err := v.Build(context.Background(), req)
	require.NoError(t, err)
	raw, sig, err := solana.SignTransaction(tx.Raw, kp)
	require.NoError(t, err)
	return raw, sig
}

func TestBuyThenSell(t *testing.T) {
	ctx := context.Background()
	p := prices{mint: 0.00003} // native per whole token
	chain := NewChain(p, nil, WithNetworkFee(0))
	v := NewVenue(p)
	kp := key(1)
	chain.Fund(kp.PublicKey(), 1)

	raw, sig := signed(t, v, kp, venue.Request{Side: venue.Buy, Asset: mint, NativeAmount: 0.03})
	got, err := chain.SendTransaction(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, sig, got)

	st, err := chain.SignatureStatuses(ctx, sig, "unknown")
	require.NoError(t, err)
	require.Len(t, st, 2)
	assert.True(t, st[0].Landed())
	assert.False(t, st[0].Failed())
	assert.Nil(t, st[1])

	tokens, _ := chain.TokenBalance(ctx, kp.PublicKey(), mint)
	assert.InDelta(t, 1_000_000_000, tokens, 1) // 1000 whole tokens at 6 decimals
	native, _ := chain.NativeBalance(ctx, kp.PublicKey())
	assert.InDelta(t, 0.97, native, 1e-9)

	p[mint] = 0.0000455
	raw, _ = signed(t, v, kp, venue.Request{Side: venue.Sell, Asset: mint, Tokens: tokens})
	_, err = chain.SendTransaction(ctx, raw)
	require.NoError(t, err)
	native, _ = chain.NativeBalance(ctx, kp.PublicKey())
	assert.InDelta(t, 0.97+0.0455, native, 1e-6)

	stats := chain.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Buys)
	assert.Equal(t, 1, stats[0].Sells)
	assert.InDelta(t, 0.0155, stats[0].PnL, 1e-6)
	assert.Len(t, chain.Trades(), 2)
}

func TestInsufficientFundsLandsAsFailed(t *testing.T) {
	ctx := context.Background()
	p := prices{mint: 0.001}
	chain := NewChain(p, nil)
	kp := key(2)
	chain.Fund(kp.PublicKey(), 0.01)

	raw, sig := signed(t, NewVenue(p), kp, venue.Request{Side: venue.Buy, Asset: mint, NativeAmount: 0.5})
	_, err := chain.SendTransaction(ctx, raw)
	require.NoError(t, err)
	st, _ := chain.SignatureStatuses(ctx, sig)
	assert.True(t, st[0].Failed())

	native, _ := chain.NativeBalance(ctx, kp.PublicKey())
	assert.Equal(t, 0.01, native)
}

func TestBundleIsAtomic(t *testing.T) {
	ctx := context.Background()
	p := prices{mint: 0.001}
	chain := NewChain(p, nil)
	v := NewVenue(p)
	a, b := key(3), key(4)
	chain.Fund(a.PublicKey(), 1)
	chain.Fund(b.PublicKey(), 1)

	reqs := []venue.Request{
		{Owner: a.PublicKey(), Side: venue.Buy, Asset: mint, NativeAmount: 0.1},
		{Owner: b.PublicKey(), Side: venue.Sell, Asset: mint, Tokens: 5}, // b holds nothing
	}
	txs, err := v.BuildBundle(ctx, reqs)
	require.NoError(t, err)
	var signedTxs [][]byte
	for i, kp := range []*solana.Keypair{a, b} {
		raw, _, err := solana.SignTransaction(txs[i], kp)
		require.NoError(t, err)
		signedTxs = append(signedTxs, raw)
	}

	// The failing sell lands with an error status rather than aborting, so
	// the bundle goes through and only the buy moves balances.
	_, err = chain.SendBundle(ctx, signedTxs)
	require.NoError(t, err)
	tokens, _ := chain.TokenBalance(ctx, a.PublicKey(), mint)
	assert.Positive(t, tokens)

	// A malformed transaction rolls back the whole bundle.
	chain2 := NewChain(p, nil)
	chain2.Fund(a.PublicKey(), 1)
	_, err = chain2.SendBundle(ctx, [][]byte{signedTxs[0], {1, 2, 3}})
	require.Error(t, err)
	tokens, _ = chain2.TokenBalance(ctx, a.PublicKey(), mint)
	assert.Zero(t, tokens)
	native, _ := chain2.NativeBalance(ctx, a.PublicKey())
	assert.Equal(t, 1.0, native)
	assert.Empty(t, chain2.Trades())
}

func TestVenueRejectsEmptyAmounts(t *testing.T) {
	p := prices{mint: 0.001}
	v := NewVenue(p)
	_, err := v.Build(context.Background(), venue.Request{Owner: key(5).PublicKey(), Side: venue.Buy, Asset: mint})
	assert.ErrorIs(t, err, venue.ErrBadRequest)
	assert.False(t, v.Eligible("unpriced"))
	assert.True(t, v.Eligible(mint))
}
