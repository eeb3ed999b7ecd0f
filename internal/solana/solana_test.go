package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) *Keypair {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return NewKeypairFromSeed(seed)
}

func TestParseKeypairRoundTrip(t *testing.T) {
	kp := testKey(7)
	parsed, err := ParseKeypair(kp.Secret())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), parsed.PublicKey())

	_, err = ParseKeypair(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)
	_, err = ParseKeypair("0OIl") // not base58
	assert.Error(t, err)
}

func TestLoadKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	keys := map[string]string{
		"alpha":         testKey(1).Secret(),
		"beta":          testKey(2).Secret(),
		"gamma":         "PASTE_PRIVATE_KEY_HERE",
		"VENUE_API_KEY": "k-123",
	}
	raw, _ := json.Marshal(keys)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	kf, err := LoadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, kf.Names())
	assert.Equal(t, "k-123", kf.VenueAPIKey)
	assert.Equal(t, testKey(1).PublicKey(), kf.Agents["alpha"].PublicKey())
}

func TestLoadKeyFile_BadKeyNamesAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alpha":"abc","beta":"`+testKey(2).Secret()+`"}`), 0o600))

	kf, err := LoadKeyFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
	assert.Contains(t, kf.Agents, "beta")
}

func TestSignTransaction(t *testing.T) {
	kp := testKey(3)
	unsigned, err := BuildUnsignedTx(kp.PublicKey(), []byte("memo"))
	require.NoError(t, err)

	signed, sig, err := SignTransaction(unsigned, kp)
	require.NoError(t, err)
	require.Len(t, signed, len(unsigned))

	rawSig, err := base58.Decode(sig)
	require.NoError(t, err)
	assert.Equal(t, rawSig, signed[1:65])

	pub, _ := base58.Decode(kp.PublicKey())
	assert.True(t, ed25519.Verify(pub, signed[65:], rawSig))
	assert.Equal(t, make([]byte, 64), unsigned[1:65], "input is not mutated")
}

func TestSignTransaction_VersionedMessage(t *testing.T) {
	kp := testKey(4)
	legacy, err := BuildUnsignedTx(kp.PublicKey(), nil)
	require.NoError(t, err)
	// Insert the v0 prefix in front of the message.
	v0 := append(append(append([]byte{}, legacy[:65]...), 0x80), legacy[65:]...)

	_, _, err = SignTransaction(v0, kp)
	assert.NoError(t, err)
}

func TestSignTransaction_Rejects(t *testing.T) {
	kp := testKey(5)
	other := testKey(6)
	unsigned, err := BuildUnsignedTx(other.PublicKey(), nil)
	require.NoError(t, err)

	_, _, err = SignTransaction(unsigned, kp)
	assert.ErrorContains(t, err, "fee payer")

	_, _, err = SignTransaction([]byte{2, 0, 0}, kp)
	assert.ErrorIs(t, err, ErrMalformedTx)

	_, _, err = SignTransaction(nil, kp)
	assert.ErrorIs(t, err, ErrMalformedTx)
}

type rpcReq struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers single and batched JSON-RPC requests via handle.
func fakeNode(t *testing.T, handle func(method string, params []json.RawMessage) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reply := func(req rpcReq) map[string]any {
			return map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": handle(req.Method, req.Params)}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(body) > 0 && body[0] == '[' {
			var reqs []rpcReq
			require.NoError(t, json.Unmarshal(body, &reqs))
			out := make([]map[string]any, len(reqs))
			for i, rq := range reqs {
				out[i] = reply(rq)
			}
			_ = json.NewEncoder(w).Encode(out)
			return
		}
		var req rpcReq
		require.NoError(t, json.Unmarshal(body, &req))
		_ = json.NewEncoder(w).Encode(reply(req))
	}))
}

func TestClientCalls(t *testing.T) {
	var sentParams []json.RawMessage
	srv := fakeNode(t, func(method string, params []json.RawMessage) any {
		switch method {
		case "getBalance":
			var owner string
			_ = json.Unmarshal(params[0], &owner)
			if owner == "rich" {
				return map[string]any{"value": 2 * LamportsPerSOL}
			}
			return map[string]any{"value": 5_000_000}
		case "getTokenAccountsByOwner":
			acct := func(amt string) map[string]any {
				return map[string]any{"pubkey": "acc", "account": map[string]any{"data": map[string]any{"parsed": map[string]any{
					"info": map[string]any{"tokenAmount": map[string]any{"amount": amt, "decimals": 6}}}}}}
			}
			return map[string]any{"value": []any{acct("700"), acct("300")}}
		case "sendTransaction":
			sentParams = params
			return "SiG"
		case "getSignatureStatuses":
			return map[string]any{"value": []any{
				map[string]any{"slot": 10, "err": nil, "confirmationStatus": "confirmed"},
				nil,
				map[string]any{"slot": 11, "err": map[string]any{"InstructionError": []any{0, "Custom"}}, "confirmationStatus": "processed"},
			}}
		case "getLatestBlockhash":
			return map[string]any{"value": map[string]any{"blockhash": "HASH", "lastValidBlockHeight": 99}}
		}
		return nil
	})
	defer srv.Close()

	ctx := context.Background()
	c, err := Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	defer c.Close()

	bal, err := c.NativeBalance(ctx, "poor")
	require.NoError(t, err)
	assert.InDelta(t, 0.005, bal, 1e-12)

	many, errs, err := c.NativeBalances(ctx, []string{"poor", "rich"})
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.InDelta(t, 2.0, many["rich"], 1e-12)

	tokens, err := c.TokenBalance(ctx, "owner", "mint")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), tokens)

	sig, err := c.SendTransaction(ctx, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "SiG", sig)
	require.Len(t, sentParams, 2)
	assert.JSONEq(t, `"AQID"`, string(sentParams[0]))
	assert.Contains(t, string(sentParams[1]), `"skipPreflight":true`)

	st, err := c.SignatureStatuses(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, st, 3)
	assert.True(t, st[0].Landed())
	assert.Nil(t, st[1])
	assert.True(t, st[2].Failed())
	assert.False(t, st[2].Landed())

	hash, height, err := c.LatestBlockhash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "HASH", hash)
	assert.Equal(t, uint64(99), height)
}

func TestBundleClient(t *testing.T) {
	var got []string
	srv := fakeNode(t, func(method string, params []json.RawMessage) any {
		if method == "sendBundle" {
			_ = json.Unmarshal(params[0], &got)
			return "bundle-1"
		}
		return nil
	})
	defer srv.Close()

	ctx := context.Background()
	b, err := DialBundle(ctx, srv.URL, nil)
	require.NoError(t, err)
	defer b.Close()

	id, err := b.SendBundle(ctx, [][]byte{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, "bundle-1", id)
	assert.Equal(t, []string{base58.Encode([]byte{1}), base58.Encode([]byte{2})}, got)

	_, err = b.SendBundle(ctx, make([][]byte, MaxBundleSize+1))
	assert.Error(t, err)
}
