package solana

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	signatureLen = 64
	pubkeyLen    = 32
)

var ErrMalformedTx = errors.New("solana: malformed transaction")

// decodeCompactU16 reads Solana's shortvec length prefix.
func decodeCompactU16(b []byte) (int, int, error) {
	var v, n int
	for n < 3 {
		if n >= len(b) {
			return 0, 0, ErrMalformedTx
		}
		c := b[n]
		v |= int(c&0x7f) << (7 * n)
		n++
		if c&0x80 == 0 {
			return v, n, nil
		}
	}
	return 0, 0, ErrMalformedTx
}

// SignTransaction signs the message of a serialized, unsigned transaction with
// kp and stores the signature in slot 0. The fee payer of the message must be kp.
// It returns the signed bytes and the base58 signature, which doubles as the
// transaction reference.
func SignTransaction(raw []byte, kp *Keypair) ([]byte, string, error) {
	count, n, err := decodeCompactU16(raw)
	if err != nil {
		return nil, "", err
	}
	if count < 1 {
		return nil, "", fmt.Errorf("%w: no signature slots", ErrMalformedTx)
	}
	msgStart := n + count*signatureLen
	if msgStart >= len(raw) {
		return nil, "", fmt.Errorf("%w: truncated", ErrMalformedTx)
	}
	msg := raw[msgStart:]

	payer, err := FeePayer(msg)
	if err != nil {
		return nil, "", err
	}
	if payer != kp.PublicKey() {
		return nil, "", fmt.Errorf("solana: fee payer %s is not signer %s", payer, kp.PublicKey())
	}

	out := bytes.Clone(raw)
	sig := kp.Sign(msg)
	copy(out[n:n+signatureLen], sig)
	return out, base58.Encode(sig), nil
}

// FeePayer returns the first account key of a legacy or v0 message.
func FeePayer(msg []byte) (string, error) {
	off := 0
	if len(msg) > 0 && msg[0]&0x80 != 0 {
		off = 1 // versioned message prefix
	}
	off += 3 // header
	if off >= len(msg) {
		return "", fmt.Errorf("%w: short message", ErrMalformedTx)
	}
	keys, n, err := decodeCompactU16(msg[off:])
	if err != nil {
		return "", err
	}
	off += n
	if keys < 1 || off+pubkeyLen > len(msg) {
		return "", fmt.Errorf("%w: no account keys", ErrMalformedTx)
	}
	return base58.Encode(msg[off : off+pubkeyLen]), nil
}

// BuildUnsignedTx assembles a minimal legacy transaction paying from payer.
// Only used by the paper venue and tests; real transactions come from venues.
func BuildUnsignedTx(payer string, memo []byte) ([]byte, error) {
	pk, err := base58.Decode(payer)
	if err != nil || len(pk) != pubkeyLen {
		return nil, fmt.Errorf("solana: bad payer %q", payer)
	}
	var b bytes.Buffer
	b.WriteByte(1)
	b.Write(make([]byte, signatureLen))
	// header: one required signer, no read-only accounts
	b.Write([]byte{1, 0, 0})
	b.WriteByte(1)
	b.Write(pk)
	// recent blockhash, then zero instructions
	b.Write(make([]byte, 32))
	b.WriteByte(0)
	b.Write(memo)
	return b.Bytes(), nil
}
