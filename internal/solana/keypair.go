package solana

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
)

// Keypair is an agent's signing key.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  string
}

// ParseKeypair decodes a base58 64-byte secret key (seed || public key).
func ParseKeypair(secret string) (*Keypair, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("solana: decode key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
	case ed25519.SeedSize:
		raw = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("solana: key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{priv: priv, pub: base58.Encode(pub)}, nil
}

// NewKeypairFromSeed is mostly useful in tests.
func NewKeypairFromSeed(seed []byte) *Keypair {
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{priv: priv, pub: base58.Encode(priv.Public().(ed25519.PublicKey))}
}

// PublicKey returns the base58 account address.
func (k *Keypair) PublicKey() string { return k.pub }

func (k *Keypair) Sign(msg []byte) []byte { return ed25519.Sign(k.priv, msg) }

// Secret returns the base58 form accepted by ParseKeypair.
func (k *Keypair) Secret() string { return base58.Encode(k.priv) }

// KeyFile is the parsed keys file: agent name -> keypair, plus an optional
// venue API key stored alongside.
type KeyFile struct {
	Agents      map[string]*Keypair
	VenueAPIKey string
}

// Names returns agent names in stable order.
func (f *KeyFile) Names() []string {
	out := make([]string, 0, len(f.Agents))
	for n := range f.Agents {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// venueKeyNames are entries of the keys file that hold API keys rather than agents.
var venueKeyNames = map[string]bool{"VENUE_API_KEY": true, "JUP_API_KEY": true}

// LoadKeyFile reads a JSON object of {name: base58Secret}. Placeholder values
// beginning with "PASTE" are skipped; an undecodable key is an error naming
// the agent.
func LoadKeyFile(path string) (*KeyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("solana: read keys: %w", err)
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("solana: parse keys: %w", err)
	}

	kf := &KeyFile{Agents: map[string]*Keypair{}}
	var errs []error
	for name, secret := range entries {
		if venueKeyNames[name] {
			kf.VenueAPIKey = secret
			continue
		}
		if secret == "" || strings.HasPrefix(secret, "PASTE") {
			continue
		}
		kp, err := ParseKeypair(secret)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		kf.Agents[name] = kp
	}
	if len(errs) > 0 {
		return kf, errors.Join(errs...)
	}
	return kf, nil
}
