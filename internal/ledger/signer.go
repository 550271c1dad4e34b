package ledger

import (
	stded25519 "crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
)

// Signer holds the single authority credential used for every write.
type Signer struct {
	key ed25519.PrivKey
}

// NewSignerFromBase64 accepts base64 of either a 32-byte seed or a 64-byte
// secret key (seed followed by public key).
func NewSignerFromBase64(encoded string) (*Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode authority credential: %w", err)
	}
	switch len(raw) {
	case stded25519.SeedSize:
		return &Signer{key: ed25519.PrivKey(stded25519.NewKeyFromSeed(raw))}, nil
	case stded25519.PrivateKeySize:
		key := ed25519.PrivKey(append([]byte(nil), raw...))
		// the trailing half must be the public key of the leading seed
		derived := stded25519.NewKeyFromSeed(raw[:stded25519.SeedSize])
		if string(derived[stded25519.SeedSize:]) != string(raw[stded25519.SeedSize:]) {
			return nil, fmt.Errorf("authority credential: public half does not match seed")
		}
		return &Signer{key: key}, nil
	default:
		return nil, fmt.Errorf("authority credential: unexpected length %d bytes, want 32 or 64", len(raw))
	}
}

func (s *Signer) PubKey() crypto.PubKey { return s.key.PubKey() }

// Identity is the upper-case hex address the ledger stores as admin authority.
func (s *Signer) Identity() string { return s.key.PubKey().Address().String() }

func (s *Signer) Sign(msg []byte) ([]byte, error) { return s.key.Sign(msg) }
