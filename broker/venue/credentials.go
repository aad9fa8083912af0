package venue

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNoCredentials   = errors.New("venue credentials not configured")
	ErrAddressMismatch = errors.New("account address does not match signing key")
)

// Credentials hold the account address and the key that signs its actions.
type Credentials struct {
	Address common.Address
	key     *ecdsa.PrivateKey
}

// ParseCredentials loads a hex secret key. An empty address is derived from
// the key; a non-empty one must match it.
func ParseCredentials(address, secret string) (*Credentials, error) {
	secret = strings.TrimPrefix(strings.TrimSpace(secret), "0x")
	if secret == "" {
		return nil, ErrNoCredentials
	}
	key, err := crypto.HexToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	derived := crypto.PubkeyToAddress(key.PublicKey)

	address = strings.TrimSpace(address)
	if address != "" {
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid account address %q", address)
		}
		if common.HexToAddress(address) != derived {
			return nil, fmt.Errorf("%w: %s != %s", ErrAddressMismatch, address, derived.Hex())
		}
	}
	return &Credentials{Address: derived, key: key}, nil
}

// Sign returns the 0x-prefixed recoverable signature over keccak256(payload).
func (c *Credentials) Sign(payload []byte) (string, error) {
	hash := crypto.Keccak256Hash(payload)
	sig, err := crypto.Sign(hash.Bytes(), c.key)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}
