package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// LoadPrivateKey resolves a key reference: an existing solana-keygen JSON file,
// or a base58 encoded 64 byte secret key.
func LoadPrivateKey(ref string) (solana.PrivateKey, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("empty key reference")
	}
	if _, err := os.Stat(ref); err == nil {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(ref)
		if err != nil {
			return nil, fmt.Errorf("failed to read keygen file %s: %w", ref, err)
		}
		return key, nil
	}
	raw, err := base58.Decode(ref)
	if err != nil {
		return nil, errors.New("key is neither a keygen file nor base58")
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("base58 key has %d bytes, want 64", len(raw))
	}
	return solana.PrivateKey(raw), nil
}
