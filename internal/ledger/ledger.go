// Package ledger is the connection to the Solana cluster: blockhashes,
// account reads and transaction submission.
package ledger

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrAccountNotFound is returned by AccountData when the account does not exist.
var ErrAccountNotFound = errors.New("account not found")

type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)
	// SendAndConfirm submits a signed transaction and waits until it is
	// confirmed or fails.
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Keyring resolves the private keys that sign a transaction.
type Keyring map[solana.PublicKey]solana.PrivateKey

func NewKeyring(keys ...solana.PrivateKey) Keyring {
	kr := make(Keyring, len(keys))
	for _, k := range keys {
		kr[k.PublicKey()] = k
	}
	return kr
}

func (kr Keyring) Get(key solana.PublicKey) *solana.PrivateKey {
	if k, ok := kr[key]; ok {
		return &k
	}
	return nil
}

// BuildSigned assembles instructions into a transaction paid by payer and
// signs it with every required key from signers.
func BuildSigned(ctx context.Context, l Ledger, instructions []solana.Instruction, payer solana.PublicKey, signers Keyring) (*solana.Transaction, error) {
	hash, err := l.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction(instructions, hash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, err
	}
	if _, err := tx.Sign(signers.Get); err != nil {
		return nil, err
	}
	return tx, nil
}
