// Package store persists the proposals this process has submitted, keyed by
// multisig address and transaction index.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"squadsflow-go/internal/squads"
)

var ErrNotFound = errors.New("tracked proposal not found")

type Entry struct {
	Multisig   solana.PublicKey
	Index      uint64
	VaultIndex uint8
	// Message is the compact vault transaction message; empty when the
	// proposal was discovered rather than created here.
	Message    []byte
	Status     squads.ProposalStatus
	Approvals  []solana.PublicKey
	Rejections []solana.PublicKey
	Signature  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Message = append([]byte(nil), e.Message...)
	c.Approvals = append([]solana.PublicKey(nil), e.Approvals...)
	c.Rejections = append([]solana.PublicKey(nil), e.Rejections...)
	return &c
}

type Store interface {
	// Put inserts or replaces the entry for (Multisig, Index).
	Put(ctx context.Context, e *Entry) error
	Get(ctx context.Context, multisig solana.PublicKey, index uint64) (*Entry, error)
	// List returns the entries of one multisig ordered by index.
	List(ctx context.Context, multisig solana.PublicKey) ([]*Entry, error)
	// Pending returns entries of every multisig whose status is not terminal.
	Pending(ctx context.Context) ([]*Entry, error)
	Close() error
}

// Open returns the store selected by driver: "memory" or "sqlite".
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return OpenSQLite(path)
	}
	return nil, errors.New("unknown store driver " + driver)
}
