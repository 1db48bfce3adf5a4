package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squadsflow-go/internal/squads"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := Open("sqlite", filepath.Join(t.TempDir(), "proposals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestStore(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := solana.NewWallet().PublicKey()
			b := solana.NewWallet().PublicKey()
			voter := solana.NewWallet().PublicKey()
			created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			_, err := s.Get(ctx, a, 1)
			require.ErrorIs(t, err, ErrNotFound)

			first := &Entry{
				Multisig:  a,
				Index:     1,
				Message:   []byte{1, 1, 0, 1},
				Status:    squads.ProposalActive,
				Approvals: []solana.PublicKey{voter},
				Signature: "sig-1",
				CreatedAt: created,
				UpdatedAt: created,
			}
			require.NoError(t, s.Put(ctx, first))
			require.NoError(t, s.Put(ctx, &Entry{Multisig: a, Index: 2, Status: squads.ProposalExecuted, CreatedAt: created, UpdatedAt: created}))
			require.NoError(t, s.Put(ctx, &Entry{Multisig: b, Index: 1, Status: squads.ProposalApproved, CreatedAt: created, UpdatedAt: created}))

			got, err := s.Get(ctx, a, 1)
			require.NoError(t, err)
			assert.Equal(t, first.Message, got.Message)
			assert.Equal(t, squads.ProposalActive, got.Status)
			assert.Equal(t, []solana.PublicKey{voter}, got.Approvals)
			assert.Empty(t, got.Rejections)
			assert.Equal(t, "sig-1", got.Signature)
			assert.True(t, created.Equal(got.CreatedAt))

			first.Status = squads.ProposalRejected
			first.Rejections = []solana.PublicKey{voter}
			require.NoError(t, s.Put(ctx, first))
			got, err = s.Get(ctx, a, 1)
			require.NoError(t, err)
			assert.Equal(t, squads.ProposalRejected, got.Status)
			assert.Equal(t, []solana.PublicKey{voter}, got.Rejections)

			list, err := s.List(ctx, a)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.EqualValues(t, 1, list[0].Index)
			assert.EqualValues(t, 2, list[1].Index)

			pending, err := s.Pending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, b, pending[0].Multisig)
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	e := &Entry{Multisig: solana.NewWallet().PublicKey(), Index: 1, Message: []byte{1}}
	require.NoError(t, s.Put(ctx, e))
	e.Message[0] = 9

	got, err := s.Get(ctx, e.Multisig, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got.Message)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "")
	require.Error(t, err)
	_, err = Open("sqlite", "")
	require.Error(t, err)
}
