package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedHash struct {
	hash solana.Hash
	err  error
}

func (f fixedHash) LatestBlockhash(context.Context) (solana.Hash, error) { return f.hash, f.err }

func (fixedHash) AccountData(context.Context, solana.PublicKey) ([]byte, error) {
	return nil, ErrAccountNotFound
}

func (fixedHash) SendAndConfirm(context.Context, *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, errors.New("not implemented")
}

func TestBuildSigned(t *testing.T) {
	payer := solana.NewWallet().PrivateKey
	from := solana.NewWallet().PrivateKey
	to := solana.NewWallet().PublicKey()
	hash := solana.Hash{1, 2, 3}

	ix := system.NewTransferInstruction(1, from.PublicKey(), to).Build()
	tx, err := BuildSigned(context.Background(), fixedHash{hash: hash}, []solana.Instruction{ix}, payer.PublicKey(), NewKeyring(payer, from))
	require.NoError(t, err)

	assert.Equal(t, hash, tx.Message.RecentBlockhash)
	assert.Equal(t, payer.PublicKey(), tx.Message.AccountKeys[0])
	require.Len(t, tx.Signatures, 2)
	require.NoError(t, tx.VerifySignatures())

	_, err = BuildSigned(context.Background(), fixedHash{hash: hash}, []solana.Instruction{ix}, payer.PublicKey(), NewKeyring(payer))
	require.Error(t, err)

	boom := errors.New("rpc down")
	_, err = BuildSigned(context.Background(), fixedHash{err: boom}, []solana.Instruction{ix}, payer.PublicKey(), NewKeyring(payer, from))
	require.ErrorIs(t, err, boom)
}

func TestKeyring(t *testing.T) {
	k := solana.NewWallet().PrivateKey
	kr := NewKeyring(k)
	require.NotNil(t, kr.Get(k.PublicKey()))
	assert.Equal(t, k, *kr.Get(k.PublicKey()))
	assert.Nil(t, kr.Get(solana.NewWallet().PublicKey()))
}

func TestSendOptsMatchReadCommitment(t *testing.T) {
	l := &RPC{cfg: RPCConfig{Commitment: rpc.CommitmentConfirmed}}
	opts := l.sendOpts()
	assert.Equal(t, rpc.CommitmentConfirmed, opts.PreflightCommitment)
	assert.False(t, opts.SkipPreflight)
}
