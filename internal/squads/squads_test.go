package squads

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressesAreDeterministic(t *testing.T) {
	p := NewProgram(solana.PublicKey{})
	require.Equal(t, DefaultProgramID, p.ProgramID)

	createKey := solana.NewWallet().PublicKey()
	a, bumpA, err := p.Multisig(createKey)
	require.NoError(t, err)
	b, bumpB, err := p.Multisig(createKey)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, bumpA, bumpB)

	other, _, err := p.Multisig(solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	tx1, _, err := p.Transaction(a, 1)
	require.NoError(t, err)
	tx2, _, err := p.Transaction(a, 2)
	require.NoError(t, err)
	prop1, _, err := p.Proposal(a, 1)
	require.NoError(t, err)
	assert.NotEqual(t, tx1, tx2)
	assert.NotEqual(t, tx1, prop1)

	v0, _, err := p.Vault(a, 0)
	require.NoError(t, err)
	v1, _, err := p.Vault(a, 1)
	require.NoError(t, err)
	assert.NotEqual(t, v0, v1)
}

func TestCompileMessage(t *testing.T) {
	vault := solana.NewWallet().PublicKey()

	t.Run("empty", func(t *testing.T) {
		msg, err := CompileMessage(vault, nil)
		require.NoError(t, err)
		assert.Equal(t, []solana.PublicKey{vault}, msg.AccountKeys)
		assert.EqualValues(t, 1, msg.NumSigners)
		assert.EqualValues(t, 1, msg.NumWritableSigners)
		assert.Empty(t, msg.Instructions)
	})

	t.Run("transfer", func(t *testing.T) {
		to := solana.NewWallet().PublicKey()
		ix := system.NewTransferInstruction(1_000, vault, to).Build()

		msg, err := CompileMessage(vault, []solana.Instruction{ix})
		require.NoError(t, err)
		require.Equal(t, []solana.PublicKey{vault, to, solana.SystemProgramID}, msg.AccountKeys)
		assert.EqualValues(t, 1, msg.NumSigners)
		assert.EqualValues(t, 1, msg.NumWritableNonSigners)
		assert.True(t, msg.IsWritable(1))
		assert.False(t, msg.IsWritable(2))

		require.Len(t, msg.Instructions, 1)
		assert.EqualValues(t, 2, msg.Instructions[0].ProgramIDIndex)
		assert.Equal(t, []uint8{0, 1}, msg.Instructions[0].AccountIndexes)

		data, err := msg.MarshalCompact()
		require.NoError(t, err)
		decoded, err := UnmarshalCompactMessage(data)
		require.NoError(t, err)
		assert.Equal(t, msg.AccountKeys, decoded.AccountKeys)
		assert.Equal(t, msg.Instructions, decoded.Instructions)

		remaining := msg.RemainingAccounts()
		require.Len(t, remaining, 3)
		for _, acc := range remaining {
			assert.False(t, acc.IsSigner)
		}
	})
}

func TestUnmarshalCompactMessageRejectsBadIndexes(t *testing.T) {
	msg := &TransactionMessage{
		NumSigners:         1,
		NumWritableSigners: 1,
		AccountKeys:        []solana.PublicKey{solana.NewWallet().PublicKey()},
		Instructions:       []CompiledInstruction{{ProgramIDIndex: 4}},
	}
	data, err := msg.MarshalCompact()
	require.NoError(t, err)
	_, err = UnmarshalCompactMessage(data)
	require.Error(t, err)

	_, err = UnmarshalCompactMessage([]byte{1, 1})
	require.Error(t, err)
}

func TestSpendingLimitInstruction(t *testing.T) {
	p := NewProgram(DefaultProgramID)
	multisig := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	memo := "daily"
	args := SpendingLimitArgs{
		CreateKey:    solana.NewWallet().PublicKey(),
		Mint:         solana.PublicKey{},
		Amount:       1_000_000_000,
		Period:       PeriodDay,
		Members:      []solana.PublicKey{authority},
		Destinations: nil,
		Memo:         &memo,
	}

	ix, limit, err := p.AddSpendingLimit(SpendingLimitAccounts{
		Multisig:        multisig,
		ConfigAuthority: authority,
		RentPayer:       authority,
	}, args)
	require.NoError(t, err)

	want, _, err := p.SpendingLimit(multisig, args.CreateKey)
	require.NoError(t, err)
	assert.Equal(t, want, limit)
	assert.Equal(t, limit, ix.Accounts()[2].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	disc, rest, err := SplitInstruction(data)
	require.NoError(t, err)
	assert.Equal(t, DiscMultisigAddSpendingLimit, disc)

	decoded, err := DecodeSpendingLimitArgs(rest)
	require.NoError(t, err)
	assert.Equal(t, args.CreateKey, decoded.CreateKey)
	assert.Equal(t, args.Amount, decoded.Amount)
	assert.Equal(t, PeriodDay, decoded.Period)
	assert.Equal(t, args.Members, decoded.Members)
	assert.Empty(t, decoded.Destinations)
	require.NotNil(t, decoded.Memo)
	assert.Equal(t, memo, *decoded.Memo)
}

func TestCreateMultisigInstruction(t *testing.T) {
	p := NewProgram(DefaultProgramID)
	createKey := solana.NewWallet().PublicKey()
	creator := solana.NewWallet().PublicKey()
	agent := solana.NewWallet().PublicKey()

	ix, addr, err := p.CreateMultisig(CreateMultisigAccounts{
		CreateKey: createKey,
		Creator:   creator,
		Treasury:  solana.NewWallet().PublicKey(),
	}, MultisigCreateArgs{
		ConfigAuthority: &creator,
		Threshold:       1,
		Members: []Member{
			{Key: creator, Permissions: PermissionFull},
			{Key: agent, Permissions: PermissionFull},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, p.ProgramID, ix.ProgramID())

	want, _, err := p.Multisig(createKey)
	require.NoError(t, err)
	assert.Equal(t, want, addr)

	data, err := ix.Data()
	require.NoError(t, err)
	require.True(t, IsInstruction(data, DiscMultisigCreateV2))
	args, err := DecodeMultisigCreateArgs(data[8:])
	require.NoError(t, err)
	assert.EqualValues(t, 1, args.Threshold)
	require.Len(t, args.Members, 2)
	assert.Equal(t, agent, args.Members[1].Key)
	assert.True(t, args.Members[1].Has(PermissionExecute))
}

func TestProposalAccountLayout(t *testing.T) {
	voter := solana.NewWallet().PublicKey()
	p := &ProposalAccount{
		Multisig:         solana.NewWallet().PublicKey(),
		TransactionIndex: 7,
		Status:           ProposalApproved,
		Timestamp:        1_700_000_000,
		Bump:             254,
		Approved:         []solana.PublicKey{voter},
	}
	data, err := p.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalProposal(data)
	require.NoError(t, err)
	assert.Equal(t, p.Multisig, decoded.Multisig)
	assert.EqualValues(t, 7, decoded.TransactionIndex)
	assert.Equal(t, ProposalApproved, decoded.Status)
	assert.Equal(t, p.Timestamp, decoded.Timestamp)
	assert.Equal(t, p.Approved, decoded.Approved)

	_, err = UnmarshalProposal(data[:20])
	require.Error(t, err)
}

func TestProposalStatus(t *testing.T) {
	for s := ProposalDraft; s <= ProposalCancelled; s++ {
		parsed, ok := ParseProposalStatus(s.String())
		require.True(t, ok, s.String())
		assert.Equal(t, s, parsed)
	}
	assert.True(t, ProposalExecuted.Terminal())
	assert.False(t, ProposalApproved.Terminal())
}

func TestAsProgramError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  uint32
		stale bool
	}{
		{
			name:  "wrapped",
			err:   fmt.Errorf("send: %w", NewProgramError(0, CodeInvalidTransactionIndex)),
			code:  CodeInvalidTransactionIndex,
			stale: true,
		},
		{
			name: "rpc payload",
			err: &jsonrpc.RPCError{
				Code:    -32002,
				Message: "Transaction simulation failed",
				Data: map[string]interface{}{
					"err": map[string]interface{}{
						"InstructionError": []interface{}{1, map[string]interface{}{"Custom": 2006}},
					},
				},
			},
			code:  CodeConstraintSeeds,
			stale: true,
		},
		{
			name:  "execution error on confirmation",
			err:   errors.New("failed to send transaction: confirmed transaction with execution error: map[InstructionError:[0 map[Custom:2006]]]"),
			code:  CodeConstraintSeeds,
			stale: true,
		},
		{
			name: "log text",
			err:  errors.New("Program log: Error processing Instruction 2: custom program error: 0x1778"),
			code: CodeInvalidProposalStatus,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pe, ok := AsProgramError(tc.err)
			require.True(t, ok)
			assert.Equal(t, tc.code, pe.Code)
			assert.Equal(t, tc.stale, IsStale(tc.err))
			assert.ErrorIs(t, pe, ErrProgram)
		})
	}

	_, ok := AsProgramError(errors.New("connection refused"))
	assert.False(t, ok)
	assert.False(t, IsStale(errors.New("connection refused")))
}
