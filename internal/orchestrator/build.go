package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"squadsflow-go/internal/squads"
	"squadsflow-go/internal/store"
)

type InitializeParams struct {
	// Members all receive the full permission set.
	Members   []solana.PublicKey
	Threshold uint16
	TimeLock  uint32
	// ConfigAuthority defaults to the payer.
	ConfigAuthority *solana.PublicKey
	Memo            *string
}

type InitializePlan struct {
	Instruction solana.Instruction
	// CreateKey must sign the creating transaction and is not needed after.
	CreateKey solana.PrivateKey
	Multisig  solana.PublicKey
}

// BuildInitialize builds multisig_create_v2 under a fresh create key. The
// treasury is read from the program config on every call.
func (o *Orchestrator) BuildInitialize(ctx context.Context, p InitializeParams) (*InitializePlan, error) {
	if len(p.Members) == 0 {
		return nil, errors.New("at least one member is required")
	}
	threshold := p.Threshold
	if threshold == 0 {
		threshold = 1
	}
	authority := p.ConfigAuthority
	if authority == nil {
		payer := o.payer.PublicKey()
		authority = &payer
	}

	treasury, err := o.program.FetchTreasury(ctx, o.ledger)
	if err != nil {
		return nil, err
	}

	members := make([]squads.Member, len(p.Members))
	for i, key := range p.Members {
		members[i] = squads.Member{Key: key, Permissions: squads.PermissionFull}
	}
	createKey := solana.NewWallet().PrivateKey
	ix, multisig, err := o.program.CreateMultisig(squads.CreateMultisigAccounts{
		CreateKey: createKey.PublicKey(),
		Creator:   o.payer.PublicKey(),
		Treasury:  treasury,
	}, squads.MultisigCreateArgs{
		ConfigAuthority: authority,
		Threshold:       threshold,
		Members:         members,
		TimeLock:        p.TimeLock,
		Memo:            p.Memo,
	})
	if err != nil {
		return nil, err
	}
	return &InitializePlan{Instruction: ix, CreateKey: createKey, Multisig: multisig}, nil
}

type SpendingLimitParams struct {
	VaultIndex uint8
	// Mint is the zero key for native SOL.
	Mint   solana.PublicKey
	Amount uint64
	Period squads.Period
	// Members may use the limit; defaults to the payer.
	Members []solana.PublicKey
	// Destinations restricts where funds may go; empty means anywhere.
	Destinations []solana.PublicKey
	Memo         *string
}

type SpendingLimitPlan struct {
	Instruction solana.Instruction
	CreateKey   solana.PublicKey
	Address     solana.PublicKey
}

// BuildSpendingLimit builds multisig_add_spending_limit with a fresh create
// key, so calling it twice yields two independent limits.
func (o *Orchestrator) BuildSpendingLimit(multisig solana.PublicKey, p SpendingLimitParams) (*SpendingLimitPlan, error) {
	members := p.Members
	if len(members) == 0 {
		members = []solana.PublicKey{o.payer.PublicKey()}
	}
	createKey := solana.NewWallet().PublicKey()
	ix, addr, err := o.program.AddSpendingLimit(squads.SpendingLimitAccounts{
		Multisig:        multisig,
		ConfigAuthority: o.payer.PublicKey(),
		RentPayer:       o.payer.PublicKey(),
	}, squads.SpendingLimitArgs{
		CreateKey:    createKey,
		VaultIndex:   p.VaultIndex,
		Mint:         p.Mint,
		Amount:       p.Amount,
		Period:       p.Period,
		Members:      members,
		Destinations: p.Destinations,
		Memo:         p.Memo,
	})
	if err != nil {
		return nil, err
	}
	return &SpendingLimitPlan{Instruction: ix, CreateKey: createKey, Address: addr}, nil
}

type ProposalParams struct {
	// Proposer creates the vault transaction and proposal and casts the
	// first approval.
	Proposer     solana.PublicKey
	VaultIndex   uint8
	Instructions []solana.Instruction
	Memo         *string
}

type ProposalPlan struct {
	Index        uint64
	Vault        solana.PublicKey
	Message      *squads.TransactionMessage
	Instructions []solana.Instruction
}

// BuildProposal reads the multisig once and builds the vault transaction,
// proposal and approval for the next transaction index. If another proposal
// lands first the program rejects the plan.
func (o *Orchestrator) BuildProposal(ctx context.Context, multisig solana.PublicKey, p ProposalParams) (*ProposalPlan, error) {
	info, err := o.Info(ctx, multisig)
	if err != nil {
		return nil, err
	}
	index := info.TransactionIndex + 1

	vault, _, err := o.program.Vault(multisig, p.VaultIndex)
	if err != nil {
		return nil, err
	}
	msg, err := squads.CompileMessage(vault, p.Instructions)
	if err != nil {
		return nil, err
	}
	encoded, err := msg.MarshalCompact()
	if err != nil {
		return nil, err
	}

	accts := squads.TransactionAccounts{
		Multisig:  multisig,
		Creator:   p.Proposer,
		RentPayer: o.payer.PublicKey(),
	}
	createTx, err := o.program.CreateVaultTransaction(accts, index, squads.VaultTransactionArgs{
		VaultIndex: p.VaultIndex,
		Message:    encoded,
		Memo:       p.Memo,
	})
	if err != nil {
		return nil, err
	}
	createProposal, err := o.program.CreateProposal(accts, squads.ProposalCreateArgs{TransactionIndex: index})
	if err != nil {
		return nil, err
	}
	approve, err := o.program.ProposalVote(squads.VoteApprove, multisig, p.Proposer, index, nil)
	if err != nil {
		return nil, err
	}
	return &ProposalPlan{
		Index:        index,
		Vault:        vault,
		Message:      msg,
		Instructions: []solana.Instruction{createTx, createProposal, approve},
	}, nil
}

// BuildExecute builds vault_transaction_execute for index. The message comes
// from the tracker, or from the vault transaction account when the proposal
// was not created here.
func (o *Orchestrator) BuildExecute(ctx context.Context, multisig solana.PublicKey, index uint64, member solana.PublicKey) (solana.Instruction, error) {
	msg, err := o.message(ctx, multisig, index)
	if err != nil {
		return nil, err
	}
	return o.program.ExecuteVaultTransaction(multisig, member, index, msg)
}

func (o *Orchestrator) message(ctx context.Context, multisig solana.PublicKey, index uint64) (*squads.TransactionMessage, error) {
	e, err := o.store.Get(ctx, multisig, index)
	switch {
	case err == nil && len(e.Message) > 0:
		msg, err := squads.UnmarshalCompactMessage(e.Message)
		if err != nil {
			return nil, fmt.Errorf("tracked message for %d of %s: %w", index, multisig, err)
		}
		return msg, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	tx, err := o.program.FetchVaultTransaction(ctx, o.ledger, multisig, index)
	if err != nil {
		return nil, err
	}
	return tx.Message, nil
}
