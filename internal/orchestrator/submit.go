package orchestrator

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"squadsflow-go/internal/squads"
)

type CreateResult struct {
	Multisig  solana.PublicKey
	CreateKey solana.PublicKey
	Vault     solana.PublicKey
	Signature solana.Signature
}

// CreateMultisig creates a multisig owned by p.Members.
func (o *Orchestrator) CreateMultisig(ctx context.Context, p InitializeParams) (*CreateResult, error) {
	plan, err := o.BuildInitialize(ctx, p)
	if err != nil {
		return nil, err
	}
	sig, err := o.submit(ctx, "create_multisig", []solana.Instruction{plan.Instruction}, nil, plan.CreateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create multisig %s: %w", plan.Multisig, err)
	}
	vault, _, err := o.program.Vault(plan.Multisig, 0)
	if err != nil {
		return nil, err
	}
	o.log.Info("multisig created",
		zap.Stringer("multisig", plan.Multisig),
		zap.Stringer("vault", vault),
		zap.Stringer("signature", sig),
	)
	return &CreateResult{
		Multisig:  plan.Multisig,
		CreateKey: plan.CreateKey.PublicKey(),
		Vault:     vault,
		Signature: sig,
	}, nil
}

type SpendingLimitResult struct {
	Address   solana.PublicKey
	CreateKey solana.PublicKey
	Signature solana.Signature
}

// AttachSpendingLimit adds a new spending limit to multisig. The payer signs as
// config authority.
func (o *Orchestrator) AttachSpendingLimit(ctx context.Context, multisig solana.PublicKey, p SpendingLimitParams) (*SpendingLimitResult, error) {
	plan, err := o.BuildSpendingLimit(multisig, p)
	if err != nil {
		return nil, err
	}
	sig, err := o.submit(ctx, "add_spending_limit", []solana.Instruction{plan.Instruction}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to add spending limit to %s: %w", multisig, err)
	}
	o.log.Info("spending limit added",
		zap.Stringer("multisig", multisig),
		zap.Stringer("spending_limit", plan.Address),
		zap.Uint64("amount", p.Amount),
		zap.Stringer("period", p.Period),
	)
	return &SpendingLimitResult{Address: plan.Address, CreateKey: plan.CreateKey, Signature: sig}, nil
}

type ProposalResult struct {
	Index     uint64
	Vault     solana.PublicKey
	Signature solana.Signature
	Attempts  int
}

// ProposeAndApprove creates a vault transaction, its proposal and the
// proposer's approval in one transaction and returns the index it used. When
// the program rejects the plan because another proposal took the index, it
// re-reads the multisig and tries again, up to the configured attempt limit.
func (o *Orchestrator) ProposeAndApprove(ctx context.Context, multisig solana.PublicKey, p ProposalParams) (*ProposalResult, error) {
	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		plan, err := o.BuildProposal(ctx, multisig, p)
		if err != nil {
			return nil, err
		}
		sig, err := o.submit(ctx, "propose", plan.Instructions, []solana.PublicKey{p.Proposer})
		if err == nil {
			o.track(ctx, multisig, plan, p.VaultIndex, sig)
			o.log.Info("proposal created",
				zap.Stringer("multisig", multisig),
				zap.Uint64("index", plan.Index),
				zap.Int("attempt", attempt),
				zap.Stringer("signature", sig),
			)
			return &ProposalResult{Index: plan.Index, Vault: plan.Vault, Signature: sig, Attempts: attempt}, nil
		}
		if !squads.IsStale(err) {
			return nil, fmt.Errorf("failed to propose transaction %d on %s: %w", plan.Index, multisig, err)
		}
		lastErr = err
		o.metrics.ObserveProposeRetry()
		o.log.Warn("transaction index taken, re-reading",
			zap.Stringer("multisig", multisig),
			zap.Uint64("index", plan.Index),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("failed to propose on %s after %d attempts: %w", multisig, o.maxAttempts, lastErr)
}

// Approve casts member's approval on proposal index.
func (o *Orchestrator) Approve(ctx context.Context, multisig solana.PublicKey, index uint64, member solana.PublicKey) (solana.Signature, error) {
	return o.vote(ctx, squads.VoteApprove, multisig, index, member)
}

// Reject casts member's rejection on proposal index.
func (o *Orchestrator) Reject(ctx context.Context, multisig solana.PublicKey, index uint64, member solana.PublicKey) (solana.Signature, error) {
	return o.vote(ctx, squads.VoteReject, multisig, index, member)
}

func (o *Orchestrator) vote(ctx context.Context, v squads.Vote, multisig solana.PublicKey, index uint64, member solana.PublicKey) (solana.Signature, error) {
	op := "approve"
	if v == squads.VoteReject {
		op = "reject"
	}
	ix, err := o.program.ProposalVote(v, multisig, member, index, nil)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := o.submit(ctx, op, []solana.Instruction{ix}, []solana.PublicKey{member})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to %s proposal %d on %s: %w", op, index, multisig, err)
	}
	o.log.Info("vote cast",
		zap.String("vote", op),
		zap.Stringer("multisig", multisig),
		zap.Uint64("index", index),
		zap.Stringer("member", member),
	)
	o.refresh(ctx, multisig, index, sig)
	return sig, nil
}

// Execute submits vault_transaction_execute for index signed by member. No
// local check of the proposal's status is made; the program decides.
func (o *Orchestrator) Execute(ctx context.Context, multisig solana.PublicKey, index uint64, member solana.PublicKey) (solana.Signature, error) {
	ix, err := o.BuildExecute(ctx, multisig, index, member)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := o.submit(ctx, "execute", []solana.Instruction{ix}, []solana.PublicKey{member})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to execute transaction %d on %s: %w", index, multisig, err)
	}
	o.log.Info("transaction executed",
		zap.Stringer("multisig", multisig),
		zap.Uint64("index", index),
		zap.Stringer("signature", sig),
	)
	o.refresh(ctx, multisig, index, sig)
	return sig, nil
}
