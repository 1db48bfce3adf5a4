package orchestrator

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"squadsflow-go/internal/squads"
	"squadsflow-go/internal/store"
)

// track records a proposal created by this process. The chain stays the
// source of truth; failures here are logged and do not fail the operation.
func (o *Orchestrator) track(ctx context.Context, multisig solana.PublicKey, plan *ProposalPlan, vaultIndex uint8, sig solana.Signature) {
	encoded, err := plan.Message.MarshalCompact()
	if err != nil {
		o.log.Warn("failed to encode tracked message", zap.Error(err))
	}
	now := o.clock.Now().UTC()
	e := &store.Entry{
		Multisig:   multisig,
		Index:      plan.Index,
		VaultIndex: vaultIndex,
		Message:    encoded,
		Status:     squads.ProposalActive,
		Signature:  sig.String(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if p, err := o.Proposal(ctx, multisig, plan.Index); err == nil {
		apply(e, p)
	} else {
		o.log.Warn("failed to read new proposal", zap.Uint64("index", plan.Index), zap.Error(err))
	}
	if err := o.store.Put(ctx, e); err != nil {
		o.log.Warn("failed to track proposal", zap.Uint64("index", plan.Index), zap.Error(err))
	}
}

// refresh re-reads a proposal after a vote or execution and updates its entry,
// creating one for proposals made elsewhere.
func (o *Orchestrator) refresh(ctx context.Context, multisig solana.PublicKey, index uint64, sig solana.Signature) {
	e, err := o.Reconcile(ctx, multisig, index)
	if err != nil {
		o.log.Warn("failed to refresh proposal", zap.Uint64("index", index), zap.Error(err))
		return
	}
	e.Signature = sig.String()
	if err := o.store.Put(ctx, e); err != nil {
		o.log.Warn("failed to track proposal", zap.Uint64("index", index), zap.Error(err))
	}
}

// Reconcile brings the tracked entry for index in line with the proposal
// account and stores it.
func (o *Orchestrator) Reconcile(ctx context.Context, multisig solana.PublicKey, index uint64) (*store.Entry, error) {
	p, err := o.Proposal(ctx, multisig, index)
	if err != nil {
		return nil, err
	}
	e, err := o.store.Get(ctx, multisig, index)
	if errors.Is(err, store.ErrNotFound) {
		e = &store.Entry{Multisig: multisig, Index: index, CreatedAt: o.clock.Now().UTC()}
	} else if err != nil {
		return nil, err
	}
	apply(e, p)
	e.UpdatedAt = o.clock.Now().UTC()
	if err := o.store.Put(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func apply(e *store.Entry, p *squads.ProposalAccount) {
	e.Status = p.Status
	e.Approvals = p.Approved
	e.Rejections = p.Rejected
}

// Pending returns the tracked proposals that can still change.
func (o *Orchestrator) Pending(ctx context.Context) ([]*store.Entry, error) {
	return o.store.Pending(ctx)
}
