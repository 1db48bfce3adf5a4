package orchestrator

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"squadsflow-go/internal/squads"
)

type SequenceParams struct {
	// Agent is the second member; it proposes, approves and executes.
	Agent solana.PublicKey
	// LimitAmount is the daily SOL spending limit in lamports.
	LimitAmount uint64
	// Recipient receives Lamports from the vault. With zero lamports the
	// proposed transaction has no instructions.
	Recipient solana.PublicKey
	Lamports  uint64
}

type SequenceResult struct {
	Create        *CreateResult
	SpendingLimit *SpendingLimitResult
	Proposal      *ProposalResult
	Execute       solana.Signature
}

// RunSequence walks the whole workflow once: create a multisig of the payer
// and agent with threshold 1, attach a daily SOL limit for the agent, propose
// a transfer from the default vault, and execute it. It stops at the first
// failing step and returns what completed so far.
func (o *Orchestrator) RunSequence(ctx context.Context, p SequenceParams) (*SequenceResult, error) {
	res := &SequenceResult{}
	var err error

	res.Create, err = o.CreateMultisig(ctx, InitializeParams{
		Members:   []solana.PublicKey{o.payer.PublicKey(), p.Agent},
		Threshold: 1,
	})
	if err != nil {
		return res, err
	}
	multisig := res.Create.Multisig

	res.SpendingLimit, err = o.AttachSpendingLimit(ctx, multisig, SpendingLimitParams{
		Amount:  p.LimitAmount,
		Period:  squads.PeriodDay,
		Members: []solana.PublicKey{p.Agent},
	})
	if err != nil {
		return res, err
	}

	var instructions []solana.Instruction
	if p.Lamports > 0 {
		instructions = append(instructions,
			system.NewTransferInstruction(p.Lamports, res.Create.Vault, p.Recipient).Build())
	}
	res.Proposal, err = o.ProposeAndApprove(ctx, multisig, ProposalParams{
		Proposer:     p.Agent,
		Instructions: instructions,
	})
	if err != nil {
		return res, err
	}

	res.Execute, err = o.Execute(ctx, multisig, res.Proposal.Index, p.Agent)
	if err != nil {
		return res, err
	}
	o.log.Info("sequence complete",
		zap.Stringer("multisig", multisig),
		zap.Uint64("index", res.Proposal.Index),
	)
	return res, nil
}
