package squads

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/hogyzen12/squads-go/generated/squads_multisig_program"
)

// Program builds instructions for one deployment of the multisig program.
// Nothing here touches the network.
type Program struct {
	Addresses
}

func NewProgram(programID solana.PublicKey) *Program {
	return &Program{Addresses: NewAddresses(programID)}
}

// MultisigCreateArgs mirrors multisig_create_v2's arguments.
type MultisigCreateArgs struct {
	ConfigAuthority *solana.PublicKey
	Threshold       uint16
	Members         []Member
	TimeLock        uint32
	RentCollector   *solana.PublicKey
	Memo            *string
}

type CreateMultisigAccounts struct {
	CreateKey solana.PublicKey
	Creator   solana.PublicKey
	Treasury  solana.PublicKey
}

// CreateMultisig builds multisig_create_v2 and returns it with the derived
// multisig address.
func (p *Program) CreateMultisig(accts CreateMultisigAccounts, args MultisigCreateArgs) (solana.Instruction, solana.PublicKey, error) {
	multisigPDA, _, err := p.Multisig(accts.CreateKey)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	programConfigPDA, _, err := p.ProgramConfig()
	if err != nil {
		return nil, solana.PublicKey{}, err
	}

	members := make([]squads_multisig_program.Member, len(args.Members))
	for i, m := range args.Members {
		members[i] = squads_multisig_program.Member{
			Key:         m.Key,
			Permissions: squads_multisig_program.Permissions{Mask: m.Permissions},
		}
	}

	generated := squads_multisig_program.NewMultisigCreateV2Instruction(
		squads_multisig_program.MultisigCreateArgsV2{
			ConfigAuthority: args.ConfigAuthority,
			Threshold:       args.Threshold,
			Members:         members,
			TimeLock:        args.TimeLock,
			RentCollector:   args.RentCollector,
			Memo:            args.Memo,
		},
		programConfigPDA,
		accts.Treasury,
		multisigPDA,
		accts.CreateKey,
		accts.Creator,
		solana.SystemProgramID,
	).Build()

	// Re-home the generated instruction on our program id; the generated
	// package carries its own global.
	data, err := generated.Data()
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to encode multisig_create_v2: %w", err)
	}
	return solana.NewInstruction(p.ProgramID, generated.Accounts(), data), multisigPDA, nil
}

// SpendingLimitArgs mirrors multisig_add_spending_limit's arguments.
type SpendingLimitArgs struct {
	CreateKey    solana.PublicKey
	VaultIndex   uint8
	Mint         solana.PublicKey
	Amount       uint64
	Period       Period
	Members      []solana.PublicKey
	Destinations []solana.PublicKey
	Memo         *string
}

func (a SpendingLimitArgs) encode() ([]byte, error) {
	w := newWriter()
	w.disc(DiscMultisigAddSpendingLimit)
	w.pubkey(a.CreateKey)
	w.u8(a.VaultIndex)
	w.pubkey(a.Mint)
	w.u64(a.Amount)
	w.u8(uint8(a.Period))
	w.pubkeyVec(a.Members)
	w.pubkeyVec(a.Destinations)
	w.optStr(a.Memo)
	return w.bytes()
}

type SpendingLimitAccounts struct {
	Multisig        solana.PublicKey
	ConfigAuthority solana.PublicKey
	RentPayer       solana.PublicKey
}

// AddSpendingLimit builds multisig_add_spending_limit and returns it with the
// derived spending limit address.
func (p *Program) AddSpendingLimit(accts SpendingLimitAccounts, args SpendingLimitArgs) (solana.Instruction, solana.PublicKey, error) {
	limitPDA, _, err := p.SpendingLimit(accts.Multisig, args.CreateKey)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	data, err := args.encode()
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to encode multisig_add_spending_limit: %w", err)
	}
	accounts := []*solana.AccountMeta{
		{PublicKey: accts.Multisig, IsSigner: false, IsWritable: false},
		{PublicKey: accts.ConfigAuthority, IsSigner: true, IsWritable: false},
		{PublicKey: limitPDA, IsSigner: false, IsWritable: true},
		{PublicKey: accts.RentPayer, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(p.ProgramID, accounts, data), limitPDA, nil
}

// VaultTransactionArgs mirrors vault_transaction_create's arguments. Message
// is the compact encoding produced by TransactionMessage.MarshalCompact.
type VaultTransactionArgs struct {
	VaultIndex       uint8
	EphemeralSigners uint8
	Message          []byte
	Memo             *string
}

func (a VaultTransactionArgs) encode() ([]byte, error) {
	w := newWriter()
	w.disc(DiscVaultTransactionCreate)
	w.u8(a.VaultIndex)
	w.u8(a.EphemeralSigners)
	w.bytesVec(a.Message)
	w.optStr(a.Memo)
	return w.bytes()
}

type TransactionAccounts struct {
	Multisig  solana.PublicKey
	Creator   solana.PublicKey
	RentPayer solana.PublicKey
}

// CreateVaultTransaction builds vault_transaction_create for index. The program
// only accepts index == current transaction index + 1.
func (p *Program) CreateVaultTransaction(accts TransactionAccounts, index uint64, args VaultTransactionArgs) (solana.Instruction, error) {
	txPDA, _, err := p.Transaction(accts.Multisig, index)
	if err != nil {
		return nil, err
	}
	data, err := args.encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode vault_transaction_create: %w", err)
	}
	accounts := []*solana.AccountMeta{
		{PublicKey: accts.Multisig, IsSigner: false, IsWritable: true},
		{PublicKey: txPDA, IsSigner: false, IsWritable: true},
		{PublicKey: accts.Creator, IsSigner: true, IsWritable: false},
		{PublicKey: accts.RentPayer, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(p.ProgramID, accounts, data), nil
}

type ProposalCreateArgs struct {
	TransactionIndex uint64
	Draft            bool
}

func (a ProposalCreateArgs) encode() ([]byte, error) {
	w := newWriter()
	w.disc(DiscProposalCreate)
	w.u64(a.TransactionIndex)
	w.boolean(a.Draft)
	return w.bytes()
}

func (p *Program) CreateProposal(accts TransactionAccounts, args ProposalCreateArgs) (solana.Instruction, error) {
	proposalPDA, _, err := p.Proposal(accts.Multisig, args.TransactionIndex)
	if err != nil {
		return nil, err
	}
	data, err := args.encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal_create: %w", err)
	}
	accounts := []*solana.AccountMeta{
		{PublicKey: accts.Multisig, IsSigner: false, IsWritable: false},
		{PublicKey: proposalPDA, IsSigner: false, IsWritable: true},
		{PublicKey: accts.Creator, IsSigner: true, IsWritable: false},
		{PublicKey: accts.RentPayer, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(p.ProgramID, accounts, data), nil
}

// Vote is the direction of a proposal vote.
type Vote uint8

const (
	VoteApprove Vote = iota
	VoteReject
)

func (v Vote) discriminator() Discriminator {
	if v == VoteReject {
		return DiscProposalReject
	}
	return DiscProposalApprove
}

// ProposalVote builds proposal_approve or proposal_reject for member.
func (p *Program) ProposalVote(vote Vote, multisig, member solana.PublicKey, index uint64, memo *string) (solana.Instruction, error) {
	proposalPDA, _, err := p.Proposal(multisig, index)
	if err != nil {
		return nil, err
	}
	w := newWriter()
	w.disc(vote.discriminator())
	w.optStr(memo)
	data, err := w.bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal vote: %w", err)
	}
	accounts := []*solana.AccountMeta{
		{PublicKey: multisig, IsSigner: false, IsWritable: false},
		{PublicKey: member, IsSigner: true, IsWritable: true},
		{PublicKey: proposalPDA, IsSigner: false, IsWritable: true},
	}
	return solana.NewInstruction(p.ProgramID, accounts, data), nil
}

// ExecuteVaultTransaction builds vault_transaction_execute. The message must be
// the one stored for index; its keys are appended as remaining accounts.
func (p *Program) ExecuteVaultTransaction(multisig, member solana.PublicKey, index uint64, msg *TransactionMessage) (solana.Instruction, error) {
	if msg == nil {
		return nil, errors.New("vault_transaction_execute needs the stored message")
	}
	proposalPDA, _, err := p.Proposal(multisig, index)
	if err != nil {
		return nil, err
	}
	txPDA, _, err := p.Transaction(multisig, index)
	if err != nil {
		return nil, err
	}
	accounts := []*solana.AccountMeta{
		{PublicKey: multisig, IsSigner: false, IsWritable: false},
		{PublicKey: proposalPDA, IsSigner: false, IsWritable: true},
		{PublicKey: txPDA, IsSigner: false, IsWritable: false},
		{PublicKey: member, IsSigner: true, IsWritable: false},
	}
	accounts = append(accounts, msg.RemainingAccounts()...)
	return solana.NewInstruction(p.ProgramID, accounts, DiscVaultTransactionExecute[:]), nil
}

// Decoders for instruction data. They are the inverse of the builders above
// and are what a program emulator needs to interpret submitted transactions.

// SplitInstruction separates the discriminator from the argument bytes.
func SplitInstruction(data []byte) (Discriminator, []byte, error) {
	var d Discriminator
	if len(data) < len(d) {
		return d, nil, fmt.Errorf("instruction data too short: %d bytes", len(data))
	}
	copy(d[:], data)
	return d, data[len(d):], nil
}

func DecodeMultisigCreateArgs(args []byte) (*MultisigCreateArgs, error) {
	r := newReader(args)
	out := &MultisigCreateArgs{
		ConfigAuthority: r.optPubkey(),
		Threshold:       r.u16(),
	}
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		out.Members = append(out.Members, Member{Key: r.pubkey(), Permissions: r.u8()})
	}
	out.TimeLock = r.u32()
	out.RentCollector = r.optPubkey()
	out.Memo = r.optStr()
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode multisig_create_v2 args: %w", r.err)
	}
	return out, nil
}

func DecodeSpendingLimitArgs(args []byte) (*SpendingLimitArgs, error) {
	r := newReader(args)
	out := &SpendingLimitArgs{
		CreateKey:  r.pubkey(),
		VaultIndex: r.u8(),
		Mint:       r.pubkey(),
		Amount:     r.u64(),
		Period:     Period(r.u8()),
	}
	out.Members = r.pubkeyVec()
	out.Destinations = r.pubkeyVec()
	out.Memo = r.optStr()
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode multisig_add_spending_limit args: %w", r.err)
	}
	return out, nil
}

func DecodeVaultTransactionArgs(args []byte) (*VaultTransactionArgs, error) {
	r := newReader(args)
	out := &VaultTransactionArgs{
		VaultIndex:       r.u8(),
		EphemeralSigners: r.u8(),
	}
	out.Message = r.bytesVec()
	out.Memo = r.optStr()
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode vault_transaction_create args: %w", r.err)
	}
	return out, nil
}

func DecodeProposalCreateArgs(args []byte) (*ProposalCreateArgs, error) {
	r := newReader(args)
	out := &ProposalCreateArgs{TransactionIndex: r.u64(), Draft: r.boolean()}
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode proposal_create args: %w", r.err)
	}
	return out, nil
}

// IsInstruction reports whether data starts with d.
func IsInstruction(data []byte, d Discriminator) bool {
	return len(data) >= len(d) && bytes.Equal(data[:len(d)], d[:])
}
