package squads

import (
	"bytes"
	"context"
	"fmt"

	ag_binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/hogyzen12/squads-go/generated/squads_multisig_program"
)

// AccountReader returns the raw data of an on-chain account.
type AccountReader interface {
	AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)
}

// MultisigInfo is the decoded multisig account.
type MultisigInfo struct {
	Address               solana.PublicKey
	Threshold             uint16
	TimeLock              uint32
	Members               []Member
	DefaultVault          solana.PublicKey
	TransactionIndex      uint64
	StaleTransactionIndex uint64
}

// Member returns the member entry for key.
func (m *MultisigInfo) Member(key solana.PublicKey) (Member, bool) {
	for _, member := range m.Members {
		if member.Key.Equals(key) {
			return member, true
		}
	}
	return Member{}, false
}

// FetchTreasury reads the program config account and returns its treasury.
func (p *Program) FetchTreasury(ctx context.Context, r AccountReader) (solana.PublicKey, error) {
	addr, _, err := p.ProgramConfig()
	if err != nil {
		return solana.PublicKey{}, err
	}
	data, err := r.AccountData(ctx, addr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to fetch program config: %w", err)
	}
	if len(data) <= 8 {
		return solana.PublicKey{}, fmt.Errorf("program config account data too short")
	}

	var programConfig squads_multisig_program.ProgramConfig
	if err := programConfig.UnmarshalWithDecoder(ag_binary.NewBorshDecoder(data)); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to decode program config: %w", err)
	}
	return programConfig.Treasury, nil
}

// FetchMultisig loads and decodes the multisig account at addr.
func (p *Program) FetchMultisig(ctx context.Context, r AccountReader, addr solana.PublicKey) (*MultisigInfo, error) {
	data, err := r.AccountData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch multisig %s: %w", addr, err)
	}

	var ms squads_multisig_program.Multisig
	if err := ms.UnmarshalWithDecoder(ag_binary.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to decode multisig %s: %w", addr, err)
	}

	vault0, _, err := p.Vault(addr, 0)
	if err != nil {
		return nil, err
	}
	info := &MultisigInfo{
		Address:               addr,
		Threshold:             ms.Threshold,
		TimeLock:              ms.TimeLock,
		DefaultVault:          vault0,
		TransactionIndex:      ms.TransactionIndex,
		StaleTransactionIndex: ms.StaleTransactionIndex,
	}
	for _, m := range ms.Members {
		info.Members = append(info.Members, Member{Key: m.Key, Permissions: m.Permissions.Mask})
	}
	return info, nil
}

// EncodeMultisigAccount produces account data in the program's layout.
func EncodeMultisigAccount(info *MultisigInfo) ([]byte, error) {
	ms := squads_multisig_program.Multisig{
		Threshold:             info.Threshold,
		TimeLock:              info.TimeLock,
		TransactionIndex:      info.TransactionIndex,
		StaleTransactionIndex: info.StaleTransactionIndex,
	}
	for _, m := range info.Members {
		ms.Members = append(ms.Members, squads_multisig_program.Member{
			Key:         m.Key,
			Permissions: squads_multisig_program.Permissions{Mask: m.Permissions},
		})
	}
	buf := new(bytes.Buffer)
	if err := ag_binary.NewBorshEncoder(buf).Encode(&ms); err != nil {
		return nil, fmt.Errorf("failed to encode multisig: %w", err)
	}
	return buf.Bytes(), nil
}

func EncodeProgramConfigAccount(treasury solana.PublicKey) ([]byte, error) {
	cfg := squads_multisig_program.ProgramConfig{Treasury: treasury}
	buf := new(bytes.Buffer)
	if err := ag_binary.NewBorshEncoder(buf).Encode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to encode program config: %w", err)
	}
	return buf.Bytes(), nil
}

// ProposalStatus follows the program's enum order.
type ProposalStatus uint8

const (
	ProposalDraft ProposalStatus = iota
	ProposalActive
	ProposalRejected
	ProposalApproved
	ProposalExecuting
	ProposalExecuted
	ProposalCancelled
)

var proposalStatusNames = [...]string{"draft", "active", "rejected", "approved", "executing", "executed", "cancelled"}

func (s ProposalStatus) String() string {
	if int(s) < len(proposalStatusNames) {
		return proposalStatusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func ParseProposalStatus(s string) (ProposalStatus, bool) {
	for i, name := range proposalStatusNames {
		if name == s {
			return ProposalStatus(i), true
		}
	}
	return 0, false
}

// Terminal reports whether no further votes or execution are possible.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalRejected || s == ProposalExecuted || s == ProposalCancelled
}

type ProposalAccount struct {
	Multisig         solana.PublicKey
	TransactionIndex uint64
	Status           ProposalStatus
	Timestamp        int64
	Bump             uint8
	Approved         []solana.PublicKey
	Rejected         []solana.PublicKey
	Cancelled        []solana.PublicKey
}

func (a *ProposalAccount) Marshal() ([]byte, error) {
	w := newWriter()
	w.disc(discAccountProposal)
	w.pubkey(a.Multisig)
	w.u64(a.TransactionIndex)
	w.u8(uint8(a.Status))
	if a.Status != ProposalExecuting {
		w.i64(a.Timestamp)
	}
	w.u8(a.Bump)
	w.pubkeyVec(a.Approved)
	w.pubkeyVec(a.Rejected)
	w.pubkeyVec(a.Cancelled)
	return w.bytes()
}

func UnmarshalProposal(data []byte) (*ProposalAccount, error) {
	r := newReader(data)
	r.expect(discAccountProposal, "proposal")
	a := &ProposalAccount{
		Multisig:         r.pubkey(),
		TransactionIndex: r.u64(),
		Status:           ProposalStatus(r.u8()),
	}
	if a.Status != ProposalExecuting {
		a.Timestamp = r.i64()
	}
	a.Bump = r.u8()
	a.Approved = r.pubkeyVec()
	a.Rejected = r.pubkeyVec()
	a.Cancelled = r.pubkeyVec()
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode proposal: %w", r.err)
	}
	return a, nil
}

func (p *Program) FetchProposal(ctx context.Context, r AccountReader, multisig solana.PublicKey, index uint64) (*ProposalAccount, error) {
	addr, _, err := p.Proposal(multisig, index)
	if err != nil {
		return nil, err
	}
	data, err := r.AccountData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proposal %d of %s: %w", index, multisig, err)
	}
	return UnmarshalProposal(data)
}

type VaultTransactionAccount struct {
	Multisig             solana.PublicKey
	Creator              solana.PublicKey
	Index                uint64
	Bump                 uint8
	VaultIndex           uint8
	VaultBump            uint8
	EphemeralSignerBumps []byte
	Message              *TransactionMessage
}

func (a *VaultTransactionAccount) Marshal() ([]byte, error) {
	w := newWriter()
	w.disc(discAccountVaultTransaction)
	w.pubkey(a.Multisig)
	w.pubkey(a.Creator)
	w.u64(a.Index)
	w.u8(a.Bump)
	w.u8(a.VaultIndex)
	w.u8(a.VaultBump)
	w.bytesVec(a.EphemeralSignerBumps)
	a.Message.marshalStored(w)
	return w.bytes()
}

func UnmarshalVaultTransaction(data []byte) (*VaultTransactionAccount, error) {
	r := newReader(data)
	r.expect(discAccountVaultTransaction, "vault transaction")
	a := &VaultTransactionAccount{
		Multisig:   r.pubkey(),
		Creator:    r.pubkey(),
		Index:      r.u64(),
		Bump:       r.u8(),
		VaultIndex: r.u8(),
		VaultBump:  r.u8(),
	}
	a.EphemeralSignerBumps = r.bytesVec()
	a.Message = unmarshalStored(r)
	if r.err != nil {
		return nil, fmt.Errorf("failed to decode vault transaction: %w", r.err)
	}
	if err := a.Message.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (p *Program) FetchVaultTransaction(ctx context.Context, r AccountReader, multisig solana.PublicKey, index uint64) (*VaultTransactionAccount, error) {
	addr, _, err := p.Transaction(multisig, index)
	if err != nil {
		return nil, err
	}
	data, err := r.AccountData(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vault transaction %d of %s: %w", index, multisig, err)
	}
	return UnmarshalVaultTransaction(data)
}
