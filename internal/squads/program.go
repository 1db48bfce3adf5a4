package squads

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the Squads v4 deployment on mainnet and devnet.
var DefaultProgramID = solana.MustPublicKeyFromBase58("SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf")

// Permission bits, one canonical definition for the whole module.
const (
	PermissionInitiate uint8 = 1 << 0
	PermissionVote     uint8 = 1 << 1
	PermissionExecute  uint8 = 1 << 2
	PermissionFull           = PermissionInitiate | PermissionVote | PermissionExecute
)

type Member struct {
	Key         solana.PublicKey
	Permissions uint8
}

func (m Member) Has(perm uint8) bool {
	return m.Permissions&perm == perm
}

// Period is the reset interval of a spending limit.
type Period uint8

const (
	PeriodOneTime Period = iota
	PeriodDay
	PeriodWeek
	PeriodMonth
)

func (p Period) String() string {
	switch p {
	case PeriodOneTime:
		return "one-time"
	case PeriodDay:
		return "day"
	case PeriodWeek:
		return "week"
	case PeriodMonth:
		return "month"
	}
	return "unknown"
}

// ParsePeriod accepts the names produced by Period.String.
func ParsePeriod(s string) (Period, bool) {
	switch s {
	case "one-time", "onetime":
		return PeriodOneTime, true
	case "day", "daily":
		return PeriodDay, true
	case "week", "weekly":
		return PeriodWeek, true
	case "month", "monthly":
		return PeriodMonth, true
	}
	return 0, false
}

// Discriminator is the 8 byte Anchor prefix of instruction and account data.
type Discriminator [8]byte

func sighash(namespace, name string) Discriminator {
	var d Discriminator
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	copy(d[:], sum[:8])
	return d
}

var (
	DiscMultisigCreateV2         = sighash("global", "multisig_create_v2")
	DiscMultisigAddSpendingLimit = sighash("global", "multisig_add_spending_limit")
	DiscVaultTransactionCreate   = sighash("global", "vault_transaction_create")
	DiscProposalCreate           = sighash("global", "proposal_create")
	DiscProposalApprove          = sighash("global", "proposal_approve")
	DiscProposalReject           = sighash("global", "proposal_reject")
	DiscVaultTransactionExecute  = sighash("global", "vault_transaction_execute")

	discAccountProposal         = sighash("account", "Proposal")
	discAccountVaultTransaction = sighash("account", "VaultTransaction")
)
