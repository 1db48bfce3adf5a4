package squads

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	seedPrefix        = []byte("multisig")
	seedProgramConfig = []byte("program_config")
	seedMultisig      = []byte("multisig")
	seedVault         = []byte("vault")
	seedTransaction   = []byte("transaction")
	seedProposal      = []byte("proposal")
	seedSpendingLimit = []byte("spending_limit")
)

// Addresses derives program addresses for a single program deployment.
type Addresses struct {
	ProgramID solana.PublicKey
}

func NewAddresses(programID solana.PublicKey) Addresses {
	if programID.IsZero() {
		programID = DefaultProgramID
	}
	return Addresses{ProgramID: programID}
}

func (a Addresses) find(what string, seeds ...[]byte) (solana.PublicKey, uint8, error) {
	pda, bump, err := solana.FindProgramAddress(seeds, a.ProgramID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to find %s PDA: %w", what, err)
	}
	return pda, bump, nil
}

func (a Addresses) ProgramConfig() (solana.PublicKey, uint8, error) {
	return a.find("program config", seedPrefix, seedProgramConfig)
}

func (a Addresses) Multisig(createKey solana.PublicKey) (solana.PublicKey, uint8, error) {
	return a.find("multisig", seedPrefix, seedMultisig, createKey.Bytes())
}

func (a Addresses) Vault(multisig solana.PublicKey, vaultIndex uint8) (solana.PublicKey, uint8, error) {
	return a.find("vault", seedPrefix, multisig.Bytes(), seedVault, []byte{vaultIndex})
}

func (a Addresses) Transaction(multisig solana.PublicKey, index uint64) (solana.PublicKey, uint8, error) {
	return a.find("transaction", seedPrefix, multisig.Bytes(), seedTransaction, u64Seed(index))
}

func (a Addresses) Proposal(multisig solana.PublicKey, index uint64) (solana.PublicKey, uint8, error) {
	return a.find("proposal", seedPrefix, multisig.Bytes(), seedTransaction, u64Seed(index), seedProposal)
}

func (a Addresses) SpendingLimit(multisig, createKey solana.PublicKey) (solana.PublicKey, uint8, error) {
	return a.find("spending limit", seedPrefix, multisig.Bytes(), seedSpendingLimit, createKey.Bytes())
}

func u64Seed(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
