package api

import (
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"squadsflow-go/internal/squads"
	"squadsflow-go/internal/store"
)

// Keys in requests are either a principal name known to the server, such as
// "creator" or "agent", or a base58 public key.

type CreateMultisigRequest struct {
	Members   []string `json:"members"`
	Threshold uint16   `json:"threshold"`
	TimeLock  uint32   `json:"timeLock,omitempty"`
	Memo      string   `json:"memo,omitempty"`
}

type CreateMultisigResponse struct {
	Address   string `json:"address"`
	CreateKey string `json:"createKey"`
	Vault     string `json:"vault"`
	Signature string `json:"signature"`
}

type Member struct {
	Key         string `json:"key"`
	Permissions uint8  `json:"permissions"`
}

type MultisigResponse struct {
	Address               string   `json:"address"`
	Threshold             uint16   `json:"threshold"`
	TimeLock              uint32   `json:"timeLock"`
	TransactionIndex      uint64   `json:"transactionIndex"`
	StaleTransactionIndex uint64   `json:"staleTransactionIndex"`
	DefaultVault          string   `json:"defaultVault"`
	Members               []Member `json:"members"`
}

func NewMultisigResponse(info *squads.MultisigInfo) *MultisigResponse {
	resp := &MultisigResponse{
		Address:               info.Address.String(),
		Threshold:             info.Threshold,
		TimeLock:              info.TimeLock,
		TransactionIndex:      info.TransactionIndex,
		StaleTransactionIndex: info.StaleTransactionIndex,
		DefaultVault:          info.DefaultVault.String(),
	}
	for _, m := range info.Members {
		resp.Members = append(resp.Members, Member{Key: m.Key.String(), Permissions: m.Permissions})
	}
	return resp
}

type SpendingLimitRequest struct {
	// Mint is empty for native SOL.
	Mint string `json:"mint,omitempty"`
	// Amount is in token units, e.g. "1.5".
	Amount       string   `json:"amount"`
	Period       string   `json:"period"`
	Members      []string `json:"members,omitempty"`
	Destinations []string `json:"destinations,omitempty"`
	VaultIndex   uint8    `json:"vaultIndex,omitempty"`
	Memo         string   `json:"memo,omitempty"`
}

type SpendingLimitResponse struct {
	Address   string `json:"address"`
	CreateKey string `json:"createKey"`
	// BaseUnits is Amount converted with the mint's decimals.
	BaseUnits uint64 `json:"baseUnits"`
	Signature string `json:"signature"`
}

type AccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// Instruction is an instruction for the vault to execute. Data is base64.
type Instruction struct {
	ProgramID string        `json:"programId"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      string        `json:"data"`
}

func (ix Instruction) decode() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", ix.ProgramID, err)
	}
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid instruction data: %w", err)
	}
	metas := make([]*solana.AccountMeta, len(ix.Accounts))
	for i, a := range ix.Accounts {
		key, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("invalid account %q: %w", a.Pubkey, err)
		}
		metas[i] = &solana.AccountMeta{PublicKey: key, IsSigner: a.IsSigner, IsWritable: a.IsWritable}
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// NewInstruction converts a solana instruction for a ProposeRequest.
func NewInstruction(ix solana.Instruction) (Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return Instruction{}, err
	}
	out := Instruction{ProgramID: ix.ProgramID().String(), Data: base64.StdEncoding.EncodeToString(data)}
	for _, a := range ix.Accounts() {
		out.Accounts = append(out.Accounts, AccountMeta{
			Pubkey:     a.PublicKey.String(),
			IsSigner:   a.IsSigner,
			IsWritable: a.IsWritable,
		})
	}
	return out, nil
}

type ProposeRequest struct {
	Proposer     string        `json:"proposer"`
	VaultIndex   uint8         `json:"vaultIndex,omitempty"`
	Instructions []Instruction `json:"instructions,omitempty"`
	Memo         string        `json:"memo,omitempty"`
}

type ProposeResponse struct {
	Index     uint64 `json:"index"`
	Vault     string `json:"vault"`
	Signature string `json:"signature"`
	Attempts  int    `json:"attempts"`
}

type VoteRequest struct {
	Member string `json:"member"`
}

type SignatureResponse struct {
	Signature string `json:"signature"`
}

type ProposalResponse struct {
	Multisig   string   `json:"multisig"`
	Index      uint64   `json:"index"`
	Status     string   `json:"status"`
	Approvals  []string `json:"approvals"`
	Rejections []string `json:"rejections"`
	Tracked    bool     `json:"tracked"`
	// Signature is the last transaction this process sent for the proposal.
	Signature string `json:"signature,omitempty"`
}

func NewProposalResponse(e *store.Entry) *ProposalResponse {
	return &ProposalResponse{
		Multisig:   e.Multisig.String(),
		Index:      e.Index,
		Status:     e.Status.String(),
		Approvals:  keyStrings(e.Approvals),
		Rejections: keyStrings(e.Rejections),
		Tracked:    true,
		Signature:  e.Signature,
	}
}

func keyStrings(keys []solana.PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}
