// Package squadstest provides an in-memory ledger that emulates the multisig
// program, so orchestration code can be exercised without a cluster. It
// enforces the program-side rules the orchestrator deliberately leaves to the
// chain: index sequencing, permissions, thresholds and proposal status.
package squadstest

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"squadsflow-go/internal/ledger"
	"squadsflow-go/internal/squads"
)

var _ ledger.Ledger = (*Ledger)(nil)

type multisigState struct {
	info            squads.MultisigInfo
	configAuthority solana.PublicKey
	createKey       solana.PublicKey
}

func (m *multisigState) clone() *multisigState {
	c := *m
	c.info.Members = append([]squads.Member(nil), m.info.Members...)
	return &c
}

func (m *multisigState) voters() int {
	n := 0
	for _, member := range m.info.Members {
		if member.Has(squads.PermissionVote) {
			n++
		}
	}
	return n
}

// SpendingLimit is a spending limit record created on the emulated program.
type SpendingLimit struct {
	Address  solana.PublicKey
	Multisig solana.PublicKey
	squads.SpendingLimitArgs
}

type state struct {
	multisigs      map[solana.PublicKey]*multisigState
	proposals      map[solana.PublicKey]*squads.ProposalAccount
	transactions   map[solana.PublicKey]*squads.VaultTransactionAccount
	spendingLimits map[solana.PublicKey]*SpendingLimit
	raw            map[solana.PublicKey][]byte
}

func (s *state) clone() *state {
	c := &state{
		multisigs:      make(map[solana.PublicKey]*multisigState, len(s.multisigs)),
		proposals:      make(map[solana.PublicKey]*squads.ProposalAccount, len(s.proposals)),
		transactions:   make(map[solana.PublicKey]*squads.VaultTransactionAccount, len(s.transactions)),
		spendingLimits: make(map[solana.PublicKey]*SpendingLimit, len(s.spendingLimits)),
		raw:            s.raw,
	}
	for k, v := range s.multisigs {
		c.multisigs[k] = v.clone()
	}
	for k, v := range s.proposals {
		p := *v
		p.Approved = append([]solana.PublicKey(nil), v.Approved...)
		p.Rejected = append([]solana.PublicKey(nil), v.Rejected...)
		p.Cancelled = append([]solana.PublicKey(nil), v.Cancelled...)
		c.proposals[k] = &p
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.spendingLimits {
		c.spendingLimits[k] = v
	}
	return c
}

// Ledger is an in-memory ledger.Ledger hosting one emulated program.
type Ledger struct {
	mu          sync.Mutex
	program     *squads.Program
	treasury    solana.PublicKey
	st          *state
	blockhashes map[solana.Hash]bool
	sent        []*solana.Transaction
	now         func() time.Time
}

func New(programID solana.PublicKey) *Ledger {
	return &Ledger{
		program:  squads.NewProgram(programID),
		treasury: solana.NewWallet().PublicKey(),
		st: &state{
			multisigs:      make(map[solana.PublicKey]*multisigState),
			proposals:      make(map[solana.PublicKey]*squads.ProposalAccount),
			transactions:   make(map[solana.PublicKey]*squads.VaultTransactionAccount),
			spendingLimits: make(map[solana.PublicKey]*SpendingLimit),
			raw:            make(map[solana.PublicKey][]byte),
		},
		blockhashes: make(map[solana.Hash]bool),
		now:         time.Now,
	}
}

func (l *Ledger) Treasury() solana.PublicKey { return l.treasury }

// SetAccount stores arbitrary account data, e.g. a token mint.
func (l *Ledger) SetAccount(addr solana.PublicKey, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.raw[addr] = append([]byte(nil), data...)
}

func (l *Ledger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := ctx.Err(); err != nil {
		return solana.Hash{}, err
	}
	var h solana.Hash
	if _, err := rand.Read(h[:]); err != nil {
		return solana.Hash{}, err
	}
	l.mu.Lock()
	l.blockhashes[h] = true
	l.mu.Unlock()
	return h, nil
}

func (l *Ledger) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg, _, _ := l.program.ProgramConfig(); addr.Equals(cfg) {
		return squads.EncodeProgramConfigAccount(l.treasury)
	}
	if ms, ok := l.st.multisigs[addr]; ok {
		info := ms.info
		return squads.EncodeMultisigAccount(&info)
	}
	if p, ok := l.st.proposals[addr]; ok {
		return p.Marshal()
	}
	if tx, ok := l.st.transactions[addr]; ok {
		return tx.Marshal()
	}
	if data, ok := l.st.raw[addr]; ok {
		return append([]byte(nil), data...), nil
	}
	return nil, fmt.Errorf("%s: %w", addr, ledger.ErrAccountNotFound)
}

// SendAndConfirm applies every instruction of tx or none of them.
func (l *Ledger) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, fmt.Errorf("signature verification failed: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.blockhashes[tx.Message.RecentBlockhash] {
		return solana.Signature{}, fmt.Errorf("blockhash not found")
	}

	work := l.st.clone()
	for i, ix := range tx.Message.Instructions {
		if err := l.apply(work, tx, i, ix); err != nil {
			return solana.Signature{}, fmt.Errorf("transaction simulation failed: %w", err)
		}
	}
	l.st = work
	l.sent = append(l.sent, tx)
	return tx.Signatures[0], nil
}

// Sent returns the transactions that were applied, oldest first.
func (l *Ledger) Sent() []*solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*solana.Transaction(nil), l.sent...)
}

func (l *Ledger) Multisig(addr solana.PublicKey) (squads.MultisigInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ms, ok := l.st.multisigs[addr]
	if !ok {
		return squads.MultisigInfo{}, false
	}
	return ms.clone().info, true
}

func (l *Ledger) SpendingLimits(multisig solana.PublicKey) []SpendingLimit {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []SpendingLimit
	for _, sl := range l.st.spendingLimits {
		if sl.Multisig.Equals(multisig) {
			out = append(out, *sl)
		}
	}
	return out
}

func (l *Ledger) Proposal(multisig solana.PublicKey, index uint64) (*squads.ProposalAccount, bool) {
	addr, _, err := l.program.Proposal(multisig, index)
	if err != nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.st.proposals[addr]
	if !ok {
		return nil, false
	}
	c := *p
	return &c, true
}

// BumpTransactionIndex creates an empty vault transaction as another client
// would, advancing the multisig's transaction index by one.
func (l *Ledger) BumpTransactionIndex(multisig solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ms, ok := l.st.multisigs[multisig]
	if !ok {
		return 0, fmt.Errorf("unknown multisig %s", multisig)
	}
	next := ms.info.TransactionIndex + 1
	txPDA, bump, err := l.program.Transaction(multisig, next)
	if err != nil {
		return 0, err
	}
	vault, _, err := l.program.Vault(multisig, 0)
	if err != nil {
		return 0, err
	}
	ms.info.TransactionIndex = next
	l.st.transactions[txPDA] = &squads.VaultTransactionAccount{
		Multisig: multisig,
		Index:    next,
		Bump:     bump,
		Message: &squads.TransactionMessage{
			NumSigners:         1,
			NumWritableSigners: 1,
			AccountKeys:        []solana.PublicKey{vault},
		},
	}
	return next, nil
}
