// Package orchestrator drives the multisig workflow: create a multisig, attach
// spending limits, propose vault transactions, vote on them and execute them.
// Every rule about who may do what is enforced by the on-chain program; this
// package only builds, signs and submits the instructions that request each
// transition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"squadsflow-go/internal/ledger"
	"squadsflow-go/internal/metrics"
	"squadsflow-go/internal/squads"
	"squadsflow-go/internal/store"
)

const DefaultMaxProposeAttempts = 3

var (
	// ErrUnknownSigner is returned when an operation needs a signature from a
	// key this process does not hold.
	ErrUnknownSigner = errors.New("no private key for signer")
	// ErrNotTracked is returned for proposals this process has no record of.
	ErrNotTracked = errors.New("proposal is not tracked")
)

type Config struct {
	ProgramID solana.PublicKey
	// Payer pays fees and rent. It is the creator and config authority of the
	// multisigs created here.
	Payer solana.PrivateKey
	// Signers are the other keys this process may sign with.
	Signers            []solana.PrivateKey
	MaxProposeAttempts int
}

type Orchestrator struct {
	program     *squads.Program
	ledger      ledger.Ledger
	store       store.Store
	payer       solana.PrivateKey
	keys        ledger.Keyring
	maxAttempts int

	log     *zap.Logger
	metrics *metrics.Metrics
	clock   clockwork.Clock
}

type Option func(*Orchestrator)

func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func New(cfg Config, l ledger.Ledger, s store.Store, opts ...Option) (*Orchestrator, error) {
	if len(cfg.Payer) == 0 {
		return nil, errors.New("payer key is required")
	}
	if l == nil || s == nil {
		return nil, errors.New("ledger and store are required")
	}
	o := &Orchestrator{
		program:     squads.NewProgram(cfg.ProgramID),
		ledger:      l,
		store:       s,
		payer:       cfg.Payer,
		keys:        ledger.NewKeyring(append([]solana.PrivateKey{cfg.Payer}, cfg.Signers...)...),
		maxAttempts: cfg.MaxProposeAttempts,
		log:         zap.NewNop(),
		clock:       clockwork.NewRealClock(),
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = DefaultMaxProposeAttempts
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("orchestrator")
	return o, nil
}

// Payer returns the public key of the fee payer.
func (o *Orchestrator) Payer() solana.PublicKey {
	return o.payer.PublicKey()
}

func (o *Orchestrator) Program() *squads.Program {
	return o.program
}

// CanSign reports whether key is held by this process.
func (o *Orchestrator) CanSign(key solana.PublicKey) bool {
	return o.keys.Get(key) != nil
}

// submit signs instructions with the payer, the given signers and any extra
// ephemeral keys, then sends and confirms them as one transaction.
func (o *Orchestrator) submit(ctx context.Context, op string, instructions []solana.Instruction, signers []solana.PublicKey, extra ...solana.PrivateKey) (sig solana.Signature, err error) {
	defer func() { o.metrics.ObserveSubmission(op, err) }()

	keys := ledger.NewKeyring(append([]solana.PrivateKey{o.payer}, extra...)...)
	for _, s := range signers {
		k := o.keys.Get(s)
		if k == nil {
			return solana.Signature{}, fmt.Errorf("%w %s", ErrUnknownSigner, s)
		}
		keys[s] = *k
	}

	tx, err := ledger.BuildSigned(ctx, o.ledger, instructions, o.payer.PublicKey(), keys)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build %s transaction: %w", op, err)
	}
	sig, err = o.ledger.SendAndConfirm(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	o.log.Debug("transaction confirmed", zap.String("op", op), zap.Stringer("signature", sig))
	return sig, nil
}

// Info reads the multisig account.
func (o *Orchestrator) Info(ctx context.Context, multisig solana.PublicKey) (*squads.MultisigInfo, error) {
	return o.program.FetchMultisig(ctx, o.ledger, multisig)
}

// Proposal reads the proposal account for index.
func (o *Orchestrator) Proposal(ctx context.Context, multisig solana.PublicKey, index uint64) (*squads.ProposalAccount, error) {
	return o.program.FetchProposal(ctx, o.ledger, multisig, index)
}

// Tracked lists the proposals recorded for multisig, oldest first.
func (o *Orchestrator) Tracked(ctx context.Context, multisig solana.PublicKey) ([]*store.Entry, error) {
	return o.store.List(ctx, multisig)
}

func (o *Orchestrator) Entry(ctx context.Context, multisig solana.PublicKey, index uint64) (*store.Entry, error) {
	e, err := o.store.Get(ctx, multisig, index)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d of %s", ErrNotTracked, index, multisig)
	}
	return e, err
}
