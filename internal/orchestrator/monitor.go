package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"squadsflow-go/internal/squads"
)

const DefaultMonitorInterval = 30 * time.Second

type MonitorConfig struct {
	Interval time.Duration
	// AutoExecute executes tracked proposals once they are approved.
	AutoExecute bool
	// Executor signs auto executions; it must be a member with the execute
	// permission.
	Executor solana.PublicKey
}

// Monitor periodically reconciles pending tracked proposals with the chain.
type Monitor struct {
	orch  *Orchestrator
	cfg   MonitorConfig
	clock clockwork.Clock
	log   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	stop      chan struct{}

	// OnExecuted is called after the monitor executes a proposal.
	OnExecuted func(multisig solana.PublicKey, index uint64, sig solana.Signature)
}

func NewMonitor(o *Orchestrator, cfg MonitorConfig) (*Monitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorInterval
	}
	if cfg.AutoExecute && cfg.Executor.IsZero() {
		return nil, errors.New("auto execute needs an executor key")
	}
	return &Monitor{
		orch:  o,
		cfg:   cfg,
		clock: o.clock,
		log:   o.log.Named("monitor"),
	}, nil
}

// Start runs the monitor in the background until ctx ends or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	stop, err := m.begin()
	if err != nil {
		return err
	}
	go m.loop(ctx, stop)
	return nil
}

// Run is the blocking form of Start. It returns nil after Stop.
func (m *Monitor) Run(ctx context.Context) error {
	stop, err := m.begin()
	if err != nil {
		return err
	}
	return m.loop(ctx, stop)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.end(m.stop)
}

// end marks the run owning stop as finished. A stale stop from an earlier
// run is ignored. Callers hold m.mu.
func (m *Monitor) end(stop chan struct{}) {
	if m.isRunning && stop == m.stop {
		close(m.stop)
		m.isRunning = false
	}
}

func (m *Monitor) begin() (chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return nil, errors.New("monitor already running")
	}
	m.isRunning = true
	m.stop = make(chan struct{})
	return m.stop, nil
}

func (m *Monitor) loop(ctx context.Context, stop chan struct{}) error {
	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info("monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Bool("auto_execute", m.cfg.AutoExecute),
	)
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.end(stop)
			m.mu.Unlock()
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.Chan():
			if err := m.Poll(ctx); err != nil {
				m.log.Error("poll failed", zap.Error(err))
			}
		}
	}
}

// Poll makes one pass over the pending tracked proposals. Errors on single
// proposals are logged and do not stop the pass.
func (m *Monitor) Poll(ctx context.Context) error {
	entries, err := m.orch.Pending(ctx)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, e := range entries {
		updated, err := m.orch.Reconcile(ctx, e.Multisig, e.Index)
		if err != nil {
			m.log.Warn("failed to reconcile proposal",
				zap.Stringer("multisig", e.Multisig),
				zap.Uint64("index", e.Index),
				zap.Error(err),
			)
			counts[e.Status.String()]++
			continue
		}
		if updated.Status != e.Status {
			m.log.Info("proposal status changed",
				zap.Stringer("multisig", e.Multisig),
				zap.Uint64("index", e.Index),
				zap.Stringer("from", e.Status),
				zap.Stringer("to", updated.Status),
			)
		}
		if updated.Status == squads.ProposalApproved && m.cfg.AutoExecute {
			sig, err := m.orch.Execute(ctx, e.Multisig, e.Index, m.cfg.Executor)
			if err != nil {
				m.log.Warn("auto execute failed",
					zap.Stringer("multisig", e.Multisig),
					zap.Uint64("index", e.Index),
					zap.Error(err),
				)
			} else {
				updated.Status = squads.ProposalExecuted
				if m.OnExecuted != nil {
					m.OnExecuted(e.Multisig, e.Index, sig)
				}
			}
		}
		if !updated.Status.Terminal() {
			counts[updated.Status.String()]++
		}
	}
	m.orch.metrics.SetTracked(counts)
	return nil
}
