package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squadsflow-go/internal/squads"
	"squadsflow-go/internal/store"
)

// approveElsewhere approves index through a second process so the fixture's
// tracker does not see the change until it reconciles.
func approveElsewhere(t *testing.T, f *fixture, multisig solana.PublicKey, index uint64) {
	t.Helper()
	other, err := New(Config{Payer: f.payer}, f.ledger, store.NewMemory())
	require.NoError(t, err)
	_, err = other.Approve(context.Background(), multisig, index, f.payer.PublicKey())
	require.NoError(t, err)
}

func TestMonitorPollReconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	multisig := f.createMultisig(t, 2)
	res := f.propose(t, multisig)
	approveElsewhere(t, f, multisig, res.Index)

	e, err := f.orch.Entry(ctx, multisig, res.Index)
	require.NoError(t, err)
	require.Equal(t, squads.ProposalActive, e.Status)

	mon, err := NewMonitor(f.orch, MonitorConfig{})
	require.NoError(t, err)
	require.NoError(t, mon.Poll(ctx))

	e, err = f.orch.Entry(ctx, multisig, res.Index)
	require.NoError(t, err)
	assert.Equal(t, squads.ProposalApproved, e.Status)

	p, ok := f.ledger.Proposal(multisig, res.Index)
	require.True(t, ok)
	assert.Equal(t, squads.ProposalApproved, p.Status)
}

func TestMonitorAutoExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	multisig := f.createMultisig(t, 2)
	res := f.propose(t, multisig)
	approveElsewhere(t, f, multisig, res.Index)

	_, err := NewMonitor(f.orch, MonitorConfig{AutoExecute: true})
	require.Error(t, err)

	mon, err := NewMonitor(f.orch, MonitorConfig{AutoExecute: true, Executor: f.agent.PublicKey()})
	require.NoError(t, err)
	var executed []uint64
	mon.OnExecuted = func(_ solana.PublicKey, index uint64, _ solana.Signature) {
		executed = append(executed, index)
	}
	require.NoError(t, mon.Poll(ctx))
	assert.Equal(t, []uint64{res.Index}, executed)

	p, ok := f.ledger.Proposal(multisig, res.Index)
	require.True(t, ok)
	assert.Equal(t, squads.ProposalExecuted, p.Status)

	pending, err := f.orch.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMonitorRunsOnTicker(t *testing.T) {
	f := newFixture(t)
	clock := clockwork.NewFakeClock()
	f.orch.clock = clock

	multisig := f.createMultisig(t, 2)
	res := f.propose(t, multisig)
	approveElsewhere(t, f, multisig, res.Index)

	mon, err := NewMonitor(f.orch, MonitorConfig{
		Interval:    time.Minute,
		AutoExecute: true,
		Executor:    f.agent.PublicKey(),
	})
	require.NoError(t, err)
	executed := make(chan uint64, 1)
	mon.OnExecuted = func(_ solana.PublicKey, index uint64, _ solana.Signature) {
		executed <- index
	}

	done := make(chan error, 1)
	go func() { done <- mon.Run(context.Background()) }()

	clock.BlockUntil(1)
	require.Error(t, mon.Start(context.Background()))
	clock.Advance(time.Minute)

	select {
	case index := <-executed:
		assert.Equal(t, res.Index, index)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not execute the approved proposal")
	}

	mon.Stop()
	require.NoError(t, <-done)
}

func TestMonitorStopsWithContext(t *testing.T) {
	f := newFixture(t)
	mon, err := NewMonitor(f.orch, MonitorConfig{Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, mon.Start(ctx))
	cancel()

	require.Eventually(t, func() bool {
		return mon.Start(context.Background()) == nil
	}, 5*time.Second, 10*time.Millisecond)
	mon.Stop()
}

func TestMonitorStaleRunDoesNotStopNewRun(t *testing.T) {
	f := newFixture(t)
	mon, err := NewMonitor(f.orch, MonitorConfig{Interval: time.Hour})
	require.NoError(t, err)

	first, err := mon.begin()
	require.NoError(t, err)
	mon.Stop()
	second, err := mon.begin()
	require.NoError(t, err)

	// The first run's loop sees its context end only now.
	mon.mu.Lock()
	mon.end(first)
	mon.mu.Unlock()

	select {
	case <-second:
		t.Fatal("stale run closed the current run's stop channel")
	default:
	}
	assert.Error(t, mon.Start(context.Background()))

	mon.Stop()
	_, open := <-second
	assert.False(t, open)
}
