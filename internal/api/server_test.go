package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"squadsflow-go/internal/ledger"
	"squadsflow-go/internal/metrics"
	"squadsflow-go/internal/orchestrator"
	"squadsflow-go/internal/squads/squadstest"
	"squadsflow-go/internal/store"
)

type testServer struct {
	client  *Client
	url     string
	creator solana.PrivateKey
	agent   solana.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerOn(t, squadstest.New(solana.PublicKey{}))
}

func newTestServerOn(t *testing.T, l ledger.Ledger) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	creator := solana.NewWallet().PrivateKey
	agent := solana.NewWallet().PrivateKey

	orch, err := orchestrator.New(
		orchestrator.Config{Payer: creator, Signers: []solana.PrivateKey{agent}},
		l,
		store.NewMemory(),
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(metrics.New(reg)),
	)
	require.NoError(t, err)

	srv := NewServer(orch, map[string]solana.PublicKey{
		"creator": creator.PublicKey(),
		"agent":   agent.PublicKey(),
	}, reg, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{
		client:  NewClient(ts.URL, ts.Client()),
		url:     ts.URL,
		creator: creator,
		agent:   agent,
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr), "unexpected error %v", err)
	return apiErr.StatusCode
}

func TestWorkflow(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	created, err := ts.client.CreateMultisig(ctx, CreateMultisigRequest{
		Members:   []string{"creator", "agent"},
		Threshold: 1,
	})
	require.NoError(t, err)

	info, err := ts.client.Multisig(ctx, created.Address)
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.Threshold)
	assert.Len(t, info.Members, 2)
	assert.Equal(t, created.Vault, info.DefaultVault)

	limit, err := ts.client.AddSpendingLimit(ctx, created.Address, SpendingLimitRequest{
		Amount:  "1.5",
		Period:  "day",
		Members: []string{"agent"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1_500_000_000, limit.BaseUnits)

	vault := solana.MustPublicKeyFromBase58(created.Vault)
	transfer, err := NewInstruction(system.NewTransferInstruction(1000, vault, solana.NewWallet().PublicKey()).Build())
	require.NoError(t, err)
	proposed, err := ts.client.Propose(ctx, created.Address, ProposeRequest{
		Proposer:     "agent",
		Instructions: []Instruction{transfer},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, proposed.Index)

	second, err := ts.client.Propose(ctx, created.Address, ProposeRequest{Proposer: "agent"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, second.Index)

	list, err := ts.client.Proposals(ctx, created.Address)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "approved", list[0].Status)

	sig, err := ts.client.Execute(ctx, created.Address, proposed.Index, "agent")
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	p, err := ts.client.Proposal(ctx, created.Address, proposed.Index)
	require.NoError(t, err)
	assert.Equal(t, "executed", p.Status)
	assert.True(t, p.Tracked)
	assert.Equal(t, sig, p.Signature)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.client.Multisig(ctx, "not-a-key")
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	_, err = ts.client.Multisig(ctx, solana.NewWallet().PublicKey().String())
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	_, err = ts.client.CreateMultisig(ctx, CreateMultisigRequest{Members: []string{"nobody"}})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	created, err := ts.client.CreateMultisig(ctx, CreateMultisigRequest{
		Members:   []string{"creator", "agent"},
		Threshold: 2,
	})
	require.NoError(t, err)

	_, err = ts.client.AddSpendingLimit(ctx, created.Address, SpendingLimitRequest{Amount: "1", Period: "fortnight"})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	proposed, err := ts.client.Propose(ctx, created.Address, ProposeRequest{Proposer: "agent"})
	require.NoError(t, err)

	_, err = ts.client.Execute(ctx, created.Address, proposed.Index, "agent")
	assert.Equal(t, http.StatusConflict, statusOf(t, err))

	_, err = ts.client.Approve(ctx, created.Address, proposed.Index, solana.NewWallet().PublicKey().String())
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	_, err = ts.client.Reject(ctx, created.Address, proposed.Index, "creator")
	require.NoError(t, err)
	p, err := ts.client.Proposal(ctx, created.Address, proposed.Index)
	require.NoError(t, err)
	assert.Equal(t, "rejected", p.Status)
}

// unreachableMint fails reads of one account as a broken transport would.
type unreachableMint struct {
	*squadstest.Ledger
	mint solana.PublicKey
}

func (u unreachableMint) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	if addr.Equals(u.mint) {
		return nil, errors.New("dial tcp 127.0.0.1:8899: connect: connection refused")
	}
	return u.Ledger.AccountData(ctx, addr)
}

func TestSpendingLimitMintErrors(t *testing.T) {
	l := squadstest.New(solana.PublicKey{})
	mint := solana.NewWallet().PublicKey()
	ts := newTestServerOn(t, unreachableMint{Ledger: l, mint: mint})
	ctx := context.Background()

	created, err := ts.client.CreateMultisig(ctx, CreateMultisigRequest{Members: []string{"creator", "agent"}, Threshold: 1})
	require.NoError(t, err)

	_, err = ts.client.AddSpendingLimit(ctx, created.Address, SpendingLimitRequest{Mint: mint.String(), Amount: "1", Period: "day"})
	assert.Equal(t, http.StatusBadGateway, statusOf(t, err))

	_, err = ts.client.AddSpendingLimit(ctx, created.Address, SpendingLimitRequest{
		Mint:   solana.NewWallet().PublicKey().String(),
		Amount: "1",
		Period: "day",
	})
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	short := solana.NewWallet().PublicKey()
	l.SetAccount(short, make([]byte, 10))
	_, err = ts.client.AddSpendingLimit(ctx, created.Address, SpendingLimitRequest{Mint: short.String(), Amount: "1", Period: "day"})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	_, err = ts.client.AddSpendingLimit(ctx, created.Address, SpendingLimitRequest{Amount: "0.0000000001", Period: "day"})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestRequestIDAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.url+"/multisigs/"+solana.NewWallet().PublicKey().String(), nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(RequestIDHeader))

	_, err = ts.client.CreateMultisig(context.Background(), CreateMultisigRequest{Members: []string{"creator"}})
	require.NoError(t, err)

	resp, err = http.Get(ts.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `squadsflow_submissions_total{op="create_multisig",result="ok"} 1`)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}
