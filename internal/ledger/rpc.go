package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	confirm "github.com/gagliardetto/solana-go/rpc/sendAndConfirmTransaction"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RPCConfig struct {
	RPCURL     string
	WSURL      string
	Commitment rpc.CommitmentType
	// RequestsPerSecond paces calls to the endpoint; zero disables pacing.
	RequestsPerSecond float64
}

// RPC is a Ledger backed by a JSON-RPC endpoint and its websocket for
// confirmations.
type RPC struct {
	client  *rpc.Client
	ws      *ws.Client
	cfg     RPCConfig
	limiter *rate.Limiter
	log     *zap.Logger
	metrics Observer
}

// Observer is notified of every ledger call. A nil Observer is allowed.
type Observer interface {
	ObserveLedgerCall(method string, took time.Duration, err error)
}

func DialRPC(ctx context.Context, cfg RPCConfig, log *zap.Logger, obs Observer) (*RPC, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	wsClient, err := ws.Connect(ctx, cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect websocket %s: %w", cfg.WSURL, err)
	}
	l := &RPC{
		client:  rpc.New(cfg.RPCURL),
		ws:      wsClient,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Inf, 0),
		log:     log.Named("ledger"),
		metrics: obs,
	}
	if cfg.RequestsPerSecond > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return l, nil
}

func (l *RPC) Close() {
	l.ws.Close()
}

func (l *RPC) observe(method string, start time.Time, err error) {
	if l.metrics != nil {
		l.metrics.ObserveLedgerCall(method, time.Since(start), err)
	}
}

func (l *RPC) LatestBlockhash(ctx context.Context) (hash solana.Hash, err error) {
	defer func(start time.Time) { l.observe("getLatestBlockhash", start, err) }(time.Now())
	if err = l.limiter.Wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	res, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return res.Value.Blockhash, nil
}

func (l *RPC) AccountData(ctx context.Context, addr solana.PublicKey) (data []byte, err error) {
	defer func(start time.Time) { l.observe("getAccountInfo", start, err) }(time.Now())
	if err = l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := l.client.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: l.cfg.Commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (res == nil || res.Value == nil)) {
		return nil, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
	}
	if err != nil {
		return nil, err
	}
	return res.Value.Data.GetBinary(), nil
}

func (l *RPC) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (sig solana.Signature, err error) {
	defer func(start time.Time) { l.observe("sendAndConfirmTransaction", start, err) }(time.Now())
	if err = l.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err = confirm.SendAndConfirmTransactionWithOpts(ctx, l.client, l.ws, tx, l.sendOpts(), nil)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	l.log.Debug("transaction confirmed", zap.Stringer("signature", sig))
	return sig, nil
}

// sendOpts preflights at the commitment AccountData reads at, so a plan built
// from a read is simulated against the same state.
func (l *RPC) sendOpts() rpc.TransactionOpts {
	return rpc.TransactionOpts{PreflightCommitment: l.cfg.Commitment}
}
