package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"squadsflow-go/internal/config"
	"squadsflow-go/internal/ledger"
	"squadsflow-go/internal/metrics"
	"squadsflow-go/internal/orchestrator"
	"squadsflow-go/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "squadsflow",
		Usage: "Drive Squads v4 multisig workflows on Solana",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"SQUADSFLOW_CONFIG"},
				Value:   "squadsflow.toml",
				Usage:   "Load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				EnvVars: []string{"SQUADSFLOW_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "ws-url",
				EnvVars: []string{"SQUADSFLOW_WS_URL"},
			},
			&cli.StringFlag{
				Name:    "creator-key",
				EnvVars: []string{"SQUADSFLOW_CREATOR_KEY"},
				Usage:   "Keygen file or base58 secret of the creator, who pays fees",
			},
			&cli.StringFlag{
				Name:    "agent-key",
				EnvVars: []string{"SQUADSFLOW_AGENT_KEY"},
				Usage:   "Keygen file or base58 secret of the agent member",
			},
			&cli.StringFlag{
				Name:    "store",
				EnvVars: []string{"SQUADSFLOW_STORE"},
				Usage:   "Tracker store driver: memory or sqlite",
			},
			&cli.StringFlag{
				Name:    "db",
				EnvVars: []string{"SQUADSFLOW_DB"},
				Usage:   "Path of the sqlite tracker database",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"SQUADSFLOW_LOG_LEVEL"},
				Usage:   "Set the log level to `LEVEL`",
			},
		},
		Commands: []*cli.Command{
			initCmd,
			serveCmd,
			createCmd,
			spendingLimitCmd,
			proposeCmd,
			approveCmd,
			rejectCmd,
			executeCmd,
			infoCmd,
			statusCmd,
			runCmd,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is everything a command needs, built from configuration and flags.
type env struct {
	cfg        *config.Conf
	log        *zap.Logger
	registry   *prometheus.Registry
	ledger     *ledger.RPC
	store      store.Store
	orch       *orchestrator.Orchestrator
	principals map[string]solana.PublicKey
}

func loadConfig(c *cli.Context) (*config.Conf, error) {
	cfg, err := config.FromFile(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("rpc-url"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := c.String("ws-url"); v != "" {
		cfg.Ledger.WSURL = v
	}
	if v := c.String("creator-key"); v != "" {
		cfg.Keys.Creator = v
	}
	if v := c.String("agent-key"); v != "" {
		cfg.Keys.Agent = v
	}
	if v := c.String("store"); v != "" {
		cfg.Store.Driver = v
	}
	if v := c.String("db"); v != "" {
		cfg.Store.Path = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(lc config.LogConf) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = lc.Encoding
	if lc.Encoding == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zc.Build()
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	if cfg.Keys.Creator == "" {
		return nil, fmt.Errorf("a creator key is required (--creator-key or [Keys] Creator)")
	}
	creator, err := config.LoadPrivateKey(cfg.Keys.Creator)
	if err != nil {
		return nil, fmt.Errorf("creator key: %w", err)
	}
	principals := map[string]solana.PublicKey{"creator": creator.PublicKey()}
	var signers []solana.PrivateKey
	if cfg.Keys.Agent != "" {
		agent, err := config.LoadPrivateKey(cfg.Keys.Agent)
		if err != nil {
			return nil, fmt.Errorf("agent key: %w", err)
		}
		principals["agent"] = agent.PublicKey()
		signers = append(signers, agent)
	}

	programID, err := cfg.ProgramID()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	l, err := ledger.DialRPC(c.Context, ledger.RPCConfig{
		RPCURL:            cfg.Ledger.RPCURL,
		WSURL:             cfg.Ledger.WSURL,
		Commitment:        rpc.CommitmentType(cfg.Ledger.Commitment),
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
	}, log, m)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		l.Close()
		return nil, err
	}
	orch, err := orchestrator.New(orchestrator.Config{
		ProgramID:          programID,
		Payer:              creator,
		Signers:            signers,
		MaxProposeAttempts: cfg.Program.MaxProposeAttempts,
	}, l, s, orchestrator.WithLogger(log), orchestrator.WithMetrics(m))
	if err != nil {
		s.Close()
		l.Close()
		return nil, err
	}

	log.Debug("environment ready",
		zap.String("rpc", cfg.Ledger.RPCURL),
		zap.Stringer("program", orch.Program().ProgramID),
		zap.Stringer("creator", creator.PublicKey()),
		zap.String("store", cfg.Store.Driver),
	)
	return &env{
		cfg:        cfg,
		log:        log,
		registry:   reg,
		ledger:     l,
		store:      s,
		orch:       orch,
		principals: principals,
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("failed to close store", zap.Error(err))
	}
	e.ledger.Close()
	_ = e.log.Sync()
}

// key resolves a principal name or a base58 public key.
func (e *env) key(ref string) (solana.PublicKey, error) {
	if k, ok := e.principals[ref]; ok {
		return k, nil
	}
	k, err := solana.PublicKeyFromBase58(ref)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("unknown principal or key %q", ref)
	}
	return k, nil
}

func (e *env) keys(refs []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(refs))
	for _, ref := range refs {
		k, err := e.key(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// withEnv wraps a command action with setup and teardown.
func withEnv(action func(*cli.Context, *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.Close()
		return action(c, e)
	}
}
