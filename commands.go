package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"squadsflow-go/internal/api"
	"squadsflow-go/internal/config"
	"squadsflow-go/internal/orchestrator"
	"squadsflow-go/internal/squads"
)

var multisigFlag = &cli.StringFlag{
	Name:     "multisig",
	Aliases:  []string{"m"},
	Required: true,
	Usage:    "Base58 address of the multisig",
}

var indexFlag = &cli.Uint64Flag{
	Name:     "index",
	Required: true,
	Usage:    "Transaction index of the proposal",
}

var memberFlag = &cli.StringFlag{
	Name:  "member",
	Value: "agent",
	Usage: "Principal name or key of the signing member",
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func multisigArg(c *cli.Context) (solana.PublicKey, error) {
	k, err := solana.PublicKeyFromBase58(c.String("multisig"))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid multisig address: %w", err)
	}
	return k, nil
}

func memo(c *cli.Context) *string {
	if !c.IsSet("memo") {
		return nil
	}
	m := c.String("memo")
	return &m
}

var memoFlag = &cli.StringFlag{Name: "memo", Usage: "Attach a memo"}

var vaultIndexFlag = &cli.UintFlag{
	Name:  "vault-index",
	Usage: "Vault to act on; defaults to [Program] VaultIndex",
}

// narrow converts a flag value, rejecting values T cannot hold.
func narrow[T uint8 | uint16 | uint32](name string, v uint) (T, error) {
	if uint64(v) > uint64(^T(0)) {
		return 0, fmt.Errorf("--%s %d is out of range (max %d)", name, v, uint64(^T(0)))
	}
	return T(v), nil
}

func vaultIndexArg(c *cli.Context, e *env) (uint8, error) {
	if !c.IsSet("vault-index") {
		return e.cfg.Program.VaultIndex, nil
	}
	return narrow[uint8]("vault-index", c.Uint("vault-index"))
}

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "Write a default configuration file",
	Action: func(c *cli.Context) error {
		path := c.String("config")
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Println("wrote", path)
		return nil
	},
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve the HTTP API and run the proposal monitor",
	Action: withEnv(func(c *cli.Context, e *env) error {
		g, ctx := errgroup.WithContext(c.Context)

		srv := api.NewServer(e.orch, e.principals, e.registry, e.log)
		srv.RequestTimeout = time.Duration(e.cfg.API.Timeout)
		g.Go(func() error {
			return srv.ListenAndServe(ctx, e.cfg.API.ListenAddress)
		})

		if e.cfg.Monitor.Enabled {
			mc := orchestrator.MonitorConfig{
				Interval:    time.Duration(e.cfg.Monitor.Interval),
				AutoExecute: e.cfg.Monitor.AutoExecute,
			}
			if mc.AutoExecute {
				executor, err := e.key(e.cfg.Monitor.Executor)
				if err != nil {
					return fmt.Errorf("monitor executor: %w", err)
				}
				mc.Executor = executor
			}
			mon, err := orchestrator.NewMonitor(e.orch, mc)
			if err != nil {
				return err
			}
			mon.OnExecuted = func(multisig solana.PublicKey, index uint64, sig solana.Signature) {
				e.log.Info("proposal executed",
					zap.Stringer("multisig", multisig),
					zap.Uint64("index", index),
					zap.Stringer("signature", sig),
				)
			}
			g.Go(func() error {
				err := mon.Run(ctx)
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		}
		return g.Wait()
	}),
}

var createCmd = &cli.Command{
	Name:  "create",
	Usage: "Create a multisig",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "member",
			Value: cli.NewStringSlice("creator", "agent"),
			Usage: "Member principal or key, repeatable",
		},
		&cli.UintFlag{Name: "threshold", Value: 1},
		&cli.UintFlag{Name: "time-lock", Usage: "Seconds between approval and execution"},
		memoFlag,
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		members, err := e.keys(c.StringSlice("member"))
		if err != nil {
			return err
		}
		threshold, err := narrow[uint16]("threshold", c.Uint("threshold"))
		if err != nil {
			return err
		}
		timeLock, err := narrow[uint32]("time-lock", c.Uint("time-lock"))
		if err != nil {
			return err
		}
		res, err := e.orch.CreateMultisig(c.Context, orchestrator.InitializeParams{
			Members:   members,
			Threshold: threshold,
			TimeLock:  timeLock,
			Memo:      memo(c),
		})
		if err != nil {
			return err
		}
		return printJSON(api.CreateMultisigResponse{
			Address:   res.Multisig.String(),
			CreateKey: res.CreateKey.String(),
			Vault:     res.Vault.String(),
			Signature: res.Signature.String(),
		})
	}),
}

var spendingLimitCmd = &cli.Command{
	Name:  "spending-limit",
	Usage: "Attach a spending limit to a multisig",
	Flags: []cli.Flag{
		multisigFlag,
		&cli.StringFlag{Name: "amount", Required: true, Usage: "Limit in token units, e.g. 1.5"},
		&cli.StringFlag{Name: "mint", Usage: "Token mint; native SOL when empty"},
		&cli.StringFlag{Name: "period", Value: "day", Usage: "one-time, day, week or month"},
		&cli.StringSliceFlag{Name: "member", Value: cli.NewStringSlice("agent")},
		&cli.StringSliceFlag{Name: "destination"},
		vaultIndexFlag,
		memoFlag,
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		multisig, err := multisigArg(c)
		if err != nil {
			return err
		}
		var mint solana.PublicKey
		if v := c.String("mint"); v != "" {
			if mint, err = solana.PublicKeyFromBase58(v); err != nil {
				return fmt.Errorf("invalid mint: %w", err)
			}
		}
		amount, err := decimal.NewFromString(c.String("amount"))
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		period, ok := squads.ParsePeriod(c.String("period"))
		if !ok {
			return fmt.Errorf("invalid period %q", c.String("period"))
		}
		members, err := e.keys(c.StringSlice("member"))
		if err != nil {
			return err
		}
		destinations, err := e.keys(c.StringSlice("destination"))
		if err != nil {
			return err
		}
		vaultIndex, err := vaultIndexArg(c, e)
		if err != nil {
			return err
		}
		units, err := e.orch.BaseUnits(c.Context, mint, amount)
		if err != nil {
			return err
		}

		res, err := e.orch.AttachSpendingLimit(c.Context, multisig, orchestrator.SpendingLimitParams{
			VaultIndex:   vaultIndex,
			Mint:         mint,
			Amount:       units,
			Period:       period,
			Members:      members,
			Destinations: destinations,
			Memo:         memo(c),
		})
		if err != nil {
			return err
		}
		return printJSON(api.SpendingLimitResponse{
			Address:   res.Address.String(),
			CreateKey: res.CreateKey.String(),
			BaseUnits: units,
			Signature: res.Signature.String(),
		})
	}),
}

var proposeCmd = &cli.Command{
	Name:  "propose",
	Usage: "Create a vault transaction and proposal, and approve it as the proposer",
	Flags: []cli.Flag{
		multisigFlag,
		&cli.StringFlag{Name: "proposer", Value: "agent"},
		&cli.StringFlag{Name: "to", Usage: "Recipient of a SOL transfer from the vault"},
		&cli.Uint64Flag{Name: "lamports", Usage: "Lamports to transfer; no transfer when zero"},
		vaultIndexFlag,
		memoFlag,
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		multisig, err := multisigArg(c)
		if err != nil {
			return err
		}
		proposer, err := e.key(c.String("proposer"))
		if err != nil {
			return err
		}
		vaultIndex, err := vaultIndexArg(c, e)
		if err != nil {
			return err
		}

		var instructions []solana.Instruction
		if lamports := c.Uint64("lamports"); lamports > 0 {
			to, err := e.key(c.String("to"))
			if err != nil {
				return fmt.Errorf("recipient: %w", err)
			}
			vault, _, err := e.orch.Program().Vault(multisig, vaultIndex)
			if err != nil {
				return err
			}
			instructions = append(instructions, system.NewTransferInstruction(lamports, vault, to).Build())
		}

		res, err := e.orch.ProposeAndApprove(c.Context, multisig, orchestrator.ProposalParams{
			Proposer:     proposer,
			VaultIndex:   vaultIndex,
			Instructions: instructions,
			Memo:         memo(c),
		})
		if err != nil {
			return err
		}
		return printJSON(api.ProposeResponse{
			Index:     res.Index,
			Vault:     res.Vault.String(),
			Signature: res.Signature.String(),
			Attempts:  res.Attempts,
		})
	}),
}

type voteFunc func(e *env, c *cli.Context, multisig solana.PublicKey, index uint64, member solana.PublicKey) (solana.Signature, error)

func memberAction(fn voteFunc) cli.ActionFunc {
	return withEnv(func(c *cli.Context, e *env) error {
		multisig, err := multisigArg(c)
		if err != nil {
			return err
		}
		member, err := e.key(c.String("member"))
		if err != nil {
			return err
		}
		sig, err := fn(e, c, multisig, c.Uint64("index"), member)
		if err != nil {
			return err
		}
		return printJSON(api.SignatureResponse{Signature: sig.String()})
	})
}

var approveCmd = &cli.Command{
	Name:  "approve",
	Usage: "Approve a proposal",
	Flags: []cli.Flag{multisigFlag, indexFlag, memberFlag},
	Action: memberAction(func(e *env, c *cli.Context, multisig solana.PublicKey, index uint64, member solana.PublicKey) (solana.Signature, error) {
		return e.orch.Approve(c.Context, multisig, index, member)
	}),
}

var rejectCmd = &cli.Command{
	Name:  "reject",
	Usage: "Reject a proposal",
	Flags: []cli.Flag{multisigFlag, indexFlag, memberFlag},
	Action: memberAction(func(e *env, c *cli.Context, multisig solana.PublicKey, index uint64, member solana.PublicKey) (solana.Signature, error) {
		return e.orch.Reject(c.Context, multisig, index, member)
	}),
}

var executeCmd = &cli.Command{
	Name:  "execute",
	Usage: "Execute an approved vault transaction",
	Flags: []cli.Flag{multisigFlag, indexFlag, memberFlag},
	Action: memberAction(func(e *env, c *cli.Context, multisig solana.PublicKey, index uint64, member solana.PublicKey) (solana.Signature, error) {
		return e.orch.Execute(c.Context, multisig, index, member)
	}),
}

var infoCmd = &cli.Command{
	Name:  "info",
	Usage: "Show a multisig's members, threshold and transaction index",
	Flags: []cli.Flag{multisigFlag},
	Action: withEnv(func(c *cli.Context, e *env) error {
		multisig, err := multisigArg(c)
		if err != nil {
			return err
		}
		info, err := e.orch.Info(c.Context, multisig)
		if err != nil {
			return err
		}
		return printJSON(api.NewMultisigResponse(info))
	}),
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "Show tracked proposals of a multisig, or one proposal reconciled with the chain",
	Flags: []cli.Flag{
		multisigFlag,
		&cli.Uint64Flag{Name: "index", Usage: "Reconcile and show this proposal only"},
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		multisig, err := multisigArg(c)
		if err != nil {
			return err
		}
		if c.IsSet("index") {
			entry, err := e.orch.Reconcile(c.Context, multisig, c.Uint64("index"))
			if err != nil {
				return err
			}
			return printJSON(api.NewProposalResponse(entry))
		}
		entries, err := e.orch.Tracked(c.Context, multisig)
		if err != nil {
			return err
		}
		out := make([]*api.ProposalResponse, 0, len(entries))
		for _, entry := range entries {
			out = append(out, api.NewProposalResponse(entry))
		}
		return printJSON(out)
	}),
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Create a multisig with the agent, attach a daily limit, propose and execute a transfer",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "to", Usage: "Recipient of the transfer; defaults to the creator"},
		&cli.Uint64Flag{Name: "lamports", Usage: "Lamports to transfer from the vault"},
		&cli.StringFlag{Name: "limit", Value: "1", Usage: "Daily spending limit of the agent in SOL"},
	},
	Action: withEnv(func(c *cli.Context, e *env) error {
		agent, ok := e.principals["agent"]
		if !ok {
			return fmt.Errorf("run needs an agent key (--agent-key or [Keys] Agent)")
		}
		recipient := e.orch.Payer()
		if v := c.String("to"); v != "" {
			k, err := e.key(v)
			if err != nil {
				return err
			}
			recipient = k
		}
		limit, err := decimal.NewFromString(c.String("limit"))
		if err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
		lamports, err := orchestrator.ToBaseUnits(limit, 9)
		if err != nil {
			return err
		}

		res, err := e.orch.RunSequence(c.Context, orchestrator.SequenceParams{
			Agent:       agent,
			LimitAmount: lamports,
			Recipient:   recipient,
			Lamports:    c.Uint64("lamports"),
		})
		report := sequenceReport(res)
		if err != nil {
			e.log.Error("sequence stopped", zap.Error(err))
			_ = printJSON(report)
			return err
		}
		return printJSON(report)
	}),
}

type sequenceOutput struct {
	Multisig      string `json:"multisig,omitempty"`
	Vault         string `json:"vault,omitempty"`
	CreateTx      string `json:"createSignature,omitempty"`
	SpendingLimit string `json:"spendingLimit,omitempty"`
	LimitTx       string `json:"spendingLimitSignature,omitempty"`
	Index         uint64 `json:"index,omitempty"`
	ProposeTx     string `json:"proposeSignature,omitempty"`
	ExecuteTx     string `json:"executeSignature,omitempty"`
}

func sequenceReport(res *orchestrator.SequenceResult) sequenceOutput {
	var out sequenceOutput
	if res == nil {
		return out
	}
	if res.Create != nil {
		out.Multisig = res.Create.Multisig.String()
		out.Vault = res.Create.Vault.String()
		out.CreateTx = res.Create.Signature.String()
	}
	if res.SpendingLimit != nil {
		out.SpendingLimit = res.SpendingLimit.Address.String()
		out.LimitTx = res.SpendingLimit.Signature.String()
	}
	if res.Proposal != nil {
		out.Index = res.Proposal.Index
		out.ProposeTx = res.Proposal.Signature.String()
	}
	if !res.Execute.IsZero() {
		out.ExecuteTx = res.Execute.String()
	}
	return out
}
