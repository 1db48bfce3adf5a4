package main

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"squadsflow-go/internal/config"
	"squadsflow-go/internal/orchestrator"
)

func TestSequenceReport(t *testing.T) {
	assert.Equal(t, sequenceOutput{}, sequenceReport(nil))

	multisig := solana.NewWallet().PublicKey()
	res := &orchestrator.SequenceResult{
		Create: &orchestrator.CreateResult{Multisig: multisig},
	}
	out := sequenceReport(res)
	assert.Equal(t, multisig.String(), out.Multisig)
	assert.Empty(t, out.LimitTx)
	assert.Empty(t, out.ExecuteTx)
	assert.Zero(t, out.Index)

	res.Proposal = &orchestrator.ProposalResult{Index: 1}
	res.Execute = solana.Signature{1}
	out = sequenceReport(res)
	assert.Equal(t, uint64(1), out.Index)
	assert.Equal(t, res.Execute.String(), out.ExecuteTx)
}

func TestNarrow(t *testing.T) {
	v8, err := narrow[uint8]("vault-index", 255)
	require.NoError(t, err)
	assert.EqualValues(t, 255, v8)

	_, err = narrow[uint8]("vault-index", 256)
	require.ErrorContains(t, err, "--vault-index 256 is out of range")

	_, err = narrow[uint16]("threshold", 1<<16)
	require.Error(t, err)

	v32, err := narrow[uint32]("time-lock", 3600)
	require.NoError(t, err)
	assert.EqualValues(t, 3600, v32)
}

func TestVaultIndexArg(t *testing.T) {
	cfg := config.DefaultConf()
	cfg.Program.VaultIndex = 3
	e := &env{cfg: cfg}

	run := func(args ...string) (uint8, error) {
		var got uint8
		app := &cli.App{
			Commands: []*cli.Command{{
				Name:  "propose",
				Flags: []cli.Flag{vaultIndexFlag},
				Action: func(c *cli.Context) error {
					var err error
					got, err = vaultIndexArg(c, e)
					return err
				},
			}},
		}
		err := app.Run(append([]string{"squadsflow", "propose"}, args...))
		return got, err
	}

	got, err := run()
	require.NoError(t, err)
	assert.EqualValues(t, 3, got)

	got, err = run("--vault-index", "0")
	require.NoError(t, err)
	assert.EqualValues(t, 0, got)

	_, err = run("--vault-index", "256")
	require.Error(t, err)
}
