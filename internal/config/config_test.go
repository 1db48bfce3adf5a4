package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromReader(t *testing.T) {
	const doc = `
[Ledger]
RPCURL = "https://api.mainnet-beta.solana.com"
RequestsPerSecond = 5.0

[Program]
MaxProposeAttempts = 5

[Monitor]
Enabled = true
Interval = "10s"
AutoExecute = true
`
	cfg, err := FromReader(strings.NewReader(doc), DefaultConf())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "wss://api.mainnet-beta.solana.com", cfg.Ledger.WSURL)
	assert.Equal(t, "confirmed", cfg.Ledger.Commitment)
	assert.Equal(t, 5, cfg.Program.MaxProposeAttempts)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Monitor.Interval))
	assert.Equal(t, "agent", cfg.Monitor.Executor)
	assert.Equal(t, "sqlite", cfg.Store.Driver)

	id, err := cfg.ProgramID()
	require.NoError(t, err)
	assert.True(t, id.IsZero())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Conf)
	}{
		{"no rpc", func(c *Conf) { c.Ledger.RPCURL = "" }},
		{"commitment", func(c *Conf) { c.Ledger.Commitment = "eventually" }},
		{"program id", func(c *Conf) { c.Program.ID = "not-a-key" }},
		{"store driver", func(c *Conf) { c.Store.Driver = "postgres" }},
		{"log level", func(c *Conf) { c.Log.Level = "loud" }},
		{"executor", func(c *Conf) { c.Monitor.AutoExecute = true; c.Monitor.Executor = "" }},
	}
	require.NoError(t, DefaultConf().Validate())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConf()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "squadsflow.toml")
	require.NoError(t, WriteDefault(path))
	require.Error(t, WriteDefault(path))

	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConf(), cfg)

	missing, err := FromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConf(), missing)
}

func TestLoadPrivateKey(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	fromBase58, err := LoadPrivateKey(base58.Encode(key))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), fromBase58.PublicKey())

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	fromFile, err := LoadPrivateKey(path)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), fromFile.PublicKey())

	_, err = LoadPrivateKey("")
	require.Error(t, err)
	_, err = LoadPrivateKey(base58.Encode([]byte("short")))
	require.Error(t, err)
	_, err = LoadPrivateKey("0OIl")
	require.Error(t, err)
}
