// Package config loads the squadsflow TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap/zapcore"
)

type Conf struct {
	Ledger  LedgerConf
	Program ProgramConf
	Keys    KeysConf
	Store   StoreConf
	API     APIConf
	Monitor MonitorConf
	Log     LogConf
}

type LedgerConf struct {
	RPCURL string
	// WSURL defaults to RPCURL with the scheme swapped to ws(s).
	WSURL             string
	Commitment        string
	RequestsPerSecond float64
}

type ProgramConf struct {
	ID                 string
	MaxProposeAttempts int
	VaultIndex         uint8
}

// KeysConf holds key references: a path to a solana-keygen JSON file or a
// base58 encoded secret key.
type KeysConf struct {
	Creator string
	Agent   string
}

type StoreConf struct {
	Driver string // memory or sqlite
	Path   string
}

type APIConf struct {
	ListenAddress string
	Timeout       Duration
}

type MonitorConf struct {
	Enabled     bool
	Interval    Duration
	AutoExecute bool
	// Executor names the principal that signs automatic executions.
	Executor string
}

type LogConf struct {
	Level    string
	Encoding string // json or console
}

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func DefaultConf() *Conf {
	return &Conf{
		Ledger: LedgerConf{
			RPCURL:     rpc.DevNet_RPC,
			Commitment: string(rpc.CommitmentConfirmed),
		},
		Program: ProgramConf{
			MaxProposeAttempts: 3,
		},
		Store: StoreConf{
			Driver: "sqlite",
			Path:   "squadsflow.db",
		},
		API: APIConf{
			ListenAddress: "127.0.0.1:8080",
			Timeout:       Duration(60 * time.Second),
		},
		Monitor: MonitorConf{
			Interval: Duration(30 * time.Second),
			Executor: "agent",
		},
		Log: LogConf{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// FromFile reads path on top of the defaults. A missing file yields the defaults.
func FromFile(path string) (*Conf, error) {
	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return DefaultConf(), nil
	case err != nil:
		return nil, err
	}
	defer file.Close()
	return FromReader(file, DefaultConf())
}

func FromReader(reader io.Reader, def *Conf) (*Conf, error) {
	cfg := *def
	if _, err := toml.NewDecoder(reader).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration to path unless it exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(DefaultConf()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}

// Validate checks the configuration and fills derived values.
func (c *Conf) Validate() error {
	if c.Ledger.RPCURL == "" {
		return errors.New("ledger rpc url is required")
	}
	if c.Ledger.WSURL == "" {
		c.Ledger.WSURL = wsURL(c.Ledger.RPCURL)
	}
	switch rpc.CommitmentType(c.Ledger.Commitment) {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return fmt.Errorf("unknown commitment %q", c.Ledger.Commitment)
	}
	if _, err := c.ProgramID(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "sqlite3":
		if c.Store.Path == "" {
			return errors.New("sqlite store needs a path")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		return fmt.Errorf("unknown log encoding %q", c.Log.Encoding)
	}
	if c.Monitor.AutoExecute && c.Monitor.Executor == "" {
		return errors.New("monitor auto execute needs an executor")
	}
	return nil
}

// ProgramID returns the configured program id, or the zero key for the default
// deployment.
func (c *Conf) ProgramID() (solana.PublicKey, error) {
	if c.Program.ID == "" {
		return solana.PublicKey{}, nil
	}
	id, err := solana.PublicKeyFromBase58(c.Program.ID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program id %q: %w", c.Program.ID, err)
	}
	return id, nil
}

func wsURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	}
	return rpcURL
}
