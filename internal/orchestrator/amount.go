package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	nativeDecimals = 9
	// decimals sits after the mint authority option (36 bytes) and supply (8).
	mintDecimalsOffset = 44
)

var (
	// ErrNotMint is returned when the mint account is too short to hold decimals.
	ErrNotMint = errors.New("not a token mint")
	// ErrInvalidAmount is returned for amounts that have no base unit form.
	ErrInvalidAmount = errors.New("invalid amount")
)

var maxBaseUnits = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// MintDecimals returns the decimals of mint. The zero key stands for native SOL.
func (o *Orchestrator) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if mint.IsZero() {
		return nativeDecimals, nil
	}
	data, err := o.ledger.AccountData(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch mint %s: %w", mint, err)
	}
	if len(data) <= mintDecimalsOffset {
		return 0, fmt.Errorf("account %s: %w", mint, ErrNotMint)
	}
	return data[mintDecimalsOffset], nil
}

// ToBaseUnits converts a token amount such as "1.5" into base units.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}
	units := amount.Shift(int32(decimals))
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, decimals)
	}
	if units.GreaterThan(maxBaseUnits) {
		return 0, fmt.Errorf("%w: %s overflows", ErrInvalidAmount, amount)
	}
	return units.BigInt().Uint64(), nil
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(units uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals))
}

// BaseUnits resolves the decimals of mint and converts amount.
func (o *Orchestrator) BaseUnits(ctx context.Context, mint solana.PublicKey, amount decimal.Decimal) (uint64, error) {
	decimals, err := o.MintDecimals(ctx, mint)
	if err != nil {
		return 0, err
	}
	return ToBaseUnits(amount, decimals)
}
