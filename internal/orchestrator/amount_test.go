package orchestrator

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squadsflow-go/internal/ledger"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{amount: "1", decimals: 9, want: 1_000_000_000},
		{amount: "1.5", decimals: 6, want: 1_500_000},
		{amount: "0.000001", decimals: 6, want: 1},
		{amount: "0.0000001", decimals: 6, wantErr: true},
		{amount: "-1", decimals: 6, wantErr: true},
		{amount: "18446744073709551616", decimals: 0, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.amount, func(t *testing.T) {
			got, err := ToBaseUnits(decimal.RequireFromString(tc.amount), tc.decimals)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.True(t, FromBaseUnits(got, tc.decimals).Equal(decimal.RequireFromString(tc.amount)))
		})
	}
}

func TestMintDecimals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.orch.MintDecimals(ctx, solana.PublicKey{})
	require.NoError(t, err)
	assert.EqualValues(t, 9, d)

	mint := solana.NewWallet().PublicKey()
	data := make([]byte, 82)
	data[mintDecimalsOffset] = 6
	f.ledger.SetAccount(mint, data)

	units, err := f.orch.BaseUnits(ctx, mint, decimal.RequireFromString("2.5"))
	require.NoError(t, err)
	assert.EqualValues(t, 2_500_000, units)

	_, err = f.orch.MintDecimals(ctx, solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	short := solana.NewWallet().PublicKey()
	f.ledger.SetAccount(short, make([]byte, 10))
	_, err = f.orch.MintDecimals(ctx, short)
	require.ErrorIs(t, err, ErrNotMint)
}
