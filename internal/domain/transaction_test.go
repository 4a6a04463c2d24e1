package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hastings(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestNetAmount_Empty(t *testing.T) {
	assert.True(t, NetAmount(nil).IsZero())
	assert.True(t, NetAmount(&Transaction{}).IsZero())
	assert.True(t, NetAmount(&Transaction{Inputs: []Input{}, Outputs: []Output{}}).IsZero())
}

func TestNetAmount(t *testing.T) {
	tests := []struct {
		name     string
		tx       Transaction
		expected string
	}{
		{
			name: "incoming payment",
			tx: Transaction{
				Inputs:  []Input{{WalletAddress: false, Value: decimal.NewFromInt(120)}},
				Outputs: []Output{{WalletAddress: true, Value: decimal.NewFromInt(100)}, {WalletAddress: false, Value: decimal.NewFromInt(20)}},
			},
			expected: "100",
		},
		{
			name: "outgoing payment with change",
			tx: Transaction{
				Inputs:  []Input{{WalletAddress: true, Value: decimal.NewFromInt(500)}},
				Outputs: []Output{{WalletAddress: false, Value: decimal.NewFromInt(300)}, {WalletAddress: true, Value: decimal.NewFromInt(190)}},
			},
			expected: "-310",
		},
		{
			name: "no wallet activity",
			tx: Transaction{
				Inputs:  []Input{{Value: decimal.NewFromInt(7)}},
				Outputs: []Output{{Value: decimal.NewFromInt(7)}},
			},
			expected: "0",
		},
		{
			name: "only outputs",
			tx: Transaction{
				Outputs: []Output{{WalletAddress: true, Value: decimal.NewFromInt(3)}, {WalletAddress: true, Value: decimal.NewFromInt(4)}},
			},
			expected: "7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NetAmount(&tt.tx)
			assert.True(t, got.Equal(hastings(t, tt.expected)), "got %s, want %s", got.String(), tt.expected)
		})
	}
}

func TestNetAmount_ArbitraryPrecision(t *testing.T) {
	// 1000000 SC in, 999999.999999999999999999999999 SC out: one hasting of difference at 10^30 scale.
	in := hastings(t, "1000000000000000000000000000000")
	out := hastings(t, "999999999999999999999999999999")
	tx := &Transaction{
		Inputs:  []Input{{WalletAddress: true, Value: in}},
		Outputs: []Output{{WalletAddress: true, Value: out}},
	}

	assert.Equal(t, "-1", NetAmount(tx).String())
}

func TestTransaction_Addresses(t *testing.T) {
	tx := &Transaction{
		Outputs: []Output{
			{WalletAddress: false, RelatedAddress: "remote"},
			{WalletAddress: true, RelatedAddress: "local"},
		},
	}
	local, remote := tx.Addresses()
	assert.Equal(t, "local", local)
	assert.Equal(t, "remote", remote)

	local, remote = (&Transaction{Outputs: []Output{{RelatedAddress: "remote"}}}).Addresses()
	assert.Empty(t, local)
	assert.Equal(t, "remote", remote)
}

func TestTransaction_ConfirmedAt(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	confirmed := fallback.Add(-time.Hour)

	assert.Equal(t, fallback, (&Transaction{}).ConfirmedAt(fallback))
	assert.Equal(t, confirmed, (&Transaction{ConfirmationTimestamp: confirmed}).ConfirmedAt(fallback))
}
