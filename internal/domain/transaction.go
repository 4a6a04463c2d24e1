package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Input is a transaction input as reported by the wallet daemon.
type Input struct {
	WalletAddress  bool
	RelatedAddress string
	Value          decimal.Decimal
}

// Output is a transaction output as reported by the wallet daemon.
type Output struct {
	WalletAddress  bool
	RelatedAddress string
	Value          decimal.Decimal
}

// Transaction is the wallet's view of one on-chain transaction.
type Transaction struct {
	ID                    string
	ConfirmationHeight    uint64
	ConfirmationTimestamp time.Time
	Inputs                []Input
	Outputs               []Output
}

// NetAmount returns the signed balance change the transaction causes to the
// local wallet: wallet-owned outputs minus wallet-owned inputs, in hastings.
// Positive means funds received, negative funds sent.
func NetAmount(tx *Transaction) decimal.Decimal {
	sum := decimal.Zero
	if tx == nil {
		return sum
	}
	for _, in := range tx.Inputs {
		if in.WalletAddress {
			sum = sum.Sub(in.Value)
		}
	}
	for _, out := range tx.Outputs {
		if out.WalletAddress {
			sum = sum.Add(out.Value)
		}
	}
	return sum
}

// Addresses returns the wallet-owned destination and the external counterparty
// taken from the outputs. When several outputs qualify the last one wins.
// local is empty when no output belongs to the wallet.
func (tx *Transaction) Addresses() (local, counterparty string) {
	if tx == nil {
		return "", ""
	}
	for _, out := range tx.Outputs {
		if out.WalletAddress {
			local = out.RelatedAddress
		} else {
			counterparty = out.RelatedAddress
		}
	}
	return local, counterparty
}

// ConfirmedAt returns the confirmation time, or fallback when the daemon did not report one.
func (tx *Transaction) ConfirmedAt(fallback time.Time) time.Time {
	if tx == nil || tx.ConfirmationTimestamp.IsZero() {
		return fallback
	}
	return tx.ConfirmationTimestamp
}

// TransactionIDs lists the wallet transactions found in a height range.
type TransactionIDs struct {
	Confirmed   []string
	Unconfirmed []string
}
