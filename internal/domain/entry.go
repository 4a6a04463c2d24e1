package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is a single append-only ledger record.
//
// Which optional fields are set depends on Kind:
//
//	kind        local  counterparty  txid  expires
//	receivable  yes    no            no    yes
//	deposit     yes    yes           yes   no
//	withdrawal  no     yes           yes   no
//
// Amount is an integer number of hastings. Receivables carry the owed amount as a
// negative value, deposits and withdrawals a positive one.
type Entry struct {
	ID                  string          `json:"id"`
	Kind                Kind            `json:"kind"`
	LocalAddress        string          `json:"local_address,omitempty"`
	CounterpartyAddress string          `json:"counterparty_address,omitempty"`
	TransactionID       string          `json:"transaction_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
	BlockHeight         uint64          `json:"block_height"`
	Memo                string          `json:"memo,omitempty"`
	RecordedAt          time.Time       `json:"recorded_at"`
}

// NewReceivable creates an entry for a payment expected at localAddress.
// amount is the positive amount owed; it is stored negated.
func NewReceivable(amount decimal.Decimal, localAddress string, expiresAt time.Time, height uint64) (Entry, error) {
	if err := requirePositiveHastings(amount); err != nil {
		return Entry{}, err
	}
	if err := ValidateAddress(localAddress); err != nil {
		return Entry{}, err
	}
	if expiresAt.IsZero() {
		return Entry{}, validationError("receivable expiry is required")
	}

	expires := expiresAt.UTC()
	e := Entry{
		ID:           uuid.New().String(),
		Kind:         KindReceivable,
		LocalAddress: localAddress,
		Amount:       amount.Neg(),
		ExpiresAt:    &expires,
		BlockHeight:  height,
		RecordedAt:   time.Now().UTC(),
	}

	return e, e.Validate()
}

// NewDeposit creates an entry for a confirmed transfer into a wallet-owned address.
func NewDeposit(txID, localAddress, counterpartyAddress string, amount decimal.Decimal, height uint64) (Entry, error) {
	if err := requirePositiveHastings(amount); err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:                  uuid.New().String(),
		Kind:                KindDeposit,
		LocalAddress:        localAddress,
		CounterpartyAddress: counterpartyAddress,
		TransactionID:       txID,
		Amount:              amount,
		BlockHeight:         height,
		RecordedAt:          time.Now().UTC(),
	}

	return e, e.Validate()
}

// NewWithdrawal creates an entry for a transfer sent out of the wallet.
func NewWithdrawal(txID, counterpartyAddress string, amount decimal.Decimal, height uint64) (Entry, error) {
	if err := requirePositiveHastings(amount); err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:                  uuid.New().String(),
		Kind:                KindWithdrawal,
		CounterpartyAddress: counterpartyAddress,
		TransactionID:       txID,
		Amount:              amount,
		BlockHeight:         height,
		RecordedAt:          time.Now().UTC(),
	}

	return e, e.Validate()
}

// Validate checks per-kind field presence.
func (e Entry) Validate() error {
	if e.ID == "" {
		return validationError("entry id is required")
	}
	if !e.Amount.IsInteger() {
		return validationError("amount %s is not a whole number of hastings", e.Amount.String())
	}

	switch e.Kind {
	case KindReceivable:
		if e.LocalAddress == "" {
			return validationError("receivable requires a local address")
		}
		if e.CounterpartyAddress != "" || e.TransactionID != "" {
			return validationError("receivable must not carry a counterparty or transaction id")
		}
		if e.ExpiresAt == nil {
			return validationError("receivable requires an expiry")
		}
		if !e.Amount.IsNegative() {
			return validationError("receivable amount must be negative, got %s", e.Amount.String())
		}
	case KindDeposit:
		if e.LocalAddress == "" || e.TransactionID == "" {
			return validationError("deposit requires a local address and a transaction id")
		}
		if e.ExpiresAt != nil {
			return validationError("deposit must not expire")
		}
		if !e.Amount.IsPositive() {
			return validationError("deposit amount must be positive, got %s", e.Amount.String())
		}
	case KindWithdrawal:
		if e.LocalAddress != "" {
			return validationError("withdrawal must not carry a local address")
		}
		if e.CounterpartyAddress == "" || e.TransactionID == "" {
			return validationError("withdrawal requires a counterparty address and a transaction id")
		}
		if e.ExpiresAt != nil {
			return validationError("withdrawal must not expire")
		}
		if !e.Amount.IsPositive() {
			return validationError("withdrawal amount must be positive, got %s", e.Amount.String())
		}
	default:
		return validationError("unknown entry kind %q", e.Kind)
	}

	return nil
}

// Expired reports whether a receivable is past its expiry at the given time.
// Entries without an expiry never expire.
func (e Entry) Expired(at time.Time) bool {
	return e.ExpiresAt != nil && at.After(*e.ExpiresAt)
}

// Balance sums the amounts of all entries bound to address.
func Balance(entries []Entry, address string) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		if e.LocalAddress == address {
			sum = sum.Add(e.Amount)
		}
	}
	return sum
}

func requirePositiveHastings(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationError("amount must be positive, got %s", amount.String())
	}
	if !amount.IsInteger() {
		return validationError("amount %s is not a whole number of hastings", amount.String())
	}
	return nil
}
