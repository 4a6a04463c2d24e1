package domain

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrValidation marks input rejected before any network or store call.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateTransaction is returned by stores when a transaction id is already ledgered.
	ErrDuplicateTransaction = errors.New("transaction already registered")
	// ErrAmbiguousMatch marks a deposit address bound to more than one live receivable.
	ErrAmbiguousMatch = errors.New("ambiguous receivable match")
	// ErrPostSendLedger marks a successful send whose ledger bookkeeping failed.
	ErrPostSendLedger = errors.New("funds sent but withdrawal not ledgered")
	// ErrTransport marks a failed or undecodable wallet daemon call.
	ErrTransport = errors.New("wallet transport failure")
)

// validationError wraps ErrValidation with a reason.
func validationError(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// Invalid builds a validation error outside this package.
func Invalid(format string, args ...any) error {
	return validationError(format, args...)
}

// PostSendLedgerError describes an orphan transfer: the coins left the wallet
// but no withdrawal entry exists for them.
type PostSendLedgerError struct {
	TransactionID string
	Address       string
	Amount        decimal.Decimal
	Err           error
}

func (e *PostSendLedgerError) Error() string {
	return fmt.Sprintf("%s: txid=%s address=%s amount=%s: %v",
		ErrPostSendLedger.Error(), e.TransactionID, e.Address, e.Amount.String(), e.Err)
}

// Is reports ErrPostSendLedger as the sentinel for this error.
func (e *PostSendLedgerError) Is(target error) bool {
	return target == ErrPostSendLedger
}

func (e *PostSendLedgerError) Unwrap() error {
	return e.Err
}
