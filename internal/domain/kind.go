// Package domain defines the ledger data model shared by the scanner, the issuer and the stores.
package domain

// Kind is the ledger entry discriminant.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindReceivable Kind = "receivable"
)

// ParseKind converts a stored kind back to its typed value.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDeposit, KindWithdrawal, KindReceivable:
		return Kind(s), nil
	}
	return "", validationError("unknown ledger entry kind %q", s)
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}
