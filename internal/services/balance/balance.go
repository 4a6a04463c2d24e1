// Package balance answers read-only questions about the ledger.
package balance

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/siapay/internal/domain"
)

// Store reads ledger entries.
type Store interface {
	Select(ctx context.Context, q domain.Query) ([]domain.Entry, error)
}

// ReceivableStatus summarises the receivables and deposits bound to one address.
// Amounts are in hastings.
type ReceivableStatus struct {
	Address     string          `json:"address"`
	Owed        decimal.Decimal `json:"owed"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Satisfied   bool            `json:"satisfied"`
	Expired     bool            `json:"expired"`
}

// Service computes balances from the ledger.
type Service struct {
	store Store
}

// New creates a balance service.
func New(store Store) *Service {
	return &Service{store: store}
}

// AddressBalance is the running balance of address: negative while a receivable
// is unpaid, zero once paid exactly.
func (s *Service) AddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	entries, err := s.bound(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.Balance(entries, address), nil
}

// ReceivableStatus reports how much is owed and paid at address as of now.
// Expired is set when every receivable at the address has expired while still outstanding.
func (s *Service) ReceivableStatus(ctx context.Context, address string, now time.Time) (ReceivableStatus, error) {
	entries, err := s.bound(ctx, address)
	if err != nil {
		return ReceivableStatus{}, err
	}

	st := ReceivableStatus{Address: address, Owed: decimal.Zero, Paid: decimal.Zero}
	live := 0
	receivables := 0
	for _, e := range entries {
		switch e.Kind {
		case domain.KindReceivable:
			receivables++
			st.Owed = st.Owed.Add(e.Amount.Neg())
			if !e.Expired(now) {
				live++
			}
		case domain.KindDeposit:
			st.Paid = st.Paid.Add(e.Amount)
		}
	}

	st.Outstanding = st.Owed.Sub(st.Paid)
	if st.Outstanding.IsNegative() {
		st.Outstanding = decimal.Zero
	}
	st.Satisfied = receivables > 0 && st.Outstanding.IsZero()
	st.Expired = receivables > 0 && live == 0 && !st.Satisfied

	return st, nil
}

// Entries passes a query through to the store.
func (s *Service) Entries(ctx context.Context, q domain.Query) ([]domain.Entry, error) {
	entries, err := s.store.Select(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "select ledger entries")
	}
	return entries, nil
}

func (s *Service) bound(ctx context.Context, address string) ([]domain.Entry, error) {
	if err := domain.ValidateAddress(address); err != nil {
		return nil, err
	}

	entries, err := s.store.Select(ctx, domain.Where(domain.Eq(domain.ColumnLocalAddress, address)))
	if err != nil {
		return nil, errors.Wrapf(err, "select entries for %s", address)
	}

	return entries, nil
}
