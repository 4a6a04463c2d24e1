// Package issuer creates receivables and sends withdrawals, recording both in the ledger.
package issuer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/siapay/internal/domain"
)

// DefaultTTL is the receivable lifetime used by OpenReceivable when none is configured.
const DefaultTTL = 24 * time.Hour

// ErrSend is returned when the wallet refused or failed a transfer. No funds moved.
var ErrSend = errors.New("send siacoins failed")

// Wallet is the part of the wallet daemon the issuer drives.
type Wallet interface {
	ConsensusHeight(ctx context.Context) (uint64, error)
	SendSiacoins(ctx context.Context, amount decimal.Decimal, destination string) ([]string, error)
	NewAddress(ctx context.Context) (string, error)
}

// Store appends ledger entries.
type Store interface {
	Insert(ctx context.Context, entry domain.Entry) error
}

// Issuer writes receivable and withdrawal entries.
type Issuer struct {
	l      *zap.Logger
	wallet Wallet
	store  Store
	ttl    time.Duration
	now    func() time.Time
}

// New creates an issuer. A zero ttl falls back to DefaultTTL.
func New(l *zap.Logger, wallet Wallet, store Store, ttl time.Duration) (*Issuer, error) {
	if wallet == nil {
		return nil, errors.New("wallet is required for issuer")
	}
	if store == nil {
		return nil, errors.New("ledger store is required for issuer")
	}
	if l == nil {
		l = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Issuer{l: l, wallet: wallet, store: store, ttl: ttl, now: time.Now}, nil
}

// RegisterReceivable records that amount hastings are owed at localAddress until expiresAt.
// Input is validated before the wallet or the store is touched.
func (i *Issuer) RegisterReceivable(ctx context.Context, amount decimal.Decimal, localAddress string, expiresAt time.Time) (domain.Entry, error) {
	if err := i.validateReceivable(amount, localAddress, expiresAt); err != nil {
		return domain.Entry{}, err
	}

	return i.registerReceivable(ctx, amount, localAddress, expiresAt)
}

// OpenReceivable asks the wallet for a fresh address and binds a receivable of
// amount hastings to it.
func (i *Issuer) OpenReceivable(ctx context.Context, amount decimal.Decimal, ttl time.Duration) (domain.Entry, error) {
	if ttl <= 0 {
		ttl = i.ttl
	}
	if !amount.IsPositive() || !amount.IsInteger() {
		return domain.Entry{}, domain.Invalid("receivable amount must be a positive whole number of hastings, got %s", amount.String())
	}

	address, err := i.wallet.NewAddress(ctx)
	if err != nil {
		return domain.Entry{}, errors.Wrap(err, "request fresh wallet address")
	}

	expiresAt := i.now().Add(ttl)
	if err := i.validateReceivable(amount, address, expiresAt); err != nil {
		return domain.Entry{}, err
	}

	return i.registerReceivable(ctx, amount, address, expiresAt)
}

func (i *Issuer) validateReceivable(amount decimal.Decimal, localAddress string, expiresAt time.Time) error {
	if !amount.IsPositive() || !amount.IsInteger() {
		return domain.Invalid("receivable amount must be a positive whole number of hastings, got %s", amount.String())
	}
	if err := domain.ValidateAddress(localAddress); err != nil {
		return err
	}
	if !expiresAt.After(i.now()) {
		return domain.Invalid("receivable expiry %s is not in the future", domain.FormatTime(expiresAt))
	}

	return nil
}

func (i *Issuer) registerReceivable(ctx context.Context, amount decimal.Decimal, localAddress string, expiresAt time.Time) (domain.Entry, error) {
	height, err := i.wallet.ConsensusHeight(ctx)
	if err != nil {
		return domain.Entry{}, errors.Wrap(err, "read consensus height")
	}

	entry, err := domain.NewReceivable(amount, localAddress, expiresAt, height)
	if err != nil {
		return domain.Entry{}, err
	}
	if err := i.store.Insert(ctx, entry); err != nil {
		return domain.Entry{}, errors.Wrap(err, "insert receivable")
	}

	i.l.Info("Receivable registered",
		zap.String("address", localAddress),
		zap.String("amount", amount.String()),
		zap.Time("expires_at", expiresAt),
		zap.Uint64("height", height))

	return entry, nil
}

// IssueWithdrawal sends amount hastings to counterpartyAddress and ledgers the transfer.
//
// A failed send returns ErrSend. Once the wallet accepted the transfer, any later
// failure returns a *domain.PostSendLedgerError naming the orphan transaction;
// the send is never retried.
func (i *Issuer) IssueWithdrawal(ctx context.Context, amount decimal.Decimal, counterpartyAddress string) (domain.Entry, error) {
	if !amount.IsPositive() || !amount.IsInteger() {
		return domain.Entry{}, domain.Invalid("withdrawal amount must be a positive whole number of hastings, got %s", amount.String())
	}
	if err := domain.ValidateAddress(counterpartyAddress); err != nil {
		return domain.Entry{}, err
	}

	txIDs, err := i.wallet.SendSiacoins(ctx, amount, counterpartyAddress)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("%w: %w", ErrSend, err)
	}
	if len(txIDs) == 0 {
		return domain.Entry{}, fmt.Errorf("%w: wallet returned no transaction ids", ErrSend)
	}

	// the last id is the one carrying the payment
	txID := txIDs[len(txIDs)-1]

	entry, err := i.recordWithdrawal(ctx, txID, counterpartyAddress, amount)
	if err != nil {
		orphan := &domain.PostSendLedgerError{
			TransactionID: txID,
			Address:       counterpartyAddress,
			Amount:        amount,
			Err:           err,
		}
		i.l.Error("Funds sent but withdrawal was not ledgered",
			zap.String("txid", txID),
			zap.String("address", counterpartyAddress),
			zap.String("amount", amount.String()),
			zap.Error(err))

		return domain.Entry{}, orphan
	}

	i.l.Info("Withdrawal recorded",
		zap.String("txid", txID),
		zap.String("address", counterpartyAddress),
		zap.String("amount", amount.String()),
		zap.Uint64("height", entry.BlockHeight))

	return entry, nil
}

func (i *Issuer) recordWithdrawal(ctx context.Context, txID, counterpartyAddress string, amount decimal.Decimal) (domain.Entry, error) {
	// the send already happened; bookkeeping must not be cut short by the caller
	ctx = context.WithoutCancel(ctx)

	height, err := i.wallet.ConsensusHeight(ctx)
	if err != nil {
		return domain.Entry{}, errors.Wrap(err, "read consensus height")
	}

	entry, err := domain.NewWithdrawal(txID, counterpartyAddress, amount, height)
	if err != nil {
		return domain.Entry{}, err
	}
	if err := i.store.Insert(ctx, entry); err != nil {
		return domain.Entry{}, errors.Wrap(err, "insert withdrawal")
	}

	return entry, nil
}
