// Package scanner walks the chain backwards from the consensus height and
// records deposits that pay outstanding receivables.
package scanner

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/siapay/internal/domain"
	"github.com/vadiminshakov/siapay/internal/services/matcher"
)

var (
	// ErrScanInProgress is returned when Run is called while another run is active.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrWalletQuery marks an aborted run caused by the wallet daemon.
	ErrWalletQuery = errors.New("wallet query failed")
	// ErrLedgerQuery marks an aborted run caused by a ledger lookup.
	ErrLedgerQuery = errors.New("ledger lookup failed")
	// ErrLedgerInsert marks an aborted run caused by a failed deposit insert.
	ErrLedgerInsert = errors.New("deposit insert failed")
)

// Wallet is the read side of the wallet daemon used by the scanner.
type Wallet interface {
	ConsensusHeight(ctx context.Context) (uint64, error)
	Transactions(ctx context.Context, startHeight, endHeight uint64) (domain.TransactionIDs, error)
	Transaction(ctx context.Context, id string) (*domain.Transaction, error)
}

// Store is the ledger surface the scanner reads and appends to.
type Store interface {
	Insert(ctx context.Context, entry domain.Entry) error
	Select(ctx context.Context, q domain.Query) ([]domain.Entry, error)
	SaveConflict(ctx context.Context, c domain.Conflict) error
}

// Checkpointer persists the height up to which a completed run covered the chain.
type Checkpointer interface {
	Watermark(ctx context.Context) (uint64, bool, error)
	SetWatermark(ctx context.Context, height uint64) error
}

// Result summarises one run. Deposits are ordered newest block first.
type Result struct {
	RunID       string
	StartHeight uint64
	FloorHeight uint64
	StopHeight  uint64
	EarlyStop   bool
	Deposits    []domain.Entry
	Conflicts   []domain.Conflict
	Unmatched   int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithCheckpointer enables the persisted watermark.
func WithCheckpointer(c Checkpointer) Option {
	return func(s *Scanner) {
		s.checkpoints = c
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		s.now = now
	}
}

// Scanner reconciles on-chain deposits with the ledger. A Scanner allows a
// single active run; concurrent calls fail fast with ErrScanInProgress.
type Scanner struct {
	mu          sync.Mutex
	l           *zap.Logger
	wallet      Wallet
	store       Store
	checkpoints Checkpointer
	floor       uint64
	now         func() time.Time
}

// New creates a scanner that never descends below floor.
func New(l *zap.Logger, wallet Wallet, store Store, floor uint64, opts ...Option) (*Scanner, error) {
	if wallet == nil {
		return nil, errors.New("wallet is required for scanner")
	}
	if store == nil {
		return nil, errors.New("ledger store is required for scanner")
	}
	if l == nil {
		l = zap.NewNop()
	}

	s := &Scanner{
		l:      l,
		wallet: wallet,
		store:  store,
		floor:  floor,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run walks blocks from the consensus height down to the floor.
//
// Without a checkpointer and with processAll unset, the first already
// registered transaction ends the whole run. With a checkpointer the run
// stops at the watermark left by the last completed run instead, and
// registered transactions are skipped. processAll always scans to the floor.
//
// On error the returned Result still lists the deposits inserted before the failure.
func (s *Scanner) Run(ctx context.Context, processAll bool) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, ErrScanInProgress
	}
	defer s.mu.Unlock()

	res := Result{RunID: uuid.New().String()}
	l := s.l.With(zap.String("run_id", res.RunID), zap.Bool("process_all", processAll))

	height, err := s.wallet.ConsensusHeight(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: consensus height: %w", ErrWalletQuery, err)
	}
	res.StartHeight = height

	floor := s.floor
	stopOnRegistered := !processAll && s.checkpoints == nil
	if s.checkpoints != nil && !processAll {
		watermark, ok, err := s.checkpoints.Watermark(ctx)
		if err != nil {
			return res, fmt.Errorf("%w: read watermark: %w", ErrLedgerQuery, err)
		}
		if ok && watermark+1 > floor {
			floor = watermark + 1
		}
	}
	res.FloorHeight = floor

	if height < floor {
		l.Debug("No new blocks to scan",
			zap.Uint64("height", height),
			zap.Uint64("floor", floor))

		return res, nil
	}

	l.Info("Starting reconciliation scan",
		zap.Uint64("height", height),
		zap.Uint64("floor", floor))

	for h := height; ; h-- {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrap(err, "scan canceled")
		}
		res.StopHeight = h

		stop, err := s.scanBlock(ctx, l, h, height, stopOnRegistered, &res)
		if err != nil {
			return res, err
		}
		if stop {
			res.EarlyStop = true
			l.Info("Reached registered history, stopping scan",
				zap.Uint64("stop_height", h),
				zap.Int("new_deposits", len(res.Deposits)))

			return res, nil
		}

		if h == floor {
			break
		}
	}

	if s.checkpoints != nil {
		if err := s.checkpoints.SetWatermark(ctx, height); err != nil {
			return res, errors.Wrapf(err, "store watermark %d", height)
		}
	}

	l.Info("Reconciliation scan finished",
		zap.Uint64("from", height),
		zap.Uint64("to", floor),
		zap.Int("new_deposits", len(res.Deposits)),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.Int("unmatched", res.Unmatched))

	return res, nil
}

// scanBlock processes the confirmed transactions of one block. It reports
// stop when a registered transaction ends a non-exhaustive run.
func (s *Scanner) scanBlock(ctx context.Context, l *zap.Logger, h, runHeight uint64, stopOnRegistered bool, res *Result) (bool, error) {
	ids, err := s.wallet.Transactions(ctx, h, h)
	if err != nil {
		return false, fmt.Errorf("%w: transactions at height %d: %w", ErrWalletQuery, h, err)
	}

	for _, id := range ids.Confirmed {
		tx, err := s.wallet.Transaction(ctx, id)
		if err != nil {
			return false, fmt.Errorf("%w: transaction %s: %w", ErrWalletQuery, id, err)
		}

		net := domain.NetAmount(tx)
		if !net.IsPositive() {
			continue
		}

		registered, err := s.store.Select(ctx, domain.Where(domain.Eq(domain.ColumnTransactionID, id)))
		if err != nil {
			return false, fmt.Errorf("%w: transaction %s: %w", ErrLedgerQuery, id, err)
		}
		if len(registered) > 0 {
			if stopOnRegistered {
				return true, nil
			}
			continue
		}

		local, counterparty := tx.Addresses()
		if local == "" {
			continue
		}

		if err := s.reconcile(ctx, l, tx, local, counterparty, net, runHeight, res); err != nil {
			return false, err
		}
	}

	return false, nil
}

func (s *Scanner) reconcile(ctx context.Context, l *zap.Logger, tx *domain.Transaction, local, counterparty string,
	net decimal.Decimal, runHeight uint64, res *Result) error {

	bound, err := s.store.Select(ctx, domain.Where(domain.Eq(domain.ColumnLocalAddress, local)))
	if err != nil {
		return fmt.Errorf("%w: address %s: %w", ErrLedgerQuery, local, err)
	}

	// a receivable whose address balance reached zero is consumed
	if !domain.Balance(bound, local).IsNegative() {
		res.Unmatched++
		l.Debug("Deposit to settled or unknown address discarded",
			zap.String("txid", tx.ID),
			zap.String("address", local),
			zap.String("amount", net.String()))

		return nil
	}

	match := matcher.Match(local, bound, tx.ConfirmedAt(s.now()))
	switch match.Outcome {
	case matcher.NoMatch:
		res.Unmatched++
		l.Debug("Deposit without live receivable discarded",
			zap.String("txid", tx.ID),
			zap.String("address", local),
			zap.String("amount", net.String()))

		return nil
	case matcher.Ambiguous:
		conflict := domain.Conflict{
			TransactionID: tx.ID,
			LocalAddress:  local,
			Amount:        net,
			BlockHeight:   tx.ConfirmationHeight,
			Candidates:    match.Candidates,
			DetectedAt:    s.now().UTC(),
		}
		if err := s.store.SaveConflict(ctx, conflict); err != nil {
			return errors.Wrapf(err, "record conflict for transaction %s", tx.ID)
		}
		res.Conflicts = append(res.Conflicts, conflict)
		l.Warn("Deposit matches several live receivables, manual resolution required",
			zap.String("txid", tx.ID),
			zap.String("address", local),
			zap.String("amount", net.String()),
			zap.Int("candidates", len(match.Candidates)),
			zap.Error(domain.ErrAmbiguousMatch))

		return nil
	}

	deposit, err := domain.NewDeposit(tx.ID, local, counterparty, net, runHeight)
	if err != nil {
		return errors.Wrapf(err, "build deposit for transaction %s", tx.ID)
	}
	deposit.Memo = "confirmed at height " + strconv.FormatUint(tx.ConfirmationHeight, 10)

	if err := s.store.Insert(ctx, deposit); err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			l.Info("Deposit already ledgered, skipping",
				zap.String("txid", tx.ID))

			return nil
		}

		return fmt.Errorf("%w: transaction %s: %w", ErrLedgerInsert, tx.ID, err)
	}

	res.Deposits = append(res.Deposits, deposit)
	l.Info("Deposit recorded",
		zap.String("txid", tx.ID),
		zap.String("address", local),
		zap.String("amount", net.String()))

	return nil
}
