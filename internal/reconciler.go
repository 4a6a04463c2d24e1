package internal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/siapay/internal/events"
	"github.com/vadiminshakov/siapay/internal/services/scanner"
)

// Scanner runs one reconciliation pass.
type Scanner interface {
	Run(ctx context.Context, processAll bool) (scanner.Result, error)
}

// Reconciler drives the scanner on a fixed schedule and announces new deposits.
type Reconciler struct {
	scanner    Scanner
	sinks      []events.Sink
	interval   time.Duration
	processAll bool
	logger     *zap.Logger
}

// NewReconciler creates a reconciler that runs the scanner every interval.
func NewReconciler(logger *zap.Logger, s Scanner, interval time.Duration, processAll bool, sinks ...events.Sink) (*Reconciler, error) {
	if s == nil {
		return nil, errors.New("scanner is required for reconciler")
	}
	if interval <= 0 {
		return nil, errors.Errorf("scan interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		scanner:    s,
		sinks:      sinks,
		interval:   interval,
		processAll: processAll,
		logger:     logger,
	}, nil
}

// RunOnce performs a single scan and publishes the deposits it recorded.
// Deposits recorded before a failed run are still published.
func (r *Reconciler) RunOnce(ctx context.Context, processAll bool) (scanner.Result, error) {
	res, err := r.scanner.Run(ctx, processAll)
	r.publish(ctx, res)
	if err != nil {
		return res, errors.Wrap(err, "reconciliation run failed")
	}

	return res, nil
}

// Run scans immediately and then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Starting reconciliation loop",
		zap.Duration("scan_interval", r.interval),
		zap.Bool("process_all", r.processAll))

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Context done, stopping reconciliation loop.")
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	r.logger.Debug("Reconciliation tick")

	res, err := r.RunOnce(ctx, r.processAll)
	if err != nil {
		switch {
		case errors.Is(err, scanner.ErrScanInProgress):
			r.logger.Debug("Previous scan still running, skipping tick")
		case ctx.Err() != nil:
			r.logger.Debug("Scan interrupted by shutdown", zap.Error(err))
		default:
			r.logger.Error("Reconciliation run failed, retrying on next tick",
				zap.String("run_id", res.RunID),
				zap.Error(err))
		}
		return
	}

	if len(res.Deposits) > 0 || len(res.Conflicts) > 0 {
		r.logger.Info("Reconciliation run recorded changes",
			zap.String("run_id", res.RunID),
			zap.Int("deposits", len(res.Deposits)),
			zap.Int("conflicts", len(res.Conflicts)))
	}
}

func (r *Reconciler) publish(ctx context.Context, res scanner.Result) {
	for _, dep := range res.Deposits {
		ev := events.NewEntryRecorded(res.RunID, dep)
		for _, sink := range r.sinks {
			if err := sink.Publish(ctx, ev); err != nil {
				r.logger.Warn("Failed to publish deposit event",
					zap.String("txid", dep.TransactionID),
					zap.Error(err))
			}
		}
	}
}
