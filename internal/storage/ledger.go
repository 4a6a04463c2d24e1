// Package storage selects and opens the ledger backend.
package storage

import (
	"context"
	"fmt"

	"github.com/vadiminshakov/siapay/internal/domain"
	"github.com/vadiminshakov/siapay/internal/storage/sqlledger"
	"github.com/vadiminshakov/siapay/internal/storage/walledger"
)

const (
	KindWAL      = "wal"
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
)

// Ledger is the full store contract shared by every backend.
type Ledger interface {
	Insert(ctx context.Context, entry domain.Entry) error
	Select(ctx context.Context, q domain.Query) ([]domain.Entry, error)
	SaveConflict(ctx context.Context, c domain.Conflict) error
	Conflicts(ctx context.Context) ([]domain.Conflict, error)
	Watermark(ctx context.Context) (uint64, bool, error)
	SetWatermark(ctx context.Context, height uint64) error
	EntriesAfter(ctx context.Context, index uint64) ([]domain.EntryRecord, error)
	LastIndex(ctx context.Context) (uint64, error)
	Close() error
}

var (
	_ Ledger = (*walledger.WALStore)(nil)
	_ Ledger = (*sqlledger.Store)(nil)
)

// Options locate the backend.
type Options struct {
	Kind   string
	WALDir string
	DSN    string
}

// Open opens the configured backend. SQL schemas are migrated on open.
func Open(ctx context.Context, opts Options) (Ledger, error) {
	switch opts.Kind {
	case KindWAL, "":
		s, err := walledger.NewWALStore(opts.WALDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindPostgres, KindSQLite:
		s, err := sqlledger.Open(ctx, sqlledger.Dialect(opts.Kind), opts.DSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}

	return nil, fmt.Errorf("unknown storage %q", opts.Kind)
}
