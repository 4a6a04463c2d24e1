// Package walledger keeps the ledger in an append-only write-ahead log.
package walledger

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/siapay/internal/domain"
)

const (
	DefaultDir     = "./wal/ledger"
	segmentLimit   = 1000
	maxSegments    = 1 << 20 // ledger history must never rotate out
	dirPermissions = 0o755

	entryKeyPrefix    = "ledger_entry_"
	conflictKeyPrefix = "ledger_conflict_"
	watermarkKey      = "ledger_watermark"
)

type watermarkRecord struct {
	Height uint64 `json:"height"`
}

// WALStore persists ledger entries in a WAL and serves reads from memory.
// The in-memory view is rebuilt from the log when the store is opened.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex

	entries      []domain.EntryRecord
	txIDs        map[string]struct{}
	conflicts    []domain.Conflict
	conflictTxs  map[string]struct{}
	watermark    uint64
	hasWatermark bool
}

// NewWALStore opens or creates the ledger WAL under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure ledger WAL directory %s", dir)
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &WALStore{
		wal:         wal,
		txIDs:       make(map[string]struct{}),
		conflictTxs: make(map[string]struct{}),
	}
	if err := s.replay(); err != nil {
		_ = wal.Close()
		return nil, err
	}

	return s, nil
}

func (s *WALStore) replay() error {
	for msg := range s.wal.Iterator() {
		switch {
		case strings.HasPrefix(msg.Key, entryKeyPrefix):
			var e domain.Entry
			if err := json.Unmarshal(msg.Value, &e); err != nil {
				return errors.Wrapf(err, "decode ledger entry %s", msg.Key)
			}
			s.appendEntry(e)
		case strings.HasPrefix(msg.Key, conflictKeyPrefix):
			var c domain.Conflict
			if err := json.Unmarshal(msg.Value, &c); err != nil {
				return errors.Wrapf(err, "decode ledger conflict %s", msg.Key)
			}
			s.appendConflict(c)
		case msg.Key == watermarkKey:
			var w watermarkRecord
			if err := json.Unmarshal(msg.Value, &w); err != nil {
				return errors.Wrap(err, "decode scan watermark")
			}
			s.watermark, s.hasWatermark = w.Height, true
		}
	}

	return nil
}

// Insert appends a validated entry. A second deposit or withdrawal with the
// same transaction id is rejected with domain.ErrDuplicateTransaction.
func (s *WALStore) Insert(ctx context.Context, entry domain.Entry) error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal ledger entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.TransactionID != "" {
		if _, ok := s.txIDs[entry.TransactionID]; ok {
			return errors.Wrapf(domain.ErrDuplicateTransaction, "transaction %s", entry.TransactionID)
		}
	}

	if err := s.write(entryKeyPrefix+entry.ID, payload); err != nil {
		return errors.Wrap(err, "append ledger entry")
	}
	s.appendEntry(entry)

	return nil
}

// Select returns the entries matching q in insertion order.
func (s *WALStore) Select(ctx context.Context, q domain.Query) ([]domain.Entry, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("ledger store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Entry
	for _, rec := range s.entries {
		if q.Matches(rec.Entry) {
			out = append(out, rec.Entry)
		}
	}

	return out, nil
}

// EntriesAfter returns all entries appended after the provided index.
func (s *WALStore) EntriesAfter(ctx context.Context, index uint64) ([]domain.EntryRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("ledger store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if uint64(len(s.entries)) <= index {
		return nil, nil
	}

	out := make([]domain.EntryRecord, len(s.entries)-int(index))
	copy(out, s.entries[index:])

	return out, nil
}

// LastIndex returns the index of the newest entry, 0 when the ledger is empty.
func (s *WALStore) LastIndex(ctx context.Context) (uint64, error) {
	if s == nil || s.wal == nil {
		return 0, errors.New("ledger store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.entries)), nil
}

// SaveConflict records an ambiguous match once per transaction.
func (s *WALStore) SaveConflict(ctx context.Context, c domain.Conflict) error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.TransactionID == "" {
		return domain.Invalid("conflict transaction id is required")
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal ledger conflict")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conflictTxs[c.TransactionID]; ok {
		return nil
	}
	if err := s.write(conflictKeyPrefix+c.TransactionID, payload); err != nil {
		return errors.Wrap(err, "append ledger conflict")
	}
	s.appendConflict(c)

	return nil
}

// Conflicts lists recorded ambiguous matches, oldest first.
func (s *WALStore) Conflicts(ctx context.Context) ([]domain.Conflict, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("ledger store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Conflict, len(s.conflicts))
	copy(out, s.conflicts)

	return out, nil
}

// Watermark returns the height covered by the last completed scan.
func (s *WALStore) Watermark(ctx context.Context) (uint64, bool, error) {
	if s == nil || s.wal == nil {
		return 0, false, errors.New("ledger store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.watermark, s.hasWatermark, nil
}

// SetWatermark persists the height covered by a completed scan.
func (s *WALStore) SetWatermark(ctx context.Context, height uint64) error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(watermarkRecord{Height: height})
	if err != nil {
		return errors.Wrap(err, "marshal scan watermark")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(watermarkKey, payload); err != nil {
		return errors.Wrap(err, "append scan watermark")
	}
	s.watermark, s.hasWatermark = height, true

	return nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

// write must be called with mu held.
func (s *WALStore) write(key string, payload []byte) error {
	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

func (s *WALStore) appendEntry(e domain.Entry) {
	s.entries = append(s.entries, domain.EntryRecord{
		Index: uint64(len(s.entries)) + 1,
		Entry: e,
	})
	if e.TransactionID != "" {
		s.txIDs[e.TransactionID] = struct{}{}
	}
}

func (s *WALStore) appendConflict(c domain.Conflict) {
	if _, ok := s.conflictTxs[c.TransactionID]; ok {
		return
	}
	s.conflicts = append(s.conflicts, c)
	s.conflictTxs[c.TransactionID] = struct{}{}
}
