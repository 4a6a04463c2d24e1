// Package sqlledger keeps the ledger in a SQL database. PostgreSQL and SQLite are supported.
package sqlledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vadiminshakov/siapay/internal/domain"
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const (
	watermarkName   = "scan"
	pgUniqueViolate = "23505"
)

// ParseDialect validates a dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(s))); d {
	case Postgres, SQLite:
		return d, nil
	}
	return "", fmt.Errorf("unsupported SQL dialect %q", s)
}

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Store is a database/sql backed ledger.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if _, err := ParseDialect(string(dialect)); err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", dialect, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	if dialect == SQLite {
		// a single writer keeps in-memory databases on one connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(15 * time.Minute)
	}

	return New(db, dialect), nil
}

// New wraps an already opened database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Migrate creates the ledger schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	seq := "seq BIGSERIAL PRIMARY KEY"
	if s.dialect == SQLite {
		seq = "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
	` + seq + `,
	id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	local_address TEXT NOT NULL DEFAULT '',
	counterparty_address TEXT NOT NULL DEFAULT '',
	transaction_id TEXT,
	amount TEXT NOT NULL,
	expires_at TEXT,
	block_height BIGINT NOT NULL,
	memo TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_transaction_id
	ON ledger_entries (transaction_id) WHERE transaction_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_local_address ON ledger_entries (local_address)`,
		`CREATE TABLE IF NOT EXISTS ledger_conflicts (
	` + seq + `,
	transaction_id TEXT NOT NULL UNIQUE,
	payload TEXT NOT NULL,
	detected_at TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ledger_checkpoints (
	name TEXT PRIMARY KEY,
	height BIGINT NOT NULL
)`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema migration: %w", err)
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute schema migration: %w", err)
		}
	}

	return tx.Commit()
}

// Insert writes one entry atomically. A second deposit or withdrawal with the
// same transaction id is rejected with domain.ErrDuplicateTransaction.
func (s *Store) Insert(ctx context.Context, entry domain.Entry) (err error) {
	if err := entry.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin insert")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`INSERT INTO ledger_entries
	(id, kind, local_address, counterparty_address, transaction_id, amount, expires_at, block_height, memo, recorded_at)
	VALUES (%s)`, s.placeholders(10))

	res, err := tx.ExecContext(ctx, query,
		entry.ID,
		string(entry.Kind),
		entry.LocalAddress,
		entry.CounterpartyAddress,
		nullString(entry.TransactionID),
		entry.Amount.String(),
		nullTime(entry.ExpiresAt),
		int64(entry.BlockHeight),
		entry.Memo,
		domain.FormatTime(entry.RecordedAt),
	)
	if err != nil {
		if isUniqueViolation(err) && entry.TransactionID != "" {
			return errors.Wrapf(domain.ErrDuplicateTransaction, "transaction %s", entry.TransactionID)
		}
		return errors.Wrap(err, "insert ledger entry")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "read affected rows")
	}
	if affected != 1 {
		err = fmt.Errorf("insert affected %d rows, want 1", affected)
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit ledger entry")
	}

	return nil
}

// Select returns the entries matching q in insertion order.
func (s *Store) Select(ctx context.Context, q domain.Query) ([]domain.Entry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	where, args, ok := s.where(q)
	if !ok {
		return nil, nil
	}

	records, err := s.selectRecords(ctx, where, args)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Entry, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Entry)
	}

	return out, nil
}

// EntriesAfter returns the entries whose sequence number is above index.
func (s *Store) EntriesAfter(ctx context.Context, index uint64) ([]domain.EntryRecord, error) {
	return s.selectRecords(ctx, "seq > "+s.dialect.placeholder(1), []any{int64(index)})
}

// LastIndex returns the sequence number of the newest entry, 0 when the ledger is empty.
func (s *Store) LastIndex(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM ledger_entries`).Scan(&last); err != nil {
		return 0, errors.Wrap(err, "read last ledger index")
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

// SaveConflict records an ambiguous match once per transaction.
func (s *Store) SaveConflict(ctx context.Context, c domain.Conflict) error {
	if c.TransactionID == "" {
		return domain.Invalid("conflict transaction id is required")
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal ledger conflict")
	}

	query := fmt.Sprintf(`INSERT INTO ledger_conflicts (transaction_id, payload, detected_at)
	VALUES (%s) ON CONFLICT (transaction_id) DO NOTHING`, s.placeholders(3))

	if _, err := s.db.ExecContext(ctx, query, c.TransactionID, string(payload), domain.FormatTime(c.DetectedAt)); err != nil {
		return errors.Wrap(err, "insert ledger conflict")
	}

	return nil
}

// Conflicts lists recorded ambiguous matches, oldest first.
func (s *Store) Conflicts(ctx context.Context) ([]domain.Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM ledger_conflicts ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "query ledger conflicts")
	}
	defer rows.Close()

	var out []domain.Conflict
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan ledger conflict")
		}
		var c domain.Conflict
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, errors.Wrap(err, "decode ledger conflict")
		}
		out = append(out, c)
	}

	return out, rows.Err()
}

// Watermark returns the height covered by the last completed scan.
func (s *Store) Watermark(ctx context.Context) (uint64, bool, error) {
	query := `SELECT height FROM ledger_checkpoints WHERE name = ` + s.dialect.placeholder(1)

	var height int64
	err := s.db.QueryRowContext(ctx, query, watermarkName).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "read scan watermark")
	}

	return uint64(height), true, nil
}

// SetWatermark persists the height covered by a completed scan.
func (s *Store) SetWatermark(ctx context.Context, height uint64) error {
	query := fmt.Sprintf(`INSERT INTO ledger_checkpoints (name, height) VALUES (%s)
	ON CONFLICT (name) DO UPDATE SET height = excluded.height`, s.placeholders(2))

	if _, err := s.db.ExecContext(ctx, query, watermarkName, int64(height)); err != nil {
		return errors.Wrap(err, "store scan watermark")
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) selectRecords(ctx context.Context, where string, args []any) ([]domain.EntryRecord, error) {
	query := `SELECT seq, id, kind, local_address, counterparty_address, transaction_id, amount,
	expires_at, block_height, memo, recorded_at FROM ledger_entries`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query ledger entries")
	}
	defer rows.Close()

	var out []domain.EntryRecord
	for rows.Next() {
		rec, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

// where renders q as a SQL predicate. ok is false when q can match nothing.
func (s *Store) where(q domain.Query) (string, []any, bool) {
	if len(q.Conditions) == 0 {
		return "", nil, true
	}

	parts := make([]string, 0, len(q.Conditions))
	args := make([]any, 0, len(q.Conditions))
	for _, c := range q.Conditions {
		col := string(c.Column)
		switch c.Column {
		case domain.ColumnTransactionID, domain.ColumnExpiresAt:
			if c.Value == "" {
				parts = append(parts, col+" IS NULL")
				continue
			}
		case domain.ColumnBlockHeight:
			height, err := strconv.ParseUint(c.Value, 10, 63)
			if err != nil {
				if q.Any {
					continue
				}
				return "", nil, false
			}
			args = append(args, int64(height))
			parts = append(parts, col+" = "+s.dialect.placeholder(len(args)))
			continue
		}
		args = append(args, c.Value)
		parts = append(parts, col+" = "+s.dialect.placeholder(len(args)))
	}

	if len(parts) == 0 {
		return "", nil, false
	}

	op := " AND "
	if q.Any {
		op = " OR "
	}

	return "(" + strings.Join(parts, op) + ")", args, true
}

func (s *Store) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = s.dialect.placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (domain.EntryRecord, error) {
	var (
		seq         int64
		e           domain.Entry
		kind        string
		txID        sql.NullString
		amount      string
		expiresAt   sql.NullString
		blockHeight int64
		recordedAt  string
	)

	if err := row.Scan(&seq, &e.ID, &kind, &e.LocalAddress, &e.CounterpartyAddress, &txID, &amount,
		&expiresAt, &blockHeight, &e.Memo, &recordedAt); err != nil {
		return domain.EntryRecord{}, errors.Wrap(err, "scan ledger entry")
	}

	k, err := domain.ParseKind(kind)
	if err != nil {
		return domain.EntryRecord{}, errors.Wrapf(err, "entry %s", e.ID)
	}
	e.Kind = k
	e.TransactionID = txID.String

	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.EntryRecord{}, errors.Wrapf(err, "entry %s amount", e.ID)
	}

	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return domain.EntryRecord{}, errors.Wrapf(err, "entry %s expiry", e.ID)
		}
		e.ExpiresAt = &t
	}

	e.BlockHeight = uint64(blockHeight)
	if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
		return domain.EntryRecord{}, errors.Wrapf(err, "entry %s recorded_at", e.ID)
	}

	return domain.EntryRecord{Index: uint64(seq), Entry: e}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: domain.FormatTime(*t), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolate
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT
	}

	return false
}
