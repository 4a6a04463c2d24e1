package walledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/siapay/internal/domain"
)

var (
	local  = strings.Repeat("ab", 38)
	remote = strings.Repeat("cd", 38)
)

func newStore(t *testing.T, dir string) *WALStore {
	t.Helper()

	s, err := NewWALStore(dir)
	require.NoError(t, err)

	return s
}

func TestWALStore_InsertAndSelect(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, t.TempDir())
	defer s.Close()

	rcv, err := domain.NewReceivable(decimal.NewFromInt(50), local, time.Now().Add(time.Hour), 900)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, rcv))

	dep, err := domain.NewDeposit("tx1", local, remote, decimal.NewFromInt(50), 1000)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, dep))

	all, err := s.Select(ctx, domain.Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	byTx, err := s.Select(ctx, domain.Where(domain.Eq(domain.ColumnTransactionID, "tx1")))
	require.NoError(t, err)
	require.Len(t, byTx, 1)
	assert.Equal(t, dep.ID, byTx[0].ID)

	byAddr, err := s.Select(ctx, domain.Where(
		domain.Eq(domain.ColumnLocalAddress, local),
		domain.Eq(domain.ColumnKind, string(domain.KindReceivable)),
	))
	require.NoError(t, err)
	require.Len(t, byAddr, 1)
	assert.Equal(t, rcv.ID, byAddr[0].ID)

	either, err := s.Select(ctx, domain.WhereAny(
		domain.Eq(domain.ColumnTransactionID, "tx1"),
		domain.Eq(domain.ColumnKind, string(domain.KindReceivable)),
	))
	require.NoError(t, err)
	assert.Len(t, either, 2)

	assert.True(t, domain.Balance(all, local).IsZero())
}

func TestWALStore_RejectsDuplicateTransaction(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, t.TempDir())
	defer s.Close()

	first, err := domain.NewDeposit("tx1", local, remote, decimal.NewFromInt(50), 1000)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, first))

	second, err := domain.NewDeposit("tx1", local, remote, decimal.NewFromInt(50), 1001)
	require.NoError(t, err)
	err = s.Insert(ctx, second)
	require.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	all, err := s.Select(ctx, domain.Query{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWALStore_RejectsInvalidEntry(t *testing.T) {
	s := newStore(t, t.TempDir())
	defer s.Close()

	err := s.Insert(context.Background(), domain.Entry{ID: "x", Kind: domain.KindDeposit, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.Select(context.Background(), domain.Where(domain.Eq("msg", "x")))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestWALStore_ReplayAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newStore(t, dir)
	dep, err := domain.NewDeposit("tx1", local, remote, decimal.NewFromInt(7), 10)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, dep))
	require.NoError(t, s.SaveConflict(ctx, domain.Conflict{TransactionID: "tx2", LocalAddress: local, Amount: decimal.NewFromInt(3)}))
	require.NoError(t, s.SetWatermark(ctx, 10))
	require.NoError(t, s.SetWatermark(ctx, 12))
	require.NoError(t, s.Close())

	reopened := newStore(t, dir)
	defer reopened.Close()

	entries, err := reopened.Select(ctx, domain.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dep.ID, entries[0].ID)
	assert.True(t, dep.Amount.Equal(entries[0].Amount))

	conflicts, err := reopened.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "tx2", conflicts[0].TransactionID)

	height, ok, err := reopened.Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(12), height)

	again, err := domain.NewDeposit("tx1", local, remote, decimal.NewFromInt(7), 11)
	require.NoError(t, err)
	require.ErrorIs(t, reopened.Insert(ctx, again), domain.ErrDuplicateTransaction)
}

func TestWALStore_SaveConflictOncePerTransaction(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, t.TempDir())
	defer s.Close()

	c := domain.Conflict{TransactionID: "tx9", LocalAddress: local, Amount: decimal.NewFromInt(1)}
	require.NoError(t, s.SaveConflict(ctx, c))
	require.NoError(t, s.SaveConflict(ctx, c))

	conflicts, err := s.Conflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestWALStore_EntriesAfter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, t.TempDir())
	defer s.Close()

	_, ok, err := s.Watermark(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, id := range []string{"a", "b", "c"} {
		e, err := domain.NewWithdrawal(id, remote, decimal.NewFromInt(1), 5)
		require.NoError(t, err)
		require.NoError(t, s.Insert(ctx, e))
	}

	last, err := s.LastIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	recs, err := s.EntriesAfter(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].Index)
	assert.Equal(t, "b", recs[0].Entry.TransactionID)
	assert.Equal(t, uint64(3), recs[1].Index)

	recs, err = s.EntriesAfter(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
