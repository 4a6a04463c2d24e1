package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/siapay/internal/domain"
	"github.com/vadiminshakov/siapay/internal/events"
	"github.com/vadiminshakov/siapay/internal/services/scanner"
)

type scannerMock struct {
	mock.Mock
}

func (m *scannerMock) Run(ctx context.Context, processAll bool) (scanner.Result, error) {
	args := m.Called(ctx, processAll)
	return args.Get(0).(scanner.Result), args.Error(1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.EntryRecorded
	err    error
}

func (s *recordingSink) Publish(_ context.Context, ev events.EntryRecorded) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func deposit(t *testing.T, txID string) domain.Entry {
	t.Helper()
	e, err := domain.NewDeposit(txID, "local", "remote", decimal.NewFromInt(5), 100)
	require.NoError(t, err)
	return e
}

func TestNewReconciler(t *testing.T) {
	_, err := NewReconciler(zap.NewNop(), nil, time.Second, false)
	require.Error(t, err)

	_, err = NewReconciler(zap.NewNop(), &scannerMock{}, 0, false)
	require.Error(t, err)

	r, err := NewReconciler(nil, &scannerMock{}, time.Second, true)
	require.NoError(t, err)
	assert.True(t, r.processAll)
}

func TestReconciler_RunOncePublishesDeposits(t *testing.T) {
	s := &scannerMock{}
	res := scanner.Result{RunID: "run-1", Deposits: []domain.Entry{deposit(t, "a"), deposit(t, "b")}}
	s.On("Run", mock.Anything, true).Return(res, nil).Once()

	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}
	r, err := NewReconciler(zap.NewNop(), s, time.Second, false, failing, ok)
	require.NoError(t, err)

	got, err := r.RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)

	require.Equal(t, 2, ok.len())
	assert.Equal(t, "a", ok.events[0].Entry.TransactionID)
	assert.Equal(t, "run-1", ok.events[0].RunID)
	assert.Equal(t, events.TypeEntryRecorded, ok.events[1].Type)
	// a failing sink does not starve the others
	assert.Equal(t, 2, failing.len())
	s.AssertExpectations(t)
}

func TestReconciler_RunOncePublishesPartialResult(t *testing.T) {
	s := &scannerMock{}
	res := scanner.Result{RunID: "run-2", Deposits: []domain.Entry{deposit(t, "a")}}
	s.On("Run", mock.Anything, false).Return(res, scanner.ErrWalletQuery).Once()

	sink := &recordingSink{}
	r, err := NewReconciler(zap.NewNop(), s, time.Second, false, sink)
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background(), false)
	require.ErrorIs(t, err, scanner.ErrWalletQuery)
	assert.Equal(t, 1, sink.len())
}

func TestReconciler_RunKeepsTickingAfterErrors(t *testing.T) {
	s := &scannerMock{}
	s.On("Run", mock.Anything, false).Return(scanner.Result{}, scanner.ErrWalletQuery).Once()
	s.On("Run", mock.Anything, false).Return(scanner.Result{}, scanner.ErrScanInProgress).Once()
	s.On("Run", mock.Anything, false).
		Return(scanner.Result{RunID: "run-3", Deposits: []domain.Entry{deposit(t, "c")}}, nil).Once()
	s.On("Run", mock.Anything, false).Return(scanner.Result{}, nil).Maybe()

	sink := &recordingSink{}
	r, err := NewReconciler(zap.NewNop(), s, 5*time.Millisecond, false, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
