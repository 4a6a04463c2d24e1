package issuer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/siapay/internal/domain"
	"github.com/vadiminshakov/siapay/internal/storage/walledger"
	ledgerMock "github.com/vadiminshakov/siapay/mocks/ledger"
	walletMock "github.com/vadiminshakov/siapay/mocks/wallet"
)

var (
	local  = strings.Repeat("ab", 38)
	remote = strings.Repeat("cd", 38)
)

func newIssuer(t *testing.T, w Wallet, s Store) *Issuer {
	t.Helper()

	i, err := New(zap.NewNop(), w, s, time.Hour)
	require.NoError(t, err)

	return i
}

func TestRegisterReceivable(t *testing.T) {
	ctx := context.Background()
	w := walletMock.NewWallet(t)
	w.On("ConsensusHeight", mock.Anything).Return(uint64(1200), nil).Once()

	ledger, err := walledger.NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer ledger.Close()

	expires := time.Now().Add(24 * time.Hour)
	entry, err := newIssuer(t, w, ledger).RegisterReceivable(ctx, decimal.NewFromInt(50), local, expires)
	require.NoError(t, err)

	assert.Equal(t, domain.KindReceivable, entry.Kind)
	assert.Equal(t, "-50", entry.Amount.String())
	assert.Equal(t, uint64(1200), entry.BlockHeight)

	stored, err := ledger.Select(ctx, domain.Where(domain.Eq(domain.ColumnLocalAddress, local)))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "-50", domain.Balance(stored, local).String())
}

func TestRegisterReceivable_ValidationBeforeAnyCall(t *testing.T) {
	ctx := context.Background()
	w := walletMock.NewWallet(t)
	s := ledgerMock.NewStore(t)
	i := newIssuer(t, w, s)

	cases := []struct {
		name    string
		amount  decimal.Decimal
		address string
		expires time.Time
	}{
		{"zero amount", decimal.Zero, local, time.Now().Add(time.Hour)},
		{"negative amount", decimal.NewFromInt(-1), local, time.Now().Add(time.Hour)},
		{"fractional hastings", decimal.RequireFromString("0.5"), local, time.Now().Add(time.Hour)},
		{"malformed address", decimal.NewFromInt(5), "abc", time.Now().Add(time.Hour)},
		{"expiry in the past", decimal.NewFromInt(5), local, time.Now().Add(-time.Minute)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := i.RegisterReceivable(ctx, tc.amount, tc.address, tc.expires)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	w.AssertNotCalled(t, "ConsensusHeight", mock.Anything)
	s.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestOpenReceivable(t *testing.T) {
	w := walletMock.NewWallet(t)
	w.On("NewAddress", mock.Anything).Return(local, nil).Once()
	w.On("ConsensusHeight", mock.Anything).Return(uint64(10), nil).Once()

	s := ledgerMock.NewStore(t)
	s.On("Insert", mock.Anything, mock.MatchedBy(func(e domain.Entry) bool {
		return e.Kind == domain.KindReceivable && e.LocalAddress == local && e.Amount.String() == "-7"
	})).Return(nil).Once()

	i := newIssuer(t, w, s)
	before := time.Now()

	entry, err := i.OpenReceivable(context.Background(), decimal.NewFromInt(7), 0)
	require.NoError(t, err)
	require.NotNil(t, entry.ExpiresAt)
	assert.WithinDuration(t, before.Add(time.Hour), *entry.ExpiresAt, time.Minute)
}

func TestOpenReceivable_WalletAddressFailure(t *testing.T) {
	w := walletMock.NewWallet(t)
	w.On("NewAddress", mock.Anything).Return("", errors.New("wallet locked")).Once()

	_, err := newIssuer(t, w, ledgerMock.NewStore(t)).OpenReceivable(context.Background(), decimal.NewFromInt(7), time.Hour)
	require.Error(t, err)
}

func TestIssueWithdrawal(t *testing.T) {
	amount := decimal.NewFromInt(300)
	w := walletMock.NewWallet(t)
	w.On("SendSiacoins", mock.Anything, amount, remote).Return([]string{"parent", "abc"}, nil).Once()
	w.On("ConsensusHeight", mock.Anything).Return(uint64(1500), nil).Once()

	s := ledgerMock.NewStore(t)
	s.On("Insert", mock.Anything, mock.MatchedBy(func(e domain.Entry) bool {
		return e.Kind == domain.KindWithdrawal && e.TransactionID == "abc" && e.CounterpartyAddress == remote
	})).Return(nil).Once()

	entry, err := newIssuer(t, w, s).IssueWithdrawal(context.Background(), amount, remote)
	require.NoError(t, err)
	assert.Equal(t, "abc", entry.TransactionID)
	assert.Equal(t, uint64(1500), entry.BlockHeight)
	assert.Empty(t, entry.LocalAddress)
}

func TestIssueWithdrawal_InsertFailureAfterSend(t *testing.T) {
	amount := decimal.NewFromInt(300)
	w := walletMock.NewWallet(t)
	w.On("SendSiacoins", mock.Anything, amount, remote).Return([]string{"abc"}, nil).Once()
	w.On("ConsensusHeight", mock.Anything).Return(uint64(1500), nil).Once()

	s := ledgerMock.NewStore(t)
	s.On("Insert", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()

	_, err := newIssuer(t, w, s).IssueWithdrawal(context.Background(), amount, remote)
	require.ErrorIs(t, err, domain.ErrPostSendLedger)
	assert.NotErrorIs(t, err, ErrSend)

	var orphan *domain.PostSendLedgerError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, "abc", orphan.TransactionID)
	assert.Equal(t, remote, orphan.Address)
	assert.True(t, amount.Equal(orphan.Amount))
}

func TestIssueWithdrawal_HeightFailureAfterSend(t *testing.T) {
	amount := decimal.NewFromInt(1)
	w := walletMock.NewWallet(t)
	w.On("SendSiacoins", mock.Anything, amount, remote).Return([]string{"abc"}, nil).Once()
	w.On("ConsensusHeight", mock.Anything).Return(uint64(0), errors.New("timeout")).Once()

	_, err := newIssuer(t, w, ledgerMock.NewStore(t)).IssueWithdrawal(context.Background(), amount, remote)
	require.ErrorIs(t, err, domain.ErrPostSendLedger)
}

func TestIssueWithdrawal_SendFailure(t *testing.T) {
	amount := decimal.NewFromInt(300)
	w := walletMock.NewWallet(t)
	w.On("SendSiacoins", mock.Anything, amount, remote).Return(nil, errors.New("insufficient balance")).Once()

	s := ledgerMock.NewStore(t)

	_, err := newIssuer(t, w, s).IssueWithdrawal(context.Background(), amount, remote)
	require.ErrorIs(t, err, ErrSend)
	assert.NotErrorIs(t, err, domain.ErrPostSendLedger)
	s.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestIssueWithdrawal_Validation(t *testing.T) {
	w := walletMock.NewWallet(t)
	i := newIssuer(t, w, ledgerMock.NewStore(t))

	_, err := i.IssueWithdrawal(context.Background(), decimal.Zero, remote)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = i.IssueWithdrawal(context.Background(), decimal.NewFromInt(1), "not-an-address")
	require.ErrorIs(t, err, domain.ErrValidation)

	w.AssertNotCalled(t, "SendSiacoins", mock.Anything, mock.Anything, mock.Anything)
}
