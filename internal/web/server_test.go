package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vadiminshakov/siapay/internal/domain"
	"github.com/vadiminshakov/siapay/internal/events"
	"github.com/vadiminshakov/siapay/internal/services/balance"
	"github.com/vadiminshakov/siapay/internal/services/issuer"
	"github.com/vadiminshakov/siapay/internal/storage/walledger"
	walletMock "github.com/vadiminshakov/siapay/mocks/wallet"
)

var (
	addrA = strings.Repeat("a1", 38)
	addrB = strings.Repeat("b2", 38)
)

type fixture struct {
	store       *walledger.WALStore
	broadcaster *events.EntryBroadcaster
	server      *Server
	http        *httptest.Server
}

func newFixture(t *testing.T, auth Auth) *fixture {
	t.Helper()

	store, err := walledger.NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	w := walletMock.NewWallet(t)
	w.On("ConsensusHeight", mock.Anything).Return(uint64(1000), nil).Maybe()
	w.On("NewAddress", mock.Anything).Return(addrA, nil).Maybe()

	iss, err := issuer.New(zap.NewNop(), w, store, time.Hour)
	require.NoError(t, err)

	b := events.NewEntryBroadcaster(8)
	s := NewServer("", zap.NewNop(), balance.New(store), store, iss, b, auth)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{store: store, broadcaster: b, server: s, http: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_CreateReceivableWithFreshAddress(t *testing.T) {
	f := newFixture(t, Auth{})

	resp := f.do(t, http.MethodPost, "/receivables", `{"amount_sc":"1.5"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	e := decode[domain.Entry](t, resp)
	assert.Equal(t, domain.KindReceivable, e.Kind)
	assert.Equal(t, addrA, e.LocalAddress)
	assert.Equal(t, "-1500000000000000000000000", e.Amount.String())
	require.NotNil(t, e.ExpiresAt)

	resp = f.do(t, http.MethodGet, "/balance?address="+addrA, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bal := decode[balanceResponse](t, resp)
	assert.Equal(t, "-1500000000000000000000000", bal.Hastings.String())
	assert.Equal(t, "-1.5", bal.Siacoins)

	resp = f.do(t, http.MethodGet, "/receivables/status?address="+addrA, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[balance.ReceivableStatus](t, resp)
	assert.False(t, st.Satisfied)
	assert.Equal(t, "1500000000000000000000000", st.Outstanding.String())
}

func TestServer_CreateReceivableAtAddress(t *testing.T) {
	f := newFixture(t, Auth{})

	resp := f.do(t, http.MethodPost, "/receivables", `{"amount_sc":"2","address":"`+addrB+`","expires_in":"2h"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	e := decode[domain.Entry](t, resp)
	assert.Equal(t, addrB, e.LocalAddress)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), *e.ExpiresAt, time.Minute)
}

func TestServer_CreateReceivableRejectsBadInput(t *testing.T) {
	f := newFixture(t, Auth{})

	for name, body := range map[string]string{
		"not json":            `amount=1`,
		"bad amount":          `{"amount_sc":"abc"}`,
		"sub-hasting":         `{"amount_sc":"0.0000000000000000000000001"}`,
		"negative":            `{"amount_sc":"-1"}`,
		"bad ttl":             `{"amount_sc":"1","expires_in":"soon"}`,
		"address without ttl": `{"amount_sc":"1","address":"` + addrB + `"}`,
		"bad address":         `{"amount_sc":"1","address":"short","expires_in":"1h"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/receivables", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	entries, err := f.store.Select(context.Background(), domain.Query{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestServer_Entries(t *testing.T) {
	f := newFixture(t, Auth{})
	ctx := context.Background()

	dep, err := domain.NewDeposit("tx1", addrA, addrB, decimal.NewFromInt(10), 900)
	require.NoError(t, err)
	require.NoError(t, f.store.Insert(ctx, dep))
	wd, err := domain.NewWithdrawal("tx2", addrB, decimal.NewFromInt(3), 901)
	require.NoError(t, err)
	require.NoError(t, f.store.Insert(ctx, wd))

	resp := f.do(t, http.MethodGet, "/entries", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]domain.Entry](t, resp), 2)

	resp = f.do(t, http.MethodGet, "/entries?kind=withdrawal", "")
	got := decode[[]domain.Entry](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "tx2", got[0].TransactionID)

	resp = f.do(t, http.MethodGet, "/entries?address="+addrA+"&txid=tx1", "")
	assert.Len(t, decode[[]domain.Entry](t, resp), 1)

	resp = f.do(t, http.MethodGet, "/entries?txid=missing", "")
	assert.Empty(t, decode[[]domain.Entry](t, resp))

	resp = f.do(t, http.MethodGet, "/entries?kind=transfer", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Conflicts(t *testing.T) {
	f := newFixture(t, Auth{})

	resp := f.do(t, http.MethodGet, "/conflicts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]domain.Conflict](t, resp))

	require.NoError(t, f.store.SaveConflict(context.Background(), domain.Conflict{
		TransactionID: "tx9",
		LocalAddress:  addrA,
		Amount:        decimal.NewFromInt(1),
		DetectedAt:    time.Now().UTC(),
	}))

	resp = f.do(t, http.MethodGet, "/conflicts", "")
	got := decode[[]domain.Conflict](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "tx9", got[0].TransactionID)
}

func TestServer_AddressRequired(t *testing.T) {
	f := newFixture(t, Auth{})

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/balance", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/receivables/status", "").StatusCode)
}

func TestServer_BasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	f := newFixture(t, Auth{User: "admin", PasswordHash: string(hash)})

	resp := f.do(t, http.MethodGet, "/conflicts", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	for _, creds := range [][2]string{{"admin", "wrong"}, {"root", "s3cret"}, {"admin", "s3cret"}} {
		req, err := http.NewRequest(http.MethodGet, f.http.URL+"/conflicts", nil)
		require.NoError(t, err)
		req.SetBasicAuth(creds[0], creds[1])
		resp, err := f.http.Client().Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()

		want := http.StatusUnauthorized
		if creds == [2]string{"admin", "s3cret"} {
			want = http.StatusOK
		}
		assert.Equal(t, want, resp.StatusCode, creds)
	}
}

func TestServer_EntryStream(t *testing.T) {
	f := newFixture(t, Auth{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := domain.NewDeposit("tx1", addrA, addrB, decimal.NewFromInt(10), 900)
	require.NoError(t, err)
	require.NoError(t, f.store.Insert(ctx, first))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/entries/stream", nil)
	require.NoError(t, err)
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	nextData := func() domain.Entry {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed")
				if data, found := strings.CutPrefix(line, "data: "); found {
					var e domain.Entry
					require.NoError(t, json.Unmarshal([]byte(data), &e))
					return e
				}
			case <-timeout:
				t.Fatal("no event received")
			}
		}
	}

	assert.Equal(t, "tx1", nextData().TransactionID)

	second, err := domain.NewWithdrawal("tx2", addrB, decimal.NewFromInt(3), 901)
	require.NoError(t, err)
	require.NoError(t, f.store.Insert(ctx, second))
	require.NoError(t, f.broadcaster.Publish(ctx, events.NewEntryRecorded("", second)))

	assert.Equal(t, "tx2", nextData().TransactionID)
}

func TestServer_EntryStreamRejectsBadCursor(t *testing.T) {
	f := newFixture(t, Auth{})

	resp := f.do(t, http.MethodGet, "/entries/stream?after=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, f.broadcaster.Subscribers())
}
