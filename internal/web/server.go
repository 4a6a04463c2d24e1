package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vadiminshakov/siapay/internal/domain"
	"github.com/vadiminshakov/siapay/internal/events"
	"github.com/vadiminshakov/siapay/internal/services/balance"
)

const (
	entryPollInterval = 2 * time.Second
	heartbeatInterval = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type balanceReader interface {
	AddressBalance(ctx context.Context, address string) (decimal.Decimal, error)
	ReceivableStatus(ctx context.Context, address string, now time.Time) (balance.ReceivableStatus, error)
	Entries(ctx context.Context, q domain.Query) ([]domain.Entry, error)
}

type ledgerReader interface {
	Conflicts(ctx context.Context) ([]domain.Conflict, error)
	EntriesAfter(ctx context.Context, index uint64) ([]domain.EntryRecord, error)
}

type receivableIssuer interface {
	RegisterReceivable(ctx context.Context, amount decimal.Decimal, localAddress string, expiresAt time.Time) (domain.Entry, error)
	OpenReceivable(ctx context.Context, amount decimal.Decimal, ttl time.Duration) (domain.Entry, error)
}

// Auth protects every endpoint with HTTP basic auth. An empty PasswordHash disables it.
type Auth struct {
	User         string
	PasswordHash string
}

// Server exposes the ledger over HTTP and streams new entries as server-sent events.
type Server struct {
	Addr        string
	logger      *zap.Logger
	balances    balanceReader
	ledger      ledgerReader
	issuer      receivableIssuer
	broadcaster *events.EntryBroadcaster
	auth        Auth
	now         func() time.Time
}

// NewServer creates a new web server instance. broadcaster may be nil, in which
// case the entry stream relies on polling alone.
func NewServer(addr string, logger *zap.Logger, balances balanceReader, ledger ledgerReader,
	issuer receivableIssuer, broadcaster *events.EntryBroadcaster, auth Auth) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:        addr,
		logger:      logger,
		balances:    balances,
		ledger:      ledger,
		issuer:      issuer,
		broadcaster: broadcaster,
		auth:        auth,
		now:         time.Now,
	}
}

// Handler returns the routed and authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("GET /receivables/status", s.handleReceivableStatus)
	mux.HandleFunc("POST /receivables", s.handleCreateReceivable)
	mux.HandleFunc("GET /entries", s.handleEntries)
	mux.HandleFunc("GET /entries/stream", s.handleEntryStream)
	mux.HandleFunc("GET /conflicts", s.handleConflicts)

	return s.withAuth(mux)
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Starting HTTP API", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.auth.PasswordHash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.auth.User)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(s.auth.PasswordHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="siapay"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

type balanceResponse struct {
	Address  string          `json:"address"`
	Hastings decimal.Decimal `json:"hastings"`
	Siacoins string          `json:"siacoins"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	sum, err := s.balances.AddressBalance(r.Context(), address)
	if err != nil {
		s.fail(w, "balance", err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Address:  address,
		Hastings: sum,
		Siacoins: domain.HastingsToSiacoins(sum).String(),
	})
}

func (s *Server) handleReceivableStatus(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	st, err := s.balances.ReceivableStatus(r.Context(), address, s.now())
	if err != nil {
		s.fail(w, "receivable status", err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

type createReceivableRequest struct {
	AmountSC  string `json:"amount_sc"`
	Address   string `json:"address"`
	ExpiresIn string `json:"expires_in"`
}

func (s *Server) handleCreateReceivable(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		writeError(w, http.StatusServiceUnavailable, "receivable issuer not available")
		return
	}

	var req createReceivableRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := domain.ParseSiacoins(req.AmountSC)
	if err != nil {
		s.fail(w, "create receivable", err)
		return
	}

	var ttl time.Duration
	if req.ExpiresIn != "" {
		ttl, err = time.ParseDuration(req.ExpiresIn)
		if err != nil || ttl <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid expires_in %q", req.ExpiresIn))
			return
		}
	}

	var entry domain.Entry
	if req.Address == "" {
		entry, err = s.issuer.OpenReceivable(r.Context(), amount, ttl)
	} else {
		if ttl == 0 {
			writeError(w, http.StatusBadRequest, "expires_in is required with an explicit address")
			return
		}
		entry, err = s.issuer.RegisterReceivable(r.Context(), amount, req.Address, s.now().Add(ttl))
	}
	if err != nil {
		s.fail(w, "create receivable", err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	var conds []domain.Condition
	if kind := params.Get("kind"); kind != "" {
		if _, err := domain.ParseKind(kind); err != nil {
			s.fail(w, "entries", err)
			return
		}
		conds = append(conds, domain.Eq(domain.ColumnKind, kind))
	}
	if address := params.Get("address"); address != "" {
		conds = append(conds, domain.Eq(domain.ColumnLocalAddress, address))
	}
	if txid := params.Get("txid"); txid != "" {
		conds = append(conds, domain.Eq(domain.ColumnTransactionID, txid))
	}

	entries, err := s.balances.Entries(r.Context(), domain.Where(conds...))
	if err != nil {
		s.fail(w, "entries", err)
		return
	}
	if entries == nil {
		entries = []domain.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.ledger.Conflicts(r.Context())
	if err != nil {
		s.fail(w, "conflicts", err)
		return
	}
	if conflicts == nil {
		conflicts = []domain.Conflict{}
	}

	writeJSON(w, http.StatusOK, conflicts)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
