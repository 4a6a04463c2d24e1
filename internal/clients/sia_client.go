package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/siapay/internal/domain"
	"github.com/vadiminshakov/siapay/pkg/retrier"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond

	userAgent   = "Sia-Agent"
	maxBodySize = 32 << 20
)

var (
	// ErrWalletLocked is returned by Lock when the wallet is already locked.
	ErrWalletLocked = errors.New("wallet is locked")
	// ErrWalletUnlocked is returned by Unlock when the wallet is already unlocked.
	ErrWalletUnlocked = errors.New("wallet is already unlocked")
)

// StatusError is a non-2xx answer from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.Code)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.Code, e.Message)
}

// WalletInfo is the subset of GET /wallet the ledger cares about. Balances are in hastings.
type WalletInfo struct {
	Encrypted           bool
	Unlocked            bool
	ConfirmedBalance    decimal.Decimal
	UnconfirmedIncoming decimal.Decimal
	UnconfirmedOutgoing decimal.Decimal
}

// SiaClient talks to the wallet daemon's HTTP API.
type SiaClient struct {
	baseURL    string
	password   string
	httpClient *http.Client
	retrier    *retrier.Retrier
	l          *zap.Logger
}

// SiaOption configures a SiaClient.
type SiaOption func(*SiaClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) SiaOption {
	return func(s *SiaClient) {
		s.httpClient = c
	}
}

// WithAPIPassword enables HTTP basic auth with the daemon's API password.
func WithAPIPassword(password string) SiaOption {
	return func(s *SiaClient) {
		s.password = password
	}
}

// WithRetrier replaces the retry policy used for read requests.
func WithRetrier(r *retrier.Retrier) SiaOption {
	return func(s *SiaClient) {
		s.retrier = r
	}
}

// NewSiaClient creates a client for the daemon at address ("host:port" or a full URL).
func NewSiaClient(l *zap.Logger, address string, opts ...SiaOption) (*SiaClient, error) {
	if l == nil {
		l = zap.NewNop()
	}

	base := strings.TrimRight(strings.TrimSpace(address), "/")
	if base == "" {
		return nil, errors.New("daemon address is empty")
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrapf(err, "invalid daemon address %q", address)
	}

	c := &SiaClient{
		baseURL:    base,
		httpClient: &http.Client{Timeout: defaultTimeout},
		l:          l,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.retrier == nil {
		c.retrier = retrier.New(
			retrier.WithMaxRetries(defaultMaxRetries),
			retrier.WithInitialInterval(defaultRetryDelay),
			retrier.WithRetryIf(retryable),
			retrier.WithOnRetry(func(attempt int, err error) {
				c.l.Debug("Retrying daemon request", zap.Int("attempt", attempt), zap.Error(err))
			}),
		)
	}

	return c, nil
}

// retryable reports whether a failed read is worth repeating. Client errors are final.
func retryable(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

type consensusResponse struct {
	Height uint64 `json:"height"`
	Synced bool   `json:"synced"`
}

type walletResponse struct {
	Encrypted                   bool            `json:"encrypted"`
	Unlocked                    bool            `json:"unlocked"`
	ConfirmedSiacoinBalance     decimal.Decimal `json:"confirmedsiacoinbalance"`
	UnconfirmedIncomingSiacoins decimal.Decimal `json:"unconfirmedincomingsiacoins"`
	UnconfirmedOutgoingSiacoins decimal.Decimal `json:"unconfirmedoutgoingsiacoins"`
}

type processedInput struct {
	WalletAddress  bool            `json:"walletaddress"`
	RelatedAddress string          `json:"relatedaddress"`
	Value          decimal.Decimal `json:"value"`
}

type processedOutput struct {
	WalletAddress  bool            `json:"walletaddress"`
	RelatedAddress string          `json:"relatedaddress"`
	Value          decimal.Decimal `json:"value"`
}

type processedTransaction struct {
	TransactionID         string            `json:"transactionid"`
	ConfirmationHeight    uint64            `json:"confirmationheight"`
	ConfirmationTimestamp uint64            `json:"confirmationtimestamp"`
	Inputs                []processedInput  `json:"inputs"`
	Outputs               []processedOutput `json:"outputs"`
}

type transactionsResponse struct {
	ConfirmedTransactions   []processedTransaction `json:"confirmedtransactions"`
	UnconfirmedTransactions []processedTransaction `json:"unconfirmedtransactions"`
}

type transactionResponse struct {
	Transaction processedTransaction `json:"transaction"`
}

type sendResponse struct {
	TransactionIDs []string `json:"transactionids"`
}

type addressResponse struct {
	Address string `json:"address"`
}

type addressesResponse struct {
	Addresses []string `json:"addresses"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// ConsensusHeight returns the current chain height.
func (c *SiaClient) ConsensusHeight(ctx context.Context) (uint64, error) {
	var resp consensusResponse
	if err := c.get(ctx, "/consensus", &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}

// Transactions lists wallet transaction ids confirmed in [startHeight, endHeight]
// together with the unconfirmed ones known to the daemon.
func (c *SiaClient) Transactions(ctx context.Context, startHeight, endHeight uint64) (domain.TransactionIDs, error) {
	q := url.Values{}
	q.Set("startheight", strconv.FormatUint(startHeight, 10))
	q.Set("endheight", strconv.FormatUint(endHeight, 10))

	var resp transactionsResponse
	if err := c.get(ctx, "/wallet/transactions?"+q.Encode(), &resp); err != nil {
		return domain.TransactionIDs{}, err
	}

	ids := domain.TransactionIDs{
		Confirmed:   make([]string, 0, len(resp.ConfirmedTransactions)),
		Unconfirmed: make([]string, 0, len(resp.UnconfirmedTransactions)),
	}
	for _, tx := range resp.ConfirmedTransactions {
		ids.Confirmed = append(ids.Confirmed, tx.TransactionID)
	}
	for _, tx := range resp.UnconfirmedTransactions {
		ids.Unconfirmed = append(ids.Unconfirmed, tx.TransactionID)
	}

	return ids, nil
}

// Transaction fetches one wallet transaction.
func (c *SiaClient) Transaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if id == "" {
		return nil, domain.Invalid("transaction id is required")
	}

	var resp transactionResponse
	if err := c.get(ctx, "/wallet/transaction/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}

	return resp.Transaction.toDomain(), nil
}

// SendSiacoins transfers amount hastings to destination and returns the ids of
// the transactions the wallet built. The request is sent exactly once.
func (c *SiaClient) SendSiacoins(ctx context.Context, amount decimal.Decimal, destination string) ([]string, error) {
	if !amount.IsPositive() || !amount.IsInteger() {
		return nil, domain.Invalid("send amount must be a positive whole number of hastings, got %s", amount.String())
	}

	form := url.Values{}
	form.Set("amount", amount.String())
	form.Set("destination", destination)

	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, "/wallet/siacoins", form, &resp); err != nil {
		return nil, err
	}

	return resp.TransactionIDs, nil
}

// NewAddress asks the wallet for a fresh receive address.
func (c *SiaClient) NewAddress(ctx context.Context) (string, error) {
	var resp addressResponse
	if err := c.get(ctx, "/wallet/address", &resp); err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("%w: daemon returned an empty address", domain.ErrTransport)
	}
	return resp.Address, nil
}

// Addresses lists the addresses the wallet owns.
func (c *SiaClient) Addresses(ctx context.Context) ([]string, error) {
	var resp addressesResponse
	if err := c.get(ctx, "/wallet/addresses", &resp); err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

// Wallet returns the lock state and balances of the wallet.
func (c *SiaClient) Wallet(ctx context.Context) (WalletInfo, error) {
	var resp walletResponse
	if err := c.get(ctx, "/wallet", &resp); err != nil {
		return WalletInfo{}, err
	}

	return WalletInfo{
		Encrypted:           resp.Encrypted,
		Unlocked:            resp.Unlocked,
		ConfirmedBalance:    resp.ConfirmedSiacoinBalance,
		UnconfirmedIncoming: resp.UnconfirmedIncomingSiacoins,
		UnconfirmedOutgoing: resp.UnconfirmedOutgoingSiacoins,
	}, nil
}

// Unlock unlocks the wallet with its encryption password.
func (c *SiaClient) Unlock(ctx context.Context, encryptionPassword string) error {
	info, err := c.Wallet(ctx)
	if err != nil {
		return err
	}
	if info.Unlocked {
		return ErrWalletUnlocked
	}

	form := url.Values{}
	form.Set("encryptionpassword", encryptionPassword)

	return c.do(ctx, http.MethodPost, "/wallet/unlock", form, nil)
}

// Lock locks the wallet.
func (c *SiaClient) Lock(ctx context.Context) error {
	info, err := c.Wallet(ctx)
	if err != nil {
		return err
	}
	if !info.Unlocked {
		return ErrWalletLocked
	}

	return c.do(ctx, http.MethodPost, "/wallet/lock", nil, nil)
}

func (c *SiaClient) get(ctx context.Context, path string, out any) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	})
}

func (c *SiaClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = bytes.NewBufferString(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP request")
	}

	req.Header.Set("User-Agent", userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.password != "" {
		req.SetBasicAuth("", c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", domain.ErrTransport, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := &StatusError{Code: resp.StatusCode}
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil {
			status.Message = apiErr.Message
		}
		return fmt.Errorf("%w: %s %s: %w", domain.ErrTransport, method, path, status)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		if out != nil {
			return fmt.Errorf("%w: %s %s: empty response", domain.ErrTransport, method, path)
		}
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", domain.ErrTransport, path, err)
	}

	return nil
}

func (p processedTransaction) toDomain() *domain.Transaction {
	tx := &domain.Transaction{
		ID:                 p.TransactionID,
		ConfirmationHeight: p.ConfirmationHeight,
		Inputs:             make([]domain.Input, 0, len(p.Inputs)),
		Outputs:            make([]domain.Output, 0, len(p.Outputs)),
	}
	// unconfirmed transactions carry a sentinel timestamp
	if p.ConfirmationTimestamp > 0 && p.ConfirmationTimestamp < math.MaxInt64 {
		tx.ConfirmationTimestamp = time.Unix(int64(p.ConfirmationTimestamp), 0).UTC()
	}
	for _, in := range p.Inputs {
		tx.Inputs = append(tx.Inputs, domain.Input{
			WalletAddress:  in.WalletAddress,
			RelatedAddress: in.RelatedAddress,
			Value:          in.Value,
		})
	}
	for _, out := range p.Outputs {
		tx.Outputs = append(tx.Outputs, domain.Output{
			WalletAddress:  out.WalletAddress,
			RelatedAddress: out.RelatedAddress,
			Value:          out.Value,
		})
	}

	return tx
}
