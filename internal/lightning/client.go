// Package lightning is the HTTP client for the custodial wallet provider that
// holds user balances and executes reward payouts.
package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrorClass groups provider failures by how the caller must react.
type ErrorClass string

const (
	// ClassRateLimited and ClassServer are retryable with backoff.
	ClassRateLimited ErrorClass = "rate_limited"
	ClassServer      ErrorClass = "server_error"
	// ClassAuthExpired needs a fresh login before any retry makes sense.
	ClassAuthExpired ErrorClass = "auth_expired"
	// ClassClient is a caller bug or a rejected request; retrying is useless.
	ClassClient ErrorClass = "client_error"
)

// APIError is a non-2xx response from the wallet provider.
type APIError struct {
	Status int
	Class  ErrorClass
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet api error (status=%d, class=%s): %s", e.Status, e.Class, e.Body)
}

// Retryable reports whether backing off and retrying can help.
func (e *APIError) Retryable() bool {
	return e.Class == ClassRateLimited || e.Class == ClassServer
}

func classify(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuthExpired
	case status >= 500:
		return ClassServer
	default:
		return ClassClient
	}
}

// Invoice is a Lightning invoice created on the provider.
type Invoice struct {
	Hash           string `json:"hash"`
	PaymentRequest string `json:"text"`
	AmountSats     int64  `json:"amount"`
}

// PaymentResult reports the outcome of a payment execution.
type PaymentResult struct {
	Success bool   `json:"confirmed"`
	Hash    string `json:"hash"`
	FeeSats int64  `json:"fee"`
}

// Balance is the wallet balance split by layer.
type Balance struct {
	Lightning int64 `json:"lightning"`
	Onchain   int64 `json:"onchain"`
	Liquid    int64 `json:"liquid"`
	Total     int64 `json:"total"`
}

// Transaction is one wallet ledger entry.
type Transaction struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	AmountSats int64     `json:"amount"`
	Memo       string    `json:"memo"`
	CreatedAt  time.Time `json:"created_at"`
}

// Client talks to the wallet provider with a cached bearer token.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewClient constructs a Client with sane defaults.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Login authenticates and caches the bearer token.
func (c *Client) Login(ctx context.Context) error {
	var resp struct {
		Token string `json:"token"`
	}
	payload := map[string]string{"username": c.username, "password": c.password}
	if err := c.do(ctx, http.MethodPost, "/login", "", payload, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return &APIError{Status: http.StatusOK, Class: ClassServer, Body: "login response missing token"}
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// InvalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// CreateInvoice creates a Lightning invoice for the given amount.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return Invoice{}, err
	}

	payload := map[string]any{
		"invoice": map[string]any{
			"amount": amountSats,
			"memo":   memo,
			"type":   "lightning",
		},
	}
	var invoice Invoice
	if err := c.do(ctx, http.MethodPost, "/invoice", token, payload, &invoice); err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

// PayInvoice pays an external bolt11 payment request.
func (c *Client) PayInvoice(ctx context.Context, paymentRequest string) (PaymentResult, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return PaymentResult{}, err
	}

	payload := map[string]string{"payreq": paymentRequest}
	var result PaymentResult
	if err := c.do(ctx, http.MethodPost, "/payments", token, payload, &result); err != nil {
		return PaymentResult{}, err
	}
	return result, nil
}

// SendInternal moves sats to another wallet on the same provider. This is the
// payout path for reward delivery.
func (c *Client) SendInternal(ctx context.Context, toUsername string, amountSats int64, memo string) (PaymentResult, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return PaymentResult{}, err
	}

	payload := map[string]any{
		"username": toUsername,
		"amount":   amountSats,
		"memo":     memo,
	}
	var result PaymentResult
	if err := c.do(ctx, http.MethodPost, "/payments", token, payload, &result); err != nil {
		return PaymentResult{}, err
	}
	return result, nil
}

// GetBalance returns the wallet balance.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return Balance{}, err
	}

	var balance Balance
	if err := c.do(ctx, http.MethodGet, "/balance", token, nil, &balance); err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// ListTransactions returns the most recent wallet transactions.
func (c *Client) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	path := "/payments?limit=" + strconv.Itoa(limit)
	var txs []Transaction
	if err := c.do(ctx, http.MethodGet, path, token, nil, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	if err := c.Login(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	return token, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Class: classify(resp.StatusCode), Body: string(data)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
