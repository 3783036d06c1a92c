package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// tokenSafetyMargin renews the cached bearer token before it actually
// expires, so a call never rides a token into edge-of-expiry failures.
const tokenSafetyMargin = 60 * time.Second

// Config carries the settlement provider connection settings.
type Config struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	Timeout       time.Duration
}

// ConfigFromViper reads the gateway settings with defaults suitable for
// local development.
func ConfigFromViper() Config {
	viper.SetDefault("gateway.base_url", "http://localhost:9090")
	viper.SetDefault("gateway.timeout", 15*time.Second)

	return Config{
		BaseURL:       strings.TrimRight(viper.GetString("gateway.base_url"), "/"),
		ClientID:      viper.GetString("gateway.client_id"),
		ClientSecret:  viper.GetString("gateway.client_secret"),
		WebhookSecret: viper.GetString("gateway.webhook_secret"),
		Timeout:       viper.GetDuration("gateway.timeout"),
	}
}

// HTTPClient is the concrete settlement provider client. It owns token
// acquisition and renewal; callers never see bearer tokens.
type HTTPClient struct {
	cfg  Config
	http *http.Client

	mu             sync.Mutex
	token          string
	tokenExpiresAt time.Time
}

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// Authenticate fetches a fresh client-credentials token and caches it.
func (c *HTTPClient) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[GATEWAY] Token endpoint returned status %d", resp.StatusCode)
		return fmt.Errorf("%w: token endpoint returned %d", ErrAuthentication, resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("%w: decoding token response: %v", ErrAuthentication, err)
	}
	if tokenResp.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrAuthentication)
	}

	c.mu.Lock()
	c.token = tokenResp.AccessToken
	c.tokenExpiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	c.mu.Unlock()

	log.Printf("[GATEWAY] Authenticated, token valid for %ds", tokenResp.ExpiresIn)
	return nil
}

// bearer returns the cached token, renewing it when inside the safety
// margin of its expiry.
func (c *HTTPClient) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	expiresAt := c.tokenExpiresAt
	c.mu.Unlock()

	if token != "" && time.Now().Before(expiresAt.Add(-tokenSafetyMargin)) {
		return token, nil
	}

	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	return token, nil
}

// invalidateToken drops the cached token after a 401 so the retry
// re-authenticates.
func (c *HTTPClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiresAt = time.Time{}
	c.mu.Unlock()
}

// do performs one authenticated call. On a 401 it re-authenticates once
// and retries the original call exactly once before surfacing the error.
// There is no other retry at this layer: payment and withdrawal creation
// are not idempotent at the gateway.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, err
		}
	}

	attempt := func() (int, []byte, error) {
		token, err := c.bearer(ctx)
		if err != nil {
			return 0, nil, err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, nil, wrapTransportError(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return resp.StatusCode, nil, err
		}
		return resp.StatusCode, respBody, nil
	}

	status, respBody, err := attempt()
	if err != nil {
		return status, err
	}
	if status == http.StatusUnauthorized {
		log.Printf("[GATEWAY] Got 401 on %s %s, re-authenticating once", method, path)
		c.invalidateToken()
		status, respBody, err = attempt()
		if err != nil {
			return status, err
		}
		if status == http.StatusUnauthorized {
			return status, fmt.Errorf("%w: still unauthorized after re-authentication", ErrAuthentication)
		}
	}

	if status >= 500 {
		return status, fmt.Errorf("gateway returned status %d: %s", status, truncate(respBody, 256))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return status, fmt.Errorf("decoding gateway response: %w", err)
		}
	}
	return status, nil
}

type paymentResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	QRCode    string `json:"qr_code"`
	Barcode   string `json:"barcode"`
	Fee       int64  `json:"fee"`
	ExpiresAt string `json:"expires_at"`
	Message   string `json:"message"`
}

// CreatePayment registers an instant transfer or a deferred invoice.
func (c *HTTPClient) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	body := map[string]any{
		"account_id":         req.AccountID,
		"external_reference": req.CorrelationID,
		"amount":             req.Amount,
		"currency":           req.Currency,
		"method":             req.Method,
		"description":        req.ReferenceID,
		"customer": map[string]string{
			"name":     req.CustomerName,
			"document": req.CustomerDocument,
			"email":    req.CustomerEmail,
		},
	}

	var resp paymentResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/payments", body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("payment creation rejected with status %d: %s", status, resp.Message)
	}

	result := &PaymentResult{
		ExternalID:  resp.ID,
		Status:      NormalizeStatus(resp.Status),
		QRPayload:   resp.QRCode,
		BarcodeLine: resp.Barcode,
		Fee:         resp.Fee,
	}
	if resp.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			result.ExpiresAt = &t
		}
	}
	return result, nil
}

// CreateWithdrawal registers a transfer out of the tenant account.
func (c *HTTPClient) CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalResult, error) {
	body := map[string]any{
		"account_id":         req.AccountID,
		"external_reference": req.CorrelationID,
		"amount":             req.Amount,
		"bank_account": map[string]string{
			"bank_code":       req.BankCode,
			"branch_number":   req.BranchNumber,
			"account_number":  req.AccountNumber,
			"holder_name":     req.HolderName,
			"holder_document": req.HolderDocument,
		},
	}

	var resp struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Fee     int64  `json:"fee"`
		Message string `json:"message"`
	}
	status, err := c.do(ctx, http.MethodPost, "/v1/withdrawals", body, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return &WithdrawalResult{Status: StatusRejected}, fmt.Errorf("withdrawal rejected with status %d: %s", status, resp.Message)
	}

	return &WithdrawalResult{
		ExternalID: resp.ID,
		Status:     NormalizeStatus(resp.Status),
		Fee:        resp.Fee,
	}, nil
}

// GetStatus queries the current status of a gateway transaction.
func (c *HTTPClient) GetStatus(ctx context.Context, externalID string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	status, err := c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(externalID), nil, &resp)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", fmt.Errorf("gateway transaction %s not found", externalID)
	}
	if status >= 400 {
		return "", fmt.Errorf("status query failed with status %d", status)
	}
	return NormalizeStatus(resp.Status), nil
}

// GetBalance queries the gateway-reported balance of an account, in cents.
func (c *HTTPClient) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var resp struct {
		Available int64 `json:"available"`
	}
	status, err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/balance", nil, &resp)
	if err != nil {
		return 0, err
	}
	if status >= 400 {
		return 0, fmt.Errorf("balance query failed with status %d", status)
	}
	return resp.Available, nil
}

// ListTransactions pages through the gateway's transaction history for the
// reconciliation window.
func (c *HTTPClient) ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	path := fmt.Sprintf("/v1/accounts/%s/transactions?from=%s&to=%s",
		url.PathEscape(accountID),
		url.QueryEscape(from.Format(time.RFC3339)),
		url.QueryEscape(to.Format(time.RFC3339)))

	var resp struct {
		Transactions []Transaction `json:"transactions"`
	}
	status, err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("transaction history query failed with status %d", status)
	}

	for i := range resp.Transactions {
		resp.Transactions[i].Status = NormalizeStatus(resp.Transactions[i].Status)
	}
	return resp.Transactions, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature computed over
// the raw payload with the shared webhook secret. Without a configured
// secret nothing verifies: an empty-key HMAC is forgeable by anyone.
func (c *HTTPClient) VerifyWebhookSignature(payload []byte, signature string) bool {
	if c.cfg.WebhookSecret == "" {
		log.Printf("[GATEWAY] Webhook signature rejected: no webhook secret configured")
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

func wrapTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
