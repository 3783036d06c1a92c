package gateway

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrAuthentication means token acquisition failed, or a call still got
	// a 401 after one transparent re-authentication.
	ErrAuthentication = errors.New("gateway authentication failed")

	// ErrTimeout means the gateway did not answer in time. The outcome of
	// the call is unknown; callers must never assume success or failure.
	ErrTimeout = errors.New("gateway request timed out")
)

// Normalized transaction statuses. The adapter owns the provider's status
// vocabulary; nothing outside this package sees provider field names.
const (
	StatusApproved  = "approved"
	StatusPending   = "pending"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

var statusAliases = map[string]string{
	"approved":   StatusApproved,
	"settled":    StatusApproved,
	"paid":       StatusApproved,
	"completed":  StatusApproved,
	"pending":    StatusPending,
	"processing": StatusPending,
	"created":    StatusPending,
	"in_review":  StatusPending,
	"rejected":   StatusRejected,
	"denied":     StatusRejected,
	"declined":   StatusRejected,
	"failed":     StatusRejected,
	"cancelled":  StatusCancelled,
	"canceled":   StatusCancelled,
	"expired":    StatusCancelled,
	"refunded":   StatusRefunded,
	"returned":   StatusRefunded,
}

// NormalizeStatus maps the provider's status vocabulary onto the stable
// one. Unknown values degrade to pending so an unrecognized provider state
// never confirms or reverses money.
func NormalizeStatus(providerStatus string) string {
	if normalized, ok := statusAliases[strings.ToLower(providerStatus)]; ok {
		return normalized
	}
	return StatusPending
}

// IsTerminalSuccess reports whether a normalized status confirms the funds
// movement.
func IsTerminalSuccess(status string) bool {
	return status == StatusApproved
}

// IsTerminalFailure reports whether a normalized status definitively ends
// the operation without moving funds.
func IsTerminalFailure(status string) bool {
	return status == StatusRejected || status == StatusCancelled
}

// PaymentRequest asks the gateway to collect funds into a tenant account,
// either through an instant transfer (QR) or a deferred invoice (barcode).
type PaymentRequest struct {
	AccountID        string `json:"accountId"`
	CorrelationID    string `json:"correlationId"`
	Amount           int64  `json:"amount"` // in cents
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	ReferenceID      string `json:"referenceId"`
	CustomerName     string `json:"customerName"`
	CustomerDocument string `json:"customerDocument"`
	CustomerEmail    string `json:"customerEmail,omitempty"`
}

type PaymentResult struct {
	ExternalID  string
	Status      string // normalized
	QRPayload   string
	BarcodeLine string
	Fee         int64
	ExpiresAt   *time.Time
}

// WithdrawalRequest asks the gateway to move tenant funds out to a bank
// account.
type WithdrawalRequest struct {
	AccountID      string `json:"accountId"`
	CorrelationID  string `json:"correlationId"`
	Amount         int64  `json:"amount"` // in cents
	BankCode       string `json:"bankCode"`
	BranchNumber   string `json:"branchNumber"`
	AccountNumber  string `json:"accountNumber"`
	HolderName     string `json:"holderName"`
	HolderDocument string `json:"holderDocument"`
}

type WithdrawalResult struct {
	ExternalID string
	Status     string // normalized
	Fee        int64
}

// Transaction is one row of the gateway's own history, used by the
// reconciliation pass.
type Transaction struct {
	ExternalID string    `json:"id"`
	Type       string    `json:"type"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Client is the stable interface the ledger core programs against. One
// concrete implementation exists per settlement provider.
//
// CreatePayment and CreateWithdrawal are not guaranteed idempotent at the
// gateway and are never retried here; callers consult the transaction log
// before re-issuing. GetStatus, GetBalance and ListTransactions are
// idempotent and safe for the caller to retry with backoff.
type Client interface {
	Authenticate(ctx context.Context) error
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	CreateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalResult, error)
	GetStatus(ctx context.Context, externalID string) (string, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
	ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
}
