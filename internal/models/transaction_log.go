package models

import (
	"encoding/json"
	"time"
)

// Transaction log operation types.
const (
	OperationPayment      = "payment"
	OperationWithdrawal   = "withdrawal"
	OperationWebhook      = "webhook"
	OperationBalanceCheck = "balance_check"
)

// TransactionLog is one row per outbound gateway call or inbound webhook.
// Rows are never deleted; they are the forensic trail used to resolve
// disputes and drive reconciliation.
type TransactionLog struct {
	ID                   int64           `json:"id" db:"id"`
	TenantID             string          `json:"tenant_id" db:"tenant_id"`
	CorrelationID        string          `json:"correlation_id" db:"correlation_id"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	OperationType        string          `json:"operation_type" db:"operation_type"`
	RequestPayload       json.RawMessage `json:"request_payload,omitempty" db:"request_payload"`
	ResponsePayload      json.RawMessage `json:"response_payload,omitempty" db:"response_payload"`
	HTTPStatus           int             `json:"http_status,omitempty" db:"http_status"`
	GatewayStatus        string          `json:"gateway_status,omitempty" db:"gateway_status"`
	Fee                  int64           `json:"fee" db:"fee"`
	NetAmount            int64           `json:"net_amount" db:"net_amount"`
	IsSuccessful         bool            `json:"is_successful" db:"is_successful"`
	ErrorMessage         string          `json:"error_message,omitempty" db:"error_message"`
	WebhookReceived      bool            `json:"webhook_received" db:"webhook_received"`
	WebhookTimestamp     *time.Time      `json:"webhook_timestamp,omitempty" db:"webhook_timestamp"`
	WebhookPayloadHash   string          `json:"-" db:"webhook_payload_hash"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// TransactionLogUpdate is a partial merge applied to an existing log row.
// Nil fields are left untouched so a late webhook never clobbers the
// original synchronous error.
type TransactionLogUpdate struct {
	GatewayTransactionID *string
	ResponsePayload      json.RawMessage
	HTTPStatus           *int
	GatewayStatus        *string
	Fee                  *int64
	NetAmount            *int64
	IsSuccessful         *bool
	ErrorMessage         *string
}
