package models

import "time"

// Payment methods supported by the settlement gateway.
const (
	PaymentMethodInstant = "instant"
	PaymentMethodInvoice = "invoice"
)

// CashInRequest is submitted by the checkout collaborator when an order is
// confirmed and funds should enter the tenant balance.
type CashInRequest struct {
	TenantID         string `json:"tenantId" validate:"required"`
	Amount           int64  `json:"amount" validate:"required,gt=0"` // in cents
	Currency         string `json:"currency" validate:"required,len=3"`
	ReferenceID      string `json:"referenceId" validate:"required,max=64"` // order id
	Method           string `json:"method" validate:"required,oneof=instant invoice"`
	CustomerName     string `json:"customerName" validate:"required,max=120"`
	CustomerDocument string `json:"customerDocument" validate:"required,max=20"`
	CustomerEmail    string `json:"customerEmail" validate:"omitempty,email"`
}

// CashOutRequest is submitted by the withdrawal-request collaborator when a
// tenant asks to move funds out to a bank account.
type CashOutRequest struct {
	TenantID       string `json:"tenantId" validate:"required"`
	Amount         int64  `json:"amount" validate:"required,gt=0"` // in cents
	ReferenceID    string `json:"referenceId" validate:"required,max=64"` // withdrawal request id
	BankCode       string `json:"bankCode" validate:"required,max=6"`
	BranchNumber   string `json:"branchNumber" validate:"required,max=10"`
	AccountNumber  string `json:"accountNumber" validate:"required,max=20"`
	HolderName     string `json:"holderName" validate:"required,max=120"`
	HolderDocument string `json:"holderDocument" validate:"required,max=20"`
}

// OperationResult is returned to collaborators for both cash-in and
// cash-out. Status mirrors the ledger entry status, or "unknown" when the
// gateway outcome is ambiguous (timeout) and reconciliation must resolve it.
type OperationResult struct {
	Success              bool       `json:"success"`
	CorrelationID        string     `json:"correlationId,omitempty"`
	GatewayTransactionID string     `json:"gatewayTransactionId,omitempty"`
	EntryID              string     `json:"entryId,omitempty"`
	Status               string     `json:"status"`
	Message              string     `json:"message,omitempty"`
	Fee                  int64      `json:"fee,omitempty"`
	QRPayload            string     `json:"qrPayload,omitempty"`
	BarcodeLine          string     `json:"barcodeLine,omitempty"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
}

// WebhookEvent is the parsed body of a gateway callback.
type WebhookEvent struct {
	Event         string    `json:"event"`
	TransactionID string    `json:"transactionId"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	OccurredAt    time.Time `json:"occurredAt"`
}
