package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Entry types. Amounts are signed minor units (cents): credits positive,
// debits negative.
const (
	EntryTypeCashIn     = "cash_in"
	EntryTypeCashOut    = "cash_out"
	EntryTypeFee        = "fee"
	EntryTypeCommission = "commission"
	EntryTypeAdjustment = "adjustment"
	EntryTypeReversal   = "reversal"
)

// Entry statuses. Only confirmed entries count toward the tenant balance;
// reversed entries are excluded from every fold.
const (
	EntryStatusPending   = "pending"
	EntryStatusConfirmed = "confirmed"
	EntryStatusFailed    = "failed"
	EntryStatusReversed  = "reversed"
)

// Metadata is an opaque key/value bag persisted as JSONB for audit
// purposes (customer snapshot, bank account, failure reason).
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return errors.New("unsupported metadata source type")
}

// LedgerEntry is one signed monetary fact belonging to a tenant. The amount
// and type are immutable once written; only the status moves through its
// lifecycle. A correction is a new reversal entry referencing the original,
// never an in-place edit.
type LedgerEntry struct {
	ID                    string     `json:"id" db:"id"`
	TenantID              string     `json:"tenant_id" db:"tenant_id"`
	Type                  string     `json:"type" db:"type"`
	Amount                int64      `json:"amount" db:"amount"` // in cents
	ReferenceID           string     `json:"reference_id" db:"reference_id"`
	ExternalTransactionID string     `json:"external_transaction_id,omitempty" db:"external_transaction_id"`
	Status                string     `json:"status" db:"status"`
	ReversesEntryID       string     `json:"reverses_entry_id,omitempty" db:"reverses_entry_id"`
	Metadata              Metadata   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	ConfirmedAt           *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
}

// GatewayAccount maps a tenant to its external settlement account. Rows are
// created at tenant onboarding and are read-only in this core.
type GatewayAccount struct {
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	ExternalAccountID string    `json:"external_account_id" db:"external_account_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
