package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is one structured audit record. Money movement, signature
// rejections and reconciliation discrepancies all land here; the stream is
// the operational channel referenced when disputes are worked.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TenantID      string    `json:"tenant_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogOperation(tenantID, correlationID, operation string, amount int64, status string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     operation,
		TenantID:      tenantID,
		CorrelationID: correlationID,
		Amount:        amount,
		Status:        status,
	})
}

func (a *Logger) LogError(tenantID, correlationID string, err error) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TenantID:      tenantID,
		CorrelationID: correlationID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOrphanWebhook(gatewayTransactionID string, payload []byte) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ORPHAN_WEBHOOK",
		CorrelationID: gatewayTransactionID,
		Status:        "UNMATCHED",
		Details:       map[string]string{"payload": string(payload)},
	})
}

func (a *Logger) LogDiscrepancy(tenantID string, internal, external int64, details any) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "RECONCILIATION_MISMATCH",
		TenantID:  tenantID,
		Amount:    internal - external,
		Status:    "MISMATCH",
		Details:   details,
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
