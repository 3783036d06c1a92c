package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/wikisolucoes/ledger-core/internal/models"
)

// TransactionLogStore is the idempotent audit trail of every outbound
// gateway call and inbound webhook. Rows are created before the external
// call goes out, updated with the synchronous response, and updated again
// (idempotently) when the webhook lands. They are never deleted.
type TransactionLogStore struct {
	db *sql.DB
}

func NewTransactionLogStore(db *sql.DB) *TransactionLogStore {
	return &TransactionLogStore{db: db}
}

const logColumns = `id, tenant_id, correlation_id, COALESCE(gateway_transaction_id, ''),
	       operation_type, COALESCE(request_payload, '{}'), COALESCE(response_payload, '{}'),
	       COALESCE(http_status, 0), COALESCE(gateway_status, ''), fee, net_amount,
	       COALESCE(is_successful, false), COALESCE(error_message, ''), webhook_received,
	       webhook_timestamp, COALESCE(webhook_payload_hash, ''), created_at, updated_at`

func scanLog(row rowScanner) (*models.TransactionLog, error) {
	var l models.TransactionLog
	var webhookTS sql.NullTime
	err := row.Scan(&l.ID, &l.TenantID, &l.CorrelationID, &l.GatewayTransactionID,
		&l.OperationType, &l.RequestPayload, &l.ResponsePayload,
		&l.HTTPStatus, &l.GatewayStatus, &l.Fee, &l.NetAmount,
		&l.IsSuccessful, &l.ErrorMessage, &l.WebhookReceived,
		&webhookTS, &l.WebhookPayloadHash, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if webhookTS.Valid {
		l.WebhookTimestamp = &webhookTS.Time
	}
	return &l, nil
}

// Record inserts a new log row before the external call is made, so the
// trail always has a row even if everything after the call fails.
func (s *TransactionLogStore) Record(ctx context.Context, l *models.TransactionLog) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO transaction_logs
		(tenant_id, correlation_id, operation_type, request_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id`,
		l.TenantID, l.CorrelationID, l.OperationType, string(l.RequestPayload)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record transaction log: %w", err)
	}
	l.ID = id
	return id, nil
}

func (s *TransactionLogStore) Find(ctx context.Context, correlationID string) (*models.TransactionLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+logColumns+` FROM transaction_logs WHERE correlation_id = $1`, correlationID)
	l, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, ErrLogNotFound
	}
	return l, err
}

func (s *TransactionLogStore) FindByGatewayID(ctx context.Context, gatewayTransactionID string) (*models.TransactionLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+logColumns+` FROM transaction_logs WHERE gateway_transaction_id = $1`, gatewayTransactionID)
	l, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, ErrLogNotFound
	}
	return l, err
}

// Update applies a partial merge keyed by correlation id. Only fields set
// on the update are written; everything else keeps its prior value, so a
// webhook arriving after a synchronous failure preserves the original
// error message.
func (s *TransactionLogStore) Update(ctx context.Context, correlationID string, upd *models.TransactionLogUpdate) (*models.TransactionLog, error) {
	return s.applyUpdate(ctx, "correlation_id", correlationID, upd)
}

// UpdateByGatewayID is Update keyed by the gateway's own transaction id.
func (s *TransactionLogStore) UpdateByGatewayID(ctx context.Context, gatewayTransactionID string, upd *models.TransactionLogUpdate) (*models.TransactionLog, error) {
	return s.applyUpdate(ctx, "gateway_transaction_id", gatewayTransactionID, upd)
}

func (s *TransactionLogStore) applyUpdate(ctx context.Context, keyColumn, key string, upd *models.TransactionLogUpdate) (*models.TransactionLog, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{key}
	argIndex := 2

	addSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIndex))
		args = append(args, value)
		argIndex++
	}

	if upd.GatewayTransactionID != nil {
		addSet("gateway_transaction_id", *upd.GatewayTransactionID)
	}
	if upd.ResponsePayload != nil {
		addSet("response_payload", string(upd.ResponsePayload))
	}
	if upd.HTTPStatus != nil {
		addSet("http_status", *upd.HTTPStatus)
	}
	if upd.GatewayStatus != nil {
		addSet("gateway_status", *upd.GatewayStatus)
	}
	if upd.Fee != nil {
		addSet("fee", *upd.Fee)
	}
	if upd.NetAmount != nil {
		addSet("net_amount", *upd.NetAmount)
	}
	if upd.IsSuccessful != nil {
		addSet("is_successful", *upd.IsSuccessful)
	}
	if upd.ErrorMessage != nil {
		addSet("error_message", *upd.ErrorMessage)
	}

	query := fmt.Sprintf(`UPDATE transaction_logs SET %s WHERE %s = $1 RETURNING %s`,
		strings.Join(sets, ", "), keyColumn, logColumns)

	row := s.db.QueryRowContext(ctx, query, args...)
	l, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update transaction log: %w", err)
	}
	return l, nil
}

// MarkWebhookReceived stamps the webhook arrival on the log row. Applying
// the identical payload twice is a no-op: the stored payload hash is
// compared before anything is overwritten. The second return value reports
// whether this delivery changed stored state.
func (s *TransactionLogStore) MarkWebhookReceived(ctx context.Context, gatewayTransactionID string, payload []byte, receivedAt time.Time) (*models.TransactionLog, bool, error) {
	sum := sha256.Sum256(payload)
	payloadHash := hex.EncodeToString(sum[:])

	row := s.db.QueryRowContext(ctx, `
		UPDATE transaction_logs
		SET webhook_received = true, webhook_timestamp = $2,
		    webhook_payload_hash = $3, updated_at = NOW()
		WHERE gateway_transaction_id = $1
		  AND NOT (webhook_received AND webhook_payload_hash = $3)
		RETURNING `+logColumns, gatewayTransactionID, receivedAt, payloadHash)
	l, err := scanLog(row)
	if err == sql.ErrNoRows {
		existing, findErr := s.FindByGatewayID(ctx, gatewayTransactionID)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mark webhook received: %w", err)
	}
	return l, true, nil
}
