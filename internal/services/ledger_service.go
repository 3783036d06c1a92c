package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wikisolucoes/ledger-core/internal/audit"
	"github.com/wikisolucoes/ledger-core/internal/gateway"
	"github.com/wikisolucoes/ledger-core/internal/models"
	"github.com/wikisolucoes/ledger-core/internal/store"
)

// Fixed operational constants. Timeout outcomes are never guessed: a
// pending entry older than maxPendingAge is escalated to reconciliation,
// which is the bounded resolution path for every ambiguous state.
const (
	gatewayCallTimeout = 15 * time.Second
	statusRetryMax     = 3
	retryBackoffBase   = 500 * time.Millisecond
	retryBackoffCap    = 4 * time.Second
	maxPendingAge      = 24 * time.Hour

	orphanWebhookQueue = "ledger:orphan_webhooks"
)

// LedgerService orchestrates cash-in, cash-out and webhook-driven
// confirmation. It is the only writer to the ledger store.
type LedgerService struct {
	entries   *store.LedgerStore
	txlog     *store.TransactionLogStore
	gateway   gateway.Client
	directory *TenantDirectory
	redis     *redis.Client
	audit     *audit.Logger
}

func NewLedgerService(db *sql.DB, redisClient *redis.Client, gatewayClient gateway.Client) *LedgerService {
	return &LedgerService{
		entries:   store.NewLedgerStore(db),
		txlog:     store.NewTransactionLogStore(db),
		gateway:   gatewayClient,
		directory: NewTenantDirectory(db, redisClient),
		redis:     redisClient,
		audit:     audit.NewLogger(),
	}
}

// ProcessCashIn registers a payment with the gateway and records the credit
// as a pending entry. Ordering is log first, then the external call, then
// the entry: the transaction log always has a row to replay from even if
// the entry write fails.
func (s *LedgerService) ProcessCashIn(ctx context.Context, req *models.CashInRequest) (*models.OperationResult, error) {
	accountID, err := s.directory.ExternalAccountID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.entries.FindActiveByReference(ctx, req.TenantID, req.ReferenceID, models.EntryTypeCashIn); err == nil {
		log.Printf("[LEDGER] Duplicate cash-in for tenant %s reference %s, returning original", req.TenantID, req.ReferenceID)
		return s.duplicateResult(ctx, existing), nil
	} else if !errors.Is(err, store.ErrEntryNotFound) {
		return nil, err
	}

	correlationID := uuid.NewString()
	requestPayload, _ := json.Marshal(req)
	if _, err := s.txlog.Record(ctx, &models.TransactionLog{
		TenantID:       req.TenantID,
		CorrelationID:  correlationID,
		OperationType:  models.OperationPayment,
		RequestPayload: requestPayload,
	}); err != nil {
		return nil, fmt.Errorf("record payment log: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()

	res, err := s.gateway.CreatePayment(callCtx, gateway.PaymentRequest{
		AccountID:        accountID,
		CorrelationID:    correlationID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Method:           req.Method,
		ReferenceID:      req.ReferenceID,
		CustomerName:     req.CustomerName,
		CustomerDocument: req.CustomerDocument,
		CustomerEmail:    req.CustomerEmail,
	})
	if err != nil {
		s.recordCallFailure(ctx, correlationID, err)
		s.audit.LogError(req.TenantID, correlationID, err)
		if errors.Is(err, gateway.ErrTimeout) {
			return &models.OperationResult{
				CorrelationID: correlationID,
				Status:        "unknown",
				Message:       "gateway timed out; outcome unknown, reconciliation will resolve",
			}, nil
		}
		return &models.OperationResult{
			CorrelationID: correlationID,
			Status:        models.EntryStatusFailed,
			Message:       "payment creation failed: " + err.Error(),
		}, nil
	}

	entry := &models.LedgerEntry{
		TenantID:              req.TenantID,
		Type:                  models.EntryTypeCashIn,
		Amount:                req.Amount,
		ReferenceID:           req.ReferenceID,
		ExternalTransactionID: res.ExternalID,
		Status:                models.EntryStatusPending,
		Metadata: models.Metadata{
			"method":            req.Method,
			"customer_name":     req.CustomerName,
			"customer_document": req.CustomerDocument,
		},
	}
	entryID, err := s.entries.Append(ctx, entry)
	if errors.Is(err, store.ErrDuplicateReference) {
		existing, findErr := s.entries.FindActiveByReference(ctx, req.TenantID, req.ReferenceID, models.EntryTypeCashIn)
		if findErr != nil {
			return nil, findErr
		}
		return s.duplicateResult(ctx, existing), nil
	}
	if err != nil {
		// The log row survives; recovery replays from it.
		s.recordCallFailure(ctx, correlationID, fmt.Errorf("entry write failed after gateway call: %w", err))
		s.audit.LogError(req.TenantID, correlationID, err)
		return nil, err
	}

	s.recordCallSuccess(ctx, correlationID, res.ExternalID, res.Status, res.Fee, req.Amount-res.Fee, res)

	status := models.EntryStatusPending
	if gateway.IsTerminalSuccess(res.Status) {
		if _, err := s.confirmEntry(ctx, entryID, res.ExternalID); err != nil {
			return nil, err
		}
		status = models.EntryStatusConfirmed
	}

	s.audit.LogOperation(req.TenantID, correlationID, "CASH_IN", req.Amount, status)
	return &models.OperationResult{
		Success:              true,
		CorrelationID:        correlationID,
		GatewayTransactionID: res.ExternalID,
		EntryID:              entryID,
		Status:               status,
		Fee:                  res.Fee,
		QRPayload:            res.QRPayload,
		BarcodeLine:          res.BarcodeLine,
		ExpiresAt:            res.ExpiresAt,
	}, nil
}

// ProcessCashOut reserves funds with an atomic conditional debit, then asks
// the gateway to pay out. A definitive gateway rejection reverses the
// reservation; an ambiguous outcome (timeout) leaves the entry pending for
// reconciliation, because reversing an in-flight withdrawal could pay the
// tenant twice.
func (s *LedgerService) ProcessCashOut(ctx context.Context, req *models.CashOutRequest) (*models.OperationResult, error) {
	accountID, err := s.directory.ExternalAccountID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.entries.FindActiveByReference(ctx, req.TenantID, req.ReferenceID, models.EntryTypeCashOut); err == nil {
		log.Printf("[LEDGER] Duplicate cash-out for tenant %s reference %s, returning original", req.TenantID, req.ReferenceID)
		return s.duplicateResult(ctx, existing), nil
	} else if !errors.Is(err, store.ErrEntryNotFound) {
		return nil, err
	}

	correlationID := uuid.NewString()
	requestPayload, _ := json.Marshal(req)
	if _, err := s.txlog.Record(ctx, &models.TransactionLog{
		TenantID:       req.TenantID,
		CorrelationID:  correlationID,
		OperationType:  models.OperationWithdrawal,
		RequestPayload: requestPayload,
	}); err != nil {
		return nil, fmt.Errorf("record withdrawal log: %w", err)
	}

	entry := &models.LedgerEntry{
		TenantID:    req.TenantID,
		Type:        models.EntryTypeCashOut,
		Amount:      -req.Amount,
		ReferenceID: req.ReferenceID,
		Status:      models.EntryStatusPending,
		Metadata: models.Metadata{
			"bank_code":       req.BankCode,
			"branch_number":   req.BranchNumber,
			"account_number":  req.AccountNumber,
			"holder_name":     req.HolderName,
			"holder_document": req.HolderDocument,
		},
	}
	entryID, err := s.entries.AppendDebit(ctx, entry)
	if errors.Is(err, store.ErrInsufficientBalance) {
		s.recordCallFailure(ctx, correlationID, err)
		s.audit.LogError(req.TenantID, correlationID, err)
		return &models.OperationResult{
			CorrelationID: correlationID,
			Status:        models.EntryStatusFailed,
			Message:       "insufficient balance",
		}, store.ErrInsufficientBalance
	}
	if errors.Is(err, store.ErrDuplicateReference) {
		existing, findErr := s.entries.FindActiveByReference(ctx, req.TenantID, req.ReferenceID, models.EntryTypeCashOut)
		if findErr != nil {
			return nil, findErr
		}
		return s.duplicateResult(ctx, existing), nil
	}
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
	defer cancel()

	res, err := s.gateway.CreateWithdrawal(callCtx, gateway.WithdrawalRequest{
		AccountID:      accountID,
		CorrelationID:  correlationID,
		Amount:         req.Amount,
		BankCode:       req.BankCode,
		BranchNumber:   req.BranchNumber,
		AccountNumber:  req.AccountNumber,
		HolderName:     req.HolderName,
		HolderDocument: req.HolderDocument,
	})
	if err != nil {
		s.recordCallFailure(ctx, correlationID, err)
		s.audit.LogError(req.TenantID, correlationID, err)

		if res != nil && res.Status == gateway.StatusRejected {
			// Definitive rejection: the debit must not stay pending.
			if _, revErr := s.entries.Reverse(ctx, entryID, "gateway rejected withdrawal"); revErr != nil {
				return nil, revErr
			}
			return &models.OperationResult{
				CorrelationID: correlationID,
				EntryID:       entryID,
				Status:        models.EntryStatusReversed,
				Message:       "gateway rejected withdrawal",
			}, ErrGatewayRejected
		}

		// Ambiguous outcome: the withdrawal may have been accepted. Leave
		// the reservation in place; reconciliation resolves it within
		// maxPendingAge.
		return &models.OperationResult{
			CorrelationID: correlationID,
			EntryID:       entryID,
			Status:        "unknown",
			Message:       "gateway outcome unknown; withdrawal left pending for reconciliation",
		}, nil
	}

	s.recordCallSuccess(ctx, correlationID, res.ExternalID, res.Status, res.Fee, req.Amount-res.Fee, res)

	status := models.EntryStatusPending
	if gateway.IsTerminalSuccess(res.Status) {
		if _, err := s.confirmEntry(ctx, entryID, res.ExternalID); err != nil {
			return nil, err
		}
		status = models.EntryStatusConfirmed
	} else if err := s.entries.AttachExternalID(ctx, entryID, res.ExternalID); err != nil {
		log.Printf("[LEDGER] Failed to attach external id %s to entry %s: %v", res.ExternalID, entryID, err)
	}

	s.audit.LogOperation(req.TenantID, correlationID, "CASH_OUT", -req.Amount, status)
	return &models.OperationResult{
		Success:              true,
		CorrelationID:        correlationID,
		GatewayTransactionID: res.ExternalID,
		EntryID:              entryID,
		Status:               status,
		Fee:                  res.Fee,
	}, nil
}

// HandleWebhook verifies and applies one gateway callback. Verification
// fails closed; unmatched events are recorded as orphans, never dropped;
// applying the same delivery twice is a no-op.
func (s *LedgerService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.gateway.VerifyWebhookSignature(payload, signature) {
		s.audit.LogError("", "", ErrInvalidWebhookSignature)
		return ErrInvalidWebhookSignature
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.TransactionID == "" {
		log.Printf("[WEBHOOK] Unparseable webhook payload, recording as orphan")
		s.recordOrphanWebhook(ctx, "", payload)
		return nil
	}

	lg, err := s.txlog.FindByGatewayID(ctx, event.TransactionID)
	if errors.Is(err, store.ErrLogNotFound) {
		log.Printf("[WEBHOOK] No transaction log for gateway id %s, recording as orphan", event.TransactionID)
		s.recordOrphanWebhook(ctx, event.TransactionID, payload)
		return nil
	}
	if err != nil {
		return err
	}

	entry, err := s.entries.FindByExternalID(ctx, event.TransactionID)
	if errors.Is(err, store.ErrEntryNotFound) {
		log.Printf("[WEBHOOK] No ledger entry for gateway id %s, recording as orphan", event.TransactionID)
		s.recordOrphanWebhook(ctx, event.TransactionID, payload)
		return nil
	}
	if err != nil {
		return err
	}

	// The entry transition runs before the delivery is stamped. If it fails
	// transiently the delivery stays unstamped, so the gateway's redelivery
	// of the identical payload can finish the work; the transitions
	// themselves are idempotent retries.
	normalized := gateway.NormalizeStatus(event.Status)
	var auditOp string
	auditStatus := entry.Status
	switch {
	case gateway.IsTerminalSuccess(normalized):
		if _, err := s.confirmEntry(ctx, entry.ID, event.TransactionID); err != nil {
			return err
		}
		auditOp, auditStatus = "WEBHOOK_CONFIRM", models.EntryStatusConfirmed
	case gateway.IsTerminalFailure(normalized):
		if entry.Status == models.EntryStatusPending {
			if _, err := s.entries.Reverse(ctx, entry.ID, "gateway reported "+normalized); err != nil {
				return err
			}
			auditOp, auditStatus = "WEBHOOK_REVERSE", models.EntryStatusReversed
		}
	case normalized == gateway.StatusRefunded && entry.Status == models.EntryStatusConfirmed:
		// Refunds of confirmed entries are never auto-corrected; the audit
		// trail hands them to reconciliation and operator review.
		auditOp = "WEBHOOK_REFUND_FLAGGED"
	}

	_, applied, err := s.txlog.MarkWebhookReceived(ctx, event.TransactionID, payload, time.Now())
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("[WEBHOOK] Duplicate webhook for gateway id %s, no-op", event.TransactionID)
		return nil
	}
	if auditOp != "" {
		s.audit.LogOperation(lg.TenantID, lg.CorrelationID, auditOp, entry.Amount, auditStatus)
	}
	return nil
}

// confirmEntry confirms a pending entry, treating an already-confirmed
// entry as a no-op so the synchronous response and the webhook commute.
func (s *LedgerService) confirmEntry(ctx context.Context, entryID, externalTransactionID string) (*models.LedgerEntry, error) {
	entry, err := s.entries.MarkConfirmed(ctx, entryID, externalTransactionID)
	if errors.Is(err, store.ErrInvalidStateTransition) {
		if entry != nil && entry.Status == models.EntryStatusConfirmed {
			return entry, nil
		}
		return entry, err
	}
	return entry, err
}

func (s *LedgerService) recordOrphanWebhook(ctx context.Context, gatewayTransactionID string, payload []byte) {
	s.audit.LogOrphanWebhook(gatewayTransactionID, payload)
	if s.redis == nil {
		return
	}
	if err := s.redis.RPush(ctx, orphanWebhookQueue, payload).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to queue orphan webhook: %v", err)
	}
}

func (s *LedgerService) recordCallFailure(ctx context.Context, correlationID string, callErr error) {
	failed := false
	msg := callErr.Error()
	if _, err := s.txlog.Update(ctx, correlationID, &models.TransactionLogUpdate{
		IsSuccessful: &failed,
		ErrorMessage: &msg,
	}); err != nil {
		log.Printf("[LEDGER] Failed to record call failure on log %s: %v", correlationID, err)
	}
}

func (s *LedgerService) recordCallSuccess(ctx context.Context, correlationID, gatewayTransactionID, gatewayStatus string, fee, netAmount int64, response any) {
	ok := true
	responsePayload, _ := json.Marshal(response)
	if _, err := s.txlog.Update(ctx, correlationID, &models.TransactionLogUpdate{
		GatewayTransactionID: &gatewayTransactionID,
		ResponsePayload:      responsePayload,
		GatewayStatus:        &gatewayStatus,
		Fee:                  &fee,
		NetAmount:            &netAmount,
		IsSuccessful:         &ok,
	}); err != nil {
		log.Printf("[LEDGER] Failed to record call success on log %s: %v", correlationID, err)
	}
}

// Balance reports the confirmed balance for a tenant.
func (s *LedgerService) Balance(ctx context.Context, tenantID string) (int64, error) {
	return s.entries.GetBalance(ctx, tenantID)
}

// SpendableBalance reports the confirmed balance minus pending debits.
func (s *LedgerService) SpendableBalance(ctx context.Context, tenantID string) (int64, error) {
	return s.entries.SpendableBalance(ctx, tenantID)
}

// Entries lists ledger entries for a tenant, newest first.
func (s *LedgerService) Entries(ctx context.Context, tenantID string, limit, offset int) ([]models.LedgerEntry, error) {
	return s.entries.ListEntries(ctx, tenantID, limit, offset)
}

// Operation fetches the transaction log row for a correlation id.
func (s *LedgerService) Operation(ctx context.Context, correlationID string) (*models.TransactionLog, error) {
	return s.txlog.Find(ctx, correlationID)
}

func resultFromEntry(entry *models.LedgerEntry, message string) *models.OperationResult {
	return &models.OperationResult{
		Success:              entry.Status == models.EntryStatusPending || entry.Status == models.EntryStatusConfirmed,
		GatewayTransactionID: entry.ExternalTransactionID,
		EntryID:              entry.ID,
		Status:               entry.Status,
		Message:              message,
	}
}

// duplicateResult rebuilds the original operation's result for a retried
// request: correlation id and fee come from the transaction log row, the
// payment payload (QR, barcode, expiry) from its stored gateway response.
func (s *LedgerService) duplicateResult(ctx context.Context, entry *models.LedgerEntry) *models.OperationResult {
	result := resultFromEntry(entry, "operation already processed")
	if entry.ExternalTransactionID == "" {
		return result
	}

	lg, err := s.txlog.FindByGatewayID(ctx, entry.ExternalTransactionID)
	if err != nil {
		log.Printf("[LEDGER] No transaction log for duplicate entry %s: %v", entry.ID, err)
		return result
	}
	result.CorrelationID = lg.CorrelationID
	result.Fee = lg.Fee

	var stored gateway.PaymentResult
	if len(lg.ResponsePayload) > 0 && json.Unmarshal(lg.ResponsePayload, &stored) == nil {
		result.QRPayload = stored.QRPayload
		result.BarcodeLine = stored.BarcodeLine
		result.ExpiresAt = stored.ExpiresAt
	}
	return result
}
