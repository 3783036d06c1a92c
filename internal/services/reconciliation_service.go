package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/wikisolucoes/ledger-core/internal/audit"
	"github.com/wikisolucoes/ledger-core/internal/gateway"
	"github.com/wikisolucoes/ledger-core/internal/models"
	"github.com/wikisolucoes/ledger-core/internal/store"
)

const (
	// balanceTolerance is one smallest currency subunit: anything beyond a
	// single cent of drift is a discrepancy.
	balanceTolerance = int64(1)

	defaultReconWindowDays    = 7
	reconciliationReportQueue = "ledger:reconciliation_reports"
)

func reconciliationWindow() time.Duration {
	days := viper.GetInt("recon.window_days")
	if days <= 0 {
		days = defaultReconWindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// BalanceSyncResult is the outcome of one internal-vs-external balance
// comparison.
type BalanceSyncResult struct {
	TenantID     string    `json:"tenantId"`
	Internal     int64     `json:"internal"`
	External     int64     `json:"external"`
	IsReconciled bool      `json:"isReconciled"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// DiscrepancyReport is produced when balances diverge or pending entries go
// stale. It is handed to operators; this engine never corrects the ledger
// on its own.
type DiscrepancyReport struct {
	ID                string                `json:"id"`
	TenantID          string                `json:"tenantId"`
	Internal          int64                 `json:"internal"`
	External          int64                 `json:"external"`
	Difference        int64                 `json:"difference"`
	MissingInternally []gateway.Transaction `json:"missingInternally"`
	MissingExternally []models.LedgerEntry  `json:"missingExternally"`
	StalePending      []models.LedgerEntry  `json:"stalePending"`
	// StalePendingStatuses maps stale entry ids to the status the gateway
	// reports for them right now, so an operator sees both sides at once.
	StalePendingStatuses map[string]string `json:"stalePendingStatuses,omitempty"`
	GeneratedAt          time.Time         `json:"generatedAt"`
}

// ReconciliationService compares the internally folded balance against the
// gateway-reported one and, on divergence, diffs transaction histories to
// locate orphans on either side.
type ReconciliationService struct {
	db        *sql.DB
	entries   *store.LedgerStore
	txlog     *store.TransactionLogStore
	gateway   gateway.Client
	directory *TenantDirectory
	redis     *redis.Client
	audit     *audit.Logger
}

func NewReconciliationService(db *sql.DB, redisClient *redis.Client, gatewayClient gateway.Client) *ReconciliationService {
	return &ReconciliationService{
		db:        db,
		entries:   store.NewLedgerStore(db),
		txlog:     store.NewTransactionLogStore(db),
		gateway:   gatewayClient,
		directory: NewTenantDirectory(db, redisClient),
		redis:     redisClient,
		audit:     audit.NewLogger(),
	}
}

// logGatewayRead opens a balance_check row in the transaction log before a
// reconciliation read goes out, keeping the one-row-per-outbound-call trail
// complete. Logging failures never block the reconciliation itself.
func (s *ReconciliationService) logGatewayRead(ctx context.Context, tenantID string, request any) string {
	correlationID := uuid.NewString()
	payload, _ := json.Marshal(request)
	if _, err := s.txlog.Record(ctx, &models.TransactionLog{
		TenantID:       tenantID,
		CorrelationID:  correlationID,
		OperationType:  models.OperationBalanceCheck,
		RequestPayload: payload,
	}); err != nil {
		log.Printf("[RECON] Failed to record balance check log: %v", err)
		return ""
	}
	return correlationID
}

func (s *ReconciliationService) closeGatewayRead(ctx context.Context, correlationID string, response any, callErr error) {
	if correlationID == "" {
		return
	}
	ok := callErr == nil
	upd := &models.TransactionLogUpdate{IsSuccessful: &ok}
	if callErr != nil {
		msg := callErr.Error()
		upd.ErrorMessage = &msg
	} else {
		upd.ResponsePayload, _ = json.Marshal(response)
	}
	if _, err := s.txlog.Update(ctx, correlationID, upd); err != nil {
		log.Printf("[RECON] Failed to close balance check log %s: %v", correlationID, err)
	}
}

// SyncBalance compares balances for one tenant. On mismatch, or when
// pending entries have outlived maxPendingAge, it runs the deep
// per-transaction pass and queues a discrepancy report.
func (s *ReconciliationService) SyncBalance(ctx context.Context, tenantID string) (*BalanceSyncResult, error) {
	internal, err := s.entries.GetBalance(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	accountID, err := s.directory.ExternalAccountID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	readLog := s.logGatewayRead(ctx, tenantID, map[string]string{"call": "balance", "accountId": accountID})
	var external int64
	err = withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		external, callErr = s.gateway.GetBalance(ctx, accountID)
		return callErr
	})
	s.closeGatewayRead(ctx, readLog, map[string]int64{"balance": external}, err)
	if err != nil {
		return nil, err
	}

	diff := internal - external
	if diff < 0 {
		diff = -diff
	}

	result := &BalanceSyncResult{
		TenantID:     tenantID,
		Internal:     internal,
		External:     external,
		IsReconciled: diff <= balanceTolerance,
		CheckedAt:    time.Now(),
	}

	stale, err := s.entries.ListStalePending(ctx, tenantID, time.Now().Add(-maxPendingAge))
	if err != nil {
		return nil, err
	}

	if !result.IsReconciled || len(stale) > 0 {
		report, deepErr := s.deepReconcile(ctx, tenantID, accountID, internal, external, stale)
		if deepErr != nil {
			log.Printf("[RECON] Deep reconciliation failed for tenant %s: %v", tenantID, deepErr)
			return result, deepErr
		}
		s.publishReport(ctx, report)
	}

	return result, nil
}

// deepReconcile diffs confirmed entries against the gateway's transaction
// history for the reconciliation window and flags orphans on either side.
// It only produces a report; the ledger is never mutated here.
func (s *ReconciliationService) deepReconcile(ctx context.Context, tenantID, accountID string, internal, external int64, stale []models.LedgerEntry) (*DiscrepancyReport, error) {
	to := time.Now()
	from := to.Add(-reconciliationWindow())

	local, err := s.entries.ListConfirmedBetween(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	readLog := s.logGatewayRead(ctx, tenantID, map[string]string{"call": "transactions", "accountId": accountID})
	var remote []gateway.Transaction
	err = withRetry(ctx, func(ctx context.Context) error {
		var callErr error
		remote, callErr = s.gateway.ListTransactions(ctx, accountID, from, to)
		return callErr
	})
	s.closeGatewayRead(ctx, readLog, map[string]int{"count": len(remote)}, err)
	if err != nil {
		return nil, err
	}

	localByExternal := make(map[string]models.LedgerEntry, len(local))
	for _, entry := range local {
		if entry.ExternalTransactionID != "" {
			localByExternal[entry.ExternalTransactionID] = entry
		}
	}
	remoteByID := make(map[string]gateway.Transaction, len(remote))
	for _, txn := range remote {
		remoteByID[txn.ExternalID] = txn
	}

	report := &DiscrepancyReport{
		ID:                   uuid.NewString(),
		TenantID:             tenantID,
		Internal:             internal,
		External:             external,
		Difference:           internal - external,
		MissingInternally:    []gateway.Transaction{},
		MissingExternally:    []models.LedgerEntry{},
		StalePending:         stale,
		StalePendingStatuses: s.resolveStaleStatuses(ctx, stale),
		GeneratedAt:          time.Now(),
	}

	for _, txn := range remote {
		if !gateway.IsTerminalSuccess(txn.Status) {
			continue
		}
		if _, ok := localByExternal[txn.ExternalID]; !ok {
			report.MissingInternally = append(report.MissingInternally, txn)
		}
	}
	for _, entry := range local {
		if _, ok := remoteByID[entry.ExternalTransactionID]; !ok {
			report.MissingExternally = append(report.MissingExternally, entry)
		}
	}

	return report, nil
}

// resolveStaleStatuses asks the gateway what it currently thinks about each
// stale pending entry. The answers go into the report; resolution itself is
// an operator decision, never automatic.
func (s *ReconciliationService) resolveStaleStatuses(ctx context.Context, stale []models.LedgerEntry) map[string]string {
	if len(stale) == 0 {
		return nil
	}
	statuses := make(map[string]string)
	for _, entry := range stale {
		if entry.ExternalTransactionID == "" {
			continue
		}
		var status string
		err := withRetry(ctx, func(ctx context.Context) error {
			var callErr error
			status, callErr = s.gateway.GetStatus(ctx, entry.ExternalTransactionID)
			return callErr
		})
		if err != nil {
			log.Printf("[RECON] Status query failed for %s: %v", entry.ExternalTransactionID, err)
			continue
		}
		statuses[entry.ID] = status
	}
	return statuses
}

func (s *ReconciliationService) publishReport(ctx context.Context, report *DiscrepancyReport) {
	s.audit.LogDiscrepancy(report.TenantID, report.Internal, report.External, map[string]int{
		"missing_internally": len(report.MissingInternally),
		"missing_externally": len(report.MissingExternally),
		"stale_pending":      len(report.StalePending),
	})

	if s.redis == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		log.Printf("[RECON] Failed to marshal discrepancy report: %v", err)
		return
	}
	if err := s.redis.RPush(ctx, reconciliationReportQueue, data).Err(); err != nil {
		log.Printf("[RECON] Failed to queue discrepancy report for tenant %s: %v", report.TenantID, err)
	}
}

// ReconcileAll walks every onboarded tenant. One tenant failing never
// stops the sweep.
func (s *ReconciliationService) ReconcileAll(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM gateway_accounts ORDER BY tenant_id`)
	if err != nil {
		log.Printf("[RECON] Failed to list tenants: %v", err)
		return
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			log.Printf("[RECON] Failed to scan tenant row: %v", err)
			return
		}
		tenants = append(tenants, tenantID)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[RECON] Tenant listing failed: %v", err)
		return
	}

	for _, tenantID := range tenants {
		result, err := s.SyncBalance(ctx, tenantID)
		if err != nil {
			log.Printf("[RECON] Sync failed for tenant %s: %v", tenantID, err)
			continue
		}
		if !result.IsReconciled {
			log.Printf("[RECON] Tenant %s out of balance: internal=%d external=%d",
				tenantID, result.Internal, result.External)
		}
	}
}

// withRetry runs an idempotent gateway call with capped exponential
// backoff. Only reads go through here; create calls are never retried.
func withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	backoff := retryBackoffBase
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, gatewayCallTimeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, gateway.ErrAuthentication) || attempt >= statusRetryMax {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > retryBackoffCap {
			backoff = retryBackoffCap
		}
	}
}
