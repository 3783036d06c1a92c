package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wikisolucoes/ledger-core/internal/models"
)

// LedgerStore is the append-only persistence layer for ledger entries. It is
// the source of truth for tenant balances: balances are always computable by
// folding confirmed entries, never read from a mutable counter.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// reverses_entry_id is a uuid column, so it is cast to text before the
// COALESCE; the bare '' literal would be coerced to uuid and fail to parse.
const entryColumns = `id, tenant_id, type, amount, reference_id,
	       COALESCE(external_transaction_id, ''), status,
	       COALESCE(reverses_entry_id::text, ''), metadata, created_at, confirmed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var confirmedAt sql.NullTime
	err := row.Scan(&e.ID, &e.TenantID, &e.Type, &e.Amount, &e.ReferenceID,
		&e.ExternalTransactionID, &e.Status, &e.ReversesEntryID,
		&e.Metadata, &e.CreatedAt, &confirmedAt)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		e.ConfirmedAt = &confirmedAt.Time
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Append inserts a new entry. The partial unique index over non-reversed
// rows on (tenant_id, reference_id, type) turns a retried client request
// into ErrDuplicateReference instead of a second monetary fact.
func (s *LedgerStore) Append(ctx context.Context, e *models.LedgerEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, tenant_id, type, amount, reference_id, external_transaction_id, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, NOW())`,
		e.ID, e.TenantID, e.Type, e.Amount, e.ReferenceID,
		e.ExternalTransactionID, e.Status, e.Metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicateReference
		}
		return "", fmt.Errorf("append ledger entry: %w", err)
	}
	return e.ID, nil
}

// AppendDebit atomically checks spendable balance and inserts a pending
// debit. The fold re-check and the insert run as one statement inside a
// transaction holding a per-tenant advisory lock, so two concurrent
// withdrawals for the same tenant serialize instead of racing the balance
// check. Spendable balance counts confirmed entries plus pending debits,
// which is how a pending cash-out reserves funds before the gateway
// confirms it.
func (s *LedgerStore) AppendDebit(ctx context.Context, e *models.LedgerEntry) (string, error) {
	if e.Amount >= 0 {
		return "", fmt.Errorf("debit amount must be negative, got %d", e.Amount)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin debit transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, e.TenantID); err != nil {
		return "", fmt.Errorf("acquire tenant lock: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, tenant_id, type, amount, reference_id, status, metadata, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, NOW()
		WHERE (
			SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
			WHERE tenant_id = $2
			  AND (status = 'confirmed' OR (status = 'pending' AND amount < 0))
		) + $4 >= 0`,
		e.ID, e.TenantID, e.Type, e.Amount, e.ReferenceID, e.Status, e.Metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicateReference
		}
		return "", fmt.Errorf("append debit entry: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if rows == 0 {
		return "", ErrInsufficientBalance
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit debit transaction: %w", err)
	}
	return e.ID, nil
}

// GetBalance folds confirmed entries for the tenant. Pending, failed and
// reversed entries never contribute.
func (s *LedgerStore) GetBalance(ctx context.Context, tenantID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE tenant_id = $1 AND status = 'confirmed'`, tenantID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("fold balance: %w", err)
	}
	return balance, nil
}

// SpendableBalance is the fold used by debit checks: confirmed entries plus
// pending debits that already reserve funds.
func (s *LedgerStore) SpendableBalance(ctx context.Context, tenantID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE tenant_id = $1
		  AND (status = 'confirmed' OR (status = 'pending' AND amount < 0))`, tenantID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("fold spendable balance: %w", err)
	}
	return balance, nil
}

func (s *LedgerStore) GetEntry(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

// FindActiveByReference returns the non-reversed entry for a business
// reference, if any. It backs the duplicate-request short-circuit.
func (s *LedgerStore) FindActiveByReference(ctx context.Context, tenantID, referenceID, entryType string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE tenant_id = $1 AND reference_id = $2 AND type = $3 AND status != 'reversed'
		LIMIT 1`, tenantID, referenceID, entryType)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

// FindByExternalID resolves the non-reversed entry a gateway transaction id
// maps to. The partial unique index guarantees at most one.
func (s *LedgerStore) FindByExternalID(ctx context.Context, externalTransactionID string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE external_transaction_id = $1 AND status != 'reversed'
		LIMIT 1`, externalTransactionID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

func (s *LedgerStore) ListEntries(ctx context.Context, tenantID string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListConfirmedBetween returns confirmed entries in a confirmation window,
// used by the per-transaction reconciliation pass.
func (s *LedgerStore) ListConfirmedBetween(ctx context.Context, tenantID string, from, to time.Time) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE tenant_id = $1 AND status = 'confirmed'
		  AND confirmed_at >= $2 AND confirmed_at <= $3
		ORDER BY confirmed_at`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list confirmed entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListStalePending returns pending entries created before the cutoff. They
// have outlived the webhook window and need reconciliation attention.
func (s *LedgerStore) ListStalePending(ctx context.Context, tenantID string, cutoff time.Time) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE tenant_id = $1 AND status = 'pending' AND created_at < $2
		ORDER BY created_at`, tenantID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale pending entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// AttachExternalID records the gateway-assigned transaction id on a pending
// entry that is waiting for asynchronous confirmation.
func (s *LedgerStore) AttachExternalID(ctx context.Context, entryID, externalTransactionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET external_transaction_id = $2
		WHERE id = $1 AND status = 'pending'`, entryID, externalTransactionID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("attach external id: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidStateTransition
	}
	return nil
}

// MarkConfirmed moves a pending entry to confirmed. Confirming an entry in
// any other state returns the entry together with ErrInvalidStateTransition
// so callers can decide whether the transition is a retry no-op.
func (s *LedgerStore) MarkConfirmed(ctx context.Context, entryID, externalTransactionID string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE ledger_entries
		SET status = 'confirmed', confirmed_at = NOW(),
		    external_transaction_id = COALESCE(NULLIF($2, ''), external_transaction_id)
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryColumns, entryID, externalTransactionID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		existing, getErr := s.GetEntry(ctx, entryID)
		if getErr != nil {
			return nil, getErr
		}
		return existing, ErrInvalidStateTransition
	}
	if err != nil {
		return nil, fmt.Errorf("confirm entry: %w", err)
	}
	return entry, nil
}

// MarkFailed moves a pending entry to failed and records the reason in the
// metadata bag.
func (s *LedgerStore) MarkFailed(ctx context.Context, entryID, reason string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE ledger_entries
		SET status = 'failed',
		    metadata = metadata || jsonb_build_object('failure_reason', $2::text)
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryColumns, entryID, reason)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		existing, getErr := s.GetEntry(ctx, entryID)
		if getErr != nil {
			return nil, getErr
		}
		return existing, ErrInvalidStateTransition
	}
	if err != nil {
		return nil, fmt.Errorf("fail entry: %w", err)
	}
	return entry, nil
}

// Reverse excludes an entry from every balance fold and appends an
// immutable reversal entry referencing it. Both run in one transaction so
// the audit record and the status flip cannot diverge.
func (s *LedgerStore) Reverse(ctx context.Context, entryID, reason string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reversal transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, entryID)
	original, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock entry for reversal: %w", err)
	}

	if original.Status == models.EntryStatusReversed || original.Status == models.EntryStatusFailed {
		return original, ErrInvalidStateTransition
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries SET status = 'reversed' WHERE id = $1`, entryID); err != nil {
		return nil, fmt.Errorf("reverse entry: %w", err)
	}

	reversal := &models.LedgerEntry{
		ID:              uuid.NewString(),
		TenantID:        original.TenantID,
		Type:            models.EntryTypeReversal,
		Amount:          -original.Amount,
		ReferenceID:     original.ReferenceID,
		Status:          models.EntryStatusReversed,
		ReversesEntryID: original.ID,
		Metadata:        models.Metadata{"reversal_reason": reason},
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, tenant_id, type, amount, reference_id, status, reverses_entry_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		reversal.ID, reversal.TenantID, reversal.Type, reversal.Amount,
		reversal.ReferenceID, reversal.Status, reversal.ReversesEntryID,
		reversal.Metadata); err != nil {
		return nil, fmt.Errorf("append reversal entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reversal: %w", err)
	}
	return reversal, nil
}
