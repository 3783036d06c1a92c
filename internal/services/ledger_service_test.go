package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/wikisolucoes/ledger-core/internal/gateway"
	"github.com/wikisolucoes/ledger-core/internal/models"
	"github.com/wikisolucoes/ledger-core/internal/store"
)

func entryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "type", "amount", "reference_id",
		"external_transaction_id", "status", "reverses_entry_id",
		"metadata", "created_at", "confirmed_at",
	})
}

func logRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "correlation_id", "gateway_transaction_id",
		"operation_type", "request_payload", "response_payload",
		"http_status", "gateway_status", "fee", "net_amount",
		"is_successful", "error_message", "webhook_received",
		"webhook_timestamp", "webhook_payload_hash", "created_at", "updated_at",
	})
}

func logRow(rows *sqlmock.Rows, gatewayID string, webhookReceived bool) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		int64(1), "tenant-1", "corr-1", gatewayID, "payment",
		[]byte(`{}`), []byte(`{}`), 200, "approved", int64(0), int64(0),
		true, "", webhookReceived, nil, "", now, now)
}

func expectAccountLookup(dbmock sqlmock.Sqlmock, tenantID, accountID string) {
	dbmock.ExpectQuery("SELECT external_account_id FROM gateway_accounts").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"external_account_id"}).AddRow(accountID))
}

func expectNoActiveReference(dbmock sqlmock.Sqlmock, tenantID, referenceID, entryType string) {
	dbmock.ExpectQuery("SELECT (.+) FROM ledger_entries").
		WithArgs(tenantID, referenceID, entryType).
		WillReturnRows(entryRows())
}

func expectLogRecord(dbmock sqlmock.Sqlmock) {
	dbmock.ExpectQuery("INSERT INTO transaction_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
}

func expectLogUpdate(dbmock sqlmock.Sqlmock) {
	dbmock.ExpectQuery("UPDATE transaction_logs").
		WillReturnRows(logRow(logRows(), "gw-1", false))
}

func expectDebitInsert(dbmock sqlmock.Sqlmock, tenantID string, inserted int64) {
	dbmock.ExpectBegin()
	dbmock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	dbmock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(sqlmock.NewResult(0, inserted))
	if inserted > 0 {
		dbmock.ExpectCommit()
	} else {
		dbmock.ExpectRollback()
	}
}

func TestLedgerService_ProcessCashIn(t *testing.T) {
	cashIn := &models.CashInRequest{
		TenantID:     "tenant-1",
		Amount:       10000,
		Currency:     "BRL",
		ReferenceID:  "order-1",
		Method:       models.PaymentMethodInstant,
		CustomerName: "Maria Souza",
	}

	t.Run("instant payment approved synchronously", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		expectAccountLookup(dbmock, "tenant-1", "acc-1")
		expectNoActiveReference(dbmock, "tenant-1", "order-1", "cash_in")
		expectLogRecord(dbmock)

		gw.On("CreatePayment", mock.Anything, mock.Anything).Return(&gateway.PaymentResult{
			ExternalID: "gw-1",
			Status:     gateway.StatusApproved,
			QRPayload:  "qr-data",
			Fee:        150,
		}, nil)

		dbmock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectLogUpdate(dbmock)
		dbmock.ExpectQuery("UPDATE ledger_entries").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_in", int64(10000), "order-1",
				"gw-1", "confirmed", "", []byte(`{}`), time.Now(), time.Now()))

		result, err := service.ProcessCashIn(context.Background(), cashIn)
		assert.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, models.EntryStatusConfirmed, result.Status)
		assert.Equal(t, "gw-1", result.GatewayTransactionID)
		assert.Equal(t, "qr-data", result.QRPayload)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("duplicate reference returns original without gateway call", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		expectAccountLookup(dbmock, "tenant-1", "acc-1")
		dbmock.ExpectQuery("SELECT (.+) FROM ledger_entries").
			WithArgs("tenant-1", "order-1", "cash_in").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_in", int64(10000), "order-1",
				"gw-1", "confirmed", "", []byte(`{}`), time.Now(), time.Now()))
		// The original result is rebuilt from the transaction log row.
		dbmock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE gateway_transaction_id").
			WithArgs("gw-1").
			WillReturnRows(logRows().AddRow(
				int64(1), "tenant-1", "corr-1", "gw-1", "payment",
				[]byte(`{}`), []byte(`{"QRPayload":"qr-data"}`), 200, "approved",
				int64(150), int64(9850), true, "", false, nil, "",
				time.Now(), time.Now()))

		result, err := service.ProcessCashIn(context.Background(), cashIn)
		assert.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "entry-1", result.EntryID)
		assert.Equal(t, "corr-1", result.CorrelationID)
		assert.Equal(t, int64(150), result.Fee)
		assert.Equal(t, "qr-data", result.QRPayload)
		gw.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("gateway timeout reports unknown outcome", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		expectAccountLookup(dbmock, "tenant-1", "acc-1")
		expectNoActiveReference(dbmock, "tenant-1", "order-1", "cash_in")
		expectLogRecord(dbmock)

		gw.On("CreatePayment", mock.Anything, mock.Anything).Return(nil, gateway.ErrTimeout)
		expectLogUpdate(dbmock)

		result, err := service.ProcessCashIn(context.Background(), cashIn)
		assert.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "unknown", result.Status)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("unknown tenant", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		dbmock.ExpectQuery("SELECT external_account_id FROM gateway_accounts").
			WithArgs("tenant-x").
			WillReturnRows(sqlmock.NewRows([]string{"external_account_id"}))

		req := *cashIn
		req.TenantID = "tenant-x"
		_, err = service.ProcessCashIn(context.Background(), &req)
		assert.ErrorIs(t, err, ErrTenantNotOnboarded)
	})
}

func TestLedgerService_ProcessCashOut(t *testing.T) {
	cashOut := &models.CashOutRequest{
		TenantID:       "tenant-1",
		Amount:         6000,
		ReferenceID:    "payout-1",
		BankCode:       "001",
		AccountNumber:  "12345-6",
		HolderName:     "Maria Souza",
		HolderDocument: "12345678900",
	}

	t.Run("withdrawal accepted and left pending", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		expectAccountLookup(dbmock, "tenant-1", "acc-1")
		expectNoActiveReference(dbmock, "tenant-1", "payout-1", "cash_out")
		expectLogRecord(dbmock)
		expectDebitInsert(dbmock, "tenant-1", 1)

		gw.On("CreateWithdrawal", mock.Anything, mock.Anything).Return(&gateway.WithdrawalResult{
			ExternalID: "gw-2",
			Status:     gateway.StatusPending,
			Fee:        200,
		}, nil)

		expectLogUpdate(dbmock)
		dbmock.ExpectExec("UPDATE ledger_entries").
			WillReturnResult(sqlmock.NewResult(0, 1)) // attach external id

		result, err := service.ProcessCashOut(context.Background(), cashOut)
		assert.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, models.EntryStatusPending, result.Status)
		assert.Equal(t, "gw-2", result.GatewayTransactionID)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("insufficient balance rejects before any gateway call", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		expectAccountLookup(dbmock, "tenant-1", "acc-1")
		expectNoActiveReference(dbmock, "tenant-1", "payout-1", "cash_out")
		expectLogRecord(dbmock)
		expectDebitInsert(dbmock, "tenant-1", 0)
		expectLogUpdate(dbmock)

		result, err := service.ProcessCashOut(context.Background(), cashOut)
		assert.ErrorIs(t, err, store.ErrInsufficientBalance)
		assert.Equal(t, models.EntryStatusFailed, result.Status)
		gw.AssertNotCalled(t, "CreateWithdrawal", mock.Anything, mock.Anything)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("definitive rejection reverses the reservation", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		expectAccountLookup(dbmock, "tenant-1", "acc-1")
		expectNoActiveReference(dbmock, "tenant-1", "payout-1", "cash_out")
		expectLogRecord(dbmock)
		expectDebitInsert(dbmock, "tenant-1", 1)

		gw.On("CreateWithdrawal", mock.Anything, mock.Anything).Return(
			&gateway.WithdrawalResult{Status: gateway.StatusRejected},
			assert.AnError)

		expectLogUpdate(dbmock)

		// The reversal transaction: lock, flip status, append reversal.
		dbmock.ExpectBegin()
		dbmock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_out", int64(-6000), "payout-1",
				"", "pending", "", []byte(`{}`), time.Now(), nil))
		dbmock.ExpectExec("UPDATE ledger_entries SET status = 'reversed'").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbmock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbmock.ExpectCommit()

		result, err := service.ProcessCashOut(context.Background(), cashOut)
		assert.ErrorIs(t, err, ErrGatewayRejected)
		assert.Equal(t, models.EntryStatusReversed, result.Status)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("ambiguous timeout keeps funds reserved", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		expectAccountLookup(dbmock, "tenant-1", "acc-1")
		expectNoActiveReference(dbmock, "tenant-1", "payout-1", "cash_out")
		expectLogRecord(dbmock)
		expectDebitInsert(dbmock, "tenant-1", 1)

		gw.On("CreateWithdrawal", mock.Anything, mock.Anything).Return(nil, gateway.ErrTimeout)
		expectLogUpdate(dbmock)

		result, err := service.ProcessCashOut(context.Background(), cashOut)
		assert.NoError(t, err)
		assert.Equal(t, "unknown", result.Status)
		assert.NotEmpty(t, result.EntryID)
		// No reversal statements were expected: the pending debit stays.
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("pending debit blocks a second withdrawal", func(t *testing.T) {
		// Confirmed balance 100, one in-flight withdrawal of 60: a second
		// withdrawal of 60 must fail even though the confirmed balance alone
		// would cover it.
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		expectAccountLookup(dbmock, "tenant-1", "acc-1")
		expectNoActiveReference(dbmock, "tenant-1", "payout-1", "cash_out")
		expectLogRecord(dbmock)
		expectDebitInsert(dbmock, "tenant-1", 1)
		gw.On("CreateWithdrawal", mock.Anything, mock.Anything).Return(&gateway.WithdrawalResult{
			ExternalID: "gw-2",
			Status:     gateway.StatusPending,
		}, nil).Once()
		expectLogUpdate(dbmock)
		dbmock.ExpectExec("UPDATE ledger_entries").
			WillReturnResult(sqlmock.NewResult(0, 1))

		first, err := service.ProcessCashOut(context.Background(), cashOut)
		assert.NoError(t, err)
		assert.Equal(t, models.EntryStatusPending, first.Status)

		// Second withdrawal: the conditional insert sees 100 - 60 - 60 < 0.
		second := *cashOut
		second.ReferenceID = "payout-2"
		expectAccountLookup(dbmock, "tenant-1", "acc-1")
		expectNoActiveReference(dbmock, "tenant-1", "payout-2", "cash_out")
		expectLogRecord(dbmock)
		expectDebitInsert(dbmock, "tenant-1", 0)
		expectLogUpdate(dbmock)

		_, err = service.ProcessCashOut(context.Background(), &second)
		assert.ErrorIs(t, err, store.ErrInsufficientBalance)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})
}

func TestLedgerService_HandleWebhook(t *testing.T) {
	sign := func(secret string, payload []byte) string {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(payload)
		return hex.EncodeToString(mac.Sum(nil))
	}
	payload := []byte(`{"event":"payment.confirmed","transactionId":"gw-1","status":"approved"}`)

	t.Run("invalid signature mutates nothing", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)

		gw.On("VerifyWebhookSignature", payload, "bad").Return(false)

		err = service.HandleWebhook(context.Background(), payload, "bad")
		assert.ErrorIs(t, err, ErrInvalidWebhookSignature)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("confirms the matching pending entry", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)
		signature := sign("secret", payload)

		gw.On("VerifyWebhookSignature", payload, signature).Return(true)

		dbmock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE gateway_transaction_id").
			WithArgs("gw-1").
			WillReturnRows(logRow(logRows(), "gw-1", false))
		dbmock.ExpectQuery("SELECT (.+) FROM ledger_entries").
			WithArgs("gw-1").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_in", int64(10000), "order-1",
				"gw-1", "pending", "", []byte(`{}`), time.Now(), nil))
		dbmock.ExpectQuery("UPDATE ledger_entries").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_in", int64(10000), "order-1",
				"gw-1", "confirmed", "", []byte(`{}`), time.Now(), time.Now()))
		// The delivery is stamped only after the entry transition succeeded.
		dbmock.ExpectQuery("UPDATE transaction_logs").
			WillReturnRows(logRow(logRows(), "gw-1", true))

		err = service.HandleWebhook(context.Background(), payload, signature)
		assert.NoError(t, err)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("duplicate delivery is a no-op", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)
		signature := sign("secret", payload)

		gw.On("VerifyWebhookSignature", payload, signature).Return(true)

		dbmock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE gateway_transaction_id").
			WithArgs("gw-1").
			WillReturnRows(logRow(logRows(), "gw-1", true))
		dbmock.ExpectQuery("SELECT (.+) FROM ledger_entries").
			WithArgs("gw-1").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_in", int64(10000), "order-1",
				"gw-1", "confirmed", "", []byte(`{}`), time.Now(), time.Now()))
		// The confirm retry matches no pending row and resolves to a no-op.
		dbmock.ExpectQuery("UPDATE ledger_entries").
			WillReturnRows(entryRows())
		dbmock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE id").
			WithArgs("entry-1").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_in", int64(10000), "order-1",
				"gw-1", "confirmed", "", []byte(`{}`), time.Now(), time.Now()))
		// Hash guard filters the row: redelivery stamps nothing.
		dbmock.ExpectQuery("UPDATE transaction_logs").
			WillReturnRows(logRows())
		dbmock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE gateway_transaction_id").
			WithArgs("gw-1").
			WillReturnRows(logRow(logRows(), "gw-1", true))

		err = service.HandleWebhook(context.Background(), payload, signature)
		assert.NoError(t, err)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("transient confirm failure leaves the delivery unstamped", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)
		signature := sign("secret", payload)

		gw.On("VerifyWebhookSignature", payload, signature).Return(true)

		dbmock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE gateway_transaction_id").
			WithArgs("gw-1").
			WillReturnRows(logRow(logRows(), "gw-1", false))
		dbmock.ExpectQuery("SELECT (.+) FROM ledger_entries").
			WithArgs("gw-1").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_in", int64(10000), "order-1",
				"gw-1", "pending", "", []byte(`{}`), time.Now(), nil))
		dbmock.ExpectQuery("UPDATE ledger_entries").
			WillReturnError(assert.AnError)

		// No UPDATE transaction_logs expectation: the failed delivery must
		// stay unstamped so the gateway's identical redelivery can confirm
		// the entry instead of hitting the hash guard.
		err = service.HandleWebhook(context.Background(), payload, signature)
		assert.Error(t, err)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("unmatched webhook becomes an orphan", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)
		orphan := []byte(`{"event":"payment.confirmed","transactionId":"gw-unknown","status":"approved"}`)
		signature := sign("secret", orphan)

		gw.On("VerifyWebhookSignature", orphan, signature).Return(true)

		dbmock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE gateway_transaction_id").
			WithArgs("gw-unknown").
			WillReturnRows(logRows())

		err = service.HandleWebhook(context.Background(), orphan, signature)
		assert.NoError(t, err)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("failure webhook reverses a pending entry", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gw := new(MockGateway)
		service := NewLedgerService(db, nil, gw)
		failed := []byte(`{"event":"payment.failed","transactionId":"gw-1","status":"rejected"}`)
		signature := sign("secret", failed)

		gw.On("VerifyWebhookSignature", failed, signature).Return(true)

		dbmock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE gateway_transaction_id").
			WithArgs("gw-1").
			WillReturnRows(logRow(logRows(), "gw-1", false))
		dbmock.ExpectQuery("SELECT (.+) FROM ledger_entries").
			WithArgs("gw-1").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_in", int64(10000), "order-1",
				"gw-1", "pending", "", []byte(`{}`), time.Now(), nil))

		dbmock.ExpectBegin()
		dbmock.ExpectQuery("SELECT (.+) FOR UPDATE").
			WillReturnRows(entryRows().AddRow(
				"entry-1", "tenant-1", "cash_in", int64(10000), "order-1",
				"gw-1", "pending", "", []byte(`{}`), time.Now(), nil))
		dbmock.ExpectExec("UPDATE ledger_entries SET status = 'reversed'").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbmock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbmock.ExpectCommit()

		dbmock.ExpectQuery("UPDATE transaction_logs").
			WillReturnRows(logRow(logRows(), "gw-1", true))

		err = service.HandleWebhook(context.Background(), failed, signature)
		assert.NoError(t, err)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})
}
