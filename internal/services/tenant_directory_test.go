package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestTenantDirectory_ExternalAccountID(t *testing.T) {
	t.Run("cache hit skips the database", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		directory := NewTenantDirectory(db, redisClient)

		redisMock.ExpectGet("gateway_account:tenant-1").SetVal("acc-1")

		accountID, err := directory.ExternalAccountID(context.Background(), "tenant-1")
		assert.NoError(t, err)
		assert.Equal(t, "acc-1", accountID)
		assert.NoError(t, dbmock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("cache miss reads the table and backfills", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		directory := NewTenantDirectory(db, redisClient)

		redisMock.ExpectGet("gateway_account:tenant-1").RedisNil()
		dbmock.ExpectQuery("SELECT external_account_id FROM gateway_accounts").
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"external_account_id"}).AddRow("acc-1"))
		redisMock.ExpectSet("gateway_account:tenant-1", "acc-1", gatewayAccountCacheTTL).SetVal("OK")

		accountID, err := directory.ExternalAccountID(context.Background(), "tenant-1")
		assert.NoError(t, err)
		assert.Equal(t, "acc-1", accountID)
		assert.NoError(t, dbmock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("missing mapping", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		directory := NewTenantDirectory(db, redisClient)

		redisMock.ExpectGet("gateway_account:tenant-x").RedisNil()
		dbmock.ExpectQuery("SELECT external_account_id FROM gateway_accounts").
			WithArgs("tenant-x").
			WillReturnRows(sqlmock.NewRows([]string{"external_account_id"}))

		_, err = directory.ExternalAccountID(context.Background(), "tenant-x")
		assert.ErrorIs(t, err, ErrTenantNotOnboarded)
	})
}
