package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const gatewayAccountCacheTTL = 10 * time.Minute

// TenantDirectory resolves a tenant id to its external gateway account id.
// Mappings are written once at onboarding, so a short redis cache in front
// of the table is safe. Redis being down only costs the cache.
type TenantDirectory struct {
	db    *sql.DB
	redis *redis.Client
}

func NewTenantDirectory(db *sql.DB, redisClient *redis.Client) *TenantDirectory {
	return &TenantDirectory{db: db, redis: redisClient}
}

// ExternalAccountID looks up the gateway account for a tenant. A missing
// mapping is ErrTenantNotOnboarded and aborts the calling operation.
func (d *TenantDirectory) ExternalAccountID(ctx context.Context, tenantID string) (string, error) {
	cacheKey := "gateway_account:" + tenantID

	if d.redis != nil {
		if cached, err := d.redis.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}

	var accountID string
	err := d.db.QueryRowContext(ctx, `
		SELECT external_account_id FROM gateway_accounts WHERE tenant_id = $1`,
		tenantID).Scan(&accountID)
	if err == sql.ErrNoRows {
		return "", ErrTenantNotOnboarded
	}
	if err != nil {
		return "", err
	}

	if d.redis != nil {
		if err := d.redis.Set(ctx, cacheKey, accountID, gatewayAccountCacheTTL).Err(); err != nil {
			log.Printf("[LEDGER] Failed to cache gateway account for tenant %s: %v", tenantID, err)
		}
	}
	return accountID, nil
}
