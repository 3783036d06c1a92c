package services

import "errors"

var (
	// ErrTenantNotOnboarded means the tenant has no gateway account mapped.
	// It is a fatal precondition for every ledger operation on that tenant.
	ErrTenantNotOnboarded = errors.New("tenant has no gateway account")

	// ErrInvalidWebhookSignature rejects a webhook whose HMAC does not
	// match. No state is mutated when it is returned.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrGatewayRejected means the gateway definitively refused the
	// operation; any pending debit has already been reversed.
	ErrGatewayRejected = errors.New("gateway rejected the operation")
)
