package store

import "errors"

var (
	// ErrDuplicateReference means an active (non-reversed) entry already
	// exists for the same (tenant, reference, type) tuple. Callers treat it
	// as success-of-original, not as a new failure.
	ErrDuplicateReference = errors.New("duplicate active entry for reference")

	// ErrInvalidStateTransition means a status update was attempted on an
	// entry that is not in the required state (e.g. confirming a failed
	// entry).
	ErrInvalidStateTransition = errors.New("invalid ledger entry state transition")

	// ErrInsufficientBalance means the atomic conditional append refused a
	// debit because spendable balance would go negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrEntryNotFound = errors.New("ledger entry not found")
	ErrLogNotFound   = errors.New("transaction log not found")
)
