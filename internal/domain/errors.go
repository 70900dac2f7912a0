package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// ErrDataUnavailable means a quote or pair needed by a cycle is missing.
	// The cycle is skipped; evaluation continues with the next one.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInsufficientCapital aborts an execution before any side effects.
	ErrInsufficientCapital = errors.New("insufficient capital")

	ErrExchangeRejected = errors.New("exchange rejected order")
	ErrExchangeTimeout  = errors.New("exchange call timed out")

	// ErrLedgerNotFound means an asset has no vault row. It wraps ErrNotFound
	// so callers matching the generic sentinel still see it.
	ErrLedgerNotFound = ledgerNotFound{}

	ErrPersistence    = errors.New("persistence failure")
	ErrAlreadySettled = errors.New("execution already settled")
)

type ledgerNotFound struct{}

func (ledgerNotFound) Error() string { return "ledger row not found" }
func (ledgerNotFound) Unwrap() error { return ErrNotFound }
