package domain

import "errors"

// Sentinel errors form the taxonomy core components wrap with %w. Transport
// and adapter layers translate these into their own error shapes; the core
// never returns anything outside this set for expected failure modes.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation failed")
	ErrTransientExternal  = errors.New("transient external error")
	ErrDurable            = errors.New("durable external error")
	ErrInternal           = errors.New("internal error")
	ErrSubscriberCallback = errors.New("subscriber callback failed")
	ErrContextDone        = errors.New("context cancelled")
	ErrLockHeld           = errors.New("lock already held")
)

// ErrIdempotentReplay is returned by OrderManager.Submit when a duplicate
// client_order_id is observed. Callers must treat it as success, not
// failure: the original order is returned alongside this error so the
// caller can distinguish "already accepted" from "just accepted".
var ErrIdempotentReplay = errors.New("idempotent replay")
