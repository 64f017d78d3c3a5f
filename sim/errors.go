package sim

import "errors"

// ErrExhausted signals that a queue or every worker slot ran out of work.
// It is an expected end-of-pass condition, not a failure: CollectionGuard
// suppresses it and orchestrating loops should treat it as normal completion.
var ErrExhausted = errors.New("work exhausted")

// Programming errors. These are returned immediately and never retried.
var (
	ErrDoubleActivation = errors.New("work queue can not be activated twice")
	ErrNotActivated     = errors.New("work queue must be activated before pulling")
	ErrInvalidState     = errors.New("invalid state")
	ErrEmptySchema      = errors.New("observation schema has no leaves")
	ErrSchemaMismatch   = errors.New("observation does not match schema")
	ErrActionCount      = errors.New("action count does not match slot count")
	ErrSlotIndex        = errors.New("slot index out of range")
	ErrUnknownStrategy  = errors.New("unknown execution strategy")
)
