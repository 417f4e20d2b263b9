package domain

import "errors"

// Error categories for tick processing. Callers classify failures with
// errors.Is and decide between retry, skip, and abort.
var (
	// ErrTransientPersistence marks a persistence failure that is safe
	// to retry; the affected company or order is picked up again on the
	// next tick if retries run out.
	ErrTransientPersistence = errors.New("transient persistence error")

	// ErrDataIntegrity marks a state that should be unreachable (e.g.
	// execution cost exceeding escrow, missing holding rows referenced
	// by an order). The affected entity is skipped and logged; data is
	// never fabricated to paper over it.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrNumeric marks a NaN/Inf/negative intermediate in the price
	// model. The delta is clamped to zero and processing continues.
	ErrNumeric = errors.New("numeric error")

	// ErrConcurrencyViolation marks an overlapping tick attempt. The
	// second invocation is rejected immediately.
	ErrConcurrencyViolation = errors.New("tick already in progress")
)
