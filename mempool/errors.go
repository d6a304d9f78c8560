package mempool

import "errors"

var (
	// ErrReplacementUnderpriced is returned when a conflicting (sender,
	// nonce) UserOperation exists and the candidate's fee bump does not
	// clear the minimum replacement threshold.
	ErrReplacementUnderpriced = errors.New("mempool: replacement fee bump below minimum")

	// ErrMempoolFull is returned when admission would exceed the configured
	// mempool size cap.
	ErrMempoolFull = errors.New("mempool: at capacity")

	// ErrNotFound is returned when a lookup or removal targets an unknown
	// UserOperation hash.
	ErrNotFound = errors.New("mempool: user operation not found")
)
