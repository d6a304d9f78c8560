// Package bundlerparams collects the tunable constants that govern mempool
// admission and the bundler loop. Values mirror the defaults in spec section 4.
package bundlerparams

import "time"

const (
	// MaxMempoolSize is the maximum number of pending UserOperations held by
	// the mempool before admission starts failing with mempool-full.
	MaxMempoolSize = 1000

	// MempoolTTL is a 24h cache-entry lifetime. No key is written with it:
	// the mempool writes only mempool:<hash> entries, through KVStore.Set,
	// which sets no expiration.
	MempoolTTL = 24 * time.Hour

	// LockTTL bounds how long the bundle:lock fencing key may be held before
	// it is considered orphaned and reclaimable by another worker.
	LockTTL = 30 * time.Second

	// ReplacementFeeBumpNum/Den express the minimum 110% bump a replacement
	// UserOperation's maxPriorityFeePerGas must clear over the incumbent's,
	// evaluated as integer arithmetic, multiplying before the floor
	// division: candidate >= incumbent*Num/Den.
	ReplacementFeeBumpNum = 110
	ReplacementFeeBumpDen = 100

	// BundleInterval is the bundler tick period.
	BundleInterval = 5 * time.Second

	// MaxOpsPerBundle caps the number of UserOperations packed into a single
	// handleOps call.
	MaxOpsPerBundle = 10

	// MaxBundleGas caps the estimated gas of a bundle transaction.
	MaxBundleGas uint64 = 10_000_000

	// PerOpGasOverhead is the fixed per-UserOperation gas overhead added on
	// top of verification + call gas when estimating a bundle's total gas.
	PerOpGasOverhead uint64 = 21_000

	// TxTimeout bounds how long the bundler loop waits for a submitted
	// bundle's transaction receipt before marking the bundle failed.
	TxTimeout = 120 * time.Second

	// FeeBumpNum/Den is the +20% applied to the provider's suggested
	// maxFeePerGas / maxPriorityFeePerGas before submission.
	FeeBumpNum = 120
	FeeBumpDen = 100

	// GasBufferNum/Den is the +20% applied to the estimated bundle gas limit.
	GasBufferNum = 120
	GasBufferDen = 100

	// VerificationGasBufferNum/Den is the 3/2 buffer EstimateGas applies to
	// the caller-supplied verificationGasLimit.
	VerificationGasBufferNum = 3
	VerificationGasBufferDen = 2

	// CallGasBufferNum/Den is the 11/10 buffer EstimateGas applies to the
	// caller-supplied callGasLimit.
	CallGasBufferNum = 11
	CallGasBufferDen = 10

	// MaxBundleErrorLen truncates a bundle's recorded error message.
	MaxBundleErrorLen = 255
)
