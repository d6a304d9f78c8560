package userop

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Bundle is a set of UserOperations submitted in one EntryPoint handleOps
// transaction (spec section 3). It references its UserOperations by hash
// only — a one-way foreign key, UserOp -> Bundle — to avoid a long-lived
// back-pointer cycle (spec section 9, "cyclic bundle<->userOp reference").
type Bundle struct {
	ID              string
	Status          Status
	SubmittedAt     time.Time
	TransactionHash common.Hash
	BlockNumber     uint64
	Error           string

	// UserOpHashes is the admission-ordered set of UserOperations this
	// bundle was built from. Loaded lazily by the relational store; never
	// held as live *UserOperation pointers to avoid retaining large
	// payloads in memory across a bundle's lifetime.
	UserOpHashes []common.Hash
}

// NewBundle creates a pending Bundle referencing the given UserOp hashes in
// the order they were selected from the mempool.
func NewBundle(hashes []common.Hash) *Bundle {
	return &Bundle{
		ID:           uuid.NewString(),
		Status:       StatusPending,
		SubmittedAt:  time.Now(),
		UserOpHashes: hashes,
	}
}

// Fail transitions the bundle to failed, truncating the error message to
// bundlerparams.MaxBundleErrorLen (applied by the caller, which knows the
// limit) before storage.
func (b *Bundle) Fail(msg string) {
	b.Status = StatusFailed
	b.Error = msg
}

// Submit transitions the bundle to submitted with its transaction hash.
func (b *Bundle) Submit(txHash common.Hash) {
	b.Status = StatusSubmitted
	b.TransactionHash = txHash
}

// Confirm transitions the bundle to confirmed at the given block.
func (b *Bundle) Confirm(blockNumber uint64) {
	b.Status = StatusConfirmed
	b.BlockNumber = blockNumber
}
