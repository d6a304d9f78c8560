package bundler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethbundler/bundler/entrypoint"
	"github.com/ethbundler/bundler/userop"
)

// MempoolPort is the subset of mempool.Pool the loop depends on.
type MempoolPort interface {
	Pending(ctx context.Context, limit int) ([]common.Hash, []*userop.UserOperation, error)
	Confirm(ctx context.Context, hash common.Hash, receipt *userop.Receipt) error
	Fail(ctx context.Context, hash common.Hash, reason string) error
}

// BundleStore is the subset of relstore.Store the loop depends on for
// Bundle persistence.
type BundleStore interface {
	InsertBundle(ctx context.Context, b *userop.Bundle) error
	UpdateBundle(ctx context.Context, b *userop.Bundle) error
}

// LockPort is the subset of mempool.KVStore the loop uses for leader
// election.
type LockPort interface {
	AcquireLock(ctx context.Context, key, token string, ttlSeconds int64) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// EntryPointPort is the subset of entrypoint.Adapter the loop depends on.
type EntryPointPort interface {
	HandleOps(ctx context.Context, ops []*userop.UserOperation, overrides entrypoint.HandleOpsOverrides) (*types.Transaction, error)
	AwaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SuggestFees(ctx context.Context) (maxFeePerGas, maxPriorityFeePerGas *big.Int, err error)
}
