package mempool

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethbundler/bundler/userop"
)

// RelationalStore is the durable, source-of-truth persistence port for
// UserOperations and Bundles. Implementations must be safe for concurrent
// use; the mempool treats it as authoritative whenever it disagrees with
// the KV cache.
type RelationalStore interface {
	InsertUserOp(ctx context.Context, op *userop.UserOperation, hash common.Hash) error
	GetUserOp(ctx context.Context, hash common.Hash) (*userop.UserOperation, userop.Status, error)
	FindBySenderNonce(ctx context.Context, sender common.Address, nonce *big.Int) (common.Hash, *userop.UserOperation, bool, error)
	UpdateStatus(ctx context.Context, hash common.Hash, status userop.Status) error
	MarkConfirmed(ctx context.Context, hash common.Hash, receipt *userop.Receipt) error
	MarkFailed(ctx context.Context, hash common.Hash, reason string) error
	GetReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, userop.Status, error)
	ListPending(ctx context.Context, limit int) ([]common.Hash, []*userop.UserOperation, error)
	CountPending(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// KVStore is the cache port the mempool writes mempool:<hash> entries to
// (set on admission, deleted on removal, confirmation and failure), and the
// bundler leader-election lock. The mempool never reads it back:
// sender/nonce conflicts are looked up in the relational store, which
// remains authoritative (spec section 4.1's "durable-store-as-source-of-truth").
type KVStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error

	// AcquireLock attempts to take a fencing lock identified by key for the
	// given TTL, returning whether it was acquired.
	AcquireLock(ctx context.Context, key, token string, ttlSeconds int64) (bool, error)
	// ReleaseLock releases a fencing lock previously acquired with token.
	ReleaseLock(ctx context.Context, key, token string) error
}
