// Package mempool implements UserOperation admission: deduplication,
// sender/nonce conflict detection, and the fee-bump replacement rule,
// backed by a durable relational store with a KV store used as a fast
// lookup cache.
package mempool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethbundler/bundler/bundlerparams"
	"github.com/ethbundler/bundler/userop"
)

// Pool is the mempool of admitted-but-not-yet-bundled UserOperations. It is
// safe for concurrent use; all mutation funnels through the relational store
// under the caller-supplied context, with the KV store updated alongside as
// a cache (never as the system of record, per spec section 4.1).
type Pool struct {
	rel   RelationalStore
	kv    KVStore
	chain *big.Int
	entry common.Address
}

// New constructs a Pool bound to a single EntryPoint/chain pair, since a
// UserOperation's hash (and therefore its identity) is defined relative to
// both.
func New(rel RelationalStore, kv KVStore, entryPoint common.Address, chainID *big.Int) *Pool {
	return &Pool{rel: rel, kv: kv, chain: chainID, entry: entryPoint}
}

// Admit runs the admission algorithm for a candidate UserOperation: static
// validation, dedup by hash, sender/nonce conflict detection, and — if a
// conflict exists — the fee-bump replacement rule. Returns the op's
// canonical hash on success.
func (p *Pool) Admit(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	if err := op.Validate(); err != nil {
		return common.Hash{}, fmt.Errorf("mempool: %w", err)
	}

	hash := op.GetUserOpHash(p.entry, p.chain)

	// Admission is idempotent: a UserOp with this hash already has a durable
	// row, so return its existing identity rather than erroring.
	if _, _, err := p.rel.GetUserOp(ctx, hash); err == nil {
		return hash, nil
	}

	incumbentHash, incumbent, found, err := p.rel.FindBySenderNonce(ctx, op.Sender, op.Nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("mempool: lookup sender/nonce conflict: %w", err)
	}

	if found {
		if err := checkReplacement(incumbent, op); err != nil {
			return common.Hash{}, err
		}
		if err := p.rel.UpdateStatus(ctx, incumbentHash, userop.StatusRemoved); err != nil {
			return common.Hash{}, fmt.Errorf("mempool: remove superseded op: %w", err)
		}
		if delErr := p.kv.Del(ctx, mempoolKey(incumbentHash)); delErr != nil {
			log.Warn("mempool: failed to evict superseded op from cache", "hash", incumbentHash, "err", delErr)
		}
	} else {
		count, err := p.rel.CountPending(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("mempool: count pending: %w", err)
		}
		if count >= bundlerparams.MaxMempoolSize {
			return common.Hash{}, ErrMempoolFull
		}
	}

	if err := p.rel.InsertUserOp(ctx, op, hash); err != nil {
		return common.Hash{}, fmt.Errorf("mempool: insert: %w", err)
	}
	if err := p.kv.Set(ctx, mempoolKey(hash), hash.Hex()); err != nil {
		log.Warn("mempool: failed to populate cache on admit", "hash", hash, "err", err)
	}

	log.Info("admitted user operation", "hash", hash, "sender", op.Sender, "nonce", op.Nonce)
	return hash, nil
}

// Get returns the UserOperation and its status for a given hash.
func (p *Pool) Get(ctx context.Context, hash common.Hash) (*userop.UserOperation, userop.Status, error) {
	op, status, err := p.rel.GetUserOp(ctx, hash)
	if err != nil {
		return nil, "", ErrNotFound
	}
	return op, status, nil
}

// Pending returns up to limit pending UserOperations and their hashes, in
// the order the relational store considers them ready for bundling.
func (p *Pool) Pending(ctx context.Context, limit int) ([]common.Hash, []*userop.UserOperation, error) {
	return p.rel.ListPending(ctx, limit)
}

// Remove marks a UserOperation removed and evicts it from the cache. The
// durable row is never deleted (spec section 3); this is explicit removal,
// distinct from the bundler loop's Confirm/Fail transitions.
func (p *Pool) Remove(ctx context.Context, hash common.Hash) error {
	if err := p.rel.UpdateStatus(ctx, hash, userop.StatusRemoved); err != nil {
		return fmt.Errorf("mempool: remove: %w", err)
	}
	if err := p.kv.Del(ctx, mempoolKey(hash)); err != nil {
		log.Warn("mempool: failed to evict from cache on remove", "hash", hash, "err", err)
	}
	return nil
}

// Confirm marks a UserOperation confirmed with its bundle transaction's
// receipt data and evicts it from the cache (spec section 4.2 step 8). The
// durable row is retained so eth_getUserOperationByHash/Receipt keep serving
// it after confirmation.
func (p *Pool) Confirm(ctx context.Context, hash common.Hash, receipt *userop.Receipt) error {
	if err := p.rel.MarkConfirmed(ctx, hash, receipt); err != nil {
		return fmt.Errorf("mempool: confirm: %w", err)
	}
	if err := p.kv.Del(ctx, mempoolKey(hash)); err != nil {
		log.Warn("mempool: failed to evict confirmed op from cache", "hash", hash, "err", err)
	}
	return nil
}

// Fail marks a UserOperation failed and evicts it from the cache (spec
// section 4.2 step 9). Failed UserOperations do not retry automatically; a
// client must resubmit.
func (p *Pool) Fail(ctx context.Context, hash common.Hash, reason string) error {
	if err := p.rel.MarkFailed(ctx, hash, reason); err != nil {
		return fmt.Errorf("mempool: fail: %w", err)
	}
	if err := p.kv.Del(ctx, mempoolKey(hash)); err != nil {
		log.Warn("mempool: failed to evict failed op from cache", "hash", hash, "err", err)
	}
	return nil
}

// GetReceipt returns the confirmation receipt for hash and its current
// status. The receipt is nil unless the UserOperation has reached the
// confirmed status.
func (p *Pool) GetReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, userop.Status, error) {
	receipt, status, err := p.rel.GetReceipt(ctx, hash)
	if err != nil {
		return nil, "", ErrNotFound
	}
	return receipt, status, nil
}

// Size reports the number of pending UserOperations.
func (p *Pool) Size(ctx context.Context) (int, error) {
	return p.rel.CountPending(ctx)
}

// Clear removes every pending UserOperation, used by the
// eth_bundler_clearMempool administrative method.
func (p *Pool) Clear(ctx context.Context) error {
	return p.rel.Clear(ctx)
}

// checkReplacement enforces the fee-bump replacement rule: the candidate's
// maxPriorityFeePerGas must be at least 110% of the incumbent's, and its
// maxFeePerGas must be at least the incumbent's, both evaluated with integer
// arithmetic (spec section 4.1) to avoid float-precision drift on
// attacker-controlled values.
func checkReplacement(incumbent, candidate *userop.UserOperation) error {
	requiredTip := new(big.Int).Mul(incumbent.MaxPriorityFeePerGas, big.NewInt(bundlerparams.ReplacementFeeBumpNum))
	requiredTip.Div(requiredTip, big.NewInt(bundlerparams.ReplacementFeeBumpDen))

	if candidate.MaxPriorityFeePerGas.Cmp(requiredTip) < 0 {
		return ErrReplacementUnderpriced
	}
	if candidate.MaxFeePerGas.Cmp(incumbent.MaxFeePerGas) < 0 {
		return ErrReplacementUnderpriced
	}
	return nil
}

func mempoolKey(hash common.Hash) string {
	return "mempool:" + hash.Hex()
}
