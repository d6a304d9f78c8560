// Package bundler runs the periodic loop that packs pending UserOperations
// into EntryPoint handleOps transactions: leader election via a KV fencing
// lock, bundle packing under size/gas caps, submission with a bumped fee,
// and receipt-await-with-timeout.
package bundler

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethbundler/bundler/bundlerparams"
	"github.com/ethbundler/bundler/entrypoint"
	"github.com/ethbundler/bundler/userop"
)

const lockKey = "bundle:lock"

// Loop owns the ticking bundler process.
type Loop struct {
	mempool MempoolPort
	bundles BundleStore
	lock    LockPort
	ep      EntryPointPort

	interval    time.Duration
	maxOps      int
	maxGas      uint64
	txTimeout   time.Duration
	workerToken string
}

// New constructs a Loop with spec section 4 defaults; override fields via
// the With* options below for tests or non-default configuration.
func New(mempool MempoolPort, bundles BundleStore, lock LockPort, ep EntryPointPort) *Loop {
	return &Loop{
		mempool:     mempool,
		bundles:     bundles,
		lock:        lock,
		ep:          ep,
		interval:    bundlerparams.BundleInterval,
		maxOps:      bundlerparams.MaxOpsPerBundle,
		maxGas:      bundlerparams.MaxBundleGas,
		txTimeout:   bundlerparams.TxTimeout,
		workerToken: uuid.NewString(),
	}
}

// WithInterval overrides the tick period.
func (l *Loop) WithInterval(d time.Duration) *Loop { l.interval = d; return l }

// WithMaxOps overrides the per-bundle UserOperation count cap.
func (l *Loop) WithMaxOps(n int) *Loop { l.maxOps = n; return l }

// WithTxTimeout overrides how long the loop awaits a submitted bundle's receipt.
func (l *Loop) WithTxTimeout(d time.Duration) *Loop { l.txTimeout = d; return l }

// Run blocks, ticking every l.interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("bundler loop stopping")
			return
		case <-ticker.C:
			start := time.Now()
			if err := l.tick(ctx); err != nil {
				log.Error("bundler tick failed", "err", err)
			}
			tickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// tick runs one iteration: acquire leadership, pack a bundle, submit it, and
// await its receipt. Returns nil, without logging, for expected
// non-leader/no-work outcomes so Run's error log stays reserved for genuine
// failures.
func (l *Loop) tick(ctx context.Context) error {
	acquired, err := l.lock.AcquireLock(ctx, lockKey, l.workerToken, int64(bundlerparams.LockTTL/time.Second))
	if err != nil {
		return fmt.Errorf("bundler: acquire leader lock: %w", err)
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := l.lock.ReleaseLock(ctx, lockKey, l.workerToken); err != nil {
			log.Warn("bundler: failed to release leader lock", "err", err)
		}
	}()

	hashes, ops, err := l.mempool.Pending(ctx, l.maxOps)
	if err != nil {
		return fmt.Errorf("bundler: fetch pending ops: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	packed, packedHashes := packByGas(ops, hashes, l.maxGas)
	if len(packed) == 0 {
		return nil
	}

	return l.submit(ctx, packed, packedHashes)
}

// packByGas greedily packs operations until the next one would exceed
// maxGas, matching spec section 4.2's size/gas caps.
func packByGas(ops []*userop.UserOperation, hashes []common.Hash, maxGas uint64) ([]*userop.UserOperation, []common.Hash) {
	var (
		packed  []*userop.UserOperation
		packedH []common.Hash
		total   uint64
	)
	for i, op := range ops {
		opGas := bundlerparams.PerOpGasOverhead
		if op.CallGasLimit != nil {
			opGas += op.CallGasLimit.Uint64()
		}
		if op.VerificationGasLimit != nil {
			opGas += op.VerificationGasLimit.Uint64()
		}
		if total+opGas > maxGas {
			break
		}
		total += opGas
		packed = append(packed, op)
		packedH = append(packedH, hashes[i])
	}
	return packed, packedH
}

func (l *Loop) submit(ctx context.Context, ops []*userop.UserOperation, hashes []common.Hash) error {
	bundle := userop.NewBundle(hashes)
	if err := l.bundles.InsertBundle(ctx, bundle); err != nil {
		return fmt.Errorf("bundler: insert bundle record: %w", err)
	}

	maxFee, maxTip, err := l.ep.SuggestFees(ctx)
	if err != nil {
		bundle.Fail(truncateError(err))
		bundlesFailed.Inc()
		return l.persistFailure(ctx, bundle, hashes, err)
	}

	tx, err := l.ep.HandleOps(ctx, ops, entrypoint.HandleOpsOverrides{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxTip,
		GasLimit:             bundleGasLimit(ops),
	})
	if err != nil {
		bundle.Fail(truncateError(err))
		bundlesFailed.Inc()
		return l.persistFailure(ctx, bundle, hashes, err)
	}

	bundle.Submit(tx.Hash())
	if err := l.bundles.UpdateBundle(ctx, bundle); err != nil {
		log.Warn("bundler: failed to persist submitted status", "bundle", bundle.ID, "err", err)
	}
	bundlesSubmitted.Inc()
	opsPerBundle.Observe(float64(len(ops)))

	return l.awaitAndFinalize(ctx, bundle, ops, hashes)
}

func (l *Loop) awaitAndFinalize(ctx context.Context, bundle *userop.Bundle, ops []*userop.UserOperation, hashes []common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.txTimeout)
	defer cancel()

	receipt, err := l.ep.AwaitReceipt(waitCtx, bundle.TransactionHash)
	if err != nil {
		bundle.Fail(truncateError(err))
		bundlesFailed.Inc()
		return l.persistFailure(ctx, bundle, hashes, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		bundle.Fail("transaction reverted")
		bundlesFailed.Inc()
		return l.persistFailure(ctx, bundle, hashes, fmt.Errorf("bundler: bundle %s transaction reverted", bundle.ID))
	}

	bundle.Confirm(receipt.BlockNumber.Uint64())
	if err := l.bundles.UpdateBundle(ctx, bundle); err != nil {
		log.Warn("bundler: failed to persist confirmed status", "bundle", bundle.ID, "err", err)
	}
	bundlesConfirmed.Inc()

	opReceipt := userop.ReceiptFromTx(receipt, opGasCost(receipt, len(hashes)))
	for _, h := range hashes {
		if err := l.mempool.Confirm(ctx, h, opReceipt); err != nil {
			log.Warn("bundler: failed to mark confirmed user operation", "hash", h, "err", err)
		}
	}

	log.Info("bundle confirmed", "bundle", bundle.ID, "tx", bundle.TransactionHash, "ops", len(ops))
	return nil
}

// persistFailure records the bundle's failed status and marks every
// constituent UserOperation failed in turn (spec section 4.2 step 9); failed
// UserOperations do not retry automatically.
func (l *Loop) persistFailure(ctx context.Context, bundle *userop.Bundle, hashes []common.Hash, cause error) error {
	if err := l.bundles.UpdateBundle(ctx, bundle); err != nil {
		log.Warn("bundler: failed to persist failed status", "bundle", bundle.ID, "err", err)
	}
	for _, h := range hashes {
		if err := l.mempool.Fail(ctx, h, bundle.Error); err != nil {
			log.Warn("bundler: failed to mark failed user operation", "hash", h, "err", err)
		}
	}
	log.Error("bundle failed", "bundle", bundle.ID, "err", cause)
	return fmt.Errorf("bundler: bundle %s failed: %w", bundle.ID, cause)
}

// opGasCost apportions a mined transaction's total gas cost evenly across
// the UserOperations it carried.
func opGasCost(receipt *types.Receipt, numOps int) *big.Int {
	price := receipt.EffectiveGasPrice
	if price == nil {
		price = big.NewInt(0)
	}
	total := new(big.Int).Mul(price, new(big.Int).SetUint64(receipt.GasUsed))
	if numOps == 0 {
		return total
	}
	return new(big.Int).Div(total, big.NewInt(int64(numOps)))
}

func bundleGasLimit(ops []*userop.UserOperation) uint64 {
	var total uint64
	for _, op := range ops {
		total += bundlerparams.PerOpGasOverhead
		if op.CallGasLimit != nil {
			total += op.CallGasLimit.Uint64()
		}
		if op.VerificationGasLimit != nil {
			total += op.VerificationGasLimit.Uint64()
		}
	}
	buffered := total * bundlerparams.GasBufferNum / bundlerparams.GasBufferDen
	return buffered
}

func truncateError(err error) string {
	s := err.Error()
	if len(s) > bundlerparams.MaxBundleErrorLen {
		return s[:bundlerparams.MaxBundleErrorLen]
	}
	return s
}
