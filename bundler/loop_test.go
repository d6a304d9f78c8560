package bundler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethbundler/bundler/entrypoint"
	"github.com/ethbundler/bundler/userop"
)

type fakeMempool struct {
	mu        sync.Mutex
	hashes    []common.Hash
	ops       []*userop.UserOperation
	confirmed []common.Hash
	failed    []common.Hash
	receipts  map[common.Hash]*userop.Receipt
}

func (f *fakeMempool) Pending(_ context.Context, limit int) ([]common.Hash, []*userop.UserOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.hashes) {
		limit = len(f.hashes)
	}
	return append([]common.Hash{}, f.hashes[:limit]...), append([]*userop.UserOperation{}, f.ops[:limit]...), nil
}

func (f *fakeMempool) Confirm(_ context.Context, hash common.Hash, receipt *userop.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, hash)
	if f.receipts == nil {
		f.receipts = map[common.Hash]*userop.Receipt{}
	}
	f.receipts[hash] = receipt
	return nil
}

func (f *fakeMempool) Fail(_ context.Context, hash common.Hash, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, hash)
	return nil
}

type fakeBundleStore struct {
	mu      sync.Mutex
	bundles map[string]*userop.Bundle
}

func newFakeBundleStore() *fakeBundleStore {
	return &fakeBundleStore{bundles: map[string]*userop.Bundle{}}
}

func (f *fakeBundleStore) InsertBundle(_ context.Context, b *userop.Bundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.bundles[b.ID] = &cp
	return nil
}

func (f *fakeBundleStore) UpdateBundle(_ context.Context, b *userop.Bundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.bundles[b.ID] = &cp
	return nil
}

type fakeLock struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLock() *fakeLock { return &fakeLock{held: map[string]string{}} }

func (f *fakeLock) AcquireLock(_ context.Context, key, token string, _ int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return false, nil
	}
	f.held[key] = token
	return true, nil
}

func (f *fakeLock) ReleaseLock(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] == token {
		delete(f.held, key)
	}
	return nil
}

type fakeEntryPoint struct {
	txHash       common.Hash
	handleOpsErr error
	receipt      *types.Receipt
	receiptErr   error
}

func (f *fakeEntryPoint) HandleOps(_ context.Context, ops []*userop.UserOperation, _ entrypoint.HandleOpsOverrides) (*types.Transaction, error) {
	if f.handleOpsErr != nil {
		return nil, f.handleOpsErr
	}
	tx := types.NewTx(&types.LegacyTx{Nonce: 0, Value: big.NewInt(0)})
	return tx, nil
}

func (f *fakeEntryPoint) AwaitReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipt, nil
}

func (f *fakeEntryPoint) SuggestFees(_ context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(2_000_000_000), big.NewInt(1_000_000_000), nil
}

func testOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(0),
		InitCode:             []byte{},
		CallData:             []byte{0x01},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(21000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{0x01},
	}
}

func TestTickSubmitsAndConfirms(t *testing.T) {
	op := testOp()
	hash := op.GetUserOpHash(common.HexToAddress("0x2"), big.NewInt(1))
	mp := &fakeMempool{hashes: []common.Hash{hash}, ops: []*userop.UserOperation{op}}
	bs := newFakeBundleStore()
	lock := newFakeLock()
	ep := &fakeEntryPoint{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42)}}

	loop := New(mp, bs, lock, ep)
	require.NoError(t, loop.tick(context.Background()))

	assert.Len(t, mp.confirmed, 1)
	assert.Equal(t, hash, mp.confirmed[0])
	require.Contains(t, mp.receipts, hash)
	assert.Equal(t, uint64(42), mp.receipts[hash].BlockNumber)

	found := false
	for _, b := range bs.bundles {
		if b.Status == userop.StatusConfirmed {
			found = true
			assert.Equal(t, uint64(42), b.BlockNumber)
		}
	}
	assert.True(t, found)
}

func TestTickNoopWhenEmpty(t *testing.T) {
	mp := &fakeMempool{}
	loop := New(mp, newFakeBundleStore(), newFakeLock(), &fakeEntryPoint{})
	assert.NoError(t, loop.tick(context.Background()))
}

func TestTickSkipsWhenNotLeader(t *testing.T) {
	op := testOp()
	hash := op.GetUserOpHash(common.HexToAddress("0x2"), big.NewInt(1))
	mp := &fakeMempool{hashes: []common.Hash{hash}, ops: []*userop.UserOperation{op}}
	lock := newFakeLock()
	acquired, err := lock.AcquireLock(context.Background(), lockKey, "other-worker", 30)
	require.NoError(t, err)
	require.True(t, acquired)

	loop := New(mp, newFakeBundleStore(), lock, &fakeEntryPoint{})
	require.NoError(t, loop.tick(context.Background()))
	assert.Empty(t, mp.confirmed)
}

func TestTickRecordsFailureOnHandleOpsError(t *testing.T) {
	op := testOp()
	hash := op.GetUserOpHash(common.HexToAddress("0x2"), big.NewInt(1))
	mp := &fakeMempool{hashes: []common.Hash{hash}, ops: []*userop.UserOperation{op}}
	bs := newFakeBundleStore()
	ep := &fakeEntryPoint{handleOpsErr: errors.New("simulate reverted")}

	loop := New(mp, bs, newFakeLock(), ep)
	err := loop.tick(context.Background())
	assert.Error(t, err)

	found := false
	for _, b := range bs.bundles {
		if b.Status == userop.StatusFailed {
			found = true
		}
	}
	assert.True(t, found)

	assert.Len(t, mp.failed, 1)
	assert.Equal(t, hash, mp.failed[0])
}

func TestPackByGasStopsAtCap(t *testing.T) {
	op1 := testOp()
	op2 := testOp()
	op2.CallGasLimit = big.NewInt(1_000_000_000)
	hashes := []common.Hash{common.HexToHash("0x1"), common.HexToHash("0x2")}

	packed, packedHashes := packByGas([]*userop.UserOperation{op1, op2}, hashes, 500000)
	assert.Len(t, packed, 1)
	assert.Len(t, packedHashes, 1)
}
