package relstore

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethbundler/bundler/userop"
)

func TestRowRoundTrip(t *testing.T) {
	op := &userop.UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(7),
		InitCode:             []byte{0x01, 0x02},
		CallData:             []byte{0xab, 0xcd, 0xef},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(21000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{0x01},
	}
	hash := op.GetUserOpHash(common.HexToAddress("0x2222222222222222222222222222222222222222"), big.NewInt(1))

	row := rowFromUserOp(op, hash, userop.StatusPending)
	assert.Equal(t, hash.Hex(), row.Hash)
	assert.Equal(t, "pending", row.Status)

	got, err := row.toUserOp()
	require.NoError(t, err)
	assert.Equal(t, op.Sender, got.Sender)
	assert.Equal(t, 0, op.Nonce.Cmp(got.Nonce))
	assert.Equal(t, op.CallData, got.CallData)
	assert.Equal(t, 0, op.MaxPriorityFeePerGas.Cmp(got.MaxPriorityFeePerGas))
}

func TestRowRejectsCorruptNonce(t *testing.T) {
	row := &userOpRow{
		Hash:                 "0x01",
		Sender:               "0x1111111111111111111111111111111111111111",
		Nonce:                "not-a-number",
		CallGasLimit:         "1",
		VerificationGasLimit: "1",
		PreVerificationGas:   "1",
		MaxFeePerGas:         "1",
		MaxPriorityFeePerGas: "1",
	}
	_, err := row.toUserOp()
	assert.Error(t, err)
}

func TestRowToReceiptUnconfirmedIsNil(t *testing.T) {
	row := &userOpRow{Hash: "0x01", Status: "pending"}
	receipt, err := row.toReceipt()
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestRowToReceiptRoundTrip(t *testing.T) {
	row := &userOpRow{
		Hash:            "0x01",
		Status:          "confirmed",
		BlockNumber:     42,
		BlockHash:       common.HexToHash("0xaa").Hex(),
		TransactionHash: common.HexToHash("0xbb").Hex(),
		ActualGasCost:   "21000000000000",
		ActualGasUsed:   21000,
		Success:         true,
		LogsJSON:        "[]",
	}
	receipt, err := row.toReceipt()
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(42), receipt.BlockNumber)
	assert.Equal(t, common.HexToHash("0xbb"), receipt.TransactionHash)
	assert.True(t, receipt.Success)
	assert.Equal(t, 0, big.NewInt(21000000000000).Cmp(receipt.ActualGasCost))
}

func TestJoinSplitHashes(t *testing.T) {
	hashes := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}
	joined := joinHashes(hashes)
	assert.Equal(t, hashes, splitHashes(joined))
}

func TestSplitHashesEmpty(t *testing.T) {
	assert.Nil(t, splitHashes(""))
}
