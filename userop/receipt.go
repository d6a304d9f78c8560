package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Receipt is the confirmation data recorded against a UserOperation once the
// bundle transaction carrying it is mined successfully (spec section 4.2
// step 8). It backs the eth_getUserOperationByHash/eth_getUserOperationReceipt
// response shapes (spec section 4.4).
type Receipt struct {
	BlockNumber     uint64
	BlockHash       common.Hash
	TransactionHash common.Hash
	ActualGasCost   *big.Int
	ActualGasUsed   uint64
	Success         bool
	Logs            []*types.Log
}

// ReceiptFromTx builds a UserOperation Receipt from the EntryPoint bundle
// transaction's mined receipt. actualGasCost is the op's apportioned share of
// the transaction's total gas cost, computed by the caller since a single
// bundle transaction may carry more than one UserOperation.
func ReceiptFromTx(r *types.Receipt, actualGasCost *big.Int) *Receipt {
	return &Receipt{
		BlockNumber:     r.BlockNumber.Uint64(),
		BlockHash:       r.BlockHash,
		TransactionHash: r.TxHash,
		ActualGasCost:   actualGasCost,
		ActualGasUsed:   r.GasUsed,
		Success:         r.Status == types.ReceiptStatusSuccessful,
		Logs:            r.Logs,
	}
}
