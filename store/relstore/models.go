package relstore

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethbundler/bundler/userop"
)

// userOpRow is the gorm model backing the userop.UserOperation domain type.
// Byte slices are stored as hex strings and big integers as base-10
// strings, to avoid any precision loss through the driver's numeric types.
type userOpRow struct {
	Hash                 string `gorm:"primaryKey;size:66"`
	Sender               string `gorm:"size:42;index:idx_sender_nonce"`
	Nonce                string `gorm:"size:80;index:idx_sender_nonce"`
	InitCode             string
	CallData             string
	CallGasLimit         string
	VerificationGasLimit string
	PreVerificationGas   string
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
	PaymasterAndData     string
	Signature            string
	Status               string `gorm:"size:16;index"`
	FailureReason        string `gorm:"size:255"`
	BlockNumber          uint64
	BlockHash            string `gorm:"size:66"`
	TransactionHash      string `gorm:"size:66"`
	ActualGasCost        string
	ActualGasUsed        uint64
	Success              bool
	LogsJSON             string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (userOpRow) TableName() string { return "user_operations" }

func rowFromUserOp(op *userop.UserOperation, hash common.Hash, status userop.Status) *userOpRow {
	return &userOpRow{
		Hash:                 hash.Hex(),
		Sender:               op.Sender.Hex(),
		Nonce:                op.Nonce.String(),
		InitCode:             common.Bytes2Hex(op.InitCode),
		CallData:             common.Bytes2Hex(op.CallData),
		CallGasLimit:         op.CallGasLimit.String(),
		VerificationGasLimit: op.VerificationGasLimit.String(),
		PreVerificationGas:   op.PreVerificationGas.String(),
		MaxFeePerGas:         op.MaxFeePerGas.String(),
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas.String(),
		PaymasterAndData:     common.Bytes2Hex(op.PaymasterAndData),
		Signature:            common.Bytes2Hex(op.Signature),
		Status:               string(status),
	}
}

func (r *userOpRow) toUserOp() (*userop.UserOperation, error) {
	nonce, ok := new(big.Int).SetString(r.Nonce, 10)
	if !ok {
		return nil, errInvalidStoredValue("nonce", r.Nonce)
	}
	callGas, ok := new(big.Int).SetString(r.CallGasLimit, 10)
	if !ok {
		return nil, errInvalidStoredValue("callGasLimit", r.CallGasLimit)
	}
	verifyGas, ok := new(big.Int).SetString(r.VerificationGasLimit, 10)
	if !ok {
		return nil, errInvalidStoredValue("verificationGasLimit", r.VerificationGasLimit)
	}
	preGas, ok := new(big.Int).SetString(r.PreVerificationGas, 10)
	if !ok {
		return nil, errInvalidStoredValue("preVerificationGas", r.PreVerificationGas)
	}
	maxFee, ok := new(big.Int).SetString(r.MaxFeePerGas, 10)
	if !ok {
		return nil, errInvalidStoredValue("maxFeePerGas", r.MaxFeePerGas)
	}
	maxTip, ok := new(big.Int).SetString(r.MaxPriorityFeePerGas, 10)
	if !ok {
		return nil, errInvalidStoredValue("maxPriorityFeePerGas", r.MaxPriorityFeePerGas)
	}

	return &userop.UserOperation{
		Sender:               common.HexToAddress(r.Sender),
		Nonce:                nonce,
		InitCode:             common.FromHex(r.InitCode),
		CallData:             common.FromHex(r.CallData),
		CallGasLimit:         callGas,
		VerificationGasLimit: verifyGas,
		PreVerificationGas:   preGas,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxTip,
		PaymasterAndData:     common.FromHex(r.PaymasterAndData),
		Signature:            common.FromHex(r.Signature),
	}, nil
}

// toReceipt decodes the confirmation receipt data recorded by MarkConfirmed.
// It returns nil if the row has never been confirmed (no transaction hash
// recorded).
func (r *userOpRow) toReceipt() (*userop.Receipt, error) {
	if r.TransactionHash == "" {
		return nil, nil
	}
	gasCost, ok := new(big.Int).SetString(r.ActualGasCost, 10)
	if !ok {
		return nil, errInvalidStoredValue("actualGasCost", r.ActualGasCost)
	}
	var logs []*types.Log
	if r.LogsJSON != "" {
		if err := json.Unmarshal([]byte(r.LogsJSON), &logs); err != nil {
			return nil, fmt.Errorf("relstore: decode stored receipt logs: %w", err)
		}
	}
	return &userop.Receipt{
		BlockNumber:     r.BlockNumber,
		BlockHash:       common.HexToHash(r.BlockHash),
		TransactionHash: common.HexToHash(r.TransactionHash),
		ActualGasCost:   gasCost,
		ActualGasUsed:   r.ActualGasUsed,
		Success:         r.Success,
		Logs:            logs,
	}, nil
}

// bundleRow is the gorm model backing userop.Bundle. It references
// UserOperations by hash only (spec section 9's one-way FK resolution), kept
// as a comma-joined string rather than a join table to match the scale this
// service runs at (a handful of ops per bundle).
type bundleRow struct {
	ID              string `gorm:"primaryKey;size:36"`
	Status          string `gorm:"size:16;index"`
	SubmittedAt     time.Time
	TransactionHash string `gorm:"size:66"`
	BlockNumber     uint64
	Error           string `gorm:"size:255"`
	UserOpHashes    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (bundleRow) TableName() string { return "bundles" }
