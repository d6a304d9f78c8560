// Package userop defines the UserOperation and Bundle data model (spec
// section 3): the canonical EIP-4337 hash, field validation, and the
// lifecycle statuses the mempool and bundler loop drive.
package userop

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Static validation errors, independent of EntryPoint simulation.
var (
	ErrSenderZero  = errors.New("userop: sender is the zero address")
	ErrNonceNil    = errors.New("userop: nonce is undefined")
	ErrGasLimitNil = errors.New("userop: gas limit fields must be set")
	ErrFeeCapNil   = errors.New("userop: fee cap fields must be set")
)

// UserOperation is a signed intent to execute a call from a smart-contract
// account, as submitted to the bundler's eth_sendUserOperation method.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// Validate performs static field validation that does not require chain
// state or an EntryPoint round-trip.
func (op *UserOperation) Validate() error {
	if op.Sender == (common.Address{}) {
		return ErrSenderZero
	}
	if op.Nonce == nil {
		return ErrNonceNil
	}
	if op.CallGasLimit == nil || op.VerificationGasLimit == nil || op.PreVerificationGas == nil {
		return ErrGasLimitNil
	}
	if op.MaxFeePerGas == nil || op.MaxPriorityFeePerGas == nil {
		return ErrFeeCapNil
	}
	return nil
}

// GetUserOpHash computes the canonical EIP-4337 UserOperation hash: the
// keccak256 of the packed core fields, further hashed together with the
// EntryPoint address and chain ID. This is the authoritative identity
// function (spec section 9, open question 3) — it supersedes any simplified
// hash that ignores entryPoint/chainID.
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) common.Hash {
	packed := op.packForHash()
	innerHash := crypto.Keccak256(packed)

	outer := make([]byte, 0, len(innerHash)+32+32)
	outer = append(outer, innerHash...)
	outer = append(outer, leftPad32(entryPoint.Bytes())...)
	outer = append(outer, leftPadBytes32(chainID)...)

	return common.BytesToHash(crypto.Keccak256(outer))
}

// packForHash ABI-packs (sender, nonce, keccak(initCode), keccak(callData),
// callGasLimit, verificationGasLimit, preVerificationGas, maxFeePerGas,
// maxPriorityFeePerGas, keccak(paymasterAndData)) as 32-byte big-endian
// words, matching spec section 3's identity definition.
func (op *UserOperation) packForHash() []byte {
	var buf []byte

	buf = append(buf, leftPad32(op.Sender.Bytes())...)
	buf = append(buf, leftPadBytes32(op.Nonce)...)
	buf = append(buf, crypto.Keccak256(op.InitCode)...)
	buf = append(buf, crypto.Keccak256(op.CallData)...)
	buf = append(buf, leftPadBytes32(op.CallGasLimit)...)
	buf = append(buf, leftPadBytes32(op.VerificationGasLimit)...)
	buf = append(buf, leftPadBytes32(op.PreVerificationGas)...)
	buf = append(buf, leftPadBytes32(op.MaxFeePerGas)...)
	buf = append(buf, leftPadBytes32(op.MaxPriorityFeePerGas)...)
	buf = append(buf, crypto.Keccak256(op.PaymasterAndData)...)

	return buf
}

// Paymaster returns the paymaster address occupying the first 20 bytes of
// paymasterAndData, or the zero address if the UserOp is self-sponsored.
func (op *UserOperation) Paymaster() common.Address {
	if len(op.PaymasterAndData) < 20 {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:20])
}

func leftPad32(b []byte) []byte {
	out := make([]byte, 32)
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}

func leftPadBytes32(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return leftPad32(v.Bytes())
}
