package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ethbundler/bundler/entrypoint"
	"github.com/ethbundler/bundler/mempool"
	"github.com/ethbundler/bundler/userop"
)

// Services bundles the singleton components the method table dispatches
// into — the composition root's services, passed down from cmd/bundler.
type Services struct {
	Pool       *mempool.Pool
	EntryPoint *entrypoint.Adapter
	ChainID    *big.Int
}

// BuildMethods returns the full eth_/eth_bundler_ method table (spec section
// 4.4), bound to the given services.
func BuildMethods(svc *Services) map[string]Handler {
	return map[string]Handler{
		"eth_chainId":                  svc.chainId,
		"eth_supportedEntryPoints":     svc.supportedEntryPoints,
		"eth_estimateUserOperationGas": svc.estimateUserOperationGas,
		"eth_sendUserOperation":        svc.sendUserOperation,
		"eth_getUserOperationByHash":   svc.getUserOperationByHash,
		"eth_getUserOperationReceipt":  svc.getUserOperationReceipt,
		"eth_bundler_clearMempool":     svc.clearMempool,
		"eth_bundler_getStatus":        svc.getStatus,
	}
}

func (s *Services) chainId(_ httpContext, _ json.RawMessage) (interface{}, *Error) {
	return (*hexutil.Big)(s.ChainID), nil
}

func (s *Services) supportedEntryPoints(_ httpContext, _ json.RawMessage) (interface{}, *Error) {
	return []common.Address{s.EntryPoint.Address()}, nil
}

func decodeOpAndEntryPoint(raw json.RawMessage) (*userop.UserOperation, common.Address, *Error) {
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, common.Address{}, invalidParams("expected a two-element params array")
	}
	if len(params) < 2 {
		return nil, common.Address{}, invalidParams("expected [userOperation, entryPoint]")
	}

	var opMap map[string]any
	if err := json.Unmarshal(params[0], &opMap); err != nil {
		return nil, common.Address{}, invalidParams("malformed userOperation: " + err.Error())
	}
	op, err := userop.FromMap(opMap)
	if err != nil {
		return nil, common.Address{}, invalidParams(err.Error())
	}

	var entryPoint common.Address
	if err := json.Unmarshal(params[1], &entryPoint); err != nil {
		return nil, common.Address{}, invalidParams("malformed entryPoint address: " + err.Error())
	}

	return op, entryPoint, nil
}

func (s *Services) estimateUserOperationGas(ctx httpContext, raw json.RawMessage) (interface{}, *Error) {
	op, entryPoint, rpcErr := decodeOpAndEntryPoint(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if entryPoint != s.EntryPoint.Address() {
		return nil, newError(CodeEntryPointNotSupported, "entrypoint %s is not supported", entryPoint)
	}

	estimate, err := s.EntryPoint.EstimateGas(ctx.r.Context(), op)
	if err != nil {
		return nil, simulationError(err)
	}

	return map[string]interface{}{
		"preVerificationGas":   (*hexutil.Big)(estimate.PreVerificationGas),
		"verificationGasLimit": (*hexutil.Big)(estimate.VerificationGasLimit),
		"callGasLimit":         (*hexutil.Big)(estimate.CallGasLimit),
	}, nil
}

func (s *Services) sendUserOperation(ctx httpContext, raw json.RawMessage) (interface{}, *Error) {
	op, entryPoint, rpcErr := decodeOpAndEntryPoint(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if entryPoint != s.EntryPoint.Address() {
		return nil, newError(CodeEntryPointNotSupported, "entrypoint %s is not supported", entryPoint)
	}

	if _, err := s.EntryPoint.SimulateValidation(ctx.r.Context(), op); err != nil {
		return nil, simulationError(err)
	}

	hash, err := s.Pool.Admit(ctx.r.Context(), op)
	if err != nil {
		return nil, admissionError(err)
	}

	return hash, nil
}

func (s *Services) getUserOperationByHash(_ httpContext, raw json.RawMessage) (interface{}, *Error) {
	hash, rpcErr := decodeSingleHash(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}

	op, status, err := s.Pool.Get(context.Background(), hash)
	if err != nil {
		if errors.Is(err, mempool.ErrNotFound) {
			return nil, nil
		}
		return nil, internalError(err)
	}

	receipt, _, err := s.Pool.GetReceipt(context.Background(), hash)
	if err != nil {
		return nil, internalError(err)
	}

	result := map[string]interface{}{
		"userOperation":   userop.FromUserOperation(op),
		"entryPoint":      s.EntryPoint.Address(),
		"status":          status,
		"blockNumber":     nil,
		"blockHash":       nil,
		"transactionHash": nil,
	}
	if receipt != nil {
		result["blockNumber"] = (*hexutil.Big)(new(big.Int).SetUint64(receipt.BlockNumber))
		result["blockHash"] = receipt.BlockHash
		result["transactionHash"] = receipt.TransactionHash
	}
	return result, nil
}

func (s *Services) getUserOperationReceipt(_ httpContext, raw json.RawMessage) (interface{}, *Error) {
	hash, rpcErr := decodeSingleHash(raw)
	if rpcErr != nil {
		return nil, rpcErr
	}

	receipt, status, err := s.Pool.GetReceipt(context.Background(), hash)
	if err != nil {
		if errors.Is(err, mempool.ErrNotFound) {
			return nil, nil
		}
		return nil, internalError(err)
	}
	if status != userop.StatusConfirmed || receipt == nil {
		return nil, nil
	}

	return map[string]interface{}{
		"userOpHash":    hash,
		"success":       receipt.Success,
		"actualGasCost": (*hexutil.Big)(receipt.ActualGasCost),
		"actualGasUsed": (*hexutil.Big)(new(big.Int).SetUint64(receipt.ActualGasUsed)),
		"logs":          receipt.Logs,
		"receipt": map[string]interface{}{
			"transactionHash": receipt.TransactionHash,
			"blockHash":       receipt.BlockHash,
			"blockNumber":     (*hexutil.Big)(new(big.Int).SetUint64(receipt.BlockNumber)),
			"gasUsed":         (*hexutil.Big)(new(big.Int).SetUint64(receipt.ActualGasUsed)),
			"status":          receipt.Success,
		},
	}, nil
}

func (s *Services) clearMempool(ctx httpContext, _ json.RawMessage) (interface{}, *Error) {
	if err := s.Pool.Clear(ctx.r.Context()); err != nil {
		return nil, internalError(err)
	}
	return true, nil
}

func (s *Services) getStatus(ctx httpContext, _ json.RawMessage) (interface{}, *Error) {
	size, err := s.Pool.Size(ctx.r.Context())
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]interface{}{
		"pendingUserOperations": size,
	}, nil
}

func decodeSingleHash(raw json.RawMessage) (common.Hash, *Error) {
	var params []common.Hash
	if err := json.Unmarshal(raw, &params); err != nil || len(params) != 1 {
		return common.Hash{}, invalidParams("expected a single userOpHash parameter")
	}
	return params[0], nil
}

func simulationError(err error) *Error {
	var failedOp *entrypoint.FailedOp
	if errors.As(err, &failedOp) {
		return newError(CodeInvalidUserOp, "simulation failed: %s", failedOp.Reason)
	}
	return newError(CodeInvalidUserOp, "simulation failed: %v", err)
}

func admissionError(err error) *Error {
	switch {
	case errors.Is(err, mempool.ErrReplacementUnderpriced):
		return newError(CodeInvalidUserOp, "replacement underpriced")
	case errors.Is(err, mempool.ErrMempoolFull):
		return newError(CodeInvalidUserOp, "mempool at capacity")
	default:
		return newError(CodeInvalidUserOp, "admission failed: %v", err)
	}
}
