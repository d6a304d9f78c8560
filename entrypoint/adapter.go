// Package entrypoint adapts the ERC-4337 EntryPoint contract to the
// bundler's domain: simulation (via revert-as-result decoding),
// handleOps submission, and gas estimation.
package entrypoint

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethbundler/bundler/bundlerparams"
	"github.com/ethbundler/bundler/userop"
)

// userOpArg mirrors the ABI tuple's field order so abi.Pack can encode a
// userop.UserOperation without an intermediate map.
type userOpArg struct {
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

func toArg(op *userop.UserOperation) userOpArg {
	return userOpArg{
		Sender:               op.Sender,
		Nonce:                op.Nonce,
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         op.CallGasLimit,
		VerificationGasLimit: op.VerificationGasLimit,
		PreVerificationGas:   op.PreVerificationGas,
		MaxFeePerGas:         op.MaxFeePerGas,
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas,
		PaymasterAndData:     op.PaymasterAndData,
		Signature:            op.Signature,
	}
}

// Adapter wraps an ethclient connection to a single EntryPoint deployment,
// translating the bundler's domain calls into the contract's revert-based
// protocol.
type Adapter struct {
	client      *ethclient.Client
	address     common.Address
	chainID     *big.Int
	signer      *ecdsa.PrivateKey
	beneficiary common.Address
}

// New constructs an Adapter bound to a single EntryPoint address.
func New(client *ethclient.Client, address common.Address, chainID *big.Int, signer *ecdsa.PrivateKey, beneficiary common.Address) *Adapter {
	return &Adapter{client: client, address: address, chainID: chainID, signer: signer, beneficiary: beneficiary}
}

// Address returns the EntryPoint address this adapter is bound to.
func (a *Adapter) Address() common.Address { return a.address }

// SignerAddress returns the address the bundler submits handleOps from.
func (a *Adapter) SignerAddress() common.Address {
	return crypto.PubkeyToAddress(a.signer.PublicKey)
}

// Ping verifies the underlying RPC connection is reachable by fetching the
// chain id, used by the health server's readiness check.
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.client.ChainID(ctx)
	return err
}

// GasEstimate holds the suggested gas limits for a UserOperation, derived
// from a simulateValidation round-trip plus the buffers spec section 4
// defines (verification x3/2, call x11/10).
type GasEstimate struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
}

// SimulateValidation calls simulateValidation and decodes its revert. A
// ValidationResult revert is success; anything else (no revert, a FailedOp
// revert, or an undecodable revert) is failure, per EIP-4337's
// revert-as-return-value convention.
func (a *Adapter) SimulateValidation(ctx context.Context, op *userop.UserOperation) (*ValidationResult, error) {
	input, err := entryPointABI.Pack("simulateValidation", toArg(op))
	if err != nil {
		return nil, fmt.Errorf("entrypoint: pack simulateValidation: %w", err)
	}

	_, callErr := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.address, Data: input}, nil)
	if callErr == nil {
		return nil, ErrSimulationDidNotRevert
	}

	data, ok := revertData(callErr)
	if !ok {
		log.Warn("simulateValidation reverted without decodable data", "sender", op.Sender, "err", callErr)
		return nil, fmt.Errorf("entrypoint: simulateValidation failed: %w", callErr)
	}

	vr, err := decodeSimulationRevert(data)
	if err != nil {
		var failedOp *FailedOp
		if errors.As(err, &failedOp) {
			return nil, failedOp
		}
		return nil, err
	}
	return vr, nil
}

// EstimateGas derives gas limits for a UserOperation via simulation. It
// leaves the caller-supplied preVerificationGas as a floor (the caller is
// expected to have estimated calldata cost) and applies EIP-4337 ecosystem
// buffers to the verification and call gas limits.
func (a *Adapter) EstimateGas(ctx context.Context, op *userop.UserOperation) (*GasEstimate, error) {
	if _, err := a.SimulateValidation(ctx, op); err != nil {
		return nil, err
	}

	verificationGas := new(big.Int)
	if op.VerificationGasLimit != nil {
		verificationGas.Mul(op.VerificationGasLimit, big.NewInt(bundlerparams.VerificationGasBufferNum))
		verificationGas.Div(verificationGas, big.NewInt(bundlerparams.VerificationGasBufferDen))
	}

	callGas := op.CallGasLimit
	if callGas == nil || callGas.Sign() == 0 {
		callGas = big.NewInt(int64(bundlerparams.PerOpGasOverhead))
	}
	callGas = new(big.Int).Mul(callGas, big.NewInt(bundlerparams.CallGasBufferNum))
	callGas.Div(callGas, big.NewInt(bundlerparams.CallGasBufferDen))

	return &GasEstimate{
		PreVerificationGas:   new(big.Int).Set(op.PreVerificationGas),
		VerificationGasLimit: verificationGas,
		CallGasLimit:         callGas,
	}, nil
}

// GetSenderAddress resolves the counterfactual address an initCode would
// deploy to, via the same revert-as-result convention.
func (a *Adapter) GetSenderAddress(ctx context.Context, initCode []byte) (common.Address, error) {
	input, err := entryPointABI.Pack("getSenderAddress", initCode)
	if err != nil {
		return common.Address{}, fmt.Errorf("entrypoint: pack getSenderAddress: %w", err)
	}

	_, callErr := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.address, Data: input}, nil)
	if callErr == nil {
		return common.Address{}, fmt.Errorf("entrypoint: getSenderAddress returned without reverting")
	}

	data, ok := revertData(callErr)
	if !ok {
		return common.Address{}, fmt.Errorf("entrypoint: getSenderAddress failed: %w", callErr)
	}
	return decodeSenderAddressRevert(data)
}

// HandleOpsOverrides lets the bundler loop supply fee and gas values that
// override the transaction's defaults, per spec section 9's resolution of
// the "handleOps parameter shape" open question: a single overrides struct
// rather than a long positional parameter list.
type HandleOpsOverrides struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasLimit             uint64
	Nonce                *uint64
}

// HandleOps submits a bundle of UserOperations to the EntryPoint and returns
// the signed transaction. The caller is responsible for awaiting the
// receipt.
func (a *Adapter) HandleOps(ctx context.Context, ops []*userop.UserOperation, overrides HandleOpsOverrides) (*types.Transaction, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("entrypoint: handleOps called with no operations")
	}

	args := make([]userOpArg, len(ops))
	for i, op := range ops {
		args[i] = toArg(op)
	}

	input, err := entryPointABI.Pack("handleOps", args, a.beneficiary)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: pack handleOps: %w", err)
	}

	nonce := overrides.Nonce
	if nonce == nil {
		n, err := a.client.PendingNonceAt(ctx, a.SignerAddress())
		if err != nil {
			return nil, fmt.Errorf("entrypoint: fetch signer nonce: %w", err)
		}
		nonce = &n
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     *nonce,
		GasTipCap: overrides.MaxPriorityFeePerGas,
		GasFeeCap: overrides.MaxFeePerGas,
		Gas:       overrides.GasLimit,
		To:        &a.address,
		Value:     big.NewInt(0),
		Data:      input,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.signer)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: sign handleOps transaction: %w", err)
	}

	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("entrypoint: submit handleOps transaction: %w", err)
	}

	log.Info("submitted bundle", "txHash", signed.Hash(), "ops", len(ops), "gasLimit", overrides.GasLimit)
	return signed, nil
}

// AwaitReceipt polls for a transaction receipt until ctx is cancelled.
func (a *Adapter) AwaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := a.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("entrypoint: fetch receipt for %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SuggestFees returns the bundler's own bumped fee values (spec section 4's
// +20% over the node's suggestion) for a handleOps submission.
func (a *Adapter) SuggestFees(ctx context.Context) (maxFeePerGas, maxPriorityFeePerGas *big.Int, err error) {
	tip, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("entrypoint: suggest tip cap: %w", err)
	}
	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("entrypoint: fetch head header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	bumpedTip := bump(tip, bundlerparams.FeeBumpNum, bundlerparams.FeeBumpDen)
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), bumpedTip)
	return bump(feeCap, bundlerparams.FeeBumpNum, bundlerparams.FeeBumpDen), bumpedTip, nil
}

// DepositBalance returns the signer's deposited balance at the EntryPoint,
// used by the health check to confirm the bundler can still afford to pay
// gas refunds.
func (a *Adapter) DepositBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	input, err := entryPointABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: pack balanceOf: %w", err)
	}
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.address, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: call balanceOf: %w", err)
	}
	values, err := entryPointABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: decode balanceOf: %w", err)
	}
	return values[0].(*big.Int), nil
}

// SignerEthBalance returns the bundler signer's native balance, used by the
// BUNDLER_MIN_SIGNER_BALANCE health gate.
func (a *Adapter) SignerEthBalance(ctx context.Context) (*big.Int, error) {
	return a.client.BalanceAt(ctx, a.SignerAddress(), nil)
}

func bump(v *big.Int, num, den int64) *big.Int {
	if v == nil {
		return nil
	}
	out := new(big.Int).Mul(v, big.NewInt(num))
	return out.Div(out, big.NewInt(den))
}
