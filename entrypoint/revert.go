package entrypoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationResult is the decoded payload of the EntryPoint's
// ValidationResult revert, which simulateValidation always raises on success
// (EIP-4337's revert-as-return-value convention: no revert, or a revert that
// doesn't decode as one of the known errors, means failure).
type ValidationResult struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       uint64
	ValidUntil       uint64
	PaymasterContext []byte
}

// FailedOp is the decoded payload of a FailedOp revert, raised by
// simulateValidation or handleOps when a specific operation is rejected.
type FailedOp struct {
	OpIndex *big.Int
	Reason  string
}

func (f *FailedOp) Error() string {
	return fmt.Sprintf("entrypoint: op %s failed: %s", f.OpIndex, f.Reason)
}

// SenderAddressResult is the decoded payload of the counterfactual-address
// revert raised by getSenderAddress.
type SenderAddressResult struct {
	Sender common.Address
}

// ErrSimulationDidNotRevert is returned when simulateValidation completes
// without reverting at all; this is itself a failure under EIP-4337's
// convention since the happy path is defined entirely in terms of the
// ValidationResult revert.
var ErrSimulationDidNotRevert = errors.New("entrypoint: simulateValidation returned without reverting")

// decodeSimulationRevert interprets the revert data from a simulateValidation
// call. A ValidationResult revert is the *success* signal; a FailedOp revert,
// or any other revert (SenderAddressResult included), is failure.
// getSenderAddress reverts are decoded by decodeSenderAddressRevert.
func decodeSimulationRevert(data []byte) (*ValidationResult, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("entrypoint: revert data too short to carry a selector")
	}

	var selector [4]byte
	copy(selector[:], data[:4])
	errABI, err := entryPointABI.ErrorByID(selector)
	if err != nil {
		return nil, fmt.Errorf("entrypoint: unrecognized revert selector %x: %w", data[:4], err)
	}

	switch errABI.Name {
	case "ValidationResult":
		values, err := errABI.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("entrypoint: decode ValidationResult: %w", err)
		}
		vr := &ValidationResult{
			PreOpGas:  values[0].(*big.Int),
			Prefund:   values[1].(*big.Int),
			SigFailed: values[2].(bool),
		}
		if validAfter, ok := values[3].(*big.Int); ok {
			vr.ValidAfter = validAfter.Uint64()
		} else {
			vr.ValidAfter = uint64(values[3].(uint64))
		}
		if validUntil, ok := values[4].(*big.Int); ok {
			vr.ValidUntil = validUntil.Uint64()
		} else {
			vr.ValidUntil = uint64(values[4].(uint64))
		}
		vr.PaymasterContext, _ = values[5].([]byte)
		return vr, nil

	case "FailedOp":
		values, err := errABI.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("entrypoint: decode FailedOp: %w", err)
		}
		return nil, &FailedOp{
			OpIndex: values[0].(*big.Int),
			Reason:  values[1].(string),
		}

	default:
		return nil, fmt.Errorf("entrypoint: revert %s is not a recognized simulation result", errABI.Name)
	}
}

// decodeSenderAddressRevert interprets the revert data from getSenderAddress.
func decodeSenderAddressRevert(data []byte) (common.Address, error) {
	if len(data) < 4 {
		return common.Address{}, fmt.Errorf("entrypoint: revert data too short to carry a selector")
	}
	var selector [4]byte
	copy(selector[:], data[:4])
	errABI, err := entryPointABI.ErrorByID(selector)
	if err != nil {
		return common.Address{}, fmt.Errorf("entrypoint: unrecognized revert selector %x: %w", data[:4], err)
	}
	if errABI.Name != "SenderAddressResult" {
		return common.Address{}, fmt.Errorf("entrypoint: revert %s is not SenderAddressResult", errABI.Name)
	}
	values, err := errABI.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, fmt.Errorf("entrypoint: decode SenderAddressResult: %w", err)
	}
	return values[0].(common.Address), nil
}

// revertData extracts the ABI-encoded revert payload from a JSON-RPC error
// returned by eth_call, as surfaced by go-ethereum's rpc client in the
// optional "data" field of the error object.
func revertData(err error) ([]byte, bool) {
	type dataError interface {
		ErrorData() interface{}
	}
	de, ok := err.(dataError)
	if !ok {
		return nil, false
	}
	raw := de.ErrorData()
	switch v := raw.(type) {
	case string:
		return decodeHexOrJSON(v)
	case []byte:
		return v, true
	default:
		b, mErr := json.Marshal(v)
		if mErr != nil {
			return nil, false
		}
		var s string
		if json.Unmarshal(b, &s) == nil {
			return decodeHexOrJSON(s)
		}
		return nil, false
	}
}

func decodeHexOrJSON(s string) ([]byte, bool) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		b := common.FromHex(s)
		return b, len(b) > 0
	}
	return nil, false
}
