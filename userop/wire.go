package userop

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Wire is the JSON-RPC wire representation of a UserOperation, matching the
// field naming used throughout the ecosystem (e.g. the wire struct in
// go-bundler-client's client.go). Numeric fields accept either a decimal
// string or a 0x-prefixed hex string on input; they are always emitted as
// 0x-prefixed hex.
type Wire struct {
	Sender               common.Address  `json:"sender"`
	Nonce                *flexibleBig    `json:"nonce"`
	InitCode             hexutil.Bytes   `json:"initCode"`
	CallData             hexutil.Bytes   `json:"callData"`
	CallGasLimit         *flexibleBig    `json:"callGasLimit"`
	VerificationGasLimit *flexibleBig    `json:"verificationGasLimit"`
	PreVerificationGas   *flexibleBig    `json:"preVerificationGas"`
	MaxFeePerGas         *flexibleBig    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *flexibleBig    `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes   `json:"paymasterAndData"`
	Signature            hexutil.Bytes   `json:"signature"`
}

// ToUserOperation converts the wire form into the domain type.
func (w *Wire) ToUserOperation() *UserOperation {
	if w == nil {
		return nil
	}
	return &UserOperation{
		Sender:               w.Sender,
		Nonce:                w.Nonce.big(),
		InitCode:             []byte(w.InitCode),
		CallData:             []byte(w.CallData),
		CallGasLimit:         w.CallGasLimit.big(),
		VerificationGasLimit: w.VerificationGasLimit.big(),
		PreVerificationGas:   w.PreVerificationGas.big(),
		MaxFeePerGas:         w.MaxFeePerGas.big(),
		MaxPriorityFeePerGas: w.MaxPriorityFeePerGas.big(),
		PaymasterAndData:     []byte(w.PaymasterAndData),
		Signature:            []byte(w.Signature),
	}
}

// FromUserOperation builds the wire form of a domain UserOperation.
func FromUserOperation(op *UserOperation) *Wire {
	if op == nil {
		return nil
	}
	return &Wire{
		Sender:               op.Sender,
		Nonce:                newFlexibleBig(op.Nonce),
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         newFlexibleBig(op.CallGasLimit),
		VerificationGasLimit: newFlexibleBig(op.VerificationGasLimit),
		PreVerificationGas:   newFlexibleBig(op.PreVerificationGas),
		MaxFeePerGas:         newFlexibleBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: newFlexibleBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     op.PaymasterAndData,
		Signature:            op.Signature,
	}
}

// FromMap parses a JSON-RPC params[0] object (map[string]any, as the
// dispatcher decodes it) into a UserOperation.
func FromMap(m map[string]any) (*UserOperation, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("userop: re-marshal params: %w", err)
	}
	var w Wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("userop: decode userOperation: %w", err)
	}
	op := w.ToUserOperation()
	if op == nil {
		return nil, fmt.Errorf("userop: empty userOperation")
	}
	return op, nil
}

// flexibleBig accepts either a decimal string or a 0x-prefixed hex string on
// unmarshal, and always emits 0x-prefixed hex, matching spec section 6's
// "numeric fields accept either decimal strings or 0x-prefixed hex; responses
// use 0x-prefixed hex".
type flexibleBig big.Int

func newFlexibleBig(v *big.Int) *flexibleBig {
	if v == nil {
		return nil
	}
	fb := flexibleBig(*v)
	return &fb
}

func (b *flexibleBig) big() *big.Int {
	if b == nil {
		return nil
	}
	return (*big.Int)(b)
}

func (b *flexibleBig) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("flexibleBig: expected JSON string: %w", err)
	}
	if s == "" {
		return fmt.Errorf("flexibleBig: empty numeric string")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeBig(s)
		if err != nil {
			return fmt.Errorf("flexibleBig: invalid hex value %q: %w", s, err)
		}
		*b = flexibleBig(*v)
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("flexibleBig: invalid decimal value %q", s)
	}
	*b = flexibleBig(*v)
	return nil
}

func (b flexibleBig) MarshalJSON() ([]byte, error) {
	v := big.Int(b)
	return json.Marshal(hexutil.EncodeBig(&v))
}
