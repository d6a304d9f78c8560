package entrypoint

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// entryPointABIJSON is the subset of the EntryPoint v0.6 ABI the adapter
// needs: simulateValidation and getSenderAddress (whose reverts are decoded
// as results), handleOps, the balanceOf/getDepositInfo views, and the
// SenderAddressResult/ValidationResult/FailedOp revert errors.
const entryPointABIJSON = `[
  {
    "inputs": [
      {
        "components": [
          {"name": "sender", "type": "address"},
          {"name": "nonce", "type": "uint256"},
          {"name": "initCode", "type": "bytes"},
          {"name": "callData", "type": "bytes"},
          {"name": "callGasLimit", "type": "uint256"},
          {"name": "verificationGasLimit", "type": "uint256"},
          {"name": "preVerificationGas", "type": "uint256"},
          {"name": "maxFeePerGas", "type": "uint256"},
          {"name": "maxPriorityFeePerGas", "type": "uint256"},
          {"name": "paymasterAndData", "type": "bytes"},
          {"name": "signature", "type": "bytes"}
        ],
        "name": "userOp",
        "type": "tuple"
      }
    ],
    "name": "simulateValidation",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {
        "components": [
          {"name": "sender", "type": "address"},
          {"name": "nonce", "type": "uint256"},
          {"name": "initCode", "type": "bytes"},
          {"name": "callData", "type": "bytes"},
          {"name": "callGasLimit", "type": "uint256"},
          {"name": "verificationGasLimit", "type": "uint256"},
          {"name": "preVerificationGas", "type": "uint256"},
          {"name": "maxFeePerGas", "type": "uint256"},
          {"name": "maxPriorityFeePerGas", "type": "uint256"},
          {"name": "paymasterAndData", "type": "bytes"},
          {"name": "signature", "type": "bytes"}
        ],
        "name": "ops",
        "type": "tuple[]"
      },
      {"name": "beneficiary", "type": "address"}
    ],
    "name": "handleOps",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {
        "components": [
          {"name": "sender", "type": "address"},
          {"name": "nonce", "type": "uint256"},
          {"name": "initCode", "type": "bytes"},
          {"name": "callData", "type": "bytes"},
          {"name": "callGasLimit", "type": "uint256"},
          {"name": "verificationGasLimit", "type": "uint256"},
          {"name": "preVerificationGas", "type": "uint256"},
          {"name": "maxFeePerGas", "type": "uint256"},
          {"name": "maxPriorityFeePerGas", "type": "uint256"},
          {"name": "paymasterAndData", "type": "bytes"},
          {"name": "signature", "type": "bytes"}
        ],
        "name": "initCode",
        "type": "bytes"
      }
    ],
    "name": "getSenderAddress",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"name": "account", "type": "address"}],
    "name": "balanceOf",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"name": "account", "type": "address"}],
    "name": "getDepositInfo",
    "outputs": [
      {
        "components": [
          {"name": "deposit", "type": "uint112"},
          {"name": "staked", "type": "bool"},
          {"name": "stake", "type": "uint112"},
          {"name": "unstakeDelaySec", "type": "uint32"},
          {"name": "withdrawTime", "type": "uint48"}
        ],
        "name": "info",
        "type": "tuple"
      }
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"name": "sender", "type": "address"}],
    "name": "SenderAddressResult",
    "type": "error"
  },
  {
    "inputs": [
      {"name": "preOpGas", "type": "uint256"},
      {"name": "prefund", "type": "uint256"},
      {"name": "sigFailed", "type": "bool"},
      {"name": "validAfter", "type": "uint48"},
      {"name": "validUntil", "type": "uint48"},
      {"name": "paymasterContext", "type": "bytes"}
    ],
    "name": "ValidationResult",
    "type": "error"
  },
  {
    "inputs": [
      {"name": "opIndex", "type": "uint256"},
      {"name": "reason", "type": "string"}
    ],
    "name": "FailedOp",
    "type": "error"
  }
]`

var entryPointABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(entryPointABIJSON))
	if err != nil {
		panic("entrypoint: invalid embedded ABI: " + err.Error())
	}
	entryPointABI = parsed
}
