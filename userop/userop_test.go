package userop

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(1),
		InitCode:             []byte{},
		CallData:             []byte{0xab, 0xcd},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(21000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{0x01},
	}
}

func TestValidateRejectsZeroSender(t *testing.T) {
	op := sampleOp()
	op.Sender = common.Address{}
	assert.ErrorIs(t, op.Validate(), ErrSenderZero)
}

func TestValidateRejectsNilNonce(t *testing.T) {
	op := sampleOp()
	op.Nonce = nil
	assert.ErrorIs(t, op.Validate(), ErrNonceNil)
}

func TestValidateRejectsNilGasLimits(t *testing.T) {
	op := sampleOp()
	op.VerificationGasLimit = nil
	assert.ErrorIs(t, op.Validate(), ErrGasLimitNil)
}

func TestValidateRejectsNilFeeCaps(t *testing.T) {
	op := sampleOp()
	op.MaxFeePerGas = nil
	assert.ErrorIs(t, op.Validate(), ErrFeeCapNil)
}

func TestValidateAccepted(t *testing.T) {
	assert.NoError(t, sampleOp().Validate())
}

func TestGetUserOpHashDeterministic(t *testing.T) {
	op := sampleOp()
	entryPoint := common.HexToAddress("0x2222222222222222222222222222222222222222")
	chainID := big.NewInt(1)

	h1 := op.GetUserOpHash(entryPoint, chainID)
	h2 := op.GetUserOpHash(entryPoint, chainID)
	assert.Equal(t, h1, h2)
}

func TestGetUserOpHashVariesByChainID(t *testing.T) {
	op := sampleOp()
	entryPoint := common.HexToAddress("0x2222222222222222222222222222222222222222")

	h1 := op.GetUserOpHash(entryPoint, big.NewInt(1))
	h2 := op.GetUserOpHash(entryPoint, big.NewInt(2))
	assert.NotEqual(t, h1, h2)
}

func TestGetUserOpHashVariesByEntryPoint(t *testing.T) {
	op := sampleOp()
	chainID := big.NewInt(1)

	h1 := op.GetUserOpHash(common.HexToAddress("0x2222222222222222222222222222222222222222"), chainID)
	h2 := op.GetUserOpHash(common.HexToAddress("0x3333333333333333333333333333333333333333"), chainID)
	assert.NotEqual(t, h1, h2)
}

func TestPaymasterExtraction(t *testing.T) {
	op := sampleOp()
	paymaster := common.HexToAddress("0x4444444444444444444444444444444444444444")
	op.PaymasterAndData = append(paymaster.Bytes(), []byte{0x01, 0x02}...)
	assert.Equal(t, paymaster, op.Paymaster())
}

func TestPaymasterZeroWhenShort(t *testing.T) {
	op := sampleOp()
	op.PaymasterAndData = []byte{0x01}
	assert.Equal(t, common.Address{}, op.Paymaster())
}

func TestWireRoundTripHex(t *testing.T) {
	op := sampleOp()
	w := FromUserOperation(op)

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var decoded Wire
	require.NoError(t, json.Unmarshal(data, &decoded))

	got := decoded.ToUserOperation()
	assert.Equal(t, op.Sender, got.Sender)
	assert.Equal(t, 0, op.Nonce.Cmp(got.Nonce))
	assert.Equal(t, 0, op.MaxFeePerGas.Cmp(got.MaxFeePerGas))
	assert.Equal(t, op.CallData, got.CallData)
}

func TestWireAcceptsDecimalStrings(t *testing.T) {
	raw := map[string]any{
		"sender":               "0x1111111111111111111111111111111111111111",
		"nonce":                "1",
		"initCode":             "0x",
		"callData":             "0xabcd",
		"callGasLimit":         "100000",
		"verificationGasLimit": "150000",
		"preVerificationGas":   "21000",
		"maxFeePerGas":         "0x77359400",
		"maxPriorityFeePerGas": "1000000000",
		"paymasterAndData":     "0x",
		"signature":            "0x01",
	}

	op, err := FromMap(raw)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100000), op.CallGasLimit)
	assert.Equal(t, big.NewInt(1_000_000_000), op.MaxPriorityFeePerGas)
	assert.Equal(t, big.NewInt(2_000_000_000), op.MaxFeePerGas)
}

func TestWireRejectsMalformedNumeric(t *testing.T) {
	raw := map[string]any{
		"sender":               "0x1111111111111111111111111111111111111111",
		"nonce":                "not-a-number",
		"initCode":             "0x",
		"callData":             "0x",
		"callGasLimit":         "1",
		"verificationGasLimit": "1",
		"preVerificationGas":   "1",
		"maxFeePerGas":         "1",
		"maxPriorityFeePerGas": "1",
		"paymasterAndData":     "0x",
		"signature":            "0x",
	}
	_, err := FromMap(raw)
	assert.Error(t, err)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusConfirmed.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusRemoved.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusSubmitted.IsTerminal())
}

func TestBundleLifecycle(t *testing.T) {
	hashes := []common.Hash{common.HexToHash("0x01")}
	b := NewBundle(hashes)
	assert.Equal(t, StatusPending, b.Status)
	assert.NotEmpty(t, b.ID)

	b.Submit(common.HexToHash("0xaa"))
	assert.Equal(t, StatusSubmitted, b.Status)

	b.Confirm(42)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, uint64(42), b.BlockNumber)
}

func TestBundleFail(t *testing.T) {
	b := NewBundle(nil)
	b.Fail("simulation reverted")
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, "simulation reverted", b.Error)
}
