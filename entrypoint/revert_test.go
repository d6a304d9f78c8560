package entrypoint

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeValidationResultRevert(t *testing.T, preOpGas, prefund *big.Int, sigFailed bool, validAfter, validUntil uint64, ctx []byte) []byte {
	t.Helper()
	errABI, ok := entryPointABI.Errors["ValidationResult"]
	require.True(t, ok)

	packed, err := errABI.Inputs.Pack(preOpGas, prefund, sigFailed, new(big.Int).SetUint64(validAfter), new(big.Int).SetUint64(validUntil), ctx)
	require.NoError(t, err)

	return append(errABI.ID[:4], packed...)
}

func encodeFailedOpRevert(t *testing.T, opIndex *big.Int, reason string) []byte {
	t.Helper()
	errABI, ok := entryPointABI.Errors["FailedOp"]
	require.True(t, ok)

	packed, err := errABI.Inputs.Pack(opIndex, reason)
	require.NoError(t, err)

	return append(errABI.ID[:4], packed...)
}

func encodeSenderAddressResultRevert(t *testing.T, sender common.Address) []byte {
	t.Helper()
	errABI, ok := entryPointABI.Errors["SenderAddressResult"]
	require.True(t, ok)

	packed, err := errABI.Inputs.Pack(sender)
	require.NoError(t, err)

	return append(errABI.ID[:4], packed...)
}

func TestDecodeSimulationRevertSuccess(t *testing.T) {
	data := encodeValidationResultRevert(t, big.NewInt(50000), big.NewInt(1_000_000_000_000), false, 0, 0, []byte{})

	vr, err := decodeSimulationRevert(data)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(50000), vr.PreOpGas)
	assert.False(t, vr.SigFailed)
}

func TestDecodeSimulationRevertFailedOp(t *testing.T) {
	data := encodeFailedOpRevert(t, big.NewInt(0), "AA21 didn't pay prefund")

	_, err := decodeSimulationRevert(data)
	require.Error(t, err)

	var failedOp *FailedOp
	require.ErrorAs(t, err, &failedOp)
	assert.Equal(t, "AA21 didn't pay prefund", failedOp.Reason)
}

func TestDecodeSimulationRevertUnrecognized(t *testing.T) {
	_, err := decodeSimulationRevert([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}

func TestDecodeSimulationRevertTooShort(t *testing.T) {
	_, err := decodeSimulationRevert([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDecodeSenderAddressRevert(t *testing.T) {
	want := common.HexToAddress("0x1234567890123456789012345678901234567890")
	data := encodeSenderAddressResultRevert(t, want)

	got, err := decodeSenderAddressRevert(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeSenderAddressRevertWrongType(t *testing.T) {
	data := encodeFailedOpRevert(t, big.NewInt(0), "not deployed")
	_, err := decodeSenderAddressRevert(data)
	assert.Error(t, err)
}

func TestDecodeHexOrJSON(t *testing.T) {
	b, ok := decodeHexOrJSON("0xabcd")
	assert.True(t, ok)
	assert.Equal(t, []byte{0xab, 0xcd}, b)

	_, ok = decodeHexOrJSON("not hex")
	assert.False(t, ok)
}

func TestBumpAppliesRatio(t *testing.T) {
	got := bump(big.NewInt(100), 110, 100)
	assert.Equal(t, big.NewInt(110), got)
}

func TestBumpNilSafe(t *testing.T) {
	assert.Nil(t, bump(nil, 110, 100))
}
