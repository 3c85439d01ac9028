package codec

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func buildPositionBytes(t *testing.T, side Side, minBin, maxBin int32) []byte {
	t.Helper()
	data := make([]byte, PositionSize)
	off := 8
	owner := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()
	liqPos := solana.NewWallet().PublicKey()
	copy(data[off:], owner[:])
	off += 32
	copy(data[off:], pool[:])
	off += 32
	copy(data[off:], liqPos[:])
	off += 32
	data[off] = byte(side)
	off++
	binary.LittleEndian.PutUint32(data[off:], uint32(minBin))
	off += 4
	binary.LittleEndian.PutUint32(data[off:], uint32(maxBin))
	off += 4
	binary.LittleEndian.PutUint64(data[off:], 1_000_000)
	off += 8
	binary.LittleEndian.PutUint64(data[off:], 0)
	off += 8
	binary.LittleEndian.PutUint64(data[off:], uint64(time.Now().Unix()))
	off += 8
	data[off] = 255
	return data
}

func TestDecodePositionRoundTrip(t *testing.T) {
	data := buildPositionBytes(t, SideSell, 110, 120)
	pos, err := DecodePosition(data)
	require.NoError(t, err)
	require.Equal(t, SideSell, pos.Side)
	require.EqualValues(t, 110, pos.MinBin)
	require.EqualValues(t, 120, pos.MaxBin)
	require.EqualValues(t, 11, pos.Width())
}

func TestDecodePositionWrongSize(t *testing.T) {
	_, err := DecodePosition(make([]byte, PositionSize-1))
	require.Error(t, err)
}

func TestDecodePositionRangeTooWide(t *testing.T) {
	data := buildPositionBytes(t, SideBuy, -100, 100) // width 201 > 70
	_, err := DecodePosition(data)
	require.Error(t, err)
}

func TestValidateOpen(t *testing.T) {
	data := buildPositionBytes(t, SideSell, 110, 120)
	pos, err := DecodePosition(data)
	require.NoError(t, err)

	require.NoError(t, pos.ValidateOpen(100))
	require.Error(t, pos.ValidateOpen(115))

	data = buildPositionBytes(t, SideBuy, 100, 110)
	pos, err = DecodePosition(data)
	require.NoError(t, err)
	require.NoError(t, pos.ValidateOpen(120))
	require.Error(t, pos.ValidateOpen(105))
}

func TestSafeBinsSellTieBreakHighestFirst(t *testing.T) {
	data := buildPositionBytes(t, SideSell, 110, 120)
	pos, err := DecodePosition(data)
	require.NoError(t, err)

	bins := pos.SafeBins(115, MaxRangeWidth)
	require.Equal(t, []int32{114, 113, 112, 111, 110}, bins)
}

func TestSafeBinsBuyTieBreakLowestFirst(t *testing.T) {
	data := buildPositionBytes(t, SideBuy, 100, 110)
	pos, err := DecodePosition(data)
	require.NoError(t, err)

	bins := pos.SafeBins(104, MaxRangeWidth)
	require.Equal(t, []int32{105, 106, 107, 108, 109, 110}, bins)
}

func TestSafeBinsCappedAtMaxCount(t *testing.T) {
	data := buildPositionBytes(t, SideSell, 1, 70)
	pos, err := DecodePosition(data)
	require.NoError(t, err)

	bins := pos.SafeBins(1000, 3)
	require.Len(t, bins, 3)
	require.Equal(t, []int32{70, 69, 68}, bins)
}

func TestSafeBinsNoneSafe(t *testing.T) {
	data := buildPositionBytes(t, SideSell, 110, 120)
	pos, err := DecodePosition(data)
	require.NoError(t, err)

	bins := pos.SafeBins(105, MaxRangeWidth)
	require.Empty(t, bins)
	require.Equal(t, 0, pos.SafeBinCount(105))
}
