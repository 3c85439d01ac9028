package meteora

import (
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// BinIDToBinArrayIndex maps a bin id to the index of the bin array that
// contains it: each bin array spans binArraySize contiguous bins.
func BinIDToBinArrayIndex(binID int32) int64 {
	idx := int64(binID) / binArraySize
	if binID < 0 && int64(binID)%binArraySize != 0 {
		idx--
	}
	return idx
}

// GetBinArrayLowerUpperBinID returns the inclusive bin-id bounds covered
// by the bin array at the given index.
func GetBinArrayLowerUpperBinID(index int32) (lower, upper int32, err error) {
	lower = int32(int64(index) * binArraySize)
	upper = lower + binArraySize - 1
	return lower, upper, nil
}

// GetBinArrayOffset returns the bit offset of a bin-array index within
// the internal 1024-bit on-chain bitmap, centered on bin array index 0.
func GetBinArrayOffset(index int32) int32 {
	return index + 512
}

// IsOverflowDefaultBinArrayBitmap reports whether index falls outside the
// range representable by the pool's inline 1024-bit bitmap, in which case
// the external bitmap-extension account must be consulted instead.
func IsOverflowDefaultBinArrayBitmap(index int32) bool {
	offset := GetBinArrayOffset(index)
	return offset < 0 || offset >= 1024
}

// BitmapRange returns the inclusive bin-array index range the internal
// bitmap can represent.
func BitmapRange() (min, max int32) {
	return -512, 511
}

type bitmapWidth int

// U1024 identifies the pool's inline bitmap width.
const U1024 bitmapWidth = 1024

type bitmapDetail struct {
	Bits int
}

// BitmapTypeDetail returns the bit width of a bitmap type.
func BitmapTypeDetail(w bitmapWidth) bitmapDetail {
	return bitmapDetail{Bits: int(w)}
}

// FromLimbs reconstructs a big.Int from little-endian uint64 limbs, the
// representation the on-chain bin_array_bitmap field uses.
func FromLimbs(limbs []uint64) *big.Int {
	buf := make([]byte, len(limbs)*8)
	for i, limb := range limbs {
		binary.LittleEndian.PutUint64(buf[i*8:], limb)
	}
	// big.Int.SetBytes expects big-endian, so reverse.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return new(big.Int).SetBytes(buf)
}

// MostSignificantBit returns the index (0 = LSB) of the highest set bit
// within the low `bits` bits of v, or -1 if none are set.
func MostSignificantBit(v *big.Int, bits int) int {
	for i := bits - 1; i >= 0; i-- {
		if v.Bit(i) == 1 {
			return i
		}
	}
	return -1
}

// LeastSignificantBit returns the index of the lowest set bit within the
// low `bits` bits of v, or -1 if none are set.
func LeastSignificantBit(v *big.Int, bits int) int {
	for i := 0; i < bits; i++ {
		if v.Bit(i) == 1 {
			return i
		}
	}
	return -1
}

// DeriveBinArrayPDA derives the bin-array account for (lbPair, index),
// seed `bin_array|<lbPair>|<i64 LE index>`.
func DeriveBinArrayPDA(lbPair solana.PublicKey, index int64) (solana.PublicKey, error) {
	var idxBytes [8]byte
	binary.LittleEndian.PutUint64(idxBytes[:], uint64(index))
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bin_array"), lbPair[:], idxBytes[:]},
		MeteoraProgramID,
	)
	return pda, err
}

// DeriveBinArrayBitmapExtension derives the optional bitmap-extension
// account for a pool, seed `bitmap|<lbPair>`.
func DeriveBinArrayBitmapExtension(lbPair solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bitmap"), lbPair[:]},
		MeteoraProgramID,
	)
	return pda, err
}

// DeriveEventAuthorityPDA derives the DLMM program's anchor
// `__event_authority` PDA, used for self-CPI event logging.
func DeriveEventAuthorityPDA() solana.PublicKey {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("__event_authority")},
		MeteoraProgramID,
	)
	if err != nil {
		// Seeds are fixed and the program id is a constant; a derivation
		// failure here means the program id itself is malformed.
		panic(err)
	}
	return pda
}

// BinArrayBitmapExtension decodes the external bitmap-extension account
// used once a pool's liquidity ranges exceed the inline 1024-bit bitmap.
type BinArrayBitmapExtension struct {
	LbPair             solana.PublicKey
	PositiveBinmapWord [][]uint64
	NegativeBinmapWord [][]uint64
}

// NextBinArrayIndexWithLiquidity scans the extension's external bitmap
// for the next populated bin-array index beyond startArrayIndex.
func (ext *BinArrayBitmapExtension) NextBinArrayIndexWithLiquidity(swapForY bool, startArrayIndex int32) (int32, bool, error) {
	words := ext.PositiveBinmapWord
	if swapForY {
		words = ext.NegativeBinmapWord
	}
	for _, word := range words {
		bitmap := FromLimbs(word)
		if bit := MostSignificantBit(bitmap, 512); bit >= 0 {
			return startArrayIndex, true, nil
		}
	}
	return startArrayIndex, false, nil
}
