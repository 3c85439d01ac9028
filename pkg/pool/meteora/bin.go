package meteora

import (
	"fmt"
	"math/big"

	"lukechampine.com/uint128"
)

// priceScale is the fixed-point denominator bin prices are stored in.
// A bin's price is Y per X, scaled by priceScale, consistent with the
// pricing law in the data model: price(bin) = (1+bin_step/10000)^bin.
const priceScale = 1_000_000_000_000 // 1e12, matches the accumulator scale in the glossary

// Bin is a single liquidity slot inside a BinArray.
type Bin struct {
	amountX                  uint64
	amountY                  uint64
	price                    uint128.Uint128
	liquiditySupply          uint128.Uint128
	rewardPerTokenStored     [2]uint128.Uint128
	feeAmountXPerTokenStored uint128.Uint128
	feeAmountYPerTokenStored uint128.Uint128
	amountXIn                uint128.Uint128
	amountYIn                uint128.Uint128
}

// IsEmpty reports whether the side of the bin a swap would draw from is
// empty: the X side when isX is true, else the Y side.
func (b *Bin) IsEmpty(isX bool) bool {
	if isX {
		return b.amountX == 0
	}
	return b.amountY == 0
}

// GetMaxAmountOut returns the most a swap in the given direction could
// possibly drain from this bin.
func (b *Bin) GetMaxAmountOut(swapForY bool) uint64 {
	if swapForY {
		return b.amountY
	}
	return b.amountX
}

// GetOrStoreBinPrice computes (and caches) this bin's fixed-point price
// from its position in the DLMM's geometric bin ladder.
func (b *Bin) GetOrStoreBinPrice(activeID int32, binStep uint16) (uint128.Uint128, error) {
	if !b.price.IsZero() {
		return b.price, nil
	}
	p := binIDToPriceScaled(activeID, binStep)
	if !p.IsUint64() && p.BitLen() > 128 {
		return uint128.Zero, fmt.Errorf("price exceeds uint128 range")
	}
	b.price = uint128.FromBig(p)
	return b.price, nil
}

// GetMaxAmountIn returns the most input this bin could absorb before its
// output side is drained, at the given price.
func (b *Bin) GetMaxAmountIn(price uint128.Uint128, swapForY bool) (*big.Int, error) {
	scale := big.NewInt(priceScale)
	priceBig := price.Big()
	if priceBig.Sign() == 0 {
		return nil, fmt.Errorf("zero bin price")
	}
	if swapForY {
		// X in, Y out: X = Y * scale / price
		out := new(big.Int).SetUint64(b.amountY)
		out.Mul(out, scale)
		out.Div(out, priceBig)
		return out, nil
	}
	// Y in, X out: Y = X * price / scale
	out := new(big.Int).SetUint64(b.amountX)
	out.Mul(out, priceBig)
	out.Div(out, scale)
	return out, nil
}

// GetAmountOut computes the output amount for a given (fee-free) input
// amount at the bin's price, capped by neither side here (the caller caps
// against GetMaxAmountOut).
func (b *Bin) GetAmountOut(amountIn uint64, price uint128.Uint128, swapForY bool) (*big.Int, error) {
	scale := big.NewInt(priceScale)
	priceBig := price.Big()
	in := new(big.Int).SetUint64(amountIn)
	if swapForY {
		// X in, Y out: Y = X * price / scale
		in.Mul(in, priceBig)
		in.Div(in, scale)
		return in, nil
	}
	// Y in, X out: X = Y * scale / price
	if priceBig.Sign() == 0 {
		return nil, fmt.Errorf("zero bin price")
	}
	in.Mul(in, scale)
	in.Div(in, priceBig)
	return in, nil
}

// binIDToPriceScaled computes (1+binStep/10000)^binID as a priceScale
// fixed-point big.Int, matching the data model's pricing law.
func binIDToPriceScaled(binID int32, binStep uint16) *big.Int {
	base := new(big.Rat).SetFrac64(10_000+int64(binStep), 10_000)
	result := new(big.Rat).SetInt64(1)

	exp := binID
	invert := exp < 0
	if invert {
		exp = -exp
	}
	b := new(big.Rat).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, b)
		}
		b.Mul(b, b)
		exp >>= 1
	}
	if invert {
		result.Inv(result)
	}

	result.Mul(result, new(big.Rat).SetInt64(priceScale))
	scaled := new(big.Int).Quo(result.Num(), result.Denom())
	return scaled
}

// PriceToBin and BinToPrice implement the round-trip law from the
// testable properties: priceToBin(binToPrice(b)) == b for every bin
// within the supported range, given the same bin_step/decimals.
func BinToPrice(binID int32, binStep uint16, decX, decY uint8) *big.Rat {
	base := new(big.Rat).SetFrac64(10_000+int64(binStep), 10_000)
	price := new(big.Rat).SetInt64(1)
	exp := binID
	invert := exp < 0
	if invert {
		exp = -exp
	}
	b := new(big.Rat).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			price.Mul(price, b)
		}
		b.Mul(b, b)
		exp >>= 1
	}
	if invert {
		price.Inv(price)
	}
	decimalAdj := new(big.Rat).SetFrac(
		pow10(decX),
		pow10(decY),
	)
	price.Mul(price, decimalAdj)
	return price
}

// PriceToBin inverts BinToPrice via binary search over the valid bin
// range, since the forward map is strictly monotonic in binID.
func PriceToBin(price *big.Rat, binStep uint16, decX, decY uint8) int32 {
	lo, hi := int32(MinBinID), int32(MaxBinID)
	for lo < hi {
		mid := lo + (hi-lo)/2
		midPrice := BinToPrice(mid, binStep, decX, decY)
		if midPrice.Cmp(price) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
