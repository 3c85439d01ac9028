package meteora

import (
	"github.com/gagliardetto/solana-go"
	"github.com/binfarm/keeper/pkg/anchor"
)

// MeteoraProgramID is the DLMM program address on mainnet-beta.
var MeteoraProgramID = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")

// MemoProgramID is the SPL memo program, passed as a read-only account in
// the swap2 instruction's account list.
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// Swap2IxDiscm is the anchor discriminator for the "swap2" instruction.
var Swap2IxDiscm = anchorDiscm("swap2")

func anchorDiscm(name string) [8]byte {
	var out [8]byte
	copy(out[:], anchor.GetDiscriminator("global", name))
	return out
}

const (
	// FeePrecision is the fixed-point denominator fee rates are expressed
	// in (see ComputeFee / ComputeFeeFromAmount).
	FeePrecision = 1_000_000_000
	// BasisPointMax is the basis-point denominator (100% = 10_000).
	BasisPointMax = 10_000
	// MaxFeeRate caps total fee rate at 10% of FeePrecision.
	MaxFeeRate = FeePrecision / 10

	// MinBinID and MaxBinID bound the DLMM's addressable bin space.
	MinBinID = -443_636
	MaxBinID = 443_636
)

// PairStatus mirrors the on-chain lb_pair.status enum.
type PairStatus uint8

const (
	PairStatusDisabled PairStatus = iota
	PairStatusEnabled
)

// PairType mirrors the on-chain lb_pair.pair_type enum.
type PairType uint8

const (
	PairTypePermissionless PairType = iota
	PairTypePermission
)

// ActivationType mirrors the on-chain lb_pair.activation_type enum.
type ActivationType uint8

const (
	ActivationTypeSlot ActivationType = iota
	ActivationTypeTimestamp
)

// binArraySize is the number of bins packed into a single BinArray account.
const binArraySize = 70
