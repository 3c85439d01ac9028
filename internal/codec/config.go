package codec

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// WrapperConfig is the wrapper program's singleton config account. It is
// at least 138 bytes; only the fields the keeper cares about are decoded,
// trailing bytes are left unparsed (future fields, per spec 4.A).
type WrapperConfig struct {
	Admin          solana.PublicKey
	RoverAuthority solana.PublicKey
	FeeBps         uint16
	Bump           uint8
}

// MinConfigSize is the minimum size the config account must satisfy.
const MinConfigSize = 138

// DecodeWrapperConfig decodes the leading, keeper-relevant fields of the
// config account.
func DecodeWrapperConfig(data []byte) (*WrapperConfig, error) {
	if len(data) < MinConfigSize {
		return nil, DecodeFailed("config", MinConfigSize, len(data))
	}
	off := 8
	cfg := &WrapperConfig{}
	copy(cfg.Admin[:], data[off:off+32])
	off += 32
	copy(cfg.RoverAuthority[:], data[off:off+32])
	off += 32
	cfg.FeeBps = binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	cfg.Bump = data[off]
	return cfg, nil
}

// MonkeState is the NFT-weighted distribution accumulator: pending claim
// for a holder is share_weight * accumulator / 10^12 - reward_debt (see
// GLOSSARY).
type MonkeState struct {
	AccumulatedSolPerShare uint64 // scaled by 10^12
	TotalShareWeight       uint64
	LastDepositSlot        uint64
}

// MonkeStateSize is the exact size of the monke-state account.
const MonkeStateSize = 8 + 8 + 8 + 8

// DecodeMonkeState decodes the distribution accumulator account.
func DecodeMonkeState(data []byte) (*MonkeState, error) {
	if len(data) != MonkeStateSize {
		return nil, DecodeFailed("monke_state", MonkeStateSize, len(data))
	}
	off := 8
	ms := &MonkeState{}
	ms.AccumulatedSolPerShare = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	ms.TotalShareWeight = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	ms.LastDepositSlot = binary.LittleEndian.Uint64(data[off : off+8])
	return ms, nil
}

// AccumulatorScale is the fixed-point scale accumulated_sol_per_share is
// stored in.
const AccumulatorScale = 1_000_000_000_000 // 10^12

// PendingClaim computes a holder's pro-rata pending SOL claim.
func PendingClaim(shareWeight, accumulator, rewardDebt uint64) uint64 {
	pending := (shareWeight * accumulator) / AccumulatorScale
	if pending < rewardDebt {
		return 0
	}
	return pending - rewardDebt
}
