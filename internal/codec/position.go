// Package codec implements the wrapper program's wire protocol: account
// decode at fixed offsets, PDA derivation with the program's fixed seed
// strings, and instruction builders. Nothing here performs I/O -- every
// function is a pure transform over bytes the caller already fetched.
package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Side mirrors the wrapper position's side enum.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// PositionSize is the exact byte length of a wrapper position account,
// per spec section 4.A.
const PositionSize = 138

// Position is the decoded wrapper-program position account.
type Position struct {
	Owner               solana.PublicKey
	Pool                solana.PublicKey
	LiquidityPosition   solana.PublicKey
	Side                Side
	MinBin              int32
	MaxBin              int32
	InitialDeposit      uint64
	CumulativeHarvested uint64
	CreatedAt           time.Time
	Bump                uint8

	// Key is the position PDA this account lives at; set by the caller
	// after fetching, since the account itself never stores its own key.
	Key solana.PublicKey
}

// MaxRangeWidth is the inclusive bin-range width cap the wrapper program
// enforces at open time.
const MaxRangeWidth = 70

// DecodePosition parses a wrapper position account's raw data.
func DecodePosition(data []byte) (*Position, error) {
	if len(data) != PositionSize {
		return nil, DecodeFailed("position", PositionSize, len(data))
	}
	off := 8 // discriminator
	p := &Position{}

	copy(p.Owner[:], data[off:off+32])
	off += 32
	copy(p.Pool[:], data[off:off+32])
	off += 32
	copy(p.LiquidityPosition[:], data[off:off+32])
	off += 32

	p.Side = Side(data[off])
	off++

	p.MinBin = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	p.MaxBin = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4

	p.InitialDeposit = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	p.CumulativeHarvested = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8

	createdAtUnix := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	p.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	off += 8

	p.Bump = data[off]
	off++

	if off != PositionSize {
		return nil, fmt.Errorf("decode position: consumed %d bytes, want %d", off, PositionSize)
	}
	if p.MinBin > p.MaxBin {
		return nil, fmt.Errorf("decode position: min_bin %d > max_bin %d", p.MinBin, p.MaxBin)
	}
	if p.MaxBin-p.MinBin+1 > MaxRangeWidth {
		return nil, fmt.Errorf("decode position: range width %d exceeds max %d", p.MaxBin-p.MinBin+1, MaxRangeWidth)
	}
	return p, nil
}

// Width returns the inclusive bin-range width of the position.
func (p *Position) Width() int32 {
	return p.MaxBin - p.MinBin + 1
}

// ValidateOpen checks the invariant the wrapper program enforces at open
// time: Buy ranges must sit entirely below the active bin, Sell ranges
// entirely above it.
func (p *Position) ValidateOpen(activeBinID int32) error {
	switch p.Side {
	case SideBuy:
		if p.MaxBin >= activeBinID {
			return fmt.Errorf("buy position max_bin %d must be < active_bin %d", p.MaxBin, activeBinID)
		}
	case SideSell:
		if p.MinBin <= activeBinID {
			return fmt.Errorf("sell position min_bin %d must be > active_bin %d", p.MinBin, activeBinID)
		}
	default:
		return fmt.Errorf("unknown position side %d", p.Side)
	}
	return nil
}

// SafeBinCount returns the number of bins in [MinBin, MaxBin] that sit on
// the harvestable side of activeBinID: strictly below for Sell, strictly
// above for Buy.
func (p *Position) SafeBinCount(activeBinID int32) int {
	return len(p.SafeBins(activeBinID, MaxRangeWidth))
}

// SafeBins returns the harvestable bin ids, capped at maxCount and
// ordered monotonic-fill: lowest bin first for Buy, highest first for
// Sell, matching the scheduler's tie-break rule.
func (p *Position) SafeBins(activeBinID int32, maxCount int) []int32 {
	var bins []int32
	switch p.Side {
	case SideBuy:
		// Lowest bin first.
		for b := p.MinBin; b <= p.MaxBin; b++ {
			if b > activeBinID {
				bins = append(bins, b)
			}
		}
	case SideSell:
		// Highest bin first.
		for b := p.MaxBin; b >= p.MinBin; b-- {
			if b < activeBinID {
				bins = append(bins, b)
			}
		}
	}
	if len(bins) > maxCount {
		bins = bins[:maxCount]
	}
	return bins
}
