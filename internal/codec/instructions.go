package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/binfarm/keeper/pkg/anchor"
)

// rawInstruction is a minimal solana.Instruction built directly from a
// program id, account list and pre-serialized data, without the
// BaseVariant indirection since every builder here is a fixed,
// non-polymorphic instruction.
type rawInstruction struct {
	program solana.PublicKey
	keys    []*solana.AccountMeta
	data    []byte
}

func (r *rawInstruction) ProgramID() solana.PublicKey      { return r.program }
func (r *rawInstruction) Accounts() []*solana.AccountMeta   { return r.keys }
func (r *rawInstruction) Data() ([]byte, error)             { return r.data, nil }

// discriminator computes the first 8 bytes of sha256("global:<name>"),
// the anchor instruction-discriminator convention (pkg/anchor/anchor.go).
func discriminator(name string) []byte {
	return anchor.GetDiscriminator("global", name)
}

func encodeBins(binIDs []int32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(binIDs))); err != nil {
		return nil, err
	}
	for _, b := range binIDs {
		if err := binary.Write(buf, binary.LittleEndian, b); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// HarvestBinsAccounts lists the accounts the wrapper's harvest_bins
// instruction needs. BitmapExtension must hold the DLMM program id (not
// the zero key) when the pool has no bitmap extension, per spec 4.A/6.
type HarvestBinsAccounts struct {
	Position          solana.PublicKey
	Pool              solana.PublicKey
	LiquidityPosition solana.PublicKey
	Vault             solana.PublicKey
	Owner             solana.PublicKey
	Caller            solana.PublicKey // payer; equals Owner for the keeper path, external signer for the crank
	ReserveX          solana.PublicKey
	ReserveY          solana.PublicKey
	RoverVault        solana.PublicKey
	BitmapExtension   solana.PublicKey
	BinArrays         []solana.PublicKey
	DLMMProgram       solana.PublicKey
	EventAuthority    solana.PublicKey
	TokenProgramX     solana.PublicKey
	TokenProgramY     solana.PublicKey
}

// HarvestBinsArgs is harvest_bins' instruction argument: the exact set of
// bin ids to withdraw, all on the safe side of the position and capped at
// MaxRangeWidth per spec invariant.
type HarvestBinsArgs struct {
	BinIDs []int32
}

// BuildHarvestBins builds the harvest_bins instruction: withdraw realized
// liquidity from the given bins, route the protocol fee to the rover, and
// return principal to Owner.
func BuildHarvestBins(program solana.PublicKey, a HarvestBinsAccounts, args HarvestBinsArgs) (solana.Instruction, error) {
	if len(args.BinIDs) == 0 {
		return nil, fmt.Errorf("harvest_bins: no bin ids supplied")
	}
	if len(args.BinIDs) > MaxRangeWidth {
		return nil, fmt.Errorf("harvest_bins: %d bin ids exceeds hard cap %d", len(args.BinIDs), MaxRangeWidth)
	}

	keys := []*solana.AccountMeta{
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(a.Pool, true, false),
		solana.NewAccountMeta(a.LiquidityPosition, true, false),
		solana.NewAccountMeta(a.Vault, true, false),
		solana.NewAccountMeta(a.Owner, false, false),
		solana.NewAccountMeta(a.Caller, true, true),
		solana.NewAccountMeta(a.ReserveX, true, false),
		solana.NewAccountMeta(a.ReserveY, true, false),
		solana.NewAccountMeta(a.RoverVault, true, false),
		solana.NewAccountMeta(a.BitmapExtension, false, false),
		solana.NewAccountMeta(a.DLMMProgram, false, false),
		solana.NewAccountMeta(a.EventAuthority, false, false),
		solana.NewAccountMeta(a.TokenProgramX, false, false),
		solana.NewAccountMeta(a.TokenProgramY, false, false),
		solana.NewAccountMeta(program, false, false),
	}
	for _, ba := range a.BinArrays {
		keys = append(keys, solana.NewAccountMeta(ba, true, false))
	}

	data := discriminator("harvest_bins")
	argBytes, err := encodeBins(args.BinIDs)
	if err != nil {
		return nil, fmt.Errorf("encode harvest_bins args: %w", err)
	}
	data = append(data, argBytes...)

	return &rawInstruction{program: program, keys: keys, data: data}, nil
}

// OpenPositionAccounts lists the accounts open_position needs.
type OpenPositionAccounts struct {
	Position          solana.PublicKey
	Pool              solana.PublicKey
	LiquidityPosition solana.PublicKey // signer, created fresh for the open
	Vault             solana.PublicKey
	Owner             solana.PublicKey
	OwnerTokenAccount  solana.PublicKey
	DLMMProgram       solana.PublicKey
	TokenProgram      solana.PublicKey
	SystemProgram     solana.PublicKey
}

// OpenPositionArgs is open_position's instruction argument.
type OpenPositionArgs struct {
	Side    Side
	MinBin  int32
	MaxBin  int32
	Deposit uint64
}

// BuildOpenPosition builds the open_position instruction. The caller must
// have already validated ValidateOpen against the pool's current active
// bin -- the wrapper program enforces the same invariant on-chain, and a
// mismatch here is always rejected before submission (spec scenario 5).
func BuildOpenPosition(program solana.PublicKey, a OpenPositionAccounts, args OpenPositionArgs) (solana.Instruction, error) {
	width := args.MaxBin - args.MinBin + 1
	if args.MinBin > args.MaxBin {
		return nil, fmt.Errorf("open_position: min_bin %d > max_bin %d", args.MinBin, args.MaxBin)
	}
	if width > MaxRangeWidth {
		return nil, fmt.Errorf("open_position: range width %d exceeds max %d", width, MaxRangeWidth)
	}

	keys := []*solana.AccountMeta{
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(a.Pool, false, false),
		solana.NewAccountMeta(a.LiquidityPosition, true, true),
		solana.NewAccountMeta(a.Vault, true, false),
		solana.NewAccountMeta(a.Owner, true, true),
		solana.NewAccountMeta(a.OwnerTokenAccount, true, false),
		solana.NewAccountMeta(a.DLMMProgram, false, false),
		solana.NewAccountMeta(a.TokenProgram, false, false),
		solana.NewAccountMeta(a.SystemProgram, false, false),
	}

	buf := new(bytes.Buffer)
	buf.Write(discriminator("open_position"))
	buf.WriteByte(byte(args.Side))
	binary.Write(buf, binary.LittleEndian, args.MinBin)
	binary.Write(buf, binary.LittleEndian, args.MaxBin)
	binary.Write(buf, binary.LittleEndian, args.Deposit)

	return &rawInstruction{program: program, keys: keys, data: buf.Bytes()}, nil
}

// ClosePositionAccounts lists the accounts close_position needs.
type ClosePositionAccounts struct {
	Position          solana.PublicKey
	LiquidityPosition solana.PublicKey
	Vault             solana.PublicKey
	Owner             solana.PublicKey
	OwnerTokenAccount solana.PublicKey
	TokenProgram      solana.PublicKey
}

// BuildClosePosition builds the close_position instruction.
func BuildClosePosition(program solana.PublicKey, a ClosePositionAccounts) (solana.Instruction, error) {
	keys := []*solana.AccountMeta{
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(a.LiquidityPosition, true, false),
		solana.NewAccountMeta(a.Vault, true, false),
		solana.NewAccountMeta(a.Owner, true, true),
		solana.NewAccountMeta(a.OwnerTokenAccount, true, false),
		solana.NewAccountMeta(a.TokenProgram, false, false),
	}
	return &rawInstruction{program: program, keys: keys, data: discriminator("close_position")}, nil
}

// SweepRoverAccounts lists the accounts sweep_rover needs.
type SweepRoverAccounts struct {
	RoverAuthority     solana.PublicKey
	RoverAccount       solana.PublicKey
	RevenueDestination solana.PublicKey
	KeeperAccount      solana.PublicKey
	Caller             solana.PublicKey
	SystemProgram      solana.PublicKey
}

// BuildSweepRover builds sweep_rover: move rover SOL to its recorded
// revenue destination minus a rent-exempt minimum, with a configured
// share to the keeper account.
func BuildSweepRover(program solana.PublicKey, a SweepRoverAccounts) (solana.Instruction, error) {
	keys := []*solana.AccountMeta{
		solana.NewAccountMeta(a.RoverAuthority, false, false),
		solana.NewAccountMeta(a.RoverAccount, true, false),
		solana.NewAccountMeta(a.RevenueDestination, true, false),
		solana.NewAccountMeta(a.KeeperAccount, true, false),
		solana.NewAccountMeta(a.Caller, true, true),
		solana.NewAccountMeta(a.SystemProgram, false, false),
	}
	return &rawInstruction{program: program, keys: keys, data: discriminator("sweep_rover")}, nil
}

// DepositSolAccounts lists the accounts deposit_sol needs.
type DepositSolAccounts struct {
	DistributionPool solana.PublicKey
	ProgramVault     solana.PublicKey
	MonkeState       solana.PublicKey
	SourceAccount    solana.PublicKey
	Caller           solana.PublicKey
	SystemProgram    solana.PublicKey
}

// BuildDepositSol builds deposit_sol: move distribution-pool SOL into the
// program vault and advance the per-share accumulator.
func BuildDepositSol(distributionProgram solana.PublicKey, a DepositSolAccounts, amount uint64) (solana.Instruction, error) {
	keys := []*solana.AccountMeta{
		solana.NewAccountMeta(a.DistributionPool, true, false),
		solana.NewAccountMeta(a.ProgramVault, true, false),
		solana.NewAccountMeta(a.MonkeState, true, false),
		solana.NewAccountMeta(a.SourceAccount, true, false),
		solana.NewAccountMeta(a.Caller, true, true),
		solana.NewAccountMeta(a.SystemProgram, false, false),
	}
	data := discriminator("deposit_sol")
	amtBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(amtBuf, amount)
	data = append(data, amtBuf...)
	return &rawInstruction{program: distributionProgram, keys: keys, data: data}, nil
}

// UnwrapWsolAccounts lists the accounts unwrap_wsol needs.
type UnwrapWsolAccounts struct {
	RoverAuthority solana.PublicKey
	WsolAccount    solana.PublicKey
	Destination    solana.PublicKey
	Caller         solana.PublicKey
	TokenProgram   solana.PublicKey
}

// BuildUnwrapWsol builds unwrap_wsol, Saturday Keeper step 1.
func BuildUnwrapWsol(program solana.PublicKey, a UnwrapWsolAccounts) (solana.Instruction, error) {
	keys := []*solana.AccountMeta{
		solana.NewAccountMeta(a.RoverAuthority, false, false),
		solana.NewAccountMeta(a.WsolAccount, true, false),
		solana.NewAccountMeta(a.Destination, true, false),
		solana.NewAccountMeta(a.Caller, true, true),
		solana.NewAccountMeta(a.TokenProgram, false, false),
	}
	return &rawInstruction{program: program, keys: keys, data: discriminator("unwrap_wsol")}, nil
}

// FeeRoverAccounts lists the accounts shared by open_fee_rover and
// close_fee_rover.
type FeeRoverAccounts struct {
	Position          solana.PublicKey
	Pool              solana.PublicKey
	LiquidityPosition solana.PublicKey
	Vault             solana.PublicKey
	RoverAuthority    solana.PublicKey
	Caller            solana.PublicKey
	DLMMProgram       solana.PublicKey
	TokenProgram      solana.PublicKey
	SystemProgram     solana.PublicKey
}

// FeeRoverWidth implements the protocol-given formula for a fee-rover
// position's bin-range width (spec section 9, Open Question: treated as
// protocol-given, not derived here).
func FeeRoverWidth(binStep uint16) int32 {
	w := int32(6931 / int(binStep))
	if w < 1 {
		w = 1
	}
	if w > MaxRangeWidth {
		w = MaxRangeWidth
	}
	return w
}

// BuildOpenFeeRover builds open_fee_rover: recycle a non-SOL fee token
// back into the pool via a freshly opened rover-owned position.
func BuildOpenFeeRover(program solana.PublicKey, a FeeRoverAccounts, minBin, maxBin int32, deposit uint64) (solana.Instruction, error) {
	keys := []*solana.AccountMeta{
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(a.Pool, false, false),
		solana.NewAccountMeta(a.LiquidityPosition, true, true),
		solana.NewAccountMeta(a.Vault, true, false),
		solana.NewAccountMeta(a.RoverAuthority, true, true),
		solana.NewAccountMeta(a.Caller, true, true),
		solana.NewAccountMeta(a.DLMMProgram, false, false),
		solana.NewAccountMeta(a.TokenProgram, false, false),
		solana.NewAccountMeta(a.SystemProgram, false, false),
	}
	buf := new(bytes.Buffer)
	buf.Write(discriminator("open_fee_rover"))
	binary.Write(buf, binary.LittleEndian, minBin)
	binary.Write(buf, binary.LittleEndian, maxBin)
	binary.Write(buf, binary.LittleEndian, deposit)
	return &rawInstruction{program: program, keys: keys, data: buf.Bytes()}, nil
}

// BuildCloseFeeRover builds close_fee_rover, Saturday Keeper's cleanup
// step for now-empty fee-rover positions.
func BuildCloseFeeRover(program solana.PublicKey, a FeeRoverAccounts) (solana.Instruction, error) {
	keys := []*solana.AccountMeta{
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(a.LiquidityPosition, true, false),
		solana.NewAccountMeta(a.Vault, true, false),
		solana.NewAccountMeta(a.RoverAuthority, true, true),
		solana.NewAccountMeta(a.Caller, true, true),
		solana.NewAccountMeta(a.TokenProgram, false, false),
	}
	return &rawInstruction{program: program, keys: keys, data: discriminator("close_fee_rover")}, nil
}
