package codec

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// metaplexTokenMetadataProgram is the fixed Metaplex Token Metadata
// program id the "metadata" PDA seed is derived against (external to the
// wrapper program, but required to build the metadata account for any
// position-NFT mint the wrapper mints).
var metaplexTokenMetadataProgram = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// DeriveConfigPDA derives the wrapper program's singleton config account,
// seed "config".
func DeriveConfigPDA(program solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("config")}, program)
}

// DerivePositionPDA derives a wrapper position account, seed
// "position|<posKey>" where posKey is the embedded liquidity-position
// address (the signer used at open time).
func DerivePositionPDA(program, posKey solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("position"), posKey[:]}, program)
}

// DeriveVaultPDA derives a position's token vault, seed "vault|<posKey>".
func DeriveVaultPDA(program, posKey solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault"), posKey[:]}, program)
}

// DeriveRoverAuthorityPDA derives the rover's signing authority, seed
// "rover_authority".
func DeriveRoverAuthorityPDA(program solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("rover_authority")}, program)
}

// DeriveMonkeStatePDA derives the NFT-weighted holder accumulator state,
// seed "monke_state".
func DeriveMonkeStatePDA(program solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("monke_state")}, program)
}

// DeriveDistPoolPDA derives the distribution pool account, seed
// "dist_pool", owned by the distribution program rather than the core
// wrapper program.
func DeriveDistPoolPDA(distributionProgram solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("dist_pool")}, distributionProgram)
}

// DeriveProgramVaultPDA derives the distribution program's SOL vault,
// seed "program_vault".
func DeriveProgramVaultPDA(distributionProgram solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("program_vault")}, distributionProgram)
}

// DeriveEventAuthorityPDA derives the wrapper program's own anchor
// self-CPI event authority, seed "__event_authority".
func DeriveEventAuthorityPDA(program solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("__event_authority")}, program)
}

// DeriveMetadataPDA derives a position-NFT's Metaplex metadata account,
// seed "metadata|<metaplex>|<mint>" under the Metaplex program itself.
func DeriveMetadataPDA(mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{[]byte("metadata"), metaplexTokenMetadataProgram[:], mint[:]},
		metaplexTokenMetadataProgram,
	)
}

// DeriveBinArrayPDA derives a DLMM bin-array account for (lbPair, index),
// seed "bin_array|<lbPair>|<i64 LE index>" under the DLMM program --
// a codec-local implementation of the same derivation as
// meteora.DeriveBinArrayPDA, so codec consumers don't need to import the
// meteora pool package just to resolve CPI accounts.
func DeriveBinArrayPDA(dlmmProgram, lbPair solana.PublicKey, index int64) (solana.PublicKey, uint8, error) {
	var idxBytes [8]byte
	binary.LittleEndian.PutUint64(idxBytes[:], uint64(index))
	return solana.FindProgramAddress(
		[][]byte{[]byte("bin_array"), lbPair[:], idxBytes[:]},
		dlmmProgram,
	)
}

// DeriveBitmapExtensionPDA derives the optional bin-array bitmap
// extension account for a pool, seed "bitmap|<lbPair>".
func DeriveBitmapExtensionPDA(dlmmProgram, lbPair solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("bitmap"), lbPair[:]}, dlmmProgram)
}
