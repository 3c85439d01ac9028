package codec

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestPDADerivationsAreDeterministicAndOffCurve(t *testing.T) {
	program := solana.NewWallet().PublicKey()

	config1, bump1, err := DeriveConfigPDA(program)
	require.NoError(t, err)
	config2, bump2, err := DeriveConfigPDA(program)
	require.NoError(t, err)
	require.Equal(t, config1, config2)
	require.Equal(t, bump1, bump2)
	require.False(t, config1.IsOnCurve())
}

func TestDerivePositionPDADependsOnPosKey(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	posA := solana.NewWallet().PublicKey()
	posB := solana.NewWallet().PublicKey()

	a, _, err := DerivePositionPDA(program, posA)
	require.NoError(t, err)
	b, _, err := DerivePositionPDA(program, posB)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestDeriveBinArrayPDADependsOnIndex(t *testing.T) {
	dlmmProgram := solana.NewWallet().PublicKey()
	lbPair := solana.NewWallet().PublicKey()

	a, _, err := DeriveBinArrayPDA(dlmmProgram, lbPair, 0)
	require.NoError(t, err)
	b, _, err := DeriveBinArrayPDA(dlmmProgram, lbPair, 1)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
