package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPendingClaim(t *testing.T) {
	// shareWeight * accumulator / 1e12 - rewardDebt
	pending := PendingClaim(1_000, 5_000_000_000_000, 2_000)
	require.EqualValues(t, 3_000, pending)
}

func TestPendingClaimClampedAtZero(t *testing.T) {
	pending := PendingClaim(1_000, 1_000_000_000_000, 5_000)
	require.EqualValues(t, 0, pending)
}

func TestDecodeMonkeStateWrongSize(t *testing.T) {
	_, err := DecodeMonkeState(make([]byte, MonkeStateSize-1))
	require.Error(t, err)
}
