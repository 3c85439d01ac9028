package keepererr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassOfDefaultsToFatalForUntaggedErrors(t *testing.T) {
	require.Equal(t, ClassFatal, ClassOf(errors.New("boom")))
}

func TestClassOfRoundTrips(t *testing.T) {
	err := Transient("rpc.timeout", errors.New("deadline exceeded"))
	require.Equal(t, ClassTransient, ClassOf(err))
	require.True(t, IsClass(err, ClassTransient))
	require.False(t, IsClass(err, ClassFatal))
}

func TestClassifyLogMatchesKnownMarkers(t *testing.T) {
	require.Equal(t, "NothingToSweep", ClassifyLog([]string{"Program log: Error: NothingToSweep"}))
	require.Equal(t, "", ClassifyLog([]string{"Program log: Error: InsufficientFunds"}))
}

func TestErrorIsSupportsClassSentinel(t *testing.T) {
	err := Benign("registry.pool_not_found", nil)
	require.True(t, errors.Is(err, New(ClassBenign, "", nil)))
	require.False(t, errors.Is(err, New(ClassFatal, "", nil)))
}
