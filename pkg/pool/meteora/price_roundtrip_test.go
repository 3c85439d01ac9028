package meteora

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinPriceRoundTrip(t *testing.T) {
	cases := []struct {
		binID   int32
		binStep uint16
	}{
		{0, 25},
		{5000, 25},
		{-5000, 25},
		{100, 100},
		{-100, 1},
		{MaxBinID, 10},
		{MinBinID, 10},
	}

	for _, c := range cases {
		price := BinToPrice(c.binID, c.binStep, 0, 0)
		got := PriceToBin(price, c.binStep, 0, 0)
		require.Equal(t, c.binID, got, "round trip failed for binID=%d binStep=%d", c.binID, c.binStep)
	}
}

func TestBinToPriceMonotonic(t *testing.T) {
	a := BinToPrice(100, 25, 0, 0)
	b := BinToPrice(101, 25, 0, 0)
	require.Equal(t, -1, a.Cmp(b))
}
