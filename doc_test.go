package rmtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProdIndexPrecedesWraps(t *testing.T) {
	var max ProdIndex = 0xFFFFFFFF
	require.True(t, max.Precedes(0))
	require.False(t, ProdIndex(0).Precedes(max))
}

func TestProdIndexBetween(t *testing.T) {
	require.True(t, Between(0, 5, 3))
	require.False(t, Between(0, 5, 5))
	require.False(t, Between(0, 5, 0))
	require.False(t, Between(5, 5, 5))
}

func TestProdIndexBetweenWraps(t *testing.T) {
	var lo ProdIndex = 0xFFFFFFF0
	var hi ProdIndex = 5
	require.True(t, Between(lo, hi, 0xFFFFFFFF))
	require.True(t, Between(lo, hi, 2))
	require.False(t, Between(lo, hi, 6))
}

func TestNumBlocks(t *testing.T) {
	require.Equal(t, uint32(0), NumBlocks(0))
	require.Equal(t, uint32(1), NumBlocks(1))
	require.Equal(t, uint32(1), NumBlocks(DataLen))
	require.Equal(t, uint32(2), NumBlocks(DataLen+1))
}

func TestBlockIndexAndAlignDown(t *testing.T) {
	require.Equal(t, uint32(0), BlockIndex(0))
	require.Equal(t, uint32(1), BlockIndex(DataLen))
	require.Equal(t, uint32(0), AlignDown(DataLen-1))
	require.Equal(t, uint32(DataLen), AlignDown(DataLen))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 1, cfg.MulticastTTL)
	require.Equal(t, "0.0.0.0", cfg.IfaceAddr)
}
