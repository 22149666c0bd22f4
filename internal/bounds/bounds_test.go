package bounds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bpfverify/internal/tnum"
)

func TestConstBoundsCollapse(t *testing.T) {
	b := ConstBounds(7)
	assert.True(t, b.IsConst())
}

func TestSyncTightensFromConstTnum(t *testing.T) {
	b, off := Sync(Unbounded, tnum.Const(100))
	assert.Equal(t, uint64(100), b.U64Min)
	assert.Equal(t, uint64(100), b.U64Max)
	assert.True(t, off.IsConst())
}

func TestContainsIsReflexiveAndAntisymmetricish(t *testing.T) {
	b := ConstBounds(5)
	require.True(t, Contains(b, b))
	assert.True(t, Contains(Unbounded, b))
	assert.False(t, Contains(b, Unbounded))
}

func TestSyncInfersUnsignedFromNonNegativeSigned(t *testing.T) {
	b := Unbounded
	b.S64Min = 5
	b.S64Max = 10
	b, _ = Sync(b, tnum.Unknown)
	assert.Equal(t, uint64(5), b.U64Min)
	assert.Equal(t, uint64(10), b.U64Max)
}
