package offload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSettings(seed uint32) RSSSettings {
	return RSSSettings{HashType: 1, HashFunc: 1, IndirTable: []uint32{seed, seed + 1}}
}

func TestFreshManagerPassesThrough(t *testing.T) {
	m := New()
	assert.False(t, m.Diverged())
	assert.False(t, m.ClearHashOOB())
}

func TestSetUpperWithoutLowerMirrorsToLower(t *testing.T) {
	m := New()
	m.SetUpper(sampleSettings(1))

	upper, ok := m.Upper()
	require.True(t, ok)
	lower, ok := m.Lower()
	require.True(t, ok)
	assert.Equal(t, upper, lower)
	assert.False(t, m.Diverged())
}

func TestSetLowerIndependentlyDiverges(t *testing.T) {
	m := New()
	m.SetUpper(sampleSettings(1))
	m.SetLower(sampleSettings(2))

	assert.True(t, m.Diverged())
	assert.True(t, m.ClearHashOOB())
}

func TestApplyUpperSetPassesThroughWhenNotDiverged(t *testing.T) {
	m := New()
	passThrough := m.ApplyUpperSet(sampleSettings(1))
	assert.True(t, passThrough)

	lower, ok := m.Lower()
	require.True(t, ok)
	assert.Equal(t, sampleSettings(1), lower)
}

func TestApplyUpperSetCompletesLocallyWhenDiverged(t *testing.T) {
	m := New()
	m.SetUpper(sampleSettings(1))
	m.SetLower(sampleSettings(2))

	passThrough := m.ApplyUpperSet(sampleSettings(3))
	assert.False(t, passThrough, "a diverged lower edge must not be overwritten by an upstream OID")

	lower, ok := m.Lower()
	require.True(t, ok)
	assert.Equal(t, sampleSettings(2), lower, "lower edge is unchanged by the locally-completed OID")

	upper, ok := m.Upper()
	require.True(t, ok)
	assert.Equal(t, sampleSettings(3), upper, "the stack's belief still updates even though the NIC doesn't hear about it")
}

func TestQueryUpperAlwaysReturnsUpperRegardlessOfDivergence(t *testing.T) {
	m := New()
	m.SetUpper(sampleSettings(1))
	m.SetLower(sampleSettings(2))

	got, ok := m.QueryUpper()
	require.True(t, ok)
	assert.Equal(t, sampleSettings(1), got)
}

func TestProbeQEOAlwaysUnsupported(t *testing.T) {
	err := ProbeQEO()
	assert.ErrorIs(t, err, ErrNotSupported)
}
