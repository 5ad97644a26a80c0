package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newleaf-app/quota/types"
)

func TestDefaultCatalogTiers(t *testing.T) {
	cat := DefaultCatalog()

	assert.Equal(t, []Tier{TierFree, TierBasic, TierAdvanced, TierProfessional, TierUnlimited}, cat.Tiers())
	assert.Equal(t, 5, cat.Len())
}

func TestDefaultCatalogLimits(t *testing.T) {
	cat := DefaultCatalog()

	free, ok := cat.Get(TierFree)
	require.True(t, ok)
	assert.True(t, free.Denies(DimensionTokens), "free tier has no token budget")
	assert.True(t, free.IsUnlimited(DimensionFreeFeatures))

	basic, ok := cat.Get(TierBasic)
	require.True(t, ok)
	assert.Equal(t, int64(50_000), basic.Limit(DimensionTokens))

	unlimited, ok := cat.Get(TierUnlimited)
	require.True(t, ok)
	for _, d := range Dimensions() {
		assert.True(t, unlimited.IsUnlimited(d), "unlimited tier caps %s", d)
	}
}

func TestCatalogGetUnknownTier(t *testing.T) {
	cat, err := NewCatalog()
	require.NoError(t, err)

	_, ok := cat.Get(TierBasic)
	assert.False(t, ok)
}

func TestCatalogGetReturnsCopies(t *testing.T) {
	cat := DefaultCatalog()

	first, ok := cat.Get(TierBasic)
	require.True(t, ok)
	first.Limits[DimensionTokens] = 1

	second, ok := cat.Get(TierBasic)
	require.True(t, ok)
	assert.Equal(t, int64(50_000), second.Limit(DimensionTokens), "catalog leaked mutable state")
}

func TestNewCatalogRejectsBadInput(t *testing.T) {
	valid := &Plan{Tier: TierBasic, Limits: map[Dimension]int64{DimensionChats: 10}}

	_, err := NewCatalog(valid, &Plan{Tier: TierBasic})
	assert.Error(t, err, "duplicate tier")

	_, err = NewCatalog(&Plan{Tier: Tier("platinum")})
	assert.Error(t, err, "unknown tier")

	_, err = NewCatalog(&Plan{Tier: TierFree, Limits: map[Dimension]int64{Dimension("carrier_pigeons"): 5}})
	assert.Error(t, err, "unknown dimension")
}

func TestMissingDimensionReadsAsDisallowed(t *testing.T) {
	p := &Plan{Tier: TierFree, Limits: map[Dimension]int64{}}

	assert.Equal(t, Disallowed, p.Limit(DimensionTokens))
	assert.True(t, p.Denies(DimensionTokens))
}

func TestTierAtLeast(t *testing.T) {
	assert.True(t, TierProfessional.AtLeast(TierBasic))
	assert.True(t, TierBasic.AtLeast(TierBasic))
	assert.False(t, TierFree.AtLeast(TierBasic))
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	doc := `plans:
  - tier: free
    name: Free
    limits:
      token_budget: 0
      chat_count: 10
  - tier: basic
    name: Basic
    limits:
      token_budget: 50000
      chat_count: 50
    price:
      amount: 990
      currency: usd
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cat, err := LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())

	basic, ok := cat.Get(TierBasic)
	require.True(t, ok)
	assert.Equal(t, int64(50_000), basic.Limit(DimensionTokens))
	assert.True(t, basic.Price.Equal(types.USD(990)))
}

func TestLoadCatalogFileErrors(t *testing.T) {
	_, err := LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans: {not: a list}"), 0o644))
	_, err = LoadCatalogFile(path)
	assert.Error(t, err)
}
