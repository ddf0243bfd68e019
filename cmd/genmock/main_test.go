package main

import (
	"testing"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	ds, err := generate([]string{"EURO", "NASA"}, map[string]bool{"QFLX:NASA": true}, 2, 3, 4)
	require.NoError(t, err)

	assert.Equal(t, []string{"time", "lat", "lon"}, ds.Dims())
	lon, ok := ds.Coord("lon")
	require.True(t, ok)
	assert.Equal(t, []float64{0, 90, 180, 270}, lon.Values)

	_, ok = ds.Var("QFLX_NASA_18O")
	assert.False(t, ok, "dropped tag")
	_, ok = ds.Var("QFLX_EURO_18O")
	assert.True(t, ok)

	groups, matched, err := domain.DiscoverGroups(ds, []string{"EURO", "NASA"})
	require.NoError(t, err)
	assert.Len(t, groups, 4)
	assert.Len(t, matched, 7)

	v, ok := ds.Var("PRECRC_EUROr")
	require.True(t, ok)
	assert.Equal(t, []int{2, 3, 4}, v.Shape())
	assert.Equal(t, "time: mean", v.Attrs["cell_methods"])
}
