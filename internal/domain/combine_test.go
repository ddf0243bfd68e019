package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

// arrayComparer compares dense arrays by shape and values, NaN equal to NaN.
var arrayComparer = cmp.Comparer(func(a, b *sparse.DenseArray) bool {
	if a == nil || b == nil {
		return a == b
	}
	return cmp.Equal(a.Shape, b.Shape) && cmp.Equal(a.Elements, b.Elements, cmpopts.EquateNaNs())
})

// newTestDataset builds a dataset with a "lat" axis 0..n-1 sized to the
// first variable.
func newTestDataset(t *testing.T, vars ...*Variable) *Dataset {
	t.Helper()
	ds := NewDataset()
	ds.Attrs["title"] = "test run"
	if len(vars) > 0 {
		lat := make([]float64, vars[0].Shape()[0])
		for i := range lat {
			lat[i] = float64(i)
		}
		ds.SetCoord(&Coord{Name: "lat", Values: lat, Attrs: Attrs{"units": "degrees_north"}})
	}
	for _, v := range vars {
		ds.SetVar(v)
	}
	require.NoError(t, ds.Validate())
	return ds
}

func lineVar(t *testing.T, name string, values ...float64) *Variable {
	t.Helper()
	v, err := NewVariable(name, []string{"lat"}, []int{len(values)}, values)
	require.NoError(t, err)
	return v
}

func withAttrs(v *Variable, attrs Attrs) *Variable {
	v.Attrs = attrs
	return v
}

func values(t *testing.T, ds *Dataset, name string) []float64 {
	t.Helper()
	v, ok := ds.Var(name)
	require.True(t, ok, "variable %s missing", name)
	return v.Values()
}

func TestCombineRegions_Sum(t *testing.T) {
	ds := newTestDataset(t, lineVar(t, "AX", 2), lineVar(t, "BX", 3))

	out, err := CombineRegions(ds, []string{"A", "B"}, "Z", DefaultCombineOptions())
	require.NoError(t, err)

	assert.Equal(t, []float64{5}, values(t, out, "ZX"))
	assert.Equal(t, []string{"ZX"}, out.VarNames())
	assert.Equal(t, "test run", out.Attrs["title"])
}

func TestCombineRegions_RequireAll(t *testing.T) {
	ds := newTestDataset(t, lineVar(t, "AX", 2), lineVar(t, "BX", 3), lineVar(t, "PRECT", 1))
	opts := DefaultCombineOptions()
	opts.RequireAll = true

	res, err := Combine(ds, []string{"A", "B", "C"}, "Z", opts)
	require.NoError(t, err)

	out := res.Dataset
	_, ok := out.Var("ZX")
	assert.False(t, ok)
	assert.Equal(t, []string{"PRECT"}, out.VarNames())
	assert.Equal(t, "{('', '', 'X'): ['C']}", out.Attrs["Z_missing_regions_info"])
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, []string{"C"}, res.Skipped[0].Missing)
	assert.Empty(t, res.Combined)
}

func TestCombineRegions_RequireAllMixed(t *testing.T) {
	ds := newTestDataset(t,
		lineVar(t, "AX", 1), lineVar(t, "BX", 2), lineVar(t, "CX", 3),
		lineVar(t, "AY", 1),
	)
	opts := DefaultCombineOptions()
	opts.RequireAll = true

	res, err := Combine(ds, []string{"C", "B", "A"}, "Z", opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"ZX"}, res.Combined)
	assert.Equal(t, []float64{6}, values(t, res.Dataset, "ZX"))
	assert.Equal(t, "{('', '', 'Y'): ['B', 'C']}", res.Dataset.Attrs["Z_missing_regions_info"])
}

func TestCombineRegions_PartialGroupsCombineByDefault(t *testing.T) {
	ds := newTestDataset(t, lineVar(t, "AX", 2), lineVar(t, "BX", 3), lineVar(t, "AY", 4))

	res, err := Combine(ds, []string{"A", "B", "C"}, "Z", DefaultCombineOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"ZX", "ZY"}, res.Combined)
	assert.Equal(t, []float64{4}, values(t, res.Dataset, "ZY"))
	assert.NotContains(t, res.Dataset.Attrs, "Z_missing_regions_info")
	v, _ := res.Dataset.Var("ZY")
	assert.Equal(t, "A", v.Attrs[AttrCombinedFrom])
}

func TestCombineRegions_PassThrough(t *testing.T) {
	prect := withAttrs(lineVar(t, "PRECT", 7, 8), Attrs{"units": "m/s"})
	prect.Encoding = Encoding{"_FillValue": 1e36}
	build := func() *Dataset {
		return newTestDataset(t, lineVar(t, "AX", 1, 2), prect.Clone(), lineVar(t, "BX", 3, 4))
	}

	t.Run("kept", func(t *testing.T) {
		res, err := Combine(build(), []string{"A", "B"}, "Z", DefaultCombineOptions())
		require.NoError(t, err)

		assert.Equal(t, []string{"PRECT", "ZX"}, res.Dataset.VarNames())
		assert.Equal(t, []string{"PRECT"}, res.PassedThrough)
		got, _ := res.Dataset.Var("PRECT")
		if diff := cmp.Diff(prect, got, arrayComparer); diff != "" {
			t.Errorf("pass-through variable changed (-want +got):\n%s", diff)
		}
	})

	t.Run("dropped", func(t *testing.T) {
		opts := DefaultCombineOptions()
		opts.KeepNonRegionVars = false

		res, err := Combine(build(), []string{"A", "B"}, "Z", opts)
		require.NoError(t, err)

		assert.Equal(t, []string{"ZX"}, res.Dataset.VarNames())
		assert.Empty(t, res.PassedThrough)
		lat, ok := res.Dataset.Coord("lat")
		require.True(t, ok)
		assert.Equal(t, []float64{0, 1}, lat.Values)
	})
}

func TestCombineRegions_CombinedNameReplacesPassThrough(t *testing.T) {
	ds := newTestDataset(t, lineVar(t, "ZX", 100), lineVar(t, "AX", 1), lineVar(t, "BX", 2))

	out, err := CombineRegions(ds, []string{"A", "B"}, "Z", DefaultCombineOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"ZX"}, out.VarNames())
	assert.Equal(t, []float64{3}, values(t, out, "ZX"))
}

func TestCombineRegions_DoesNotModifyInput(t *testing.T) {
	ds := newTestDataset(t,
		withAttrs(lineVar(t, "AX", 1, 2), Attrs{"units": "kg"}),
		withAttrs(lineVar(t, "BX", 3, 4), Attrs{"units": "kg"}),
	)
	before := ds.Clone()

	_, err := CombineRegions(ds, []string{"A", "B"}, "Z", DefaultCombineOptions())
	require.NoError(t, err)

	assert.Equal(t, before.VarNames(), ds.VarNames())
	for _, name := range before.VarNames() {
		want, _ := before.Var(name)
		got, _ := ds.Var(name)
		if diff := cmp.Diff(want, got, arrayComparer); diff != "" {
			t.Errorf("%s modified (-want +got):\n%s", name, diff)
		}
	}
	assert.Equal(t, before.Attrs, ds.Attrs)
}

func TestCombineRegions_NaNPolicy(t *testing.T) {
	tests := []struct {
		name   string
		skipNA bool
		a, b   []float64
		want   []float64
	}{
		{"skipna ignores missing", true, []float64{1, nan}, []float64{2, 3}, []float64{3, 3}},
		{"skipna keeps all-missing", true, []float64{nan, 1}, []float64{nan, 2}, []float64{nan, 3}},
		{"no skipna propagates", false, []float64{1, nan}, []float64{2, 3}, []float64{3, nan}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := newTestDataset(t, lineVar(t, "AX", tt.a...), lineVar(t, "BX", tt.b...))
			opts := DefaultCombineOptions()
			opts.SkipNA = tt.skipNA
			opts.DType = Float64

			out, err := CombineRegions(ds, []string{"A", "B"}, "Z", opts)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.want, values(t, out, "ZX"), cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("sum mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCombineRegions_Weights(t *testing.T) {
	ds := newTestDataset(t, lineVar(t, "AX", 2, 4), lineVar(t, "BX", 10, 20))

	t.Run("absent region weighs zero", func(t *testing.T) {
		opts := DefaultCombineOptions()
		opts.Weights = map[string]float64{"A": 0.5}

		out, err := CombineRegions(ds, []string{"A", "B"}, "Z", opts)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2}, values(t, out, "ZX"))
	})

	t.Run("fractional weights", func(t *testing.T) {
		opts := DefaultCombineOptions()
		opts.Weights = map[string]float64{"A": 1, "B": 0.25}

		out, err := CombineRegions(ds, []string{"A", "B"}, "Z", opts)
		require.NoError(t, err)
		assert.Equal(t, []float64{4.5, 9}, values(t, out, "ZX"))
	})

	t.Run("nil weighs every region one", func(t *testing.T) {
		out, err := CombineRegions(ds, []string{"A", "B"}, "Z", DefaultCombineOptions())
		require.NoError(t, err)
		assert.Equal(t, []float64{12, 24}, values(t, out, "ZX"))
	})
}

func TestCombineRegions_DType(t *testing.T) {
	a, b := 0.1, 0.2
	sum := a + b
	ds := newTestDataset(t, lineVar(t, "AX", a), lineVar(t, "BX", b))

	out, err := CombineRegions(ds, []string{"A", "B"}, "Z", DefaultCombineOptions())
	require.NoError(t, err)
	v, _ := out.Var("ZX")
	assert.Equal(t, Float32, v.DType)
	assert.Equal(t, float64(float32(sum)), v.Values()[0])

	opts := DefaultCombineOptions()
	opts.DType = Float64
	out, err = CombineRegions(ds, []string{"A", "B"}, "Z", opts)
	require.NoError(t, err)
	assert.Equal(t, sum, values(t, out, "ZX")[0])
}

func TestCombineRegions_ExactJoinMismatch(t *testing.T) {
	b := lineVar(t, "BX", 3, 4)
	b.Coords = map[string][]float64{"lat": {1, 2}}
	ds := newTestDataset(t, lineVar(t, "AX", 1, 2), b)

	_, err := CombineRegions(ds, []string{"A", "B"}, "Z", DefaultCombineOptions())
	require.Error(t, err)

	var alignErr *AlignmentError
	require.True(t, errors.As(err, &alignErr))
	assert.Equal(t, "lat", alignErr.Dim)
	assert.Equal(t, []string{"AX", "BX"}, alignErr.Vars)
}

func TestCombineRegions_DimensionMismatch(t *testing.T) {
	b, err := NewVariable("BX", []string{"lon"}, []int{2}, []float64{3, 4})
	require.NoError(t, err)
	ds := newTestDataset(t, lineVar(t, "AX", 1, 2), b)

	opts := DefaultCombineOptions()
	opts.Join = JoinOuter
	_, err = CombineRegions(ds, []string{"A", "B"}, "Z", opts)

	var alignErr *AlignmentError
	require.ErrorAs(t, err, &alignErr)
}

func TestCombineRegions_OuterJoin(t *testing.T) {
	b := lineVar(t, "BX", 10, 20)
	b.Coords = map[string][]float64{"lat": {1, 2}}

	t.Run("gaps stay missing", func(t *testing.T) {
		ds := newTestDataset(t, lineVar(t, "AX", 1, 2), b.Clone(), lineVar(t, "T", 5, 6))
		opts := DefaultCombineOptions()
		opts.Join = JoinOuter

		out, err := CombineRegions(ds, []string{"A", "B"}, "Z", opts)
		require.NoError(t, err)
		require.NoError(t, out.Validate())

		lat, _ := out.Coord("lat")
		assert.Equal(t, []float64{0, 1, 2}, lat.Values)
		assert.Equal(t, "degrees_north", lat.Attrs["units"])
		assert.Equal(t, []float64{1, 12, 20}, values(t, out, "ZX"))
		if diff := cmp.Diff([]float64{5, 6, nan}, values(t, out, "T"), cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("pass-through not reindexed (-want +got):\n%s", diff)
		}
		zx, _ := out.Var("ZX")
		assert.Nil(t, zx.Coords)
	})

	t.Run("zero fill", func(t *testing.T) {
		ds := newTestDataset(t, lineVar(t, "AX", 1, nan), b.Clone())
		opts := DefaultCombineOptions()
		opts.Join = JoinOuter
		opts.ZeroFill = true
		opts.SkipNA = false

		out, err := CombineRegions(ds, []string{"A", "B"}, "Z", opts)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 10, 20}, values(t, out, "ZX"))
	})

	t.Run("zero fill ignored for exact join", func(t *testing.T) {
		ds := newTestDataset(t, lineVar(t, "AX", 1, nan), lineVar(t, "BX", 1, 1))
		opts := DefaultCombineOptions()
		opts.ZeroFill = true
		opts.SkipNA = false

		out, err := CombineRegions(ds, []string{"A", "B"}, "Z", opts)
		require.NoError(t, err)
		if diff := cmp.Diff([]float64{2, nan}, values(t, out, "ZX"), cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("unexpected fill (-want +got):\n%s", diff)
		}
	})
}

func TestCombineRegions_Associative(t *testing.T) {
	build := func() *Dataset {
		return newTestDataset(t,
			lineVar(t, "AX", 1, 2, 3),
			lineVar(t, "BX", 10, 20, 30),
			lineVar(t, "CX", 100, 200, 300),
			lineVar(t, "DX", 1000, 2000, 3000),
		)
	}

	direct, err := CombineRegions(build(), []string{"A", "B", "C", "D"}, "Z", DefaultCombineOptions())
	require.NoError(t, err)

	step, err := CombineRegions(build(), []string{"C", "A"}, "P", DefaultCombineOptions())
	require.NoError(t, err)
	chained, err := CombineRegions(step, []string{"D", "P", "B"}, "Z", DefaultCombineOptions())
	require.NoError(t, err)

	assert.Equal(t, values(t, direct, "ZX"), values(t, chained, "ZX"))
	assert.Equal(t, []float64{1111, 2222, 3333}, values(t, chained, "ZX"))
}

func TestCombineRegions_MultiDimensional(t *testing.T) {
	a, err := NewVariable("PRECRC_EURO18Or", []string{"time", "lat"}, []int{2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	b, err := NewVariable("PRECRC_NASA18Or", []string{"time", "lat"}, []int{2, 2}, []float64{10, 20, 30, 40})
	require.NoError(t, err)
	b.Coords = map[string][]float64{"time": {1, 2}}

	ds := NewDataset()
	ds.SetCoord(&Coord{Name: "time", Values: []float64{0, 1}})
	ds.SetCoord(&Coord{Name: "lat", Values: []float64{-45, 45}})
	ds.SetVar(a)
	ds.SetVar(b)

	opts := DefaultCombineOptions()
	opts.Join = JoinOuter
	opts.DType = Float64
	out, err := CombineRegions(ds, []string{"EURO", "NASA"}, "ERAS", opts)
	require.NoError(t, err)

	v, ok := out.Var("PRECRC_ERAS18Or")
	require.True(t, ok)
	assert.Equal(t, []int{3, 2}, v.Shape())
	assert.Equal(t, []float64{1, 2, 13, 24, 30, 40}, v.Values())
	timeAxis, _ := out.Coord("time")
	assert.Equal(t, []float64{0, 1, 2}, timeAxis.Values)
}

func TestCombineRegions_ConfigurationErrors(t *testing.T) {
	ds := newTestDataset(t, lineVar(t, "AX", 1))

	tests := []struct {
		name    string
		regions []string
		mutate  func(*CombineOptions)
		want    error
	}{
		{"no regions", nil, func(*CombineOptions) {}, ErrNoRegions},
		{"unknown policy", []string{"A"}, func(o *CombineOptions) { o.InheritAttrs = "first" }, ErrUnknownInheritPolicy},
		{"unknown join", []string{"A"}, func(o *CombineOptions) { o.Join = "inner" }, ErrUnknownJoin},
		{"unknown dtype", []string{"A"}, func(o *CombineOptions) { o.DType = "int8" }, ErrUnknownDType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultCombineOptions()
			tt.mutate(&opts)
			_, err := CombineRegions(ds, tt.regions, "Z", opts)
			require.ErrorIs(t, err, tt.want)
		})
	}
}
