package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// SkippedGroup is a group left out under RequireAll.
type SkippedGroup struct {
	Key     GroupKey
	Missing []string // sorted
}

// CombineResult is the outcome of one region combination.
type CombineResult struct {
	Dataset *Dataset

	// Combined lists the new variable names in group order.
	Combined []string
	// Skipped lists incomplete groups in group order.
	Skipped []SkippedGroup
	// PassedThrough lists the non-region variables copied to the output.
	PassedThrough []string
}

// CombineRegions sums every group of per-region variables in ds into a new
// region-tagged variable and returns the assembled dataset. ds is not modified.
func CombineRegions(ds *Dataset, regions []string, newRegion string, opts CombineOptions) (*Dataset, error) {
	res, err := Combine(ds, regions, newRegion, opts)
	if err != nil {
		return nil, err
	}
	return res.Dataset, nil
}

// Combine is CombineRegions with the bookkeeping the caller may want to log
// or report.
func Combine(ds *Dataset, regions []string, newRegion string, opts CombineOptions) (*CombineResult, error) {
	m, err := NewRegionMatcher(regions)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	groups, matched := m.group(ds)
	canon := m.Regions()

	res := &CombineResult{}
	var combined []*Variable
	for _, g := range groups {
		present := g.Present(canon)
		if len(present) == 0 {
			continue
		}
		if opts.RequireAll && len(present) != len(canon) {
			res.Skipped = append(res.Skipped, SkippedGroup{Key: g.Key, Missing: missingRegions(canon, present)})
			continue
		}
		v, err := combineGroup(ds, g, present, newRegion, opts)
		if err != nil {
			return nil, fmt.Errorf("combine %s: %w", g.Key.VarName(newRegion), err)
		}
		combined = append(combined, v)
		res.Combined = append(res.Combined, v.Name)
	}

	out, passed, err := assemble(ds, matched, combined, opts.KeepNonRegionVars)
	if err != nil {
		return nil, err
	}
	if len(res.Skipped) > 0 {
		out.Attrs[newRegion+missingInfoSuffix] = missingSummary(res.Skipped)
	}
	res.Dataset = out
	res.PassedThrough = passed
	return res, nil
}

func missingRegions(canon, present []string) []string {
	var missing []string
	for _, r := range canon {
		if !slices.Contains(present, r) {
			missing = append(missing, r)
		}
	}
	slices.Sort(missing)
	return missing
}

// combineGroup aligns the present members of g and sums them.
func combineGroup(ds *Dataset, g *Group, present []string, newRegion string, opts CombineOptions) (*Variable, error) {
	members := make([]*Variable, len(present))
	for i, r := range present {
		members[i] = g.Members[r]
	}
	al, err := align(ds, members, opts.Join)
	if err != nil {
		return nil, err
	}

	fill := opts.ZeroFill && opts.Join != JoinExact
	shape := al.vars[0].Data.Shape
	sum := sparse.ZerosDense(shape...)
	n := len(sum.Elements)
	counted := make([]int, n)
	sawNaN := make([]bool, n)
	scaled := make([]float64, n)

	for i, v := range al.vars {
		floats.ScaleTo(scaled, opts.weight(present[i]), v.Data.Elements)
		for j, x := range scaled {
			if math.IsNaN(x) {
				if !fill {
					sawNaN[j] = true
					continue
				}
				x = 0
			}
			sum.Elements[j] += x
			counted[j]++
		}
	}
	for j, x := range sum.Elements {
		switch {
		case counted[j] == 0, sawNaN[j] && !opts.SkipNA:
			sum.Elements[j] = math.NaN()
		default:
			sum.Elements[j] = opts.DType.cast(x)
		}
	}

	out := &Variable{
		Name:     g.Key.VarName(newRegion),
		Dims:     slices.Clone(al.vars[0].Dims),
		Data:     sum,
		DType:    opts.DType,
		Attrs:    mergeAttrs(g, present, opts),
		Encoding: inheritEncoding(members[0], opts),
	}
	for dim, idx := range al.index {
		if idx == nil {
			continue
		}
		if c, ok := ds.Coord(dim); ok && slices.Equal(c.Values, idx) {
			continue
		}
		if out.Coords == nil {
			out.Coords = make(map[string][]float64)
		}
		out.Coords[dim] = slices.Clone(idx)
	}
	return out, nil
}

// assemble merges pass-through variables, coordinates and combined variables
// into a new dataset. Axes widened by a combined variable widen the output
// axis, and every variable on that axis is reindexed onto it.
func assemble(ds *Dataset, matched map[string]struct{}, combined []*Variable, keepNonRegion bool) (*Dataset, []string, error) {
	out := NewDataset()
	if ds.Attrs != nil {
		out.Attrs = ds.Attrs.Clone()
	}
	for _, c := range ds.Coords() {
		out.SetCoord(c.Clone())
	}
	for _, v := range combined {
		for _, dim := range slices.Sorted(maps.Keys(v.Coords)) {
			idx := v.Coords[dim]
			c, ok := out.Coord(dim)
			switch {
			case !ok:
				out.SetCoord(&Coord{Name: dim, Values: slices.Clone(idx), Attrs: Attrs{}})
			case !slices.Equal(c.Values, idx):
				out.SetCoord(&Coord{Name: dim, Values: unionSorted([][]float64{c.Values, idx}), Attrs: c.Attrs.Clone()})
			}
		}
	}

	var passed []string
	if keepNonRegion {
		for _, v := range ds.Vars() {
			if _, ok := matched[v.Name]; ok {
				continue
			}
			cv, err := conform(ds, out, v.Clone())
			if err != nil {
				return nil, nil, err
			}
			out.SetVar(cv)
			passed = append(passed, v.Name)
		}
	}
	for _, v := range combined {
		cv, err := conform(ds, out, v)
		if err != nil {
			return nil, nil, err
		}
		out.SetVar(cv)
	}
	return out, passed, nil
}

// conform reindexes v onto the axes of out. Index entries that match the
// output axes are dropped from v.Coords.
func conform(src, out *Dataset, v *Variable) (*Variable, error) {
	for axis, dim := range v.Dims {
		c, ok := out.Coord(dim)
		if !ok {
			continue
		}
		idx := indexOf(src, v, dim)
		if idx == nil || slices.Equal(idx, c.Values) {
			continue
		}
		r, err := reindex(v, axis, idx, c.Values)
		if err != nil {
			return nil, &AlignmentError{Dim: dim, Vars: []string{v.Name}, Reason: err.Error()}
		}
		v = r
	}
	for dim, idx := range v.Coords {
		if c, ok := out.Coord(dim); ok && slices.Equal(c.Values, idx) {
			delete(v.Coords, dim)
		}
	}
	if len(v.Coords) == 0 {
		v.Coords = nil
	}
	return v, nil
}

// missingSummary renders skipped groups as a mapping literal, e.g.
// {('', '', 'X'): ['C']}. It is a diagnostic, not a parseable format.
func missingSummary(skipped []SkippedGroup) string {
	entries := make([]string, len(skipped))
	for i, s := range skipped {
		codes := make([]string, len(s.Missing))
		for j, r := range s.Missing {
			codes[j] = quoteRepr(r)
		}
		entries[i] = s.Key.String() + ": [" + strings.Join(codes, ", ") + "]"
	}
	return "{" + strings.Join(entries, ", ") + "}"
}
