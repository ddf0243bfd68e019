package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/ctessum/sparse"
)

// alignment is a set of variables brought onto one index per dimension.
type alignment struct {
	vars  []*Variable
	index map[string][]float64 // nil entry: dimension has no labels
}

// indexOf returns the labels of v along dim: its own if it carries them,
// otherwise the dataset axis, otherwise nil.
func indexOf(ds *Dataset, v *Variable, dim string) []float64 {
	if idx, ok := v.Coords[dim]; ok {
		return idx
	}
	if c, ok := ds.Coord(dim); ok {
		return c.Values
	}
	return nil
}

// align reconciles the indexes of vars. Under JoinExact any difference is an
// AlignmentError; under JoinOuter each dimension takes the sorted union of
// labels and variables are reindexed with NaN where they have no data.
// Inputs are never modified; unchanged variables are returned as is.
func align(ds *Dataset, vars []*Variable, join JoinMode) (*alignment, error) {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}

	first := vars[0]
	for _, v := range vars[1:] {
		if !slices.Equal(v.Dims, first.Dims) {
			return nil, &AlignmentError{Vars: names, Reason: fmt.Sprintf("dimensions %v and %v differ", first.Dims, v.Dims)}
		}
	}

	out := slices.Clone(vars)
	index := make(map[string][]float64, len(first.Dims))
	for axis, dim := range first.Dims {
		idxs := make([][]float64, len(out))
		labeled := 0
		for i, v := range out {
			idxs[i] = indexOf(ds, v, dim)
			if idxs[i] != nil {
				labeled++
			}
		}

		if labeled < len(out) {
			n := out[0].Data.Shape[axis]
			for _, v := range out[1:] {
				if v.Data.Shape[axis] != n {
					return nil, &AlignmentError{Dim: dim, Vars: names, Reason: "lengths differ and the dimension has no index"}
				}
			}
			for _, idx := range idxs {
				if idx != nil {
					index[dim] = idx
					break
				}
			}
			continue
		}

		if allEqual(idxs) {
			index[dim] = idxs[0]
			continue
		}
		if join == JoinExact {
			return nil, &AlignmentError{Dim: dim, Vars: names, Reason: "indexes are not equal"}
		}

		target := unionSorted(idxs)
		for i, v := range out {
			if slices.Equal(idxs[i], target) {
				continue
			}
			r, err := reindex(v, axis, idxs[i], target)
			if err != nil {
				return nil, &AlignmentError{Dim: dim, Vars: names, Reason: err.Error()}
			}
			out[i] = r
		}
		index[dim] = target
	}
	return &alignment{vars: out, index: index}, nil
}

func allEqual(idxs [][]float64) bool {
	for _, idx := range idxs[1:] {
		if !slices.Equal(idx, idxs[0]) {
			return false
		}
	}
	return true
}

func unionSorted(idxs [][]float64) []float64 {
	set := make(map[float64]struct{})
	for _, idx := range idxs {
		for _, x := range idx {
			set[x] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// reindex returns a copy of v whose axis is relabeled from `from` to `to`.
// Labels missing from `from` become NaN slabs.
func reindex(v *Variable, axis int, from, to []float64) (*Variable, error) {
	pos := make(map[float64]int, len(from))
	for i, x := range from {
		if _, dup := pos[x]; dup {
			return nil, fmt.Errorf("variable %s has duplicate index value %g", v.Name, x)
		}
		pos[x] = i
	}

	shape := slices.Clone(v.Data.Shape)
	oldN := shape[axis]
	shape[axis] = len(to)
	data := sparse.ZerosDense(shape...)

	inner := product(shape[axis+1:])
	outer := product(shape[:axis])
	for o := 0; o < outer; o++ {
		for j, x := range to {
			dst := data.Elements[(o*len(to)+j)*inner : (o*len(to)+j+1)*inner]
			s, ok := pos[x]
			if !ok {
				for k := range dst {
					dst[k] = math.NaN()
				}
				continue
			}
			copy(dst, v.Data.Elements[(o*oldN+s)*inner:(o*oldN+s+1)*inner])
		}
	}

	out := &Variable{
		Name:     v.Name,
		Dims:     slices.Clone(v.Dims),
		Data:     data,
		DType:    v.DType,
		Attrs:    v.Attrs,
		Encoding: v.Encoding,
		Coords:   make(map[string][]float64, len(v.Coords)+1),
	}
	maps.Copy(out.Coords, v.Coords)
	out.Coords[v.Dims[axis]] = slices.Clone(to)
	return out, nil
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
