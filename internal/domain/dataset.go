package domain

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ctessum/sparse"
)

// DType identifies the numeric precision a variable is stored at.
type DType string

const (
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// ParseDType validates a precision identifier.
func ParseDType(s string) (DType, error) {
	switch d := DType(s); d {
	case Float32, Float64:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDType, s)
	}
}

// cast rounds v to the precision of d. Narrowing to float32 is lossy.
func (d DType) cast(v float64) float64 {
	if d == Float32 {
		return float64(float32(v))
	}
	return v
}

// Attrs holds variable or dataset metadata, e.g. units and long_name.
type Attrs map[string]any

// Clone returns a shallow copy. Attribute values are treated as immutable.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// Encoding holds serialization hints such as _FillValue or scale_factor.
type Encoding map[string]any

// Clone returns a shallow copy.
func (e Encoding) Clone() Encoding {
	if e == nil {
		return nil
	}
	return maps.Clone(e)
}

// Coord is a coordinate axis shared by the variables of a dataset.
type Coord struct {
	Name   string
	Values []float64
	Attrs  Attrs
}

// Clone returns a deep copy of the coordinate values.
func (c *Coord) Clone() *Coord {
	return &Coord{Name: c.Name, Values: slices.Clone(c.Values), Attrs: c.Attrs.Clone()}
}

// Variable is a named n-dimensional array with metadata.
//
// Coords optionally labels individual dimensions with index values that
// differ from the owning dataset's axes. Variables read from a file leave
// it nil; it is populated for variables assembled from several sources and
// is what region alignment operates on.
type Variable struct {
	Name     string
	Dims     []string
	Data     *sparse.DenseArray
	DType    DType
	Attrs    Attrs
	Encoding Encoding
	Coords   map[string][]float64
}

// NewVariable creates a float64 variable. values are copied in row-major order
// and must match the product of shape.
func NewVariable(name string, dims []string, shape []int, values []float64) (*Variable, error) {
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("variable %s: %d dims but %d lengths", name, len(dims), len(shape))
	}
	data := sparse.ZerosDense(shape...)
	if len(values) != len(data.Elements) {
		return nil, fmt.Errorf("variable %s: shape %v needs %d values, got %d", name, shape, len(data.Elements), len(values))
	}
	copy(data.Elements, values)
	return &Variable{
		Name:  name,
		Dims:  slices.Clone(dims),
		Data:  data,
		DType: Float64,
		Attrs: Attrs{},
	}, nil
}

// Shape returns the dimension lengths of the variable.
func (v *Variable) Shape() []int {
	return v.Data.Shape
}

// Values returns the flat row-major element slice. Callers must not modify it.
func (v *Variable) Values() []float64 {
	return v.Data.Elements
}

// Clone returns a deep copy of v.
func (v *Variable) Clone() *Variable {
	out := &Variable{
		Name:     v.Name,
		Dims:     slices.Clone(v.Dims),
		Data:     cloneArray(v.Data),
		DType:    v.DType,
		Attrs:    v.Attrs.Clone(),
		Encoding: v.Encoding.Clone(),
	}
	if v.Coords != nil {
		out.Coords = make(map[string][]float64, len(v.Coords))
		for d, idx := range v.Coords {
			out.Coords[d] = slices.Clone(idx)
		}
	}
	return out
}

func cloneArray(a *sparse.DenseArray) *sparse.DenseArray {
	out := sparse.ZerosDense(a.Shape...)
	copy(out.Elements, a.Elements)
	return out
}

// Dataset is an ordered collection of variables sharing coordinate axes.
// It is immutable by convention: transformations return a new Dataset.
type Dataset struct {
	Attrs Attrs

	vars      []*Variable
	index     map[string]int
	coords    map[string]*Coord
	coordDims []string
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{
		Attrs:  Attrs{},
		index:  make(map[string]int),
		coords: make(map[string]*Coord),
	}
}

// Var looks up a variable by name.
func (d *Dataset) Var(name string) (*Variable, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.vars[i], true
}

// Vars returns the variables in insertion order.
func (d *Dataset) Vars() []*Variable {
	return slices.Clone(d.vars)
}

// VarNames returns the variable names in insertion order.
func (d *Dataset) VarNames() []string {
	names := make([]string, len(d.vars))
	for i, v := range d.vars {
		names[i] = v.Name
	}
	return names
}

// SetVar adds v, replacing any variable with the same name in place.
func (d *Dataset) SetVar(v *Variable) {
	if i, ok := d.index[v.Name]; ok {
		d.vars[i] = v
		return
	}
	d.index[v.Name] = len(d.vars)
	d.vars = append(d.vars, v)
}

// Coord looks up the coordinate axis for a dimension.
func (d *Dataset) Coord(dim string) (*Coord, bool) {
	c, ok := d.coords[dim]
	return c, ok
}

// Coords returns the coordinate axes in insertion order.
func (d *Dataset) Coords() []*Coord {
	out := make([]*Coord, len(d.coordDims))
	for i, dim := range d.coordDims {
		out[i] = d.coords[dim]
	}
	return out
}

// SetCoord adds or replaces the coordinate axis named c.Name.
func (d *Dataset) SetCoord(c *Coord) {
	if _, ok := d.coords[c.Name]; !ok {
		d.coordDims = append(d.coordDims, c.Name)
	}
	d.coords[c.Name] = c
}

// DimSize reports the length of dim, taken from its coordinate axis or from
// the first variable that spans it.
func (d *Dataset) DimSize(dim string) (int, bool) {
	if c, ok := d.coords[dim]; ok {
		return len(c.Values), true
	}
	for _, v := range d.vars {
		if i := slices.Index(v.Dims, dim); i >= 0 {
			return v.Data.Shape[i], true
		}
	}
	return 0, false
}

// Dims returns every dimension name used by the dataset: coordinate axes
// first, then dimensions only referenced by variables.
func (d *Dataset) Dims() []string {
	dims := slices.Clone(d.coordDims)
	for _, v := range d.vars {
		for _, dim := range v.Dims {
			if !slices.Contains(dims, dim) {
				dims = append(dims, dim)
			}
		}
	}
	return dims
}

// Clone returns a deep copy of d.
func (d *Dataset) Clone() *Dataset {
	out := NewDataset()
	out.Attrs = d.Attrs.Clone()
	if out.Attrs == nil {
		out.Attrs = Attrs{}
	}
	for _, c := range d.Coords() {
		out.SetCoord(c.Clone())
	}
	for _, v := range d.vars {
		out.SetVar(v.Clone())
	}
	return out
}

// Validate checks that every variable's data matches its dimensions and
// that dimension lengths agree across variables and coordinate axes.
func (d *Dataset) Validate() error {
	sizes := make(map[string]int, len(d.coords))
	for dim, c := range d.coords {
		sizes[dim] = len(c.Values)
	}
	for _, v := range d.vars {
		if v.Data == nil {
			return fmt.Errorf("variable %s: no data", v.Name)
		}
		if len(v.Dims) != len(v.Data.Shape) {
			return fmt.Errorf("variable %s: %d dims but data has rank %d", v.Name, len(v.Dims), len(v.Data.Shape))
		}
		for i, dim := range v.Dims {
			n := v.Data.Shape[i]
			if idx, ok := v.Coords[dim]; ok && len(idx) != n {
				return fmt.Errorf("variable %s: index for %s has %d values, dimension has %d", v.Name, dim, len(idx), n)
			}
			if v.Coords[dim] != nil {
				continue
			}
			if want, ok := sizes[dim]; ok && want != n {
				return fmt.Errorf("variable %s: dimension %s has length %d, dataset has %d", v.Name, dim, n, want)
			}
			sizes[dim] = n
		}
	}
	return nil
}
