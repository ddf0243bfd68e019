// Package netcdf reads and writes datasets in the NetCDF classic format.
//
// A variable's Encoding["dtype"] records its on-disk type and takes
// precedence over Variable.DType on save, so a combined variable keeps the
// storage type of the region it inherited its encoding from. Integer packing
// that cannot hold the values falls back to float storage.
package netcdf

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// ErrNotExist is returned by Load when the dataset file is missing.
var ErrNotExist = errors.New("dataset does not exist")

// Store loads and saves datasets on the local filesystem.
// It implements pipeline.DatasetLoader and pipeline.DatasetSaver.
type Store struct {
	logger *slog.Logger
}

// NewStore creates a filesystem-backed store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

// Load reads the NetCDF file at path.
func (s *Store) Load(ctx context.Context, path string) (*domain.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Read(f, s.logger)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s.logger.Debug("dataset loaded", "path", path, "variables", len(ds.Vars()), "dims", ds.Dims())
	return ds, nil
}

// Save writes ds to path. The file is written next to its destination and
// renamed into place so readers never observe a partial file.
func (s *Store) Save(ctx context.Context, path string, ds *domain.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".watertag-*.nc")
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, ds, s.logger); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename dataset: %w", err)
	}
	s.logger.Debug("dataset saved", "path", path, "variables", len(ds.Vars()))
	return nil
}

// Read decodes a classic-format file. One-dimensional variables named after
// their dimension become coordinate axes. Non-numeric variables are skipped.
func Read(r cdf.ReaderWriterAt, logger *slog.Logger) (*domain.Dataset, error) {
	f, err := cdf.Open(r)
	if err != nil {
		return nil, err
	}

	ds := domain.NewDataset()
	for _, a := range f.Header.Attributes("") {
		ds.Attrs[a] = decodeAttr(f.Header.GetAttribute("", a))
	}

	for _, name := range f.Header.Variables() {
		v, err := readVariable(f, name)
		if err != nil {
			return nil, err
		}
		if v == nil {
			logger.Debug("skipping non-numeric variable", "variable", name)
			continue
		}
		if len(v.Dims) == 1 && v.Dims[0] == name {
			ds.SetCoord(&domain.Coord{Name: name, Values: v.Values(), Attrs: v.Attrs})
			continue
		}
		ds.SetVar(v)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func readVariable(f *cdf.File, name string) (*domain.Variable, error) {
	r := f.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("read variable %s: %w", name, err)
	}
	vals, dtype, ok := decodeBuffer(buf)
	if !ok {
		return nil, nil
	}

	dims := f.Header.Dimensions(name)
	shape, err := resolveShape(name, f.Header.Lengths(name), len(vals))
	if err != nil {
		return nil, err
	}

	attrs := domain.Attrs{}
	enc := domain.Encoding{encDType: dtype}
	for _, a := range f.Header.Attributes(name) {
		val := decodeAttr(f.Header.GetAttribute(name, a))
		if slices.Contains(encodingAttrs, a) {
			enc[a] = val
			continue
		}
		attrs[a] = val
	}
	packingFor(enc, dtype).unpack(vals)

	data := sparse.ZerosDense(shape...)
	copy(data.Elements, vals)

	precision := domain.Float32
	if dtype == "float64" {
		precision = domain.Float64
	}
	return &domain.Variable{
		Name:     name,
		Dims:     dims,
		Data:     data,
		DType:    precision,
		Attrs:    attrs,
		Encoding: enc,
	}, nil
}

// resolveShape fills in the record dimension, which the header reports as 0.
func resolveShape(name string, lengths []int, n int) ([]int, error) {
	shape := slices.Clone(lengths)
	fixed := 1
	record := -1
	for i, l := range shape {
		if l == 0 {
			record = i
			continue
		}
		fixed *= l
	}
	if record >= 0 && fixed > 0 {
		shape[record] = n / fixed
		fixed *= shape[record]
	}
	if fixed != n && !(record >= 0 && n == 0) {
		return nil, fmt.Errorf("variable %s: shape %v does not hold %d values", name, lengths, n)
	}
	return shape, nil
}

// Write encodes ds in the classic format: coordinate axes first, then
// variables in dataset order. A variable whose values overflow its integer
// packing is written unpacked as float, without the packing attributes.
func Write(w cdf.ReaderWriterAt, ds *domain.Dataset, logger *slog.Logger) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	vars := ds.Vars()
	for _, v := range vars {
		if len(v.Coords) > 0 {
			return fmt.Errorf("variable %s carries its own index; align it with the dataset first", v.Name)
		}
	}

	dims := ds.Dims()
	lengths := make([]int, len(dims))
	for i, d := range dims {
		n, _ := ds.DimSize(d)
		if n == 0 {
			return fmt.Errorf("dimension %s has length 0", d)
		}
		lengths[i] = n
	}

	h := cdf.NewHeader(dims, lengths)
	for _, k := range slices.Sorted(maps.Keys(ds.Attrs)) {
		h.AddAttribute("", k, encodeAttr(ds.Attrs[k]))
	}

	type column struct {
		name   string
		values []float64
		pack   packing
	}
	var columns []column

	for _, c := range ds.Coords() {
		if slices.Contains(ds.VarNames(), c.Name) {
			return fmt.Errorf("variable %s shadows the coordinate of the same name", c.Name)
		}
		h.AddVariable(c.Name, []string{c.Name}, zeroOf("float64"))
		for _, k := range slices.Sorted(maps.Keys(c.Attrs)) {
			h.AddAttribute(c.Name, k, encodeAttr(c.Attrs[k]))
		}
		columns = append(columns, column{name: c.Name, values: c.Values, pack: packing{dtype: "float64", scale: 1}})
	}

	for _, v := range vars {
		values := v.Values()
		dtype := storageType(v)
		p := packingFor(v.Encoding, dtype)
		packed := true
		if !p.fits(values) {
			logger.Warn("values overflow packed encoding, writing unpacked",
				"variable", v.Name, "encoded_dtype", dtype, "dtype", unpacked(v).dtype)
			p = unpacked(v)
			dtype = p.dtype
			packed = false
		}
		h.AddVariable(v.Name, v.Dims, zeroOf(dtype))
		for _, k := range slices.Sorted(maps.Keys(v.Attrs)) {
			if slices.Contains(encodingAttrs, k) {
				continue
			}
			h.AddAttribute(v.Name, k, encodeAttr(v.Attrs[k]))
		}
		if p.hasFill {
			h.AddAttribute(v.Name, encFillValue, typedScalar(p.fill, dtype))
		}
		if p.hasMiss {
			h.AddAttribute(v.Name, encMissingValue, typedScalar(p.missing, dtype))
		}
		for _, k := range []string{encScaleFactor, encAddOffset} {
			if val, ok := v.Encoding[k]; ok && packed {
				h.AddAttribute(v.Name, k, encodeAttr(val))
			}
		}
		columns = append(columns, column{name: v.Name, values: values, pack: p})
	}
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("create header: %w", err)
	}
	for _, c := range columns {
		end := f.Header.Lengths(c.name)
		start := make([]int, len(end))
		if _, err := f.Writer(c.name, start, end).Write(c.pack.pack(c.values)); err != nil {
			return fmt.Errorf("write variable %s: %w", c.name, err)
		}
	}
	return nil
}

