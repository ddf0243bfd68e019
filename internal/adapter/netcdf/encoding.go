package netcdf

import (
	"fmt"
	"math"

	"github.com/couchcryptid/watertag-etl/internal/domain"
)

// Encoding keys. The attribute-backed ones are moved out of a variable's
// attributes on load and written back on save.
const (
	encFillValue    = "_FillValue"
	encMissingValue = "missing_value"
	encScaleFactor  = "scale_factor"
	encAddOffset    = "add_offset"
	encDType        = "dtype"
)

var encodingAttrs = []string{encFillValue, encMissingValue, encScaleFactor, encAddOffset}

// Default fill values of the classic format for integer storage.
const (
	defaultFillInt16 = -32767
	defaultFillInt32 = -2147483647
)

// decodeBuffer widens a typed read buffer to float64. ok is false for
// non-numeric variables.
func decodeBuffer(buf any) (vals []float64, dtype string, ok bool) {
	switch b := buf.(type) {
	case []int8:
		return widen(b), "int8", true
	case []int16:
		return widen(b), "int16", true
	case []int32:
		return widen(b), "int32", true
	case []float32:
		return widen(b), "float32", true
	case []float64:
		out := make([]float64, len(b))
		copy(out, b)
		return out, "float64", true
	default:
		return nil, "", false
	}
}

func widen[T int8 | int16 | int32 | float32](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// decodeAttr unwraps single-element numeric attributes to scalars.
func decodeAttr(val any) any {
	switch a := val.(type) {
	case []int8:
		return unwrap(a)
	case []int16:
		return unwrap(a)
	case []int32:
		return unwrap(a)
	case []float32:
		return unwrap(a)
	case []float64:
		return unwrap(a)
	default:
		return val
	}
}

func unwrap[T any](s []T) any {
	if len(s) == 1 {
		return s[0]
	}
	return s
}

// encodeAttr converts an attribute value into a type the classic format can
// store. Values with no numeric representation are written as text.
func encodeAttr(val any) any {
	switch a := val.(type) {
	case string:
		return a
	case float64:
		return []float64{a}
	case float32:
		return []float32{a}
	case int:
		return []int32{int32(a)}
	case int64:
		return []int32{int32(a)}
	case int32:
		return []int32{a}
	case int16:
		return []int16{a}
	case int8:
		return []int8{a}
	case []int:
		out := make([]int32, len(a))
		for i, v := range a {
			out[i] = int32(v)
		}
		return out
	case []float64, []float32, []int32, []int16, []int8:
		return a
	default:
		return fmt.Sprint(a)
	}
}

// attrFloat reads a numeric attribute, scalar or first element.
func attrFloat(val any) (float64, bool) {
	switch a := val.(type) {
	case float64:
		return a, true
	case float32:
		return float64(a), true
	case int:
		return float64(a), true
	case int64:
		return float64(a), true
	case int32:
		return float64(a), true
	case int16:
		return float64(a), true
	case int8:
		return float64(a), true
	case []float64:
		if len(a) > 0 {
			return a[0], true
		}
	case []float32:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	case []int32:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	case []int16:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	case []int8:
		if len(a) > 0 {
			return float64(a[0]), true
		}
	}
	return 0, false
}

// packing describes how float values map onto stored values.
type packing struct {
	dtype   string
	scale   float64
	offset  float64
	fill    float64
	hasFill bool
	missing float64
	hasMiss bool
}

func packingFor(enc domain.Encoding, dtype string) packing {
	p := packing{dtype: dtype, scale: 1}
	if s, ok := attrFloat(enc[encScaleFactor]); ok && s != 0 {
		p.scale = s
	}
	if o, ok := attrFloat(enc[encAddOffset]); ok {
		p.offset = o
	}
	p.fill, p.hasFill = attrFloat(enc[encFillValue])
	p.missing, p.hasMiss = attrFloat(enc[encMissingValue])
	if !p.hasFill {
		switch dtype {
		case "int16":
			p.fill, p.hasFill = defaultFillInt16, true
		case "int32":
			p.fill, p.hasFill = defaultFillInt32, true
		}
	}
	return p
}

// unpack turns stored values into physical values in place. Fill and
// missing values become NaN.
func (p packing) unpack(vals []float64) {
	for i, v := range vals {
		if (p.hasFill && v == p.fill) || (p.hasMiss && v == p.missing) {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = v*p.scale + p.offset
	}
}

// fits reports whether every non-NaN value survives packing into an integer
// storage type. Float storage always fits.
func (p packing) fits(vals []float64) bool {
	var lo, hi float64
	switch p.dtype {
	case "int16":
		lo, hi = math.MinInt16, math.MaxInt16
	case "int32":
		lo, hi = math.MinInt32, math.MaxInt32
	default:
		return true
	}
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		s := math.Round((v - p.offset) / p.scale)
		if s < lo || s > hi || math.IsInf(s, 0) {
			return false
		}
	}
	return true
}

// unpacked returns the float storage used when packing cannot hold a
// variable's values.
func unpacked(v *domain.Variable) packing {
	if v.DType == domain.Float64 {
		return packing{dtype: "float64", scale: 1}
	}
	return packing{dtype: "float32", scale: 1}
}

// pack converts physical values into a typed buffer for writing.
func (p packing) pack(vals []float64) any {
	stored := func(v float64) (float64, bool) {
		if math.IsNaN(v) {
			return p.fill, p.hasFill
		}
		return (v - p.offset) / p.scale, true
	}
	switch p.dtype {
	case "int16":
		out := make([]int16, len(vals))
		for i, v := range vals {
			s, _ := stored(v)
			out[i] = int16(math.Round(s))
		}
		return out
	case "int32":
		out := make([]int32, len(vals))
		for i, v := range vals {
			s, _ := stored(v)
			out[i] = int32(math.Round(s))
		}
		return out
	case "float64":
		out := make([]float64, len(vals))
		for i, v := range vals {
			if s, ok := stored(v); ok {
				out[i] = s
			} else {
				out[i] = v
			}
		}
		return out
	default:
		out := make([]float32, len(vals))
		for i, v := range vals {
			if s, ok := stored(v); ok {
				out[i] = float32(s)
			} else {
				out[i] = float32(v)
			}
		}
		return out
	}
}

// typedScalar returns val as a one-element slice of the storage type, as
// the classic format requires for _FillValue and missing_value.
func typedScalar(val float64, dtype string) any {
	switch dtype {
	case "int16":
		return []int16{int16(val)}
	case "int32":
		return []int32{int32(val)}
	case "float64":
		return []float64{val}
	default:
		return []float32{float32(val)}
	}
}

// zeroOf returns the value cdf.Header.AddVariable uses to infer the type.
func zeroOf(dtype string) any {
	switch dtype {
	case "int16":
		return []int16{0}
	case "int32":
		return []int32{0}
	case "float64":
		return []float64{0}
	default:
		return []float32{0}
	}
}

// storageType picks the on-disk type: the encoded source type when it can
// be written, else the variable's precision. An inherited encoding wins over
// the precision a combination computed in.
func storageType(v *domain.Variable) string {
	if s, ok := v.Encoding[encDType].(string); ok {
		switch s {
		case "int16", "int32", "float32", "float64":
			return s
		}
	}
	if v.DType == domain.Float64 {
		return "float64"
	}
	return "float32"
}
