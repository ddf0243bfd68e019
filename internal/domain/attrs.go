package domain

import (
	"reflect"
	"slices"
	"strings"
)

// attrSource says where a merged attribute value comes from.
type attrSource int

const (
	fromPreferred attrSource = iota
	fromConsensus
)

// attrRuleFor decides the source of one attribute key under the consensus
// policy. Forced-preferred keys win over the restriction set; with no
// restriction set every other key needs consensus.
func attrRuleFor(key string, preferKeys, consensusKeys map[string]struct{}) attrSource {
	if _, ok := preferKeys[key]; ok {
		return fromPreferred
	}
	if consensusKeys == nil {
		return fromConsensus
	}
	if _, ok := consensusKeys[key]; ok {
		return fromConsensus
	}
	return fromPreferred
}

// absent stands in for a missing attribute when comparing values.
type absent struct{}

func lookupAttr(a Attrs, key string) any {
	if v, ok := a[key]; ok {
		return v
	}
	return absent{}
}

// mergeAttrs builds the attributes of a combined variable. present must be in
// canonical order and non-empty; its first entry is the preferred region.
func mergeAttrs(g *Group, present []string, opts CombineOptions) Attrs {
	preferred := g.Members[present[0]]

	var out Attrs
	switch opts.InheritAttrs {
	case InheritConsensus:
		out = consensusAttrs(g, present, opts)
	default:
		out = preferred.Attrs.Clone()
	}
	if out == nil {
		out = Attrs{}
	}

	if opts.AnnotateSources {
		sorted := slices.Clone(present)
		slices.Sort(sorted)
		out[AttrCombinedFrom] = strings.Join(sorted, ",")
		out[AttrSourceAttrRegion] = present[0]
		out[AttrCombineOperation] = combineOperationSum
	}
	return out
}

func consensusAttrs(g *Group, present []string, opts CombineOptions) Attrs {
	preferred := g.Members[present[0]].Attrs

	var keys []string
	for _, r := range present {
		for k := range g.Members[r].Attrs {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}

	out := make(Attrs, len(keys))
	for _, k := range keys {
		switch attrRuleFor(k, opts.PreferKeys, opts.ConsensusOnlyKeys) {
		case fromPreferred:
			if v, ok := preferred[k]; ok {
				out[k] = v
			}
		case fromConsensus:
			want := lookupAttr(preferred, k)
			agreed := true
			for _, r := range present[1:] {
				if !attrEqual(lookupAttr(g.Members[r].Attrs, k), want) {
					agreed = false
					break
				}
			}
			if _, missing := want.(absent); agreed && !missing {
				out[k] = want
			}
		}
	}
	return out
}

// attrEqual compares attribute values. Numbers compare by value across
// integer and float widths, element-wise for slices; everything else must be
// deeply equal.
func attrEqual(a, b any) bool {
	if x, ok := numeric(a); ok {
		y, ok := numeric(b)
		return ok && slices.Equal(x, y)
	}
	return reflect.DeepEqual(a, b)
}

// numeric widens a number or a slice of numbers to float64.
func numeric(v any) ([]float64, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if x, ok := scalarFloat(rv); ok {
		return []float64{x}, true
	}
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	if _, ok := scalarFloat(reflect.Zero(rv.Type().Elem())); !ok {
		return nil, false
	}
	out := make([]float64, rv.Len())
	for i := range out {
		x, ok := scalarFloat(rv.Index(i))
		if !ok {
			return nil, false
		}
		out[i] = x
	}
	return out, true
}

func scalarFloat(rv reflect.Value) (float64, bool) {
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}

// inheritEncoding copies the preferred region's encoding when enabled.
func inheritEncoding(preferred *Variable, opts CombineOptions) Encoding {
	if !opts.CopyEncoding || len(preferred.Encoding) == 0 {
		return nil
	}
	return preferred.Encoding.Clone()
}
