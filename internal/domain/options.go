package domain

import "fmt"

// JoinMode selects how per-region indexes are reconciled before summing.
type JoinMode string

const (
	// JoinExact requires identical indexes and fails otherwise.
	JoinExact JoinMode = "exact"
	// JoinOuter takes the union of indexes and leaves NaN gaps.
	JoinOuter JoinMode = "outer"
)

// InheritPolicy selects how combined variables inherit attributes.
type InheritPolicy string

const (
	// InheritPreferOrder copies the preferred region's attributes verbatim.
	InheritPreferOrder InheritPolicy = "prefer_order"
	// InheritConsensus keeps attributes that agree across all regions.
	InheritConsensus InheritPolicy = "consensus"
)

// Attribute names written when AnnotateSources is set.
const (
	AttrCombinedFrom     = "combined_from_regions"
	AttrSourceAttrRegion = "source_attr_region"
	AttrCombineOperation = "combine_operation"

	combineOperationSum = "sum"
	missingInfoSuffix   = "_missing_regions_info"
)

// CombineOptions configures a region combination. Use DefaultCombineOptions
// and override fields; the zero value is not a useful configuration.
type CombineOptions struct {
	// Weights multiplies each region's values before summing. A nil map
	// weights every region 1.0; in a non-nil map absent regions weigh 0.0.
	Weights map[string]float64

	// RequireAll skips groups that lack any of the requested regions.
	RequireAll bool

	Join JoinMode

	// ZeroFill replaces NaN with 0 before summing. Ignored for JoinExact.
	ZeroFill bool

	// SkipNA ignores NaN contributors. A point where every contributor is
	// NaN stays NaN either way.
	SkipNA bool

	// DType is the output precision. Narrowing to float32 is lossy.
	DType DType

	InheritAttrs InheritPolicy

	// CopyEncoding carries the preferred region's encoding over.
	CopyEncoding bool

	// AnnotateSources adds combined_from_regions, source_attr_region and
	// combine_operation attributes to each combined variable.
	AnnotateSources bool

	// ConsensusOnlyKeys restricts the consensus check to these keys; other
	// keys come from the preferred region. nil means every key needs consensus.
	ConsensusOnlyKeys map[string]struct{}

	// PreferKeys are always taken from the preferred region.
	PreferKeys map[string]struct{}

	// KeepNonRegionVars passes unmatched variables through to the output.
	KeepNonRegionVars bool
}

// DefaultCombineOptions returns the documented defaults.
func DefaultCombineOptions() CombineOptions {
	return CombineOptions{
		Join:              JoinExact,
		SkipNA:            true,
		DType:             Float32,
		InheritAttrs:      InheritPreferOrder,
		CopyEncoding:      true,
		AnnotateSources:   true,
		KeepNonRegionVars: true,
	}
}

// KeySet builds an attribute key set for ConsensusOnlyKeys or PreferKeys.
func KeySet(keys ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Validate reports configuration errors in the policy fields.
func (o CombineOptions) Validate() error {
	switch o.InheritAttrs {
	case InheritPreferOrder, InheritConsensus:
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownInheritPolicy, o.InheritAttrs)
	}
	switch o.Join {
	case JoinExact, JoinOuter:
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownJoin, o.Join)
	}
	if _, err := ParseDType(string(o.DType)); err != nil {
		return err
	}
	return nil
}

// weight returns the multiplier for region.
func (o CombineOptions) weight(region string) float64 {
	if o.Weights == nil {
		return 1
	}
	return o.Weights[region]
}
