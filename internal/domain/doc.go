// Package domain combines region-tagged climate model variables.
//
// # Water tagging
//
// Water-tagging runs of an atmosphere model carry one copy of each moisture
// quantity per source region, encoded in the variable name:
//
//	<prefix><sep><region><tail>
//
// e.g. "PRECRC_NASA18Or" is convective rain from region NASA, and
// "NASA18OI" is the same tracer with an empty prefix and no separator. The
// separator is at most one underscore; the tail is never empty.
//
// # Combination
//
// [CombineRegions] groups variables by (prefix, sep, tail), sums the members
// of each group into a new region code, reconciles their attributes and
// returns a new [Dataset]. Non-region variables pass through unchanged.
// Combinations chain: the output of one call can be the input of the next,
// for instance EURO+NASA+INDA+SASA into ERAS, then ERAS+NAMG into a larger
// basin.
//
// Region order is the caller's order. The first region of a group present in
// that order is the preferred region: it supplies attributes that are not
// subject to consensus and the variable encoding.
//
// # Precision
//
// CombineOptions.DType is the precision the sum is computed and held in.
// With CopyEncoding the combined variable also carries the preferred
// region's encoding, whose dtype decides the storage type when the dataset
// is saved.
//
// # Missing data
//
// A point where every contributor is NaN stays NaN. With SkipNA, NaN
// contributors are otherwise ignored; without it any NaN propagates. Under an
// outer join, ZeroFill turns every NaN into 0 before summing.
package domain
