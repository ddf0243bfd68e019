// Command validate checks a combined NetCDF file against the file it was
// produced from. For every recipe step it recomputes each combined variable
// as the weighted sum of its members, checks that untagged variables came
// through unchanged and that source annotations are present.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -source data/mock/cam.h0.climo.nc \
//	  -combined data/mock/cam.h0.climo_combReg.nc \
//	  -preset rcp85
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/couchcryptid/watertag-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/couchcryptid/watertag-etl/internal/recipe"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	source := flag.String("source", "", "source NetCDF file")
	combined := flag.String("combined", "", "combined NetCDF file")
	recipePath := flag.String("recipe", "", "recipe file the combined file was produced with")
	preset := flag.String("preset", "", "built-in recipe the combined file was produced with")
	tol := flag.Float64("tol", 1e-6, "relative tolerance for recomputed sums")
	flag.Parse()

	if *source == "" || *combined == "" || (*recipePath == "") == (*preset == "") {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(os.Stdout, *source, *combined, *recipePath, *preset, *tol))
}

func run(w io.Writer, sourcePath, combinedPath, recipePath, preset string, tol float64) int {
	fmt.Fprintln(w, "=== Region Combination Validation ===")
	fmt.Fprintln(w)

	var (
		rec *recipe.Recipe
		err error
	)
	if preset != "" {
		rec, err = recipe.Preset(preset)
	} else {
		rec, err = recipe.Load(recipePath)
	}
	if err != nil {
		fmt.Fprintf(w, "FATAL: load recipe: %v\n", err)
		return 1
	}

	store := netcdf.NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	src, err := store.Load(context.Background(), sourcePath)
	if err != nil {
		fmt.Fprintf(w, "FATAL: load source: %v\n", err)
		return 1
	}
	out, err := store.Load(context.Background(), combinedPath)
	if err != nil {
		fmt.Fprintf(w, "FATAL: load combined: %v\n", err)
		return 1
	}

	phases := validate(src, out, rec, tol)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Variables: %d source, %d combined\n", len(src.Vars()), len(out.Vars()))

	for _, p := range phases {
		for _, n := range p.notes {
			fmt.Fprintf(w, "  %s: %s\n", p.name, n)
		}
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func validate(src, out *domain.Dataset, rec *recipe.Recipe, tol float64) []*phase {
	// Later steps may combine regions produced by earlier ones, so members
	// are looked up in the source first and then in the combined file.
	pool := src.Clone()
	for _, v := range out.Vars() {
		if _, ok := pool.Var(v.Name); !ok {
			pool.SetVar(v)
		}
	}

	sums := &phase{name: "Combined values equal weighted sums"}
	annotations := &phase{name: "Source annotations present"}
	consumed := make(map[string]bool)

	for _, step := range rec.Steps {
		opts, err := step.Options()
		if err != nil {
			sums.errorf("step %s: %v", step.NewRegion, err)
			continue
		}
		m, err := domain.NewRegionMatcher(step.Regions)
		if err != nil {
			sums.errorf("step %s: %v", step.NewRegion, err)
			continue
		}
		groups, matched, err := domain.DiscoverGroups(pool, step.Regions)
		if err != nil {
			sums.errorf("step %s: %v", step.NewRegion, err)
			continue
		}
		for name := range matched {
			consumed[name] = true
		}
		for _, g := range groups {
			name := g.Key.VarName(step.NewRegion)
			present := g.Present(m.Regions())
			got, ok := out.Var(name)
			switch {
			case !ok && opts.RequireAll && len(present) < len(m.Regions()):
				continue
			case !ok:
				sums.errorf("%s: missing from combined file", name)
				continue
			}
			if opts.Join == domain.JoinOuter || got.Coords != nil {
				sums.notef("%s: outer join, values not checked", name)
				continue
			}
			checkSum(sums, name, got, g, present, opts, tol)
			if opts.AnnotateSources {
				checkAnnotations(annotations, got, present)
			}
		}
	}

	passThrough := &phase{name: "Untagged variables unchanged"}
	if slices.ContainsFunc(rec.Steps, func(s recipe.Step) bool { return s.KeepNonRegionVars != nil && !*s.KeepNonRegionVars }) {
		passThrough.notef("recipe drops untagged variables, not checked")
		return []*phase{sums, annotations, passThrough}
	}
	for _, v := range src.Vars() {
		if consumed[v.Name] {
			continue
		}
		got, ok := out.Var(v.Name)
		if !ok {
			passThrough.errorf("%s: missing from combined file", v.Name)
			continue
		}
		want, have := v.Values(), got.Values()
		if len(want) != len(have) || !floats.EqualApprox(nanToZero(want), nanToZero(have), 0) || !sameNaNs(want, have) {
			passThrough.errorf("%s: values differ", v.Name)
		}
	}
	return []*phase{sums, annotations, passThrough}
}

// checkSum recomputes one combined variable.
func checkSum(p *phase, name string, got *domain.Variable, g *domain.Group, present []string, opts domain.CombineOptions, tol float64) {
	want := make([]float64, len(got.Values()))
	seen := make([]bool, len(want))
	poisoned := make([]bool, len(want))
	for _, r := range present {
		member := g.Members[r].Values()
		if len(member) != len(want) {
			p.errorf("%s: member %s has %d values, combined has %d", name, g.Members[r].Name, len(member), len(want))
			return
		}
		w := 1.0
		if opts.Weights != nil {
			w = opts.Weights[r]
		}
		for i, x := range member {
			if math.IsNaN(x) {
				poisoned[i] = true
				continue
			}
			want[i] += w * x
			seen[i] = true
		}
	}

	have := got.Values()
	var absErr []float64
	for i := range want {
		if !seen[i] || (poisoned[i] && !opts.SkipNA) {
			if !math.IsNaN(have[i]) {
				p.errorf("%s[%d]: want NaN, got %g", name, i, have[i])
				return
			}
			continue
		}
		if !scalar.EqualWithinAbsOrRel(have[i], want[i], math.SmallestNonzeroFloat32, tol) {
			p.errorf("%s[%d]: want %g, got %g", name, i, want[i], have[i])
			return
		}
		absErr = append(absErr, math.Abs(have[i]-want[i]))
	}
	if len(absErr) > 0 {
		p.notef("%s: mean abs error %.3g over %d points", name, stat.Mean(absErr, nil), len(absErr))
	}
}

func checkAnnotations(p *phase, v *domain.Variable, present []string) {
	sorted := slices.Clone(present)
	slices.Sort(sorted)
	want := map[string]string{
		domain.AttrCombinedFrom:     strings.Join(sorted, ","),
		domain.AttrSourceAttrRegion: present[0],
		domain.AttrCombineOperation: "sum",
	}
	for k, w := range want {
		if got, _ := v.Attrs[k].(string); got != w {
			p.errorf("%s: %s = %q, want %q", v.Name, k, got, w)
		}
	}
}

func nanToZero(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		if !math.IsNaN(x) {
			out[i] = x
		}
	}
	return out
}

func sameNaNs(a, b []float64) bool {
	for i := range a {
		if math.IsNaN(a[i]) != math.IsNaN(b[i]) {
			return false
		}
	}
	return true
}
