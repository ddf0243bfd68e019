package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors. They are returned before any work is done.
var (
	ErrNoRegions            = errors.New("provide at least one region")
	ErrUnknownInheritPolicy = errors.New(`inherit attrs must be "prefer_order" or "consensus"`)
	ErrUnknownJoin          = errors.New(`join must be "exact" or "outer"`)
	ErrUnknownDType         = errors.New("unsupported dtype")
)

// AlignmentError reports per-region variables whose indexes cannot be
// brought onto a common grid under the requested join.
type AlignmentError struct {
	Dim    string
	Vars   []string
	Reason string
}

func (e *AlignmentError) Error() string {
	if e.Dim == "" {
		return fmt.Sprintf("cannot align %s: %s", strings.Join(e.Vars, ", "), e.Reason)
	}
	return fmt.Sprintf("cannot align %s along dimension %q: %s", strings.Join(e.Vars, ", "), e.Dim, e.Reason)
}
