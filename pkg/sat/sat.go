// Package sat wraps the gini CDCL solver behind the incremental interface the
// allocation algorithms need: fresh variables, hard clauses, cardinality and
// weighted pseudo-Boolean bounds compiled through sorting networks, XOR
// parity side-constraints, assumptions, blocking clauses, and per-call
// conflict budgets on top of a global deadline.
package sat

import (
	"time"

	"github.com/pkg/errors"
)

// Solver call outcomes, following gini's convention.
const (
	Satisfiable   = 1
	Unsatisfiable = -1
	Unknown       = 0
)

var (
	// ErrBudgetExceeded reports that a solver call consumed its conflict
	// budget without reaching a result.
	ErrBudgetExceeded = errors.New("conflict budget exceeded")

	// ErrDeadline reports that the global deadline expired during a call.
	ErrDeadline = errors.New("deadline reached")
)

// ConflictsPerSecond is the nominal conflict rate used to convert conflict
// budgets into wall-clock limits for the underlying solver, which enforces
// time rather than conflict counts. Budget-limited calls are therefore
// timing-dependent: where exactly a call is cut varies with the machine and
// the scheduler, so runs that exhaust a budget may fold partitions or mark
// results non-proved differently across hosts. Calls without a budget are
// unaffected.
var ConflictsPerSecond int64 = 100000

// Budget limits a single solver call. The zero value is unlimited.
type Budget struct {
	MaxConflicts int64
}

// Limited reports whether the budget constrains the call.
func (b Budget) Limited() bool { return b.MaxConflicts > 0 }

// Duration converts the conflict budget to a wall-clock limit.
func (b Budget) Duration() time.Duration {
	if !b.Limited() {
		return 0
	}
	d := time.Duration(b.MaxConflicts) * time.Second / time.Duration(ConflictsPerSecond)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
