// Package objective maintains the linear pseudo-Boolean objective functions
// of the encoded problem: literal lists with exact rational coefficients,
// reduction to integer weights by common-denominator multiplication, and the
// merged/split strategies for handling the divided wastage objective.
package objective

import (
	"math/big"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"
)

// ErrOverflow reports integer weights exceeding the representable range
// after denominator clearing.
var ErrOverflow = errors.New("objective weight overflow")

// Function is a weighted sum of literals with rational coefficients.
type Function struct {
	Name   string
	Lits   []z.Lit
	Coeffs []*big.Rat
}

// New creates an empty objective function.
func New(name string) *Function {
	return &Function{Name: name}
}

// Add appends a term. Zero coefficients are dropped.
func (f *Function) Add(m z.Lit, coeff *big.Rat) {
	if coeff.Sign() == 0 {
		return
	}
	f.Lits = append(f.Lits, m)
	f.Coeffs = append(f.Coeffs, new(big.Rat).Set(coeff))
}

// Empty reports whether the function has no terms.
func (f *Function) Empty() bool { return len(f.Lits) == 0 }

// Merged concatenates functions into one, the merged strategy for divided
// objectives: numerator and denominator terms are stratified together on
// their combined weights.
func Merged(name string, fs ...*Function) *Function {
	out := New(name)
	for _, f := range fs {
		for i, m := range f.Lits {
			out.Add(m, f.Coeffs[i])
		}
	}
	return out
}

// Reduced is an objective with integer weights. The rational value of the
// objective is the integer weight sum divided by Denominator.
type Reduced struct {
	Name        string
	Lits        []z.Lit
	Weights     []int64
	Denominator *big.Int
}

// Reduce clears denominators by multiplying every coefficient with the least
// common multiple of all denominators. Weights that do not fit in an int64
// yield ErrOverflow; nothing is silently wrapped.
func (f *Function) Reduce() (*Reduced, error) {
	lcm := big.NewInt(1)
	for _, c := range f.Coeffs {
		lcm = lcmInt(lcm, c.Denom())
	}
	r := &Reduced{
		Name:        f.Name,
		Lits:        make([]z.Lit, 0, len(f.Lits)),
		Weights:     make([]int64, 0, len(f.Lits)),
		Denominator: lcm,
	}
	w := new(big.Int)
	for i, c := range f.Coeffs {
		if c.Sign() < 0 {
			return nil, errors.Errorf("objective %s has negative coefficient %v", f.Name, c)
		}
		w.Div(lcm, c.Denom())
		w.Mul(w, c.Num())
		if !w.IsInt64() {
			return nil, errors.Wrapf(ErrOverflow, "objective %s coefficient %v with denominator %s", f.Name, c, lcm)
		}
		r.Lits = append(r.Lits, f.Lits[i])
		r.Weights = append(r.Weights, w.Int64())
	}
	return r, nil
}

// Value sums the weights of terms whose literal is true in the given model.
func (r *Reduced) Value(model func(z.Lit) bool) int64 {
	var total int64
	for i, m := range r.Lits {
		if model(m) {
			total += r.Weights[i]
		}
	}
	return total
}

// Rat converts an integer objective value back to the rational scale.
func (r *Reduced) Rat(v int64) *big.Rat {
	return new(big.Rat).SetFrac(big.NewInt(v), r.Denominator)
}

// Total returns the weight sum over all terms, an upper bound on any value.
func (r *Reduced) Total() int64 {
	var total int64
	for _, w := range r.Weights {
		total += w
	}
	return total
}

func lcmInt(a, b *big.Int) *big.Int {
	g := new(big.Int).GCD(nil, nil, a, b)
	out := new(big.Int).Div(a, g)
	return out.Mul(out, b)
}

// Manager owns the objective functions of one encoded instance. Wastage is
// kept as separate numerator and denominator functions; the division-handling
// strategy chooses how they are linearised for search.
type Manager struct {
	Energy     *Function
	WastageNum *Function
	WastageDen *Function
	Migration  *Function // nil when the instance has no current mapping

	ignoreDen bool
}

// IgnoreDenominators makes the manager expose the wastage numerator alone.
func (m *Manager) IgnoreDenominators() { m.ignoreDen = true }

// DenominatorsIgnored reports whether the denominator objective is dropped.
func (m *Manager) DenominatorsIgnored() bool { return m.ignoreDen }

// Wastage returns the wastage objective under the merged strategy: the plain
// numerator when denominators are ignored, otherwise numerator and
// denominator merged into a single weighted sum.
func (m *Manager) Wastage() *Function {
	if m.ignoreDen || m.WastageDen == nil || m.WastageDen.Empty() {
		return m.WastageNum
	}
	return Merged(m.WastageNum.Name, m.WastageNum, m.WastageDen)
}

// DivisionSplit returns the wastage numerator and denominator as independent
// sub-objectives for the split strategy. The denominator is nil when ignored.
func (m *Manager) DivisionSplit() (num, den *Function) {
	if m.ignoreDen {
		return m.WastageNum, nil
	}
	return m.WastageNum, m.WastageDen
}

// Functions returns the linear objectives driving the Pareto search, in the
// fixed order energy, wastage, migration.
func (m *Manager) Functions() []*Function {
	fs := []*Function{m.Energy, m.Wastage()}
	if m.Migration != nil && !m.Migration.Empty() {
		fs = append(fs, m.Migration)
	}
	return fs
}
