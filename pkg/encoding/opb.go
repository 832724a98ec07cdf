package encoding

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/objective"
	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

// opbVars numbers the encoded variables 1..n in creation order for the OPB
// dump: placement variables, usage indicators, then slack bits.
type opbVars struct {
	index map[z.Var]int
	count int
}

func (m *Model) opbVars() *opbVars {
	v := &opbVars{index: make(map[z.Var]int)}
	add := func(l z.Lit) {
		if _, ok := v.index[l.Var()]; !ok {
			v.count++
			v.index[l.Var()] = v.count
		}
	}
	for vi := range m.X {
		for pi := range m.X[vi] {
			add(m.X[vi][pi])
		}
	}
	for _, y := range m.Y {
		add(y)
	}
	for _, bits := range m.slack {
		for _, b := range bits {
			add(b)
		}
	}
	return v
}

// term renders "+c x3" or "+c ~x3" for a literal.
func (v *opbVars) term(coeff string, l z.Lit) string {
	name := fmt.Sprintf("x%d", v.index[l.Var()])
	if !l.IsPos() {
		name = "~" + name
	}
	return fmt.Sprintf("%s %s", coeff, name)
}

func signedInt(w int64) string {
	if w >= 0 {
		return fmt.Sprintf("+%d", w)
	}
	return fmt.Sprintf("%d", w)
}

// DumpOPB serialises the encoded problem as a multi-objective pseudo-Boolean
// optimization file with one min: line per objective. With allowDecimals the
// objective coefficients are printed as decimals; otherwise denominators are
// cleared by common multiplication.
func (m *Model) DumpOPB(w io.Writer, allowDecimals bool) error {
	vars := m.opbVars()
	var body strings.Builder
	nConstraints := 0
	constraint := func(format string, args ...interface{}) {
		fmt.Fprintf(&body, format, args...)
		body.WriteString(" ;\n")
		nConstraints++
	}

	num, den := m.Objectives.DivisionSplit()
	minLines := []*objective.Function{m.Objectives.Energy, num}
	if den != nil && !den.Empty() {
		minLines = append(minLines, den)
	}
	if m.Objectives.Migration != nil && !m.Objectives.Migration.Empty() {
		minLines = append(minLines, m.Objectives.Migration)
	}
	for _, f := range minLines {
		line, err := m.opbObjective(vars, f, allowDecimals)
		if err != nil {
			return err
		}
		fmt.Fprintf(&body, "min: %s ;\n", line)
	}

	vms := m.Inst.VMs()
	pms := m.Inst.PMs()

	for vi := range vms {
		var terms []string
		for pi := range pms {
			if m.admissible(vi, pi) {
				terms = append(terms, vars.term("+1", m.X[vi][pi]))
			} else {
				constraint("%s >= 0", vars.term("-1", m.X[vi][pi]))
			}
		}
		constraint("%s = 1", strings.Join(terms, " "))
	}

	for pi, pm := range pms {
		var cpu, mem []string
		for vi, vm := range vms {
			if !m.admissible(vi, pi) {
				continue
			}
			cpu = append(cpu, vars.term(signedInt(-vm.CPU), m.X[vi][pi]))
			mem = append(mem, vars.term(signedInt(-vm.Memory), m.X[vi][pi]))
			constraint("%s %s >= 0", vars.term("+1", m.Y[pi]), vars.term("-1", m.X[vi][pi]))
		}
		if len(cpu) == 0 {
			continue
		}
		constraint("%s >= %d", strings.Join(cpu, " "), -pm.CPU)
		constraint("%s >= %d", strings.Join(mem, " "), -pm.Memory)

		var hosted []string
		for vi := range vms {
			if m.admissible(vi, pi) {
				hosted = append(hosted, vars.term("+1", m.X[vi][pi]))
			}
		}
		constraint("%s %s >= 0", strings.Join(hosted, " "), vars.term("-1", m.Y[pi]))

		// imbalance counter: T - D >= 0 and T + D >= 0
		if len(m.slack[pi]) > 0 {
			var tPlus, tMinus []string
			for k, bit := range m.slack[pi] {
				t := vars.term(signedInt(int64(1)<<uint(k)), bit)
				tPlus = append(tPlus, t)
				tMinus = append(tMinus, t)
			}
			for vi, vm := range vms {
				if !m.admissible(vi, pi) {
					continue
				}
				d := vm.Memory*pm.CPU - vm.CPU*pm.Memory
				if d == 0 {
					continue
				}
				tPlus = append(tPlus, vars.term(signedInt(-d), m.X[vi][pi]))
				tMinus = append(tMinus, vars.term(signedInt(d), m.X[vi][pi]))
			}
			constraint("%s >= 0", strings.Join(tPlus, " "))
			constraint("%s >= 0", strings.Join(tMinus, " "))
		}
	}

	if m.Opts.SymmetryBreaking {
		for pi := 1; pi < len(pms); pi++ {
			if pms[pi].SameKind(pms[pi-1]) {
				constraint("%s %s >= 0", vars.term("+1", m.Y[pi-1]), vars.term("-1", m.Y[pi]))
			}
		}
	}

	if !m.Opts.IgnoreAntiColocation {
		for _, job := range m.Inst.Jobs() {
			var group []int
			for _, vm := range job.VMs {
				if vm.AntiColocatable {
					vi, _ := m.Inst.VMIndex(vm.JobID, vm.Index)
					group = append(group, vi)
				}
			}
			if len(group) < 2 {
				continue
			}
			for pi := range pms {
				var terms []string
				for _, vi := range group {
					if m.admissible(vi, pi) {
						terms = append(terms, vars.term("-1", m.X[vi][pi]))
					}
				}
				if len(terms) > 1 {
					constraint("%s >= -1", strings.Join(terms, " "))
				}
			}
		}
	}

	if m.Inst.HasMappings() {
		budget := m.Inst.MaxMigrationMemory()
		if !budget.IsInt64() {
			return errors.Wrapf(ErrOverflow, "migration budget %s", budget)
		}
		var terms []string
		for vi, vm := range vms {
			cur := m.Inst.CurrentPM(vi)
			if cur == vmcwm.Unassigned {
				continue
			}
			terms = append(terms, vars.term(signedInt(-vm.Memory), m.X[vi][cur].Not()))
		}
		if len(terms) > 0 {
			constraint("%s >= %d", strings.Join(terms, " "), -budget.Int64())
		}
	}

	fmt.Fprintf(w, "* #variable= %d #constraint= %d\n", vars.count, nConstraints)
	fmt.Fprintf(w, "* vmcwm multi-objective encoding: pms= %d jobs= %d vms= %d\n",
		len(pms), len(m.Inst.Jobs()), len(vms))
	_, err := io.WriteString(w, body.String())
	return err
}

func (m *Model) opbObjective(vars *opbVars, f *objective.Function, allowDecimals bool) (string, error) {
	var terms []string
	if allowDecimals {
		for i, l := range f.Lits {
			terms = append(terms, vars.term("+"+ratDecimal(f.Coeffs[i]), l))
		}
		return strings.Join(terms, " "), nil
	}
	r, err := f.Reduce()
	if err != nil {
		return "", errors.Wrapf(ErrOverflow, "objective %s: %v", f.Name, err)
	}
	for i, l := range r.Lits {
		terms = append(terms, vars.term(signedInt(r.Weights[i]), l))
	}
	return strings.Join(terms, " "), nil
}

func ratDecimal(r *big.Rat) string {
	s := r.FloatString(9)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
