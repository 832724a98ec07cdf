// Package search coordinates the constraint-based allocation algorithms:
// Pareto-MCS with CLD or LBX extraction, the guided improvement algorithm,
// hash-based model enumeration, and the single-objective linear-search and
// pseudo-Boolean optimization modes. All modes share one driver state
// machine, one solver, and one non-dominated archive under a global deadline.
package search

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hometownjlu/VMAlloc/pkg/archive"
	"github.com/hometownjlu/VMAlloc/pkg/encoding"
	"github.com/hometownjlu/VMAlloc/pkg/objective"
	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

// Algorithm selects the step function of the driver.
type Algorithm int

const (
	// AlgorithmLinearSearch minimizes energy by descending bound search.
	AlgorithmLinearSearch Algorithm = iota
	// AlgorithmMCS minimizes energy by correction subset extraction.
	AlgorithmMCS
	// AlgorithmPBO optimizes the objectives lexicographically to proven
	// optima, budget permitting.
	AlgorithmPBO
	// AlgorithmGIA enumerates the Pareto front with the guided improvement
	// algorithm.
	AlgorithmGIA
	// AlgorithmHashEnum enumerates diverse feasible models under random XOR
	// slices.
	AlgorithmHashEnum
	// AlgorithmParetoCLD enumerates the Pareto front with CLD extraction.
	AlgorithmParetoCLD
	// AlgorithmParetoLBX enumerates the Pareto front with LBX extraction.
	AlgorithmParetoLBX
)

// ParseAlgorithm maps the command-line names to algorithms.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "LS":
		return AlgorithmLinearSearch, nil
	case "MCS":
		return AlgorithmMCS, nil
	case "PBO":
		return AlgorithmPBO, nil
	case "GIA":
		return AlgorithmGIA, nil
	case "HE":
		return AlgorithmHashEnum, nil
	case "PCLD", "":
		return AlgorithmParetoCLD, nil
	case "PLBX":
		return AlgorithmParetoLBX, nil
	}
	return 0, errors.Errorf("unknown algorithm %q", s)
}

// String returns the command-line name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmLinearSearch:
		return "LS"
	case AlgorithmMCS:
		return "MCS"
	case AlgorithmPBO:
		return "PBO"
	case AlgorithmGIA:
		return "GIA"
	case AlgorithmHashEnum:
		return "HE"
	case AlgorithmParetoCLD:
		return "PCLD"
	case AlgorithmParetoLBX:
		return "PLBX"
	}
	return "?"
}

// Strategy selects division-reduction handling during stratification.
type Strategy int

const (
	// StratifyOff disables stratification.
	StratifyOff Strategy = iota
	// StratifyMerged stratifies numerator and denominator together.
	StratifyMerged
	// StratifySplit stratifies them independently and alternates streams.
	StratifySplit
)

// ParseStrategy maps the command-line names to strategies.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "OFF":
		return StratifyOff, nil
	case "MERGED":
		return StratifyMerged, nil
	case "SPLIT":
		return StratifySplit, nil
	}
	return 0, errors.Errorf("unknown stratification strategy %q", s)
}

// Config is the full option surface of the driver.
type Config struct {
	Algorithm Algorithm
	Timeout   time.Duration // zero means no limit

	SymmetryBreaking     bool
	IgnorePlatform       bool
	IgnoreAntiColocation bool
	IgnoreDenominators   bool

	HashFunctions       bool
	PathDiversification bool

	Stratify         Strategy
	PartMaxConflicts int64 // zero means no per-partition limit
	LitWeightRatio   float64
	PartitionCount   int

	// RebuildClauseLimit rebuilds the solver from the encoding plus the
	// archive's dominance cones once more blocking clauses accumulate.
	// Zero disables rebuilding.
	RebuildClauseLimit int

	Seed   int64
	Logger *logrus.Logger
}

// Driver owns the encoded model, the archive, and the per-component random
// streams for one search.
type Driver struct {
	cfg  Config
	inst *vmcwm.Instance
	log  *logrus.Logger

	model *encoding.Model
	arch  *archive.Archive

	// search objectives in fixed order: energy, wastage, migration
	objs []*objective.Reduced
	// wastage numerator/denominator for the split strategy
	splitNum, splitDen *objective.Reduced

	rngLBX, rngDiv, rngHash, rngSplit *rand.Rand

	cones      [][]int64
	blockCount int
}

// NewDriver validates the configuration and encodes the instance.
func NewDriver(inst *vmcwm.Instance, cfg Config) (*Driver, error) {
	if cfg.Algorithm == AlgorithmParetoLBX && cfg.HashFunctions {
		return nil, errors.New("hash functions are not supported by the Pareto LBX algorithm")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	d := &Driver{cfg: cfg, inst: inst, log: cfg.Logger, arch: archive.New()}

	base := rand.New(rand.NewSource(cfg.Seed))
	d.rngLBX = rand.New(rand.NewSource(base.Int63()))
	d.rngDiv = rand.New(rand.NewSource(base.Int63()))
	d.rngHash = rand.New(rand.NewSource(base.Int63()))
	d.rngSplit = rand.New(rand.NewSource(base.Int63()))

	if err := d.encode(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) encodingOptions() encoding.Options {
	return encoding.Options{
		SymmetryBreaking:     d.cfg.SymmetryBreaking,
		IgnorePlatform:       d.cfg.IgnorePlatform,
		IgnoreAntiColocation: d.cfg.IgnoreAntiColocation,
		IgnoreDenominators:   d.cfg.IgnoreDenominators,
		HashFunctions:        d.cfg.HashFunctions,
	}
}

func (d *Driver) encode() error {
	m, err := encoding.Encode(d.inst, d.encodingOptions())
	if err != nil {
		return err
	}
	d.model = m

	mgr := m.Objectives
	energy, err := mgr.Energy.Reduce()
	if err != nil {
		return err
	}
	wastage, err := mgr.Wastage().Reduce()
	if err != nil {
		return err
	}
	d.objs = []*objective.Reduced{energy, wastage}
	if mgr.Migration != nil && !mgr.Migration.Empty() {
		mig, err := mgr.Migration.Reduce()
		if err != nil {
			return err
		}
		d.objs = append(d.objs, mig)
	}

	num, den := mgr.DivisionSplit()
	if d.splitNum, err = num.Reduce(); err != nil {
		return err
	}
	if den != nil && !den.Empty() {
		if d.splitDen, err = den.Reduce(); err != nil {
			return err
		}
	}
	return nil
}

// Model exposes the encoded model, e.g. for the smart service and tests.
func (d *Driver) Model() *encoding.Model { return d.model }

// Archive exposes the archive accumulated so far.
func (d *Driver) Archive() *archive.Archive { return d.arch }

// Run executes the configured algorithm until its front is exhausted or the
// global deadline expires. The archive holds whatever was found either way;
// only configuration and encoding problems return errors.
func (d *Driver) Run(ctx context.Context) (*archive.Archive, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	var err error
	switch d.cfg.Algorithm {
	case AlgorithmLinearSearch:
		err = d.runLinearSearch(ctx)
	case AlgorithmMCS:
		err = d.runMCS(ctx)
	case AlgorithmPBO:
		err = d.runPBO(ctx)
	case AlgorithmGIA:
		err = d.runGIA(ctx)
	case AlgorithmHashEnum:
		err = d.runHashEnum(ctx)
	case AlgorithmParetoCLD:
		err = d.runParetoMCS(ctx, true)
	case AlgorithmParetoLBX:
		err = d.runParetoMCS(ctx, false)
	default:
		err = errors.Errorf("algorithm %v not implemented", d.cfg.Algorithm)
	}
	if err != nil && !errors.Is(err, errStop) {
		return d.arch, err
	}
	return d.arch, nil
}

// errStop terminates a step loop without failing the run: deadline reached or
// front exhausted.
var errStop = errors.New("search stopped")

// values reads the current model's integer objective values.
func (d *Driver) values() []int64 {
	vs := make([]int64, len(d.objs))
	for i, r := range d.objs {
		vs[i] = d.model.ValueOf(r)
	}
	return vs
}

// record decodes the solver model, evaluates it with the reference formulae
// and inserts it into the archive.
func (d *Driver) record() (vmcwm.Placement, archive.InsertResult) {
	p := d.model.Decode()
	v := d.inst.Evaluate(p)
	res := d.arch.Insert(v, p)
	if res == archive.Inserted {
		d.log.WithFields(logrus.Fields{
			"energy":  v.Energy.FloatString(5),
			"wastage": v.Wastage.FloatString(5),
			"archive": d.arch.Len(),
		}).Debug("solution recorded")
	}
	return p, res
}

// blockCone adds the Pareto blocking clause for the given integer objective
// values: any later model must improve at least one objective strictly.
func (d *Driver) blockCone(vs []int64) error {
	d.cones = append(d.cones, append([]int64(nil), vs...))
	if err := d.assertCone(vs); err != nil {
		return err
	}
	d.blockCount++
	if d.cfg.RebuildClauseLimit > 0 && d.blockCount > d.cfg.RebuildClauseLimit {
		return d.rebuild()
	}
	return nil
}

func (d *Driver) assertCone(vs []int64) error {
	var lits []z.Lit
	for i, v := range vs {
		if v <= 0 {
			continue
		}
		m, err := d.model.BoundLeq(d.objs[i], v-1)
		if err != nil {
			return err
		}
		lits = append(lits, m)
	}
	// an empty clause ends enumeration: the point is componentwise optimal
	d.model.S.AddClause(lits...)
	return nil
}

// rebuild recreates the solver from the encoder output and replays every
// accumulated dominance cone, shedding learned state and blocking clause
// bookkeeping that may have degraded solver performance.
func (d *Driver) rebuild() error {
	d.log.WithField("cones", len(d.cones)).Debug("rebuilding solver")
	cones := d.cones
	if err := d.encode(); err != nil {
		return err
	}
	d.cones = d.cones[:0]
	d.blockCount = 0
	for _, vs := range cones {
		d.cones = append(d.cones, vs)
		if err := d.assertCone(vs); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) partBudget() int64 { return d.cfg.PartMaxConflicts }
