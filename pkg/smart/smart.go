// Package smart offers constraint-solver-backed repair and local improvement
// to external evolutionary callers. The service borrows the driver's encoded
// model re-entrantly: candidate assignments are fixed through assumptions
// only, so nothing it does pollutes the shared constraint system.
package smart

import (
	"context"
	"math/rand"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hometownjlu/VMAlloc/pkg/encoding"
	"github.com/hometownjlu/VMAlloc/pkg/mcs"
	"github.com/hometownjlu/VMAlloc/pkg/objective"
	"github.com/hometownjlu/VMAlloc/pkg/sat"
	"github.com/hometownjlu/VMAlloc/pkg/stratify"
	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

var (
	// ErrUnsat reports that no feasible completion of the fixed assignment
	// exists; the caller keeps the original candidate.
	ErrUnsat = errors.New("no feasible completion")

	// ErrInfeasible reports that repair failed even with every variable
	// unfixed; the evolutionary layer should discard the individual.
	ErrInfeasible = errors.New("candidate cannot be repaired")
)

// DefaultImproveRelaxRate is the fraction of assignments relaxed during
// improvement.
const DefaultImproveRelaxRate = 0.2

// Params configures the service.
type Params struct {
	// Rate is the default fraction of assignments unfixed during repair,
	// used when the caller passes no rate of its own.
	Rate float64

	// MaxConflicts budgets one repair solver call. Zero means unlimited.
	MaxConflicts int64

	// DomainUnfixing additionally unfixes assignments whose values
	// contradict hard constraints when a repair attempt fails.
	DomainUnfixing bool

	// Improvement runs local improvement on feasible candidates after
	// repair.
	Improvement bool

	ImproveRelaxRate    float64
	ImproveMaxConflicts int64

	PartMaxConflicts int64
	LitWeightRatio   float64
	PartitionCount   int

	Seed   int64
	Logger *logrus.Logger
}

// Service repairs and improves candidate placements against a borrowed model.
type Service struct {
	inst   *vmcwm.Instance
	model  *encoding.Model
	params Params
	rng    *rand.Rand
	log    *logrus.Logger

	objs []*objective.Reduced
}

// NewService binds the service to an instance and its encoded model.
func NewService(inst *vmcwm.Instance, model *encoding.Model, params Params) (*Service, error) {
	if params.Logger == nil {
		params.Logger = logrus.New()
	}
	if params.ImproveRelaxRate <= 0 {
		params.ImproveRelaxRate = DefaultImproveRelaxRate
	}
	s := &Service{
		inst:   inst,
		model:  model,
		params: params,
		rng:    rand.New(rand.NewSource(params.Seed)),
		log:    params.Logger,
	}

	mgr := model.Objectives
	energy, err := mgr.Energy.Reduce()
	if err != nil {
		return nil, err
	}
	wastage, err := mgr.Wastage().Reduce()
	if err != nil {
		return nil, err
	}
	s.objs = []*objective.Reduced{energy, wastage}
	if mgr.Migration != nil && !mgr.Migration.Empty() {
		mig, err := mgr.Migration.Reduce()
		if err != nil {
			return nil, err
		}
		s.objs = append(s.objs, mig)
	}
	return s, nil
}

// quiet drops the log level for the duration of a re-entered call.
func (s *Service) quiet() func() {
	lvl := s.log.GetLevel()
	s.log.SetLevel(logrus.ErrorLevel)
	return func() { s.log.SetLevel(lvl) }
}

// Mutate repairs a candidate placement. Assignments are fixed through
// assumptions with a random fraction rate unfixed; a rate outside (0,1]
// falls back to the configured default. A feasible candidate is returned
// unchanged unless improvement is enabled. On an unsatisfiable fix set with
// domain unfixing enabled, the assignments reported by the failed assumption
// set are unfixed and the repair retried.
func (s *Service) Mutate(ctx context.Context, candidate vmcwm.Placement, rate float64) (vmcwm.Placement, error) {
	defer s.quiet()()

	if rate <= 0 || rate > 1 {
		rate = s.params.Rate
	}

	if s.inst.Validate(candidate) == nil {
		if !s.params.Improvement {
			return candidate, nil
		}
		return s.improve(ctx, candidate)
	}

	fixed := make([]z.Lit, 0, len(candidate))
	for vi, pi := range candidate {
		if pi == vmcwm.Unassigned || pi < 0 || pi >= len(s.model.Y) {
			continue
		}
		if s.rng.Float64() < rate {
			continue
		}
		fixed = append(fixed, s.model.X[vi][pi])
	}

	for {
		s.model.S.Assume(fixed...)
		res, err := s.model.S.Solve(ctx, sat.Budget{MaxConflicts: s.params.MaxConflicts})
		if err != nil {
			return candidate, err
		}
		if res == sat.Satisfiable {
			repaired := s.model.Decode()
			if s.params.Improvement {
				return s.improve(ctx, repaired)
			}
			return repaired, nil
		}
		if len(fixed) == 0 {
			return candidate, ErrInfeasible
		}
		if !s.params.DomainUnfixing {
			return candidate, ErrUnsat
		}
		next := s.unfixFailed(fixed)
		if len(next) == len(fixed) {
			// nothing left to unfix selectively; release everything
			next = next[:0]
		}
		fixed = next
	}
}

// unfixFailed removes the assignments named by the solver's failed assumption
// set from the fixed literals.
func (s *Service) unfixFailed(fixed []z.Lit) []z.Lit {
	failed := make(map[z.Lit]bool)
	for _, m := range s.model.S.Why() {
		failed[m] = true
	}
	kept := fixed[:0]
	for _, m := range fixed {
		if !failed[m] && !failed[m.Not()] {
			kept = append(kept, m)
		}
	}
	return kept
}

// improve searches the neighborhood of a feasible candidate with a short
// stratified CLD pass, most of the candidate's assignments held fixed, and
// returns the result when it dominates the candidate.
func (s *Service) improve(ctx context.Context, candidate vmcwm.Placement) (vmcwm.Placement, error) {
	if s.params.ImproveMaxConflicts > 0 {
		total := sat.Budget{MaxConflicts: s.params.ImproveMaxConflicts}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, total.Duration())
		defer cancel()
	}

	var locked []z.Lit
	for vi, pi := range candidate {
		if pi == vmcwm.Unassigned {
			continue
		}
		if s.rng.Float64() < s.params.ImproveRelaxRate {
			continue
		}
		locked = append(locked, s.model.X[vi][pi])
	}

	engine := &mcs.Engine{
		S:      s.model.S,
		Budget: sat.Budget{MaxConflicts: s.params.PartMaxConflicts},
		Locked: locked,
	}
	status, err := s.cldPass(ctx, engine)
	if err != nil || status != sat.Satisfiable {
		// deadline or an over-constrained neighborhood; keep the original
		return candidate, nil
	}
	neighbor := s.model.Decode()
	if s.inst.Evaluate(neighbor).Dominates(s.inst.Evaluate(candidate)) {
		return neighbor, nil
	}
	return candidate, nil
}

// cldPass minimizes the objectives over the stratified partition stream with
// the engine's locked neighborhood, folding budget-cut partitions forward.
func (s *Service) cldPass(ctx context.Context, engine *mcs.Engine) (int, error) {
	sc := stratify.Config{
		LitWeightRatio: s.params.LitWeightRatio,
		PartitionCount: s.params.PartitionCount,
	}
	var streams []stratify.Stream
	for _, r := range s.objs {
		streams = append(streams, stratify.NewStream(sc.Split(r)))
	}
	stream := stratify.NewMultiStream(streams...)

	prevFold := -1
	for {
		part, ok := stream.Next()
		if !ok {
			break
		}
		if part.Empty() {
			continue
		}
		res, err := engine.CLD(ctx, part)
		if err != nil {
			if errors.Is(err, sat.ErrBudgetExceeded) {
				if len(part.Lits) == prevFold {
					engine.Locked = append(engine.Locked, res.Satisfied...)
					prevFold = -1
					continue
				}
				prevFold = len(part.Lits)
				stream.Fold(part)
				continue
			}
			return sat.Unknown, err
		}
		prevFold = -1
		if res.Status == sat.Unsatisfiable {
			return sat.Unsatisfiable, nil
		}
		engine.Locked = append(engine.Locked, res.Satisfied...)
		for _, f := range res.Falsified {
			engine.Locked = append(engine.Locked, f.Not())
		}
	}

	engine.S.Assume(engine.Locked...)
	return engine.S.Solve(ctx, sat.Budget{})
}
