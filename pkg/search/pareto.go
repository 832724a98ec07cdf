package search

import (
	"context"

	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/mcs"
	"github.com/hometownjlu/VMAlloc/pkg/objective"
	"github.com/hometownjlu/VMAlloc/pkg/sat"
	"github.com/hometownjlu/VMAlloc/pkg/stratify"
)

// runParetoMCS enumerates the Pareto front. Each iteration minimizes all
// objectives with correction subset extraction over the stratified soft
// literal stream, records the resulting model, and blocks its dominance cone
// so the next iteration must improve some objective strictly.
func (d *Driver) runParetoMCS(ctx context.Context, cld bool) error {
	for {
		engine := &mcs.Engine{
			S:      d.model.S,
			Budget: sat.Budget{MaxConflicts: d.partBudget()},
		}
		hashed := false
		if d.cfg.HashFunctions {
			engine.Locked = d.hashAssumptions()
			hashed = len(engine.Locked) > 0
		}

		status, err := d.mcsPass(ctx, engine, d.softStream(), cld)
		if err != nil {
			return errStop
		}
		if status == sat.Unsatisfiable {
			if hashed {
				// the hash cell may just be empty; check the front itself
				res, err := d.model.S.Solve(ctx, sat.Budget{})
				if err != nil {
					return errStop
				}
				if res == sat.Unsatisfiable {
					return nil
				}
				continue
			}
			return nil
		}

		d.record()
		if err := d.blockCone(d.values()); err != nil {
			return err
		}
	}
}

// mcsPass runs correction subset extraction over one partition stream,
// locking each partition's optimum before moving to the next. A partition cut
// by the conflict budget is folded into its successor; when the stream offers
// no successor its best-effort result is locked instead. The pass ends with a
// solver model standing whenever it reports sat.Satisfiable.
func (d *Driver) mcsPass(ctx context.Context, engine *mcs.Engine, stream stratify.Stream, cld bool) (int, error) {
	prevFold := -1
	for {
		part, ok := stream.Next()
		if !ok {
			break
		}
		if part.Empty() {
			continue
		}
		if cld && d.cfg.PathDiversification {
			d.diversify(&part)
		}

		var res mcs.Result
		var err error
		if cld {
			res, err = engine.CLD(ctx, part)
		} else {
			res, err = engine.LBX(ctx, part, d.rngLBX)
		}
		if err != nil {
			if errors.Is(err, sat.ErrBudgetExceeded) {
				if len(part.Lits) == prevFold {
					// the fold gained nothing; keep the best-effort result
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

	// rematerialize a model satisfying everything locked
	engine.S.Assume(engine.Locked...)
	return engine.S.Solve(ctx, sat.Budget{})
}

// softStream builds the partition stream over all search objectives in order,
// honoring the stratification strategy.
func (d *Driver) softStream() stratify.Stream {
	sc := stratify.Config{
		LitWeightRatio: d.cfg.LitWeightRatio,
		PartitionCount: d.cfg.PartitionCount,
	}
	split := func(r *objective.Reduced) []stratify.Partition {
		if d.cfg.Stratify == StratifyOff {
			return []stratify.Partition{{Lits: r.Lits, Weights: r.Weights}}
		}
		return sc.Split(r)
	}

	streams := []stratify.Stream{stratify.NewStream(split(d.objs[0]))}
	if d.cfg.Stratify == StratifySplit && d.splitDen != nil {
		streams = append(streams, stratify.NewSplitStream(split(d.splitNum), split(d.splitDen), d.rngSplit))
	} else {
		streams = append(streams, stratify.NewStream(split(d.objs[1])))
	}
	if len(d.objs) > 2 {
		streams = append(streams, stratify.NewStream(split(d.objs[2])))
	}
	return stratify.NewMultiStream(streams...)
}

// diversify rotates the soft literal order of a partition so successive
// iterations explore different correction subsets first.
func (d *Driver) diversify(p *stratify.Partition) {
	n := len(p.Lits)
	if n < 2 {
		return
	}
	k := d.rngDiv.Intn(n)
	if k == 0 {
		return
	}
	p.Lits = append(append([]z.Lit(nil), p.Lits[k:]...), p.Lits[:k]...)
	p.Weights = append(append([]int64(nil), p.Weights[k:]...), p.Weights[:k]...)
}
