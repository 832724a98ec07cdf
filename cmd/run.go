package cmd

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/hometownjlu/VMAlloc/pkg/archive"
	"github.com/hometownjlu/VMAlloc/pkg/encoding"
	"github.com/hometownjlu/VMAlloc/pkg/heuristic"
	"github.com/hometownjlu/VMAlloc/pkg/parse"
	"github.com/hometownjlu/VMAlloc/pkg/popfile"
	"github.com/hometownjlu/VMAlloc/pkg/search"
	"github.com/hometownjlu/VMAlloc/pkg/stats"
	"github.com/hometownjlu/VMAlloc/pkg/vmcwm"
)

func run(path string) error {
	start := time.Now()
	percentile := new(big.Rat)
	if percentile.SetFloat64(opts.MigrationPercentile) == nil {
		return errors.Errorf("bad migration percentile %v", opts.MigrationPercentile)
	}
	inst, err := parse.File(path, percentile)
	if err != nil {
		return err
	}
	fmt.Printf("c Parsing time: %.2f seconds\n", time.Since(start).Seconds())

	if opts.IgnorePlat {
		fmt.Println("c Discarding platform constraints")
		for _, vm := range inst.VMs() {
			vm.ClearPlatformConstraint()
		}
	}
	if opts.IgnoreColoc {
		fmt.Println("c Discarding anti-colocation constraints")
		for _, vm := range inst.VMs() {
			vm.AntiColocatable = false
		}
	}
	if opts.IgnoreDenEval {
		fmt.Println("c Discarding objective function denominators from solution evaluation")
		inst.DiscardDenominators()
	}

	stats.Collect(inst).Print(os.Stdout)

	if opts.DumpMOCO != "" {
		return dumpMOCO(inst, opts.DumpMOCO)
	}

	if opts.Reduce {
		fit, err := heuristic.ParseFit(opts.ReduceWith)
		if err != nil {
			return err
		}
		fmt.Println("c Applying heuristic reduction")
		reduced, err := heuristic.Reduce(inst, heuristic.Options{Fit: fit, Seed: opts.Seed})
		if err != nil {
			fmt.Println("c Heuristic reduction failed")
		} else if len(reduced.PMs()) < len(inst.PMs()) {
			inst = reduced
			fmt.Printf("c Solution using %d PMs found\n", len(inst.PMs()))
			fmt.Printf("c Elapsed time: %.2f seconds\n", time.Since(start).Seconds())
			stats.Collect(inst).Print(os.Stdout)
		}
	}

	switch opts.Algorithm {
	case "FFD", "BFD":
		return runPacking(inst)
	}
	return runSearch(inst)
}

func dumpMOCO(inst *vmcwm.Instance, path string) error {
	model, err := encoding.Encode(inst, encoding.Options{
		SymmetryBreaking:     opts.Symmetry,
		IgnorePlatform:       opts.IgnorePlat,
		IgnoreAntiColocation: opts.IgnoreColoc,
		IgnoreDenominators:   opts.IgnoreDenAll,
	})
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create dump file")
	}
	defer f.Close()
	if err := model.DumpOPB(f, opts.AllowDecimals); err != nil {
		return err
	}
	return f.Close()
}

func runPacking(inst *vmcwm.Instance) error {
	fit := heuristic.BestFit
	if opts.Algorithm == "FFD" {
		fit = heuristic.FirstFit
	}
	p, err := heuristic.Pack(inst, heuristic.Options{Fit: fit, Seed: opts.Seed})
	if err != nil {
		fmt.Println("s FAILURE")
		return nil
	}
	arch := archive.New()
	arch.Insert(inst.Evaluate(p), p)
	printResults(inst, arch)
	return dumpPopulation(inst, arch)
}

func runSearch(inst *vmcwm.Instance) error {
	alg, err := search.ParseAlgorithm(opts.Algorithm)
	if err != nil {
		return err
	}
	strat, err := search.ParseStrategy(opts.Stratify)
	if err != nil {
		return err
	}

	cfg := search.Config{
		Algorithm:            alg,
		Timeout:              time.Duration(opts.TimeLimit) * time.Second,
		SymmetryBreaking:     opts.Symmetry,
		IgnorePlatform:       opts.IgnorePlat,
		IgnoreAntiColocation: opts.IgnoreColoc,
		IgnoreDenominators:   opts.IgnoreDenAll,
		HashFunctions:        opts.HashFunctions,
		PathDiversification:  opts.PathDiversify,
		Stratify:             strat,
		PartMaxConflicts:     opts.PartMaxConfl,
		LitWeightRatio:       opts.LitWeightRat,
		PartitionCount:       opts.PartitionNum,
		RebuildClauseLimit:   opts.RebuildLimit,
		Seed:                 opts.Seed,
		Logger:               log,
	}
	printConfig(cfg)

	runs := opts.MultipleSeeds
	if runs < 1 {
		runs = 1
	}
	master := archive.New()
	for i := 0; i < runs; i++ {
		cfg.Seed = opts.Seed + int64(i)
		driver, err := search.NewDriver(inst, cfg)
		if err != nil {
			if errors.Is(err, encoding.ErrInfeasible) {
				fmt.Println("s FAILURE")
				return nil
			}
			return err
		}
		arch, err := driver.Run(context.Background())
		if err != nil {
			return err
		}
		for _, e := range arch.Entries() {
			master.Insert(e.Vector, e.Placement)
		}
	}

	printResults(inst, master)
	return dumpPopulation(inst, master)
}

func printConfig(cfg search.Config) {
	fmt.Printf("c ======== %s Configuration ========\n", cfg.Algorithm)
	if cfg.Algorithm == search.AlgorithmParetoCLD {
		onOff := map[bool]string{true: "enabled", false: "disabled"}
		fmt.Printf("c  Path Diversification:  %s\n", onOff[cfg.PathDiversification])
		switch cfg.Stratify {
		case search.StratifyOff:
			fmt.Println("c  Stratification:        disabled")
		case search.StratifyMerged:
			fmt.Println("c  Stratification:        MERGED")
		case search.StratifySplit:
			fmt.Println("c  Stratification:        SPLIT")
		}
		if cfg.Stratify != search.StratifyOff {
			if cfg.PartitionCount > 0 {
				fmt.Printf("c  Partitions:            %d\n", cfg.PartitionCount)
			} else {
				fmt.Printf("c  Literal-Weight Ratio:  %g\n", cfg.LitWeightRatio)
			}
		}
		if cfg.PartMaxConflicts > 0 {
			fmt.Printf("c  Part Max Conflicts:    %d\n", cfg.PartMaxConflicts)
		} else {
			fmt.Println("c  Part Max Conflicts:    disabled")
		}
	}
	if cfg.IgnoreDenominators {
		fmt.Println("c  Denominators:          ignored")
	} else {
		fmt.Println("c  Denominators:          reduced")
	}
	if cfg.HashFunctions {
		fmt.Println("c  Hash Functions:        enabled")
	} else {
		fmt.Println("c  Hash Functions:        disabled")
	}
	if cfg.SymmetryBreaking {
		fmt.Println("c  Symmetry Breaking:     enabled")
	} else {
		fmt.Println("c  Symmetry Breaking:     disabled")
	}
	fmt.Println("c ====================================")
}

func printResults(inst *vmcwm.Instance, arch *archive.Archive) {
	if arch.Len() == 0 {
		fmt.Println("s FAILURE")
		return
	}
	fmt.Println("s SUCCESS")
	for _, e := range arch.Entries() {
		if e.Vector.Migration != nil {
			fmt.Printf("e %s \tw %s \tm %s\n",
				e.Vector.Energy.FloatString(5), e.Vector.Wastage.FloatString(5), e.Vector.Migration)
		} else {
			fmt.Printf("e %s \tw %s\n", e.Vector.Energy.FloatString(5), e.Vector.Wastage.FloatString(5))
		}
	}
	if opts.PrintAllocations {
		for i, e := range arch.Entries() {
			fmt.Printf("s SOLUTION %d\n", i)
			for _, m := range inst.MappingsFromPlacement(e.Placement) {
				fmt.Printf("p %d-%d -> %d\n", m.JobID, m.VMIndex, m.PMID)
			}
		}
	}
}

func dumpPopulation(inst *vmcwm.Instance, arch *archive.Archive) error {
	if opts.DumpPopulation == "" {
		return nil
	}
	sols := make([]popfile.Solution, 0, arch.Len())
	for _, e := range arch.Entries() {
		sols = append(sols, popfile.Solution{Vector: e.Vector, Placement: e.Placement})
	}
	return popfile.DumpFile(opts.DumpPopulation, inst, sols)
}
