// Package cmd wires the command line to the allocation core.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// options is the full flag surface, populated by viper so every flag can also
// come from vmalloc.yaml or a VMALLOC_* environment variable.
type options struct {
	Algorithm           string  `mapstructure:"algorithm"`
	TimeLimit           int     `mapstructure:"time-limit"`
	MigrationPercentile float64 `mapstructure:"migration-percentile"`

	Reduce        bool   `mapstructure:"reduce"`
	ReduceWith    string `mapstructure:"reduction-algorithm"`
	Symmetry      bool   `mapstructure:"symmetry-breaking"`
	IgnorePlat    bool   `mapstructure:"ignore-platform"`
	IgnoreColoc   bool   `mapstructure:"ignore-colocation"`
	IgnoreDenEval bool   `mapstructure:"ignore-den-eval"`
	IgnoreDenAll  bool   `mapstructure:"ignore-den-alloc"`

	HashFunctions bool    `mapstructure:"hash-functions"`
	PathDiversify bool    `mapstructure:"path-diversification"`
	Stratify      string  `mapstructure:"stratify"`
	PartMaxConfl  int64   `mapstructure:"part-max-conflicts"`
	LitWeightRat  float64 `mapstructure:"lit-weight-ratio"`
	PartitionNum  int     `mapstructure:"partition-number"`
	RebuildLimit  int     `mapstructure:"rebuild-clause-limit"`

	PrintAllocations bool   `mapstructure:"print-allocations"`
	DumpPopulation   string `mapstructure:"dump-population"`
	DumpMOCO         string `mapstructure:"dump-moco"`
	AllowDecimals    bool   `mapstructure:"allow-decimals"`

	MultipleSeeds int   `mapstructure:"multiple-seeds"`
	Seed          int64 `mapstructure:"seed"`

	SmartMutationRate    float64 `mapstructure:"smart-mutation-rate"`
	MaxConflicts         int64   `mapstructure:"max-conflicts"`
	DisableDomainUnfix   bool    `mapstructure:"disable-domain-unfixing"`
	SmartImprovement     bool    `mapstructure:"smart-improvement"`
	ImproveRelaxRate     float64 `mapstructure:"improve-relax-rate"`
	ImproveMaxConflicts  int64   `mapstructure:"improve-max-conflicts"`

	Verbose bool `mapstructure:"verbose"`
}

var (
	cfgFile string
	opts    options
	log     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "vmalloc <instance-file>",
	Short: "Multi-objective virtual machine consolidation solver",
	Long: `vmalloc solves the Virtual Machine Consolidation with Migration problem:
place every virtual machine on a physical machine minimizing energy cost,
resource wastage and migration cost under capacity, platform, anti-colocation
and migration budget constraints.

Constraint-based algorithms (PCLD, PLBX, GIA, HE, MCS, PBO, LS) enumerate or
approximate the Pareto front on an incremental SAT solver; FFD and BFD give
quick bin-packing baselines.`,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run(args[0])
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: vmalloc.yaml)")
	addFlags(rootCmd.Flags())
}

func addFlags(f *pflag.FlagSet) {
	f.StringP("algorithm", "a", "PCLD", "allocation algorithm: LS, MCS, PBO, GIA, HE, PCLD, PLBX, FFD, BFD")
	f.IntP("time-limit", "t", 0, "wall-clock time limit in seconds (0 = none)")
	f.Float64P("migration-percentile", "m", 1.0, "migration budget as a fraction of total memory")

	f.BoolP("reduce", "r", false, "apply heuristic reduction before solving")
	f.String("reduction-algorithm", "BFD", "reduction packing rule: FFD or BFD")
	f.BoolP("symmetry-breaking", "s", false, "break symmetries between identical machines")
	f.Bool("ignore-platform", false, "discard platform constraints")
	f.Bool("ignore-colocation", false, "discard anti-colocation constraints")
	f.Bool("ignore-den-eval", false, "discard wastage denominators in solution evaluation")
	f.Bool("ignore-den-alloc", false, "discard wastage denominators in the allocation objective")

	f.Bool("hash-functions", false, "diversify with random XOR hash constraints")
	f.Bool("path-diversification", false, "rotate soft literal order between iterations (PCLD only)")
	f.String("stratify", "", "stratification strategy: MERGED or SPLIT (empty = off)")
	f.Int64("part-max-conflicts", 200000, "conflict budget per objective partition (0 = unlimited)")
	f.Float64("lit-weight-ratio", 15.0, "target literal to distinct weight ratio per partition")
	f.Int("partition-number", 0, "fixed partition count, overrides the ratio when positive")
	f.Int("rebuild-clause-limit", 0, "rebuild the solver after this many blocking clauses (0 = never)")

	f.Bool("print-allocations", false, "print each solution's placement")
	f.String("dump-population", "", "write the final population to this file")
	f.String("dump-moco", "", "dump the encoding as a multi-objective OPB file and exit")
	f.Bool("allow-decimals", false, "allow decimal coefficients in the OPB dump")

	f.Int("multiple-seeds", 0, "run this many searches with consecutive seeds and merge archives")
	f.Int64("seed", 0, "random seed")

	f.Float64("smart-mutation-rate", 0.0, "fraction of assignments unfixed during smart repair")
	f.Int64("max-conflicts", 0, "conflict budget per smart repair call (0 = unlimited)")
	f.Bool("disable-domain-unfixing", false, "disable domain-based unfixing on failed repairs")
	f.Bool("smart-improvement", false, "improve feasible candidates after repair")
	f.Float64("improve-relax-rate", 0.2, "fraction of assignments relaxed during improvement")
	f.Int64("improve-max-conflicts", 0, "total conflict budget per improvement call (0 = unlimited)")

	f.BoolP("verbose", "v", false, "debug logging")

	if err := viper.BindPFlags(f); err != nil {
		panic(err)
	}
}

func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("vmalloc")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("VMALLOC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// only a missing file on the search path is tolerable; a present but
		// unreadable or malformed file is an error however it was named
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config file: %w", err)
		}
	}
	if err := viper.Unmarshal(&opts); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	log.SetOutput(os.Stderr)
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return nil
}
