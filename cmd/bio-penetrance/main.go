// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
bio-penetrance estimates age- and sex-specific cancer penetrance for
carriers of a rare susceptibility variant from family pedigrees, by
adaptive Metropolis-Hastings sampling over a quantile-parameterized
Weibull onset model.
*/

import (
	"fmt"
	"log"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/penetrance/estimate"
	"github.com/grailbio/penetrance/likelihood"
	"github.com/grailbio/penetrance/mcmc"
	"github.com/grailbio/penetrance/pedigree"
	"v.io/x/lib/cmdline"
)

// inputFlags binds the auxiliary input paths shared by the
// subcommands.
type inputFlags struct {
	risk          *string
	assay         *string
	markers       *string
	germline      *string
	markerResults *string
	maxAge        *int
}

func newInputFlags(cmd *cmdline.Command) inputFlags {
	return inputFlags{
		risk:          cmd.Flags.String("risk", "", "Baseline risk rates TSV (CANCER RACE SEX KIND AGE RATE); required"),
		assay:         cmd.Flags.String("assay", "", "Optional germline assay operating characteristics TSV"),
		markers:       cmd.Flags.String("markers", "", "Optional tumor-marker conditional probability TSV"),
		germline:      cmd.Flags.String("germline", "", "Optional germline test results TSV (FAMILY ID GENE RESULT)"),
		markerResults: cmd.Flags.String("marker-results", "", "Optional tumor-marker results TSV (FAMILY ID MARKER RESULT)"),
		maxAge:        cmd.Flags.Int("max-age", estimate.DefaultOpts.MaxAge, "Largest age modeled by curves and tables"),
	}
}

func (f inputFlags) apply(opts *estimate.Opts) {
	opts.RiskPath = *f.risk
	opts.AssayPath = *f.assay
	opts.MarkerPath = *f.markers
	opts.GermlinePath = *f.germline
	opts.MarkerResultsPath = *f.markerResults
	opts.MaxAge = *f.maxAge
}

func newCmdEstimate() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "estimate",
		Short:    "Sample posterior penetrance curves from a pedigree file",
		ArgsName: "pedigree.tsv",
	}
	in := newInputFlags(cmd)
	cancer := cmd.Flags.String("cancer", "", "Cancer to estimate penetrance for; required")
	gene := cmd.Flags.String("gene", "", "Susceptibility gene whose carriers are modeled; required")
	chains := cmd.Flags.Int("chains", estimate.DefaultOpts.NChains, "Number of independent sampling chains")
	iterations := cmd.Flags.Int("iterations", estimate.DefaultOpts.NIter, "Iterations per chain")
	alleleFreq := cmd.Flags.Float64("allele-freq", estimate.DefaultOpts.AlleleFreq, "Population risk allele frequency")
	allowHom := cmd.Flags.Bool("allow-homozygotes", false, "Model the homozygous carrier state")
	baseline := cmd.Flags.String("baseline", "population", "Non-carrier risk derivation; 'population' or 'model-derived'")
	sex := cmd.Flags.String("sex", "both", "Sexes to estimate; 'both', 'female' or 'male'")
	burnIn := cmd.Flags.Float64("burn-in", estimate.DefaultOpts.BurnInFrac, "Fraction of each chain discarded before pooling")
	thin := cmd.Flags.Int("thin", estimate.DefaultOpts.Thin, "Thinning stride over retained draws")
	initStrategy := cmd.Flags.String("init", "prior", "Chain initialization; 'prior' or 'empirical'")
	adapt := cmd.Flags.Bool("adapt", estimate.DefaultOpts.Adapt, "Adapt the proposal covariance after burn-in")
	adaptEvery := cmd.Flags.Int("adapt-every", estimate.DefaultOpts.AdaptEvery, "Covariance adaptation cadence in iterations")
	peelWorkers := cmd.Flags.Int("peel-workers", estimate.DefaultOpts.PeelWorkers, "Parallel pedigree evaluations inside each chain; chains x workers must not exceed the CPU count")
	seed := cmd.Flags.Uint64("seed", estimate.DefaultOpts.Seed, "Run seed; per-chain seeds derive from it and the dataset fingerprint")
	imputeAges := cmd.Flags.Bool("impute-ages", false, "Draw missing censoring ages from the baseline risk before sampling")
	thresholdMax := cmd.Flags.Float64("threshold-max", estimate.DefaultOpts.Priors.ThresholdMax, "Upper bound of the uniform onset-threshold prior")
	medianAB := cmd.Flags.String("median-prior", "", "Beta prior a,b for the normalized median age (default 1,1)")
	quartileAB := cmd.Flags.String("quartile-prior", "", "Beta prior a,b for the normalized first-quartile age (default 1,1)")
	asymptoteAB := cmd.Flags.String("asymptote-prior", "", "Beta prior a,b for the lifetime asymptote (default 1,1)")
	varThreshold := cmd.Flags.Float64("var-threshold", estimate.DefaultOpts.ProposalVariances[mcmc.ThresholdM], "Initial proposal variance for the thresholds")
	varMedian := cmd.Flags.Float64("var-median", estimate.DefaultOpts.ProposalVariances[mcmc.MedianM], "Initial proposal variance for the medians")
	varQuartile := cmd.Flags.Float64("var-quartile", estimate.DefaultOpts.ProposalVariances[mcmc.QuartileM], "Initial proposal variance for the first quartiles")
	varAsymptote := cmd.Flags.Float64("var-asymptote", estimate.DefaultOpts.ProposalVariances[mcmc.AsymptoteM], "Initial proposal variance for the asymptotes")
	out := cmd.Flags.String("out", "bio-penetrance", "Output path prefix")
	format := cmd.Flags.String("format", "tsv", "Output table format; 'tsv', 'tsv.gz' or 'tsv.bgz'")
	trajectories := cmd.Flags.String("trajectories", "", "Optional recordio path for the full per-chain trajectory dump")

	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("estimate takes one pedigree.tsv argument, but got %v", argv)
		}
		opts := estimate.DefaultOpts
		in.apply(&opts)
		opts.Cancer = *cancer
		opts.Gene = *gene
		opts.NChains = *chains
		opts.NIter = *iterations
		opts.AlleleFreq = *alleleFreq
		opts.AllowHomozygotes = *allowHom
		opts.BurnInFrac = *burnIn
		opts.Thin = *thin
		opts.Adapt = *adapt
		opts.AdaptEvery = *adaptEvery
		opts.PeelWorkers = *peelWorkers
		opts.Seed = *seed
		opts.ImputeAges = *imputeAges
		opts.Priors.ThresholdMax = *thresholdMax

		var err error
		if opts.BaselineMode, err = likelihood.ParseBaselineMode(*baseline); err != nil {
			return err
		}
		if opts.SexMode, err = likelihood.ParseSexMode(*sex); err != nil {
			return err
		}
		if opts.Init, err = mcmc.ParseInitStrategy(*initStrategy); err != nil {
			return err
		}
		if err = parseBetaFlag(*medianAB, &opts.Priors.MedianAlpha, &opts.Priors.MedianBeta); err != nil {
			return err
		}
		if err = parseBetaFlag(*quartileAB, &opts.Priors.QuartileAlpha, &opts.Priors.QuartileBeta); err != nil {
			return err
		}
		if err = parseBetaFlag(*asymptoteAB, &opts.Priors.AsymptoteAlpha, &opts.Priors.AsymptoteBeta); err != nil {
			return err
		}
		opts.ProposalVariances[mcmc.ThresholdM] = *varThreshold
		opts.ProposalVariances[mcmc.ThresholdF] = *varThreshold
		opts.ProposalVariances[mcmc.MedianM] = *varMedian
		opts.ProposalVariances[mcmc.MedianF] = *varMedian
		opts.ProposalVariances[mcmc.QuartileM] = *varQuartile
		opts.ProposalVariances[mcmc.QuartileF] = *varQuartile
		opts.ProposalVariances[mcmc.AsymptoteM] = *varAsymptote
		opts.ProposalVariances[mcmc.AsymptoteF] = *varAsymptote

		outFormat, err := estimate.ParseFormat(*format)
		if err != nil {
			return err
		}

		ctx := vcontext.Background()
		inputs, err := estimate.LoadInputs(ctx, argv[0], opts)
		if err != nil {
			return err
		}
		res, err := estimate.Run(ctx, inputs, opts)
		if err != nil {
			return err
		}
		if err := estimate.WriteResults(ctx, *out, outFormat, res); err != nil {
			return err
		}
		if *trajectories != "" {
			if err := estimate.WriteTrajectories(ctx, *trajectories, res); err != nil {
				return err
			}
		}
		return nil
	})
	return cmd
}

// parseBetaFlag fills a Beta prior's hyperparameters from an "a,b"
// flag value; an empty value keeps the defaults.
func parseBetaFlag(s string, alpha, beta *float64) error {
	if s == "" {
		return nil
	}
	if n, err := fmt.Sscanf(s, "%g,%g", alpha, beta); err != nil || n != 2 {
		return fmt.Errorf("prior %q must have the form a,b", s)
	}
	return nil
}

func newCmdValidate() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "validate",
		Short:    "Load and validate run inputs, then print dataset statistics",
		ArgsName: "pedigree.tsv",
	}
	in := newInputFlags(cmd)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("validate takes one pedigree.tsv argument, but got %v", argv)
		}
		ctx := vcontext.Background()
		opts := estimate.DefaultOpts
		in.apply(&opts)
		inputs, err := estimate.LoadInputs(ctx, argv[0], opts)
		if err != nil {
			return err
		}
		if err := inputs.Set.Validate(opts.MaxAge); err != nil {
			return err
		}
		members := inputs.Set.NumIndividuals()
		mappings, err := inputs.Set.CollapseTwins()
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "pedigrees:\t%d\n", len(inputs.Set.Pedigrees))
		fmt.Fprintf(env.Stdout, "members:\t%d\n", members)
		founders, probands, affected := 0, 0, 0
		for _, ped := range inputs.Set.Pedigrees {
			founders += len(ped.Founders())
			probands += len(ped.Probands())
			for _, ind := range ped.Members {
				if ind.Affected {
					affected++
				}
				for _, m := range ind.Merged {
					if m.Affected {
						affected++
					}
				}
			}
		}
		fmt.Fprintf(env.Stdout, "founders:\t%d\n", founders)
		fmt.Fprintf(env.Stdout, "probands:\t%d\n", probands)
		fmt.Fprintf(env.Stdout, "affected:\t%d\n", affected)
		fmt.Fprintf(env.Stdout, "collapsed twins:\t%d\n", len(mappings))
		fmt.Fprintf(env.Stdout, "cancers:\t%v\n", inputs.Registry.Cancers())
		fmt.Fprintf(env.Stdout, "genes:\t%v\n", inputs.Registry.Genes())
		return nil
	})
	return cmd
}

func newCmdFingerprint() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "fingerprint",
		Short:    "Print the dataset fingerprint recorded in run manifests",
		ArgsName: "pedigree.tsv",
	}
	germline := cmd.Flags.String("germline", "", "Optional germline test results TSV (FAMILY ID GENE RESULT)")
	markerResults := cmd.Flags.String("marker-results", "", "Optional tumor-marker results TSV (FAMILY ID MARKER RESULT)")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("fingerprint takes one pedigree.tsv argument, but got %v", argv)
		}
		ctx := vcontext.Background()
		// The fingerprint covers only pedigree content; the risk table
		// is not loaded.
		set, err := pedigree.Load(ctx, argv[0])
		if err != nil {
			return err
		}
		if *germline != "" {
			if err := pedigree.LoadGermline(ctx, *germline, set); err != nil {
				return err
			}
		}
		if *markerResults != "" {
			if err := pedigree.LoadMarkers(ctx, *markerResults, set); err != nil {
				return err
			}
		}
		fmt.Fprintf(env.Stdout, "%016x\n", estimate.Fingerprint(set))
		return nil
	})
	return cmd
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "bio-penetrance",
		Short:    "Pedigree-based cancer penetrance estimation",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdEstimate(),
			newCmdValidate(),
			newCmdFingerprint(),
		},
	})
}
