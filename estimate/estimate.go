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

// Package estimate orchestrates penetrance estimation runs: it loads
// and preprocesses inputs, fans independent sampling chains out over
// workers, and reduces their trajectories to posterior summaries and
// penetrance curves.
package estimate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/penetrance/likelihood"
	"github.com/grailbio/penetrance/mcmc"
	"github.com/grailbio/penetrance/pedigree"
	"github.com/grailbio/penetrance/peel"
	"github.com/grailbio/penetrance/risk"
)

// Opts configures an estimation run.
type Opts struct {
	// Commandline options.
	Cancer            string
	Gene              string
	NChains           int
	NIter             int
	MaxAge            int
	AlleleFreq        float64
	AllowHomozygotes  bool
	BaselineMode      likelihood.BaselineMode
	SexMode           likelihood.SexMode
	BurnInFrac        float64
	Thin              int
	Init              mcmc.InitStrategy
	Priors            mcmc.PriorSettings
	ProposalVariances mcmc.Vector
	Adapt             bool
	AdaptEvery        int
	PeelWorkers       int
	Seed              uint64
	ImputeAges        bool

	// Input paths beyond the pedigree file.  RiskPath is required;
	// the others are optional.
	RiskPath          string
	AssayPath         string
	MarkerPath        string
	GermlinePath      string
	MarkerResultsPath string
}

// DefaultOpts hold the default option values.
var DefaultOpts = Opts{
	NChains:           4,
	NIter:             2000,
	MaxAge:            94,
	AlleleFreq:        0.001,
	BurnInFrac:        0.1,
	Thin:              1,
	Priors:            mcmc.DefaultPriorSettings(),
	ProposalVariances: defaultProposalVariances(),
	Adapt:             true,
	AdaptEvery:        50,
	PeelWorkers:       1,
	Seed:              1,
}

func defaultProposalVariances() mcmc.Vector {
	var v mcmc.Vector
	v[mcmc.ThresholdM], v[mcmc.ThresholdF] = 4, 4
	v[mcmc.MedianM], v[mcmc.MedianF] = 9, 9
	v[mcmc.QuartileM], v[mcmc.QuartileF] = 9, 9
	v[mcmc.AsymptoteM], v[mcmc.AsymptoteF] = 0.01, 0.01
	return v
}

// Inputs is the loaded data for a run.
type Inputs struct {
	Set      *pedigree.Set
	Rates    *risk.FileProvider
	Assays   *likelihood.AssayTable // nil means a perfect assay
	Markers  likelihood.MarkerModel // nil means neutral markers
	Registry *risk.Registry
}

// LoadInputs reads the pedigree file and the auxiliary tables named in
// opts.  Optional paths may be empty.
func LoadInputs(ctx context.Context, pedPath string, opts Opts) (*Inputs, error) {
	set, err := pedigree.Load(ctx, pedPath)
	if err != nil {
		return nil, err
	}
	if opts.GermlinePath != "" {
		if err := pedigree.LoadGermline(ctx, opts.GermlinePath, set); err != nil {
			return nil, err
		}
	}
	if opts.MarkerResultsPath != "" {
		if err := pedigree.LoadMarkers(ctx, opts.MarkerResultsPath, set); err != nil {
			return nil, err
		}
	}
	if opts.RiskPath == "" {
		return nil, fmt.Errorf("estimate: baseline risk table path is required")
	}
	rates, err := risk.LoadRates(ctx, opts.RiskPath, opts.MaxAge)
	if err != nil {
		return nil, err
	}
	in := &Inputs{Set: set, Rates: rates}
	if opts.AssayPath != "" {
		if in.Assays, err = likelihood.LoadAssays(ctx, opts.AssayPath); err != nil {
			return nil, err
		}
	}
	if opts.MarkerPath != "" {
		if in.Markers, err = likelihood.LoadMarkerModel(ctx, opts.MarkerPath); err != nil {
			return nil, err
		}
	}
	in.Registry = NewRegistry(in)
	return in, nil
}

// NewRegistry derives the supported cancer and gene names from the
// loaded inputs.
func NewRegistry(in *Inputs) *risk.Registry {
	genes := risk.DefaultGenes
	if in.Assays != nil {
		genes = in.Assays.Genes()
	}
	return risk.NewRegistry(in.Rates.Cancers(), genes)
}

// Validate checks opts against the loaded inputs.  It is fatal to the
// run; nothing is sampled on error.
func (o Opts) Validate(in *Inputs) error {
	if in == nil || in.Set == nil || len(in.Set.Pedigrees) == 0 {
		return fmt.Errorf("estimate: empty pedigree set")
	}
	if !in.Registry.HasCancer(o.Cancer) {
		return fmt.Errorf("estimate: unknown cancer %q%s", o.Cancer, suggest(o.Cancer, in.Registry.Cancers()))
	}
	if !in.Registry.HasGene(o.Gene) {
		return fmt.Errorf("estimate: unknown gene %q%s", o.Gene, suggest(o.Gene, in.Registry.Genes()))
	}
	if o.NChains < 1 {
		return fmt.Errorf("estimate: chain count must be positive, got %d", o.NChains)
	}
	workers := o.PeelWorkers
	if workers < 1 {
		workers = 1
	}
	if o.NChains*workers > runtime.NumCPU() {
		return fmt.Errorf("estimate: %d chains x %d peel workers oversubscribe %d CPUs",
			o.NChains, workers, runtime.NumCPU())
	}
	if o.NIter < 1 {
		return fmt.Errorf("estimate: iteration count must be positive, got %d", o.NIter)
	}
	if o.BurnInFrac < 0 || o.BurnInFrac >= 1 {
		return fmt.Errorf("estimate: burn-in fraction %v must lie in [0, 1)", o.BurnInFrac)
	}
	if o.Thin < 1 {
		return fmt.Errorf("estimate: thinning stride must be positive, got %d", o.Thin)
	}
	if !(o.AlleleFreq > 0 && o.AlleleFreq <= 0.5) {
		return fmt.Errorf("estimate: allele frequency %v must lie in (0, 0.5]", o.AlleleFreq)
	}
	if o.MaxAge < 1 {
		return fmt.Errorf("estimate: max age must be positive, got %d", o.MaxAge)
	}
	return nil
}

// suggest returns a nearest-name hint for a mistyped input, or "".
func suggest(name string, known []string) string {
	best, bestDist := "", 4
	for _, k := range known {
		if d := matchr.Levenshtein(name, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

// RunResult is the outcome of one orchestrated run.
type RunResult struct {
	Fingerprint uint64
	Seeds       []uint64
	// Chains are the raw per-chain trajectories, index = chain.
	Chains []*mcmc.Result
	BurnIn int
	Thin   int
	// Pooled is the burn-in-discarded, thinned union of all chains.
	Pooled    []mcmc.Vector
	Summaries []ParamSummary
	Male      PenetranceQuantiles
	Female    PenetranceQuantiles
	// SkippedCurves counts pooled samples whose asymptotes admit no
	// Weibull shape and were left out of the curve quantiles.
	SkippedCurves int
	TwinMappings  []pedigree.TwinMapping
	ImputedAges   int
	Elapsed       time.Duration
}

// RejectionRates returns each chain's rejection rate, index = chain.
func (r *RunResult) RejectionRates() []float64 {
	rates := make([]float64, len(r.Chains))
	for i, c := range r.Chains {
		rates[i] = c.RejectionRate()
	}
	return rates
}

// Run validates, preprocesses and samples.  The set inside in is
// modified in place: twins are collapsed and, when requested, missing
// censoring ages imputed.
func Run(ctx context.Context, in *Inputs, opts Opts) (*RunResult, error) {
	start := time.Now()
	if err := opts.Validate(in); err != nil {
		return nil, err
	}
	if err := in.Set.Validate(opts.MaxAge); err != nil {
		return nil, err
	}
	mappings, err := in.Set.CollapseTwins()
	if err != nil {
		return nil, err
	}
	fingerprint := Fingerprint(in.Set)

	imputed := 0
	if opts.ImputeAges {
		table, err := in.Rates.Lookup(opts.Cancer, risk.DefaultRace, risk.Incidence)
		if err != nil {
			return nil, err
		}
		cum := func(sex pedigree.Sex, age int) float64 { return table.Cumulative(sex, age) }
		rng := rand.New(rand.NewPCG(chainSeed(fingerprint, opts.Seed, opts.NChains), 1))
		imputed = pedigree.ImputeAges(in.Set, opts.MaxAge, cum, rng)
		if imputed > 0 {
			log.Printf("estimate: imputed censoring ages for %d members", imputed)
		}
	}

	cfg := likelihood.Config{
		Gene:             opts.Gene,
		AlleleFreq:       opts.AlleleFreq,
		AllowHomozygotes: opts.AllowHomozygotes,
		SexMode:          opts.SexMode,
		BaselineMode:     opts.BaselineMode,
		MaxAge:           opts.MaxAge,
		Assay:            likelihood.PerfectAssay,
		Markers:          in.Markers,
	}
	if in.Assays != nil {
		if a, ok := in.Assays.Lookup(opts.Gene); ok {
			cfg.Assay = a
		}
	}

	roster, err := likelihood.NewRoster(in.Set, in.Rates, opts.Cancer)
	if err != nil {
		return nil, err
	}
	states := cfg.States()
	freqs, err := likelihood.FounderFreqs(opts.AlleleFreq, states)
	if err != nil {
		return nil, err
	}
	trans, err := likelihood.Transmission(states)
	if err != nil {
		return nil, err
	}
	oracle, err := peel.New(roster, freqs, trans, opts.PeelWorkers)
	if err != nil {
		return nil, err
	}
	priors, err := mcmc.NewPriors(opts.Priors, opts.MaxAge)
	if err != nil {
		return nil, err
	}

	burnIn := int(opts.BurnInFrac * float64(opts.NIter))
	seeds := make([]uint64, opts.NChains)
	for i := range seeds {
		seeds[i] = chainSeed(fingerprint, opts.Seed, i)
	}

	log.Printf("estimate: %s/%s over %d pedigrees (%d members), %d chains x %d iterations",
		opts.Cancer, opts.Gene, len(in.Set.Pedigrees), in.Set.NumIndividuals(),
		opts.NChains, opts.NIter)

	chains := make([]*mcmc.Result, opts.NChains)
	err = traverse.Each(opts.NChains, func(chain int) error {
		builder, err := likelihood.NewBuilder(cfg, roster)
		if err != nil {
			return err
		}
		mopts := mcmc.Opts{
			NIter:             opts.NIter,
			BurnIn:            burnIn,
			Adapt:             opts.Adapt,
			AdaptEvery:        opts.AdaptEvery,
			ProposalVariances: opts.ProposalVariances,
			MaxAge:            opts.MaxAge,
			Init:              opts.Init,
			Seed:              seeds[chain],
		}
		c, err := mcmc.NewChain(mopts, priors, builder, oracle)
		if err != nil {
			return err
		}
		res, err := c.Run()
		if err != nil {
			return fmt.Errorf("estimate: chain %d: %v", chain, err)
		}
		log.Debug.Printf("estimate: chain %d done, rejection rate %.3f", chain, res.RejectionRate())
		chains[chain] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	allHigh := true
	for _, c := range chains {
		if c.RejectionRate() <= 0.9 {
			allHigh = false
			break
		}
	}
	if allHigh {
		log.Error.Printf("estimate: every chain rejected more than 90%% of proposals; the posterior sample is likely unreliable")
	}

	pooled := pool(chains, burnIn, opts.Thin)
	male, female, skipped := PenetranceCurves(pooled, opts.MaxAge)
	res := &RunResult{
		Fingerprint:   fingerprint,
		Seeds:         seeds,
		Chains:        chains,
		BurnIn:        burnIn,
		Thin:          opts.Thin,
		Pooled:        pooled,
		Summaries:     Summarize(pooled),
		Male:          male,
		Female:        female,
		SkippedCurves: skipped,
		TwinMappings:  mappings,
		ImputedAges:   imputed,
		Elapsed:       time.Since(start),
	}
	log.Printf("estimate: done in %s, %d pooled samples", res.Elapsed, len(pooled))
	return res, nil
}

// pool discards burn-in and thins each chain, then concatenates in
// chain order.
func pool(chains []*mcmc.Result, burnIn, thin int) []mcmc.Vector {
	var out []mcmc.Vector
	for _, c := range chains {
		for i := burnIn; i < len(c.Samples); i += thin {
			out = append(out, c.Samples[i])
		}
	}
	return out
}
