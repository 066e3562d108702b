package mcmc

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/grailbio/penetrance/likelihood"
	"github.com/grailbio/penetrance/pedigree"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// DegenerateLogLik replaces -Inf and NaN pedigree log-likelihoods.  The
// penalty is far below any log-likelihood real data produces, so
// degenerate parameter vectors lose every acceptance comparison while
// staying finite in the ratio arithmetic.
const DegenerateLogLik = -50000.0

// adaptScale is the Metropolis covariance scaling 2.38^2/d for the
// 8-dimensional space.
const adaptScale = 2.38 * 2.38 / float64(NumParams)

// adaptRidge regularizes the adapted covariance: ridge*adaptScale is
// added to every diagonal entry.
const adaptRidge = 0.005

// InitStrategy selects how a chain derives its starting vector.
type InitStrategy uint8

const (
	// InitPrior draws from the priors until the draw is valid.
	InitPrior InitStrategy = iota
	// InitEmpirical starts from the observed diagnosis age distribution.
	InitEmpirical
)

// String returns the flag spelling of the strategy.
func (s InitStrategy) String() string {
	switch s {
	case InitPrior:
		return "prior"
	case InitEmpirical:
		return "empirical"
	}
	return fmt.Sprintf("InitStrategy(%d)", uint8(s))
}

// ParseInitStrategy parses an init strategy flag value.
func ParseInitStrategy(s string) (InitStrategy, error) {
	switch s {
	case "prior":
		return InitPrior, nil
	case "empirical":
		return InitEmpirical, nil
	}
	return InitPrior, fmt.Errorf("unknown init strategy %q (want prior or empirical)", s)
}

// priorInitRetries caps rejection sampling of the starting vector.
const priorInitRetries = 10000

// Opts configures one chain.
type Opts struct {
	// NIter is the number of sampling iterations.
	NIter int
	// BurnIn is the iteration count after which covariance adaptation
	// starts.
	BurnIn int
	// Adapt enables covariance adaptation.
	Adapt bool
	// AdaptEvery is the adaptation cadence in iterations.
	AdaptEvery int
	// ProposalVariances is the initial diagonal proposal covariance.
	ProposalVariances Vector
	// MaxAge bounds median and first quartile ages.
	MaxAge int
	// Init selects the starting vector derivation.
	Init InitStrategy
	// Seed seeds the chain-local RNG.
	Seed uint64
}

func (o Opts) validate() error {
	if o.NIter < 1 {
		return fmt.Errorf("mcmc: iteration count must be positive, got %d", o.NIter)
	}
	if o.BurnIn < 0 || o.BurnIn > o.NIter {
		return fmt.Errorf("mcmc: burn-in %d must lie in [0, %d]", o.BurnIn, o.NIter)
	}
	if o.Adapt && o.AdaptEvery < 1 {
		return fmt.Errorf("mcmc: adaptation cadence must be positive, got %d", o.AdaptEvery)
	}
	for i, v := range o.ProposalVariances {
		if !(v > 0) {
			return fmt.Errorf("mcmc: proposal variance for %s must be positive, got %v", ParamNames[i], v)
		}
	}
	if o.MaxAge < 1 {
		return fmt.Errorf("mcmc: max age must be positive, got %d", o.MaxAge)
	}
	return nil
}

// Result holds one chain's full trajectory.
type Result struct {
	// Samples is the accepted state at each iteration, repeats included.
	Samples []Vector
	// Proposals is the folded candidate at each iteration.
	Proposals []Vector
	// Logliks and Logpriors follow Samples.
	Logliks   []float64
	Logpriors []float64
	// Ratios is the log acceptance ratio per iteration, -Inf where the
	// candidate failed the validity check.
	Ratios []float64
	// FinalCov is the proposal covariance at termination.
	FinalCov *mat.SymDense
	// Rejections counts both cheap and Metropolis rejections.
	Rejections int
}

// RejectionRate is Rejections over the iteration count.
func (r *Result) RejectionRate() float64 {
	return float64(r.Rejections) / float64(len(r.Samples))
}

// Chain is a single-threaded adaptive Metropolis-Hastings sampler.  A
// chain owns its builder and RNG; the priors and oracle it reads must
// be safe for sharing across chains.
type Chain struct {
	opts     Opts
	priors   *Priors
	builder  *likelihood.Builder
	oracle   likelihood.Oracle
	rng      *rand.Rand
	cov      *mat.SymDense
	proposal *distmv.Normal
	zero     [NumParams]float64

	cur   Vector
	curLL float64
	curLP float64
	res   *Result
}

// NewChain assembles a chain.  Run may be called once.
func NewChain(opts Opts, priors *Priors, builder *likelihood.Builder, oracle likelihood.Oracle) (*Chain, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	c := &Chain{
		opts:    opts,
		priors:  priors,
		builder: builder,
		oracle:  oracle,
		rng:     rand.New(rand.NewPCG(opts.Seed, 1)),
	}
	cov := mat.NewSymDense(NumParams, nil)
	for i, v := range opts.ProposalVariances {
		cov.SetSym(i, i, v)
	}
	if err := c.setCovariance(cov); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) setCovariance(cov *mat.SymDense) error {
	normal, ok := distmv.NewNormal(c.zero[:], cov, c.rng)
	if !ok {
		return fmt.Errorf("mcmc: proposal covariance is not positive definite")
	}
	c.cov = cov
	c.proposal = normal
	return nil
}

// Run executes the chain: initialize, sample NIter iterations, adapt
// the proposal covariance on cadence, and return the trajectory.
func (c *Chain) Run() (*Result, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	n := c.opts.NIter
	c.res = &Result{
		Samples:   make([]Vector, 0, n),
		Proposals: make([]Vector, 0, n),
		Logliks:   make([]float64, 0, n),
		Logpriors: make([]float64, 0, n),
		Ratios:    make([]float64, 0, n),
	}
	maxAge := float64(c.opts.MaxAge)
	var step Vector
	for i := 0; i < n; i++ {
		c.proposal.Rand(step[:])
		cand := c.cur
		for j := range cand {
			cand[j] += step[j]
		}
		cand = cand.fold()
		c.res.Proposals = append(c.res.Proposals, cand)

		if !cand.Valid(maxAge) {
			c.res.Rejections++
			c.record(math.Inf(-1))
		} else {
			ll, err := c.loglik(cand)
			if err != nil {
				return nil, err
			}
			lp := c.priors.LogProb(cand)
			ratio := (ll + lp) - (c.curLL + c.curLP)
			if math.Log(c.rng.Float64()) < ratio {
				c.cur, c.curLL, c.curLP = cand, ll, lp
			} else {
				c.res.Rejections++
			}
			c.record(ratio)
		}

		if c.adaptDue() {
			if err := c.adapt(); err != nil {
				return nil, err
			}
		}
	}
	c.res.FinalCov = c.cov
	return c.res, nil
}

// record appends the current state as iteration i's sample.
func (c *Chain) record(ratio float64) {
	c.res.Samples = append(c.res.Samples, c.cur)
	c.res.Logliks = append(c.res.Logliks, c.curLL)
	c.res.Logpriors = append(c.res.Logpriors, c.curLP)
	c.res.Ratios = append(c.res.Ratios, ratio)
}

// loglik evaluates a valid candidate, flooring degenerate outcomes.
func (c *Chain) loglik(v Vector) (float64, error) {
	curveM, curveF, err := v.Curves()
	if err != nil {
		// No finite Weibull shape exists for asymptotes at or below 0.5.
		return DegenerateLogLik, nil
	}
	ll, err := c.oracle.Loglik(c.builder.Build(curveM, curveF))
	if err != nil {
		return 0, err
	}
	if math.IsInf(ll, -1) || math.IsNaN(ll) {
		return DegenerateLogLik, nil
	}
	return ll, nil
}

func (c *Chain) init() error {
	var v Vector
	switch c.opts.Init {
	case InitEmpirical:
		v = c.empiricalInit()
	default:
		ok := false
		for try := 0; try < priorInitRetries; try++ {
			v = c.priors.Draw(c.rng)
			if v.Valid(float64(c.opts.MaxAge)) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("mcmc: no valid prior draw in %d tries", priorInitRetries)
		}
	}
	if !v.Valid(float64(c.opts.MaxAge)) {
		return fmt.Errorf("mcmc: initial vector %v is invalid", v)
	}
	ll, err := c.loglik(v)
	if err != nil {
		return err
	}
	c.cur = v
	c.curLL = ll
	c.curLP = c.priors.LogProb(v)
	return nil
}

// empiricalInit derives a starting vector from the observed diagnosis
// ages: per sex the threshold starts just below the earliest onset
// (capped by the prior support), the median and first quartile at the
// corresponding age quantiles, the asymptote at 0.5.  Sexes without
// affected members fall back to fractions of MaxAge.
func (c *Chain) empiricalInit() Vector {
	maleAges, femaleAges := affectedAges(c.builder.Roster().Set())
	maxAge := float64(c.opts.MaxAge)
	var v Vector
	v[AsymptoteM], v[AsymptoteF] = 0.5, 0.5
	fill := func(ages []float64, thrIdx, qIdx, medIdx int) {
		thr, q1, med := 0.0, 0.25*maxAge, 0.5*maxAge
		if len(ages) > 0 {
			lo, _ := stats.Min(ages)
			m, _ := stats.Median(ages)
			q, _ := stats.Percentile(ages, 25)
			thr, q1, med = lo-1, q, m
		}
		if bound := c.priors.ThresholdMax() - 1; thr > bound {
			thr = bound
		}
		if thr < 0 {
			thr = 0
		}
		// Percentile errors on samples too small for a 25th percentile
		// and leaves q1 NaN; the midpoint repairs that case too.
		if math.IsNaN(q1) || q1 <= thr || q1 >= med {
			q1 = (thr + med) / 2
		}
		v[thrIdx], v[qIdx], v[medIdx] = thr, q1, med
	}
	fill(maleAges, ThresholdM, QuartileM, MedianM)
	fill(femaleAges, ThresholdF, QuartileF, MedianF)
	return v
}

// affectedAges collects diagnosis ages per sex, merged co-twins
// included.
func affectedAges(set *pedigree.Set) (male, female []float64) {
	add := func(ind *pedigree.Individual) {
		if !ind.Affected || ind.AgeDx < 1 {
			return
		}
		switch ind.Sex {
		case pedigree.SexMale:
			male = append(male, float64(ind.AgeDx))
		case pedigree.SexFemale:
			female = append(female, float64(ind.AgeDx))
		}
	}
	for _, ped := range set.Pedigrees {
		for _, ind := range ped.Members {
			add(ind)
			for _, m := range ind.Merged {
				add(m)
			}
		}
	}
	return male, female
}

func (c *Chain) adaptDue() bool {
	if !c.opts.Adapt {
		return false
	}
	h := len(c.res.Samples)
	return h >= c.opts.BurnIn && h >= 2 && h%c.opts.AdaptEvery == 0
}

// adapt recomputes the proposal covariance from the full history,
// repeats included: adaptScale times the sample covariance plus the
// scaled ridge on the diagonal.
func (c *Chain) adapt() error {
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, sampleMatrix(c.res.Samples), nil)
	cov.ScaleSym(adaptScale, &cov)
	for i := 0; i < NumParams; i++ {
		cov.SetSym(i, i, cov.At(i, i)+adaptRidge*adaptScale)
	}
	return c.setCovariance(&cov)
}

// sampleMatrix exposes a sample history to gonum as a matrix without
// copying.
type sampleMatrix []Vector

func (m sampleMatrix) Dims() (r, c int)    { return len(m), NumParams }
func (m sampleMatrix) At(i, j int) float64 { return m[i][j] }
func (m sampleMatrix) T() mat.Matrix       { return mat.Transpose{Matrix: m} }
