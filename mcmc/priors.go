package mcmc

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// PriorSettings parameterizes the sampling priors.  Median, first
// quartile and asymptote get independent Beta priors (median and
// quartile on the age scale normalized by MaxAge); thresholds get a
// Uniform(0, ThresholdMax) prior.  The same hyperparameters apply to
// both sexes.
type PriorSettings struct {
	MedianAlpha    float64
	MedianBeta     float64
	QuartileAlpha  float64
	QuartileBeta   float64
	AsymptoteAlpha float64
	AsymptoteBeta  float64
	ThresholdMax   float64
}

// DefaultPriorSettings returns flat Beta(1,1) priors and a 20-year
// threshold bound.
func DefaultPriorSettings() PriorSettings {
	return PriorSettings{
		MedianAlpha:    1,
		MedianBeta:     1,
		QuartileAlpha:  1,
		QuartileBeta:   1,
		AsymptoteAlpha: 1,
		AsymptoteBeta:  1,
		ThresholdMax:   20,
	}
}

// Priors evaluates and draws from the parameter priors.  A Priors is
// immutable and shared read-only across chains.
type Priors struct {
	maxAge       float64
	thresholdMax float64
	median       distuv.Beta
	quartile     distuv.Beta
	asymptote    distuv.Beta
	threshold    distuv.Uniform
}

// NewPriors builds priors over ages 1..maxAge.
func NewPriors(s PriorSettings, maxAge int) (*Priors, error) {
	if maxAge < 1 {
		return nil, fmt.Errorf("mcmc: max age must be positive, got %d", maxAge)
	}
	for _, h := range []float64{
		s.MedianAlpha, s.MedianBeta,
		s.QuartileAlpha, s.QuartileBeta,
		s.AsymptoteAlpha, s.AsymptoteBeta,
	} {
		if !(h > 0) {
			return nil, fmt.Errorf("mcmc: Beta hyperparameters must be positive, got %v", h)
		}
	}
	if !(s.ThresholdMax > 0 && s.ThresholdMax <= float64(maxAge)) {
		return nil, fmt.Errorf("mcmc: threshold bound must lie in (0, %d], got %v", maxAge, s.ThresholdMax)
	}
	return &Priors{
		maxAge:       float64(maxAge),
		thresholdMax: s.ThresholdMax,
		median:       distuv.Beta{Alpha: s.MedianAlpha, Beta: s.MedianBeta},
		quartile:     distuv.Beta{Alpha: s.QuartileAlpha, Beta: s.QuartileBeta},
		asymptote:    distuv.Beta{Alpha: s.AsymptoteAlpha, Beta: s.AsymptoteBeta},
		threshold:    distuv.Uniform{Min: 0, Max: s.ThresholdMax},
	}, nil
}

// ThresholdMax returns the upper threshold prior bound.
func (p *Priors) ThresholdMax() float64 { return p.thresholdMax }

// LogProb returns the joint log prior density of v, -Inf outside the
// prior support.
func (p *Priors) LogProb(v Vector) float64 {
	lp := p.threshold.LogProb(v[ThresholdM]) + p.threshold.LogProb(v[ThresholdF])
	lp += p.median.LogProb(v[MedianM]/p.maxAge) + p.median.LogProb(v[MedianF]/p.maxAge)
	lp += p.quartile.LogProb(v[QuartileM]/p.maxAge) + p.quartile.LogProb(v[QuartileF]/p.maxAge)
	lp += p.asymptote.LogProb(v[AsymptoteM]) + p.asymptote.LogProb(v[AsymptoteF])
	return lp
}

// Draw samples one vector coordinate-wise from the priors.  The draw
// need not satisfy the ordering constraints; callers retry.
func (p *Priors) Draw(rng *rand.Rand) Vector {
	beta := func(d distuv.Beta) float64 {
		d.Src = rng
		return d.Rand()
	}
	uniform := p.threshold
	uniform.Src = rng
	var v Vector
	v[ThresholdM] = uniform.Rand()
	v[ThresholdF] = uniform.Rand()
	v[MedianM] = p.maxAge * beta(p.median)
	v[MedianF] = p.maxAge * beta(p.median)
	v[QuartileM] = p.maxAge * beta(p.quartile)
	v[QuartileF] = p.maxAge * beta(p.quartile)
	v[AsymptoteM] = beta(p.asymptote)
	v[AsymptoteF] = beta(p.asymptote)
	return v
}
