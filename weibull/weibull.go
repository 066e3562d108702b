// Package weibull reparameterizes clinically elicited onset quantiles
// (threshold, first quartile, median, asymptote) into the shape and scale of
// a shifted Weibull distribution, and evaluates the resulting penetrance
// curves.
package weibull

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Quantiles specifies an age-of-onset distribution by its clinical
// landmarks rather than by raw Weibull parameters.  Threshold is the
// earliest age at which onset is possible, FirstQuartile and Median are the
// ages by which a quarter and half of lifetime risk is reached, and
// Asymptote is the lifetime risk approached at high age.
type Quantiles struct {
	Threshold     float64
	FirstQuartile float64
	Median        float64
	Asymptote     float64
}

// Validate returns an error naming the first violated constraint, or nil if
// q defines a usable distribution.
func (q Quantiles) Validate() error {
	switch {
	case !(q.Median > 0):
		return fmt.Errorf("weibull: median must be positive, got %v", q.Median)
	case !(q.FirstQuartile > 0):
		return fmt.Errorf("weibull: first quartile must be positive, got %v", q.FirstQuartile)
	case q.Threshold < 0:
		return fmt.Errorf("weibull: threshold must be nonnegative, got %v", q.Threshold)
	case !(q.Asymptote > 0 && q.Asymptote < 1):
		return fmt.Errorf("weibull: asymptote must lie in (0,1), got %v", q.Asymptote)
	case !(q.FirstQuartile > q.Threshold):
		return fmt.Errorf("weibull: first quartile %v must exceed threshold %v", q.FirstQuartile, q.Threshold)
	case !(q.Median > q.Threshold):
		return fmt.Errorf("weibull: median %v must exceed threshold %v", q.Median, q.Threshold)
	case q.FirstQuartile == q.Median:
		return fmt.Errorf("weibull: first quartile and median must differ, got %v", q.Median)
	}
	return nil
}

// Valid reports whether q passes Validate.
func (q Quantiles) Valid() bool { return q.Validate() == nil }

// Params holds the shape and scale of the Weibull distribution underlying a
// penetrance curve.
type Params struct {
	Alpha float64 // shape
	Beta  float64 // scale
}

// FromQuantiles derives Weibull shape and scale from onset quantiles.  The
// median pins the scale, so the derived CDF is exactly 0.5 at Median; the
// first-quartile/median contrast pins the shape.  Returns an error if q
// fails Validate or the derived shape is not a positive finite number,
// which happens when the asymptote is at or below 0.5 or the quartile
// ordering is inverted.
func FromQuantiles(q Quantiles) (Params, error) {
	if err := q.Validate(); err != nil {
		return Params{}, err
	}
	num := math.Log((q.Asymptote - 0.25) / q.Asymptote)
	den := math.Log((q.Asymptote - 0.5) / q.Asymptote)
	alpha := math.Log(num/den) / math.Log((q.FirstQuartile-q.Threshold)/(q.Median-q.Threshold))
	if math.IsNaN(alpha) || math.IsInf(alpha, 0) || alpha <= 0 {
		return Params{}, fmt.Errorf("weibull: quantiles %+v give degenerate shape %v", q, alpha)
	}
	beta := (q.Median - q.Threshold) / math.Pow(math.Ln2, 1/alpha)
	return Params{Alpha: alpha, Beta: beta}, nil
}

// Curve evaluates the penetrance implied by a set of onset quantiles: the
// probability of onset by a given age, scaled by the lifetime asymptote and
// shifted by the onset threshold.
type Curve struct {
	dist      distuv.Weibull
	threshold float64
	asymptote float64
}

// NewCurve builds the penetrance curve for q.
func NewCurve(q Quantiles) (Curve, error) {
	p, err := FromQuantiles(q)
	if err != nil {
		return Curve{}, err
	}
	return Curve{
		dist:      distuv.Weibull{K: p.Alpha, Lambda: p.Beta},
		threshold: q.Threshold,
		asymptote: q.Asymptote,
	}, nil
}

// Penetrance returns the probability of onset by age.
func (c Curve) Penetrance(age float64) float64 {
	if age <= c.threshold {
		return 0
	}
	return c.asymptote * c.dist.CDF(age-c.threshold)
}

// Density returns the unconditional onset density at age.
func (c Curve) Density(age float64) float64 {
	if age <= c.threshold {
		return 0
	}
	return c.asymptote * c.dist.Prob(age-c.threshold)
}

// Survival returns the probability of remaining onset-free at age.  It
// approaches 1-asymptote rather than 0 at high age.
func (c Curve) Survival(age float64) float64 {
	return 1 - c.Penetrance(age)
}
