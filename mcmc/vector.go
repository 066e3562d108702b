// Package mcmc runs adaptive Metropolis-Hastings chains over the
// per-sex Weibull penetrance parameter space.
package mcmc

import (
	"github.com/grailbio/penetrance/weibull"
)

// Parameter vector layout.  Both sexes are always present; runs
// restricted to one sex leave the other's coordinates following their
// priors.
const (
	ThresholdM = iota
	ThresholdF
	MedianM
	MedianF
	QuartileM
	QuartileF
	AsymptoteM
	AsymptoteF
	NumParams
)

// ParamNames gives output column names in vector order.
var ParamNames = [NumParams]string{
	"threshold_male", "threshold_female",
	"median_male", "median_female",
	"first_quartile_male", "first_quartile_female",
	"asymptote_male", "asymptote_female",
}

// Vector is one point in the 8-dimensional parameter space.
type Vector [NumParams]float64

// Valid reports whether both sexes satisfy the ordering and range
// constraints: 0 <= threshold < first quartile < median <= maxAge and
// asymptote strictly inside (0,1).  NaN coordinates are invalid.
func (v Vector) Valid(maxAge float64) bool {
	for _, idx := range [2][4]int{
		{ThresholdM, QuartileM, MedianM, AsymptoteM},
		{ThresholdF, QuartileF, MedianF, AsymptoteF},
	} {
		thr, q1, med, asy := v[idx[0]], v[idx[1]], v[idx[2]], v[idx[3]]
		if !(thr >= 0 && thr < q1 && q1 < med && med <= maxAge) {
			return false
		}
		if !(asy > 0 && asy < 1) {
			return false
		}
	}
	return true
}

// MaleQuantiles extracts the male penetrance quantiles.
func (v Vector) MaleQuantiles() weibull.Quantiles {
	return weibull.Quantiles{
		Threshold:     v[ThresholdM],
		FirstQuartile: v[QuartileM],
		Median:        v[MedianM],
		Asymptote:     v[AsymptoteM],
	}
}

// FemaleQuantiles extracts the female penetrance quantiles.
func (v Vector) FemaleQuantiles() weibull.Quantiles {
	return weibull.Quantiles{
		Threshold:     v[ThresholdF],
		FirstQuartile: v[QuartileF],
		Median:        v[MedianF],
		Asymptote:     v[AsymptoteF],
	}
}

// Curves builds the per-sex penetrance curves.
func (v Vector) Curves() (male, female weibull.Curve, err error) {
	if male, err = weibull.NewCurve(v.MaleQuantiles()); err != nil {
		return
	}
	female, err = weibull.NewCurve(v.FemaleQuantiles())
	return
}

// foldUnit reflects a proposed asymptote back into (0,1).  A single
// reflection is applied by convention; values a full period outside
// stay outside and fail validation instead.
func foldUnit(x float64) float64 {
	if x < 0 {
		return -x
	}
	if x > 1 {
		return 2 - x
	}
	return x
}

// fold applies the asymptote reflection to a candidate vector.
func (v Vector) fold() Vector {
	v[AsymptoteM] = foldUnit(v[AsymptoteM])
	v[AsymptoteF] = foldUnit(v[AsymptoteF])
	return v
}
