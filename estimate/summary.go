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
package estimate

import (
	"github.com/grailbio/penetrance/mcmc"
	"github.com/grailbio/penetrance/pedigree"
	"github.com/montanaflynn/stats"
)

// ParamSummary describes one parameter's pooled posterior.
type ParamSummary struct {
	Name   string
	Mean   float64
	SD     float64
	Median float64
	Lo     float64 // 2.5th percentile
	Hi     float64 // 97.5th percentile
}

// Summarize computes per-parameter posterior summaries over pooled
// samples.
func Summarize(samples []mcmc.Vector) []ParamSummary {
	out := make([]ParamSummary, mcmc.NumParams)
	col := make([]float64, len(samples))
	for p := 0; p < mcmc.NumParams; p++ {
		for i, s := range samples {
			col[i] = s[p]
		}
		mean, _ := stats.Mean(col)
		sd, _ := stats.StandardDeviationSample(col)
		med, _ := stats.Median(col)
		out[p] = ParamSummary{
			Name:   mcmc.ParamNames[p],
			Mean:   mean,
			SD:     sd,
			Median: med,
			Lo:     percentileOrExtreme(col, 2.5),
			Hi:     percentileOrExtreme(col, 97.5),
		}
	}
	return out
}

// percentileOrExtreme falls back to the sample extreme when the sample
// is too small for the requested tail percentile.
func percentileOrExtreme(data []float64, percent float64) float64 {
	v, err := stats.Percentile(data, percent)
	if err == nil {
		return v
	}
	if percent < 50 {
		v, _ = stats.Min(data)
	} else {
		v, _ = stats.Max(data)
	}
	return v
}

// PenetranceQuantiles holds pointwise posterior quantiles of one sex's
// penetrance curve over ages 1..MaxAge.
type PenetranceQuantiles struct {
	Sex pedigree.Sex
	Lo  []float64 // index age-1, 2.5th percentile
	Med []float64
	Hi  []float64
}

// PenetranceCurves evaluates every pooled sample's male and female
// curves on the age grid and reduces them to pointwise 2.5/50/97.5
// percentiles.  Samples whose asymptotes admit no Weibull shape are
// skipped and counted.
func PenetranceCurves(samples []mcmc.Vector, maxAge int) (male, female PenetranceQuantiles, skipped int) {
	male = newPenetranceQuantiles(pedigree.SexMale, maxAge)
	female = newPenetranceQuantiles(pedigree.SexFemale, maxAge)

	maleVals := make([][]float64, maxAge)
	femaleVals := make([][]float64, maxAge)
	for a := 0; a < maxAge; a++ {
		maleVals[a] = make([]float64, 0, len(samples))
		femaleVals[a] = make([]float64, 0, len(samples))
	}
	for _, s := range samples {
		curveM, curveF, err := s.Curves()
		if err != nil {
			skipped++
			continue
		}
		for a := 1; a <= maxAge; a++ {
			maleVals[a-1] = append(maleVals[a-1], curveM.Penetrance(float64(a)))
			femaleVals[a-1] = append(femaleVals[a-1], curveF.Penetrance(float64(a)))
		}
	}
	for a := 0; a < maxAge; a++ {
		male.Lo[a] = percentileOrExtreme(maleVals[a], 2.5)
		male.Med[a], _ = stats.Median(maleVals[a])
		male.Hi[a] = percentileOrExtreme(maleVals[a], 97.5)
		female.Lo[a] = percentileOrExtreme(femaleVals[a], 2.5)
		female.Med[a], _ = stats.Median(femaleVals[a])
		female.Hi[a] = percentileOrExtreme(femaleVals[a], 97.5)
	}
	return male, female, skipped
}

func newPenetranceQuantiles(sex pedigree.Sex, maxAge int) PenetranceQuantiles {
	return PenetranceQuantiles{
		Sex: sex,
		Lo:  make([]float64, maxAge),
		Med: make([]float64, maxAge),
		Hi:  make([]float64, maxAge),
	}
}
