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
package likelihood

import (
	"fmt"

	"github.com/grailbio/penetrance/pedigree"
	"github.com/grailbio/penetrance/risk"
	"github.com/grailbio/penetrance/weibull"
)

// tinyProb stands in for likelihoods that must stay strictly positive,
// such as excluded-sex rows and zero-density diagnosis ages.
const tinyProb = 1e-28

// SexMode restricts which sexes a run estimates penetrance for.
type SexMode uint8

const (
	SexBoth SexMode = iota
	SexFemaleOnly
	SexMaleOnly
)

// String returns the flag spelling of the mode.
func (m SexMode) String() string {
	switch m {
	case SexBoth:
		return "both"
	case SexFemaleOnly:
		return "female"
	case SexMaleOnly:
		return "male"
	}
	return fmt.Sprintf("SexMode(%d)", uint8(m))
}

// ParseSexMode parses a sex mode flag value.
func ParseSexMode(s string) (SexMode, error) {
	switch s {
	case "both":
		return SexBoth, nil
	case "female":
		return SexFemaleOnly, nil
	case "male":
		return SexMaleOnly, nil
	}
	return SexBoth, fmt.Errorf("unknown sex mode %q (want both, female or male)", s)
}

func (m SexMode) excludes(s pedigree.Sex) bool {
	switch m {
	case SexFemaleOnly:
		return s == pedigree.SexMale
	case SexMaleOnly:
		return s == pedigree.SexFemale
	}
	return false
}

// BaselineMode selects how non-carrier risk is derived from the
// population baseline table.
type BaselineMode uint8

const (
	// BaselinePopulation uses the baseline table directly as the
	// non-carrier risk.
	BaselinePopulation BaselineMode = iota
	// BaselineModelDerived subtracts the allele-frequency-weighted
	// carrier risk from the baseline and renormalizes by the
	// non-carrier population fraction.
	BaselineModelDerived
)

// String returns the flag spelling of the mode.
func (m BaselineMode) String() string {
	switch m {
	case BaselinePopulation:
		return "population"
	case BaselineModelDerived:
		return "model-derived"
	}
	return fmt.Sprintf("BaselineMode(%d)", uint8(m))
}

// ParseBaselineMode parses a baseline mode flag value.
func ParseBaselineMode(s string) (BaselineMode, error) {
	switch s {
	case "population":
		return BaselinePopulation, nil
	case "model-derived":
		return BaselineModelDerived, nil
	}
	return BaselinePopulation, fmt.Errorf("unknown baseline mode %q (want population or model-derived)", s)
}

// Config resolves all likelihood options up front so Build does no
// per-iteration dispatch.
type Config struct {
	// Gene is the germline gene whose carriers the run models.  Germline
	// results for other genes carry no information about this locus and
	// are ignored.
	Gene string
	// AlleleFreq is the population risk allele frequency.
	AlleleFreq float64
	// AllowHomozygotes enables the third genotype state.
	AllowHomozygotes bool
	// SexMode restricts estimation to one sex.
	SexMode SexMode
	// BaselineMode selects the non-carrier risk derivation.
	BaselineMode BaselineMode
	// MaxAge bounds ages in all tables and curves.
	MaxAge int
	// Assay gives the germline test operating characteristics for Gene.
	Assay Assay
	// Markers models tumor marker evidence.  Nil means neutral.
	Markers MarkerModel
}

// States returns the number of genotype states the config implies.
func (c Config) States() int {
	if c.AllowHomozygotes {
		return 3
	}
	return 2
}

func (c Config) validate() error {
	if !(c.AlleleFreq > 0 && c.AlleleFreq <= 0.5) {
		return fmt.Errorf("likelihood: allele frequency must lie in (0,0.5], got %v", c.AlleleFreq)
	}
	if c.MaxAge < 1 {
		return fmt.Errorf("likelihood: max age must be positive, got %d", c.MaxAge)
	}
	return c.Assay.validate()
}

// Builder fills genotype likelihood matrices for successive parameter
// vectors over a fixed roster.  The matrix buffer is reused across
// Build calls, so a Builder must not be shared between goroutines; the
// roster and config it reads are shared and immutable.
type Builder struct {
	cfg     Config
	markers MarkerModel
	roster  *Roster
	states  int
	m       *Matrix
	derived map[derivedKey]*derivedRates
}

// NewBuilder returns a Builder over roster.
func NewBuilder(cfg Config, roster *Roster) (*Builder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	markers := cfg.Markers
	if markers == nil {
		markers = NeutralMarkers{}
	}
	states := cfg.States()
	return &Builder{
		cfg:     cfg,
		markers: markers,
		roster:  roster,
		states:  states,
		m:       NewMatrix(roster.NumRows(), states),
	}, nil
}

// Roster returns the roster the builder fills rows for.
func (b *Builder) Roster() *Roster { return b.roster }

// Build fills the matrix for one pair of carrier penetrance curves.
// The returned matrix is owned by the builder and overwritten by the
// next call.
func (b *Builder) Build(curveM, curveF weibull.Curve) *Matrix {
	b.derived = nil
	for i, row := range b.roster.rows {
		out := b.m.Row(i)
		if b.cfg.SexMode.excludes(row.parts[0].ind.Sex) {
			for j := range out {
				out[j] = tinyProb
			}
			continue
		}
		acc := [3]float64{1, 1, 1}
		for _, part := range row.parts {
			f := [3]float64{1, 1, 1}
			curve := curveM
			if part.ind.Sex == pedigree.SexFemale {
				curve = curveF
			}
			b.phenotype(part, curve, &f)
			b.genotypeMask(part.ind.Genotype, &f)
			b.germline(part.ind, &f)
			b.markerEvidence(part.ind, &f)
			acc[0] *= f[0]
			acc[1] *= f[1]
			acc[2] *= f[2]
		}
		copy(out, acc[:b.states])
	}
	return b.m
}

// phenotype multiplies in the age and affection evidence.  Unknown sex,
// unknown censoring age and unknown diagnosis age are uninformative.
// Heterozygotes and homozygotes share the carrier curve (dominant
// single-locus model).
func (b *Builder) phenotype(part rosterPart, curve weibull.Curve, f *[3]float64) {
	ind := part.ind
	if ind.Sex == pedigree.SexUnknown {
		return
	}
	if ind.Affected {
		age := ind.AgeDx
		if age == 0 {
			return
		}
		carrier := curve.Density(float64(age))
		if carrier < tinyProb {
			carrier = tinyProb
		}
		f[0] *= b.noncarrierIncidence(part.baseline, ind.Sex, curve, age)
		f[1] *= carrier
		f[2] *= carrier
		return
	}
	age := ind.Age
	if age == 0 {
		return
	}
	nc := 1 - b.noncarrierCumulative(part.baseline, ind.Sex, curve, age)
	if nc < 0 {
		nc = 0
	}
	carrier := curve.Survival(float64(age))
	f[0] *= nc
	f[1] *= carrier
	f[2] *= carrier
}

// genotypeMask zeroes columns inconsistent with an observed genotype.
func (b *Builder) genotypeMask(g pedigree.Genotype, f *[3]float64) {
	switch g {
	case pedigree.GenotypeNoncarrier:
		f[1], f[2] = 0, 0
	case pedigree.GenotypeHeterozygous:
		f[0], f[2] = 0, 0
	case pedigree.GenotypeHomozygous:
		// With two states the single carrier column covers homozygotes.
		f[0] = 0
		if b.states == 3 {
			f[1] = 0
		}
	}
}

// germline multiplies in test results for the run's gene.  Results for
// other genes bear no information about this locus.
func (b *Builder) germline(ind *pedigree.Individual, f *[3]float64) {
	for _, res := range ind.Germline {
		if res.Gene != b.cfg.Gene {
			continue
		}
		if res.Positive {
			f[0] *= 1 - b.cfg.Assay.Specificity
			f[1] *= b.cfg.Assay.Sensitivity
			f[2] *= b.cfg.Assay.Sensitivity
		} else {
			f[0] *= b.cfg.Assay.Specificity
			f[1] *= 1 - b.cfg.Assay.Sensitivity
			f[2] *= 1 - b.cfg.Assay.Sensitivity
		}
	}
}

func (b *Builder) markerEvidence(ind *pedigree.Individual, f *[3]float64) {
	for _, res := range ind.Markers {
		mf := b.markers.Factors(res.Marker, res.Value)
		f[0] *= mf[0]
		f[1] *= mf[1]
		f[2] *= mf[2]
	}
}

func (b *Builder) noncarrierCumulative(t *risk.Table, sex pedigree.Sex, curve weibull.Curve, age int) float64 {
	if b.cfg.BaselineMode == BaselinePopulation {
		return t.Cumulative(sex, age)
	}
	return b.derivedRates(t, sex, curve).cumulative(age)
}

func (b *Builder) noncarrierIncidence(t *risk.Table, sex pedigree.Sex, curve weibull.Curve, age int) float64 {
	if b.cfg.BaselineMode == BaselinePopulation {
		return t.Incidence(sex, age)
	}
	return b.derivedRates(t, sex, curve).incidence(age)
}

type derivedKey struct {
	table *risk.Table
	sex   pedigree.Sex
}

// derivedRates holds the model-derived non-carrier risk for one
// baseline table and sex under the current carrier curve.  Index i
// covers age i.
type derivedRates struct {
	cum []float64
	inc []float64
}

func (r *derivedRates) cumulative(age int) float64 {
	if age < 1 {
		return 0
	}
	if age >= len(r.cum) {
		age = len(r.cum) - 1
	}
	return r.cum[age]
}

func (r *derivedRates) incidence(age int) float64 {
	if age < 1 || age >= len(r.inc) {
		return 0
	}
	return r.inc[age]
}

// derivedRates computes, and caches for the current Build call, the
// non-carrier risk implied by the baseline and the carrier curve:
// subtract the carrier-weighted risk and renormalize by the non-carrier
// population fraction, flooring at zero.
func (b *Builder) derivedRates(t *risk.Table, sex pedigree.Sex, curve weibull.Curve) *derivedRates {
	key := derivedKey{t, sex}
	if r, ok := b.derived[key]; ok {
		return r
	}
	q := b.cfg.AlleleFreq
	w := 2 * q * (1 - q)
	if b.states == 3 {
		w += q * q
	}
	r := &derivedRates{
		cum: make([]float64, b.cfg.MaxAge+1),
		inc: make([]float64, b.cfg.MaxAge+1),
	}
	for age := 1; age <= b.cfg.MaxAge; age++ {
		v := (t.Cumulative(sex, age) - w*curve.Penetrance(float64(age))) / (1 - w)
		if v < 0 {
			v = 0
		}
		r.cum[age] = v
		inc := v - r.cum[age-1]
		if inc < 0 {
			inc = 0
		}
		r.inc[age] = inc
	}
	if b.derived == nil {
		b.derived = map[derivedKey]*derivedRates{}
	}
	b.derived[key] = r
	return r
}
