package estimate

import (
	"math"
	"math/rand/v2"
	"runtime"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/penetrance/mcmc"
	"github.com/grailbio/penetrance/pedigree"
	"github.com/grailbio/penetrance/weibull"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generatingQuantiles converts a shifted Weibull(shape, scale) with a
// lifetime asymptote into the quantile parameterization the sampler
// estimates.
func generatingQuantiles(shape, scale, shift, asymptote float64) weibull.Quantiles {
	med := shift + scale*math.Pow(math.Ln2, 1/shape)
	ratio := math.Log((asymptote-0.25)/asymptote) / math.Log((asymptote-0.5)/asymptote)
	q1 := shift + (med-shift)*math.Pow(ratio, 1/shape)
	return weibull.Quantiles{
		Threshold:     shift,
		FirstQuartile: q1,
		Median:        med,
		Asymptote:     asymptote,
	}
}

// simulateFamilies draws nuclear families whose carriers follow the
// given onset model.  One founder per family is a heterozygous carrier
// and every member's genotype is observed, so the posterior is driven
// by carrier phenotypes rather than by genotype marginalization.
func simulateFamilies(t *testing.T, rng *rand.Rand, shape, scale, shift, asymptote float64, nFam int) *pedigree.Set {
	set := pedigree.NewSet()
	for f := 0; f < nFam; f++ {
		family := string(rune('A'+f/26)) + string(rune('A'+f%26))
		mother := &pedigree.Individual{
			ID: 1, Sex: pedigree.SexFemale, MotherID: 0, FatherID: 0,
			Proband: true, Genotype: pedigree.GenotypeHeterozygous,
		}
		father := &pedigree.Individual{
			ID: 2, Sex: pedigree.SexMale, Genotype: pedigree.GenotypeNoncarrier,
		}
		members := []*pedigree.Individual{mother, father}
		for c := 0; c < 4; c++ {
			child := &pedigree.Individual{
				ID: uint32(3 + c), MotherID: 1, FatherID: 2,
				Sex:      pedigree.SexMale,
				Genotype: pedigree.GenotypeNoncarrier,
			}
			if c%2 == 0 {
				child.Sex = pedigree.SexFemale
			}
			if rng.Float64() < 0.5 {
				child.Genotype = pedigree.GenotypeHeterozygous
			}
			members = append(members, child)
		}
		for _, ind := range members {
			censor := 65 + rng.IntN(testMaxAge-65)
			ind.Age = censor
			if ind.Genotype == pedigree.GenotypeHeterozygous && rng.Float64() < asymptote {
				onset := int(shift + scale*math.Pow(-math.Log(1-rng.Float64()), 1/shape))
				if onset <= censor {
					ind.Affected = true
					ind.AgeDx = onset
				}
			}
			require.NoError(t, set.Add(family, ind))
		}
	}
	return set
}

// TestRecoverGeneratingModel simulates pedigrees from a known onset
// model and checks that pooled posterior medians recover the
// generating median, first quartile and asymptote.
func TestRecoverGeneratingModel(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-chain posterior recovery is slow")
	}
	if runtime.NumCPU() < 4 {
		t.Skip("needs 4 cpus for 4 chains")
	}
	const (
		shape     = 2.5
		scale     = 50.0
		shift     = 20.0
		asymptote = 0.9
	)
	rng := rand.New(rand.NewPCG(5, 1))
	set := simulateFamilies(t, rng, shape, scale, shift, asymptote, 80)
	in := testInputs(t, set)

	opts := DefaultOpts
	opts.Cancer = "breast"
	opts.Gene = "BRCA1"
	opts.NChains = 4
	opts.NIter = 500
	opts.MaxAge = testMaxAge
	opts.AlleleFreq = 0.01
	opts.BurnInFrac = 0.1
	opts.Init = mcmc.InitEmpirical
	opts.Priors.ThresholdMax = 30
	opts.Seed = 7

	res, err := Run(vcontext.Background(), in, opts)
	require.NoError(t, err)

	truth := generatingQuantiles(shape, scale, shift, asymptote)
	want := map[string]float64{
		"median_male":           truth.Median,
		"median_female":         truth.Median,
		"first_quartile_male":   truth.FirstQuartile,
		"first_quartile_female": truth.FirstQuartile,
		"asymptote_male":        truth.Asymptote,
		"asymptote_female":      truth.Asymptote,
	}
	got := map[string]float64{}
	for _, s := range res.Summaries {
		got[s.Name] = s.Median
	}
	for name, w := range want {
		assert.InEpsilon(t, w, got[name], 0.15, "%s: want %v within 15%%, got %v", name, w, got[name])
	}

	// The chains should not all be stuck.
	stuck := 0
	for _, rate := range res.RejectionRates() {
		if rate > 0.9 {
			stuck++
		}
	}
	assert.True(t, stuck < opts.NChains)
}
