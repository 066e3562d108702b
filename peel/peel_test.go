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
package peel

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/grailbio/penetrance/likelihood"
	"github.com/grailbio/penetrance/pedigree"
	"github.com/grailbio/penetrance/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	table *risk.Table
}

func (p stubProvider) Lookup(string, string, risk.Kind) (*risk.Table, error) {
	return p.table, nil
}

func testRoster(t *testing.T, set *pedigree.Set) *likelihood.Roster {
	provider := stubProvider{table: risk.NewTable("breast", "All", risk.Incidence, 94, nil, nil)}
	roster, err := likelihood.NewRoster(set, provider, "breast")
	require.NoError(t, err)
	return roster
}

// randomMatrix fills every cell with a deterministic positive value.
func randomMatrix(roster *likelihood.Roster, states int, seed uint64) *likelihood.Matrix {
	rng := rand.New(rand.NewPCG(seed, 0))
	m := likelihood.NewMatrix(roster.NumRows(), states)
	for i := 0; i < m.NumRows(); i++ {
		row := m.Row(i)
		for j := range row {
			row[j] = 0.05 + 0.95*rng.Float64()
		}
	}
	return m
}

// bruteForce enumerates every genotype assignment of every pedigree.
func bruteForce(roster *likelihood.Roster, freqs []float64, trans [][][]float64, m *likelihood.Matrix) float64 {
	states := len(freqs)
	total := 0.0
	for _, ped := range roster.Set().Pedigrees {
		n := len(ped.Members)
		local := make(map[uint32]int, n)
		for i, ind := range ped.Members {
			local[ind.ID] = i
		}
		assign := make([]int, n)
		sum := 0.0
		for {
			p := 1.0
			for i, ind := range ped.Members {
				p *= m.Row(roster.Row(ped.Name, ind.ID))[assign[i]]
				if ind.Founder() {
					p *= freqs[assign[i]]
				} else {
					p *= trans[assign[local[ind.MotherID]]][assign[local[ind.FatherID]]][assign[i]]
				}
			}
			sum += p
			j := 0
			for ; j < n; j++ {
				assign[j]++
				if assign[j] < states {
					break
				}
				assign[j] = 0
			}
			if j == n {
				break
			}
		}
		total += math.Log(sum)
	}
	return total
}

func genetics(t *testing.T, alleleFreq float64, states int) ([]float64, [][][]float64) {
	freqs, err := likelihood.FounderFreqs(alleleFreq, states)
	require.NoError(t, err)
	trans, err := likelihood.Transmission(states)
	require.NoError(t, err)
	return freqs, trans
}

func addAll(t *testing.T, set *pedigree.Set, family string, members ...*pedigree.Individual) {
	for _, m := range members {
		require.NoError(t, set.Add(family, m))
	}
}

func TestPeelMatchesBruteForceTrio(t *testing.T) {
	set := pedigree.NewSet()
	addAll(t, set, "trio",
		&pedigree.Individual{ID: 1, Sex: pedigree.SexMale},
		&pedigree.Individual{ID: 2, Sex: pedigree.SexFemale},
		&pedigree.Individual{ID: 3, Sex: pedigree.SexFemale, MotherID: 2, FatherID: 1},
	)
	roster := testRoster(t, set)

	for _, states := range []int{2, 3} {
		freqs, trans := genetics(t, 0.1, states)
		m := randomMatrix(roster, states, uint64(states))
		p, err := New(roster, freqs, trans, 1)
		require.NoError(t, err)
		got, err := p.Loglik(m)
		require.NoError(t, err)
		assert.InDelta(t, bruteForce(roster, freqs, trans, m), got, 1e-10, "states %d", states)
	}
}

func TestPeelMatchesBruteForceThreeGenerations(t *testing.T) {
	set := pedigree.NewSet()
	addAll(t, set, "fam",
		&pedigree.Individual{ID: 1, Sex: pedigree.SexMale},
		&pedigree.Individual{ID: 2, Sex: pedigree.SexFemale},
		&pedigree.Individual{ID: 3, Sex: pedigree.SexFemale, MotherID: 2, FatherID: 1},
		&pedigree.Individual{ID: 4, Sex: pedigree.SexMale, MotherID: 2, FatherID: 1},
		&pedigree.Individual{ID: 5, Sex: pedigree.SexMale},
		&pedigree.Individual{ID: 6, Sex: pedigree.SexFemale, MotherID: 3, FatherID: 5},
		&pedigree.Individual{ID: 7, Sex: pedigree.SexMale, MotherID: 3, FatherID: 5},
		&pedigree.Individual{ID: 8, Sex: pedigree.SexFemale},
		&pedigree.Individual{ID: 9, Sex: pedigree.SexFemale, MotherID: 8, FatherID: 4},
	)
	roster := testRoster(t, set)
	freqs, trans := genetics(t, 0.05, 3)
	m := randomMatrix(roster, 3, 7)

	p, err := New(roster, freqs, trans, 1)
	require.NoError(t, err)
	got, err := p.Loglik(m)
	require.NoError(t, err)
	assert.InDelta(t, bruteForce(roster, freqs, trans, m), got, 1e-10)
}

func TestPeelMatchesBruteForceCousinLoop(t *testing.T) {
	// First cousins marry, closing a loop through the grandparents.
	set := pedigree.NewSet()
	addAll(t, set, "loop",
		&pedigree.Individual{ID: 1, Sex: pedigree.SexMale},
		&pedigree.Individual{ID: 2, Sex: pedigree.SexFemale},
		&pedigree.Individual{ID: 3, Sex: pedigree.SexMale, MotherID: 2, FatherID: 1},
		&pedigree.Individual{ID: 4, Sex: pedigree.SexFemale, MotherID: 2, FatherID: 1},
		&pedigree.Individual{ID: 5, Sex: pedigree.SexFemale},
		&pedigree.Individual{ID: 6, Sex: pedigree.SexMale},
		&pedigree.Individual{ID: 7, Sex: pedigree.SexFemale, MotherID: 5, FatherID: 3},
		&pedigree.Individual{ID: 8, Sex: pedigree.SexMale, MotherID: 4, FatherID: 6},
		&pedigree.Individual{ID: 9, Sex: pedigree.SexFemale, MotherID: 7, FatherID: 8},
	)
	roster := testRoster(t, set)
	freqs, trans := genetics(t, 0.2, 3)
	m := randomMatrix(roster, 3, 11)

	p, err := New(roster, freqs, trans, 1)
	require.NoError(t, err)
	got, err := p.Loglik(m)
	require.NoError(t, err)
	assert.InDelta(t, bruteForce(roster, freqs, trans, m), got, 1e-10)
}

func TestPeelSumsPedigrees(t *testing.T) {
	set := pedigree.NewSet()
	addAll(t, set, "a",
		&pedigree.Individual{ID: 1, Sex: pedigree.SexFemale},
		&pedigree.Individual{ID: 2, Sex: pedigree.SexMale},
		&pedigree.Individual{ID: 3, Sex: pedigree.SexMale, MotherID: 1, FatherID: 2},
	)
	addAll(t, set, "b",
		&pedigree.Individual{ID: 1, Sex: pedigree.SexFemale},
	)
	roster := testRoster(t, set)
	freqs, trans := genetics(t, 0.1, 2)
	m := randomMatrix(roster, 2, 13)

	p, err := New(roster, freqs, trans, 1)
	require.NoError(t, err)
	got, err := p.Loglik(m)
	require.NoError(t, err)
	assert.InDelta(t, bruteForce(roster, freqs, trans, m), got, 1e-10)

	// The singleton pedigree contributes the log of its prior-weighted
	// row, independent of the trio.
	soloSet := pedigree.NewSet()
	addAll(t, soloSet, "b", &pedigree.Individual{ID: 1, Sex: pedigree.SexFemale})
	soloRoster := testRoster(t, soloSet)
	solo := likelihood.NewMatrix(1, 2)
	copy(solo.Row(0), m.Row(3))
	sp, err := New(soloRoster, freqs, trans, 1)
	require.NoError(t, err)
	soloLL, err := sp.Loglik(solo)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(freqs[0]*m.Row(3)[0]+freqs[1]*m.Row(3)[1]), soloLL, 1e-12)
}

func TestPeelZeroProbability(t *testing.T) {
	set := pedigree.NewSet()
	addAll(t, set, "fam",
		&pedigree.Individual{ID: 1, Sex: pedigree.SexMale},
		&pedigree.Individual{ID: 2, Sex: pedigree.SexFemale},
		&pedigree.Individual{ID: 3, Sex: pedigree.SexFemale, MotherID: 2, FatherID: 1},
	)
	roster := testRoster(t, set)
	freqs, trans := genetics(t, 0.1, 3)

	// A homozygous mother always transmits the allele, so a non-carrier
	// child is impossible.
	m := likelihood.NewMatrix(roster.NumRows(), 3)
	copy(m.Row(roster.Row("fam", 1)), []float64{1, 1, 1})
	copy(m.Row(roster.Row("fam", 2)), []float64{0, 0, 1})
	copy(m.Row(roster.Row("fam", 3)), []float64{1, 0, 0})

	p, err := New(roster, freqs, trans, 1)
	require.NoError(t, err)
	got, err := p.Loglik(m)
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, -1))
}

func TestPeelUnderflowResistance(t *testing.T) {
	// Forty rows at 1e-28 would underflow a linear-space product; the
	// peeled log-likelihood stays finite and exact.
	const tiny = 1e-28
	set := pedigree.NewSet()
	for id := uint32(1); id <= 40; id++ {
		require.NoError(t, set.Add("fam", &pedigree.Individual{ID: id, Sex: pedigree.SexFemale}))
	}
	roster := testRoster(t, set)
	freqs, trans := genetics(t, 0.1, 2)

	m := likelihood.NewMatrix(roster.NumRows(), 2)
	for i := 0; i < m.NumRows(); i++ {
		copy(m.Row(i), []float64{tiny, tiny})
	}

	p, err := New(roster, freqs, trans, 1)
	require.NoError(t, err)
	got, err := p.Loglik(m)
	require.NoError(t, err)
	assert.InEpsilon(t, 40*math.Log(tiny), got, 1e-12)
}

func TestPeelWorkersDeterministic(t *testing.T) {
	set := pedigree.NewSet()
	for fam := 0; fam < 7; fam++ {
		name := string(rune('a' + fam))
		addAll(t, set, name,
			&pedigree.Individual{ID: 1, Sex: pedigree.SexMale},
			&pedigree.Individual{ID: 2, Sex: pedigree.SexFemale},
			&pedigree.Individual{ID: 3, Sex: pedigree.SexFemale, MotherID: 2, FatherID: 1},
			&pedigree.Individual{ID: 4, Sex: pedigree.SexMale, MotherID: 2, FatherID: 1},
		)
	}
	roster := testRoster(t, set)
	freqs, trans := genetics(t, 0.1, 2)
	m := randomMatrix(roster, 2, 17)

	seq, err := New(roster, freqs, trans, 1)
	require.NoError(t, err)
	par, err := New(roster, freqs, trans, 4)
	require.NoError(t, err)

	want, err := seq.Loglik(m)
	require.NoError(t, err)
	got, err := par.Loglik(m)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPeelErrors(t *testing.T) {
	set := pedigree.NewSet()
	addAll(t, set, "fam",
		&pedigree.Individual{ID: 1, Sex: pedigree.SexFemale},
	)
	roster := testRoster(t, set)
	freqs, trans := genetics(t, 0.1, 2)

	_, err := New(roster, []float64{1}, trans, 1)
	assert.Error(t, err)
	_, err = New(roster, freqs, [][][]float64{}, 1)
	assert.Error(t, err)

	p, err := New(roster, freqs, trans, 1)
	require.NoError(t, err)
	_, err = p.Loglik(likelihood.NewMatrix(1, 3))
	assert.Error(t, err)
	_, err = p.Loglik(likelihood.NewMatrix(5, 2))
	assert.Error(t, err)

	// Parent links that loop cannot be compiled.
	cyclic := pedigree.NewSet()
	addAll(t, cyclic, "fam",
		&pedigree.Individual{ID: 1, Sex: pedigree.SexFemale, MotherID: 2, FatherID: 3},
		&pedigree.Individual{ID: 2, Sex: pedigree.SexFemale, MotherID: 1, FatherID: 3},
		&pedigree.Individual{ID: 3, Sex: pedigree.SexMale},
	)
	_, err = New(testRoster(t, cyclic), freqs, trans, 1)
	assert.Error(t, err)
}
