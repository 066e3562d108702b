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

import "fmt"

// Genotype state column order used throughout: non-carrier (1/1),
// heterozygote (1/2), homozygote (2/2).  Runs that disallow homozygotes use
// only the first two columns.
const (
	StateNoncarrier = 0
	StateHet        = 1
	StateHom        = 2
)

// FounderFreqs returns Hardy-Weinberg genotype priors for pedigree
// founders given the risk-allele frequency.  With states == 2 the
// homozygous class is dropped and the remaining probabilities are
// renormalized.
func FounderFreqs(alleleFreq float64, states int) ([]float64, error) {
	if !(alleleFreq > 0 && alleleFreq < 1) {
		return nil, fmt.Errorf("likelihood: allele frequency must lie in (0,1), got %v", alleleFreq)
	}
	q := alleleFreq
	full := []float64{(1 - q) * (1 - q), 2 * q * (1 - q), q * q}
	switch states {
	case 3:
		return full, nil
	case 2:
		sum := full[StateNoncarrier] + full[StateHet]
		return []float64{full[StateNoncarrier] / sum, full[StateHet] / sum}, nil
	}
	return nil, fmt.Errorf("likelihood: states must be 2 or 3, got %d", states)
}

// Transmission returns t[m][f][c] = P(child has state c | mother state m,
// father state f) under Mendelian single-locus inheritance.  With
// states == 2 the homozygous child class is dropped and each row is
// renormalized to sum 1.
func Transmission(states int) ([][][]float64, error) {
	if states != 2 && states != 3 {
		return nil, fmt.Errorf("likelihood: states must be 2 or 3, got %d", states)
	}
	// Probability a parent with each genotype transmits the risk allele.
	trans := [3]float64{0, 0.5, 1}
	t := make([][][]float64, states)
	for m := 0; m < states; m++ {
		t[m] = make([][]float64, states)
		for f := 0; f < states; f++ {
			pm, pf := trans[m], trans[f]
			full := [3]float64{
				(1 - pm) * (1 - pf),
				pm*(1-pf) + (1-pm)*pf,
				pm * pf,
			}
			row := make([]float64, states)
			sum := 0.0
			for c := 0; c < states; c++ {
				row[c] = full[c]
				sum += full[c]
			}
			for c := range row {
				row[c] /= sum
			}
			t[m][f] = row
		}
	}
	return t, nil
}
