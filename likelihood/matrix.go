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
	"github.com/grailbio/penetrance/pedigree"
	"github.com/grailbio/penetrance/risk"
)

// Matrix holds per-individual genotype likelihoods for one parameter
// vector.  Rows follow the Roster that built the matrix; columns are
// genotype states in FounderFreqs order, so column 0 is always the
// non-carrier state.
type Matrix struct {
	states int
	data   []float64
}

// NewMatrix returns a rows x states matrix with all cells zero.
func NewMatrix(rows, states int) *Matrix {
	return &Matrix{states: states, data: make([]float64, rows*states)}
}

// States returns the number of genotype states per row.
func (m *Matrix) States() int { return m.states }

// NumRows returns the number of individual rows.
func (m *Matrix) NumRows() int { return len(m.data) / m.states }

// Row returns the mutable likelihood row for the individual at index i.
func (m *Matrix) Row(i int) []float64 {
	return m.data[i*m.states : (i+1)*m.states]
}

// rosterPart is one pedigree file row contributing to a matrix row.  A
// collapsed twin group contributes one part per member.
type rosterPart struct {
	ind      *pedigree.Individual
	baseline *risk.Table
}

type rosterRow struct {
	parts []rosterPart
}

type rosterKey struct {
	pedigree string
	id       uint32
}

// Roster fixes the row order of likelihood matrices: pedigrees in set
// order, members in file order.  It also resolves every individual's
// baseline rate table up front, so per-iteration matrix builds do no
// lookups.
type Roster struct {
	set   *pedigree.Set
	rows  []rosterRow
	index map[rosterKey]int
}

// NewRoster builds a roster over set, resolving each member's baseline
// incidence table for cancer through provider.  Members merged into a
// row by twin collapsing resolve their own tables.
func NewRoster(set *pedigree.Set, provider risk.Provider, cancer string) (*Roster, error) {
	r := &Roster{set: set, index: map[rosterKey]int{}}
	for _, ped := range set.Pedigrees {
		for _, ind := range ped.Members {
			row := rosterRow{parts: make([]rosterPart, 0, 1+len(ind.Merged))}
			for _, part := range append([]*pedigree.Individual{ind}, ind.Merged...) {
				table, err := provider.Lookup(cancer, part.Race, risk.Incidence)
				if err != nil {
					return nil, err
				}
				row.parts = append(row.parts, rosterPart{ind: part, baseline: table})
			}
			r.index[rosterKey{ped.Name, ind.ID}] = len(r.rows)
			r.rows = append(r.rows, row)
		}
	}
	return r, nil
}

// Set returns the pedigree set the roster was built over.
func (r *Roster) Set() *pedigree.Set { return r.set }

// NumRows returns the number of matrix rows the roster defines.
func (r *Roster) NumRows() int { return len(r.rows) }

// Row returns the matrix row index of an individual, or -1 if the
// individual is not in the roster (for example a dropped co-twin).
func (r *Roster) Row(pedigreeName string, id uint32) int {
	if i, ok := r.index[rosterKey{pedigreeName, id}]; ok {
		return i
	}
	return -1
}

// At returns the representative individual for row i.
func (r *Roster) At(i int) *pedigree.Individual { return r.rows[i].parts[0].ind }
