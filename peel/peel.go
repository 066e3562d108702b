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

// Package peel sums genotype likelihood matrices into exact pedigree
// log-likelihoods by variable elimination over the Mendelian factor
// graph.  The pedigree structure is compiled once; each Loglik call
// then marginalizes one matrix.  Per-elimination rescaling keeps
// tiny-probability rows from underflowing.
package peel

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/penetrance/likelihood"
	"github.com/grailbio/penetrance/pedigree"
)

// Peeler is a compiled likelihood.Oracle over one roster.  It is safe
// for concurrent Loglik calls on distinct matrices.
type Peeler struct {
	states  int
	numRows int
	workers int
	graphs  []*graph
}

// New compiles the roster's pedigrees against founder genotype
// frequencies and a transmission table from the likelihood package.
// workers bounds the number of pedigrees peeled concurrently per
// Loglik call; values below 2 mean sequential.
func New(roster *likelihood.Roster, freqs []float64, trans [][][]float64, workers int) (*Peeler, error) {
	states := len(freqs)
	if states != 2 && states != 3 {
		return nil, fmt.Errorf("peel: founder frequencies must cover 2 or 3 states, got %d", states)
	}
	if len(trans) != states {
		return nil, fmt.Errorf("peel: transmission table covers %d states, want %d", len(trans), states)
	}
	if workers < 1 {
		workers = 1
	}
	p := &Peeler{states: states, numRows: roster.NumRows(), workers: workers}
	for _, ped := range roster.Set().Pedigrees {
		g, err := compile(ped, roster, freqs, trans, states)
		if err != nil {
			return nil, err
		}
		p.graphs = append(p.graphs, g)
	}
	return p, nil
}

// Loglik implements likelihood.Oracle: the sum of per-pedigree
// log-likelihoods, -Inf when any pedigree has zero total probability.
func (p *Peeler) Loglik(m *likelihood.Matrix) (float64, error) {
	if m.States() != p.states {
		return 0, fmt.Errorf("peel: matrix has %d states, peeler wants %d", m.States(), p.states)
	}
	if m.NumRows() != p.numRows {
		return 0, fmt.Errorf("peel: matrix has %d rows, roster has %d", m.NumRows(), p.numRows)
	}
	lls := make([]float64, len(p.graphs))
	if p.workers < 2 || len(p.graphs) < 2 {
		for i, g := range p.graphs {
			lls[i] = g.loglik(m, p.states)
		}
	} else {
		workers := p.workers
		if workers > len(p.graphs) {
			workers = len(p.graphs)
		}
		if err := traverse.Each(workers, func(jobIdx int) error {
			start := (jobIdx * len(p.graphs)) / workers
			end := ((jobIdx + 1) * len(p.graphs)) / workers
			for i := start; i < end; i++ {
				lls[i] = p.graphs[i].loglik(m, p.states)
			}
			return nil
		}); err != nil {
			return 0, err
		}
	}
	total := 0.0
	for _, ll := range lls {
		total += ll
	}
	return total, nil
}

// factor holds a nonnegative function over a sorted set of pedigree-local
// variables.  data is indexed little-endian: the first variable in vars
// is the fastest-moving digit.
type factor struct {
	vars []int
	data []float64
}

// graph is one pedigree compiled for elimination.
type graph struct {
	name    string
	rows    []int // roster matrix row per local variable
	factors []factor
	order   []int // elimination order, childless first
}

func compile(ped *pedigree.Pedigree, roster *likelihood.Roster, freqs []float64, trans [][][]float64, states int) (*graph, error) {
	n := len(ped.Members)
	local := make(map[uint32]int, n)
	for i, ind := range ped.Members {
		local[ind.ID] = i
	}
	g := &graph{name: ped.Name, rows: make([]int, n)}
	for i, ind := range ped.Members {
		row := roster.Row(ped.Name, ind.ID)
		if row < 0 {
			return nil, fmt.Errorf("peel: pedigree %s: individual %d has no matrix row", ped.Name, ind.ID)
		}
		g.rows[i] = row
	}

	childCount := make([]int, n)
	parents := make([][2]int, n)
	for i, ind := range ped.Members {
		if ind.Founder() {
			g.factors = append(g.factors, factor{
				vars: []int{i},
				data: append([]float64(nil), freqs...),
			})
			parents[i] = [2]int{-1, -1}
			continue
		}
		mi, ok := local[ind.MotherID]
		if !ok {
			return nil, fmt.Errorf("peel: pedigree %s: individual %d: mother %d not found", ped.Name, ind.ID, ind.MotherID)
		}
		fi, ok := local[ind.FatherID]
		if !ok {
			return nil, fmt.Errorf("peel: pedigree %s: individual %d: father %d not found", ped.Name, ind.ID, ind.FatherID)
		}
		if mi == fi {
			return nil, fmt.Errorf("peel: pedigree %s: individual %d: mother and father are the same member", ped.Name, ind.ID)
		}
		g.factors = append(g.factors, transmissionFactor(mi, fi, i, states, trans))
		parents[i] = [2]int{mi, fi}
		childCount[mi]++
		childCount[fi]++
	}

	// Childless-first elimination keeps factor scopes small: a leaf's
	// elimination touches only its own parents.
	var queue []int
	for i := 0; i < n; i++ {
		if childCount[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		g.order = append(g.order, v)
		for _, p := range parents[v] {
			if p < 0 {
				continue
			}
			childCount[p]--
			if childCount[p] == 0 {
				queue = append(queue, p)
			}
		}
	}
	if len(g.order) != n {
		return nil, fmt.Errorf("peel: pedigree %s: parent links form a cycle", ped.Name)
	}
	return g, nil
}

// transmissionFactor builds the P(child | mother, father) factor over the
// three local variables.
func transmissionFactor(mother, father, child, states int, trans [][][]float64) factor {
	vars := []int{mother, father, child}
	sort.Ints(vars)
	stride := func(v int) int {
		for pos, sv := range vars {
			if sv == v {
				return intPow(states, pos)
			}
		}
		panic("peel: variable not in scope")
	}
	ms, fs, cs := stride(mother), stride(father), stride(child)
	data := make([]float64, states*states*states)
	for gm := 0; gm < states; gm++ {
		for gf := 0; gf < states; gf++ {
			for gc := 0; gc < states; gc++ {
				data[gm*ms+gf*fs+gc*cs] = trans[gm][gf][gc]
			}
		}
	}
	return factor{vars: vars, data: data}
}

// loglik marginalizes all genotypes out of the pedigree.  Factors are
// never mutated, so concurrent calls may share them.
func (g *graph) loglik(m *likelihood.Matrix, states int) float64 {
	active := make([]factor, 0, len(g.factors)+len(g.rows))
	active = append(active, g.factors...)
	for i, row := range g.rows {
		active = append(active, factor{vars: []int{i}, data: m.Row(row)})
	}

	logScale := 0.0
	for _, v := range g.order {
		var group []factor
		rest := active[:0]
		for _, f := range active {
			if containsVar(f.vars, v) {
				group = append(group, f)
			} else {
				rest = append(rest, f)
			}
		}
		res, scaler := eliminate(group, v, states)
		if scaler == 0 {
			return math.Inf(-1)
		}
		logScale += math.Log(scaler)
		active = rest
		if len(res.vars) > 0 {
			active = append(active, res)
		}
	}
	// Every surviving factor was rescaled to 1 when its last variable
	// went, so the total is just the accumulated scale.
	return logScale
}

// eliminate multiplies the group's factors over their union scope, sums
// out v, and normalizes the result by its maximum entry.  The returned
// scaler is that maximum; zero means the product is identically zero.
func eliminate(group []factor, v, states int) (factor, float64) {
	scope := []int{}
	for _, f := range group {
		scope = mergeVars(scope, f.vars)
	}
	out := make([]int, 0, len(scope)-1)
	for _, sv := range scope {
		if sv != v {
			out = append(out, sv)
		}
	}

	// Per-factor strides aligned to scope digits; the eliminated
	// variable gets stride 0 in the result, which sums it out.
	strides := make([][]int, len(group))
	for gi, f := range group {
		s := make([]int, len(scope))
		for pos, fv := range f.vars {
			s[indexOfVar(scope, fv)] = intPow(states, pos)
		}
		strides[gi] = s
	}
	outStride := make([]int, len(scope))
	for pos, ov := range out {
		outStride[indexOfVar(scope, ov)] = intPow(states, pos)
	}

	res := factor{vars: out, data: make([]float64, intPow(states, len(out)))}
	digits := make([]int, len(scope))
	total := intPow(states, len(scope))
	for li := 0; li < total; li++ {
		p := 1.0
		for gi, f := range group {
			idx := 0
			for j, d := range digits {
				idx += d * strides[gi][j]
			}
			p *= f.data[idx]
		}
		oidx := 0
		for j, d := range digits {
			oidx += d * outStride[j]
		}
		res.data[oidx] += p
		for j := range digits {
			digits[j]++
			if digits[j] < states {
				break
			}
			digits[j] = 0
		}
	}

	scaler := 0.0
	for _, x := range res.data {
		if x > scaler {
			scaler = x
		}
	}
	if scaler > 0 {
		for i := range res.data {
			res.data[i] /= scaler
		}
	}
	return res, scaler
}

func containsVar(vars []int, v int) bool {
	for _, x := range vars {
		if x == v {
			return true
		}
	}
	return false
}

func indexOfVar(vars []int, v int) int {
	for i, x := range vars {
		if x == v {
			return i
		}
	}
	panic("peel: variable not in scope")
}

// mergeVars unions two sorted variable lists.
func mergeVars(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func intPow(base, exp int) int {
	r := 1
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}
