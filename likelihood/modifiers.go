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
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// Assay holds the operating characteristics of a germline test for one
// gene.  A positive result multiplies carrier columns by Sensitivity and
// the non-carrier column by 1-Specificity; a negative result uses the
// complements.
type Assay struct {
	Sensitivity float64
	Specificity float64
}

// PerfectAssay treats germline results as error-free observations.
var PerfectAssay = Assay{Sensitivity: 1, Specificity: 1}

func (a Assay) validate() error {
	if !(a.Sensitivity > 0 && a.Sensitivity <= 1) {
		return fmt.Errorf("likelihood: sensitivity must lie in (0,1], got %v", a.Sensitivity)
	}
	if !(a.Specificity > 0 && a.Specificity <= 1) {
		return fmt.Errorf("likelihood: specificity must lie in (0,1], got %v", a.Specificity)
	}
	return nil
}

// AssayTable holds per-gene germline assay characteristics.
type AssayTable struct {
	genes map[string]Assay
}

// assayRow is one line of an assay TSV.
type assayRow struct {
	Gene        string  `tsv:"GENE"`
	Sensitivity float64 `tsv:"SENSITIVITY"`
	Specificity float64 `tsv:"SPECIFICITY"`
}

// LoadAssays reads a germline assay TSV with columns GENE, SENSITIVITY and
// SPECIFICITY.
func LoadAssays(ctx context.Context, path string) (t *AssayTable, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	t, err = ReadAssays(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read assays", path)
	}
	return t, nil
}

// ReadAssays parses assay rows from in.  See LoadAssays.
func ReadAssays(in io.Reader) (*AssayTable, error) {
	r := tsv.NewReader(in)
	r.HasHeaderRow = true
	r.UseHeaderNames = true

	t := &AssayTable{genes: map[string]Assay{}}
	lineno := 1
	var row assayRow
	for {
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				return t, nil
			}
			return nil, err
		}
		lineno++
		a := Assay{Sensitivity: row.Sensitivity, Specificity: row.Specificity}
		if err := a.validate(); err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
		if _, ok := t.genes[row.Gene]; ok {
			return nil, fmt.Errorf("line %d: duplicate gene %q", lineno, row.Gene)
		}
		t.genes[row.Gene] = a
	}
}

// Lookup returns the assay for gene.
func (t *AssayTable) Lookup(gene string) (Assay, bool) {
	a, ok := t.genes[gene]
	return a, ok
}

// Genes returns the genes the table covers, sorted.
func (t *AssayTable) Genes() []string {
	var r []string
	for g := range t.genes {
		r = append(r, g)
	}
	sort.Strings(r)
	return r
}

// MarkerModel scales genotype likelihoods by tumor-marker evidence.
// Implementations must be safe for concurrent use.
type MarkerModel interface {
	// Factors returns per-state multipliers for one observation, ordered
	// non-carrier, heterozygote, homozygote.  Observations the model does
	// not cover must return neutral factors of 1.
	Factors(marker, value string) [3]float64
}

// NeutralMarkers ignores all marker observations.
type NeutralMarkers struct{}

// Factors implements MarkerModel.
func (NeutralMarkers) Factors(string, string) [3]float64 { return [3]float64{1, 1, 1} }

// TableMarkers serves P(observation | genotype) factors parsed from a
// marker model TSV.
type TableMarkers struct {
	factors map[string][3]float64
}

// markerModelRow is one line of a marker model TSV.  P columns are the
// probabilities of observing VALUE for MARKER conditional on genotype.
type markerModelRow struct {
	Marker      string  `tsv:"MARKER"`
	Value       string  `tsv:"VALUE"`
	PNoncarrier float64 `tsv:"P_NONCARRIER"`
	PHet        float64 `tsv:"P_HET"`
	PHom        float64 `tsv:"P_HOM"`
}

// LoadMarkerModel reads a marker model TSV with columns MARKER, VALUE,
// P_NONCARRIER, P_HET and P_HOM.
func LoadMarkerModel(ctx context.Context, path string) (t *TableMarkers, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	t, err = ReadMarkerModel(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read marker model", path)
	}
	return t, nil
}

// ReadMarkerModel parses marker model rows from in.  See LoadMarkerModel.
func ReadMarkerModel(in io.Reader) (*TableMarkers, error) {
	r := tsv.NewReader(in)
	r.HasHeaderRow = true
	r.UseHeaderNames = true

	t := &TableMarkers{factors: map[string][3]float64{}}
	lineno := 1
	var row markerModelRow
	for {
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				return t, nil
			}
			return nil, err
		}
		lineno++
		f := [3]float64{row.PNoncarrier, row.PHet, row.PHom}
		for _, p := range f {
			if p < 0 || p > 1 {
				return nil, fmt.Errorf("line %d: probabilities must lie in [0,1], got %v", lineno, p)
			}
		}
		key := markerKey(row.Marker, row.Value)
		if _, ok := t.factors[key]; ok {
			return nil, fmt.Errorf("line %d: duplicate marker entry %s=%s", lineno, row.Marker, row.Value)
		}
		t.factors[key] = f
	}
}

// Factors implements MarkerModel.
func (t *TableMarkers) Factors(marker, value string) [3]float64 {
	if f, ok := t.factors[markerKey(marker, value)]; ok {
		return f
	}
	return [3]float64{1, 1, 1}
}

func markerKey(marker, value string) string { return marker + "\x00" + value }
