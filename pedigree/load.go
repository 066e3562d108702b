package pedigree

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// pedRow is one line of a pedigree TSV.  SEX uses 0/1/2 codes.  PROBAND is
// 0/1.  AFFECTED is 1 (affected), 0 (unaffected) or -1 (unknown); unknown
// affection is normalized at load time to unaffected censored at age 1, so
// the member contributes no phenotype signal.  MOTHER/FATHER 0 means no
// parent in the file; AGE and AGEDX 0 mean unknown.  TWIN groups identical
// multiples under a shared positive label.
type pedRow struct {
	Family   string `tsv:"FAMILY"`
	ID       uint32 `tsv:"ID"`
	Sex      int    `tsv:"SEX"`
	Mother   uint32 `tsv:"MOTHER"`
	Father   uint32 `tsv:"FATHER"`
	Proband  int    `tsv:"PROBAND"`
	Age      int    `tsv:"AGE"`
	Affected int    `tsv:"AFFECTED"`
	AgeDx    int    `tsv:"AGEDX"`
	Genotype string `tsv:"GENOTYPE"`
	Race     string `tsv:"RACE"`
	Twin     int    `tsv:"TWIN"`
}

// Load reads a pedigree TSV from path, decompressing transparently when the
// path names a compressed file.  See Read for the row format.
func Load(ctx context.Context, path string) (s *Set, err error) {
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
	s, err = Read(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read pedigrees", path)
	}
	return s, nil
}

// Read parses pedigree rows from in, grouping them into pedigrees by FAMILY
// in order of first appearance.  Member order within a pedigree is file
// order.
func Read(in io.Reader) (*Set, error) {
	r := tsv.NewReader(in)
	r.HasHeaderRow = true
	r.UseHeaderNames = true

	s := NewSet()
	lineno := 1
	var row pedRow
	for {
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		lineno++
		if row.ID == 0 {
			return nil, fmt.Errorf("line %d: individual ID must be positive", lineno)
		}
		sex, err := ParseSex(row.Sex)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
		geno, err := ParseGenotype(row.Genotype)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
		age := row.Age
		affected := false
		switch row.Affected {
		case 1:
			affected = true
		case 0:
		case -1:
			age = 1
		default:
			return nil, fmt.Errorf("line %d: AFFECTED must be -1, 0 or 1, got %d", lineno, row.Affected)
		}
		if row.Twin < 0 {
			return nil, fmt.Errorf("line %d: TWIN label must be nonnegative, got %d", lineno, row.Twin)
		}
		ind := &Individual{
			ID:       row.ID,
			Sex:      sex,
			MotherID: row.Mother,
			FatherID: row.Father,
			Proband:  row.Proband != 0,
			Age:      age,
			Affected: affected,
			AgeDx:    row.AgeDx,
			Genotype: geno,
			Race:     row.Race,
			Twin:     row.Twin,
		}
		if err := s.Add(row.Family, ind); err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
	}
	if len(s.Pedigrees) == 0 {
		return nil, fmt.Errorf("no pedigree rows")
	}
	return s, nil
}

// germlineRow is one line of a germline test results TSV.  RESULT is
// positive or negative.
type germlineRow struct {
	Family string `tsv:"FAMILY"`
	ID     uint32 `tsv:"ID"`
	Gene   string `tsv:"GENE"`
	Result string `tsv:"RESULT"`
}

// LoadGermline reads per-gene germline panel results and attaches them to
// the matching individuals in s.  Results for individuals absent from s are
// errors.
func LoadGermline(ctx context.Context, path string, s *Set) (err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if err := ReadGermline(reader, s); err != nil {
		return errors.Wrapf(err, "%s: read germline results", path)
	}
	return nil
}

// ReadGermline parses germline results from in.  See LoadGermline.
func ReadGermline(in io.Reader, s *Set) error {
	r := tsv.NewReader(in)
	r.HasHeaderRow = true
	r.UseHeaderNames = true

	lineno := 1
	var row germlineRow
	for {
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		lineno++
		ind, err := lookupRow(s, row.Family, row.ID, lineno)
		if err != nil {
			return err
		}
		var positive bool
		switch row.Result {
		case "positive":
			positive = true
		case "negative":
		default:
			return fmt.Errorf("line %d: RESULT must be positive or negative, got %q", lineno, row.Result)
		}
		ind.Germline = append(ind.Germline, GermlineResult{Gene: row.Gene, Positive: positive})
	}
}

// markerRow is one line of a tumor-marker results TSV.
type markerRow struct {
	Family string `tsv:"FAMILY"`
	ID     uint32 `tsv:"ID"`
	Marker string `tsv:"MARKER"`
	Result string `tsv:"RESULT"`
}

// LoadMarkers reads tumor-marker observations and attaches them to the
// matching individuals in s.
func LoadMarkers(ctx context.Context, path string, s *Set) (err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if err := ReadMarkers(reader, s); err != nil {
		return errors.Wrapf(err, "%s: read marker results", path)
	}
	return nil
}

// ReadMarkers parses marker observations from in.  See LoadMarkers.
func ReadMarkers(in io.Reader, s *Set) error {
	r := tsv.NewReader(in)
	r.HasHeaderRow = true
	r.UseHeaderNames = true

	lineno := 1
	var row markerRow
	for {
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		lineno++
		ind, err := lookupRow(s, row.Family, row.ID, lineno)
		if err != nil {
			return err
		}
		ind.Markers = append(ind.Markers, MarkerResult{Marker: row.Marker, Value: row.Result})
	}
}

func lookupRow(s *Set, family string, id uint32, lineno int) (*Individual, error) {
	ped := s.Pedigree(family)
	if ped == nil {
		return nil, fmt.Errorf("line %d: unknown family %q", lineno, family)
	}
	ind := ped.Lookup(id)
	if ind == nil {
		return nil, fmt.Errorf("line %d: individual %d not in family %q", lineno, id, family)
	}
	return ind, nil
}
