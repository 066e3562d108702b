// Package pedigree models family structures for penetrance estimation: a
// Set of independent pedigrees, each an ordered list of individuals with
// parent links, phenotypes and test results.
package pedigree

import "fmt"

// Sex is the recorded sex of an individual.  The numeric values match the
// 0/1/2 codes used in pedigree files.
type Sex uint8

const (
	SexUnknown Sex = iota
	SexMale
	SexFemale
)

func (s Sex) String() string {
	switch s {
	case SexMale:
		return "male"
	case SexFemale:
		return "female"
	case SexUnknown:
		return "unknown"
	}
	return fmt.Sprintf("Sex(%d)", s)
}

// ParseSex maps a pedigree-file sex code to a Sex.
func ParseSex(code int) (Sex, error) {
	switch code {
	case 0:
		return SexUnknown, nil
	case 1:
		return SexMale, nil
	case 2:
		return SexFemale, nil
	}
	return SexUnknown, fmt.Errorf("pedigree: sex code must be 0, 1 or 2, got %d", code)
}

// Genotype is an observed germline genotype at the risk locus, written with
// allele 2 as the risk variant.  The zero value means untested.
type Genotype uint8

const (
	GenotypeUnknown      Genotype = iota
	GenotypeNoncarrier            // 1/1
	GenotypeHeterozygous          // 1/2
	GenotypeHomozygous            // 2/2
)

func (g Genotype) String() string {
	switch g {
	case GenotypeUnknown:
		return "NA"
	case GenotypeNoncarrier:
		return "1/1"
	case GenotypeHeterozygous:
		return "1/2"
	case GenotypeHomozygous:
		return "2/2"
	}
	return fmt.Sprintf("Genotype(%d)", g)
}

// ParseGenotype maps a pedigree-file genotype string to a Genotype.  Empty
// and "NA" mean untested.
func ParseGenotype(s string) (Genotype, error) {
	switch s {
	case "", "NA":
		return GenotypeUnknown, nil
	case "1/1":
		return GenotypeNoncarrier, nil
	case "1/2", "2/1":
		return GenotypeHeterozygous, nil
	case "2/2":
		return GenotypeHomozygous, nil
	}
	return GenotypeUnknown, fmt.Errorf("pedigree: unrecognized genotype %q", s)
}

// GermlineResult is one gene's result from a germline test panel.
type GermlineResult struct {
	Gene     string
	Positive bool
}

// MarkerResult is one tumor-marker observation.
type MarkerResult struct {
	Marker string
	Value  string
}

// Individual is one pedigree member.  Age is the censoring age (current age
// or age at last follow-up), 0 when unknown.  AgeDx is the diagnosis age
// for affected members, 0 when unknown.
type Individual struct {
	ID       uint32
	Sex      Sex
	MotherID uint32 // 0 = no mother in the pedigree
	FatherID uint32
	Proband  bool
	Age      int
	Affected bool
	AgeDx    int
	Genotype Genotype
	Race     string
	Twin     int // multiple-birth group label; 0 = singleton

	Germline []GermlineResult
	Markers  []MarkerResult

	// Merged holds identical co-twins collapsed into this individual; their
	// phenotype evidence multiplies into this individual's likelihood row.
	Merged []*Individual
}

// Founder reports whether i has no parents in the pedigree.
func (i *Individual) Founder() bool { return i.MotherID == 0 && i.FatherID == 0 }

// Pedigree is one family: members in file order plus an ID index.
type Pedigree struct {
	Name    string
	Members []*Individual

	byID map[uint32]*Individual
}

func newPedigree(name string) *Pedigree {
	return &Pedigree{Name: name, byID: map[uint32]*Individual{}}
}

// Lookup returns the member with the given ID, or nil.
func (p *Pedigree) Lookup(id uint32) *Individual { return p.byID[id] }

func (p *Pedigree) add(ind *Individual) error {
	if _, ok := p.byID[ind.ID]; ok {
		return fmt.Errorf("pedigree %s: duplicate individual %d", p.Name, ind.ID)
	}
	p.Members = append(p.Members, ind)
	p.byID[ind.ID] = ind
	return nil
}

// Probands returns the members the family was ascertained through, in file
// order.
func (p *Pedigree) Probands() []*Individual {
	var r []*Individual
	for _, ind := range p.Members {
		if ind.Proband {
			r = append(r, ind)
		}
	}
	return r
}

// Founders returns the members with no parents in the pedigree, in file
// order.
func (p *Pedigree) Founders() []*Individual {
	var r []*Individual
	for _, ind := range p.Members {
		if ind.Founder() {
			r = append(r, ind)
		}
	}
	return r
}

// Set is a collection of independent pedigrees in order of first
// appearance.
type Set struct {
	Pedigrees []*Pedigree

	byName map[string]*Pedigree
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{byName: map[string]*Pedigree{}}
}

// Pedigree returns the pedigree with the given family name, or nil.
func (s *Set) Pedigree(name string) *Pedigree { return s.byName[name] }

// Add appends ind to the named pedigree, creating the pedigree on first
// use.
func (s *Set) Add(family string, ind *Individual) error {
	ped := s.byName[family]
	if ped == nil {
		ped = newPedigree(family)
		s.byName[family] = ped
		s.Pedigrees = append(s.Pedigrees, ped)
	}
	return ped.add(ind)
}

// NumIndividuals returns the total member count across pedigrees.
func (s *Set) NumIndividuals() int {
	n := 0
	for _, ped := range s.Pedigrees {
		n += len(ped.Members)
	}
	return n
}
