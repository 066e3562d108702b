// Package risk serves age-indexed population baseline risk tables.  Tables
// are immutable once loaded; anything parameter-dependent derived from them
// is built elsewhere as a new value.
package risk

import (
	"fmt"

	"github.com/grailbio/penetrance/pedigree"
)

// Kind selects which family of population rates a table holds.
type Kind uint8

const (
	// Incidence tables hold annual probabilities of first diagnosis.
	Incidence Kind = iota
	// Mortality tables hold annual probabilities of death.
	Mortality
)

func (k Kind) String() string {
	switch k {
	case Incidence:
		return "incidence"
	case Mortality:
		return "mortality"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "incidence":
		return Incidence, nil
	case "mortality":
		return Mortality, nil
	}
	return 0, fmt.Errorf("risk: unrecognized table kind %q", s)
}

// Table holds dense per-year population risk for one cancer, race and kind,
// covering ages 1..MaxAge.  A Table is never mutated after construction, so
// any number of goroutines may query it without locking.
type Table struct {
	Cancer string
	Race   string
	Kind   Kind

	maxAge int
	inc    [2][]float64 // annual risk by age, male then female
	cum    [2][]float64 // running sum of inc
}

// NewTable builds a table from annual male and female risks, where index i
// of each slice is the risk at age i+1.  Ages past the end of a slice have
// zero risk.
func NewTable(cancer, race string, kind Kind, maxAge int, maleInc, femaleInc []float64) *Table {
	t := &Table{Cancer: cancer, Race: race, Kind: kind, maxAge: maxAge}
	for s, src := range [2][]float64{maleInc, femaleInc} {
		t.inc[s] = make([]float64, maxAge+1)
		t.cum[s] = make([]float64, maxAge+1)
		sum := 0.0
		for age := 1; age <= maxAge; age++ {
			v := 0.0
			if age-1 < len(src) {
				v = src[age-1]
			}
			t.inc[s][age] = v
			sum += v
			t.cum[s][age] = sum
		}
	}
	return t
}

// MaxAge returns the last age the table covers.
func (t *Table) MaxAge() int { return t.maxAge }

// Incidence returns the annual risk at age for the given sex.  Ages outside
// [1, MaxAge] have zero risk.
func (t *Table) Incidence(sex pedigree.Sex, age int) float64 {
	if age < 1 || age > t.maxAge {
		return 0
	}
	return t.inc[sexIndex(sex)][age]
}

// Cumulative returns the risk accumulated through age.  Ages above MaxAge
// return the full accumulated risk; ages below 1 return 0.
func (t *Table) Cumulative(sex pedigree.Sex, age int) float64 {
	if age < 1 {
		return 0
	}
	if age > t.maxAge {
		age = t.maxAge
	}
	return t.cum[sexIndex(sex)][age]
}

// Lifetime returns the risk accumulated through MaxAge.
func (t *Table) Lifetime(sex pedigree.Sex) float64 {
	return t.cum[sexIndex(sex)][t.maxAge]
}

func sexIndex(s pedigree.Sex) int {
	switch s {
	case pedigree.SexMale:
		return 0
	case pedigree.SexFemale:
		return 1
	}
	panic("risk: table queries require a known sex")
}
