package risk

import (
	"strings"
	"testing"

	"github.com/grailbio/penetrance/pedigree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	male := []float64{0.001, 0.002, 0.003}
	female := []float64{0.002, 0.004}
	tbl := NewTable("Breast", "All", Incidence, 5, male, female)

	assert.Equal(t, 5, tbl.MaxAge())
	assert.Equal(t, 0.001, tbl.Incidence(pedigree.SexMale, 1))
	assert.Equal(t, 0.003, tbl.Incidence(pedigree.SexMale, 3))
	assert.Equal(t, 0.0, tbl.Incidence(pedigree.SexMale, 4))
	assert.Equal(t, 0.0, tbl.Incidence(pedigree.SexMale, 0))
	assert.Equal(t, 0.0, tbl.Incidence(pedigree.SexMale, 6))

	assert.InDelta(t, 0.003, tbl.Cumulative(pedigree.SexMale, 2), 1e-15)
	assert.InDelta(t, 0.006, tbl.Cumulative(pedigree.SexMale, 5), 1e-15)
	// Past MaxAge the accumulated risk is flat.
	assert.InDelta(t, 0.006, tbl.Cumulative(pedigree.SexMale, 80), 1e-15)
	assert.Equal(t, 0.0, tbl.Cumulative(pedigree.SexMale, 0))

	assert.InDelta(t, 0.006, tbl.Cumulative(pedigree.SexFemale, 4), 1e-15)
	assert.InDelta(t, 0.006, tbl.Lifetime(pedigree.SexFemale), 1e-15)

	assert.Panics(t, func() { tbl.Cumulative(pedigree.SexUnknown, 3) })
}

func ratesTSV(rows ...string) string {
	lines := append([]string{"CANCER\tRACE\tSEX\tKIND\tAGE\tRATE"}, rows...)
	return strings.Join(lines, "\n") + "\n"
}

func TestReadRates(t *testing.T) {
	in := ratesTSV(
		"Breast\tAll\tF\tincidence\t40\t0.001",
		"Breast\tAll\tF\tincidence\t41\t0.002",
		"Breast\tAll\tM\tincidence\t40\t0.0001",
		"Breast\tAsian\tF\tincidence\t40\t0.0005",
		"Colorectal\tAll\tM\tincidence\t50\t0.001",
		"Breast\tAll\tF\tmortality\t70\t0.004",
	)
	p, err := ReadRates(strings.NewReader(in), 94)
	require.NoError(t, err)

	assert.Equal(t, []string{"Breast", "Colorectal"}, p.Cancers())
	assert.Equal(t, []string{"All", "Asian"}, p.Races())
	assert.Equal(t, 94, p.MaxAge())

	tbl, err := p.Lookup("Breast", "All", Incidence)
	require.NoError(t, err)
	assert.Equal(t, 0.001, tbl.Incidence(pedigree.SexFemale, 40))
	assert.Equal(t, 0.002, tbl.Incidence(pedigree.SexFemale, 41))
	assert.Equal(t, 0.0, tbl.Incidence(pedigree.SexFemale, 42))
	assert.InDelta(t, 0.003, tbl.Cumulative(pedigree.SexFemale, 94), 1e-15)

	// An unknown race falls back to the default, and an empty race means
	// the default.
	fallback, err := p.Lookup("Breast", "Hispanic", Incidence)
	require.NoError(t, err)
	assert.Equal(t, tbl, fallback)
	deflt, err := p.Lookup("Breast", "", Incidence)
	require.NoError(t, err)
	assert.Equal(t, tbl, deflt)

	asian, err := p.Lookup("Breast", "Asian", Incidence)
	require.NoError(t, err)
	assert.Equal(t, 0.0005, asian.Incidence(pedigree.SexFemale, 40))

	mort, err := p.Lookup("Breast", "All", Mortality)
	require.NoError(t, err)
	assert.Equal(t, 0.004, mort.Incidence(pedigree.SexFemale, 70))

	_, err = p.Lookup("Pancreatic", "All", Incidence)
	assert.Error(t, err)

	// Repeated lookups hit the memo and stay consistent.
	again, err := p.Lookup("Breast", "Hispanic", Incidence)
	require.NoError(t, err)
	assert.Equal(t, tbl, again)
}

func TestReadRatesErrors(t *testing.T) {
	tests := []struct {
		name string
		row  string
	}{
		{"bad kind", "Breast\tAll\tF\tprevalence\t40\t0.001"},
		{"bad sex", "Breast\tAll\tX\tincidence\t40\t0.001"},
		{"zero age", "Breast\tAll\tF\tincidence\t0\t0.001"},
		{"rate too big", "Breast\tAll\tF\tincidence\t40\t1.5"},
		{"negative rate", "Breast\tAll\tF\tincidence\t40\t-0.1"},
	}
	for _, test := range tests {
		_, err := ReadRates(strings.NewReader(ratesTSV(test.row)), 94)
		assert.Error(t, err, test.name)
	}

	_, err := ReadRates(strings.NewReader(ratesTSV()), 0)
	assert.Error(t, err, "bad max age")
}

func TestReadRatesDropsOldAges(t *testing.T) {
	in := ratesTSV(
		"Breast\tAll\tF\tincidence\t40\t0.001",
		"Breast\tAll\tF\tincidence\t120\t0.5",
	)
	p, err := ReadRates(strings.NewReader(in), 94)
	require.NoError(t, err)
	tbl, err := p.Lookup("Breast", "All", Incidence)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, tbl.Cumulative(pedigree.SexFemale, 94), 1e-15)
}
