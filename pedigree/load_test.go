package pedigree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pedTSV(rows ...string) string {
	lines := append([]string{"FAMILY\tID\tSEX\tMOTHER\tFATHER\tPROBAND\tAGE\tAFFECTED\tAGEDX\tGENOTYPE\tRACE\tTWIN"}, rows...)
	return strings.Join(lines, "\n") + "\n"
}

func TestRead(t *testing.T) {
	in := pedTSV(
		"fam1\t1\t1\t0\t0\t0\t70\t0\t0\t\tAll\t0",
		"fam1\t2\t2\t0\t0\t0\t68\t1\t45\t1/2\tAll\t0",
		"fam1\t3\t2\t2\t1\t1\t40\t1\t38\t\tAll\t0",
		"fam2\t1\t1\t0\t0\t1\t55\t0\t0\t1/1\tAsian\t0",
	)
	s, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 2, len(s.Pedigrees))
	assert.Equal(t, 4, s.NumIndividuals())

	fam1 := s.Pedigree("fam1")
	require.NotNil(t, fam1)
	assert.Equal(t, 3, len(fam1.Members))

	mother := fam1.Lookup(2)
	require.NotNil(t, mother)
	assert.Equal(t, SexFemale, mother.Sex)
	assert.True(t, mother.Affected)
	assert.Equal(t, 45, mother.AgeDx)
	assert.Equal(t, GenotypeHeterozygous, mother.Genotype)
	assert.True(t, mother.Founder())

	child := fam1.Lookup(3)
	require.NotNil(t, child)
	assert.Equal(t, uint32(2), child.MotherID)
	assert.Equal(t, uint32(1), child.FatherID)
	assert.False(t, child.Founder())
	assert.Equal(t, []*Individual{child}, fam1.Probands())
	assert.Equal(t, 2, len(fam1.Founders()))

	fam2 := s.Pedigree("fam2")
	require.NotNil(t, fam2)
	assert.Equal(t, "Asian", fam2.Members[0].Race)
}

func TestReadUnknownAffection(t *testing.T) {
	in := pedTSV("fam1\t1\t1\t0\t0\t0\t70\t-1\t0\t\t\t0")
	s, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	ind := s.Pedigree("fam1").Lookup(1)
	require.NotNil(t, ind)
	// Unknown affection is normalized to unaffected at age 1.
	assert.False(t, ind.Affected)
	assert.Equal(t, 1, ind.Age)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		row  string
	}{
		{"zero id", "fam1\t0\t1\t0\t0\t0\t70\t0\t0\t\t\t0"},
		{"bad sex", "fam1\t1\t3\t0\t0\t0\t70\t0\t0\t\t\t0"},
		{"bad genotype", "fam1\t1\t1\t0\t0\t0\t70\t0\t0\t1/3\t\t0"},
		{"bad affection", "fam1\t1\t1\t0\t0\t0\t70\t7\t0\t\t\t0"},
		{"negative twin", "fam1\t1\t1\t0\t0\t0\t70\t0\t0\t\t\t-2"},
	}
	for _, test := range tests {
		_, err := Read(strings.NewReader(pedTSV(test.row)))
		assert.Error(t, err, test.name)
	}

	_, err := Read(strings.NewReader(pedTSV(
		"fam1\t1\t1\t0\t0\t0\t70\t0\t0\t\t\t0",
		"fam1\t1\t2\t0\t0\t0\t68\t0\t0\t\t\t0",
	)))
	assert.Error(t, err, "duplicate id")

	_, err = Read(strings.NewReader(pedTSV()))
	assert.Error(t, err, "empty file")
}

func TestReadGermlineAndMarkers(t *testing.T) {
	s, err := Read(strings.NewReader(pedTSV(
		"fam1\t1\t1\t0\t0\t0\t70\t0\t0\t\t\t0",
		"fam1\t2\t2\t0\t0\t1\t50\t1\t42\t\t\t0",
	)))
	require.NoError(t, err)

	germline := "FAMILY\tID\tGENE\tRESULT\n" +
		"fam1\t2\tBRCA1\tpositive\n" +
		"fam1\t2\tBRCA2\tnegative\n"
	require.NoError(t, ReadGermline(strings.NewReader(germline), s))
	ind := s.Pedigree("fam1").Lookup(2)
	require.Equal(t, 2, len(ind.Germline))
	assert.Equal(t, GermlineResult{Gene: "BRCA1", Positive: true}, ind.Germline[0])
	assert.Equal(t, GermlineResult{Gene: "BRCA2", Positive: false}, ind.Germline[1])

	markers := "FAMILY\tID\tMARKER\tRESULT\n" +
		"fam1\t2\tER\tpositive\n"
	require.NoError(t, ReadMarkers(strings.NewReader(markers), s))
	require.Equal(t, 1, len(ind.Markers))
	assert.Equal(t, MarkerResult{Marker: "ER", Value: "positive"}, ind.Markers[0])

	badResult := "FAMILY\tID\tGENE\tRESULT\nfam1\t2\tBRCA1\tmaybe\n"
	assert.Error(t, ReadGermline(strings.NewReader(badResult), s))

	unknownID := "FAMILY\tID\tGENE\tRESULT\nfam1\t9\tBRCA1\tpositive\n"
	assert.Error(t, ReadGermline(strings.NewReader(unknownID), s))

	unknownFam := "FAMILY\tID\tMARKER\tRESULT\nfam9\t1\tER\tpositive\n"
	assert.Error(t, ReadMarkers(strings.NewReader(unknownFam), s))
}

func TestParseSexAndGenotype(t *testing.T) {
	for code, want := range map[int]Sex{0: SexUnknown, 1: SexMale, 2: SexFemale} {
		got, err := ParseSex(code)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSex(5)
	assert.Error(t, err)

	for in, want := range map[string]Genotype{
		"":    GenotypeUnknown,
		"NA":  GenotypeUnknown,
		"1/1": GenotypeNoncarrier,
		"1/2": GenotypeHeterozygous,
		"2/1": GenotypeHeterozygous,
		"2/2": GenotypeHomozygous,
	} {
		got, err := ParseGenotype(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err = ParseGenotype("x/y")
	assert.Error(t, err)
}
