package pedigree

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImputeAges(t *testing.T) {
	s, err := Read(strings.NewReader(pedTSV(
		"fam1\t1\t1\t0\t0\t0\t0\t0\t0\t\t\t0",
		"fam1\t2\t2\t0\t0\t0\t0\t0\t0\t\t\t0",
		"fam1\t3\t2\t2\t1\t0\t44\t0\t0\t\t\t0",
		"fam1\t4\t0\t2\t1\t0\t0\t0\t0\t\t\t0",
		"fam1\t5\t1\t2\t1\t0\t0\t1\t30\t\t\t0",
	)))
	require.NoError(t, err)

	// Risk concentrated at age 60.
	cum := func(sex Sex, age int) float64 {
		if age >= 60 {
			return 0.1
		}
		return 0
	}
	rng := rand.New(rand.NewPCG(1, 2))
	n := ImputeAges(s, 94, cum, rng)
	assert.Equal(t, 2, n)

	ped := s.Pedigree("fam1")
	assert.Equal(t, 60, ped.Lookup(1).Age)
	assert.Equal(t, 60, ped.Lookup(2).Age)
	// Known age, unknown sex, and affected members are untouched.
	assert.Equal(t, 44, ped.Lookup(3).Age)
	assert.Equal(t, 0, ped.Lookup(4).Age)
	assert.Equal(t, 0, ped.Lookup(5).Age)
}

func TestImputeAgesZeroRisk(t *testing.T) {
	s, err := Read(strings.NewReader(pedTSV(
		"fam1\t1\t1\t0\t0\t0\t0\t0\t0\t\t\t0",
	)))
	require.NoError(t, err)
	cum := func(Sex, int) float64 { return 0 }
	rng := rand.New(rand.NewPCG(7, 7))
	n := ImputeAges(s, 94, cum, rng)
	assert.Equal(t, 1, n)
	age := s.Pedigree("fam1").Lookup(1).Age
	assert.True(t, age >= 1 && age <= 94)
}
