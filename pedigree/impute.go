package pedigree

import "math/rand/v2"

// ImputeAges draws censoring ages for unaffected members with unknown age
// by inverse-CDF sampling from the cumulative baseline risk for their sex.
// cum(sex, age) must be nondecreasing in age.  Members with a known age, an
// unknown sex, or an affection record are left alone.  Returns the number
// of ages imputed.
func ImputeAges(s *Set, maxAge int, cum func(Sex, int) float64, rng *rand.Rand) int {
	n := 0
	for _, ped := range s.Pedigrees {
		for _, ind := range ped.Members {
			if ind.Age != 0 || ind.Affected || ind.Sex == SexUnknown {
				continue
			}
			ind.Age = drawAge(ind.Sex, maxAge, cum, rng)
			n++
		}
	}
	return n
}

func drawAge(sex Sex, maxAge int, cum func(Sex, int) float64, rng *rand.Rand) int {
	total := cum(sex, maxAge)
	if total <= 0 {
		return 1 + rng.IntN(maxAge)
	}
	u := rng.Float64() * total
	for age := 1; age <= maxAge; age++ {
		if cum(sex, age) >= u {
			return age
		}
	}
	return maxAge
}
