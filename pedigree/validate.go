package pedigree

import "fmt"

// Validate checks structural invariants across all pedigrees: parent links
// resolve within the same pedigree with compatible sexes, members have both
// parents or neither, ages lie in [0, maxAge], diagnosis ages do not exceed
// censoring ages, and no one is their own ancestor.
func (s *Set) Validate(maxAge int) error {
	for _, ped := range s.Pedigrees {
		for _, ind := range ped.Members {
			if err := validateMember(ped, ind, maxAge); err != nil {
				return err
			}
		}
		if err := checkAcyclic(ped); err != nil {
			return err
		}
	}
	return nil
}

func validateMember(ped *Pedigree, ind *Individual, maxAge int) error {
	if (ind.MotherID == 0) != (ind.FatherID == 0) {
		return fmt.Errorf("pedigree %s: individual %d: must have both parents or neither", ped.Name, ind.ID)
	}
	if ind.MotherID == ind.ID || ind.FatherID == ind.ID {
		return fmt.Errorf("pedigree %s: individual %d: is its own parent", ped.Name, ind.ID)
	}
	if ind.MotherID != 0 {
		mother := ped.Lookup(ind.MotherID)
		if mother == nil {
			return fmt.Errorf("pedigree %s: individual %d: mother %d not in pedigree", ped.Name, ind.ID, ind.MotherID)
		}
		if mother.Sex == SexMale {
			return fmt.Errorf("pedigree %s: individual %d: mother %d is male", ped.Name, ind.ID, ind.MotherID)
		}
		father := ped.Lookup(ind.FatherID)
		if father == nil {
			return fmt.Errorf("pedigree %s: individual %d: father %d not in pedigree", ped.Name, ind.ID, ind.FatherID)
		}
		if father.Sex == SexFemale {
			return fmt.Errorf("pedigree %s: individual %d: father %d is female", ped.Name, ind.ID, ind.FatherID)
		}
	}
	if ind.Age < 0 || ind.Age > maxAge {
		return fmt.Errorf("pedigree %s: individual %d: age %d outside [0, %d]", ped.Name, ind.ID, ind.Age, maxAge)
	}
	if ind.AgeDx < 0 || ind.AgeDx > maxAge {
		return fmt.Errorf("pedigree %s: individual %d: diagnosis age %d outside [0, %d]", ped.Name, ind.ID, ind.AgeDx, maxAge)
	}
	if ind.AgeDx != 0 && !ind.Affected {
		return fmt.Errorf("pedigree %s: individual %d: diagnosis age set but not affected", ped.Name, ind.ID)
	}
	if ind.Affected && ind.Age != 0 && ind.AgeDx > ind.Age {
		return fmt.Errorf("pedigree %s: individual %d: diagnosis age %d exceeds censoring age %d", ped.Name, ind.ID, ind.AgeDx, ind.Age)
	}
	return nil
}

func checkAcyclic(ped *Pedigree) error {
	// 0 unvisited, 1 in progress, 2 done.
	state := make(map[uint32]uint8, len(ped.Members))
	var visit func(ind *Individual) error
	visit = func(ind *Individual) error {
		switch state[ind.ID] {
		case 1:
			return fmt.Errorf("pedigree %s: individual %d: is its own ancestor", ped.Name, ind.ID)
		case 2:
			return nil
		}
		state[ind.ID] = 1
		if ind.MotherID != 0 {
			if m := ped.Lookup(ind.MotherID); m != nil {
				if err := visit(m); err != nil {
					return err
				}
			}
		}
		if ind.FatherID != 0 {
			if f := ped.Lookup(ind.FatherID); f != nil {
				if err := visit(f); err != nil {
					return err
				}
			}
		}
		state[ind.ID] = 2
		return nil
	}
	for _, ind := range ped.Members {
		if err := visit(ind); err != nil {
			return err
		}
	}
	return nil
}
