package pedigree

import "fmt"

// TwinMapping records what CollapseTwins did with one member of a multiple
// birth.
type TwinMapping struct {
	Pedigree   string
	Label      int
	ID         uint32
	KeptID     uint32
	Dropped    bool
	WasProband bool
}

// CollapseTwins merges every multiple-birth group into a single
// representative member.  Identical multiples share a genotype, so the
// group contributes one genotype variable whose likelihood row is the
// product of the members' rows: the dropped members are attached to the
// representative's Merged list and their offspring are rewired to it.  The
// representative is the group's proband if it has one, otherwise its
// first-listed member.  Each group of size k shrinks its pedigree by k-1.
//
// Groups whose members disagree on parents or sex are data errors.
func (s *Set) CollapseTwins() ([]TwinMapping, error) {
	var mappings []TwinMapping
	for _, ped := range s.Pedigrees {
		var err error
		mappings, err = collapsePedigreeTwins(ped, mappings)
		if err != nil {
			return nil, err
		}
	}
	return mappings, nil
}

func collapsePedigreeTwins(ped *Pedigree, mappings []TwinMapping) ([]TwinMapping, error) {
	groups := map[int][]*Individual{}
	var labels []int
	for _, ind := range ped.Members {
		if ind.Twin == 0 {
			continue
		}
		if len(groups[ind.Twin]) == 0 {
			labels = append(labels, ind.Twin)
		}
		groups[ind.Twin] = append(groups[ind.Twin], ind)
	}
	for _, label := range labels {
		group := groups[label]
		if len(group) < 2 {
			continue
		}
		first := group[0]
		for _, ind := range group[1:] {
			if ind.MotherID != first.MotherID || ind.FatherID != first.FatherID {
				return nil, fmt.Errorf("pedigree %s: twin group %d: members %d and %d have different parents",
					ped.Name, label, first.ID, ind.ID)
			}
			if ind.Sex != first.Sex {
				return nil, fmt.Errorf("pedigree %s: twin group %d: members %d and %d have different sexes",
					ped.Name, label, first.ID, ind.ID)
			}
		}
		rep := first
		for _, ind := range group {
			if ind.Proband {
				rep = ind
				break
			}
		}
		for _, ind := range group {
			mappings = append(mappings, TwinMapping{
				Pedigree:   ped.Name,
				Label:      label,
				ID:         ind.ID,
				KeptID:     rep.ID,
				Dropped:    ind != rep,
				WasProband: ind.Proband,
			})
			if ind == rep {
				continue
			}
			if ind.Proband {
				rep.Proband = true
			}
			rep.Merged = append(rep.Merged, ind)
			rewireParents(ped, ind.ID, rep.ID)
			ped.remove(ind.ID)
		}
	}
	return mappings, nil
}

func rewireParents(ped *Pedigree, from, to uint32) {
	for _, ind := range ped.Members {
		if ind.MotherID == from {
			ind.MotherID = to
		}
		if ind.FatherID == from {
			ind.FatherID = to
		}
	}
}

func (p *Pedigree) remove(id uint32) {
	delete(p.byID, id)
	for i, ind := range p.Members {
		if ind.ID == id {
			p.Members = append(p.Members[:i], p.Members[i+1:]...)
			return
		}
	}
}
