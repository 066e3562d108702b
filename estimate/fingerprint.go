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
package estimate

import (
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/penetrance/pedigree"
	"github.com/minio/highwayhash"
)

// fingerprintKey is the fixed highwayhash key; fingerprints are
// content identifiers, not MACs.
var fingerprintKey [highwayhash.Size]byte

// Fingerprint hashes the canonical serialization of every individual
// in the set, merged co-twins included.  Equal inputs produce equal
// fingerprints regardless of the file they were loaded from.
func Fingerprint(set *pedigree.Set) uint64 {
	h, err := highwayhash.New64(fingerprintKey[:])
	if err != nil {
		panic(err)
	}
	for _, ped := range set.Pedigrees {
		for _, ind := range ped.Members {
			hashIndividual(h, ped.Name, ind)
			for _, m := range ind.Merged {
				hashIndividual(h, ped.Name, m)
			}
		}
	}
	return h.Sum64()
}

func hashIndividual(h hash.Hash64, family string, ind *pedigree.Individual) {
	fmt.Fprintf(h, "%s\t%d\t%d\t%d\t%d\t%t\t%d\t%t\t%d\t%d\t%s\t%d\n",
		family, ind.ID, ind.Sex, ind.MotherID, ind.FatherID, ind.Proband,
		ind.Age, ind.Affected, ind.AgeDx, ind.Genotype, ind.Race, ind.Twin)
	for _, g := range ind.Germline {
		fmt.Fprintf(h, "g\t%s\t%t\n", g.Gene, g.Positive)
	}
	for _, m := range ind.Markers {
		fmt.Fprintf(h, "m\t%s\t%s\n", m.Marker, m.Value)
	}
}

// chainSeed derives one chain's RNG seed from the dataset fingerprint,
// the run seed and the chain index, so reruns on the same data are
// reproducible and chains never share a stream.
func chainSeed(fingerprint, seed uint64, chain int) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], fingerprint)
	return farm.Hash64WithSeeds(buf[:], seed, uint64(chain))
}
