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
package likelihood

// Oracle aggregates a likelihood matrix into one log-likelihood summed
// over independent pedigrees.  Implementations are compiled once over a
// Roster, founder frequencies and a transmission table; Loglik is then
// called once per candidate parameter vector with a matrix built over
// the same roster.  Loglik returns -Inf when some pedigree's total
// probability is exactly zero; callers decide how to penalize that.
//
// Implementations must be safe for concurrent Loglik calls on distinct
// matrices.
type Oracle interface {
	Loglik(m *Matrix) (float64, error)
}
