package risk

import "sort"

// DefaultGenes is the susceptibility gene panel accepted when no assay
// table supplies its own gene list.
var DefaultGenes = []string{
	"ATM",
	"BRCA1",
	"BRCA2",
	"CDKN2A",
	"CHEK2",
	"EPCAM",
	"MLH1",
	"MSH2",
	"MSH6",
	"PALB2",
	"PMS2",
	"TP53",
}

// Registry is the closed set of cancer and gene names a run may refer
// to.  Cancers come from the loaded rate tables, genes from the assay
// panel or DefaultGenes.
type Registry struct {
	cancers map[string]bool
	genes   map[string]bool
}

// NewRegistry builds a registry from the given name lists.
func NewRegistry(cancers, genes []string) *Registry {
	r := &Registry{
		cancers: make(map[string]bool, len(cancers)),
		genes:   make(map[string]bool, len(genes)),
	}
	for _, c := range cancers {
		r.cancers[c] = true
	}
	for _, g := range genes {
		r.genes[g] = true
	}
	return r
}

// HasCancer reports whether name is a known cancer.
func (r *Registry) HasCancer(name string) bool { return r.cancers[name] }

// HasGene reports whether name is a known gene.
func (r *Registry) HasGene(name string) bool { return r.genes[name] }

// Cancers returns the known cancer names, sorted.
func (r *Registry) Cancers() []string { return sortedKeys(r.cancers) }

// Genes returns the known gene names, sorted.
func (r *Registry) Genes() []string { return sortedKeys(r.genes) }

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
