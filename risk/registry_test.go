package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry([]string{"breast", "ovarian"}, []string{"BRCA2", "BRCA1"})
	assert.True(t, r.HasCancer("breast"))
	assert.False(t, r.HasCancer("Breast"))
	assert.True(t, r.HasGene("BRCA1"))
	assert.False(t, r.HasGene("TP53"))
	assert.Equal(t, []string{"breast", "ovarian"}, r.Cancers())
	assert.Equal(t, []string{"BRCA1", "BRCA2"}, r.Genes())
}
