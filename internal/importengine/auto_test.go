package importengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveSearchTypePromotesNumericKeyword(t *testing.T) {
	assert.Equal(t, "tmdb", effectiveSearchType("keyword", "1429"))
	assert.Equal(t, "tmdb", effectiveSearchType("Keyword", "1429"))
}

func TestEffectiveSearchTypeLeavesNonNumericKeywordAlone(t *testing.T) {
	assert.Equal(t, "keyword", effectiveSearchType("keyword", "Attack on Titan"))
	assert.Equal(t, "keyword", effectiveSearchType("keyword", ""))
}

func TestEffectiveSearchTypeLeavesExplicitTypeAlone(t *testing.T) {
	assert.Equal(t, "tvdb", effectiveSearchType("tvdb", "1429"))
}
