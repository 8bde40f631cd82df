package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenSetRatioIdentical(t *testing.T) {
	assert.InDelta(t, 100, TokenSetRatio("Attack on Titan", "Attack on Titan"), 0.01)
}

func TestTokenSetRatioReordered(t *testing.T) {
	r := TokenSetRatio("Titan Attack on", "Attack on Titan")
	assert.InDelta(t, 100, r, 0.01)
}

func TestTokenSetRatioPartialOverlap(t *testing.T) {
	r := TokenSetRatio("Attack on Titan Season 2", "Attack on Titan")
	assert.Greater(t, r, 70.0)
}

func TestTokenSetRatioUnrelated(t *testing.T) {
	r := TokenSetRatio("Attack on Titan", "Completely Different Show")
	assert.Less(t, r, 40.0)
}

func TestPartialRatioSubstring(t *testing.T) {
	r := PartialRatio("Titan", "Attack on Titan Season 2")
	assert.InDelta(t, 100, r, 0.01)
}

func TestPartialRatioEmpty(t *testing.T) {
	assert.Equal(t, 100.0, PartialRatio("", ""))
	assert.Equal(t, 0.0, PartialRatio("", "x"))
}
