package recognizer

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/danmuhub/internal/logging"
)

func newTestRecognizer(t *testing.T) *Recognizer {
	t.Helper()
	return New(logging.Test(io.Discard))
}

func TestPreSearchRewrite(t *testing.T) {
	r := newTestRecognizer(t)
	warnings := r.Update([]Rule{
		{ID: 1, Phase: PhasePreSearch, Name: "strip-season-tag", Enabled: true, Priority: 1,
			Pattern: `\s*第[一二三四五六七八九十]+季$`, Replacement: ""},
	})
	require.Empty(t, warnings)

	out := r.PreSearchRewrite(Subject{Title: "鬼灭之刃第二季"})
	assert.Equal(t, "鬼灭之刃", out.Title)
}

func TestInFlightEpisodeOffset(t *testing.T) {
	r := newTestRecognizer(t)
	warnings := r.Update([]Rule{
		{ID: 1, Phase: PhaseInFlight, Name: "remap", Enabled: true, Priority: 1,
			Pattern: `overlord`, EpisodeOffset: -12},
	})
	require.Empty(t, warnings)

	assert.Equal(t, 1, r.InFlightEpisode("overlord", 13))
	assert.Equal(t, 5, r.InFlightEpisode("unrelated", 5))
}

func TestBlockList(t *testing.T) {
	r := newTestRecognizer(t)
	r.Update([]Rule{
		{ID: 1, Phase: PhaseBlockList, Name: "block-previews", Enabled: true, Priority: 1,
			Pattern: `(?i)preview|花絮`},
	})

	assert.True(t, r.Blocked("Episode 1 Preview"))
	assert.False(t, r.Blocked("Episode 1"))

	items := []string{"Episode 1", "花絮特辑", "Episode 2"}
	filtered, dropped := FilterBlocked(r, items, func(s string) string { return s })
	assert.Equal(t, []string{"Episode 1", "Episode 2"}, filtered)
	assert.Equal(t, 1, dropped)
}

func TestUpdateReportsWarningsWithoutAborting(t *testing.T) {
	r := newTestRecognizer(t)
	warnings := r.Update([]Rule{
		{ID: 1, Phase: PhasePreSearch, Name: "bad-regex", Enabled: true, Priority: 1, Pattern: `(unclosed`},
		{ID: 2, Phase: PhasePreSearch, Name: "good-regex", Enabled: true, Priority: 2, Pattern: `x`, Replacement: "y"},
	})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "malformed pattern")

	out := r.PreSearchRewrite(Subject{Title: "xx"})
	assert.Equal(t, "yy", out.Title)
}

func TestShadowedPriorityWarning(t *testing.T) {
	r := newTestRecognizer(t)
	warnings := r.Update([]Rule{
		{ID: 1, Phase: PhasePreSearch, Name: "first", Enabled: true, Priority: 1, Pattern: `a`, Replacement: "b"},
		{ID: 2, Phase: PhasePreSearch, Name: "second", Enabled: true, Priority: 1, Pattern: `c`, Replacement: "d"},
	})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "shadowed")
}

func TestParseEpisodeToken(t *testing.T) {
	n, ok := ParseEpisodeToken("E03")
	require.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = ParseEpisodeToken("OVA")
	assert.False(t, ok)
}
