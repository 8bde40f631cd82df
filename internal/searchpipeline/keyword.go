package searchpipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// ParsedKeyword is stage 1's output: the bare title plus any inline
// season/episode hint.
type ParsedKeyword struct {
	Title   string
	Season  *int
	Episode *int
}

var seasonEpisodePattern = regexp.MustCompile(`(?i)\s*S(\d{1,3})E(\d{1,4})\s*$`)
var seasonOnlyPattern = regexp.MustCompile(`(?i)\s*S(\d{1,3})\s*$`)

// ParseKeyword extracts {title, season?, episode?} from operator input,
// e.g. "鬼灭之刃 S02E03" -> {title: "鬼灭之刃", season: 2, episode: 3}.
func ParseKeyword(raw string) ParsedKeyword {
	trimmed := strings.TrimSpace(raw)

	if m := seasonEpisodePattern.FindStringSubmatch(trimmed); m != nil {
		season, _ := strconv.Atoi(m[1])
		episode, _ := strconv.Atoi(m[2])
		title := strings.TrimSpace(trimmed[:len(trimmed)-len(m[0])])
		return ParsedKeyword{Title: title, Season: &season, Episode: &episode}
	}
	if m := seasonOnlyPattern.FindStringSubmatch(trimmed); m != nil {
		season, _ := strconv.Atoi(m[1])
		title := strings.TrimSpace(trimmed[:len(trimmed)-len(m[0])])
		return ParsedKeyword{Title: title, Season: &season}
	}
	return ParsedKeyword{Title: trimmed}
}
