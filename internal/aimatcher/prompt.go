package aimatcher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

func renderSelectPrompt(template string, query QueryInfo, candidates []CandidateDescription, favorited *CandidateDescription) string {
	var b strings.Builder
	if template != "" {
		b.WriteString(template)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Query title: %s\n", query.Title)
	if query.Season != nil {
		fmt.Fprintf(&b, "Season: %d\n", *query.Season)
	}
	if query.Episode != nil {
		fmt.Fprintf(&b, "Episode: %d\n", *query.Episode)
	}
	if favorited != nil {
		fmt.Fprintf(&b, "Favorited source candidate index: %d (%s)\n", favorited.Index, favorited.Title)
	}
	b.WriteString("Candidates:\n")
	for _, c := range candidates {
		year := "unknown"
		if c.Year != nil {
			year = strconv.Itoa(*c.Year)
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n", c.Index, c.Title, year)
	}
	b.WriteString("\nReply with only the index of the best match, or \"none\" if no candidate is confident.")
	return b.String()
}

func renderMetadataPrompt(template, title string, year *int, candidates []CandidateDescription, season int) string {
	var b strings.Builder
	if template != "" {
		b.WriteString(template)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Title: %s\nSeason: %d\n", title, season)
	if year != nil {
		fmt.Fprintf(&b, "Year: %d\n", *year)
	}
	b.WriteString("Candidates:\n")
	for _, c := range candidates {
		cYear := "unknown"
		if c.Year != nil {
			cYear = strconv.Itoa(*c.Year)
		}
		fmt.Fprintf(&b, "[%d] %s (%s)\n", c.Index, c.Title, cYear)
	}
	b.WriteString("\nReply with only the index of the correct metadata entry, or \"none\".")
	return b.String()
}

var indexPattern = regexp.MustCompile(`\d+`)

// parseIndexReply extracts a candidate index from a free-form reply.
// Returns nil when the reply says "none" or contains no usable index, or
// when the extracted index is out of range.
func parseIndexReply(reply string, candidateCount int) *int {
	trimmed := strings.ToLower(strings.TrimSpace(reply))
	if trimmed == "" || strings.Contains(trimmed, "none") {
		return nil
	}
	match := indexPattern.FindString(trimmed)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil || n < 0 || n >= candidateCount {
		return nil
	}
	return &n
}
