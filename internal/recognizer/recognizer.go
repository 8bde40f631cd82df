// Package recognizer implements the compiled title/season/episode
// recognition rule set: a typed rule set compiled once, applied in
// deterministic phase order.
package recognizer

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Phase identifies one of the four deterministic recognition phases.
type Phase string

const (
	PhasePreSearch    Phase = "pre_search"
	PhaseInFlight      Phase = "in_flight"
	PhaseStoragePost   Phase = "storage_post"
	PhaseBlockList     Phase = "block_list"
)

// Rule is one compiled recognition rule as persisted in title_recognition.
type Rule struct {
	ID       int64
	Phase    Phase
	Name     string
	Enabled  bool
	Priority int // lower runs first within a phase

	// Pattern is matched against the subject; Replacement uses Go regexp
	// expansion syntax ($1, ${name}) for rewrite phases. Block-list rules
	// ignore Replacement.
	Pattern     string
	Replacement string

	// EpisodeOffset, when non-zero, is added to the episode index during
	// the in-flight phase (canonical-index remap, phase 2).
	EpisodeOffset int
}

// compiledRule holds Rule plus its compiled regexp.
type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Warning describes a problem found while compiling rules; compilation
// never aborts on warnings.
type Warning struct {
	RuleID  int64
	RuleName string
	Message string
}

// Subject is the input threaded through pre-search rewrite and storage
// post-process.
type Subject struct {
	Title   string
	Season  *int
	Episode *int
}

// Recognizer holds the compiled rule set and applies the four phases.
type Recognizer struct {
	log zerolog.Logger

	mu    sync.RWMutex
	rules map[Phase][]compiledRule
}

// New builds an empty Recognizer; call Update to load rules.
func New(log zerolog.Logger) *Recognizer {
	return &Recognizer{log: log, rules: make(map[Phase][]compiledRule)}
}

// Update recompiles the rule set from raw rules, replacing the prior set
// atomically. Malformed regexes and shadowed rules (same phase+priority)
// are reported as warnings rather than aborting the update.
func (r *Recognizer) Update(rules []Rule) []Warning {
	var warnings []Warning
	byPhase := make(map[Phase][]compiledRule)
	seenPriority := make(map[string]int64) // phase|priority -> rule id that claimed it first

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	for _, rule := range sorted {
		if !rule.Enabled {
			continue
		}
		key := fmt.Sprintf("%s|%d", rule.Phase, rule.Priority)
		if firstID, ok := seenPriority[key]; ok {
			warnings = append(warnings, Warning{
				RuleID: rule.ID, RuleName: rule.Name,
				Message: fmt.Sprintf("shadowed by rule %d at same phase/priority", firstID),
			})
		} else {
			seenPriority[key] = rule.ID
		}

		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			warnings = append(warnings, Warning{
				RuleID: rule.ID, RuleName: rule.Name,
				Message: fmt.Sprintf("malformed pattern: %v", err),
			})
			continue
		}
		byPhase[rule.Phase] = append(byPhase[rule.Phase], compiledRule{rule: rule, re: re})
	}

	r.mu.Lock()
	r.rules = byPhase
	r.mu.Unlock()

	if len(warnings) > 0 {
		r.log.Warn().Int("count", len(warnings)).Msg("recognition rule update produced warnings")
	}
	return warnings
}

func (r *Recognizer) phaseRules(p Phase) []compiledRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]compiledRule, len(r.rules[p]))
	copy(out, r.rules[p])
	return out
}

// PreSearchRewrite rewrites the title used for querying scrapers. Season
// and episode pass through unchanged; no rule rewrites them.
func (r *Recognizer) PreSearchRewrite(s Subject) Subject {
	return r.rewrite(PhasePreSearch, s)
}

// StoragePostProcess performs the final title massage before persisting
// as the anime title.
func (r *Recognizer) StoragePostProcess(s Subject) Subject {
	return r.rewrite(PhaseStoragePost, s)
}

func (r *Recognizer) rewrite(phase Phase, s Subject) Subject {
	out := s
	for _, cr := range r.phaseRules(phase) {
		if cr.re.MatchString(out.Title) {
			out.Title = cr.re.ReplaceAllString(out.Title, cr.rule.Replacement)
		}
	}
	return out
}

// InFlightEpisode transforms an incoming episode index into the canonical
// index before comparison/upsert, applying the first
// matching rule's offset (rules are already priority-sorted).
func (r *Recognizer) InFlightEpisode(title string, episode int) int {
	for _, cr := range r.phaseRules(PhaseInFlight) {
		if cr.re.MatchString(title) {
			return episode + cr.rule.EpisodeOffset
		}
	}
	return episode
}

// Blocked reports whether title matches any enabled block-list rule; such
// titles are silently dropped from result sets.
func (r *Recognizer) Blocked(title string) bool {
	for _, cr := range r.phaseRules(PhaseBlockList) {
		if cr.re.MatchString(title) {
			return true
		}
	}
	return false
}

// FilterBlocked removes candidates whose title is blocked, preserving
// order, and reports how many were dropped.
func FilterBlocked[T any](r *Recognizer, items []T, titleOf func(T) string) ([]T, int) {
	out := make([]T, 0, len(items))
	dropped := 0
	for _, it := range items {
		if r.Blocked(titleOf(it)) {
			dropped++
			continue
		}
		out = append(out, it)
	}
	return out, dropped
}

// ParseEpisodeToken extracts a leading integer episode number from a
// loosely formatted token like "E03" or "03"; used by callers assembling
// Subject values from scraper output. Returns false if no digits found.
func ParseEpisodeToken(token string) (int, bool) {
	re := regexp.MustCompile(`(\d+)`)
	m := re.FindString(token)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}
