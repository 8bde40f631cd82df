// Package aimatcher implements the AI tie-break client and the manager
// that caches a live matcher per configuration hash. The
// chat-completion transport is a plain net/http client: no third-party
// library fits an OpenAI-compatible HTTP client well enough to justify
// the dependency, so this concern is carried on the standard library
// (see DESIGN.md).
package aimatcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Config identifies one live matcher's connection parameters.
type Config struct {
	Provider string // e.g. "openai-compatible"
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// Hash returns the cache key the Manager uses to reuse or rebuild a Matcher.
func (c Config) Hash() string {
	h := sha256.Sum256([]byte(c.Provider + "|" + c.APIKey + "|" + c.BaseURL + "|" + c.Model))
	return hex.EncodeToString(h[:])
}

// Prompts holds the hot-patchable prompt templates.
type Prompts struct {
	SelectBestMatch     string
	SelectMetadataResult string
	NameConversion      string
}

// Hash returns a key used to detect prompt-only changes.
func (p Prompts) Hash() string {
	h := sha256.Sum256([]byte(p.SelectBestMatch + "|" + p.SelectMetadataResult + "|" + p.NameConversion))
	return hex.EncodeToString(h[:])
}

// QueryInfo describes the item being matched for select_best_match.
type QueryInfo struct {
	Title   string
	Season  *int
	Episode *int
}

// CandidateDescription is a single candidate rendered for the AI prompt.
type CandidateDescription struct {
	Index int
	Title string
	Year  *int
}

// Matcher performs one live AI matcher's queries.
type Matcher struct {
	cfg     Config
	prompts Prompts
	client  *http.Client
	log     zerolog.Logger
}

func newMatcher(cfg Config, prompts Prompts, log zerolog.Logger) *Matcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Matcher{
		cfg:     cfg,
		prompts: prompts,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// chatRequest/chatResponse model a minimal OpenAI-compatible chat completion.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Query performs a raw single-turn call, used by name conversion. All
// calls are bounded by a timeout and degrade to an error rather than
// panicking; callers treat any error as "no match".
func (m *Matcher) Query(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:    m.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("aimatcher: marshal request: %w", err)
	}

	url := m.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("aimatcher: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("aimatcher: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("aimatcher: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("aimatcher: provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("aimatcher: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("aimatcher: empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// SelectBestMatch asks the model to pick an index into sortedCandidates,
// or nil for "no confident match".
func (m *Matcher) SelectBestMatch(ctx context.Context, query QueryInfo, sortedCandidates []CandidateDescription, favoritedInfo *CandidateDescription) (*int, error) {
	prompt := renderSelectPrompt(m.prompts.SelectBestMatch, query, sortedCandidates, favoritedInfo)
	reply, err := m.Query(ctx, prompt)
	if err != nil {
		m.log.Warn().Err(err).Msg("select_best_match degraded to no-match")
		return nil, nil
	}
	return parseIndexReply(reply, len(sortedCandidates)), nil
}

// SelectMetadataResult asks the model to disambiguate a title/year/season
// against metadata candidates.
func (m *Matcher) SelectMetadataResult(ctx context.Context, title string, year *int, candidates []CandidateDescription, season int, customPrompt string) (*int, error) {
	template := m.prompts.SelectMetadataResult
	if customPrompt != "" {
		template = customPrompt
	}
	prompt := renderMetadataPrompt(template, title, year, candidates, season)
	reply, err := m.Query(ctx, prompt)
	if err != nil {
		m.log.Warn().Err(err).Msg("select_metadata_result degraded to no-match")
		return nil, nil
	}
	return parseIndexReply(reply, len(candidates)), nil
}

// Manager caches a live Matcher keyed by Config hash, and hot-patches
// prompts without reconstructing the underlying client when only the
// prompt set changes.
type Manager struct {
	log zerolog.Logger

	mu          sync.Mutex
	configHash  string
	promptHash  string
	matcher     *Matcher
}

// NewManager builds an empty Manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// Get returns the cached Matcher for cfg/prompts, building or hot-patching
// as needed.
func (m *Manager) Get(cfg Config, prompts Prompts) *Matcher {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfgHash := cfg.Hash()
	promptHash := prompts.Hash()

	if m.matcher != nil && cfgHash == m.configHash {
		if promptHash != m.promptHash {
			m.matcher.prompts = prompts
			m.promptHash = promptHash
		}
		return m.matcher
	}

	m.matcher = newMatcher(cfg, prompts, m.log)
	m.configHash = cfgHash
	m.promptHash = promptHash
	return m.matcher
}
