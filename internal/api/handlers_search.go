package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/danmuhub/internal/scraper"
)

// searchSession is the cached shape a searchId addresses: the candidates a
// GET /search call produced, reusable by a follow-up GET /episodes or
// POST /import/direct without re-running the pipeline.
type searchSession struct {
	Keyword    string              `json:"keyword"`
	Candidates []scraper.Candidate `json:"candidates"`
}

func searchSessionKey(searchID string) string { return "api_search_session_" + searchID }

func (s *Server) storeSearchSession(ctx context.Context, keyword string, candidates []scraper.Candidate) (string, error) {
	searchID := uuid.New().String()
	payload, err := json.Marshal(searchSession{Keyword: keyword, Candidates: candidates})
	if err != nil {
		return "", err
	}
	if err := s.repo.CacheSet(ctx, searchSessionKey(searchID), string(payload), searchSessionTTL); err != nil {
		return "", err
	}
	return searchID, nil
}

func (s *Server) lookupCandidate(ctx context.Context, searchID string, resultIndex int) (scraper.Candidate, error) {
	raw, ok, err := s.repo.CacheGet(ctx, searchSessionKey(searchID))
	if err != nil {
		return scraper.Candidate{}, fmt.Errorf("search session lookup failed: %w", err)
	}
	if !ok {
		return scraper.Candidate{}, fmt.Errorf("search session %q not found or expired", searchID)
	}
	var session searchSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return scraper.Candidate{}, fmt.Errorf("corrupt search session: %w", err)
	}
	if resultIndex < 0 || resultIndex >= len(session.Candidates) {
		return scraper.Candidate{}, fmt.Errorf("result_index %d out of range (0..%d)", resultIndex, len(session.Candidates)-1)
	}
	return session.Candidates[resultIndex], nil
}

// handleSearch implements GET /search: a cross-provider search whose
// ranked results are cached under a fresh searchId for later episode
// listing or direct import.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		rw.BadRequest("keyword is required")
		return
	}

	holderID := uuid.New().String()
	result, err := s.pipeline.Run(r.Context(), holderID, keyword)
	if err != nil {
		rw.Internal(err.Error())
		return
	}

	searchID, err := s.storeSearchSession(r.Context(), keyword, result.Candidates)
	if err != nil {
		rw.Internal("failed to persist search session: " + err.Error())
		return
	}
	rw.JSON(http.StatusOK, map[string]any{"searchId": searchID, "results": result.Candidates})
}

// handleEpisodes implements GET /episodes: list the episodes of one
// previously-searched candidate.
func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	searchID := r.URL.Query().Get("searchId")
	resultIndex, err := strconv.Atoi(r.URL.Query().Get("result_index"))
	if searchID == "" || err != nil {
		rw.BadRequest("searchId and result_index are required")
		return
	}

	cand, err := s.lookupCandidate(r.Context(), searchID, resultIndex)
	if err != nil {
		rw.NotFound(err.Error())
		return
	}

	src, ok := s.scrapers.Get(cand.Provider)
	if !ok {
		rw.Internal("provider " + cand.Provider + " is not registered")
		return
	}
	episodes, err := src.GetEpisodes(r.Context(), cand.MediaID, nil, cand.Type)
	if err != nil {
		rw.Internal(err.Error())
		return
	}
	rw.JSON(http.StatusOK, episodes)
}
