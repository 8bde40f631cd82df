package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomtom215/danmuhub/internal/importengine"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/taskmanager"
)

// submitImport wraps Manager.Submit and maps a unique-key collision to 409,
// the shape every import endpoint shares.
func (s *Server) submitImport(w http.ResponseWriter, r *http.Request, title, uniqueKey, taskType string, fn taskmanager.TaskFunc) {
	rw := newResponder(w, r)
	taskID, err := s.tasks.Submit(r.Context(), title, uniqueKey, taskType, "", fn)
	if err != nil {
		var conflict *taskmanager.ConflictError
		if errors.As(err, &conflict) {
			rw.Conflict(err.Error())
			return
		}
		rw.Internal(err.Error())
		return
	}
	rw.Accepted(taskID, "import submitted")
}

func parseMetadataIDs(raw map[string]string) map[models.MetadataIDKind]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[models.MetadataIDKind]string, len(raw))
	for k, v := range raw {
		out[models.MetadataIDKind(k)] = v
	}
	return out
}

type directImportBody struct {
	SearchID    string            `json:"searchId"`
	ResultIndex int               `json:"result_index"`
	MetadataIDs map[string]string `json:"metadata_ids"`
}

// handleImportDirect implements POST /import/direct: import the entire
// candidate a prior GET /search result pointed at, as-is.
func (s *Server) handleImportDirect(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	var body directImportBody
	if err := decodeJSON(r, &body); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	cand, err := s.lookupCandidate(r.Context(), body.SearchID, body.ResultIndex)
	if err != nil {
		rw.NotFound(err.Error())
		return
	}

	req := importengine.Request{
		Provider: cand.Provider, MediaID: cand.MediaID, Title: cand.Title, MediaType: cand.Type,
		Season: cand.Season, Year: cand.Year, ImageURL: cand.ImageURL,
		MetadataIDs: parseMetadataIDs(body.MetadataIDs),
	}
	uniqueKey := fmt.Sprintf("import_direct:%s:%s", cand.Provider, cand.MediaID)
	s.submitImport(w, r, cand.Title, uniqueKey, "import_direct", func(ctx context.Context, ctl *taskmanager.Control) error {
		_, err := s.engine.Run(ctx, ctl, req)
		return err
	})
}

type editedImportBody struct {
	SearchID    string            `json:"searchId"`
	ResultIndex int               `json:"result_index"`
	Episodes    []int             `json:"episodes"`
	MetadataIDs map[string]string `json:"metadata_ids"`
}

// handleImportEdited implements POST /import/edited: import only the
// operator-curated subset of episodes from the candidate.
func (s *Server) handleImportEdited(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	var body editedImportBody
	if err := decodeJSON(r, &body); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if len(body.Episodes) == 0 {
		rw.BadRequest("episodes must not be empty")
		return
	}
	cand, err := s.lookupCandidate(r.Context(), body.SearchID, body.ResultIndex)
	if err != nil {
		rw.NotFound(err.Error())
		return
	}

	req := importengine.Request{
		Provider: cand.Provider, MediaID: cand.MediaID, Title: cand.Title, MediaType: cand.Type,
		Season: cand.Season, Year: cand.Year, ImageURL: cand.ImageURL,
		SelectedEpisodes: body.Episodes, MetadataIDs: parseMetadataIDs(body.MetadataIDs),
	}
	uniqueKey := fmt.Sprintf("import_edited:%s:%s", cand.Provider, cand.MediaID)
	s.submitImport(w, r, cand.Title, uniqueKey, "import_edited", func(ctx context.Context, ctl *taskmanager.Control) error {
		_, err := s.engine.Run(ctx, ctl, req)
		return err
	})
}

type autoImportBody struct {
	SearchType string `json:"searchType"`
	SearchTerm string `json:"searchTerm"`
	Season     *int   `json:"season"`
	Episode    *int   `json:"episode"`
	MediaType  string `json:"mediaType"`
}

// handleImportAuto implements POST /import/auto: the unattended policy that
// resolves a library match or search candidate with no operator review.
func (s *Server) handleImportAuto(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	var body autoImportBody
	if err := decodeJSON(r, &body); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if body.SearchTerm == "" {
		rw.BadRequest("searchTerm is required")
		return
	}

	req := importengine.AutoRequest{
		SearchType: body.SearchType, SearchTerm: body.SearchTerm,
		Season: body.Season, Episode: body.Episode, MediaType: models.MediaType(body.MediaType),
	}
	collab := importengine.AutoCollaborators{
		Pipeline: s.pipeline, MetadataReg: s.metadataReg, Recognizer: s.recognizer,
		AIManager: s.ai.Manager, AIConfig: s.ai.Config, AIPrompts: s.ai.Prompts,
	}
	uniqueKey := fmt.Sprintf("import_auto:%s:%s:%v:%v", body.SearchType, models.NormalizeTitle(body.SearchTerm), body.Season, body.Episode)
	title := "自动导入: " + body.SearchTerm
	s.submitImport(w, r, title, uniqueKey, "import_auto", func(ctx context.Context, ctl *taskmanager.Control) error {
		_, err := s.engine.RunAuto(ctx, ctl, collab, req)
		return err
	})
}

type urlImportBody struct {
	SourceID     int64  `json:"sourceId"`
	EpisodeIndex int    `json:"episode_index"`
	URL          string `json:"url"`
}

// handleImportURL implements POST /import/url: resolve one episode's
// comments from an operator-supplied provider URL.
func (s *Server) handleImportURL(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	var body urlImportBody
	if err := decodeJSON(r, &body); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if body.URL == "" {
		rw.BadRequest("url is required")
		return
	}

	uniqueKey := fmt.Sprintf("import_url:%d:%d", body.SourceID, body.EpisodeIndex)
	title := fmt.Sprintf("manual url import (source %d, episode %d)", body.SourceID, body.EpisodeIndex)
	s.submitImport(w, r, title, uniqueKey, "import_url", func(ctx context.Context, ctl *taskmanager.Control) error {
		_, err := s.engine.RunManualURL(ctx, ctl, body.SourceID, body.EpisodeIndex, body.URL)
		return err
	})
}

type xmlImportBody struct {
	SourceID     int64  `json:"sourceId"`
	EpisodeIndex int    `json:"episode_index"`
	Content      string `json:"content"`
}

// handleImportXML implements POST /import/xml: store an operator-supplied
// danmaku payload directly, bypassing any provider fetch.
func (s *Server) handleImportXML(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	var body xmlImportBody
	if err := decodeJSON(r, &body); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if body.Content == "" {
		rw.BadRequest("content is required")
		return
	}

	uniqueKey := fmt.Sprintf("import_xml:%d:%d", body.SourceID, body.EpisodeIndex)
	title := fmt.Sprintf("manual xml import (source %d, episode %d)", body.SourceID, body.EpisodeIndex)
	s.submitImport(w, r, title, uniqueKey, "import_xml", func(ctx context.Context, ctl *taskmanager.Control) error {
		_, err := s.engine.RunManualXML(ctx, ctl, body.SourceID, body.EpisodeIndex, body.Content)
		return err
	})
}
