package importengine

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/scraper"
	"github.com/tomtom215/danmuhub/internal/taskmanager"
)

// RunManualURL ingests a single episode by URL into an already-existing
// source: the owning provider resolves the URL to a provider episode id,
// then the normal single-episode fetch-and-store path runs.
func (e *Engine) RunManualURL(ctx context.Context, ctl *taskmanager.Control, sourceID int64, episodeIndex int, url string) (*Report, error) {
	source, err := e.repo.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("importengine: get source: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("importengine: source %d not found", sourceID)
	}
	src, ok := e.scrapers.Get(source.Provider)
	if !ok {
		return nil, fmt.Errorf("importengine: provider %q not registered", source.Provider)
	}

	providerEpisodeID, err := src.GetIDFromURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("importengine: resolve url: %w", err)
	}

	ep := scraper.EpisodeDescriptor{Index: episodeIndex, ProviderEpisodeID: providerEpisodeID}
	req := Request{Provider: source.Provider, MediaID: source.MediaID}
	outcome, err := e.fetchAndStore(ctx, src, req, sourceID, ep)
	if err != nil {
		return nil, err
	}
	return &Report{Outcomes: []EpisodeOutcome{outcome}}, nil
}

// RunManualXML ingests a single episode's danmaku directly from an
// operator-supplied XML/text payload, bypassing any provider fetch — the
// "custom" provider case.
func (e *Engine) RunManualXML(ctx context.Context, ctl *taskmanager.Control, sourceID int64, episodeIndex int, content string) (*Report, error) {
	comments, err := parseDanmakuXML(content)
	if err != nil {
		return nil, fmt.Errorf("importengine: parse xml payload: %w", err)
	}
	if len(comments) == 0 {
		return nil, fmt.Errorf("importengine: xml payload contained no comments")
	}

	episodeID, err := e.repo.UpsertEpisode(ctx, &models.Episode{
		SourceID: sourceID, EpisodeIndex: episodeIndex, ProviderEpisodeID: "manual",
	})
	if err != nil {
		return nil, fmt.Errorf("importengine: upsert episode: %w", err)
	}
	if _, err := e.repo.WriteDanmaku(ctx, episodeID, "", comments); err != nil {
		return nil, fmt.Errorf("importengine: write danmaku: %w", err)
	}
	return &Report{Outcomes: []EpisodeOutcome{{Index: episodeIndex, Kind: "successful"}}}, nil
}

// danmakuXML is the classic `<i><d p="time,mode,size,color,...">text</d></i>`
// comment file shape.
type danmakuXML struct {
	Comments []struct {
		P    string `xml:"p,attr"`
		Text string `xml:",chardata"`
	} `xml:"d"`
}

func parseDanmakuXML(content string) ([]models.Comment, error) {
	var doc danmakuXML
	if err := xml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, err
	}
	out := make([]models.Comment, 0, len(doc.Comments))
	for _, c := range doc.Comments {
		fields := strings.Split(c.P, ",")
		if len(fields) == 0 {
			continue
		}
		ts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		out = append(out, models.Comment{TimestampS: ts, StyleBlob: c.P, Text: strings.TrimSpace(c.Text)})
	}
	return out, nil
}
