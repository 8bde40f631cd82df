package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/tomtom215/danmuhub/internal/models"
)

type plexMetadata struct {
	Event    string `json:"event"`
	Metadata struct {
		Type             string `json:"type"`
		Title            string `json:"title"`
		GrandparentTitle string `json:"grandparentTitle"`
		ParentIndex      *int   `json:"parentIndex"`
		Index            *int   `json:"index"`
		Year             *int   `json:"year"`
	} `json:"Metadata"`
}

// normalizePlex parses Plex's native multipart/form-data webhook, whose
// "payload" form field carries the event JSON. rawBody is expected in the
// form "<content-type>\r\n\r\n<multipart body>", with the handler
// prepending the request's Content-Type header before handing the body
// off to this package, since the multipart boundary lives there.
func normalizePlex(rawBody []byte) ([]models.WebhookJob, error) {
	payloadJSON, err := extractPlexPayload(rawBody)
	if err != nil {
		return nil, err
	}

	var p plexMetadata
	if err := json.Unmarshal(payloadJSON, &p); err != nil {
		return nil, fmt.Errorf("plex: decode payload: %w", err)
	}
	if p.Event != "library.new" {
		return nil, nil
	}

	title := p.Metadata.GrandparentTitle
	if title == "" {
		title = p.Metadata.Title
	}

	if p.Metadata.Type == "movie" {
		return []models.WebhookJob{{MediaType: models.MediaTypeMovie, Title: title, Year: p.Metadata.Year, SourceServer: "plex"}}, nil
	}

	season := 1
	if p.Metadata.ParentIndex != nil {
		season = *p.Metadata.ParentIndex
	}
	return []models.WebhookJob{{
		MediaType: models.MediaTypeTVSeries, Title: title, Season: season,
		EpisodeIndex: p.Metadata.Index, SourceServer: "plex",
	}}, nil
}

func extractPlexPayload(rawBody []byte) ([]byte, error) {
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(rawBody, sep)
	if idx < 0 {
		// Already-extracted JSON, for callers that parsed the multipart
		// envelope themselves.
		return rawBody, nil
	}
	contentType := string(rawBody[:idx])
	body := rawBody[idx+len(sep):]

	mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return rawBody, nil
	}

	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, fmt.Errorf("plex: read multipart payload field: %w", err)
		}
		if part.FormName() != "payload" {
			continue
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(part); err != nil {
			return nil, fmt.Errorf("plex: read payload field: %w", err)
		}
		return buf.Bytes(), nil
	}
}
