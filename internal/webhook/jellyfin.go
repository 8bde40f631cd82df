package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tomtom215/danmuhub/internal/models"
)

type jellyfinPayload struct {
	NotificationType string `json:"NotificationType"`
	ItemType         string `json:"ItemType"`
	Name             string `json:"Name"`
	SeriesName       string `json:"SeriesName"`
	SeasonNumber     *int   `json:"SeasonNumber"`
	EpisodeNumber    *int   `json:"EpisodeNumber"`
	PremiereDate     string `json:"PremiereDate"` // RFC3339-ish; year is parsed from its prefix
	Provider_tmdb    string `json:"Provider_tmdb"`
	Provider_imdb    string `json:"Provider_imdb"`
	Provider_tvdb    string `json:"Provider_tvdb"`
}

func normalizeJellyfin(raw []byte) ([]models.WebhookJob, error) {
	var p jellyfinPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("jellyfin: decode payload: %w", err)
	}
	if p.NotificationType != "ItemAdded" {
		return nil, nil
	}
	if p.ItemType != "Episode" && p.ItemType != "Movie" {
		return nil, nil
	}

	title := p.SeriesName
	if title == "" {
		title = p.Name
	}
	ids := map[models.MetadataIDKind]string{}
	if p.Provider_tmdb != "" {
		ids[models.MetadataTMDB] = p.Provider_tmdb
	}
	if p.Provider_imdb != "" {
		ids[models.MetadataIMDB] = p.Provider_imdb
	}
	if p.Provider_tvdb != "" {
		ids[models.MetadataTVDB] = p.Provider_tvdb
	}

	var year *int
	if len(p.PremiereDate) >= 4 {
		if y, err := strconv.Atoi(p.PremiereDate[:4]); err == nil {
			year = &y
		}
	}

	if p.ItemType == "Movie" {
		return []models.WebhookJob{{MediaType: models.MediaTypeMovie, Title: title, Year: year, IDs: ids, SourceServer: "jellyfin"}}, nil
	}

	season := 1
	if p.SeasonNumber != nil {
		season = *p.SeasonNumber
	}
	return []models.WebhookJob{{
		MediaType: models.MediaTypeTVSeries, Title: title, Season: season,
		EpisodeIndex: p.EpisodeNumber, Year: year, IDs: ids, SourceServer: "jellyfin",
	}}, nil
}
