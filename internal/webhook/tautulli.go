package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tomtom215/danmuhub/internal/models"
)

// tautulliPayload covers the notification-agent JSON fields Tautulli
// substitutes into its custom webhook template.
type tautulliPayload struct {
	Action      string `json:"action"`
	MediaType   string `json:"media_type"`
	ShowName    string `json:"show_name"`
	Title       string `json:"title"`
	Year        string `json:"year"`
	Season      string `json:"season_num"`
	Episode     string `json:"episode_num"`
	EpisodeList string `json:"episode_num_list"` // e.g. "1-3,6,8,10-13" for multi-episode files
}

func normalizeTautulli(raw []byte) ([]models.WebhookJob, error) {
	var p tautulliPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("tautulli: decode payload: %w", err)
	}
	if p.Action != "" && p.Action != "created" {
		return nil, nil
	}

	title := p.ShowName
	if title == "" {
		title = p.Title
	}
	var year *int
	if y, err := strconv.Atoi(p.Year); err == nil {
		year = &y
	}

	if p.MediaType == "movie" {
		return []models.WebhookJob{{MediaType: models.MediaTypeMovie, Title: title, Year: year, SourceServer: "tautulli"}}, nil
	}

	season := 1
	if s, err := strconv.Atoi(p.Season); err == nil {
		season = s
	}

	if indices := parseEpisodeRanges(p.EpisodeList); len(indices) > 0 {
		jobs := make([]models.WebhookJob, 0, len(indices))
		for _, idx := range indices {
			i := idx
			jobs = append(jobs, models.WebhookJob{
				MediaType: models.MediaTypeTVSeries, Title: title, Season: season,
				EpisodeIndex: &i, Year: year, SourceServer: "tautulli",
			})
		}
		return jobs, nil
	}

	var episode *int
	if e, err := strconv.Atoi(p.Episode); err == nil {
		episode = &e
	}
	return []models.WebhookJob{{
		MediaType: models.MediaTypeTVSeries, Title: title, Season: season,
		EpisodeIndex: episode, Year: year, SourceServer: "tautulli",
	}}, nil
}
