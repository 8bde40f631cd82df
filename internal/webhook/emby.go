package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/tomtom215/danmuhub/internal/models"
)

// embyPayload covers the fields used across library.new, item.markplayed,
// and item.rate events for Episode/Movie/Series items.
type embyPayload struct {
	Event string `json:"Event"`
	Item  struct {
		Type              string            `json:"Type"`
		Name              string            `json:"Name"`
		SeriesName        string            `json:"SeriesName"`
		ParentIndexNumber *int              `json:"ParentIndexNumber"`
		IndexNumber       *int              `json:"IndexNumber"`
		ProductionYear    *int              `json:"ProductionYear"`
		ProviderIds       map[string]string `json:"ProviderIds"`
	} `json:"Item"`
}

var embyTriggerEvents = map[string]bool{
	"library.new":      true,
	"item.markplayed":  true,
	"item.rate":        true,
}

func normalizeEmby(raw []byte) ([]models.WebhookJob, error) {
	var p embyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("emby: decode payload: %w", err)
	}
	if !embyTriggerEvents[p.Event] {
		return nil, nil
	}

	title := p.Item.SeriesName
	if title == "" {
		title = p.Item.Name
	}
	ids := parseProviderIDs(p.Item.ProviderIds)

	switch p.Item.Type {
	case "Episode":
		return []models.WebhookJob{{
			MediaType: models.MediaTypeTVSeries, Title: title,
			Season: intOr(p.Item.ParentIndexNumber, 1), EpisodeIndex: p.Item.IndexNumber,
			Year: p.Item.ProductionYear, IDs: ids, SourceServer: "emby",
		}}, nil
	case "Movie":
		return []models.WebhookJob{{
			MediaType: models.MediaTypeMovie, Title: title,
			Year: p.Item.ProductionYear, IDs: ids, SourceServer: "emby",
		}}, nil
	case "Series":
		// The payload carries no season list, so a Series event yields a
		// single full-season job for season 1; other seasons of the series
		// are not imported from this event.
		return []models.WebhookJob{{
			MediaType: models.MediaTypeTVSeries, Title: title, Season: 1,
			Year: p.Item.ProductionYear, IDs: ids, IsFullSeason: true, SourceServer: "emby",
		}}, nil
	default:
		return nil, nil
	}
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
