package importengine

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/danmuhub/internal/logging"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/recognizer"
	"github.com/tomtom215/danmuhub/internal/repo"
	"github.com/tomtom215/danmuhub/internal/scraper"
)

type fakeScraper struct {
	name      string
	episodes  []scraper.EpisodeDescriptor
	comments  map[string][]models.Comment
}

func (f *fakeScraper) ProviderName() string { return f.name }
func (f *fakeScraper) RateLimitQuota() *int { return nil }
func (f *fakeScraper) Search(ctx context.Context, titles []string, hint *scraper.EpisodeHint) ([]scraper.Candidate, error) {
	return nil, nil
}
func (f *fakeScraper) GetEpisodes(ctx context.Context, mediaID string, target *int, mt models.MediaType) ([]scraper.EpisodeDescriptor, error) {
	return f.episodes, nil
}
func (f *fakeScraper) GetComments(ctx context.Context, episodeID string, progress scraper.ProgressFunc) ([]models.Comment, error) {
	return f.comments[episodeID], nil
}
func (f *fakeScraper) GetInfoFromURL(ctx context.Context, url string) (*scraper.Candidate, error) {
	return nil, scraper.ErrUnsupported
}
func (f *fakeScraper) GetIDFromURL(ctx context.Context, url string) (string, error) {
	return "", scraper.ErrUnsupported
}

func newTestEngine(t *testing.T) (*Engine, repo.Repo, *scraper.Registry) {
	t.Helper()
	r, err := repo.OpenSQLite(":memory:", repo.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	reg := scraper.NewRegistry()
	rec := recognizer.New(logging.Test(io.Discard))
	return New(r, reg, nil, rec, nil, nil, logging.Test(io.Discard)), r, reg
}

func TestGenericImportHappyPath(t *testing.T) {
	e, r, reg := newTestEngine(t)
	fs := &fakeScraper{
		name: "bilibili",
		episodes: []scraper.EpisodeDescriptor{
			{Index: 1, Title: "第1集", ProviderEpisodeID: "ep1"},
			{Index: 2, Title: "第2集", ProviderEpisodeID: "ep2"},
		},
		comments: map[string][]models.Comment{
			"ep1": {{Text: "first"}},
			"ep2": {{Text: "second"}},
		},
	}
	reg.Register(fs)

	req := Request{Provider: "bilibili", MediaID: "m1", Title: "测试番剧", MediaType: models.MediaTypeTVSeries, Season: 1}
	report, err := e.Run(context.Background(), nil, req)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	for _, o := range report.Outcomes {
		assert.Equal(t, "successful", o.Kind)
	}

	anime, err := r.GetAnimeByIdentity(context.Background(), repo.AnimeLookup{NormalizedTitle: models.NormalizeTitle("测试番剧"), Season: 1})
	require.NoError(t, err)
	require.NotNil(t, anime)

	src, err := r.FindSourceByProviderMedia(context.Background(), "bilibili", "m1")
	require.NoError(t, err)
	require.NotNil(t, src)

	ep1, err := r.GetEpisode(context.Background(), src.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, ep1)
	assert.True(t, ep1.Present())
}

func TestGenericImportNoCommentsOnFirstEpisodeDoesNotCreateLibraryRows(t *testing.T) {
	e, r, reg := newTestEngine(t)
	fs := &fakeScraper{
		name:     "bilibili",
		episodes: []scraper.EpisodeDescriptor{{Index: 1, Title: "第1集", ProviderEpisodeID: "ep1"}},
		comments: map[string][]models.Comment{}, // empty: no comments
	}
	reg.Register(fs)

	req := Request{Provider: "bilibili", MediaID: "m2", Title: "无效番剧", MediaType: models.MediaTypeTVSeries, Season: 1}
	report, err := e.Run(context.Background(), nil, req)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "failed", report.Outcomes[0].Kind)

	anime, err := r.GetAnimeByIdentity(context.Background(), repo.AnimeLookup{NormalizedTitle: models.NormalizeTitle("无效番剧"), Season: 1})
	require.NoError(t, err)
	assert.Nil(t, anime, "no Anime row should be created until one successful episode fetch is proven")
}

func TestSummarizeRanges(t *testing.T) {
	assert.Equal(t, "1-3, 5, 8-10", summarizeRanges([]int{1, 2, 3, 5, 8, 9, 10}))
	assert.Equal(t, "1", summarizeRanges([]int{1}))
}
