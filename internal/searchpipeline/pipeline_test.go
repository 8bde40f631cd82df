package searchpipeline

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/danmuhub/internal/logging"
	"github.com/tomtom215/danmuhub/internal/metadata"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/recognizer"
	"github.com/tomtom215/danmuhub/internal/repo"
	"github.com/tomtom215/danmuhub/internal/scraper"
)

type fakeScraper struct {
	name    string
	results []scraper.Candidate
}

func (f *fakeScraper) ProviderName() string     { return f.name }
func (f *fakeScraper) RateLimitQuota() *int      { return nil }
func (f *fakeScraper) Search(ctx context.Context, titles []string, hint *scraper.EpisodeHint) ([]scraper.Candidate, error) {
	return f.results, nil
}
func (f *fakeScraper) GetEpisodes(ctx context.Context, mediaID string, target *int, mt models.MediaType) ([]scraper.EpisodeDescriptor, error) {
	return nil, scraper.ErrUnsupported
}
func (f *fakeScraper) GetComments(ctx context.Context, episodeID string, progress scraper.ProgressFunc) ([]models.Comment, error) {
	return nil, scraper.ErrUnsupported
}
func (f *fakeScraper) GetInfoFromURL(ctx context.Context, url string) (*scraper.Candidate, error) {
	return nil, scraper.ErrUnsupported
}
func (f *fakeScraper) GetIDFromURL(ctx context.Context, url string) (string, error) {
	return "", scraper.ErrUnsupported
}

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	r, err := repo.OpenSQLite(":memory:", repo.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPipelineRunRanksAndCachesResults(t *testing.T) {
	r := newTestRepo(t)
	rec := recognizer.New(logging.Test(io.Discard))
	scraperReg := scraper.NewRegistry()
	scraperReg.Register(&fakeScraper{
		name: "bilibili",
		results: []scraper.Candidate{
			{Provider: "bilibili", MediaID: "1", Title: "鬼灭之刃", Type: models.MediaTypeTVSeries, Season: 2, DisplayOrder: 0},
		},
	})

	p := New(r, rec, metadata.NewRegistry(), scraperReg, nil, nil, nil, logging.Test(io.Discard), NameConversionConfig{})

	result, err := p.Run(context.Background(), "holder-1", "鬼灭之刃 S02E03")
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "鬼灭之刃", result.Candidates[0].Title)

	// Second run should hit cache and re-annotate the episode index.
	result2, err := p.Run(context.Background(), "holder-2", "鬼灭之刃 S02E05")
	require.NoError(t, err)
	require.Len(t, result2.Candidates, 1)
	require.NotNil(t, result2.Candidates[0].CurrentEpisodeIndex)
	assert.Equal(t, 5, *result2.Candidates[0].CurrentEpisodeIndex)
}

// TestTypeCorrectionDropsRetypedCandidateWhenSeasonRequested exercises stage
// 7 (type correction) followed by stage 8 (season filter): a tv_series
// candidate whose title carries a movie keyword is retyped to movie, and
// then dropped because a season was requested and it is no longer a
// tv_series candidate.
func TestTypeCorrectionDropsRetypedCandidateWhenSeasonRequested(t *testing.T) {
	r := newTestRepo(t)
	rec := recognizer.New(logging.Test(io.Discard))
	scraperReg := scraper.NewRegistry()
	scraperReg.Register(&fakeScraper{
		name: "bilibili",
		results: []scraper.Candidate{
			{Provider: "bilibili", MediaID: "1", Title: "鬼灭之刃", Type: models.MediaTypeTVSeries, Season: 2},
			{Provider: "bilibili", MediaID: "2", Title: "鬼灭之刃 劇場版", Type: models.MediaTypeTVSeries, Season: 2},
		},
	})
	p := New(r, rec, metadata.NewRegistry(), scraperReg, nil, nil, nil, logging.Test(io.Discard), NameConversionConfig{})

	result, err := p.Run(context.Background(), "holder", "鬼灭之刃 S02E03")
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "鬼灭之刃", result.Candidates[0].Title)
}

func TestPipelineSeasonFilterDropsMismatch(t *testing.T) {
	r := newTestRepo(t)
	rec := recognizer.New(logging.Test(io.Discard))
	scraperReg := scraper.NewRegistry()
	scraperReg.Register(&fakeScraper{
		name: "bilibili",
		results: []scraper.Candidate{
			{Provider: "bilibili", MediaID: "1", Title: "测试动画", Type: models.MediaTypeTVSeries, Season: 1},
			{Provider: "bilibili", MediaID: "2", Title: "测试动画", Type: models.MediaTypeTVSeries, Season: 2},
		},
	})
	p := New(r, rec, metadata.NewRegistry(), scraperReg, nil, nil, nil, logging.Test(io.Discard), NameConversionConfig{})

	result, err := p.Run(context.Background(), "holder", "测试动画 S02")
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, 2, result.Candidates[0].Season)
}

func TestPipelineRejectsConcurrentHolders(t *testing.T) {
	r := newTestRepo(t)
	rec := recognizer.New(logging.Test(io.Discard))
	scraperReg := scraper.NewRegistry()
	p := New(r, rec, metadata.NewRegistry(), scraperReg, nil, nil, nil, logging.Test(io.Discard), NameConversionConfig{})

	require.True(t, scraperReg.AcquireSearchLock("someone-else"))
	_, err := p.Run(context.Background(), "holder", "测试")
	assert.Error(t, err)
	require.NoError(t, scraperReg.ReleaseSearchLock("someone-else"))
}
