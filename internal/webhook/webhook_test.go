package webhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/danmuhub/internal/logging"
	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
)

func newTestDispatcher(t *testing.T, cfg Config, submit func(ctx context.Context, job models.WebhookJob) error) (*Dispatcher, repo.Repo) {
	t.Helper()
	r, err := repo.OpenSQLite(":memory:", repo.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	if submit == nil {
		submit = func(ctx context.Context, job models.WebhookJob) error { return nil }
	}
	d, err := New(r, metrics.New(), logging.Test(io.Discard), cfg, submit)
	require.NoError(t, err)
	return d, r
}

func TestNormalizeEmbyEpisode(t *testing.T) {
	payload := `{"Event":"library.new","Item":{"Type":"Episode","SeriesName":"Test Show","ParentIndexNumber":2,"IndexNumber":5,"ProductionYear":2020,"ProviderIds":{"Tmdb":"123"}}}`
	jobs, err := normalizeEmby([]byte(payload))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Test Show", jobs[0].Title)
	assert.Equal(t, 2, jobs[0].Season)
	require.NotNil(t, jobs[0].EpisodeIndex)
	assert.Equal(t, 5, *jobs[0].EpisodeIndex)
	assert.Equal(t, "123", jobs[0].IDs[models.MetadataTMDB])
}

func TestNormalizeEmbyIgnoresUntrackedEvent(t *testing.T) {
	payload := `{"Event":"playback.start","Item":{"Type":"Episode"}}`
	jobs, err := normalizeEmby([]byte(payload))
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestNormalizeJellyfinMovie(t *testing.T) {
	payload := `{"NotificationType":"ItemAdded","ItemType":"Movie","Name":"A Film","PremiereDate":"2019-03-01T00:00:00Z","Provider_imdb":"tt1"}`
	jobs, err := normalizeJellyfin([]byte(payload))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.MediaTypeMovie, jobs[0].MediaType)
	require.NotNil(t, jobs[0].Year)
	assert.Equal(t, 2019, *jobs[0].Year)
	assert.Equal(t, "tt1", jobs[0].IDs[models.MetadataIMDB])
}

func TestNormalizePlexMultipart(t *testing.T) {
	body := "--BOUNDARY\r\n" +
		"Content-Disposition: form-data; name=\"payload\"\r\n\r\n" +
		`{"event":"library.new","Metadata":{"type":"episode","grandparentTitle":"Show","parentIndex":1,"index":3}}` + "\r\n" +
		"--BOUNDARY--\r\n"
	raw := "multipart/form-data; boundary=BOUNDARY\r\n\r\n" + body

	jobs, err := normalizePlex([]byte(raw))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Show", jobs[0].Title)
	assert.Equal(t, 1, jobs[0].Season)
	require.NotNil(t, jobs[0].EpisodeIndex)
	assert.Equal(t, 3, *jobs[0].EpisodeIndex)
}

func TestNormalizeTautulliMultiEpisode(t *testing.T) {
	payload := `{"action":"created","media_type":"episode","show_name":"Multi","season_num":"2","episode_num_list":"1-3,6"}`
	jobs, err := normalizeTautulli([]byte(payload))
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	assert.Equal(t, 1, *jobs[0].EpisodeIndex)
	assert.Equal(t, 6, *jobs[3].EpisodeIndex)
}

func TestParseEpisodeRanges(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3, 6, 8, 10, 11, 12, 13}, parseEpisodeRanges("1-3,6,8,10-13"))
}

func TestParseEpisodeRangesSortsDedupsAndDropsNonPositive(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3, 10, 11, 12, 13}, parseEpisodeRanges("10-13,1-3"))
	assert.Equal(t, []int{1, 2}, parseEpisodeRanges("1,1,2"))
	assert.Equal(t, []int{1, 2}, parseEpisodeRanges("0-2"))
}

func TestDispatcherFilterBlacklistDropsMatch(t *testing.T) {
	var dispatched []string
	d, _ := newTestDispatcher(t, Config{FilterPattern: "Blocked", FilterMode: FilterBlacklist}, func(ctx context.Context, job models.WebhookJob) error {
		dispatched = append(dispatched, job.Title)
		return nil
	})
	err := d.Handle(context.Background(), "emby", []byte(`{"Event":"library.new","Item":{"Type":"Movie","Name":"Blocked Title"}}`))
	require.NoError(t, err)
	assert.Empty(t, dispatched)
}

func TestDispatcherFilterWhitelistKeepsMatch(t *testing.T) {
	var dispatched []string
	d, _ := newTestDispatcher(t, Config{FilterPattern: "Allowed", FilterMode: FilterWhitelist}, func(ctx context.Context, job models.WebhookJob) error {
		dispatched = append(dispatched, job.Title)
		return nil
	})
	err := d.Handle(context.Background(), "emby", []byte(`{"Event":"library.new","Item":{"Type":"Movie","Name":"Allowed Title"}}`))
	require.NoError(t, err)
	require.Len(t, dispatched, 1)
	assert.Equal(t, "Allowed Title", dispatched[0])
}

func TestDispatcherDelayedEnqueuesInsteadOfSubmitting(t *testing.T) {
	called := false
	d, r := newTestDispatcher(t, Config{DelayedEnabled: true, DelayedHours: 1}, func(ctx context.Context, job models.WebhookJob) error {
		called = true
		return nil
	})
	err := d.Handle(context.Background(), "emby", []byte(`{"Event":"library.new","Item":{"Type":"Movie","Name":"Delayed Title"}}`))
	require.NoError(t, err)
	assert.False(t, called, "delayed jobs must not call Submit directly")

	notYetDue, err := r.DueWebhookJobs(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, notYetDue, "job scheduled an hour out should not be due yet")

	due, err := r.DueWebhookJobs(context.Background(), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)

	var job models.WebhookJob
	require.NoError(t, json.Unmarshal([]byte(due[0].Job), &job))
	assert.Equal(t, "Delayed Title", job.Title)
}

func TestDispatcherRejectsUnknownSource(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{}, nil)
	err := d.Handle(context.Background(), "unknown-server", []byte(`{}`))
	assert.Error(t, err)
}
