package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver

	"github.com/tomtom215/danmuhub/internal/models"
)

// SQLiteConfig controls connection pool behavior, mirroring the pattern of
// enforcing WAL + busy_timeout PRAGMAs directly in the DSN.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns production-sane defaults.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{BusyTimeout: 5 * time.Second, MaxOpenConns: 8}
}

// SQLiteRepo implements Repo over a single sqlite database file.
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) a sqlite-backed Repo at dsn, e.g. a file
// path or "file::memory:?cache=shared" for tests.
func OpenSQLite(dsn string, cfg SQLiteConfig) (*SQLiteRepo, error) {
	full := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		dsn, cfg.BusyTimeout.Milliseconds())
	if dsn == ":memory:" || dsn == "file::memory:?cache=shared" {
		full = dsn
	}

	db, err := sql.Open("sqlite", full)
	if err != nil {
		return nil, fmt.Errorf("repo: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repo: ping sqlite: %w", err)
	}

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepo) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS anime (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	normalized_title TEXT NOT NULL,
	media_type TEXT NOT NULL,
	season INTEGER NOT NULL,
	year INTEGER,
	image_url TEXT,
	image_path TEXT,
	created_at DATETIME NOT NULL,
	UNIQUE(normalized_title, season, year)
);
CREATE TABLE IF NOT EXISTS anime_metadata (
	anime_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	external_id TEXT NOT NULL,
	PRIMARY KEY (anime_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_anime_metadata_lookup ON anime_metadata(kind, external_id);
CREATE TABLE IF NOT EXISTS anime_source (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	anime_id INTEGER NOT NULL,
	provider TEXT NOT NULL,
	media_id TEXT NOT NULL,
	favorited INTEGER NOT NULL DEFAULT 0,
	display_order INTEGER NOT NULL DEFAULT 0,
	incremental_refresh_enabled INTEGER NOT NULL DEFAULT 0,
	incremental_refresh_failures INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE(provider, media_id, anime_id)
);
CREATE TABLE IF NOT EXISTS episode (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id INTEGER NOT NULL,
	episode_index INTEGER NOT NULL,
	title TEXT,
	provider_url TEXT,
	provider_episode_id TEXT,
	danmaku_path TEXT,
	comment_count INTEGER NOT NULL DEFAULT 0,
	UNIQUE(source_id, episode_index)
);
CREATE TABLE IF NOT EXISTS task_history (
	id TEXT PRIMARY KEY,
	title TEXT,
	unique_key TEXT,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	message TEXT,
	task_type TEXT,
	parameters TEXT,
	parent_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_unique_key ON task_history(unique_key, status);
CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	expiry DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS rate_limit_state (
	key TEXT PRIMARY KEY,
	request_count INTEGER NOT NULL DEFAULT 0,
	last_reset_time DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS webhook_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job TEXT NOT NULL,
	run_at DATETIME NOT NULL,
	dispatched INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS scheduler_task (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cron_expr TEXT NOT NULL,
	last_run_at DATETIME,
	next_run_at DATETIME NOT NULL,
	execution_task_id TEXT
);
CREATE TABLE IF NOT EXISTS external_api_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint TEXT NOT NULL,
	api_key_id TEXT,
	status INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
`
	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRepo) Close() error { return r.db.Close() }

// --- Anime / Source / Episode ---

func (r *SQLiteRepo) GetAnimeByIdentity(ctx context.Context, lookup AnimeLookup) (*models.Anime, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, title, normalized_title, media_type, season, year, image_url, image_path, created_at
		FROM anime WHERE normalized_title = ? AND season = ? AND (year IS ? OR year = ?)`,
		lookup.NormalizedTitle, lookup.Season, lookup.Year, lookup.Year)
	return scanAnime(row)
}

func (r *SQLiteRepo) GetAnimeByMetadataID(ctx context.Context, lookup MetadataLookup) (*models.Anime, error) {
	row := r.db.QueryRowContext(ctx, `SELECT a.id, a.title, a.normalized_title, a.media_type, a.season, a.year, a.image_url, a.image_path, a.created_at
		FROM anime a JOIN anime_metadata m ON m.anime_id = a.id
		WHERE m.kind = ? AND m.external_id = ? AND a.season = ?`,
		lookup.Kind, lookup.ID, lookup.Season)
	return scanAnime(row)
}

func (r *SQLiteRepo) GetAnime(ctx context.Context, id int64) (*models.Anime, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, title, normalized_title, media_type, season, year, image_url, image_path, created_at
		FROM anime WHERE id = ?`, id)
	return scanAnime(row)
}

func scanAnime(row *sql.Row) (*models.Anime, error) {
	var a models.Anime
	var year sql.NullInt64
	var imageURL, imagePath sql.NullString
	err := row.Scan(&a.ID, &a.Title, &a.NormalizedTitle, &a.MediaType, &a.Season, &year, &imageURL, &imagePath, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan anime: %w", err)
	}
	if year.Valid {
		y := int(year.Int64)
		a.Year = &y
	}
	a.ImageURL = imageURL.String
	a.ImagePath = imagePath.String
	return &a, nil
}

func (r *SQLiteRepo) CreateAnime(ctx context.Context, a *models.Anime) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO anime (title, normalized_title, media_type, season, year, image_url, image_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Title, a.NormalizedTitle, a.MediaType, a.Season, a.Year, a.ImageURL, a.ImagePath, a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("repo: create anime: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepo) UpsertAnimeMetadata(ctx context.Context, animeID int64, kind models.MetadataIDKind, externalID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO anime_metadata (anime_id, kind, external_id) VALUES (?, ?, ?)
		ON CONFLICT(anime_id, kind) DO NOTHING`, animeID, kind, externalID)
	return err
}

func (r *SQLiteRepo) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, anime_id, provider, media_id, favorited, display_order,
		incremental_refresh_enabled, incremental_refresh_failures, created_at FROM anime_source WHERE id = ?`, id)
	return scanSource(row)
}

func (r *SQLiteRepo) GetSourceByProvider(ctx context.Context, animeID int64, provider, mediaID string) (*models.Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, anime_id, provider, media_id, favorited, display_order,
		incremental_refresh_enabled, incremental_refresh_failures, created_at FROM anime_source
		WHERE anime_id = ? AND provider = ? AND media_id = ?`, animeID, provider, mediaID)
	return scanSource(row)
}

func (r *SQLiteRepo) FindSourceByProviderMedia(ctx context.Context, provider, mediaID string) (*models.Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, anime_id, provider, media_id, favorited, display_order,
		incremental_refresh_enabled, incremental_refresh_failures, created_at FROM anime_source
		WHERE provider = ? AND media_id = ?`, provider, mediaID)
	return scanSource(row)
}

func scanSource(row *sql.Row) (*models.Source, error) {
	var s models.Source
	var fav, incEnabled int
	err := row.Scan(&s.ID, &s.AnimeID, &s.Provider, &s.MediaID, &fav, &s.DisplayOrder,
		&incEnabled, &s.IncrementalRefreshFailures, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan source: %w", err)
	}
	s.Favorited = fav != 0
	s.IncrementalRefreshEnabled = incEnabled != 0
	return &s, nil
}

func (r *SQLiteRepo) ListSources(ctx context.Context, animeID int64) ([]models.Source, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, anime_id, provider, media_id, favorited, display_order,
		incremental_refresh_enabled, incremental_refresh_failures, created_at FROM anime_source
		WHERE anime_id = ? ORDER BY display_order ASC`, animeID)
	if err != nil {
		return nil, fmt.Errorf("repo: list sources: %w", err)
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		var s models.Source
		var fav, incEnabled int
		if err := rows.Scan(&s.ID, &s.AnimeID, &s.Provider, &s.MediaID, &fav, &s.DisplayOrder,
			&incEnabled, &s.IncrementalRefreshFailures, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan source row: %w", err)
		}
		s.Favorited = fav != 0
		s.IncrementalRefreshEnabled = incEnabled != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSourcesForRefresh returns every source eligible for a scheduler-driven
// refresh pass, optionally restricted to those with incremental refresh
// enabled.
func (r *SQLiteRepo) ListSourcesForRefresh(ctx context.Context, incrementalOnly bool) ([]models.Source, error) {
	query := `SELECT id, anime_id, provider, media_id, favorited, display_order,
		incremental_refresh_enabled, incremental_refresh_failures, created_at FROM anime_source`
	if incrementalOnly {
		query += ` WHERE incremental_refresh_enabled = 1`
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repo: list sources for refresh: %w", err)
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		var s models.Source
		var fav, incEnabled int
		if err := rows.Scan(&s.ID, &s.AnimeID, &s.Provider, &s.MediaID, &fav, &s.DisplayOrder,
			&incEnabled, &s.IncrementalRefreshFailures, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan source row: %w", err)
		}
		s.Favorited = fav != 0
		s.IncrementalRefreshEnabled = incEnabled != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) CreateSource(ctx context.Context, s *models.Source) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO anime_source (anime_id, provider, media_id, favorited, display_order,
		incremental_refresh_enabled, incremental_refresh_failures, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.AnimeID, s.Provider, s.MediaID, s.Favorited, s.DisplayOrder, s.IncrementalRefreshEnabled, s.IncrementalRefreshFailures, s.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("repo: create source: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepo) SetFavoritedSource(ctx context.Context, animeID, sourceID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, `UPDATE anime_source SET favorited = 0 WHERE anime_id = ?`, animeID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE anime_source SET favorited = 1 WHERE id = ? AND anime_id = ?`, sourceID, animeID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepo) RecordSourceOutcome(ctx context.Context, sourceID int64, success bool) error {
	if success {
		_, err := r.db.ExecContext(ctx, `UPDATE anime_source SET incremental_refresh_failures = 0 WHERE id = ?`, sourceID)
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, `UPDATE anime_source SET incremental_refresh_failures = incremental_refresh_failures + 1 WHERE id = ?`, sourceID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE anime_source SET incremental_refresh_enabled = 0 WHERE id = ? AND incremental_refresh_failures >= ?`,
		sourceID, models.MaxIncrementalRefreshFailures); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepo) GetEpisode(ctx context.Context, sourceID int64, index int) (*models.Episode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, source_id, episode_index, title, provider_url, provider_episode_id,
		danmaku_path, comment_count FROM episode WHERE source_id = ? AND episode_index = ?`, sourceID, index)
	return scanEpisode(row)
}

func scanEpisode(row *sql.Row) (*models.Episode, error) {
	var e models.Episode
	var danmaku sql.NullString
	err := row.Scan(&e.ID, &e.SourceID, &e.EpisodeIndex, &e.Title, &e.ProviderURL, &e.ProviderEpisodeID, &danmaku, &e.CommentCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan episode: %w", err)
	}
	if danmaku.Valid {
		v := danmaku.String
		e.DanmakuPath = &v
	}
	return &e, nil
}

func (r *SQLiteRepo) ListEpisodes(ctx context.Context, sourceID int64) ([]models.Episode, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, source_id, episode_index, title, provider_url, provider_episode_id,
		danmaku_path, comment_count FROM episode WHERE source_id = ? ORDER BY episode_index ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("repo: list episodes: %w", err)
	}
	defer rows.Close()

	var out []models.Episode
	for rows.Next() {
		var e models.Episode
		var danmaku sql.NullString
		if err := rows.Scan(&e.ID, &e.SourceID, &e.EpisodeIndex, &e.Title, &e.ProviderURL, &e.ProviderEpisodeID, &danmaku, &e.CommentCount); err != nil {
			return nil, fmt.Errorf("repo: scan episode row: %w", err)
		}
		if danmaku.Valid {
			v := danmaku.String
			e.DanmakuPath = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) UpsertEpisode(ctx context.Context, e *models.Episode) (int64, error) {
	existing, err := r.GetEpisode(ctx, e.SourceID, e.EpisodeIndex)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		_, err := r.db.ExecContext(ctx, `UPDATE episode SET title = ?, provider_url = ?, provider_episode_id = ? WHERE id = ?`,
			e.Title, e.ProviderURL, e.ProviderEpisodeID, existing.ID)
		return existing.ID, err
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO episode (source_id, episode_index, title, provider_url, provider_episode_id, comment_count)
		VALUES (?, ?, ?, ?, ?, 0)`, e.SourceID, e.EpisodeIndex, e.Title, e.ProviderURL, e.ProviderEpisodeID)
	if err != nil {
		return 0, fmt.Errorf("repo: upsert episode: %w", err)
	}
	return res.LastInsertId()
}

// WriteDanmaku records the comment count and file path for an episode in a
// single transaction and returns the number of comments actually stored.
func (r *SQLiteRepo) WriteDanmaku(ctx context.Context, episodeID int64, path string, comments []models.Comment) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE episode SET danmaku_path = ?, comment_count = ? WHERE id = ?`,
		path, len(comments), episodeID); err != nil {
		return 0, fmt.Errorf("repo: write danmaku: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(comments), nil
}

// --- Task history ---

func (r *SQLiteRepo) CreateTask(ctx context.Context, t *models.TaskRecord) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO task_history (id, title, unique_key, status, progress, message,
		task_type, parameters, parent_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.UniqueKey, t.Status, t.Progress, t.Message, t.TaskType, t.Parameters, t.ParentID, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *SQLiteRepo) UpdateTask(ctx context.Context, t *models.TaskRecord) error {
	_, err := r.db.ExecContext(ctx, `UPDATE task_history SET status = ?, progress = ?, message = ?, updated_at = ? WHERE id = ?`,
		t.Status, t.Progress, t.Message, t.UpdatedAt, t.ID)
	return err
}

func (r *SQLiteRepo) GetTask(ctx context.Context, id string) (*models.TaskRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, title, unique_key, status, progress, message, task_type, parameters,
		parent_id, created_at, updated_at FROM task_history WHERE id = ?`, id)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*models.TaskRecord, error) {
	var t models.TaskRecord
	var parentID sql.NullString
	err := row.Scan(&t.ID, &t.Title, &t.UniqueKey, &t.Status, &t.Progress, &t.Message, &t.TaskType, &t.Parameters,
		&parentID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: scan task: %w", err)
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	return &t, nil
}

func (r *SQLiteRepo) FindActiveByUniqueKey(ctx context.Context, uniqueKey string) (*models.TaskRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, title, unique_key, status, progress, message, task_type, parameters,
		parent_id, created_at, updated_at FROM task_history
		WHERE unique_key = ? AND status IN ('pending','running','paused') LIMIT 1`, uniqueKey)
	return scanTask(row)
}

func (r *SQLiteRepo) FindRecentTerminalByUniqueKey(ctx context.Context, uniqueKey string, within time.Duration) (*models.TaskRecord, error) {
	cutoff := time.Now().Add(-within)
	row := r.db.QueryRowContext(ctx, `SELECT id, title, unique_key, status, progress, message, task_type, parameters,
		parent_id, created_at, updated_at FROM task_history
		WHERE unique_key = ? AND status IN ('completed','failed','cancelled') AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`, uniqueKey, cutoff)
	return scanTask(row)
}

func (r *SQLiteRepo) ListTasks(ctx context.Context, statusFilter string, limit, offset int) ([]models.TaskRecord, error) {
	query := `SELECT id, title, unique_key, status, progress, message, task_type, parameters, parent_id, created_at, updated_at
		FROM task_history`
	args := []any{}
	if statusFilter != "" {
		query += ` WHERE status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: list tasks: %w", err)
	}
	defer rows.Close()

	var out []models.TaskRecord
	for rows.Next() {
		var t models.TaskRecord
		var parentID sql.NullString
		if err := rows.Scan(&t.ID, &t.Title, &t.UniqueKey, &t.Status, &t.Progress, &t.Message, &t.TaskType, &t.Parameters,
			&parentID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repo: scan task row: %w", err)
		}
		if parentID.Valid {
			t.ParentID = &parentID.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) ForceFailRunningOrPaused(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE task_history SET status = 'failed', message = 'interrupted by restart', updated_at = ? WHERE status IN ('running','paused')`,
		time.Now())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepo) DeleteTask(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM task_history WHERE id = ?`, id)
	return err
}

// --- Config store ---

func (r *SQLiteRepo) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repo: get config: %w", err)
	}
	return value, true, nil
}

func (r *SQLiteRepo) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (r *SQLiteRepo) RegisterConfigDefault(ctx context.Context, d models.ConfigDescriptor) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, d.Key, d.Default)
	return err
}

// --- Cache ---

func (r *SQLiteRepo) CacheGet(ctx context.Context, key string) (string, bool, error) {
	var payload string
	var expiry time.Time
	err := r.db.QueryRowContext(ctx, `SELECT payload, expiry FROM cache WHERE key = ?`, key).Scan(&payload, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repo: cache get: %w", err)
	}
	if time.Now().After(expiry) {
		return "", false, nil
	}
	return payload, true, nil
}

func (r *SQLiteRepo) CacheSet(ctx context.Context, key, payload string, ttl time.Duration) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO cache (key, payload, expiry) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expiry = excluded.expiry`,
		key, payload, time.Now().Add(ttl))
	return err
}

func (r *SQLiteRepo) CacheGC(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache WHERE expiry < ?`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Rate limit state ---

func (r *SQLiteRepo) RateLimitGet(ctx context.Context, key string) (*models.RateLimitState, error) {
	var s models.RateLimitState
	s.Key = key
	err := r.db.QueryRowContext(ctx, `SELECT request_count, last_reset_time FROM rate_limit_state WHERE key = ?`, key).
		Scan(&s.RequestCount, &s.LastResetTime)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now()
		if _, err := r.db.ExecContext(ctx, `INSERT INTO rate_limit_state (key, request_count, last_reset_time) VALUES (?, 0, ?)`, key, now); err != nil {
			return nil, err
		}
		s.RequestCount = 0
		s.LastResetTime = now
		return &s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: rate limit get: %w", err)
	}
	return &s, nil
}

func (r *SQLiteRepo) RateLimitIncrement(ctx context.Context, key string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO rate_limit_state (key, request_count, last_reset_time) VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET request_count = request_count + 1`, key, now)
	return err
}

func (r *SQLiteRepo) RateLimitResetAll(ctx context.Context, keys []string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rate_limit_state (key, request_count, last_reset_time) VALUES (?, 0, ?)
			ON CONFLICT(key) DO UPDATE SET request_count = 0, last_reset_time = excluded.last_reset_time`, k, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- Webhook queue ---

func (r *SQLiteRepo) EnqueueWebhookJob(ctx context.Context, job string, runAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO webhook_queue (job, run_at, dispatched) VALUES (?, ?, 0)`, job, runAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *SQLiteRepo) DueWebhookJobs(ctx context.Context, now time.Time) ([]models.WebhookQueueRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, job, run_at, dispatched FROM webhook_queue
		WHERE dispatched = 0 AND run_at <= ? ORDER BY run_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("repo: due webhook jobs: %w", err)
	}
	defer rows.Close()

	var out []models.WebhookQueueRow
	for rows.Next() {
		var w models.WebhookQueueRow
		var dispatched int
		if err := rows.Scan(&w.ID, &w.Job, &w.RunAt, &dispatched); err != nil {
			return nil, err
		}
		w.Dispatched = dispatched != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) MarkWebhookJobDispatched(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_queue SET dispatched = 1 WHERE id = ?`, id)
	return err
}

// --- Scheduler bridge ---

func (r *SQLiteRepo) UpsertSchedulerTask(ctx context.Context, t *models.SchedulerTaskRow) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO scheduler_task (id, name, cron_expr, last_run_at, next_run_at, execution_task_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_run_at = excluded.last_run_at, next_run_at = excluded.next_run_at,
			execution_task_id = excluded.execution_task_id`,
		t.ID, t.Name, t.CronExpr, t.LastRunAt, t.NextRunAt, t.ExecutionTaskID)
	return err
}

func (r *SQLiteRepo) GetSchedulerTask(ctx context.Context, id string) (*models.SchedulerTaskRow, error) {
	var t models.SchedulerTaskRow
	var lastRun sql.NullTime
	var execID sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT id, name, cron_expr, last_run_at, next_run_at, execution_task_id
		FROM scheduler_task WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.CronExpr, &lastRun, &t.NextRunAt, &execID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: get scheduler task: %w", err)
	}
	if lastRun.Valid {
		t.LastRunAt = &lastRun.Time
	}
	if execID.Valid {
		t.ExecutionTaskID = &execID.String
	}
	return &t, nil
}

func (r *SQLiteRepo) BindSchedulerExecution(ctx context.Context, schedulerID, executionTaskID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scheduler_task SET execution_task_id = ? WHERE id = ?`, executionTaskID, schedulerID)
	return err
}

// --- External API log ---

func (r *SQLiteRepo) LogExternalAPIAccess(ctx context.Context, row models.ExternalAPILogRow) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO external_api_log (endpoint, api_key_id, status, created_at) VALUES (?, ?, ?, ?)`,
		row.Endpoint, row.APIKeyID, row.Status, row.CreatedAt)
	return err
}
