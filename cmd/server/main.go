// Command server is the danmuhub control process: it loads configuration,
// opens the database, wires every collaborator (scrapers, metadata
// adapters, the search pipeline, the import engine, the webhook
// dispatcher, the cron scheduler, and the control API), and runs the HTTP
// server and scheduler under a suture supervisor tree until terminated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tomtom215/danmuhub/internal/aimatcher"
	"github.com/tomtom215/danmuhub/internal/api"
	"github.com/tomtom215/danmuhub/internal/config"
	"github.com/tomtom215/danmuhub/internal/configstore"
	"github.com/tomtom215/danmuhub/internal/images"
	"github.com/tomtom215/danmuhub/internal/importengine"
	"github.com/tomtom215/danmuhub/internal/logging"
	"github.com/tomtom215/danmuhub/internal/metadata"
	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/middleware"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/ratelimit"
	"github.com/tomtom215/danmuhub/internal/recognizer"
	"github.com/tomtom215/danmuhub/internal/repo"
	"github.com/tomtom215/danmuhub/internal/scheduler"
	"github.com/tomtom215/danmuhub/internal/scraper"
	"github.com/tomtom215/danmuhub/internal/searchpipeline"
	"github.com/tomtom215/danmuhub/internal/supervisor"
	"github.com/tomtom215/danmuhub/internal/taskmanager"
	"github.com/tomtom215/danmuhub/internal/webhook"
)

// configDescriptors lists every operator-editable ConfigStore key, with
// the defaults RegisterConfigDefault seeds on first boot.
var configDescriptors = []models.ConfigDescriptor{
	{Key: "ai.enabled", Kind: "boolean", Default: "false", Description: "enable AI tie-break matching for auto-import and name conversion"},
	{Key: "ai.provider", Kind: "string", Default: "openai-compatible", Description: "AI provider identifier"},
	{Key: "ai.base_url", Kind: "string", Default: "", Description: "AI provider base URL"},
	{Key: "ai.api_key", Kind: "string", Default: "", Description: "AI provider API key"},
	{Key: "ai.model", Kind: "string", Default: "", Description: "AI model name"},
	{Key: "ai.prompt.select_best_match", Kind: "text", Default: "", Description: "prompt template for ranking auto-import search candidates"},
	{Key: "ai.prompt.select_metadata_result", Kind: "text", Default: "", Description: "prompt template for ranking metadata lookup results"},
	{Key: "ai.prompt.name_conversion", Kind: "text", Default: "", Description: "prompt template for converting a title to its canonical Chinese form"},
	{Key: "name_conversion.enabled", Kind: "boolean", Default: "false", Description: "enable stage-3 title name conversion in search"},
	{Key: "webhook.filter_pattern", Kind: "string", Default: "", Description: "regex applied to webhook job titles"},
	{Key: "webhook.filter_mode", Kind: "string", Default: "blacklist", Description: "blacklist or whitelist for webhook.filter_pattern"},
	{Key: "webhook.delayed_enabled", Kind: "boolean", Default: "false", Description: "queue webhook jobs for delayed dispatch instead of running them immediately"},
	{Key: "webhook.delayed_hours", Kind: "string", Default: "0", Description: "hours to delay dispatch when webhook.delayed_enabled is true"},
	{Key: "scheduler.refresh_full_cron", Kind: "string", Default: "0 3 * * *", Description: "cron expression for the full refresh sweep"},
	{Key: "scheduler.refresh_incremental_cron", Kind: "string", Default: "0 * * * *", Description: "cron expression for the incremental refresh sweep"},
	{Key: "scheduler.webhook_drain_cron", Kind: "string", Default: "*/5 * * * *", Description: "cron expression for draining the delayed webhook queue"},
	{Key: "scheduler.cache_gc_cron", Kind: "string", Default: "0 */6 * * *", Description: "cron expression for expired search-cache cleanup"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config: load:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Info().Str("listen_addr", cfg.ListenAddr).Str("database_dsn", cfg.DatabaseDSN).Msg("starting danmuhub")

	repository, err := repo.OpenSQLite(cfg.DatabaseDSN, repo.DefaultSQLiteConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer func() {
		if err := repository.Close(); err != nil {
			log.Error().Err(err).Msg("error closing database")
		}
	}()

	metricsReg := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configStore := configstore.New(repository)
	if err := configStore.RegisterDefaults(ctx, configDescriptors); err != nil {
		log.Fatal().Err(err).Msg("failed to register config defaults")
	}

	scraperReg := scraper.NewRegistry()
	metadataReg := metadata.NewRegistry()
	rec := recognizer.New(log)
	aiManager := aimatcher.NewManager(log)

	aiConfig, aiPrompts, aiEnabled := loadAIConfig(ctx, configStore, cfg)
	nameConversion := loadNameConversionConfig(ctx, configStore, aiConfig, aiPrompts, aiEnabled)

	limiter := ratelimit.New(repository, metricsReg, log, cfg.PolicyDir, func(string) *int { return nil })

	imageDir := cfg.DataDir + "/images"
	imageDownloader := images.New(imageDir)
	defer imageDownloader.Close()

	engine := importengine.New(repository, scraperReg, limiter, rec, imageDownloader, metricsReg, log)
	pipeline := searchpipeline.New(repository, rec, metadataReg, scraperReg, limiter, aiManager, metricsReg, log, nameConversion)
	tasks := taskmanager.New(repository, metricsReg, log, taskmanager.DefaultDuplicateThreshold)

	var ai api.AIOptions
	if aiEnabled {
		ai = api.AIOptions{Manager: aiManager, Config: &aiConfig, Prompts: aiPrompts}
	}

	submitWebhookJob := func(ctx context.Context, job models.WebhookJob) error {
		req := autoRequestFromWebhookJob(job)
		_, err := tasks.Submit(ctx, "webhook import: "+job.Title, "", "import_webhook", "", func(taskCtx context.Context, ctl *taskmanager.Control) error {
			_, err := engine.RunAuto(taskCtx, ctl, importengine.AutoCollaborators{
				Pipeline: pipeline, MetadataReg: metadataReg, Recognizer: rec,
				AIManager: ai.Manager, AIConfig: ai.Config, AIPrompts: ai.Prompts,
			}, req)
			return err
		})
		return err
	}

	webhookCfg := loadWebhookConfig(ctx, configStore)
	dispatcher, err := webhook.New(repository, metricsReg, log, webhookCfg, submitWebhookJob)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build webhook dispatcher")
	}

	jobs := []scheduler.Job{
		scheduler.NewWebhookDrainJob(mustGet(ctx, configStore, "scheduler.webhook_drain_cron"), repository, tasks, submitWebhookJob),
		scheduler.NewCacheGCJob(mustGet(ctx, configStore, "scheduler.cache_gc_cron"), repository, tasks),
		scheduler.NewRefreshJob("refresh-full", mustGet(ctx, configStore, "scheduler.refresh_full_cron"), false, repository, tasks, engine),
		scheduler.NewRefreshJob("refresh-incremental", mustGet(ctx, configStore, "scheduler.refresh_incremental_cron"), true, repository, tasks, engine),
	}
	sched := scheduler.New(repository, metricsReg, log, scheduler.DefaultCheckInterval, jobs)

	auth := middleware.NewAPIKeyAuth(cfg.APIKey, repository, log)
	server := api.New(api.Config{
		Repo: repository, Metrics: metricsReg, Log: log, Tasks: tasks, Engine: engine,
		Pipeline: pipeline, Scrapers: scraperReg, Limiter: limiter, MetadataReg: metadataReg,
		Recognizer: rec, AI: ai, ConfigStore: configStore, Descriptors: configDescriptors,
		Dispatcher: dispatcher,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(auth),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slogLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	tree := supervisor.NewTree(slogLogger, supervisor.DefaultTreeConfig())
	tree.AddCoreService(supervisor.NewStartService("task-manager", tasks))
	tree.AddCoreService(sched)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil {
			log.Error().Err(err).Msg("supervisor tree error")
		}
	}
	log.Info().Msg("danmuhub stopped")
}

func autoRequestFromWebhookJob(job models.WebhookJob) importengine.AutoRequest {
	req := importengine.AutoRequest{
		SearchTerm: job.Title,
		MediaType:  job.MediaType,
		Season:     intPtr(job.Season),
		Episode:    job.EpisodeIndex,
	}
	if job.IsFullSeason {
		req.Episode = nil
	}
	for _, kind := range []models.MetadataIDKind{models.MetadataTMDB, models.MetadataTVDB, models.MetadataBangumi, models.MetadataDouban, models.MetadataIMDB} {
		if id, ok := job.IDs[kind]; ok && id != "" {
			req.SearchType = string(kind)
			req.SearchTerm = id
			break
		}
	}
	return req
}

func intPtr(v int) *int { return &v }

func mustGet(ctx context.Context, store *configstore.Store, key string) string {
	for _, d := range configDescriptors {
		if d.Key == key {
			v, err := store.Get(ctx, key, d.Default)
			if err != nil {
				return d.Default
			}
			return v
		}
	}
	return ""
}

func loadAIConfig(ctx context.Context, store *configstore.Store, cfg *config.Config) (aimatcher.Config, aimatcher.Prompts, bool) {
	enabled := mustGet(ctx, store, "ai.enabled") == "true"
	aiCfg := aimatcher.Config{
		Provider: mustGet(ctx, store, "ai.provider"),
		BaseURL:  mustGet(ctx, store, "ai.base_url"),
		APIKey:   mustGet(ctx, store, "ai.api_key"),
		Model:    mustGet(ctx, store, "ai.model"),
		Timeout:  cfg.AITimeout,
	}
	prompts := aimatcher.Prompts{
		SelectBestMatch:      mustGet(ctx, store, "ai.prompt.select_best_match"),
		SelectMetadataResult: mustGet(ctx, store, "ai.prompt.select_metadata_result"),
		NameConversion:       mustGet(ctx, store, "ai.prompt.name_conversion"),
	}
	return aiCfg, prompts, enabled
}

func loadNameConversionConfig(ctx context.Context, store *configstore.Store, aiCfg aimatcher.Config, prompts aimatcher.Prompts, aiEnabled bool) searchpipeline.NameConversionConfig {
	nc := searchpipeline.NameConversionConfig{
		Enabled: mustGet(ctx, store, "name_conversion.enabled") == "true",
		MetadataPriority: []models.MetadataIDKind{
			models.MetadataTMDB, models.MetadataBangumi, models.MetadataTVDB, models.MetadataDouban, models.MetadataIMDB,
		},
		AIPrompts: prompts,
	}
	if aiEnabled {
		nc.AIConfig = &aiCfg
	}
	return nc
}

func loadWebhookConfig(ctx context.Context, store *configstore.Store) webhook.Config {
	hours, _ := strconv.ParseFloat(mustGet(ctx, store, "webhook.delayed_hours"), 64)
	mode := webhook.FilterBlacklist
	if mustGet(ctx, store, "webhook.filter_mode") == "whitelist" {
		mode = webhook.FilterWhitelist
	}
	return webhook.Config{
		FilterPattern:  mustGet(ctx, store, "webhook.filter_pattern"),
		FilterMode:     mode,
		DelayedEnabled: mustGet(ctx, store, "webhook.delayed_enabled") == "true",
		DelayedHours:   hours,
	}
}
