package api

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/danmuhub/internal/aimatcher"
	"github.com/tomtom215/danmuhub/internal/configstore"
	"github.com/tomtom215/danmuhub/internal/importengine"
	"github.com/tomtom215/danmuhub/internal/metadata"
	"github.com/tomtom215/danmuhub/internal/metrics"
	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/ratelimit"
	"github.com/tomtom215/danmuhub/internal/recognizer"
	"github.com/tomtom215/danmuhub/internal/repo"
	"github.com/tomtom215/danmuhub/internal/scraper"
	"github.com/tomtom215/danmuhub/internal/searchpipeline"
	"github.com/tomtom215/danmuhub/internal/taskmanager"
	"github.com/tomtom215/danmuhub/internal/webhook"
)

// searchSessionTTL bounds how long a GET /search result stays addressable
// by searchId for a follow-up GET /episodes or POST /import/direct call.
const searchSessionTTL = 15 * time.Minute

// AIOptions carries the optional AI tie-break wiring the auto-import
// policy uses when the operator has configured a matcher.
type AIOptions struct {
	Manager *aimatcher.Manager
	Config  *aimatcher.Config
	Prompts aimatcher.Prompts
}

// Server bundles every collaborator the control API's handlers call into.
type Server struct {
	repo        repo.Repo
	metrics     *metrics.Registry
	log         zerolog.Logger
	tasks       *taskmanager.Manager
	engine      *importengine.Engine
	pipeline    *searchpipeline.Pipeline
	scrapers    *scraper.Registry
	limiter     *ratelimit.Limiter
	metadataReg *metadata.Registry
	recognizer  *recognizer.Recognizer
	ai          AIOptions
	configStore *configstore.Store
	descriptors []models.ConfigDescriptor
	dispatcher  *webhook.Dispatcher
}

// Config bundles Server's constructor arguments.
type Config struct {
	Repo        repo.Repo
	Metrics     *metrics.Registry
	Log         zerolog.Logger
	Tasks       *taskmanager.Manager
	Engine      *importengine.Engine
	Pipeline    *searchpipeline.Pipeline
	Scrapers    *scraper.Registry
	Limiter     *ratelimit.Limiter
	MetadataReg *metadata.Registry
	Recognizer  *recognizer.Recognizer
	AI          AIOptions
	ConfigStore *configstore.Store
	Descriptors []models.ConfigDescriptor
	Dispatcher  *webhook.Dispatcher
}

// New builds a Server from its collaborators.
func New(cfg Config) *Server {
	return &Server{
		repo: cfg.Repo, metrics: cfg.Metrics, log: cfg.Log.With().Str("component", "api").Logger(),
		tasks: cfg.Tasks, engine: cfg.Engine, pipeline: cfg.Pipeline, scrapers: cfg.Scrapers,
		limiter: cfg.Limiter, metadataReg: cfg.MetadataReg, recognizer: cfg.Recognizer, ai: cfg.AI,
		configStore: cfg.ConfigStore, descriptors: cfg.Descriptors, dispatcher: cfg.Dispatcher,
	}
}
