package core

import (
	"fmt"
	"log"
	"os"

	"github.com/vrsandeep/feedsub-go/internal/auth"
	"github.com/vrsandeep/feedsub-go/internal/config"
	"github.com/vrsandeep/feedsub-go/internal/delivery"
	"github.com/vrsandeep/feedsub-go/internal/fetch"
	"github.com/vrsandeep/feedsub-go/internal/jobs"
	"github.com/vrsandeep/feedsub-go/internal/linkfix"
	"github.com/vrsandeep/feedsub-go/internal/metrics"
	"github.com/vrsandeep/feedsub-go/internal/models"
	"github.com/vrsandeep/feedsub-go/internal/subscription"
	"github.com/vrsandeep/feedsub-go/internal/websocket"
)

// Version is the server release version reported by the API.
const Version = "1.0.0"

// App holds the core components of the application that are shared
// between the server and the background jobs.
type App struct {
	config     *config.Config
	wsHub      *websocket.Hub
	jobManager *jobs.JobManager
	tool       *fetch.ToolManager
	subs       *subscription.Manager
	trustList  *auth.TrustList
	linkFixer  *linkfix.Fixer
	metrics    *metrics.InMemory
}

// New sets up and returns a new App instance. It handles loading the
// configuration, preparing the storage directory, and wiring the fetch tool,
// the subscription manager and the background job manager together.
func New() (*App, error) {
	// Load configuration from config.yml
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.Store.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	fixer, err := linkfix.Load(cfg.LinkRules.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load link rules: %w", err)
	}

	trustList, err := auth.NewTrustList(cfg.Auth.TrustListPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load trust list: %w", err)
	}

	tool := fetch.NewToolManager(cfg.Tool.ConfigPath, cfg.Store.Path,
		cfg.Fetch.IdleTimeout, cfg.Fetch.MaxRuntime)

	sink := metrics.NewInMemory()
	subs, err := subscription.NewManager(cfg, tool, delivery.LogClient{}, fixer, sink)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription state: %w", err)
	}

	hub := websocket.NewHub()
	go hub.Run()

	// Fetch progress is streamed to any connected websocket client.
	subs.SetNotify(func(update models.ProgressUpdate) {
		hub.BroadcastJSON(update)
	})

	app := &App{
		config:    cfg,
		wsHub:     hub,
		tool:      tool,
		subs:      subs,
		trustList: trustList,
		linkFixer: fixer,
		metrics:   sink,
	}
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterAll(app.jobManager)

	log.Println("Core application setup complete.")
	return app, nil
}

// NewFromComponents assembles an App from pre-built components. Tests use
// it to substitute fakes for the fetch tool and the delivery client.
func NewFromComponents(cfg *config.Config, hub *websocket.Hub, tool *fetch.ToolManager,
	subs *subscription.Manager, trustList *auth.TrustList, fixer *linkfix.Fixer,
	sink *metrics.InMemory) *App {
	app := &App{
		config:    cfg,
		wsHub:     hub,
		tool:      tool,
		subs:      subs,
		trustList: trustList,
		linkFixer: fixer,
		metrics:   sink,
	}
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterAll(app.jobManager)
	return app
}

// Close gracefully stops the application's background components.
func (a *App) Close() {
	if a.subs != nil {
		a.subs.Stop()
	}
	if a.trustList != nil {
		a.trustList.Stop()
	}
}

func (a *App) Config() *config.Config       { return a.config }
func (a *App) WsHub() *websocket.Hub        { return a.wsHub }
func (a *App) JobManager() *jobs.JobManager { return a.jobManager }
func (a *App) Tool() *fetch.ToolManager     { return a.tool }
func (a *App) Subs() *subscription.Manager  { return a.subs }
func (a *App) TrustList() *auth.TrustList   { return a.trustList }
func (a *App) LinkFixer() *linkfix.Fixer    { return a.linkFixer }
func (a *App) Metrics() *metrics.InMemory   { return a.metrics }
