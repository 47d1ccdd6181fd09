// Package app wires the application together: storage, registry, queue,
// cipher, scrapers, worker pool, janitor, and the HTTP handlers.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/credbridge/internal/common"
	"github.com/ternarybob/credbridge/internal/crypto"
	"github.com/ternarybob/credbridge/internal/handlers"
	"github.com/ternarybob/credbridge/internal/models"
	"github.com/ternarybob/credbridge/internal/queue"
	"github.com/ternarybob/credbridge/internal/registry"
	"github.com/ternarybob/credbridge/internal/scraper"
	"github.com/ternarybob/credbridge/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	store    *badgerhold.Store
	Registry *registry.Registry
	Queue    *queue.Manager
	Cipher   *crypto.Cipher
	Scrapers *scraper.Registry

	WorkerPool *queue.WorkerPool
	Emitter    worker.Emitter
	Janitor    *registry.Janitor

	// HTTP handlers
	SessionHandler *handlers.SessionHandler
	WidgetHandler  *handlers.WidgetHandler
	WSHandler      *handlers.WebSocketHandler
	APIHandler     *handlers.APIHandler
}

// New builds the application from configuration. A missing or malformed
// encryption key is fatal here: the process refuses to start with no
// secrecy rather than degrade.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{Config: config, Logger: logger}

	cipher, err := crypto.NewCipher(config.Worker.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("refusing to start: %w", err)
	}
	a.Cipher = cipher

	store, err := openStore(config, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.Registry = registry.New(registry.NewBadgerStore(store, logger), logger)

	manager, err := queue.NewManager(
		store.Badger(),
		config.Queue.QueueName,
		common.Duration(config.Queue.VisibilityTimeout, 0),
		config.Queue.MaxReceive,
		logger,
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	a.Queue = manager

	a.Emitter = worker.NewHTTPEmitter(
		config.CallbackBaseURL(),
		config.Worker.CallbackKey,
		config.Worker.EmitRetries,
		common.Duration(config.Worker.EmitBackoff, 0),
		logger,
	)

	// A delivery that exhausts its receives means the worker crashed on it
	// repeatedly; fail the session instead of leaving it in "started".
	manager.OnDeadLetter(func(job models.Job, receiveCount int) {
		data, _ := json.Marshal(models.ErrorData{
			Reason:  models.ErrorWorkerFailed,
			Message: fmt.Sprintf("job abandoned after %d deliveries", receiveCount),
		})
		if _, err := a.Registry.Append(context.Background(), job.SessionID, models.EventError, data); err != nil {
			logger.Warn().Err(err).Str("session_id", job.SessionID).Msg("Dead-letter event rejected")
		}
	})

	a.Scrapers = scraper.NewRegistry()
	browserCfg := browserConfig(config)
	a.Scrapers.Register(scraper.NewExperian(browserCfg, logger))
	a.Scrapers.Register(scraper.NewCreditKarma(browserCfg, logger))

	runtime := worker.NewRuntime(
		cipher,
		a.Scrapers,
		a.Emitter,
		common.Duration(config.Worker.JobTimeout, 0),
		logger,
	)
	a.WorkerPool = queue.NewWorkerPool(
		manager,
		runtime.Handle,
		config.Queue.Concurrency,
		common.Duration(config.Queue.PollInterval, 0),
		logger,
	)

	if config.Janitor.Enabled {
		a.Janitor = registry.NewJanitor(a.Registry, common.Duration(config.Janitor.StaleAfter, 0), logger)
	}

	a.SessionHandler = handlers.NewSessionHandler(a.Registry, config, logger)
	a.WidgetHandler = handlers.NewWidgetHandler(a.Registry, cipher, manager, config, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Registry, config, logger)
	a.APIHandler = handlers.NewAPIHandler(a.Scrapers.Providers(), logger)

	logger.Info().
		Int("providers", len(a.Scrapers.Providers())).
		Int("concurrency", config.Queue.Concurrency).
		Msg("Application wired")

	return a, nil
}

// Start launches the background components: worker pool and janitor.
func (a *App) Start() error {
	a.WorkerPool.Start()
	if a.Janitor != nil {
		if err := a.Janitor.Start(a.Config.Janitor.Schedule); err != nil {
			return fmt.Errorf("failed to start janitor: %w", err)
		}
	}
	return nil
}

// Shutdown stops background work and closes storage.
func (a *App) Shutdown() {
	a.WorkerPool.Stop()
	if a.Janitor != nil {
		a.Janitor.Stop()
	}
	if err := a.store.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close storage")
	}
	a.Logger.Info().Msg("Application stopped")
}

func openStore(config *common.Config, logger arbor.ILogger) (*badgerhold.Store, error) {
	badgerCfg := config.Storage.Badger

	if badgerCfg.ResetOnStartup && !badgerCfg.InMemory && badgerCfg.Path != "" {
		if err := os.RemoveAll(badgerCfg.Path); err != nil {
			return nil, fmt.Errorf("failed to reset database: %w", err)
		}
		logger.Info().Str("path", badgerCfg.Path).Msg("Database reset on startup")
	}

	options := badgerhold.DefaultOptions
	options.Dir = badgerCfg.Path
	options.ValueDir = badgerCfg.Path
	options.InMemory = badgerCfg.InMemory
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().
		Str("path", badgerCfg.Path).
		Bool("in_memory", badgerCfg.InMemory).
		Msg("Badger database initialized")

	return store, nil
}

func browserConfig(config *common.Config) scraper.BrowserConfig {
	return scraper.BrowserConfig{
		Headless:          config.Scraper.Headless,
		NoSandbox:         config.Scraper.NoSandbox,
		DisableGPU:        config.Scraper.DisableGPU,
		UserAgent:         config.Scraper.UserAgent,
		Timeout:           common.Duration(config.Worker.JobTimeout, 4*time.Minute),
		ProbeTimeout:      common.Duration(config.Scraper.ProbeTimeout, 8*time.Second),
		OtpProbeTimeout:   common.Duration(config.Scraper.OtpProbeTimeout, 15*time.Second),
		NavigationTimeout: common.Duration(config.Scraper.NavigationTimeout, 30*time.Second),
		SettleTime:        common.Duration(config.Scraper.SettleTime, 3*time.Second),
	}
}
