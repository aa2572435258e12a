package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alabenkhlifa/automobile-tn-scrapper/config"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/cache"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/gate"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/httpclient"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/markup"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/metrics"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/profile"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/render"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/sink"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/infrastructure/storage"
	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/usecase"
)

// App is the wired crawler: every collaborator built from one Config
type App struct {
	Config       *config.Config
	Log          *logrus.Logger
	Metrics      *metrics.Registry
	Profiles     *profile.Registry
	Orchestrator *usecase.Orchestrator
	Crawls       *usecase.CrawlService
	// History is nil when history tracking is disabled
	History *usecase.HistoryService

	snapshots *storage.SnapshotStore
	sinks     *sink.Multi
	cache     *cache.MemoryCache
	browser   *render.Browser
}

// NewApp builds the crawler from cfg. Close releases what it opened.
func NewApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	app := &App{
		Config:   cfg,
		Log:      log,
		Metrics:  metrics.NewRegistry(),
		Profiles: profile.NewRegistry(cfg.Profiles.Dir),
		cache:    cache.NewMemoryCache(10 * time.Minute),
	}
	if err := app.build(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	transport, err := a.transport(ctx)
	if err != nil {
		return err
	}
	fetchGate := gate.New(transport, gateConfig(cfg.Gate),
		gate.WithLogger(a.Log),
		gate.WithRecorder(a.Metrics),
	)

	parser := markup.NewParser()
	extractor := usecase.NewCardExtractor(parser)
	enumerator, err := usecase.NewEnumerator(cfg.Crawl.Strategy, extractor, parser, a.cache, enumeratorConfig(cfg), a.Log)
	if err != nil {
		return err
	}
	merger := usecase.NewDetailMerger(parser, cfg.Crawl.DetailWorkers, a.Log)
	cleaner := usecase.NewCleaningPipeline(cleaningConfig(cfg.Cleaning), time.Now, a.Metrics, a.Log)

	a.sinks, err = sink.New(ctx, sink.Config{
		Sinks:       cfg.Output.Sinks,
		Dir:         cfg.Output.Dir,
		SQLitePath:  cfg.Output.SQLitePath,
		PostgresDSN: cfg.Output.PostgresDSN,
		RabbitMQ: sink.RabbitMQConfig{
			URL:        cfg.Output.RabbitMQURL,
			Exchange:   cfg.Output.RabbitMQExchange,
			RoutingKey: cfg.Output.RabbitMQRoutingKey,
		},
		KafkaBrokers: cfg.Output.KafkaBrokers,
		KafkaTopic:   cfg.Output.KafkaTopic,
	}, a.Log)
	if err != nil {
		return fmt.Errorf("open sinks: %w", err)
	}

	if cfg.History.Enabled {
		a.snapshots, err = storage.OpenSnapshotStore(cfg.History.SnapshotDir)
		if err != nil {
			return err
		}
		a.History = usecase.NewHistoryService(a.snapshots, storage.NewHistoryFile(cfg.History.File), nil, a.Log)
	}

	a.Orchestrator = usecase.NewOrchestrator(fetchGate, a.Profiles, enumerator, merger, cleaner, a.sinks,
		usecase.OrchestratorConfig{DetailPages: cfg.Crawl.DetailPages}, a.Log)
	a.Crawls = usecase.NewCrawlService(a.Orchestrator, a.Profiles, a.cache, a.History,
		usecase.CrawlServiceConfig{DefaultPartitions: cfg.Crawl.Partitions, RunTTL: cfg.Cache.TTL}, a.Log)
	return nil
}

func (a *App) transport(ctx context.Context) (domain.Transport, error) {
	if !a.Config.Render.Enabled {
		return httpclient.NewClient(a.Config.Gate.RequestTimeout, a.Log), nil
	}
	browser, err := render.New(ctx, render.Options{
		ControlURL:  a.Config.Render.ControlURL,
		PageTimeout: a.Config.Render.PageTimeout,
	}, a.Log)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	a.browser = browser
	return browser, nil
}

// TrackedPartitions lists the partitions with a stored snapshot
func (a *App) TrackedPartitions() ([]string, error) {
	if a.snapshots == nil {
		return nil, nil
	}
	return a.snapshots.Partitions()
}

// Close waits for background runs and releases every opened collaborator
func (a *App) Close() error {
	if a.Crawls != nil {
		a.Crawls.Wait()
	}
	var errs []error
	if a.sinks != nil {
		errs = append(errs, a.sinks.Close())
	}
	if a.snapshots != nil {
		errs = append(errs, a.snapshots.Close())
	}
	if a.browser != nil {
		errs = append(errs, a.browser.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	return errors.Join(errs...)
}

func gateConfig(c config.GateConfig) gate.Config {
	agents := c.UserAgents
	if len(agents) == 0 {
		agents = gate.DefaultUserAgents
	}
	return gate.Config{
		MaxConcurrent:    c.MaxConcurrent,
		BaseDelay:        c.BaseDelay,
		MaxDelay:         c.MaxDelay,
		MaxJitter:        c.MaxJitter,
		MaxRetries:       c.MaxRetries,
		BackoffUnit:      c.BackoffUnit,
		BlockBackoffBase: c.BlockBackoffBase,
		ErrorBackoffBase: c.ErrorBackoffBase,
		SpeedupFactor:    c.SpeedupFactor,
		SlowdownFactor:   c.SlowdownFactor,
		GlobalRPS:        c.GlobalRPS,
		UserAgents:       agents,
	}
}

func enumeratorConfig(cfg *config.Config) usecase.EnumeratorConfig {
	return usecase.EnumeratorConfig{
		Makes:        cfg.Crawl.Makes,
		MaxListings:  cfg.Crawl.MaxListings,
		MaxPages:     cfg.Crawl.MaxPages,
		PerPairLimit: cfg.Crawl.PerPairLimit,
		Condition:    cfg.Crawl.Condition,
		MinPrice:     cfg.Crawl.MinPrice,
		MaxPrice:     cfg.Crawl.MaxPrice,
		CatalogTTL:   cfg.Cache.TTL,
	}
}

func cleaningConfig(c config.CleaningConfig) usecase.CleaningConfig {
	out := usecase.DefaultCleaningConfig()
	out.AllowedFuelTypes = c.AllowedFuelTypes
	out.PriceFloor = c.PriceFloor
	out.NewMileageThreshold = c.NewMileageThreshold
	out.SuspiciousAgeYears = c.SuspiciousAgeYears
	out.SuspiciousMileage = c.SuspiciousMileage
	if len(c.RequiredFields) > 0 {
		out.RequiredFields = make([]domain.Field, len(c.RequiredFields))
		for i, f := range c.RequiredFields {
			out.RequiredFields[i] = domain.Field(f)
		}
	}
	return out
}
