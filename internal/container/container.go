package container

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"alphabias/adapters/excel"
	"alphabias/adapters/filestore"
	"alphabias/adapters/plot"
	"alphabias/adapters/postgres"
	"alphabias/app"
	"alphabias/internal"
	"alphabias/internal/api"
	"alphabias/internal/config"
	"alphabias/internal/fit"
	"alphabias/internal/metrics"
	"alphabias/internal/migration"
	"alphabias/internal/study"
	"alphabias/internal/testkit"
	"alphabias/ports"
)

// Version is stamped into every study manifest.
var Version = "dev"

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	Channels config.ChannelOverrides
	Repo     ports.StudyRepository
	Samples  ports.SampleSource
	RNG      ports.RNGPort
	Metrics  *metrics.StudyMetrics
	SSEHub   *api.SSEHub

	Service *app.StudyService
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logger := internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
	return &Container{Config: cfg, Logger: logger}, nil
}

// Init builds every component. The postgres repository is used when a database
// URL is configured, the JSON file store otherwise.
func (c *Container) Init(ctx context.Context) error {
	if err := c.initChannels(); err != nil {
		return fmt.Errorf("failed to load channel overrides: %w", err)
	}
	if err := c.initRepository(ctx); err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	if err := c.initSamples(); err != nil {
		return fmt.Errorf("failed to initialize sample source: %w", err)
	}
	c.initService()
	return nil
}

func (c *Container) initChannels() error {
	if c.Config.Paths.ChannelsFile == "" {
		c.Channels = config.ChannelOverrides{}
		return nil
	}
	ov, err := config.LoadChannelOverrides(c.Config.Paths.ChannelsFile)
	if err != nil {
		return err
	}
	c.Channels = ov
	log.Printf("Loaded overrides for %d channels from %s", len(ov), c.Config.Paths.ChannelsFile)
	return nil
}

func (c *Container) initRepository(ctx context.Context) error {
	if c.Config.Database.URL == "" {
		store := filestore.NewStudyStore(filepath.Join(c.Config.Paths.OutputDir, "studies"))
		if err := store.EnsureBaseDir(); err != nil {
			return err
		}
		c.Repo = store
		return nil
	}

	db, err := OpenDatabase(ctx, c.Config.Database.URL)
	if err != nil {
		return err
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return err
	}
	c.DB = db
	c.Repo = postgres.NewStudyRepository(db)
	return nil
}

// OpenDatabase connects and pings the database
func OpenDatabase(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection test failed: %w", err)
	}
	return db, nil
}

func (c *Container) initSamples() error {
	kit, err := testkit.NewTestKit()
	if err != nil {
		return err
	}
	c.RNG = kit.RNGAdapter()
	if dir := c.Config.Paths.SamplesDir; dir != "" {
		log.Printf("Using sample directory: %s", dir)
		c.Samples = excel.NewDirectorySource(dir)
		return nil
	}
	log.Printf("No sample directory configured, using synthetic samples")
	c.Samples = kit.SampleSource()
	return nil
}

func (c *Container) initService() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.New(reg)
	c.SSEHub = api.NewSSEHub()

	sc := c.Config.Study
	studyCfg := study.DefaultConfig()
	studyCfg.Trials = sc.Trials
	studyCfg.Seed = sc.Seed
	studyCfg.Workers = sc.Workers
	studyCfg.RetainDiagnostics = sc.RetainPlots
	studyCfg.Strategy = fit.Strategy(sc.Strategy)
	studyCfg.NormalizeToGenerated = sc.NormalizeToGenerated

	out := c.Config.Paths.OutputDir
	format := c.Config.Paths.PlotFormat
	sinks := func(channel string) ports.PlotSink {
		if format == "none" {
			return plot.NopSink{}
		}
		return plot.NewFileSink(filepath.Join(out, channel), format)
	}

	c.Service = app.NewStudyService(c.Samples, c.Repo, c.RNG, c.Channels, sinks, app.StudyOptions{
		Study:       studyCfg,
		MCScale:     sc.MCScale,
		Extrapolate: sc.Extrapolate,
		OutputDir:   out,
		CodeVersion: Version,
	}, c.Logger).
		WithObserver(c.Metrics).
		WithObserver(api.NewTrialBroadcaster(c.SSEHub, studyCfg.Trials)).
		WithRecorder(c.Metrics)
}

// Router returns the HTTP API over the container's components.
func (c *Container) Router() http.Handler {
	return api.NewRouter(api.NewStudyHandler(c.Repo, c.Service), c.SSEHub, c.Metrics.Handler())
}

// Shutdown waits for launched studies and releases resources
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Service != nil {
		c.Service.Wait()
	}
	if c.SSEHub != nil {
		c.SSEHub.Close()
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
