package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/bottlescout/price-ingest/internal/adapter"
	"github.com/bottlescout/price-ingest/internal/catalog"
	"github.com/bottlescout/price-ingest/internal/config"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/ingest"
	"github.com/bottlescout/price-ingest/internal/logger"
	"github.com/bottlescout/price-ingest/internal/report"
	"github.com/bottlescout/price-ingest/internal/scheduler"
	"github.com/bottlescout/price-ingest/internal/source"
	"github.com/bottlescout/price-ingest/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadIngestConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context canceled on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "ingestd",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("Starting ingestd", zap.Int("chains", len(cfg.Chains)))

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}
	logger.Info("Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize store and adapters
	dataStore := store.NewPGStore(db)
	clock := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	httpClient := adapter.NewHTTPClient(cfg.HTTP.Timeout, adapter.RetryPolicy{
		MaxRetries:      cfg.Retry.MaxRetries,
		InitialInterval: cfg.Retry.InitialBackoff,
		MaxInterval:     cfg.Retry.MaxBackoff,
	})

	// Initialize reporter
	reporter := buildReporter(ctx, cfg, jsonAdapter)
	defer reporter.Close()

	// Build one source per configured chain
	sources, err := buildSources(cfg, httpClient, clock, jsonAdapter)
	if err != nil {
		logger.Fatal("Failed to build chain sources", zap.Error(err))
	}

	// Initialize the pass pipeline
	upserter := catalog.NewUpserter(dataStore, clock)
	tracker := ingest.NewTracker(dataStore, clock)
	driver := ingest.NewDriver(tracker, upserter, clock)
	sched := scheduler.NewScheduler(sources, driver, reporter, clock, cfg.Scheduler)
	defer sched.Close()

	// Run one full pass
	pass, err := sched.RunPass(ctx)
	if err != nil {
		logger.Warn("Pass interrupted", zap.Error(err))
	}
	logger.Info("Pass finished",
		zap.String("report_id", pass.ReportID),
		zap.Int("chains", len(pass.Chains)))

	// Prune old run history
	if cfg.RunRetention > 0 {
		pruneCtx, pruneCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer pruneCancel()
		if pruned, err := tracker.PruneHistory(pruneCtx, cfg.RunRetention); err != nil {
			logger.Error(err)
		} else if pruned > 0 {
			logger.Info("Pruned run history", zap.Int64("runs", pruned))
		}
	}

	logger.Info("ingestd stopped")
}

// buildReporter wires the NATS JetStream reporter, falling back to a no-op
// reporter when no broker URL is configured.
func buildReporter(ctx context.Context, cfg *config.IngestConfig, jsonAdapter adapter.JSON) report.Reporter {
	if cfg.NATS.URL == "" {
		logger.Info("No NATS URL configured, pass reports will not be published")
		return report.NewNoopReporter()
	}

	reporter, err := report.NewJetStreamReporter(ctx, report.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		SubjectPrefix:  cfg.NATS.SubjectPrefix,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
	}, adapter.NewNatsJetStream(), jsonAdapter)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	return reporter
}

// buildSources assembles one source per configured chain. The headless
// browser is created lazily so passes without browser-backed chains never
// launch Chrome.
func buildSources(cfg *config.IngestConfig, httpClient adapter.HTTPClient, clock adapter.Clock, jsonAdapter adapter.JSON) ([]source.Source, error) {
	var browser adapter.Browser
	getBrowser := func() adapter.Browser {
		if browser == nil {
			browser = adapter.NewChromeBrowser(cfg.HTTP.UserAgent, cfg.Browser.Timeout)
		}
		return browser
	}

	sources := make([]source.Source, 0, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		headers := map[string]string{"User-Agent": cfg.HTTP.UserAgent}
		for k, v := range chain.Headers {
			headers[k] = v
		}
		fetcher := source.NewFetcher(httpClient, clock, cfg.RateLimit, headers)
		name := domain.Chain(chain.Name)

		switch chain.Kind {
		case "html":
			sources = append(sources, source.NewHTMLSource(source.HTMLConfig{
				Chain:      name,
				BaseURL:    chain.BaseURL,
				Categories: chain.Categories,
				PageSize:   chain.PageSize,
				MaxPages:   chain.MaxPages,
			}, fetcher, nil))

		case "browser":
			sources = append(sources, source.NewBrowserSource(source.BrowserConfig{
				Chain:      name,
				BaseURL:    chain.BaseURL,
				Categories: chain.Categories,
				PageSize:   chain.PageSize,
				MaxPages:   chain.MaxPages,
			}, getBrowser(), fetcher, nil))

		case "api":
			broker, err := buildBroker(chain, httpClient, jsonAdapter, getBrowser, cfg.Browser.CookieSettle)
			if err != nil {
				return nil, err
			}
			sources = append(sources, source.NewAPISource(source.APIConfig{
				Chain:    name,
				BaseURL:  chain.BaseURL,
				PageSize: chain.PageSize,
				MaxPages: chain.MaxPages,
			}, fetcher, broker))

		default:
			return nil, fmt.Errorf("chain %q: unknown source kind %q", chain.Name, chain.Kind)
		}
	}

	return sources, nil
}

// buildBroker wires the credential lifecycle for one authenticated chain
func buildBroker(chain config.ChainConfig, httpClient adapter.HTTPClient, jsonAdapter adapter.JSON, getBrowser func() adapter.Browser, cookieSettle time.Duration) (*source.CredentialBroker, error) {
	var direct, capture source.AcquireFunc
	var probe source.ProbeFunc

	if chain.TokenURL != "" {
		form := url.Values{}
		form.Set("api_key", chain.APIKey)
		form.Set("api_secret", chain.APISecret)
		direct = source.TokenEndpointAcquire(httpClient, jsonAdapter, chain.TokenURL, form)
	}
	if chain.LoginURL != "" {
		capture = source.BrowserCaptureAcquire(getBrowser(), chain.LoginURL, cookieSettle)
	}
	if direct == nil && capture == nil {
		return nil, fmt.Errorf("chain %q: no credential acquisition path configured", chain.Name)
	}
	if chain.ProbePath != "" {
		probe = source.ProbeEndpoint(httpClient, chain.BaseURL+chain.ProbePath)
	}

	return source.NewCredentialBroker(domain.Chain(chain.Name), direct, capture, probe), nil
}
