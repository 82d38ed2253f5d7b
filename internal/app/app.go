// Package app wires the auditor together and exposes it as a CLI.
package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stream-auditor/internal/auth"
	"stream-auditor/internal/batch"
	"stream-auditor/internal/circuitbreaker"
	commonhttp "stream-auditor/internal/common/http"
	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/common/ratelimit"
	"stream-auditor/internal/common/utils"
	"stream-auditor/internal/config"
	"stream-auditor/internal/fetch"
	"stream-auditor/internal/provider"
	"stream-auditor/internal/redis"
	"stream-auditor/internal/telemetry"
)

// App holds all the application dependencies
type App struct {
	Config       *config.Config
	Logger       logging.Logger
	Registry     *prometheus.Registry
	Metrics      *telemetry.Metrics
	RedisClient  *redis.Client
	Limiter      ratelimit.Limiter
	Provider     *provider.HTTPProvider
	Session      *auth.Session
	Fetcher      *fetch.Fetcher
	Orchestrator *batch.Orchestrator
}

// New creates the application from a validated config. Credentials are not
// checked here; the first exchange reports them.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
		Registry: prometheus.NewRegistry(),
	}

	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.New(app.Registry)
	if err != nil {
		return nil, err
	}
	app.Metrics = metrics

	if err := app.initializeLimiter(); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initializeProvider(); err != nil {
		app.Close()
		return nil, err
	}
	app.initializePipeline()

	return app, nil
}

// initializeLimiter connects to Redis when the redis backend is selected.
// An unreachable Redis degrades to the local limiter.
func (app *App) initializeLimiter() error {
	limiterCfg := ratelimit.Config{
		Interval: app.Config.RateLimitInterval,
		Backend:  ratelimit.BackendType(app.Config.RateLimitBackend),
		Key:      app.Config.RateLimitKey,
	}

	var reserver ratelimit.SlotReserver
	if limiterCfg.Backend == ratelimit.BackendRedis {
		client, err := redis.NewClient(&redis.Config{
			Address:  app.Config.RedisAddress,
			Password: app.Config.RedisPassword,
			DB:       app.Config.RedisDB,
		})
		if err != nil {
			app.Logger.Warn("Redis unavailable, using local rate limiter",
				logging.String("address", app.Config.RedisAddress),
				logging.Err(err),
			)
			limiterCfg.Backend = ratelimit.BackendLocal
		} else {
			app.RedisClient = client
			reserver = client
			app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))
		}
	}

	limiter, err := ratelimit.New(limiterCfg, reserver, app.Metrics.ObserveRateLimitWait, app.Logger)
	if err != nil {
		return err
	}
	app.Limiter = limiter
	app.Logger.Info("Rate limiting enabled",
		logging.String("backend", string(limiterCfg.Backend)),
		logging.Duration("interval", limiterCfg.Interval),
	)
	return nil
}

func (app *App) initializeProvider() error {
	opts := []provider.Option{
		provider.WithLogger(app.Logger),
		provider.WithHTTPClient(commonhttp.NewHTTPClient(commonhttp.WithMaxIdleConnsPerHost(app.Config.Workers))),
	}
	if app.Config.CircuitBreakerEnabled {
		opts = append(opts, provider.WithBreaker(circuitbreaker.New("provider", circuitbreaker.ProviderConfig, app.Logger)))
	}

	p, err := provider.NewHTTPProvider(provider.HTTPConfig{
		BaseURL:   app.Config.ProviderBaseURL,
		APIKey:    app.Config.Credentials.APIKey,
		Exchanges: provider.Exchanges(app.Config.AuthPaths,
			provider.Encoding(app.Config.AuthEncoding), provider.Scheme(app.Config.TokenScheme)),
		Accept:    app.Config.AcceptHeader,
		IDType:    app.Config.IDType,
	}, opts...)
	if err != nil {
		return err
	}
	app.Provider = p
	return nil
}

func (app *App) initializePipeline() {
	app.Session = auth.NewSession(app.Provider, app.Config.Credentials,
		auth.WithSkew(app.Config.TokenSkew),
		auth.WithLogger(app.Logger),
		auth.WithObserver(app.Metrics.ObserveAuthExchange),
	)

	app.Fetcher = fetch.NewFetcher(app.Provider, app.Session, app.Limiter,
		fetch.Config{
			Timeout: app.Config.FetchTimeout,
			Retry: utils.RetryConfig{
				MaxAttempts:   app.Config.FetchMaxAttempts,
				InitialDelay:  app.Config.FetchInitialBackoff,
				MaxDelay:      app.Config.FetchMaxBackoff,
				BackoffFactor: 2,
				JitterFactor:  0.1,
			},
		},
		fetch.WithLogger(app.Logger),
		fetch.WithObserver(func(class fetch.StatusClass, elapsed time.Duration) {
			app.Metrics.ObserveFetch(string(class), elapsed)
		}),
	)

	app.Orchestrator = batch.NewOrchestrator(app.Session, app.Fetcher,
		batch.WithWorkers(app.Config.Workers),
		batch.WithLogger(app.Logger),
		batch.WithMetrics(app.Metrics),
	)
}

// Defaults returns the batch config derived from the environment.
func (app *App) Defaults() batch.Config {
	return batch.Config{
		RegionThreshold:      app.Config.RegionThreshold,
		FreeTierLowThreshold: app.Config.FreeTierLowThreshold,
	}
}

// Close releases all resources
func (app *App) Close() {
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Err(err))
		}
	}
}
