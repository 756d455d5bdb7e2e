// Package main is the entrypoint for the ThesisFlow API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/thesisflow/thesisflow/internal/ai"
	"github.com/thesisflow/thesisflow/internal/alert"
	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/billing"
	"github.com/thesisflow/thesisflow/internal/cache"
	"github.com/thesisflow/thesisflow/internal/config"
	"github.com/thesisflow/thesisflow/internal/handler"
	"github.com/thesisflow/thesisflow/internal/literature"
	"github.com/thesisflow/thesisflow/internal/metrics"
	"github.com/thesisflow/thesisflow/internal/middleware"
	"github.com/thesisflow/thesisflow/internal/repository"
	"github.com/thesisflow/thesisflow/internal/server"
	"github.com/thesisflow/thesisflow/internal/service"
	"github.com/thesisflow/thesisflow/internal/trends"
	"github.com/thesisflow/thesisflow/internal/usage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	recorder := metrics.NewPrometheus()

	srv, err := build(ctx, cfg, repo, cacheClient, recorder, logger)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		_ = cacheClient.Close()
		repo.Close()
		os.Exit(1)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"version", version,
		"billing", cfg.BillingEnabled(),
		"usage_stream", cfg.UsageStreamEnabled,
		"alerts", cfg.AlertsEnabled,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// build wires every component and returns a server ready to run. Hooks
// are registered before their dependents so LIFO shutdown stops users of
// a store before the store itself.
func build(ctx context.Context, cfg *config.Config, repo *repository.Repository, cacheClient *cache.Cache, recorder *metrics.PrometheusRecorder, logger *slog.Logger) (*server.Server, error) {
	deps := routerDeps{cfg: cfg, repo: repo, cache: cacheClient, recorder: recorder, logger: logger}
	var workers []namedWorker
	var hooks []namedHook

	hooks = append(hooks,
		namedHook{"postgres", func(context.Context) error { repo.Close(); return nil }},
		namedHook{"redis", func(context.Context) error { return cacheClient.Close() }},
	)

	// Alerts
	var notifier service.AlertNotifier
	var alertEndpoints *alert.Endpoints
	if cfg.AlertsEnabled {
		notifier = alert.NewPublisher(repo, logger)
		alertEndpoints = alert.NewEndpoints(repo, logger)

		alertWorker := alert.NewWorker(repo, logger, recorder)
		alertWorker.SetPollInterval(cfg.AlertsPollInterval)
		workers = append(workers, namedWorker{"alert-worker", alertWorker.Run})
	}

	// Tokens and usage
	tokens := service.NewTokenService(repo, cacheClient, cfg, notifier, recorder, logger)
	insights := service.NewInsightsService(repo, cfg, notifier, logger)

	var usagePub middleware.UsagePublisher
	if cfg.UsageStreamEnabled {
		pub := usage.NewPublisher(cacheClient.Client(), logger, recorder)
		usagePub = pub
		hooks = append(hooks, namedHook{"usage-publisher", pub.Shutdown})

		usageWorker := usage.NewWorker(cacheClient.Client(), repo, logger, usage.NewConsumerID(), recorder)
		usageWorker.SetBatchSize(cfg.UsageWorkerBatch)
		workers = append(workers, namedWorker{"usage-worker", usageWorker.Run})
	}
	deps.meter = middleware.NewMeter(tokens, usagePub, logger)

	// Literature, reports and trends
	search := literature.NewService(
		literature.NewDefaultProviders(literature.Options{
			Timeout: cfg.LiteratureTimeout,
			Mailto:  cfg.LiteratureMailto,
		}),
		cacheClient,
		cfg.LiteratureCacheTTL,
		logger,
	)

	var gen ai.Generator = ai.Unavailable{}
	switch {
	case cfg.GenAIAPIKey == "":
		logger.Warn("GENAI_API_KEY not set; report and chat endpoints will fail")
	default:
		client, err := ai.NewGenAI(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			logger.Warn("genai client unavailable", "error", err)
			break
		}
		gen = client
		logger.Info("genai client ready", "model", client.Model())
	}

	jobs := trends.NewStore()
	hub := trends.NewHub(jobs)
	runner := trends.NewRunner(jobs, hub, search, gen, recorder, logger)
	hooks = append(hooks, namedHook{"trends-runner", runner.Shutdown})

	// Anonymous endpoints share one in-process limiter.
	ipLimiter := middleware.NewIPLimiter(middleware.IPLimiterConfig{
		Rate:  cfg.RateLimitIPRPS,
		Burst: cfg.RateLimitIPBurst,
	}, recorder, logger)
	hooks = append(hooks, namedHook{"ip-limiter", func(context.Context) error { ipLimiter.Stop(); return nil }})
	deps.ipLimiter = ipLimiter

	var verifier *auth.JWTVerifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	} else {
		logger.Warn("JWT_SECRET not set; only API keys can authenticate")
	}
	deps.authCfg = middleware.AuthConfig{
		Logger:     logger,
		Repository: repo,
		Cache:      cacheClient,
		Verifier:   verifier,
	}

	// Handlers
	deps.handlers = handlers{
		root:       handler.New(version),
		health:     handler.NewHealthHandler(repo, cacheClient),
		tokens:     handler.NewTokenHandler(tokens, insights, repo, deps.meter, logger),
		usage:      handler.NewUsageHandler(usage.NewService(repo, logger), logger),
		literature: handler.NewLiteratureHandler(search, cacheClient, cfg.LiteratureHourlyLimit, logger),
		ai:         handler.NewAIHandler(gen, logger),
		trends:     handler.NewTrendsHandler(runner, jobs, hub, logger),
		workspace:  handler.NewWorkspaceHandler(service.NewWorkspaceService(repo), logger),
		team:       handler.NewTeamHandler(service.NewTeamService(repo, logger), logger),
		apiKeys:    handler.NewAPIKeyHandler(repo, logger).WithInvalidator(cacheClient),
		admin:      handler.NewAdminHandler(repo, cacheClient, version, logger),
	}
	if alertEndpoints != nil {
		deps.handlers.alerts = handler.NewAlertHandler(alertEndpoints, logger)
	}

	if cfg.BillingEnabled() {
		gateway, err := billing.NewStripeGateway(cfg.StripeSecretKey)
		if err != nil {
			return nil, err
		}
		svc := billing.NewService(repo, gateway, notifier, billing.Config{
			WebhookSecret: cfg.StripeWebhookSecret,
			PriceIDs:      cfg.StripePriceIDs,
			BaseURL:       cfg.BaseURL,
		}, logger)
		deps.handlers.billing = handler.NewBillingHandler(svc, logger)
	} else {
		logger.Info("STRIPE_SECRET_KEY not set; billing routes disabled")
	}

	srv := server.New(setupRouter(deps), server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	for _, h := range hooks {
		srv.OnShutdown(h.name, h.fn)
	}
	for _, w := range workers {
		srv.Go(w.name, w.fn)
	}
	return srv, nil
}

type namedWorker struct {
	name string
	fn   server.WorkerFunc
}

type namedHook struct {
	name string
	fn   server.ShutdownFunc
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "thesisflow")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s&]+`)

// redactURL strips the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}
	if q := parsed.Query(); q.Has("password") {
		q.Set("password", "redacted")
		parsed.RawQuery = q.Encode()
	}

	return parsed.String()
}

// sanitizeError removes the given secrets from an error message.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
