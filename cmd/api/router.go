package main

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/thesisflow/thesisflow/internal/cache"
	"github.com/thesisflow/thesisflow/internal/config"
	"github.com/thesisflow/thesisflow/internal/handler"
	"github.com/thesisflow/thesisflow/internal/metrics"
	"github.com/thesisflow/thesisflow/internal/middleware"
	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

type handlers struct {
	root       *handler.Handler
	health     *handler.HealthHandler
	tokens     *handler.TokenHandler
	usage      *handler.UsageHandler
	literature *handler.LiteratureHandler
	ai         *handler.AIHandler
	trends     *handler.TrendsHandler
	workspace  *handler.WorkspaceHandler
	team       *handler.TeamHandler
	apiKeys    *handler.APIKeyHandler
	admin      *handler.AdminHandler
	alerts     *handler.AlertHandler   // nil when alerts are disabled
	billing    *handler.BillingHandler // nil without Stripe
}

type routerDeps struct {
	cfg       *config.Config
	repo      *repository.Repository
	cache     *cache.Cache
	recorder  *metrics.PrometheusRecorder
	logger    *slog.Logger
	authCfg   middleware.AuthConfig
	meter     *middleware.Meter
	ipLimiter *middleware.IPLimiter
	handlers  handlers
}

func setupRouter(d routerDeps) *chi.Mux {
	h := d.handlers
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: d.cfg.IsDevelopment()}))
	if origins := d.cfg.GetCORSAllowedOrigins(); len(origins) > 0 {
		corsCfg := middleware.DefaultCORSConfig()
		corsCfg.AllowedOrigins = origins
		r.Use(middleware.CORS(corsCfg))
	}
	r.Use(middleware.Metrics(d.recorder))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	// Health endpoints (no auth required)
	r.Get("/healthz", h.health.Healthz)
	r.Get("/readyz", h.health.Readyz)
	r.Method("GET", "/metrics", d.recorder.Handler())

	r.Get("/", h.root.Hello)

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:  d.logger,
		Cache:   d.cache,
		Metrics: d.recorder,
		Enabled: d.cfg.RateLimitAPIEnabled,
	}

	r.Route("/api", func(r chi.Router) {
		// Anonymous callers are allowed; the hourly window keys on the
		// user when one is present.
		r.Group(func(r chi.Router) {
			r.Use(d.ipLimiter.Middleware)
			r.Use(middleware.OptionalAuth(d.authCfg))
			r.Get("/literature-search", h.literature.Search)
			r.Post("/literature-search", h.literature.Search)
		})

		if h.billing != nil {
			r.With(d.ipLimiter.Middleware).Post("/billing/webhook", h.billing.Webhook)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.authCfg))
			r.Use(middleware.RateLimitAPI(rateLimitCfg))

			mountTokens(r, h)
			mountReports(r, h, d.meter)
			mountWorkspace(r, h)

			if h.billing != nil {
				r.With(middleware.RequireWrite()).Post("/billing/checkout", h.billing.Checkout)
			}

			if h.alerts != nil {
				r.Route("/alerts", func(r chi.Router) {
					r.With(middleware.RequireRead()).Get("/endpoints", h.alerts.ListEndpoints)
					r.With(middleware.RequireWrite()).Post("/endpoints", h.alerts.CreateEndpoint)
					r.With(middleware.RequireWrite()).Delete("/endpoints/{id}", h.alerts.DeleteEndpoint)
					r.With(middleware.RequireRead()).Get("/deliveries", h.alerts.Deliveries)
				})
			}

			// API key management (requires write scope for mutations)
			r.Route("/keys", func(r chi.Router) {
				r.With(middleware.RequireRead()).Get("/", h.apiKeys.List)
				r.With(middleware.RequireWrite()).Post("/", h.apiKeys.Create)
				r.With(middleware.RequireWrite()).Delete("/{id}", h.apiKeys.Revoke)
				r.With(middleware.RequireWrite()).Post("/{id}/rotate", h.apiKeys.Rotate)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin())
				r.Get("/features", h.admin.ListFeatures)
				r.Put("/features/{name}", h.admin.PutFeature)
				r.Post("/tokens/reset-daily", h.admin.ResetDailyTokens)
				r.Get("/api-keys", h.admin.ListAPIKeysByUser)
				r.Get("/stats", h.admin.Stats)
			})
		})
	})

	// 404 and 405 handlers
	r.NotFound(h.root.NotFound)
	r.MethodNotAllowed(h.root.MethodNotAllowed)

	return r
}

func mountTokens(r chi.Router, h handlers) {
	r.Get("/user/tokens", h.tokens.Balance)
	r.Post("/user/tokens/refund", h.tokens.Refund)
	r.Get("/user/tokens/transactions", h.tokens.Transactions)
	r.Get("/user/tokens/check", h.tokens.Check)
	r.Get("/user/tokens/insights", h.tokens.Insights)
	r.Get("/tokens/features", h.tokens.Features)
	// IncrementUsage answers 405 itself for other methods.
	r.HandleFunc("/user/usage/increment", h.tokens.IncrementUsage)

	r.Post("/usage/analytics", h.usage.Analytics)
	r.Post("/usage/analytics/v2", h.usage.AnalyticsV2)
	r.Post("/usage/top", h.usage.Top)
}

func mountReports(r chi.Router, h handlers, meter *middleware.Meter) {
	r.With(meter.Metered(model.FeatureTopicsReport, middleware.MeterOptions{
		Context: map[string]any{"origin": "topics", "feature": "report"},
	})).Post("/topics/report", h.ai.TopicsReport)

	r.With(meter.Metered(model.FeatureAIChat, middleware.MeterOptions{})).
		Post("/ai/chat", h.ai.Chat)

	r.Route("/trends/jobs", func(r chi.Router) {
		r.With(meter.Metered(model.FeatureTrendsJob, middleware.MeterOptions{
			Context: map[string]any{"origin": "trends"},
		})).Post("/", h.trends.Create)
		r.Get("/{id}", h.trends.Get)
		r.Get("/{id}/events", h.trends.Events)
		r.With(meter.Metered(model.FeatureTrendsJobDownload, middleware.MeterOptions{
			Context: map[string]any{"origin": "trends", "feature": "download"},
		})).Get("/{id}/download", h.trends.Download)
	})
}

func mountWorkspace(r chi.Router, h handlers) {
	w := h.workspace
	r.Route("/projects", func(r chi.Router) {
		r.Get("/", w.ListProjects)
		r.Post("/", w.CreateProject)
		r.Get("/{id}", w.GetProject)
		r.Put("/{id}", w.UpdateProject)
		r.Delete("/{id}", w.DeleteProject)
	})
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", w.ListTasks)
		r.Post("/", w.CreateTask)
		r.Get("/{id}", w.GetTask)
		r.Put("/{id}", w.UpdateTask)
		r.Delete("/{id}", w.DeleteTask)
	})
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", w.ListDocuments)
		r.Post("/", w.CreateDocument)
		r.Get("/{id}", w.GetDocument)
		r.Put("/{id}", w.UpdateDocument)
		r.Delete("/{id}", w.DeleteDocument)
	})

	t := h.team
	r.Get("/teams", t.ListTeams)
	r.Post("/teams", t.CreateTeam)
	r.Get("/team/members", t.ListMembers)
	r.Post("/team/members", t.AddMember)
	r.Get("/team/messages", t.ListMessages)
	r.Post("/team/messages", t.PostMessage)
}
