// Package app provides application-level wiring: it loads the model
// registry, opens the query backend, and assembles the HTTP router.
package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"semlayer/internal/api"
	"semlayer/internal/config"
	"semlayer/internal/declarative"
	"semlayer/internal/engine"
	"semlayer/internal/middleware"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// App is the fully-wired application.
type App struct {
	Registry *declarative.Registry
	Executor *engine.Executor
	Handler  *api.Handler

	logger *slog.Logger
	cfg    *config.Config
}

// New loads the models from the configured directory, opens DuckDB, and
// wires the API handler.
func New(deps Deps) (*App, error) {
	registry, err := declarative.LoadDirectory(deps.Cfg.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	deps.Logger.Info("models loaded", "count", len(registry.Names()), "dir", deps.Cfg.ModelDir)

	exec, err := engine.Open(deps.Cfg.DuckDBPath)
	if err != nil {
		return nil, err
	}

	return &App{
		Registry: registry,
		Executor: exec,
		Handler:  api.NewHandler(registry, exec, deps.Logger.With("component", "api")),
		logger:   deps.Logger,
		cfg:      deps.Cfg,
	}, nil
}

// Close releases the query backend.
func (a *App) Close() error {
	return a.Executor.Close()
}

// Router assembles the middleware stack and mounts the API under /v1.
func (a *App) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		Burst:             a.cfg.RateLimitBurst,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/v1", a.Handler.Routes())
	return r
}
