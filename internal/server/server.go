// Package server builds the story backend from configuration and manages
// the HTTP server lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/backup"
	"github.com/scrypster/storyforge/internal/config"
	"github.com/scrypster/storyforge/internal/extraction"
	"github.com/scrypster/storyforge/internal/intensity"
	"github.com/scrypster/storyforge/internal/llm"
	"github.com/scrypster/storyforge/internal/media"
	"github.com/scrypster/storyforge/internal/registry"
	"github.com/scrypster/storyforge/internal/storage"
	"github.com/scrypster/storyforge/internal/usage"
	"github.com/scrypster/storyforge/pkg/types"
	"github.com/scrypster/storyforge/web/handlers"
)

const shutdownTimeout = 5 * time.Second

// stageExtraction labels extraction progress records.
const stageExtraction = "extraction"

// App holds every long-lived component. Optional providers are nil when
// their API keys are not configured.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    storage.Store
	Registry *registry.Registry
	Reaper   *registry.Reaper
	Ledger   *usage.Ledger
	LLM      *llm.Providers
	Pipeline *extraction.Pipeline
	Images   *media.ImageService
	Sounds   *media.SoundEffects
	Speech   *media.Speech
	Auditor  *intensity.Auditor
	Hub      *handlers.Hub
	Backups  *backup.Service

	orch *sessionOrchestrator
	done chan struct{}
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// New opens the store and builds every component. It does not start
// anything; call Start.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := OpenStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	app, err := NewWithStore(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

// NewWithStore builds the components on an already open store.
func NewWithStore(cfg *config.Config, store storage.Store, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Store:  store,
		done:   make(chan struct{}),
	}

	a.Ledger = usage.NewLedger(usage.DefaultPrices(), store, logger)
	a.Registry = registry.New(cfg.Registry, logger)
	a.Reaper = registry.NewReaper(a.Registry, cfg.Registry.SweepInterval, logger)
	a.Registry.OnSessionExpired(func(ctx context.Context, sessionID string) {
		_ = a.Ledger.Flush(ctx, sessionID)
	})
	// Ledgers fed only by HTTP calls never register a session, so they
	// age out on the session TTL instead.
	a.Registry.OnSweep(func(ctx context.Context, _ registry.SweepResult) {
		a.Ledger.FlushIdle(ctx, cfg.Registry.SessionTTL, func(sessionID string) bool {
			_, live := a.Registry.Session(sessionID)
			return live
		})
	})
	a.Auditor = intensity.NewAuditor(store, logger)

	providers, err := llm.NewProviders(cfg.LLM, a.Ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure LLM providers: %w", err)
	}
	a.LLM = providers
	if client := providers.Primary(); client != nil {
		a.setPipeline(extraction.NewPipeline(client, extraction.ConfigFrom(cfg.Extraction), logger))
	} else {
		logger.Warn("no LLM API key configured, extraction disabled")
	}

	if err := a.buildMedia(); err != nil {
		return nil, err
	}

	if cfg.Backup.Dir != "" {
		if path := SQLitePath(cfg.Storage); path != "" {
			svc, err := backup.New(backup.Config{
				DBPath:   path,
				Dir:      cfg.Backup.Dir,
				Interval: cfg.Backup.Interval,
				Verify:   cfg.Backup.Verify,
			}, logger)
			if err != nil {
				return nil, err
			}
			a.Backups = svc
		} else {
			logger.Warn("backups only support sqlite storage", zap.String("engine", cfg.Storage.StorageEngine))
		}
	}

	a.orch = newSessionOrchestrator(a.Registry, a.Ledger, logger)
	if a.Images != nil {
		a.orch.images = a.Images
	}
	a.Hub = handlers.NewHub(cfg.Server, a.Registry, a.Ledger, a.orch, logger)
	a.orch.notify = a.Hub.SendToSession
	return a, nil
}

// setPipeline installs p and reports its runs as generation progress.
func (a *App) setPipeline(p *extraction.Pipeline) {
	p.OnProgress(a.reportExtraction)
	a.Pipeline = p
}

func (a *App) reportExtraction(sessionID string, kind types.Kind, done, total int) {
	if sessionID == "" {
		return
	}
	var err error
	switch {
	case done >= total:
		_, err = a.Registry.CompleteProgress(sessionID, "extraction complete")
	case kind == "":
		_, err = a.Registry.UpdateProgress(sessionID, stageExtraction, 0, "extracting story elements")
	default:
		_, err = a.Registry.UpdateProgress(sessionID, stageExtraction, float64(done)/float64(total)*100, fmt.Sprintf("extracted %s", kind))
	}
	if err != nil {
		a.Logger.Warn("failed to record extraction progress", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (a *App) buildMedia() error {
	cfg, logger := a.Config, a.Logger

	var dalle *media.DalleBackend
	if cfg.LLM.OpenAIAPIKey != "" {
		b, err := media.NewDalleBackend(media.DalleConfig{
			APIKey:  cfg.LLM.OpenAIAPIKey,
			BaseURL: cfg.LLM.OpenAIBaseURL,
			Timeout: cfg.LLM.Timeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to configure image generation: %w", err)
		}
		dalle = b
	}
	var fal *media.FalBackend
	if cfg.Media.FalAPIKey != "" {
		b, err := media.NewFalBackend(media.FalConfig{APIKey: cfg.Media.FalAPIKey}, logger)
		if err != nil {
			return fmt.Errorf("failed to configure fal: %w", err)
		}
		fal = b
	}
	if dalle != nil || fal != nil {
		images, err := media.NewImageService(dalle, fal, media.ImageConfig{Dir: cfg.Media.ImageDir}, a.Ledger, logger)
		if err != nil {
			return err
		}
		a.Images = images
	}

	var eleven *media.ElevenLabs
	if cfg.Media.ElevenLabsAPIKey != "" {
		c, err := media.NewElevenLabs(media.ElevenLabsConfig{APIKey: cfg.Media.ElevenLabsAPIKey}, logger)
		if err != nil {
			return fmt.Errorf("failed to configure elevenlabs: %w", err)
		}
		eleven = c
		a.Speech = media.NewSpeech(eleven, "", a.Ledger, a.Store, logger)
	}
	// Cached effects stay servable without a key.
	a.Sounds = media.NewSoundEffects(eleven, cfg.Media.CacheDir, a.Store, logger)
	return nil
}

// Handler returns the full HTTP handler: the websocket endpoint, the REST
// API behind auth and rate limiting, and the downloaded images.
func (a *App) Handler() http.Handler {
	api := http.NewServeMux()
	var extractor handlers.Extractor
	if a.Pipeline != nil {
		extractor = a.Pipeline
	}
	handlers.NewAPIHandlers(a.Ledger, intensity.Default(), extractor, a.Store, a.Logger).Register(api)

	deps := handlers.MediaDeps{Sounds: a.Sounds, Voices: a.Store, Auditor: a.Auditor, Audio: a.Registry}
	if a.Images != nil {
		deps.Images = a.Images
	}
	if a.Speech != nil {
		deps.Speech = a.Speech
	}
	handlers.NewMediaHandlers(deps, a.Logger).Register(api)
	api.HandleFunc("GET /api/stats", handlers.NewStatsHandler(a.Registry, a.Hub).GetStats)
	handlers.NewSessionHandlers(a.orch, a.Logger).Register(api)

	rateLimiter := handlers.NewRateLimiter(10.0, 20)
	mux := http.NewServeMux()
	mux.Handle("/api/", handlers.RateLimitMiddleware(handlers.RequireAuth(api, a.Config.Server.APIToken), rateLimiter))
	mux.Handle("/ws", a.Hub)
	mux.HandleFunc("GET /health", handlers.Health)
	if dir := a.Config.Media.ImageDir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			mux.Handle("GET /images/", http.StripPrefix("/images/", http.FileServer(http.Dir(dir))))
		}
	}

	return securityHeadersMiddleware(handlers.RequestLogger(mux, a.Logger))
}

// Start listens, runs the hub and reaper, and shuts everything down when
// ctx is canceled. It returns the address actually bound, which matters
// when the configured port is 0.
func (a *App) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if err := a.Reaper.Start(); err != nil {
		_ = listener.Close()
		return "", err
	}
	if a.Backups != nil {
		if err := a.Backups.Start(); err != nil {
			a.Reaper.Stop()
			_ = listener.Close()
			return "", err
		}
	}
	go a.Hub.Run()

	srv := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // extraction and image generation are slow
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("server error", zap.Error(err))
		}
	}()

	go func() {
		defer close(a.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("server shutdown error", zap.Error(err))
		}
		a.orch.Stop()
		a.Hub.Stop()
		a.Reaper.Stop()
		if a.Backups != nil {
			a.Backups.Stop()
		}
		a.flushAll(shutdownCtx)
	}()

	actual := listener.Addr().String()
	a.Logger.Info("server listening", zap.String("addr", actual))
	return actual, nil
}

// flushAll persists every live session's ledger before exit.
func (a *App) flushAll(ctx context.Context) {
	for _, id := range a.Ledger.Sessions() {
		if err := a.Ledger.Persist(ctx, id); err != nil {
			a.Logger.Warn("failed to persist usage on shutdown", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// Done is closed once shutdown started by Start has finished.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
