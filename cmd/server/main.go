package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/StevenWanglolz/Occult-Magick/internal/charging"
	"github.com/StevenWanglolz/Occult-Magick/internal/lifecycle"
	"github.com/StevenWanglolz/Occult-Magick/internal/storage"
	"github.com/StevenWanglolz/Occult-Magick/pkg/config"
)

func main() {
	// --- Config ---
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	initLogger(cfg.Log.Level)
	slog.Info("config loaded", "port", cfg.Server.Port, "backend", cfg.Storage.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Store ---
	store, sigilDir, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	// --- Redis index cache (optional) ---
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("failed to ping redis", "error", err)
			os.Exit(1)
		}
		slog.Info("redis connected")
		store = storage.NewIndexCache(store, rdb)
	}

	// --- Sessions + Service ---
	sessions := charging.NewManager()
	svc := lifecycle.NewService(store, sessions, sigilDir, cfg.Maintenance.DecayRatePerDay)

	// --- Router ---
	r := newRouter(svc)

	// --- HTTP Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		sessions.StopAll()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		cancel()
	}()

	slog.Info("server starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// newStore opens the configured persistence backend and returns the
// directory sigil images should be written to.
func newStore(ctx context.Context, cfg *config.Config) (storage.Store, string, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("create db pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, "", fmt.Errorf("ping database: %w", err)
		}
		pg := storage.NewPostgresStore(pool)
		if err := pg.Init(ctx); err != nil {
			return nil, "", err
		}
		slog.Info("database connected")

		sigilDir := filepath.Join(cfg.Storage.Dir, "sigils")
		if err := os.MkdirAll(sigilDir, 0o755); err != nil {
			return nil, "", fmt.Errorf("create sigil dir: %w", err)
		}
		return pg, sigilDir, nil

	default:
		fs, err := storage.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, "", err
		}
		return fs, fs.SigilDir(), nil
	}
}

func newRouter(svc *lifecycle.Service) *chi.Mux {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	handler := lifecycle.NewHandler(svc)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Mount("/servitors", handler.Routes())
		r.Get("/maintenance/reminders", handler.HandleReminders)
	})

	return r
}

func initLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
