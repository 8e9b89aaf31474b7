package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-abr/internal/abr"
	"hls-abr/internal/platform/config"
	"hls-abr/internal/platform/logger"
	"hls-abr/internal/platform/metrics"
	"hls-abr/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

// abrConfig overlays ABR_* environment variables on the defaults.
func abrConfig() abr.Config {
	cfg := abr.DefaultConfig()
	cfg.TargetBufferTime = config.GetEnvFloat("ABR_TARGET_BUFFER_TIME", cfg.TargetBufferTime)
	cfg.ThroughputWindow = config.GetEnvDuration("ABR_THROUGHPUT_WINDOW", cfg.ThroughputWindow)
	cfg.MaxThroughputSamples = config.GetEnvInt("ABR_MAX_THROUGHPUT_SAMPLES", cfg.MaxThroughputSamples)
	cfg.EWMAAlpha = config.GetEnvFloat("ABR_EWMA_ALPHA", cfg.EWMAAlpha)
	cfg.DangerThreshold = config.GetEnvFloat("ABR_BUFFER_DANGER", cfg.DangerThreshold)
	cfg.MaxBuffer = config.GetEnvFloat("ABR_MAX_BUFFER", cfg.MaxBuffer)
	cfg.Resolution = config.GetEnvFloat("ABR_RESOLUTION", cfg.Resolution)
	cfg.RuleBase = config.GetEnv("ABR_RULE_BASE", cfg.RuleBase)
	cfg.RuleBaseFile = config.GetEnv("ABR_RULE_BASE_FILE", cfg.RuleBaseFile)
	cfg.BufferMetric = abr.BufferMetric(config.GetEnv("ABR_BUFFER_METRIC", string(cfg.BufferMetric)))
	return cfg
}

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	idleTimeout := config.GetEnvDuration("SESSION_IDLE_TIMEOUT", 5*time.Minute)

	log := logger.New(logLevel, logFormat)

	cfg := abrConfig()
	engine, err := cfg.Engine()
	if err != nil {
		log.Error("invalid adaptation config", "error", err)
		os.Exit(1)
	}

	repo := session.NewInMemoryRepository()
	met := metrics.New()
	svc := session.NewService(repo, cfg, engine, log, met)
	h := session.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveSessions()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()
	go reapLoop(ctx, svc, idleTimeout)

	log.Info("server starting",
		"port", port,
		"rule_base", ruleBaseName(cfg),
		"rules", engine.Rules(),
		"danger_threshold", cfg.DangerThreshold,
		"throughput_window", cfg.ThroughputWindow.String(),
		"session_idle_timeout", idleTimeout.String(),
		"log_level", logLevel,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// reapLoop drops idle sessions until ctx is cancelled.
func reapLoop(ctx context.Context, svc *session.Service, idle time.Duration) {
	if idle <= 0 {
		return
	}
	tick := time.NewTicker(idle / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			svc.ReapIdle(idle)
		}
	}
}

func ruleBaseName(cfg abr.Config) string {
	if cfg.RuleBaseFile != "" {
		return cfg.RuleBaseFile
	}
	return cfg.RuleBase
}
