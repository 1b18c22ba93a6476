package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timeline-inspector/internal/derive"
	"timeline-inspector/internal/platform/config"
	"timeline-inspector/internal/platform/logger"
	"timeline-inspector/internal/platform/metrics"
	"timeline-inspector/internal/timeline"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	compositionPath := config.GetEnv("COMPOSITION_PATH", "composition.json")

	log := logger.New(logLevel, logFormat)

	d := derive.DefaultConfig()
	cfg := derive.Config{
		ResolutionRates:               config.GetEnvIntList("ENVELOPE_RATES", d.ResolutionRates),
		MaxConcurrentFrameSessions:    config.GetEnvInt("MAX_FRAME_SESSIONS", d.MaxConcurrentFrameSessions),
		MaxConcurrentEnvelopeSessions: config.GetEnvInt("MAX_ENVELOPE_SESSIONS", d.MaxConcurrentEnvelopeSessions),
		FrameSampleIntervalSeconds:    config.GetEnvFloat("FRAME_INTERVAL_SECONDS", d.FrameSampleIntervalSeconds),
		DBFloor:                       config.GetEnvFloat("DB_FLOOR", d.DBFloor),
		MaxFrameWidth:                 config.GetEnvInt("FRAME_MAX_WIDTH", d.MaxFrameWidth),
		MaxFrameHeight:                config.GetEnvInt("FRAME_MAX_HEIGHT", d.MaxFrameHeight),
		AudioDecodeSampleRate:         config.GetEnvInt("AUDIO_DECODE_RATE", d.AudioDecodeSampleRate),
		FFmpegPath:                    config.GetEnv("FFMPEG_PATH", "ffmpeg"),
	}

	// Derivation runs for the life of the process and stops on the first signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	extractor, sampler := derive.NewGenerators(cfg, log)
	vm, err := timeline.New(ctx, timeline.FileLoader(compositionPath), timeline.Generators{
		Envelopes: extractor,
		Frames:    sampler,
	}, cfg, log, met)
	if err != nil {
		log.Error("load timeline failed", "path", compositionPath, "error", err)
		os.Exit(1)
	}
	h := timeline.NewHandler(vm, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetSegmentsByStatus(vm.Snapshot().Counts) }).ServeHTTP(w, r)
	})
	r.Get("/timeline", h.GetTimeline)
	r.Get("/timeline.txt", h.GetReport)
	r.Get("/tracks/{track_id}/volume", h.GetVolume)
	r.Route("/tracks/{track_id}/segments/{index}", func(r chi.Router) {
		r.Get("/envelope", h.GetEnvelope)
		r.Get("/frames/{n}", h.GetFrame)
	})
	r.Get("/preview/frames/{n}", h.GetPreviewFrame)
	r.Post("/derivation/begin", h.BeginDerivation)
	r.Post("/derivation/cancel", h.CancelDerivation)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"composition", compositionPath,
		"max_frame_sessions", cfg.MaxConcurrentFrameSessions,
		"log_level", logLevel,
	)

	if config.GetEnv("AUTO_BEGIN", "true") == "true" {
		vm.Begin()
	}

	<-ctx.Done()
	log.Info("shutdown signal received, cancelling derivation and draining connections")

	vm.Cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	select {
	case <-vm.Done():
	case <-shutdownCtx.Done():
		log.Warn("derivation did not drain before shutdown timeout")
	}

	log.Info("server stopped")
}
