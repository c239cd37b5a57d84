package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vod-server/internal/api"
	"vod-server/internal/catalog"
	"vod-server/internal/platform/config"
	"vod-server/internal/platform/logger"
	"vod-server/internal/platform/metrics"
	"vod-server/internal/playback"
	"vod-server/internal/streaming"
	"vod-server/internal/transcode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	videoDir := config.GetEnv("VIDEO_DIR", "./videos")
	transcodedDir := config.GetEnv("TRANSCODED_DIR", filepath.Join(videoDir, "transcoded"))
	staticDir := config.GetEnv("STATIC_DIR", "")
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	maxConcurrent := config.GetEnvInt("TRANSCODE_MAX_CONCURRENT", transcode.DefaultMaxConcurrent)
	retention := config.GetEnvInt("TRANSCODE_JOB_RETENTION", transcode.DefaultRetention)
	chunkSize := config.GetEnvInt("STREAM_CHUNK_SIZE", streaming.DefaultResponderConfig().ChunkSize)
	writeTimeout := config.GetEnvDuration("STREAM_WRITE_TIMEOUT", streaming.DefaultResponderConfig().WriteTimeout)
	shutdownTimeout := config.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	clientKeyHeader := config.GetEnv("CLIENT_KEY_HEADER", "")
	trustProxy := config.GetEnvBool("TRUST_PROXY_HEADERS", false)
	watchCatalog := config.GetEnvBool("WATCH_CATALOG", true)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	cat := catalog.New(catalog.Options{
		Dir:           videoDir,
		TranscodedDir: transcodedDir,
		Profile:       transcode.DefaultProfile.Name,
		Logger:        log,
		Metrics:       met,
	})

	enc := transcode.NewFFmpegEncoder(ffmpegPath, log)
	orch, err := transcode.New(transcode.Config{
		OutputDir:     transcodedDir,
		MaxConcurrent: maxConcurrent,
		Retention:     retention,
	}, cat, enc, log, met)
	if err != nil {
		log.Error("transcode orchestrator init failed", "error", err)
		os.Exit(1)
	}

	store := playback.NewStore()
	clientKey := playback.RemoteAddrKey
	if clientKeyHeader != "" {
		clientKey = playback.HeaderKey(clientKeyHeader, playback.RemoteAddrKey)
	}

	h := api.NewHandler(api.Deps{
		Catalog:   cat,
		Transcode: orch,
		Playback:  store,
		Responder: streaming.NewResponder(streaming.ResponderConfig{ChunkSize: chunkSize, WriteTimeout: writeTimeout}, log, met),
		ClientKey: clientKey,
		Logger:    log,
		Metrics:   met,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if watchCatalog {
		go func() {
			if err := cat.Watch(ctx); err != nil {
				log.Warn("catalog watch disabled, relying on mtime cache", "error", err)
			}
		}()
	}

	r := chi.NewRouter()
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(middleware.Recoverer)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetRetainedJobs(orch.Retained())
			met.SetPlaybackRecords(store.Len())
		}).ServeHTTP(w, r)
	})
	h.Register(r)
	if staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(staticDir)))
	}

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"video_dir", videoDir,
		"transcoded_dir", transcodedDir,
		"static_dir", staticDir,
		"transcode_max_concurrent", maxConcurrent,
		"client_key_header", clientKeyHeader,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stop()

	if err := shutdown(srv, orch, store, shutdownTimeout, enc.GracePeriod, log); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
