package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mediamask/mediamask/pkg/api"
	"github.com/mediamask/mediamask/pkg/config"
	"github.com/mediamask/mediamask/pkg/detect"
	"github.com/mediamask/mediamask/pkg/logging"
	"github.com/mediamask/mediamask/pkg/metrics"
	"github.com/mediamask/mediamask/pkg/pipeline"
	"github.com/mediamask/mediamask/pkg/retry"
	"github.com/mediamask/mediamask/pkg/shutdown"
)

func main() {
	// Command-line flags
	configPath := flag.String("config", "", "Configuration file path (YAML)")
	listen := flag.String("listen", "", "Listen address override (e.g. :8080)")
	detectorURL := flag.String("detector", "", "Inference service URL override")
	parallelism := flag.Int("parallelism", 0, "Pipeline worker count override")
	dryRun := flag.Bool("dry-run", false, "Run without an inference service (no detections)")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *detectorURL != "" {
		cfg.Detector.URL = *detectorURL
	}
	if *parallelism > 0 {
		cfg.Pipeline.Parallelism = *parallelism
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	var logger *logging.Logger
	if cfg.Logging.File {
		logger, err = logging.NewFileLogger("maskd", level, cfg.Logging.JSON)
		if err != nil {
			log.Printf("File logging unavailable, using stdout: %v", err)
			logger = logging.NewLogger(level, cfg.Logging.JSON)
		}
	} else {
		logger = logging.NewLogger(level, cfg.Logging.JSON)
	}

	logger.Info("Starting maskd anonymization daemon", map[string]interface{}{
		"listen":      cfg.Server.Listen,
		"parallelism": cfg.Pipeline.Parallelism,
		"queue_size":  cfg.EffectiveQueueSize(),
		"job_timeout": cfg.Pipeline.JobTimeout.String(),
	})

	var detector detect.Detector
	if *dryRun {
		logger.Warn("Dry-run mode: frames pass through without detections")
		detector = detect.NewScripted(nil)
	} else {
		logger.Info("Using inference service", map[string]interface{}{"url": cfg.Detector.URL})
		detector = detect.NewClient(cfg.Detector.URL, cfg.Detector.Timeout)
	}

	runner := &pipeline.Runner{
		Detector:       detector,
		Parallelism:    cfg.Pipeline.Parallelism,
		QueueSize:      cfg.EffectiveQueueSize(),
		JobTimeout:     cfg.Pipeline.JobTimeout,
		PreviewQuality: cfg.Pipeline.PreviewQuality,
		Retry:          retry.DefaultConfig(),
		Logger:         logger,
	}

	collector := metrics.New()
	handler := api.NewHandler(runner, detector, collector, logger, cfg.Server.MaxUploadBytes)

	router := mux.NewRouter()
	router.Use(collector.Middleware)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: router,
		// No WriteTimeout: streaming sessions legitimately outlive any
		// fixed response deadline; the per-job timeout bounds them.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// LIFO: the server drains before the logger closes
	manager := shutdown.New(30 * time.Second)
	manager.Register(shutdown.CloseResource(logger, "logger"))
	manager.Register(shutdown.StopHTTPServer(srv, "api"))

	go func() {
		logger.Info("API endpoints ready", map[string]interface{}{
			"sync":    "POST /process-video, /process-image, /video-info",
			"stream":  "WS /ws/process-video",
			"ops":     "GET /health, /metrics",
			"address": cfg.Server.Listen,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	manager.Wait()
}
