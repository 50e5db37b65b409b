package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/image-moderation/internal/config"
	"github.com/Brownie44l1/image-moderation/internal/handlers"
	"github.com/Brownie44l1/image-moderation/internal/logging"
	"github.com/Brownie44l1/image-moderation/internal/metrics"
	"github.com/Brownie44l1/image-moderation/internal/model"
	"github.com/Brownie44l1/image-moderation/internal/moderation"
	"github.com/Brownie44l1/image-moderation/internal/preprocess"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("[Main] Failed to load config: %v", err)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.Fatalf("[Main] Failed to create logger: %v", err)
	}
	gin.SetMode(cfg.Server.Mode)

	if err := run(cfg, log); err != nil {
		log.Fatalf("[Main] %v", err)
	}
}

// run owns every resource that needs cleanup, so its deferred calls complete
// before main exits with a failure status.
func run(cfg *config.Config, log *logrus.Logger) error {
	root, err := projectRoot()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	modelPath := resolve(root, cfg.Model.Path)
	metadataPath := resolve(root, cfg.Model.MetadataPath)

	log.Infof("[Main] Loading model from: %s", modelPath)
	modelServer, err := model.NewServer(model.Config{
		ModelPath:    modelPath,
		MetadataPath: metadataPath,
		LibraryPath:  cfg.Model.LibraryPath,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	preprocessOpts := modelServer.Metadata.PreprocessOptions()
	preprocessOpts.MaxPixels = cfg.Moderation.MaxPixels
	preprocessor, err := preprocess.New(preprocessOpts)
	if err != nil {
		return fmt.Errorf("failed to create preprocessor: %w", err)
	}

	var collector *metrics.Collector
	serviceOpts := []moderation.Option{
		moderation.WithMaxImages(cfg.Moderation.MaxImages),
		moderation.WithLogger(log),
	}
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector("image_moderation")
		serviceOpts = append(serviceOpts, moderation.WithRecorder(collector))
	}

	service, err := moderation.NewService(modelServer, preprocessor, serviceOpts...)
	if err != nil {
		return fmt.Errorf("failed to create moderation service: %w", err)
	}

	handler := handlers.NewHandler(service, handlers.Options{
		Model: handlers.ModelInfo{
			Classes:    modelServer.Metadata.Classes,
			InputShape: modelServer.Metadata.InputShape,
		},
		MaxUploadBytes: cfg.Moderation.MaxUploadBytes,
		Logger:         log,
	})
	router := handlers.NewRouter(handler, handlers.RouterOptions{
		CORSAllowOrigin: cfg.Server.CORSAllowOrigin,
		Metrics:         collector,
		MetricsPath:     cfg.Metrics.Path,
		Logger:          log,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, srv, cfg.Server.ShutdownTimeout, log, func() {
		logStartup(log, cfg, modelPath, modelServer.Metadata.Classes)
	})
}

// serve runs srv until ctx is done, then shuts it down gracefully. A listener
// that fails on its own is returned as an error.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, log logrus.FieldLogger, started func()) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	if started != nil {
		started()
	}

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("[Main] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("[Main] Server stopped")
	return nil
}

// projectRoot is the working directory, or the repository root when started
// from cmd/server.
func projectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if filepath.Base(wd) == "server" {
		wd = filepath.Join(wd, "../..")
	}
	return wd, nil
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func logStartup(log logrus.FieldLogger, cfg *config.Config, modelPath string, classes []string) {
	log.Infof("[Main] Server starting on port %s", cfg.Server.Port)
	log.Infof("[Main] Model loaded: %s", modelPath)
	log.Infof("[Main] Classes: %v", classes)
	log.Info("[Main] Endpoints:")
	log.Info("[Main]   GET  /api/v1/moderation/           - Liveness message")
	log.Info("[Main]   POST /api/v1/moderation/moderation - Moderate a batch of images")
	log.Info("[Main]   POST /api/v1/moderation/classify   - Classify a single image")
	log.Info("[Main]   GET  /health                       - Health check")
	if cfg.Metrics.Enabled {
		log.Infof("[Main]   GET  %s - Prometheus metrics", cfg.Metrics.Path)
	}
	log.Infof("[Main] Upload test: curl -X POST -F \"images=@photo.jpg\" http://localhost:%s/api/v1/moderation/moderation", cfg.Server.Port)
}
