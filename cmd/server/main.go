package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/deepfake-api/internal/config"
	"github.com/Brownie44l1/deepfake-api/internal/frame"
	"github.com/Brownie44l1/deepfake-api/internal/handlers"
	"github.com/Brownie44l1/deepfake-api/internal/model"
	"github.com/Brownie44l1/deepfake-api/internal/pipeline"
)

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := cfg.NewLogger()

	logger.Infof("Loading model from: %s", cfg.Model.Path)

	// A failed load leaves the service in synthetic-score mode for good.
	inference := model.NewInferenceContext(cfg.Model, logger)
	defer inference.Close()
	logger.Info(inference.Status())

	video := frame.NewVideoExtractor(cfg.Video.FFmpegPath, cfg.Video.FFprobePath, logger)
	analyzer := pipeline.NewAnalyzer(frame.NewAcquirer(video), inference, cfg.RequestTimeout, logger)
	handler := handlers.NewHandler(analyzer, cfg.MaxUploadMB<<20, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
	}

	logger.Infof("Server starting on port %s", cfg.Port)
	logger.Info("Endpoints:")
	logger.Info("  GET  /health    - Health check and model mode")
	logger.Info("  POST /analyze   - Score an image or video upload (field 'file')")
	logger.Info("  POST /predict   - Score a prebuilt [1,3,224,224] tensor")
	logger.Info("  POST /calibrate - Map raw model output to a verdict")

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Server failed: %v", err)
		}
	case sig := <-stop:
		logger.Infof("Received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("Shutdown failed: %v", err)
		}
	}
}
