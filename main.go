package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/umitkablan/betus/cmd"
	"github.com/umitkablan/betus/handler"
	"github.com/umitkablan/betus/logging"
	"github.com/umitkablan/betus/metrics"
	"github.com/umitkablan/betus/store"
	"github.com/umitkablan/betus/transport"
	"github.com/umitkablan/betus/tus"
)

func main() {
	root := cmd.NewRootCommand(run)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg cmd.Config) error {
	log := logging.New("betus")

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create upload directory: %w", err)
	}

	fm := tus.New(cfg.Dir, log)
	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)

	h := tus.NewHandler(fm)
	h.Metrics = recorder
	h.Log = log

	if cfg.ArchiveBucket != "" {
		s3Config, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			return fmt.Errorf("load S3 configuration: %w", err)
		}
		s3Client := s3.NewFromConfig(s3Config)

		archiver, err := store.NewArchiver(cfg.ArchiveBucket, s3Client, cfg.ArchiveKey, 10)
		if err != nil {
			return fmt.Errorf("build archiver: %w", err)
		}
		h.Archiver = archiver
	}

	rangeHandler := handler.RangeDownloadHandler{Manager: fm}

	var metricsHTTPHandler http.Handler
	if cfg.MetricsAddr == "" {
		metricsHTTPHandler = promHandler(registry)
	}

	mux := transport.NewServeMux(h, rangeHandler, metricsHTTPHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	if cfg.MetricsAddr != "" {
		go func() {
			metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promHandler(registry)}
			log.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	return nil
}

func promHandler(registry *prometheus.Registry) http.Handler {
	return metrics.HandlerFor(registry)
}
