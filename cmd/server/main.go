// Package main runs the Cabal wallet metrics API: it scores Solana wallets
// from their trading PnL and serves the results over HTTP.
package main

import (
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/cabal-metrics/internal/config"
	"github.com/yourorg/cabal-metrics/internal/export"
	"github.com/yourorg/cabal-metrics/internal/otel"
	"github.com/yourorg/cabal-metrics/internal/security"
	"github.com/yourorg/cabal-metrics/internal/service"
)

const version = "1.0.0"

func main() {
	setupLogging()

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint, version)
	defer shutdownTracer()

	var (
		serverOpts  []ServerOption
		serviceOpts []service.Option
	)

	if cfg.EnableMetrics {
		m := registerMetrics()
		serverOpts = append(serverOpts, WithMetrics(m))
		serviceOpts = append(serviceOpts, service.WithObserver(m))
	}

	svc, err := service.New(cfg, serviceOpts...)
	if err != nil {
		logrus.Fatalf("Failed to initialize metrics service: %v", err)
	}

	if cfg.SigningKey != "" {
		signer, err := security.NewSigner(cfg.SigningKey)
		if err != nil {
			logrus.Fatalf("Invalid RESPONSE_SIGNING_KEY: %v", err)
		}
		serverOpts = append(serverOpts, WithSigner(signer))
	}

	serverOpts = append(serverOpts, WithExporter(export.New(export.Config{
		WebhookURL: cfg.ExportWebhookURL,
		APIKey:     cfg.ExportWebhookAPIKey,
		BatchSize:  cfg.ExportBatchSize,
		Interval:   cfg.ExportInterval,
	})))

	NewServer(cfg, svc, serverOpts...).Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}
