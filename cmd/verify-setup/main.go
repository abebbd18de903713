package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-collector/internal/client"
	"github.com/kjstillabower/weather-collector/internal/config"
	"github.com/kjstillabower/weather-collector/internal/observability"
	"github.com/kjstillabower/weather-collector/internal/storage"
)

const checkTimeout = 15 * time.Second

type check struct {
	name string
	fn   func(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, w io.Writer) int {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(w, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	fmt.Fprintf(w, "Weather collector setup verification\n\n")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(w, "✗ configuration: %v\n", err)
		logger.Error("config", zap.Error(err))
		return 1
	}
	fmt.Fprintf(w, "✓ configuration (%d cities, bucket %s, region %s)\n", len(cfg.Cities), cfg.S3Bucket, cfg.AWSRegion)

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout, nil)
	if err != nil {
		fmt.Fprintf(w, "✗ weather client: %v\n", err)
		return 1
	}
	s3Client, err := storage.NewS3Client(ctx, storage.ClientConfig{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Endpoint:        cfg.S3Endpoint,
	})
	if err != nil {
		fmt.Fprintf(w, "✗ s3 client: %v\n", err)
		return 1
	}
	p := storage.NewProvisioner(s3Client, cfg.S3Bucket, cfg.AWSRegion)

	checks := []check{
		{"weather API key", weatherClient.ValidateAPIKey},
		{"bucket access", p.VerifyAccess},
		{"bucket write", func(ctx context.Context) error {
			_, err := p.ProbeWrite(ctx, time.Now())
			return err
		}},
	}
	return runChecks(ctx, checks, w, logger)
}

// runChecks runs every check, printing one line each, and returns 1 if any failed.
func runChecks(ctx context.Context, checks []check, w io.Writer, logger *zap.Logger) int {
	failed := 0
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.fn(cctx)
		cancel()
		if err != nil {
			failed++
			fmt.Fprintf(w, "✗ %s: %v\n", c.name, err)
			logger.Error("verification failed", zap.String("check", c.name), zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "✓ %s\n", c.name)
	}

	if failed > 0 {
		fmt.Fprintf(w, "\n%d of %d checks failed\n", failed, len(checks))
		return 1
	}
	fmt.Fprintf(w, "\nAll checks passed. Run the collector with: go run ./cmd/collector\n")
	return 0
}
