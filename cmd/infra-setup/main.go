package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-collector/internal/config"
	"github.com/kjstillabower/weather-collector/internal/observability"
	"github.com/kjstillabower/weather-collector/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("infra-setup", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	archiveDays := fs.Int32("archive-days", storage.DefaultArchiveDays, "days before batches move to GLACIER")
	envTag := fs.String("environment", "", "value for the Environment bucket tag")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if *archiveDays <= 0 {
		fmt.Fprintf(stderr, "infra-setup: --archive-days must be positive, got %d\n", *archiveDays)
		return 1
	}

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadStorage()
	if err != nil {
		logger.Error("config", zap.Error(err))
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	api, err := storage.NewS3Client(ctx, storage.ClientConfig{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Endpoint:        cfg.S3Endpoint,
	})
	if err != nil {
		logger.Error("s3 client", zap.Error(err))
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	return provision(ctx, storage.NewProvisioner(api, cfg.S3Bucket, cfg.AWSRegion), setupOptions(cfg.S3Prefix, *archiveDays, *envTag), cfg.S3Bucket, cfg.AWSRegion, stdout, logger)
}

func setupOptions(keyPrefix string, archiveDays int32, envTag string) storage.SetupOptions {
	tags := make(map[string]string, len(storage.DefaultTags))
	for k, v := range storage.DefaultTags {
		tags[k] = v
	}
	if envTag != "" {
		tags["Environment"] = envTag
	}
	return storage.SetupOptions{KeyPrefix: keyPrefix, ArchiveDays: archiveDays, Tags: tags}
}

// provision runs the setup steps and prints one line per step. It returns
// the process exit code.
func provision(ctx context.Context, p *storage.Provisioner, opts storage.SetupOptions, bucket, region string, w io.Writer, logger *zap.Logger) int {
	fmt.Fprintf(w, "Setting up S3 bucket %s in %s\n\n", bucket, region)
	steps, err := p.Setup(ctx, opts)
	for _, s := range steps {
		if s.Err != nil {
			fmt.Fprintf(w, "✗ %s: %v\n", s.Name, s.Err)
			logger.Error("setup step failed", zap.String("step", s.Name), zap.String("bucket", bucket), zap.Error(s.Err))
			continue
		}
		fmt.Fprintf(w, "✓ %s\n", s.Name)
	}
	if err != nil {
		fmt.Fprintf(w, "\nSetup incomplete for bucket %s\n", bucket)
		return 1
	}
	fmt.Fprintf(w, "\nBucket %s is ready. Set S3_BUCKET_NAME=%s for the collector.\n", bucket, bucket)
	logger.Info("bucket ready", zap.String("bucket", bucket), zap.String("archive_prefix", storage.BatchKeyPrefix(opts.KeyPrefix)), zap.Int32("archive_days", opts.ArchiveDays))
	return 0
}
