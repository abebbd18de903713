package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-collector/internal/client"
	"github.com/kjstillabower/weather-collector/internal/collector"
	"github.com/kjstillabower/weather-collector/internal/config"
	"github.com/kjstillabower/weather-collector/internal/observability"
	"github.com/kjstillabower/weather-collector/internal/storage"
)

// Process exit codes.
const (
	exitOK          = 0
	exitConfig      = 1
	exitNoData      = 2
	exitStorage     = 3
	exitInterrupted = 4
)

const flushTimeout = 5 * time.Second

type options struct {
	cities        []string
	noLocalBackup bool
	localDir      string
	quiet         bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringArrayVar(&opts.cities, "city", nil, "city to collect (repeatable); overrides the configured list")
	fs.BoolVar(&opts.noLocalBackup, "no-local-backup", false, "skip the local JSON backup")
	fs.StringVar(&opts.localDir, "local-dir", "", "directory for the local JSON backup")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress the console report")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// applyOptions layers command-line overrides onto the loaded configuration.
func applyOptions(cfg *config.Config, opts options) error {
	if len(opts.cities) > 0 {
		if err := cfg.SetCities(opts.cities); err != nil {
			return err
		}
	}
	if opts.localDir != "" {
		cfg.LocalBackupDir = opts.localDir
	}
	if opts.noLocalBackup {
		cfg.LocalBackup = false
	}
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "collector: %v\n", err)
		return exitConfig
	}

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err == nil {
		err = applyOptions(cfg, opts)
	}
	if err != nil {
		logger.Error("config", zap.Error(err))
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitConfig
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMinute)), 1)
	}
	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout, limiter)
	if err != nil {
		logger.Error("weather client", zap.Error(err))
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitConfig
	}

	s3Client, err := storage.NewS3Client(ctx, storage.ClientConfig{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Endpoint:        cfg.S3Endpoint,
	})
	if err != nil {
		logger.Error("s3 client", zap.Error(err))
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitConfig
	}
	localDir := ""
	if cfg.LocalBackup {
		localDir = cfg.LocalBackupDir
	}
	sink := storage.NewS3Sink(s3Client, cfg.S3Bucket, cfg.S3Prefix, localDir, logger)

	out := stdout
	if opts.quiet {
		out = io.Discard
	}
	report, err := collector.New(weatherClient, sink, logger, out).Run(ctx, cfg.Cities)
	code := exitCode(err)
	if code != exitOK {
		fmt.Fprintf(stderr, "collector: %v\n", err)
	}
	logger.Info("run finished", zap.String("run_id", report.RunID), zap.Int("exit_code", code))

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	_ = observability.FlushTelemetry(flushCtx, logger, cfg.PushgatewayURL, cfg.PushJob, observability.DefaultInstance())
	return code
}

// exitCode maps the outcome of a run to the process exit status.
func exitCode(err error) int {
	var cfgErr *config.ConfigError
	var storeErr *storage.StorageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, collector.ErrNoRecords):
		return exitNoData
	case errors.As(err, &storeErr):
		return exitStorage
	case errors.As(err, &cfgErr):
		return exitConfig
	default:
		return exitStorage
	}
}
