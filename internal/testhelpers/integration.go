//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-collector/internal/client"
	"github.com/kjstillabower/weather-collector/internal/models"
	"github.com/kjstillabower/weather-collector/internal/storage"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey string
	APIURL string

	// S3 is exercised only when Bucket is set.
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if OPENWEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("OPENWEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("OPENWEATHER_API_URL")
	if apiURL == "" {
		apiURL = client.DefaultAPIURL
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	return IntegrationTestConfig{
		APIKey:          apiKey,
		APIURL:          apiURL,
		Bucket:          os.Getenv("INTEGRATION_S3_BUCKET"),
		Region:          region,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Endpoint:        os.Getenv("S3_ENDPOINT_URL"),
	}
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) client.WeatherClient {
	c, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

// SetupIntegrationSink returns a real S3 sink writing under an integration/
// prefix when a bucket is configured, and a MemorySink otherwise.
func SetupIntegrationSink(t *testing.T, cfg IntegrationTestConfig) storage.Sink {
	if cfg.Bucket == "" {
		t.Log("INTEGRATION_S3_BUCKET not set, storing batches in memory")
		return &MemorySink{}
	}
	api, err := storage.NewS3Client(context.Background(), storage.ClientConfig{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Endpoint:        cfg.Endpoint,
	})
	if err != nil {
		t.Fatalf("NewS3Client() error = %v", err)
	}
	return storage.NewS3Sink(api, cfg.Bucket, "integration/", t.TempDir(), zap.NewNop())
}

// MemorySink keeps stored batches in memory.
type MemorySink struct {
	mu      sync.Mutex
	Batches []models.Batch
}

func (m *MemorySink) Store(ctx context.Context, batch models.Batch) (storage.Result, error) {
	if batch.Len() == 0 {
		return storage.Result{}, &storage.StorageError{Op: "marshal", Kind: storage.KindUnknown, Err: storage.ErrEmptyBatch}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, batch)
	return storage.Result{Key: storage.ObjectKey("", batch.CollectedAt)}, nil
}
