package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

// TestMetrics_Usable verifies that label dimensions match usage across the
// client, collector and storage packages.
func TestMetrics_Usable(t *testing.T) {
	WeatherAPICallsTotal.WithLabelValues("success").Inc()
	WeatherAPICallsTotal.WithLabelValues("client_error").Inc()
	WeatherAPIDuration.WithLabelValues("success").Observe(0.1)
	WeatherAPIErrorsTotal.WithLabelValues("timeout").Inc()
	CitiesProcessedTotal.WithLabelValues("success").Inc()
	FormatErrorsTotal.Inc()
	StorageWritesTotal.WithLabelValues("s3", "success").Inc()
	StorageWriteDuration.WithLabelValues("local").Observe(0.01)
}

func TestRecordStorageWrite(t *testing.T) {
	before := testutil.ToFloat64(StorageWritesTotal.WithLabelValues("local", "error"))
	RecordStorageWrite("local", time.Now(), errors.New("disk full"))
	after := testutil.ToFloat64(StorageWritesTotal.WithLabelValues("local", "error"))
	if after-before != 1 {
		t.Errorf("storageWritesTotal{local,error} delta = %v, want 1", after-before)
	}
}

// TestRecordRunComplete_NothingStored verifies that a run with no stored
// records leaves the last-success gauges untouched.
func TestRecordRunComplete_NothingStored(t *testing.T) {
	BatchRecords.Set(7)
	LastSuccessTimestamp.Set(42)

	RecordRunComplete(time.Now(), 0)

	if got := testutil.ToFloat64(BatchRecords); got != 7 {
		t.Errorf("batchRecords = %v, want 7", got)
	}
	if got := testutil.ToFloat64(LastSuccessTimestamp); got != 42 {
		t.Errorf("lastSuccessTimestampSeconds = %v, want 42", got)
	}

	RecordRunComplete(time.Now(), 3)
	if got := testutil.ToFloat64(BatchRecords); got != 3 {
		t.Errorf("batchRecords = %v, want 3", got)
	}
	if got := testutil.ToFloat64(LastSuccessTimestamp); got <= 42 {
		t.Errorf("lastSuccessTimestampSeconds = %v, want current time", got)
	}
}

func TestPushMetrics_EmptyURLIsNoop(t *testing.T) {
	if err := PushMetrics(context.Background(), "  ", "", "host"); err != nil {
		t.Fatalf("PushMetrics() error = %v, want nil", err)
	}
}

// TestPushMetrics_SendsToPushgateway verifies the push path and grouping key
// against a fake Pushgateway.
func TestPushMetrics_SendsToPushgateway(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := PushMetrics(context.Background(), server.URL, "", "collector-host"); err != nil {
		t.Fatalf("PushMetrics() error = %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if !strings.Contains(gotPath, "/job/"+DefaultPushJob) || !strings.Contains(gotPath, "/instance/collector-host") {
		t.Errorf("path = %q, want job and instance grouping", gotPath)
	}
}

// TestFlushTelemetry_SameGroupAcrossRuns verifies consecutive runs replace
// one Pushgateway group instead of creating a new group per run.
func TestFlushTelemetry_SameGroupAcrossRuns(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	for i := 0; i < 2; i++ {
		_ = FlushTelemetry(context.Background(), zap.NewNop(), server.URL, "weather_prod", DefaultInstance())
	}
	if len(paths) != 2 {
		t.Fatalf("pushes = %d, want 2", len(paths))
	}
	if paths[0] != paths[1] {
		t.Errorf("push paths differ between runs: %q vs %q", paths[0], paths[1])
	}
	if !strings.HasPrefix(paths[0], "/metrics/job/weather_prod") {
		t.Errorf("path = %q, want job weather_prod", paths[0])
	}
}

func TestDefaultInstance_MatchesHostname(t *testing.T) {
	host, err := os.Hostname()
	if err != nil {
		t.Skipf("hostname unavailable: %v", err)
	}
	if got := DefaultInstance(); got != host {
		t.Errorf("DefaultInstance() = %q, want %q", got, host)
	}
}

func TestPushMetrics_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := PushMetrics(context.Background(), server.URL, "job", ""); err == nil {
		t.Fatal("PushMetrics() expected error on 500 from gateway")
	}
}

func TestGatherer_IncludesCollectorMetrics(t *testing.T) {
	CitiesProcessedTotal.WithLabelValues("fetch_error").Inc()
	families, err := Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "citiesProcessedTotal" {
			found = true
		}
	}
	if !found {
		t.Error("citiesProcessedTotal not in gathered metrics")
	}
}
