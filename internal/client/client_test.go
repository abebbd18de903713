package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

const londonJSON = `{
  "coord": {"lon": -0.1257, "lat": 51.5085},
  "weather": [{"id": 803, "main": "Clouds", "description": "broken clouds", "icon": "04d"}],
  "main": {"temp": 288.15, "feels_like": 287.4, "temp_min": 286.0, "temp_max": 289.6, "pressure": 1012, "humidity": 72},
  "wind": {"speed": 4.12, "deg": 250},
  "sys": {"country": "GB"},
  "name": "London"
}`

func TestNewOpenWeatherClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{
			name:    "empty API key",
			apiKey:  "",
			wantErr: ErrInvalidAPIKey,
		},
		{
			name:    "too short API key",
			apiKey:  "short",
			wantErr: ErrInvalidAPIKey,
		},
		{
			name:    "valid API key",
			apiKey:  "valid-api-key-12345",
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenWeatherClient(tt.apiKey, "https://api.test.com", 2*time.Second, nil)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("NewOpenWeatherClient() expected error, got nil")
				}
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewOpenWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if client != nil {
					t.Errorf("NewOpenWeatherClient() expected nil client on error")
				}
			} else {
				if err != nil {
					t.Fatalf("NewOpenWeatherClient() unexpected error: %v", err)
				}
				if client == nil {
					t.Fatalf("NewOpenWeatherClient() expected client, got nil")
				}
			}
		})
	}
}

func TestNewOpenWeatherClient_DefaultURL(t *testing.T) {
	client, err := NewOpenWeatherClient("test-api-key-12345", "", time.Second, nil)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	if client.apiURL != DefaultAPIURL {
		t.Errorf("apiURL = %q, want %q", client.apiURL, DefaultAPIURL)
	}
}

func TestOpenWeatherClient_FetchCurrent_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("q") != "London" {
			t.Errorf("q = %q, want London", q.Get("q"))
		}
		if q.Get("appid") != "test-api-key-12345" {
			t.Errorf("expected API key in query")
		}
		if q.Has("units") {
			t.Errorf("units = %q, want standard units (no units param)", q.Get("units"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(londonJSON))
	}))
	defer server.Close()

	client, err := NewOpenWeatherClient("test-api-key-12345", server.URL, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}

	got, err := client.FetchCurrent(context.Background(), "London")
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}

	if got.Main == nil || got.Main.Temp == nil || *got.Main.Temp != 288.15 {
		t.Errorf("Main.Temp = %v, want 288.15", got.Main)
	}
	if got.Main.Humidity == nil || *got.Main.Humidity != 72 {
		t.Errorf("Main.Humidity wrong: %+v", got.Main)
	}
	if len(got.Weather) != 1 || *got.Weather[0].Description != "broken clouds" {
		t.Errorf("Weather = %+v, want broken clouds", got.Weather)
	}
	if got.Sys == nil || *got.Sys.Country != "GB" {
		t.Errorf("Sys.Country wrong: %+v", got.Sys)
	}
	if got.Coord == nil || *got.Coord.Lat != 51.5085 {
		t.Errorf("Coord.Lat wrong: %+v", got.Coord)
	}
}

// TestOpenWeatherClient_FetchCurrent_MissingFieldsDecode verifies that absent
// keys decode to nil pointers so the formatter can reject them.
func TestOpenWeatherClient_FetchCurrent_MissingFieldsDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"main": {"temp": 280.0}, "name": "Nowhere"}`))
	}))
	defer server.Close()

	client, _ := NewOpenWeatherClient("test-api-key-12345", server.URL, 2*time.Second, nil)
	got, err := client.FetchCurrent(context.Background(), "Nowhere")
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}
	if got.Main.Humidity != nil {
		t.Errorf("Main.Humidity = %v, want nil", *got.Main.Humidity)
	}
	if got.Wind != nil || got.Sys != nil || got.Coord != nil {
		t.Error("absent objects should decode to nil")
	}
}

func TestOpenWeatherClient_FetchCurrent_ErrorHandling(t *testing.T) {
	tests := []struct {
		name         string
		wantErr      error
		wantCategory ErrorCategory
		handler      http.HandlerFunc
	}{
		{
			name:         "401 unauthorized",
			wantErr:      ErrInvalidAPIKey,
			wantCategory: ErrorCategoryInvalidAPIKey,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name:         "404 not found",
			wantErr:      ErrLocationNotFound,
			wantCategory: ErrorCategoryLocationNotFound,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name:         "429 rate limited",
			wantErr:      ErrRateLimited,
			wantCategory: ErrorCategoryRateLimited,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name:         "500 server error",
			wantErr:      ErrUpstreamFailure,
			wantCategory: ErrorCategoryUpstream,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name:         "400 bad request",
			wantErr:      ErrUpstreamFailure,
			wantCategory: ErrorCategoryUpstream,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
		},
		{
			name:         "malformed JSON",
			wantErr:      ErrMalformedPayload,
			wantCategory: ErrorCategoryParsing,
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"main": {"temp": `))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client, err := NewOpenWeatherClient("test-api-key-12345", server.URL, 2*time.Second, nil)
			if err != nil {
				t.Fatalf("NewOpenWeatherClient() error = %v", err)
			}

			_, err = client.FetchCurrent(context.Background(), "test")
			if err == nil {
				t.Fatalf("FetchCurrent() expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FetchCurrent() error = %v, want %v", err, tt.wantErr)
			}

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("FetchCurrent() error type = %T, want *FetchError", err)
			}
			if fe.City != "test" {
				t.Errorf("FetchError.City = %q, want test", fe.City)
			}
			if fe.Category != tt.wantCategory {
				t.Errorf("FetchError.Category = %q, want %q", fe.Category, tt.wantCategory)
			}
		})
	}
}

// TestOpenWeatherClient_FetchCurrent_NoRetry verifies exactly one upstream call
// per FetchCurrent, even for transient failures.
func TestOpenWeatherClient_FetchCurrent_NoRetry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewOpenWeatherClient("test-api-key-12345", server.URL, 2*time.Second, nil)
	if _, err := client.FetchCurrent(context.Background(), "Paris"); err == nil {
		t.Fatal("FetchCurrent() expected error, got nil")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestOpenWeatherClient_FetchCurrent_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(londonJSON))
	}))
	defer server.Close()

	client, _ := NewOpenWeatherClient("test-api-key-12345", server.URL, 20*time.Millisecond, nil)
	_, err := client.FetchCurrent(context.Background(), "London")
	if err == nil {
		t.Fatal("FetchCurrent() expected timeout error, got nil")
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Category != ErrorCategoryTimeout {
		t.Errorf("FetchCurrent() error = %v, want *FetchError with timeout category", err)
	}
}

func TestOpenWeatherClient_FetchCurrent_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewOpenWeatherClient("test-api-key-12345", server.URL, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.FetchCurrent(ctx, "test")
	if err == nil {
		t.Fatalf("FetchCurrent() expected error, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FetchCurrent() error = %v, want context.Canceled", err)
	}
}

// TestOpenWeatherClient_FetchCurrent_RateLimiter verifies that an exhausted
// limiter blocks the outbound call instead of hitting the API.
func TestOpenWeatherClient_FetchCurrent_RateLimiter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(londonJSON))
	}))
	defer server.Close()

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	client, _ := NewOpenWeatherClient("test-api-key-12345", server.URL, 2*time.Second, limiter)

	if _, err := client.FetchCurrent(context.Background(), "London"); err != nil {
		t.Fatalf("first FetchCurrent() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.FetchCurrent(ctx, "London")
	if err == nil {
		t.Fatal("second FetchCurrent() expected limiter error, got nil")
	}
	if !strings.Contains(err.Error(), "rate limiter") {
		t.Errorf("error = %v, want rate limiter wait error", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestOpenWeatherClient_ValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
		wantOK  bool
	}{
		{"accepted", http.StatusOK, nil, true},
		{"rejected", http.StatusUnauthorized, ErrInvalidAPIKey, false},
		{"upstream error", http.StatusBadGateway, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("q") != "London" {
					t.Errorf("probe city = %q, want London", r.URL.Query().Get("q"))
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client, _ := NewOpenWeatherClient("test-api-key-12345", server.URL, 2*time.Second, nil)
			err := client.ValidateAPIKey(context.Background())
			if tt.wantOK {
				if err != nil {
					t.Fatalf("ValidateAPIKey() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ValidateAPIKey() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAPIKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "success"},
		{204, "success"},
		{429, "rate_limited"},
		{404, "client_error"},
		{503, "server_error"},
		{101, "error"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.code); got != tt.want {
			t.Errorf("statusLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
