package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-collector/internal/observability"
)

// DefaultAPIURL is the OpenWeatherMap current-weather endpoint.
const DefaultAPIURL = "https://api.openweathermap.org/data/2.5/weather"

type WeatherClient interface {
	FetchCurrent(ctx context.Context, city string) (Payload, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrMalformedPayload = errors.New("malformed payload")
)

// FetchError reports a failed lookup for one city: transport failure or
// timeout, a non-2xx response, or a body that is not valid JSON.
type FetchError struct {
	City     string
	Category ErrorCategory
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.City, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Payload is the subset of the OpenWeatherMap response the collector uses.
// Fields are pointers so that absent keys can be told apart from zero values.
type Payload struct {
	Coord *struct {
		Lat *float64 `json:"lat" validate:"required"`
		Lon *float64 `json:"lon" validate:"required"`
	} `json:"coord" validate:"required"`
	Weather []struct {
		Main        *string `json:"main" validate:"required"`
		Description *string `json:"description" validate:"required"`
	} `json:"weather" validate:"required,min=1,dive"`
	Main *struct {
		Temp      *float64 `json:"temp" validate:"required"`
		FeelsLike *float64 `json:"feels_like" validate:"required"`
		Pressure  *int     `json:"pressure" validate:"required"`
		Humidity  *int     `json:"humidity" validate:"required"`
	} `json:"main" validate:"required"`
	Wind *struct {
		Speed *float64 `json:"speed" validate:"required"`
	} `json:"wind" validate:"required"`
	Sys *struct {
		Country *string `json:"country" validate:"required"`
	} `json:"sys" validate:"required"`
	Name string `json:"name"`
}

type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
}

// NewOpenWeatherClient returns a client that issues exactly one request per
// FetchCurrent call. limiter may be nil; when set, each call waits for a token
// so a run stays inside the API plan's per-minute quota.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration, limiter *rate.Limiter) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	return &OpenWeatherClient{
		apiKey:  apiKey,
		apiURL:  apiURL,
		timeout: timeout,
		limiter: limiter,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// FetchCurrent performs a single request for city and decodes the body.
// Every failure is returned as *FetchError. No retries.
func (c *OpenWeatherClient) FetchCurrent(ctx context.Context, city string) (Payload, error) {
	payload, err := c.callAPI(ctx, city)
	if err != nil {
		category := CategorizeError(err)
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(category)).Inc()
		return Payload{}, &FetchError{City: city, Category: category, Err: err}
	}
	return payload, nil
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, city string) (Payload, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Payload{}, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	start := time.Now()

	req, err := c.buildRequest(ctx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return Payload{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Payload{}, fmt.Errorf("request timeout: %w", err)
		}
		return Payload{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return Payload{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("read response body: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Payload{}, fmt.Errorf("%w: parse response: %v", ErrMalformedPayload, err)
	}
	return payload, nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	// No units parameter: standard units (Kelvin, m/s). Conversion happens in the formatter.
	params := baseURL.Query()
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenWeatherClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w: HTTP 404", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP 429", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues one probe request for London and reports whether the
// key is accepted. Used by verify-setup, not by collection runs.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
