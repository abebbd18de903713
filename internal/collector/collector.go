package collector

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-collector/internal/client"
	"github.com/kjstillabower/weather-collector/internal/models"
	"github.com/kjstillabower/weather-collector/internal/observability"
	"github.com/kjstillabower/weather-collector/internal/record"
	"github.com/kjstillabower/weather-collector/internal/storage"
)

// ErrNoRecords is returned when no city produced a record. The sink is not called.
var ErrNoRecords = errors.New("no city returned weather data")

// Fetcher fetches the raw payload for one city. client.OpenWeatherClient implements it.
type Fetcher interface {
	FetchCurrent(ctx context.Context, city string) (client.Payload, error)
}

// Stage names where a city failed.
const (
	StageFetch  = "fetch"
	StageFormat = "format"
)

// CityFailure records why a city is missing from the batch.
type CityFailure struct {
	City  string
	Stage string
	Err   error
}

// Report summarizes one run.
type Report struct {
	RunID     string
	Attempted int
	Batch     models.Batch
	Failed    []CityFailure
	Result    storage.Result
	Stored    bool
}

// Succeeded returns the number of cities in the batch.
func (r Report) Succeeded() int {
	return r.Batch.Len()
}

// Collector runs one fetch, format, store pass over an ordered city list.
type Collector struct {
	fetcher  Fetcher
	sink     storage.Sink
	logger   *zap.Logger
	console  *console
	now      func() time.Time
	newRunID func() string
}

// New creates a Collector. out receives the human-readable progress report;
// nil discards it.
func New(fetcher Fetcher, sink storage.Sink, logger *zap.Logger, out io.Writer) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Collector{
		fetcher:  fetcher,
		sink:     sink,
		logger:   logger,
		console:  newConsole(out),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// Run processes cities in order. A city that fails to fetch or format is
// reported and skipped; the rest still run. If at least one record was
// produced the batch is stored once, and a storage failure is returned.
// If none was produced Run returns ErrNoRecords without touching the sink.
// Cancelling ctx stops the run before the next city or before storing;
// nothing is stored.
func (c *Collector) Run(ctx context.Context, cities []string) (Report, error) {
	start := c.now()
	report := Report{
		RunID: c.newRunID(),
		Batch: models.Batch{CollectedAt: start},
	}
	report.Batch.RunID = report.RunID
	logger := c.logger.With(zap.String("run_id", report.RunID))

	logger.Info("collection started", zap.Int("cities", len(cities)))
	c.console.banner()

	for _, city := range cities {
		if err := ctx.Err(); err != nil {
			return report, c.interrupted(logger, len(cities)-report.Attempted, err)
		}
		report.Attempted++
		c.console.processing(city)

		rec, failure := c.collectCity(ctx, logger, city)
		if failure != nil {
			report.Failed = append(report.Failed, *failure)
			continue
		}
		report.Batch.Records = append(report.Batch.Records, rec)
		observability.CitiesProcessedTotal.WithLabelValues("success").Inc()
		c.console.success(rec)
	}

	// A cancel during the last city must not reach the sink.
	if err := ctx.Err(); err != nil {
		return report, c.interrupted(logger, 0, err)
	}

	if report.Batch.Len() == 0 {
		observability.RecordRunComplete(start, 0)
		logger.Error("no city returned weather data", zap.Int("attempted", report.Attempted))
		c.console.summary(0, len(cities))
		return report, ErrNoRecords
	}

	c.console.uploading()
	res, err := c.sink.Store(ctx, report.Batch)
	report.Result = res
	c.console.stored(res, err)
	if err != nil {
		observability.RecordRunComplete(start, 0)
		logger.Error("batch storage failed", zap.Int("records", report.Batch.Len()), zap.Error(err))
		c.console.summary(report.Batch.Len(), len(cities))
		return report, err
	}
	report.Stored = true

	observability.RecordRunComplete(start, report.Batch.Len())
	logger.Info("collection complete",
		zap.Int("succeeded", report.Batch.Len()),
		zap.Int("failed", len(report.Failed)),
		zap.String("key", res.Key),
		zap.Duration("duration", time.Since(start)),
	)
	c.console.summary(report.Batch.Len(), len(cities))
	return report, nil
}

func (c *Collector) interrupted(logger *zap.Logger, remaining int, err error) error {
	logger.Warn("collection interrupted", zap.Int("remaining", remaining), zap.Error(err))
	c.console.interrupted()
	return err
}

func (c *Collector) collectCity(ctx context.Context, logger *zap.Logger, city string) (models.WeatherRecord, *CityFailure) {
	payload, err := c.fetcher.FetchCurrent(ctx, city)
	if err != nil {
		observability.CitiesProcessedTotal.WithLabelValues("fetch_error").Inc()
		logger.Warn("fetch failed",
			zap.String("city", city),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		c.console.fetchFailed(city, err)
		return models.WeatherRecord{}, &CityFailure{City: city, Stage: StageFetch, Err: err}
	}

	rec, err := record.Format(city, payload, c.now())
	if err != nil {
		observability.CitiesProcessedTotal.WithLabelValues("format_error").Inc()
		observability.FormatErrorsTotal.Inc()
		logger.Warn("format failed", zap.String("city", city), zap.Error(err))
		c.console.formatFailed(city, err)
		return models.WeatherRecord{}, &CityFailure{City: city, Stage: StageFormat, Err: err}
	}

	logger.Debug("city collected", zap.String("city", city), zap.Float64("temperature_f", rec.TemperatureF))
	return rec, nil
}
