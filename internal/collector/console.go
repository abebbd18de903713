package collector

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kjstillabower/weather-collector/internal/models"
	"github.com/kjstillabower/weather-collector/internal/record"
	"github.com/kjstillabower/weather-collector/internal/storage"
)

var (
	heavyRule = strings.Repeat("=", 60)
	lightRule = strings.Repeat("-", 60)
)

// console writes the progress report shown to whoever runs the collector.
// Write errors are ignored; the structured log is the record of truth.
type console struct {
	w     io.Writer
	title cases.Caser
}

func newConsole(w io.Writer) *console {
	return &console{w: w, title: cases.Title(language.English)}
}

func (c *console) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(c.w, format, args...)
}

func (c *console) banner() {
	c.printf("\n%s\nWeather Data Collection System - Starting\n%s\n\n", heavyRule, heavyRule)
}

func (c *console) processing(city string) {
	c.printf("\nProcessing: %s\n", city)
}

func (c *console) success(rec models.WeatherRecord) {
	c.printf("✓ Successfully fetched weather data for %s\n", rec.City)
	c.printf("  Temperature: %.1f°F\n", rec.TemperatureF)
	c.printf("  Feels Like: %.1f°F\n", rec.FeelsLikeF)
	c.printf("  Humidity: %d%%\n", rec.Humidity)
	c.printf("  Condition: %s\n", c.title.String(rec.WeatherDescription))
}

func (c *console) fetchFailed(city string, err error) {
	c.printf("✗ Error fetching weather data for %s: %v\n", city, err)
}

func (c *console) formatFailed(city string, err error) {
	var fe *record.FormatError
	if errors.As(err, &fe) && len(fe.Fields) > 0 {
		c.printf("✗ Error parsing weather data for %s: Missing key %s\n", city, strings.Join(fe.Fields, ", "))
		return
	}
	c.printf("✗ Error parsing weather data for %s: %v\n", city, err)
}

func (c *console) uploading() {
	c.printf("\n%s\nUploading data to AWS S3...\n%s\n\n", lightRule, lightRule)
}

func (c *console) stored(res storage.Result, err error) {
	if res.Uploaded {
		c.printf("✓ Successfully uploaded %s to S3 bucket: %s\n", res.Key, res.Bucket)
	}
	if res.LocalPath != "" {
		c.printf("✓ Local backup saved: %s\n", res.LocalPath)
	}
	if err != nil {
		c.printf("✗ Error storing batch: %v\n", err)
	}
}

func (c *console) interrupted() {
	c.printf("\n✗ Collection interrupted; nothing was stored\n")
}

func (c *console) summary(succeeded, total int) {
	c.printf("\n%s\nCollection Complete - Processed %d/%d cities\n%s\n\n", heavyRule, succeeded, total, heavyRule)
}
