// Package record turns raw OpenWeatherMap payloads into WeatherRecords in
// imperial units.
package record

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-collector/internal/client"
	"github.com/kjstillabower/weather-collector/internal/models"
)

const mphPerMetersPerSecond = 2.2369362920544

// FormatError reports a payload missing fields the record needs.
type FormatError struct {
	City   string
	Fields []string
	Err    error
}

func (e *FormatError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("format %s: missing required fields: %s", e.City, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("format %s: %v", e.City, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Format builds the record for city from p, stamped with now (UTC, whole
// seconds). Temperatures are converted from Kelvin, wind from m/s.
func Format(city string, p client.Payload, now time.Time) (models.WeatherRecord, error) {
	if err := validate.Struct(p); err != nil {
		return models.WeatherRecord{}, newFormatError(city, err)
	}

	w := p.Weather[0]
	return models.WeatherRecord{
		City:               city,
		Timestamp:          now.UTC().Truncate(time.Second),
		TemperatureF:       round2(KelvinToFahrenheit(*p.Main.Temp)),
		FeelsLikeF:         round2(KelvinToFahrenheit(*p.Main.FeelsLike)),
		Humidity:           *p.Main.Humidity,
		Pressure:           *p.Main.Pressure,
		WeatherCondition:   *w.Main,
		WeatherDescription: *w.Description,
		WindSpeedMPH:       round2(MetersPerSecondToMPH(*p.Wind.Speed)),
		Country:            *p.Sys.Country,
		Latitude:           *p.Coord.Lat,
		Longitude:          *p.Coord.Lon,
	}, nil
}

func newFormatError(city string, err error) *FormatError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &FormatError{City: city, Err: err}
	}
	seen := make(map[string]struct{}, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := jsonPath(fe.Namespace())
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return &FormatError{City: city, Fields: fields, Err: err}
}

var fieldNames = map[string]string{
	"Coord": "coord", "Lat": "lat", "Lon": "lon",
	"Weather": "weather", "Main": "main", "Description": "description",
	"Temp": "temp", "FeelsLike": "feels_like", "Pressure": "pressure", "Humidity": "humidity",
	"Wind": "wind", "Speed": "speed", "Sys": "sys", "Country": "country",
}

// jsonPath turns a validator namespace like "Payload.Main.FeelsLike" into
// the API's key path "main.feels_like".
func jsonPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		idx := ""
		if j := strings.IndexByte(part, '['); j >= 0 {
			part, idx = part[:j], part[j:]
		}
		if name, ok := fieldNames[part]; ok {
			part = name
		}
		parts[i] = part + idx
	}
	return strings.Join(parts, ".")
}

// KelvinToFahrenheit converts k Kelvin to degrees Fahrenheit.
func KelvinToFahrenheit(k float64) float64 {
	return CelsiusToFahrenheit(k - 273.15)
}

// CelsiusToFahrenheit converts c degrees Celsius to degrees Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// MetersPerSecondToMPH converts a speed in m/s to miles per hour.
func MetersPerSecondToMPH(ms float64) float64 {
	return ms * mphPerMetersPerSecond
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
