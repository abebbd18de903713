package models

import "time"

// WeatherRecord is one city's normalized reading for a collection run.
type WeatherRecord struct {
	City               string    `json:"city"`
	Timestamp          time.Time `json:"timestamp"`
	TemperatureF       float64   `json:"temperature_f"`
	FeelsLikeF         float64   `json:"feels_like_f"`
	Humidity           int       `json:"humidity"`
	Pressure           int       `json:"pressure"`
	WeatherCondition   string    `json:"weather_condition"`
	WeatherDescription string    `json:"weather_description"`
	WindSpeedMPH       float64   `json:"wind_speed_mph"`
	Country            string    `json:"country"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
}

// Batch is the ordered set of records produced by one run. Only Records is
// serialized; RunID and CollectedAt travel as object metadata and file names.
type Batch struct {
	RunID       string
	CollectedAt time.Time
	Records     []WeatherRecord
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Records)
}
