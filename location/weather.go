package location

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"travelflow-backend/metrics"
	"travelflow-backend/models"
)

type forecastResponse struct {
	CurrentWeather *struct {
		Temperature float64 `json:"temperature"`
		WeatherCode int     `json:"weathercode"`
	} `json:"current_weather"`
}

// CurrentWeather returns the current temperature, rounded to whole degrees,
// and WMO weather code at the given point. It returns nil when the forecast
// carries no current conditions.
func (c *Client) CurrentWeather(ctx context.Context, lat, lon float64) (*models.Weather, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current_weather", "true")

	var resp forecastResponse
	if err := c.getJSON(ctx, c.weatherTimeout, c.endpoints.Forecast+"?"+q.Encode(), &resp); err != nil {
		metrics.EnrichmentTotal.WithLabelValues("weather", metrics.ResultError).Inc()
		return nil, fmt.Errorf("open-meteo forecast: %w", err)
	}
	if resp.CurrentWeather == nil {
		metrics.EnrichmentTotal.WithLabelValues("weather", metrics.ResultUnresolved).Inc()
		return nil, nil
	}

	metrics.EnrichmentTotal.WithLabelValues("weather", metrics.ResultResolved).Inc()
	return &models.Weather{
		Temp: int(math.Floor(resp.CurrentWeather.Temperature + 0.5)),
		Code: resp.CurrentWeather.WeatherCode,
	}, nil
}

func WeatherDescription(code int) string {
	switch {
	case code == 0:
		return "Clear sky"
	case code < 4:
		return "Mostly clear"
	case code < 50:
		return "Cloudy"
	case code < 70:
		return "Rainy"
	case code < 80:
		return "Snowy"
	default:
		return "Stormy"
	}
}
