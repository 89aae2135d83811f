package location

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"travelflow-backend/metrics"
	"travelflow-backend/models"

	"go.uber.org/zap"
)

const (
	defaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	defaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	defaultForecastURL  = "https://api.open-meteo.com/v1/forecast"
	defaultCountriesURL = "https://restcountries.com/v3.1/alpha"
	defaultRatesURL     = "https://api.exchangerate-api.com/v4/latest"
	defaultTranslateURL = "https://translate.googleapis.com/translate_a/single"

	SearchLimit = 5
)

// Endpoints are the base URLs of the public APIs the client talks to.
type Endpoints struct {
	Geocoding string
	Nominatim string
	Forecast  string
	Countries string
	Rates     string
	Translate string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Geocoding: defaultGeocodingURL,
		Nominatim: defaultNominatimURL,
		Forecast:  defaultForecastURL,
		Countries: defaultCountriesURL,
		Rates:     defaultRatesURL,
		Translate: defaultTranslateURL,
	}
}

type Client struct {
	httpClient       *http.Client
	endpoints        Endpoints
	userAgent        string
	geocodeTimeout   time.Duration
	weatherTimeout   time.Duration
	translateTimeout time.Duration
}

type Option func(*Client)

func WithEndpoints(e Endpoints) Option {
	return func(c *Client) { c.endpoints = e }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(geocodeTimeout, weatherTimeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient:       &http.Client{},
		endpoints:        DefaultEndpoints(),
		userAgent:        "travelflow-backend/1.0",
		geocodeTimeout:   geocodeTimeout,
		weatherTimeout:   weatherTimeout,
		translateTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type openMeteoSearchResponse struct {
	Results []models.GeocodeResult `json:"results"`
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// Search returns up to SearchLimit Open-Meteo matches for query.
func (c *Client) Search(ctx context.Context, query string) ([]models.GeocodeResult, error) {
	return c.searchOpenMeteo(ctx, query, SearchLimit)
}

func (c *Client) searchOpenMeteo(ctx context.Context, name string, count int) ([]models.GeocodeResult, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("count", strconv.Itoa(count))
	q.Set("language", "en")
	q.Set("format", "json")

	var resp openMeteoSearchResponse
	if err := c.getJSON(ctx, c.geocodeTimeout, c.endpoints.Geocoding+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("open-meteo search: %w", err)
	}
	if resp.Results == nil {
		return []models.GeocodeResult{}, nil
	}
	return resp.Results, nil
}

func (c *Client) searchNominatim(ctx context.Context, place string) (*models.GeocodeResult, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("addressdetails", "1")

	var places []nominatimPlace
	if err := c.getJSON(ctx, c.geocodeTimeout, c.endpoints.Nominatim+"?"+q.Encode(), &places); err != nil {
		return nil, fmt.Errorf("nominatim search: %w", err)
	}
	if len(places) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing nominatim latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing nominatim longitude: %w", err)
	}
	return &models.GeocodeResult{
		Name:        places[0].DisplayName,
		Latitude:    lat,
		Longitude:   lon,
		Country:     places[0].Address.Country,
		CountryCode: places[0].Address.CountryCode,
	}, nil
}

// Locate finds the best match for place, trying Open-Meteo first and
// Nominatim when Open-Meteo has no result. It returns nil when neither knows
// the place.
func (c *Client) Locate(ctx context.Context, place string) (*models.GeocodeResult, error) {
	results, err := c.searchOpenMeteo(ctx, place, 1)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return &results[0], nil
	}

	zap.L().Warn("Open-Meteo could not find location, trying Nominatim", zap.String("location", place))
	return c.searchNominatim(ctx, place)
}

// Resolve returns the coordinates of place, or nil when it cannot be found.
func (c *Client) Resolve(ctx context.Context, place string) (*models.Coordinates, error) {
	result, err := c.Locate(ctx, place)
	if err != nil {
		metrics.EnrichmentTotal.WithLabelValues("geocode", metrics.ResultError).Inc()
		return nil, err
	}
	if result == nil || (result.Latitude == 0 && result.Longitude == 0) {
		metrics.EnrichmentTotal.WithLabelValues("geocode", metrics.ResultUnresolved).Inc()
		return nil, nil
	}
	metrics.EnrichmentTotal.WithLabelValues("geocode", metrics.ResultResolved).Inc()
	return &models.Coordinates{Lat: result.Latitude, Lon: result.Longitude}, nil
}
