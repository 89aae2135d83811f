package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"travelflow-backend/models"
	"travelflow-backend/repository"
)

type mockGeocoder struct {
	mu     sync.Mutex
	places map[string]models.Coordinates
	err    error
	calls  []string
}

func (m *mockGeocoder) Resolve(ctx context.Context, place string) (*models.Coordinates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, place)
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.places[place]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *mockGeocoder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockWeather struct {
	mu      sync.Mutex
	weather *models.Weather
	err     error
	calls   int
}

func (m *mockWeather) CurrentWeather(ctx context.Context, lat, lon float64) (*models.Weather, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.weather == nil {
		return nil, nil
	}
	w := *m.weather
	return &w, nil
}

func (m *mockWeather) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockProvider struct {
	name     string
	response string
	err      error
	prompts  []string
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

var errUpstream = errors.New("upstream unavailable")

type testEnv struct {
	store     *repository.MemoryDocumentStore
	sessions  *SessionManager
	geocoder  *mockGeocoder
	weather   *mockWeather
	ids       *IDGenerator
	itinerary ItineraryService
	trips     TripService
}

func newTestEnv(providers ...Provider) *testEnv {
	store := repository.NewMemoryDocumentStore()
	env := &testEnv{
		store:    store,
		sessions: NewSessionManager(store, repository.WithRetries(0)),
		geocoder: &mockGeocoder{places: map[string]models.Coordinates{
			"Tokyo":        {Lat: 35.68, Lon: 139.69},
			"Senso-ji":     {Lat: 35.71, Lon: 139.80},
			"Tokyo Tower":  {Lat: 35.66, Lon: 139.75},
			"Shibuya":      {Lat: 35.66, Lon: 139.70},
			"Tokyo Museum": {Lat: 35.72, Lon: 139.77},
		}},
		weather: &mockWeather{weather: &models.Weather{Temp: 18, Code: 2}},
		ids:     NewIDGenerator(),
	}
	env.itinerary = NewItineraryService(env.sessions, env.geocoder, env.weather, env.ids)
	planner := NewPlannerService(time.Second, providers...)
	env.trips = NewTripService(env.sessions, env.itinerary, planner, env.geocoder, env.weather, env.ids)
	return env
}

func tokyoSettings(days int) models.TripSettings {
	s := models.DefaultSettings()
	s.Destination = "Tokyo"
	s.StartDate = "2026-04-01"
	s.Days = days
	s.Users = []string{"Alice", "Bob"}
	s.CurrencyCode = "JPY"
	s.CurrencySymbol = "¥"
	return s
}
