package location

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewClient(time.Second, time.Second, WithEndpoints(Endpoints{
		Geocoding: srv.URL + "/geo",
		Nominatim: srv.URL + "/nominatim",
		Forecast:  srv.URL + "/forecast",
		Countries: srv.URL + "/alpha",
		Rates:     srv.URL + "/latest",
		Translate: srv.URL + "/translate",
	}))
}

func TestResolve_OpenMeteoHit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Louvre", r.URL.Query().Get("name"))
		assert.Equal(t, "1", r.URL.Query().Get("count"))
		w.Write([]byte(`{"results":[{"name":"Louvre","latitude":48.86,"longitude":2.33,"country_code":"FR"}]}`))
	})
	mux.HandleFunc("/nominatim", func(w http.ResponseWriter, r *http.Request) {
		t.Error("nominatim should not be called when open-meteo resolves")
	})

	coords, err := newTestClient(t, mux).Resolve(context.Background(), "Louvre")
	require.NoError(t, err)
	require.NotNil(t, coords)
	assert.InDelta(t, 48.86, coords.Lat, 1e-9)
	assert.InDelta(t, 2.33, coords.Lon, 1e-9)
}

func TestResolve_FallsBackToNominatim(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/nominatim", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Shibuya Crossing", r.URL.Query().Get("q"))
		w.Write([]byte(`[{"lat":"35.6595","lon":"139.7005","display_name":"Shibuya Crossing","address":{"country_code":"jp"}}]`))
	})

	coords, err := newTestClient(t, mux).Resolve(context.Background(), "Shibuya Crossing")
	require.NoError(t, err)
	require.NotNil(t, coords)
	assert.InDelta(t, 35.6595, coords.Lat, 1e-9)
}

func TestResolve_UnknownPlaceIsNil(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})
	mux.HandleFunc("/nominatim", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	coords, err := newTestClient(t, mux).Resolve(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Nil(t, coords)
}

func TestResolve_UpstreamErrorIsReported(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	coords, err := newTestClient(t, mux).Resolve(context.Background(), "Paris")
	assert.Error(t, err)
	assert.Nil(t, coords)
}

func TestResolve_TimeoutIsReported(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c := newTestClient(t, mux)
	c.geocodeTimeout = 50 * time.Millisecond

	_, err := c.Resolve(context.Background(), "Slowtown")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		w.Write([]byte(`{"results":[{"name":"Paris","latitude":48.85,"longitude":2.35,"country":"France"},{"name":"Paris","latitude":33.66,"longitude":-95.55,"country":"United States"}]}`))
	})

	results, err := newTestClient(t, mux).Search(context.Background(), "Paris")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "France", results[0].Country)
}

func TestCurrentWeather(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("current_weather"))
		w.Write([]byte(`{"current_weather":{"temperature":21.5,"weathercode":61}}`))
	})

	weather, err := newTestClient(t, mux).CurrentWeather(context.Background(), 48.85, 2.35)
	require.NoError(t, err)
	require.NotNil(t, weather)
	assert.Equal(t, 22, weather.Temp)
	assert.Equal(t, 61, weather.Code)
}

func TestWeatherDescription(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "Clear sky"},
		{2, "Mostly clear"},
		{45, "Cloudy"},
		{61, "Rainy"},
		{71, "Snowy"},
		{95, "Stormy"},
	}
	for _, tt := range tests {
		if got := WeatherDescription(tt.code); got != tt.want {
			t.Errorf("WeatherDescription(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestCountryInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/alpha/JP", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"currencies":{"JPY":{"name":"Japanese yen","symbol":"¥"}},"languages":{"jpn":"Japanese"}}]`))
	})

	info, err := newTestClient(t, mux).CountryInfo(context.Background(), "JP")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "JPY", info.CurrencyCode)
	assert.Equal(t, "¥", info.CurrencySymbol)
	assert.Equal(t, "Japanese", info.LangName)
}

func TestExchangeRate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/USD", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rates":{"JPY":150.25}}`))
	})
	mux.HandleFunc("/latest/EUR", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	c := newTestClient(t, mux)

	assert.InDelta(t, 150.25, c.ExchangeRate(context.Background(), "usd", "JPY"), 1e-9)
	assert.Equal(t, 1.0, c.ExchangeRate(context.Background(), "EUR", "JPY"))
	assert.Equal(t, 1.0, c.ExchangeRate(context.Background(), "USD", "CHF"))
	assert.Equal(t, 1.0, c.ExchangeRate(context.Background(), "USD", "USD"))
}

func TestTranslate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/translate", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("tl") {
		case "ja":
			assert.Equal(t, "auto", q.Get("sl"))
			assert.Equal(t, "Where is the station? Thank you.", q.Get("q"))
			w.Write([]byte(`[[["駅はどこですか？","Where is the station?",null,null,1],["ありがとう。","Thank you.",null,null,1]],null,"en"]`))
		case "xx":
			w.Write([]byte(`[null,null,"en"]`))
		default:
			http.Error(w, "bad language", http.StatusBadRequest)
		}
	})
	c := newTestClient(t, mux)

	assert.Equal(t, "駅はどこですか？ありがとう。", c.Translate(context.Background(), "Where is the station? Thank you.", "ja"))
	assert.Equal(t, TranslationFallback, c.Translate(context.Background(), "hello", "xx"))
	assert.Equal(t, TranslationFallback, c.Translate(context.Background(), "hello", "zz"))
}
