package handlers

import (
	"net/http"
	"regexp"
	"strings"

	apperrors "travelflow-backend/errors"
	"travelflow-backend/location"
	"travelflow-backend/models"
	"travelflow-backend/services"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type GenerateItineraryRequest struct {
	Destination string   `json:"destination"`
	Days        *int     `json:"days,omitempty"`
	Interests   []string `json:"interests,omitempty"`
}

type RefineItineraryRequest struct {
	CurrentItinerary []models.ProposedItem `json:"currentItinerary"`
	Destination      string                `json:"destination"`
	Feedback         string                `json:"feedback"`
	Days             int                   `json:"days,omitempty"`
}

type RecommendationsResponse struct {
	Location        string   `json:"location"`
	Type            string   `json:"type"`
	Recommendations []string `json:"recommendations"`
}

type SearchLocationResponse struct {
	Query   string                 `json:"query"`
	Results []models.GeocodeResult `json:"results"`
}

type LocationInfoResponse struct {
	Location    string                `json:"location"`
	Coordinates models.Coordinates    `json:"coordinates"`
	Weather     *models.WeatherReport `json:"weather"`
	CountryInfo *models.CountryInfo   `json:"countryInfo"`
}

type TranslateResponse struct {
	Text        string `json:"text"`
	To          string `json:"to"`
	Translation string `json:"translation"`
}

const (
	defaultPlanDays    = 3
	maxTranslateLength = 5000
)

var languageCode = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z]{2,4})?$`)

func (h *Handlers) GenerateItinerary(w http.ResponseWriter, r *http.Request) {
	var req GenerateItineraryRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	if strings.TrimSpace(req.Destination) == "" {
		handleError(w, apperrors.MissingRequiredField("Destination"))
		return
	}
	days := defaultPlanDays
	if req.Days != nil {
		days = *req.Days
	}
	if days < models.MinTripDays || days > models.MaxTripDays {
		handleError(w, apperrors.InvalidDays(models.MinTripDays, models.MaxTripDays))
		return
	}

	plan, err := h.plannerService.GenerateItinerary(r.Context(), req.Destination, days, req.Interests)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

func (h *Handlers) RefineItinerary(w http.ResponseWriter, r *http.Request) {
	var req RefineItineraryRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	plan, err := h.plannerService.RefineItinerary(r.Context(), req.CurrentItinerary, req.Destination, req.Feedback, req.Days)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

func (h *Handlers) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	loc := strings.TrimSpace(r.URL.Query().Get("location"))
	if loc == "" {
		handleError(w, apperrors.MissingRequiredField("Location"))
		return
	}
	kind, ok := services.ParseRecommendationType(r.URL.Query().Get("type"))
	if !ok {
		handleError(w, apperrors.InvalidRequest("Type must be one of: restaurants, attractions, events, general"))
		return
	}

	recs, err := h.plannerService.Recommendations(r.Context(), loc, kind)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, RecommendationsResponse{
		Location:        loc,
		Type:            string(kind),
		Recommendations: recs,
	})
}

func (h *Handlers) SearchLocation(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		handleError(w, apperrors.MissingRequiredField("Query"))
		return
	}

	results, err := h.locations.Search(r.Context(), query)
	if err != nil {
		handleError(w, apperrors.LocationServiceError("search location", err))
		return
	}
	if results == nil {
		results = []models.GeocodeResult{}
	}
	respondJSON(w, http.StatusOK, SearchLocationResponse{Query: query, Results: results})
}

// GetLocationInfo resolves a place and fetches its weather and country data
// in parallel. Either of the latter may be null in the response.
func (h *Handlers) GetLocationInfo(w http.ResponseWriter, r *http.Request) {
	loc := strings.TrimSpace(r.URL.Query().Get("location"))
	if loc == "" {
		handleError(w, apperrors.MissingRequiredField("Location"))
		return
	}

	place, err := h.locations.Locate(r.Context(), loc)
	if err != nil {
		handleError(w, apperrors.LocationServiceError("locate", err))
		return
	}
	if place == nil || (place.Latitude == 0 && place.Longitude == 0) {
		handleError(w, apperrors.LocationNotFound())
		return
	}

	resp := LocationInfoResponse{
		Location:    loc,
		Coordinates: models.Coordinates{Lat: place.Latitude, Lon: place.Longitude},
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		weather, err := h.locations.CurrentWeather(ctx, place.Latitude, place.Longitude)
		if err != nil {
			zap.L().Warn("Weather lookup failed", zap.String("location", loc), zap.Error(err))
			return nil
		}
		if weather != nil {
			resp.Weather = &models.WeatherReport{Weather: *weather, Description: location.WeatherDescription(weather.Code)}
		}
		return nil
	})
	g.Go(func() error {
		if place.CountryCode == "" {
			return nil
		}
		info, err := h.locations.CountryInfo(ctx, place.CountryCode)
		if err != nil {
			zap.L().Warn("Country lookup failed", zap.String("country_code", place.CountryCode), zap.Error(err))
			return nil
		}
		resp.CountryInfo = info
		return nil
	})
	_ = g.Wait()

	respondJSON(w, http.StatusOK, resp)
}

// Translate renders text in the trip's target language. Upstream failures
// still answer 200 with the fallback translation text.
func (h *Handlers) Translate(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if text == "" {
		handleError(w, apperrors.MissingRequiredField("Text"))
		return
	}
	if to == "" {
		handleError(w, apperrors.MissingRequiredField("To"))
		return
	}
	if !languageCode.MatchString(to) {
		handleError(w, apperrors.InvalidFieldFormat("to", "language code such as ja or zh-TW"))
		return
	}
	if len(text) > maxTranslateLength {
		handleError(w, apperrors.InvalidRequest("Text is too long"))
		return
	}

	respondJSON(w, http.StatusOK, TranslateResponse{
		Text:        text,
		To:          to,
		Translation: h.locations.Translate(r.Context(), text, to),
	})
}
