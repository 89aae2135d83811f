package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	apperrors "travelflow-backend/errors"
	"travelflow-backend/middleware"
	"travelflow-backend/models"
	"travelflow-backend/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// LocationLookup is the geocoding, weather, country and translation data
// used by the proxy routes.
type LocationLookup interface {
	Search(ctx context.Context, query string) ([]models.GeocodeResult, error)
	Locate(ctx context.Context, place string) (*models.GeocodeResult, error)
	CurrentWeather(ctx context.Context, lat, lon float64) (*models.Weather, error)
	CountryInfo(ctx context.Context, countryCode string) (*models.CountryInfo, error)
	Translate(ctx context.Context, text, targetLang string) string
}

type Handlers struct {
	tripService      services.TripService
	itineraryService services.ItineraryService
	plannerService   services.PlannerService
	sessions         *services.SessionManager
	locations        LocationLookup
}

func NewHandlers(
	tripService services.TripService,
	itineraryService services.ItineraryService,
	plannerService services.PlannerService,
	sessions *services.SessionManager,
	locations LocationLookup,
) *Handlers {
	return &Handlers{
		tripService:      tripService,
		itineraryService: itineraryService,
		plannerService:   plannerService,
		sessions:         sessions,
		locations:        locations,
	}
}

// RegisterRoutes mounts the authenticated trip routes.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/trips", func(r chi.Router) {
		r.Get("/", h.ListTrips)
		r.Post("/", h.SetupTrip)
		r.Get("/current", h.GetState)
		r.Put("/current", h.SwitchTrip)
		r.Post("/new", h.NewTrip)
		r.Delete("/{tripID}", h.DeleteTrip)
	})

	r.Patch("/settings", h.UpdateSettings)

	r.Route("/itinerary", func(r chi.Router) {
		r.Get("/", h.GetDayItinerary)
		r.Post("/", h.AddItem)
		r.Put("/{itemID}", h.UpdateItem)
		r.Delete("/{itemID}", h.DeleteItem)
	})

	r.Route("/days", func(r chi.Router) {
		r.Post("/", h.AddDay)
		r.Delete("/{dayIndex}", h.DeleteDay)
	})

	r.Route("/expenses", func(r chi.Router) {
		r.Post("/", h.AddExpense)
		r.Delete("/{expenseID}", h.DeleteExpense)
	})

	r.Get("/balances", h.GetBalances)
	r.Delete("/session", h.EndSession)
}

// RegisterAIRoutes mounts the public AI and location proxy routes.
func (h *Handlers) RegisterAIRoutes(r chi.Router) {
	r.Post("/generate-itinerary", h.GenerateItinerary)
	r.Post("/refine-itinerary", h.RefineItinerary)
	r.Get("/recommendations", h.GetRecommendations)
	r.Get("/search-location", h.SearchLocation)
	r.Get("/location-info", h.GetLocationInfo)
	r.Get("/translate", h.Translate)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("Failed to encode JSON response", zap.Error(err))
	}
}

func handleError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	if appErr, ok := apperrors.AsAppError(err); ok {
		status := apperrors.GetHTTPStatus(appErr.Type)

		if status >= 500 {
			zap.L().Error("App Error (Internal)",
				zap.String("code", string(appErr.Code)),
				zap.String("details", appErr.Details),
				zap.Error(appErr.Err))
		} else {
			zap.L().Debug("App Error (Client)",
				zap.String("code", string(appErr.Code)),
				zap.String("message", appErr.Message))
		}

		respondJSON(w, status, ErrorResponse{
			Error:   appErr.Message,
			Code:    string(appErr.Code),
			Details: appErr.Details,
		})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		respondJSON(w, http.StatusGatewayTimeout, ErrorResponse{
			Error: "The request took too long. Please try again.",
			Code:  string(apperrors.CodeInternalError),
		})
		return
	}

	zap.L().Error("Non-AppError returned (bug)",
		zap.Error(err),
		zap.String("error_type", fmt.Sprintf("%T", err)))

	respondJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "An unexpected error occurred. Please try again later.",
		Code:  string(apperrors.CodeInternalError),
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.InvalidRequest("Request body is too large")
		}
		return apperrors.InvalidRequestWithDetails("Invalid request body", err.Error())
	}
	return nil
}

func getUserID(r *http.Request) (string, error) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		return "", apperrors.Unauthorized("User ID not found in authentication context")
	}
	return userID, nil
}

func intParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, apperrors.MissingRequiredField(name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.InvalidFieldFormat(name, "integer")
	}
	return v, nil
}
