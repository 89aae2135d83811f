package handlers

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "travelflow-backend/errors"
	"travelflow-backend/models"
	"travelflow-backend/services"

	"github.com/go-chi/chi/v5"
)

type SwitchTripRequest struct {
	TripID string `json:"tripId"`
}

type DaysResponse struct {
	Days int `json:"days"`
}

type DeleteDayResponse struct {
	ViewedDay int `json:"viewedDay"`
}

func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	state, err := h.tripService.State(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (h *Handlers) ListTrips(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	trips, err := h.tripService.ListTrips(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, trips)
}

func (h *Handlers) SetupTrip(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req services.TripSetup
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	result, err := h.tripService.SetupTrip(r.Context(), userID, req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handlers) NewTrip(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := h.tripService.NewTrip(r.Context(), userID); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SwitchTrip(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req SwitchTripRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	if strings.TrimSpace(req.TripID) == "" {
		handleError(w, apperrors.MissingRequiredField("tripId"))
		return
	}

	if err := h.tripService.SwitchTrip(r.Context(), userID, req.TripID); err != nil {
		handleError(w, err)
		return
	}
	state, err := h.tripService.State(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (h *Handlers) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	if err := h.tripService.DeleteTrip(r.Context(), userID, chi.URLParam(r, "tripID")); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req services.SettingsUpdate
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	settings, err := h.tripService.UpdateSettings(r.Context(), userID, req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (h *Handlers) GetDayItinerary(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	day := 0
	if raw := r.URL.Query().Get("day"); raw != "" {
		day, err = strconv.Atoi(raw)
		if err != nil || day < 0 {
			handleError(w, apperrors.InvalidFieldFormat("day", "non-negative integer"))
			return
		}
	}

	items, err := h.itineraryService.DayItinerary(r.Context(), userID, day)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handlers) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req models.ItineraryItem
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	item, err := h.itineraryService.AddItem(r.Context(), userID, req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	itemID, err := intParam(r, "itemID")
	if err != nil {
		handleError(w, err)
		return
	}

	var req models.ItineraryItem
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}
	req.ID = itemID

	item, err := h.itineraryService.UpdateItem(r.Context(), userID, req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	itemID, err := intParam(r, "itemID")
	if err != nil {
		handleError(w, err)
		return
	}

	if err := h.itineraryService.DeleteItem(r.Context(), userID, itemID); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AddDay(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	days, err := h.itineraryService.AddDay(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DaysResponse{Days: days})
}

// DeleteDay takes the day the client is viewing as ?viewedDay= and returns it
// clamped to the shortened trip.
func (h *Handlers) DeleteDay(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	dayIndex, err := intParam(r, "dayIndex")
	if err != nil {
		handleError(w, err)
		return
	}
	viewed := int(dayIndex)
	if raw := r.URL.Query().Get("viewedDay"); raw != "" {
		viewed, err = strconv.Atoi(raw)
		if err != nil {
			handleError(w, apperrors.InvalidFieldFormat("viewedDay", "integer"))
			return
		}
	}

	viewed, err = h.itineraryService.DeleteDay(r.Context(), userID, int(dayIndex), viewed)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DeleteDayResponse{ViewedDay: viewed})
}

func (h *Handlers) AddExpense(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	var req models.Expense
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	expense, err := h.tripService.AddExpense(r.Context(), userID, req)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, expense)
}

func (h *Handlers) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	expenseID, err := intParam(r, "expenseID")
	if err != nil {
		handleError(w, err)
		return
	}

	if err := h.tripService.DeleteExpense(r.Context(), userID, expenseID); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	report, err := h.tripService.Balances(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// EndSession flushes and drops the caller's in-memory trip data on sign-out.
func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	h.sessions.End(r.Context(), userID)
	w.WriteHeader(http.StatusNoContent)
}
