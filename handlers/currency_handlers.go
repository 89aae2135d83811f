package handlers

import (
	"context"
	"net/http"
	"strings"

	apperrors "travelflow-backend/errors"

	"github.com/go-chi/chi/v5"
)

// ExchangeRates quotes how many units of to one unit of from buys. It falls
// back to 1 when no quote is available.
type ExchangeRates interface {
	ExchangeRate(ctx context.Context, from, to string) float64
}

type CurrencyHandlers struct {
	rates ExchangeRates
}

func NewCurrencyHandlers(rates ExchangeRates) *CurrencyHandlers {
	return &CurrencyHandlers{
		rates: rates,
	}
}

type ExchangeRateResponse struct {
	From string  `json:"from"`
	To   string  `json:"to"`
	Rate float64 `json:"rate"`
}

func (h *CurrencyHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/exchange-rate", h.GetExchangeRate)
}

func (h *CurrencyHandlers) GetExchangeRate(w http.ResponseWriter, r *http.Request) {
	from := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("from")))
	to := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("to")))
	if from == "" {
		handleError(w, apperrors.MissingRequiredField("from"))
		return
	}
	if to == "" {
		handleError(w, apperrors.MissingRequiredField("to"))
		return
	}
	if len(from) != 3 || len(to) != 3 {
		handleError(w, apperrors.InvalidFieldFormat("currency code", "three-letter ISO 4217 code"))
		return
	}

	respondJSON(w, http.StatusOK, ExchangeRateResponse{
		From: from,
		To:   to,
		Rate: h.rates.ExchangeRate(r.Context(), from, to),
	})
}
