package services

import (
	"context"
	"sort"
	"strings"
	"time"

	apperrors "travelflow-backend/errors"
	"travelflow-backend/models"
	"travelflow-backend/repository"

	"go.uber.org/zap"
)

type TripSummary struct {
	ID           string `json:"id"`
	Destination  string `json:"destination"`
	StartDate    string `json:"startDate"`
	Days         int    `json:"days"`
	LastModified int64  `json:"lastModified"`
	Current      bool   `json:"current"`
}

// SettingsUpdate carries the settings fields a caller wants to change. Nil
// fields are left untouched.
type SettingsUpdate struct {
	Destination             *string   `json:"destination"`
	DepartureCity           *string   `json:"departureCity"`
	StartDate               *string   `json:"startDate"`
	EndDate                 *string   `json:"endDate"`
	Days                    *int      `json:"days"`
	Users                   *[]string `json:"users"`
	CurrencyCode            *string   `json:"currencyCode"`
	CurrencySymbol          *string   `json:"currencySymbol"`
	DepartureCurrencyCode   *string   `json:"departureCurrencyCode"`
	DepartureCurrencySymbol *string   `json:"departureCurrencySymbol"`
	TargetLang              *string   `json:"targetLang"`
	LangName                *string   `json:"langName"`
	AutoUpdateRate          *bool     `json:"autoUpdateRate"`
}

type TripSetup struct {
	Settings  models.TripSettings `json:"settings"`
	Generate  bool                `json:"generate"`
	Interests []string            `json:"interests,omitempty"`
}

type SetupResult struct {
	TripID string                `json:"tripId"`
	Plan   *models.ItineraryPlan `json:"plan,omitempty"`
}

type BalanceReport struct {
	Total          float64           `json:"total"`
	PerPerson      float64           `json:"perPerson"`
	CurrencySymbol string            `json:"currencySymbol"`
	Balances       []models.Balance  `json:"balances"`
	Transfers      []models.Transfer `json:"transfers"`
}

type TripService interface {
	State(ctx context.Context, userID string) (*repository.TripState, error)
	ListTrips(ctx context.Context, userID string) ([]TripSummary, error)
	SetupTrip(ctx context.Context, userID string, setup TripSetup) (*SetupResult, error)
	NewTrip(ctx context.Context, userID string) error
	SwitchTrip(ctx context.Context, userID, tripID string) error
	DeleteTrip(ctx context.Context, userID, tripID string) error
	UpdateSettings(ctx context.Context, userID string, update SettingsUpdate) (*models.TripSettings, error)
	AddExpense(ctx context.Context, userID string, expense models.Expense) (*models.Expense, error)
	DeleteExpense(ctx context.Context, userID string, expenseID int64) error
	Balances(ctx context.Context, userID string) (*BalanceReport, error)
}

type tripService struct {
	sessions  *SessionManager
	itinerary ItineraryService
	planner   PlannerService
	geocoder  Geocoder
	weather   WeatherProvider
	ids       *IDGenerator
}

func NewTripService(sessions *SessionManager, itinerary ItineraryService, planner PlannerService, geocoder Geocoder, weather WeatherProvider, ids *IDGenerator) TripService {
	return &tripService{
		sessions:  sessions,
		itinerary: itinerary,
		planner:   planner,
		geocoder:  geocoder,
		weather:   weather,
		ids:       ids,
	}
}

func (s *tripService) State(ctx context.Context, userID string) (*repository.TripState, error) {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	state := repo.State()
	return &state, nil
}

// ListTrips returns every trip, most recently modified first.
func (s *tripService) ListTrips(ctx context.Context, userID string) ([]TripSummary, error) {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	state := repo.State()

	summaries := make([]TripSummary, 0, len(state.Trips))
	for id, t := range state.Trips {
		summaries = append(summaries, TripSummary{
			ID:           id,
			Destination:  t.Settings.Destination,
			StartDate:    t.Settings.StartDate,
			Days:         t.Settings.Days,
			LastModified: t.LastModified,
			Current:      id == state.CurrentTripID,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].LastModified != summaries[j].LastModified {
			return summaries[i].LastModified > summaries[j].LastModified
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

// SetupTrip completes the new-trip wizard. With Generate set the itinerary
// comes from the planner and is enriched item by item; otherwise the trip
// starts with a single arrival entry at the destination.
func (s *tripService) SetupTrip(ctx context.Context, userID string, setup TripSetup) (*SetupResult, error) {
	settings := setup.Settings
	if err := validateSettings(&settings); err != nil {
		return nil, err
	}
	settings.IsSetup = true

	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if setup.Generate {
		plan, err := s.planner.GenerateItinerary(ctx, settings.Destination, settings.Days, setup.Interests)
		if err != nil {
			return nil, err
		}
		tripID := repo.StartTrip(ctx, models.Trip{Settings: settings})
		if _, err := s.itinerary.ImportGenerated(ctx, userID, plan.Itinerary); err != nil {
			return nil, err
		}
		zap.L().Info("Trip created from generated plan",
			zap.String("user_id", userID), zap.String("trip_id", tripID),
			zap.Int("items", len(plan.Itinerary)), zap.Bool("fallback", plan.Fallback))
		return &SetupResult{TripID: tripID, Plan: plan}, nil
	}

	arrival := models.ItineraryItem{
		ID:       s.ids.Next(),
		DayIndex: 0,
		Time:     ArrivalTime,
		Location: "Arrival",
		Note:     ArrivalNote,
		Kind:     models.ItemKindActivity,
	}
	coords, err := s.geocoder.Resolve(ctx, settings.Destination)
	if err != nil {
		zap.L().Warn("Could not resolve destination", zap.String("destination", settings.Destination), zap.Error(err))
	}
	if coords != nil {
		arrival.Location = settings.Destination + " (Arrival)"
		arrival.SetCoordinates(coords)
		if weather, err := s.weather.CurrentWeather(ctx, coords.Lat, coords.Lon); err != nil {
			zap.L().Warn("Weather lookup failed", zap.String("destination", settings.Destination), zap.Error(err))
		} else {
			arrival.Weather = weather
		}
	}

	tripID := repo.StartTrip(ctx, models.Trip{
		Settings:  settings,
		Itinerary: []models.ItineraryItem{arrival},
		Expenses:  []models.Expense{},
	})
	zap.L().Info("Trip created", zap.String("user_id", userID), zap.String("trip_id", tripID))
	return &SetupResult{TripID: tripID}, nil
}

func (s *tripService) NewTrip(ctx context.Context, userID string) error {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}
	repo.CreateNewTrip()
	return nil
}

func (s *tripService) SwitchTrip(ctx context.Context, userID, tripID string) error {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !repo.SwitchTrip(tripID) {
		return apperrors.TripNotFound()
	}
	return nil
}

func (s *tripService) DeleteTrip(ctx context.Context, userID, tripID string) error {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !repo.DeleteTrip(ctx, tripID) {
		return apperrors.TripNotFound()
	}
	return nil
}

func (s *tripService) UpdateSettings(ctx context.Context, userID string, update SettingsUpdate) (*models.TripSettings, error) {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var updated models.TripSettings
	err = repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
		next := w.Settings.Clone()
		applySettingsUpdate(&next, update)
		if err := validateSettings(&next); err != nil {
			return err
		}
		if next.Days < w.Settings.Days {
			for _, item := range w.Itinerary {
				if item.DayIndex >= next.Days {
					return apperrors.InvalidRequest("Remove the itinerary of later days before shortening the trip")
				}
			}
		}
		w.Settings = next
		updated = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// AddExpense appends the expense under a new id. The payer is not checked
// against the traveler list.
func (s *tripService) AddExpense(ctx context.Context, userID string, expense models.Expense) (*models.Expense, error) {
	expense.Title = strings.TrimSpace(expense.Title)
	expense.Payer = strings.TrimSpace(expense.Payer)
	if expense.Title == "" {
		return nil, apperrors.MissingRequiredField("title")
	}
	if len(expense.Title) > MaxTitleLength {
		return nil, apperrors.InvalidRequest("Title is too long")
	}
	if expense.Payer == "" {
		return nil, apperrors.MissingRequiredField("payer")
	}
	if expense.Amount < 0 {
		return nil, apperrors.InvalidAmount("Amount cannot be negative")
	}

	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	expense.ID = s.ids.Next()
	err = repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
		w.Expenses = append(w.Expenses, expense)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

func (s *tripService) DeleteExpense(ctx context.Context, userID string, expenseID int64) error {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}

	return repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
		for i := range w.Expenses {
			if w.Expenses[i].ID == expenseID {
				w.Expenses = append(w.Expenses[:i:i], w.Expenses[i+1:]...)
				return nil
			}
		}
		return apperrors.ExpenseNotFound()
	})
}

func (s *tripService) Balances(ctx context.Context, userID string) (*BalanceReport, error) {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	state := repo.State()
	if state.CurrentTripID == "" {
		return nil, apperrors.ErrNoActiveTrip
	}

	users := state.Settings.Users
	balances := CalculateBalances(state.Expenses, users)
	total := TotalExpense(state.Expenses)

	report := &BalanceReport{
		Total:          total,
		CurrencySymbol: state.Settings.CurrencySymbol,
		Balances:       OrderedBalances(users, balances),
		Transfers:      SuggestTransfers(balances),
	}
	if len(users) > 0 {
		report.PerPerson = total / float64(len(users))
	}
	return report, nil
}

func validateSettings(s *models.TripSettings) error {
	s.Destination = strings.TrimSpace(s.Destination)
	if s.Destination == "" {
		return apperrors.MissingRequiredField("destination")
	}
	if s.Days < models.MinTripDays || s.Days > models.MaxTripDays {
		return apperrors.InvalidDays(models.MinTripDays, models.MaxTripDays)
	}

	users := make([]string, 0, len(s.Users))
	for _, u := range s.Users {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if len(u) > MaxTravelerName {
			return apperrors.InvalidRequest("Traveler name is too long")
		}
		users = append(users, u)
	}
	if len(users) == 0 {
		return apperrors.InvalidTravelers()
	}
	s.Users = users

	if s.StartDate != "" && !isISODate(s.StartDate) {
		return apperrors.InvalidFieldFormat("startDate", "YYYY-MM-DD")
	}
	if s.EndDate != "" && !isISODate(s.EndDate) {
		return apperrors.InvalidFieldFormat("endDate", "YYYY-MM-DD")
	}
	s.CurrencyCode = strings.ToUpper(strings.TrimSpace(s.CurrencyCode))
	s.DepartureCurrencyCode = strings.ToUpper(strings.TrimSpace(s.DepartureCurrencyCode))
	return nil
}

func applySettingsUpdate(s *models.TripSettings, u SettingsUpdate) {
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&s.Destination, u.Destination)
	setString(&s.DepartureCity, u.DepartureCity)
	setString(&s.StartDate, u.StartDate)
	setString(&s.EndDate, u.EndDate)
	setString(&s.CurrencyCode, u.CurrencyCode)
	setString(&s.CurrencySymbol, u.CurrencySymbol)
	setString(&s.DepartureCurrencyCode, u.DepartureCurrencyCode)
	setString(&s.DepartureCurrencySymbol, u.DepartureCurrencySymbol)
	setString(&s.TargetLang, u.TargetLang)
	setString(&s.LangName, u.LangName)
	if u.Days != nil {
		s.Days = *u.Days
	}
	if u.Users != nil {
		s.Users = append([]string(nil), (*u.Users)...)
	}
	if u.AutoUpdateRate != nil {
		s.AutoUpdateRate = *u.AutoUpdateRate
	}
}

func isISODate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
