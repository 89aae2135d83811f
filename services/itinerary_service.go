package services

import (
	"context"
	"sort"
	"strings"

	apperrors "travelflow-backend/errors"
	"travelflow-backend/models"
	"travelflow-backend/repository"

	"go.uber.org/zap"
)

type Geocoder interface {
	Resolve(ctx context.Context, place string) (*models.Coordinates, error)
}

type WeatherProvider interface {
	CurrentWeather(ctx context.Context, lat, lon float64) (*models.Weather, error)
}

type ItineraryService interface {
	AddItem(ctx context.Context, userID string, item models.ItineraryItem) (*models.ItineraryItem, error)
	UpdateItem(ctx context.Context, userID string, item models.ItineraryItem) (*models.ItineraryItem, error)
	DeleteItem(ctx context.Context, userID string, itemID int64) error
	AddDay(ctx context.Context, userID string) (int, error)
	DeleteDay(ctx context.Context, userID string, dayIndex, viewedDay int) (int, error)
	DayItinerary(ctx context.Context, userID string, day int) ([]models.ItineraryItem, error)
	ImportGenerated(ctx context.Context, userID string, proposed []models.ProposedItem) ([]models.ItineraryItem, error)
}

type itineraryService struct {
	sessions *SessionManager
	geocoder Geocoder
	weather  WeatherProvider
	ids      *IDGenerator
}

func NewItineraryService(sessions *SessionManager, geocoder Geocoder, weather WeatherProvider, ids *IDGenerator) ItineraryService {
	return &itineraryService{
		sessions: sessions,
		geocoder: geocoder,
		weather:  weather,
		ids:      ids,
	}
}

func (s *itineraryService) activeRepo(ctx context.Context, userID string) (*repository.TripRepository, repository.TripState, error) {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, repository.TripState{}, err
	}
	state := repo.State()
	if state.CurrentTripID == "" {
		return nil, repository.TripState{}, apperrors.ErrNoActiveTrip
	}
	return repo, state, nil
}

// AddItem enriches item with coordinates and, when those resolve, current
// weather, then appends it under a new id. Enrichment failures leave the
// fields empty.
func (s *itineraryService) AddItem(ctx context.Context, userID string, item models.ItineraryItem) (*models.ItineraryItem, error) {
	repo, state, err := s.activeRepo(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := validateItem(&item, state.Settings.Days); err != nil {
		return nil, err
	}

	coords := s.resolve(ctx, item.Location)
	item.SetCoordinates(coords)
	item.Weather = nil
	if coords != nil {
		item.Weather = s.currentWeather(ctx, coords)
	}
	item.ID = s.ids.Next()

	err = repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
		if item.DayIndex >= w.Settings.Days {
			return apperrors.DayOutOfRange(item.DayIndex, w.Settings.Days)
		}
		w.Itinerary = append(w.Itinerary, item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("Itinerary item added",
		zap.String("user_id", userID), zap.Int64("item_id", item.ID), zap.Bool("resolved", coords != nil))
	return &item, nil
}

// UpdateItem replaces the stored item with the same id. Coordinates carried
// by item are kept, then the stored item's when the location is unchanged;
// otherwise the location is resolved again. Weather is refreshed whenever
// coordinates are known and kept as-is otherwise.
func (s *itineraryService) UpdateItem(ctx context.Context, userID string, item models.ItineraryItem) (*models.ItineraryItem, error) {
	repo, state, err := s.activeRepo(ctx, userID)
	if err != nil {
		return nil, err
	}

	idx := indexOfItem(state.Itinerary, item.ID)
	if idx < 0 {
		return nil, apperrors.ItemNotFound()
	}
	if err := validateItem(&item, state.Settings.Days); err != nil {
		return nil, err
	}

	previousWeather := item.Weather
	if previousWeather == nil {
		previousWeather = state.Itinerary[idx].Weather
	}

	coords := item.Coordinates()
	if coords == nil && item.Location == state.Itinerary[idx].Location {
		coords = state.Itinerary[idx].Coordinates()
	}
	if coords == nil {
		coords = s.resolve(ctx, item.Location)
	}
	item.SetCoordinates(coords)

	item.Weather = previousWeather
	if coords != nil {
		if weather := s.currentWeather(ctx, coords); weather != nil {
			item.Weather = weather
		}
	}

	err = repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
		i := indexOfItem(w.Itinerary, item.ID)
		if i < 0 {
			return apperrors.ItemNotFound()
		}
		if item.DayIndex >= w.Settings.Days {
			return apperrors.DayOutOfRange(item.DayIndex, w.Settings.Days)
		}
		w.Itinerary[i] = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem removes the first item with itemID. Unknown ids are ignored.
func (s *itineraryService) DeleteItem(ctx context.Context, userID string, itemID int64) error {
	repo, _, err := s.activeRepo(ctx, userID)
	if err != nil {
		return err
	}

	return repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
		i := indexOfItem(w.Itinerary, itemID)
		if i < 0 {
			return repository.ErrNoChange
		}
		w.Itinerary = append(w.Itinerary[:i:i], w.Itinerary[i+1:]...)
		return nil
	})
}

func (s *itineraryService) AddDay(ctx context.Context, userID string) (int, error) {
	repo, _, err := s.activeRepo(ctx, userID)
	if err != nil {
		return 0, err
	}

	var days int
	err = repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
		if w.Settings.Days >= models.MaxTripDays {
			return apperrors.InvalidDays(models.MinTripDays, models.MaxTripDays)
		}
		w.Settings.Days++
		days = w.Settings.Days
		return nil
	})
	return days, err
}

// DeleteDay drops every item on dayIndex, moves later days down by one and
// shortens the trip. On a one-day trip it changes nothing. It returns
// viewedDay clamped to the trip's last day.
func (s *itineraryService) DeleteDay(ctx context.Context, userID string, dayIndex, viewedDay int) (int, error) {
	repo, _, err := s.activeRepo(ctx, userID)
	if err != nil {
		return viewedDay, err
	}

	var days int
	err = repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
		days = w.Settings.Days
		if w.Settings.Days <= models.MinTripDays {
			return repository.ErrNoChange
		}
		if dayIndex < 0 || dayIndex >= w.Settings.Days {
			return apperrors.DayOutOfRange(dayIndex, w.Settings.Days)
		}

		kept := make([]models.ItineraryItem, 0, len(w.Itinerary))
		for _, item := range w.Itinerary {
			switch {
			case item.DayIndex == dayIndex:
				continue
			case item.DayIndex > dayIndex:
				item.DayIndex--
			}
			kept = append(kept, item)
		}
		w.Itinerary = kept
		w.Settings.Days--
		days = w.Settings.Days
		return nil
	})
	if err != nil {
		return viewedDay, err
	}

	return clampDay(viewedDay, days), nil
}

// DayItinerary lists one day's items ordered by time. HH:MM strings sort
// correctly as text.
func (s *itineraryService) DayItinerary(ctx context.Context, userID string, day int) ([]models.ItineraryItem, error) {
	repo, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return itemsForDay(repo.State().Itinerary, day), nil
}

// ImportGenerated appends proposed items without coordinates and saves, then
// resolves them one at a time. Only items that resolve are saved again;
// unresolved ones are left as appended.
func (s *itineraryService) ImportGenerated(ctx context.Context, userID string, proposed []models.ProposedItem) ([]models.ItineraryItem, error) {
	repo, state, err := s.activeRepo(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]models.ItineraryItem, 0, len(proposed))
	for _, p := range proposed {
		item := models.ItineraryItem{
			DayIndex: p.DayIndex,
			Time:     p.Time,
			Location: strings.TrimSpace(p.Location),
			Note:     p.Note,
			Kind:     models.ItemKindActivity,
		}
		if item.Time == "" {
			item.Time = DefaultGeneratedTime
		}
		if err := validateItem(&item, state.Settings.Days); err != nil {
			zap.L().Warn("Skipping generated itinerary item",
				zap.String("location", p.Location), zap.Int("day_index", p.DayIndex), zap.Error(err))
			continue
		}
		item.ID = s.ids.Next()
		items = append(items, item)
	}
	if len(items) == 0 {
		return items, nil
	}

	err = repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
		w.Itinerary = append(w.Itinerary, items...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range items {
		if ctx.Err() != nil {
			break
		}
		coords := s.resolve(ctx, items[i].Location)
		if coords == nil {
			continue
		}
		items[i].SetCoordinates(coords)

		id := items[i].ID
		err := repo.Mutate(ctx, func(w *repository.WorkingTrip) error {
			j := indexOfItem(w.Itinerary, id)
			if j < 0 {
				return repository.ErrNoChange
			}
			w.Itinerary[j].SetCoordinates(coords)
			return nil
		})
		if err != nil {
			return items, err
		}
	}

	return items, nil
}

func (s *itineraryService) resolve(ctx context.Context, place string) *models.Coordinates {
	if strings.TrimSpace(place) == "" {
		return nil
	}
	coords, err := s.geocoder.Resolve(ctx, place)
	if err != nil {
		zap.L().Warn("Location resolution failed", zap.String("location", place), zap.Error(err))
		return nil
	}
	return coords
}

func (s *itineraryService) currentWeather(ctx context.Context, c *models.Coordinates) *models.Weather {
	weather, err := s.weather.CurrentWeather(ctx, c.Lat, c.Lon)
	if err != nil {
		zap.L().Warn("Weather lookup failed", zap.Float64("lat", c.Lat), zap.Float64("lon", c.Lon), zap.Error(err))
		return nil
	}
	return weather
}

func validateItem(item *models.ItineraryItem, days int) error {
	item.Location = strings.TrimSpace(item.Location)
	if item.Location == "" {
		return apperrors.MissingRequiredField("location")
	}
	if len(item.Location) > MaxLocationLength {
		return apperrors.InvalidRequest("Location is too long")
	}
	if len(item.Note) > MaxNoteLength {
		return apperrors.InvalidRequest("Note is too long")
	}
	if item.DayIndex < 0 || item.DayIndex >= days {
		return apperrors.DayOutOfRange(item.DayIndex, days)
	}
	if _, err := models.ParseClock(item.Time); err != nil {
		return apperrors.InvalidFieldFormat("time", "HH:MM")
	}

	switch item.Kind {
	case "":
		item.Kind = models.ItemKindActivity
	case models.ItemKindActivity:
	case models.ItemKindTransport:
		switch item.Mode {
		case models.TransportModeFlight, models.TransportModeTrain, models.TransportModeTaxi:
		default:
			return apperrors.InvalidFieldFormat("mode", "flight, train or taxi")
		}
		if item.EndTime != "" {
			if _, err := models.ParseClock(item.EndTime); err != nil {
				return apperrors.InvalidFieldFormat("endTime", "HH:MM")
			}
		}
	default:
		return apperrors.InvalidFieldFormat("type", "activity or transport")
	}
	return nil
}

func indexOfItem(items []models.ItineraryItem, id int64) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func itemsForDay(items []models.ItineraryItem, day int) []models.ItineraryItem {
	out := []models.ItineraryItem{}
	for _, item := range items {
		if item.DayIndex == day {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func clampDay(day, days int) int {
	if day >= days {
		day = days - 1
	}
	if day < 0 {
		day = 0
	}
	return day
}
