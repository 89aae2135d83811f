package models

import (
	"fmt"
	"time"
)

type SyncStatus string

const (
	SyncStatusOffline SyncStatus = "offline"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusOnline  SyncStatus = "online"
)

const (
	MinTripDays = 1
	MaxTripDays = 365
)

type TripSettings struct {
	IsSetup                 bool     `json:"isSetup"`
	Destination             string   `json:"destination"`
	DepartureCity           string   `json:"departureCity,omitempty"`
	StartDate               string   `json:"startDate"`
	EndDate                 string   `json:"endDate,omitempty"`
	Days                    int      `json:"days"`
	Users                   []string `json:"users"`
	CurrencyCode            string   `json:"currencyCode"`
	CurrencySymbol          string   `json:"currencySymbol"`
	DepartureCurrencyCode   string   `json:"departureCurrencyCode,omitempty"`
	DepartureCurrencySymbol string   `json:"departureCurrencySymbol,omitempty"`
	TargetLang              string   `json:"targetLang"`
	LangName                string   `json:"langName"`
	AutoUpdateRate          bool     `json:"autoUpdateRate"`
}

// DefaultSettings is the working state of a trip that has not been set up yet.
func DefaultSettings() TripSettings {
	return TripSettings{
		IsSetup:                 false,
		DepartureCurrencyCode:   "USD",
		DepartureCurrencySymbol: "$",
		Days:                    3,
		Users:                   []string{"Me", "Partner"},
		CurrencyCode:            "USD",
		CurrencySymbol:          "$",
		TargetLang:              "en",
		LangName:                "English",
		AutoUpdateRate:          true,
	}
}

func (s TripSettings) Clone() TripSettings {
	c := s
	if s.Users != nil {
		c.Users = append([]string(nil), s.Users...)
	}
	return c
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Weather struct {
	Temp int `json:"temp"`
	Code int `json:"code"`
}

type ItemKind string

const (
	ItemKindActivity  ItemKind = "activity"
	ItemKindTransport ItemKind = "transport"
)

type TransportMode string

const (
	TransportModeFlight TransportMode = "flight"
	TransportModeTrain  TransportMode = "train"
	TransportModeTaxi   TransportMode = "taxi"
)

type ItineraryItem struct {
	ID       int64    `json:"id"`
	DayIndex int      `json:"dayIndex"`
	Time     string   `json:"time"`
	Location string   `json:"location"`
	Note     string   `json:"note,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	Weather  *Weather `json:"weather,omitempty"`
	Kind     ItemKind `json:"type,omitempty"`

	// Transport legs only. Time is the departure, EndTime the arrival.
	Mode    TransportMode `json:"mode,omitempty"`
	Number  string        `json:"number,omitempty"`
	Origin  string        `json:"origin,omitempty"`
	EndTime string        `json:"endTime,omitempty"`
}

// Coordinates returns nil when the item has not been resolved. A stored 0/0
// pair is treated as unresolved.
func (i ItineraryItem) Coordinates() *Coordinates {
	if i.Lat == nil || i.Lon == nil {
		return nil
	}
	if *i.Lat == 0 && *i.Lon == 0 {
		return nil
	}
	return &Coordinates{Lat: *i.Lat, Lon: *i.Lon}
}

func (i *ItineraryItem) SetCoordinates(c *Coordinates) {
	if c == nil {
		i.Lat, i.Lon = nil, nil
		return
	}
	lat, lon := c.Lat, c.Lon
	i.Lat, i.Lon = &lat, &lon
}

func (i ItineraryItem) IsTransport() bool {
	return i.Kind == ItemKindTransport
}

// TransportDuration returns the length of a transport leg. Arrivals earlier
// than the departure are taken to be on the following day.
func (i ItineraryItem) TransportDuration() (time.Duration, error) {
	if !i.IsTransport() {
		return 0, fmt.Errorf("item %d is not a transport leg", i.ID)
	}
	dep, err := ParseClock(i.Time)
	if err != nil {
		return 0, fmt.Errorf("parsing departure: %w", err)
	}
	arr, err := ParseClock(i.EndTime)
	if err != nil {
		return 0, fmt.Errorf("parsing arrival: %w", err)
	}
	if arr < dep {
		arr += 24 * time.Hour
	}
	return arr - dep, nil
}

// ParseClock parses a zero-padded 24-hour HH:MM string into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

type Expense struct {
	ID     int64   `json:"id"`
	Amount float64 `json:"amount"`
	Title  string  `json:"title"`
	Payer  string  `json:"payer"`
}

type Trip struct {
	Settings     TripSettings    `json:"settings"`
	Itinerary    []ItineraryItem `json:"itinerary"`
	Expenses     []Expense       `json:"expenses"`
	LastModified int64           `json:"lastModified,omitempty"`
}

func (t Trip) Clone() Trip {
	return Trip{
		Settings:     t.Settings.Clone(),
		Itinerary:    CloneItinerary(t.Itinerary),
		Expenses:     CloneExpenses(t.Expenses),
		LastModified: t.LastModified,
	}
}

func CloneItinerary(items []ItineraryItem) []ItineraryItem {
	out := make([]ItineraryItem, len(items))
	copy(out, items)
	return out
}

func CloneExpenses(expenses []Expense) []Expense {
	out := make([]Expense, len(expenses))
	copy(out, expenses)
	return out
}

type Balance struct {
	User   string `json:"user"`
	Amount int64  `json:"amount"`
}

type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type GeocodeResult struct {
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Admin1      string  `json:"admin1,omitempty"`
}

type CountryInfo struct {
	CurrencyCode   string `json:"currencyCode"`
	CurrencySymbol string `json:"currencySymbol"`
	LangName       string `json:"langName,omitempty"`
}

type WeatherReport struct {
	Weather
	Description string `json:"description"`
}

// ProposedItem is an itinerary entry suggested by an AI provider or the
// placeholder template, before it gets an id or enrichment.
type ProposedItem struct {
	DayIndex int    `json:"dayIndex"`
	Time     string `json:"time"`
	Location string `json:"location"`
	Note     string `json:"note"`
	Category string `json:"category,omitempty"`
}

type ItineraryPlan struct {
	Itinerary  []ProposedItem `json:"itinerary"`
	Highlights []string       `json:"highlights"`
	Tips       []string       `json:"tips"`
	Provider   string         `json:"provider,omitempty"`
	Fallback   bool           `json:"fallback,omitempty"`
}
