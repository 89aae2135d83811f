package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type DocumentKind int

const (
	DocumentKindMultiTrip DocumentKind = iota
	DocumentKindLegacy
)

// UserDocument is the persisted per-user document. It is either a
// *MultiTripDocument or a *LegacyTripDocument.
type UserDocument interface {
	Kind() DocumentKind
}

type MultiTripDocument struct {
	Trips         map[string]Trip `json:"trips"`
	CurrentTripID string          `json:"currentTripId,omitempty"`
	LastModified  int64           `json:"lastModified"`
}

func (*MultiTripDocument) Kind() DocumentKind { return DocumentKindMultiTrip }

// LegacyTripDocument is the single-trip shape written before users could keep
// more than one trip.
type LegacyTripDocument struct {
	Settings  TripSettings    `json:"settings"`
	Itinerary []ItineraryItem `json:"itinerary"`
	Expenses  []Expense       `json:"expenses"`
}

func (*LegacyTripDocument) Kind() DocumentKind { return DocumentKindLegacy }

func (d *LegacyTripDocument) ToTrip() Trip {
	t := Trip{
		Settings:  d.Settings.Clone(),
		Itinerary: CloneItinerary(d.Itinerary),
		Expenses:  CloneExpenses(d.Expenses),
	}
	if t.Itinerary == nil {
		t.Itinerary = []ItineraryItem{}
	}
	if t.Expenses == nil {
		t.Expenses = []Expense{}
	}
	return t
}

type rawUserDocument struct {
	Trips         map[string]Trip `json:"trips"`
	CurrentTripID string          `json:"currentTripId"`
	LastModified  int64           `json:"lastModified"`
	Settings      *TripSettings   `json:"settings"`
	Itinerary     []ItineraryItem `json:"itinerary"`
	Expenses      []Expense       `json:"expenses"`
}

// DecodeUserDocument decodes a stored document. It returns nil with no error
// when the document is absent or carries neither a trips map nor a populated
// legacy trip.
func DecodeUserDocument(raw []byte) (UserDocument, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var doc rawUserDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decoding user document: %w", err)
	}

	if doc.Trips != nil {
		trips := make(map[string]Trip, len(doc.Trips))
		for id, t := range doc.Trips {
			trips[id] = normalizeTrip(t)
		}
		return &MultiTripDocument{
			Trips:         trips,
			CurrentTripID: doc.CurrentTripID,
			LastModified:  doc.LastModified,
		}, nil
	}

	if doc.Settings != nil && isPopulatedLegacy(doc) {
		legacy := &LegacyTripDocument{
			Settings:  *doc.Settings,
			Itinerary: doc.Itinerary,
			Expenses:  doc.Expenses,
		}
		legacy.Itinerary = normalizeItinerary(legacy.Itinerary)
		return legacy, nil
	}

	return nil, nil
}

func isPopulatedLegacy(doc rawUserDocument) bool {
	return doc.Settings.IsSetup ||
		doc.Settings.Destination != "" ||
		len(doc.Itinerary) > 0 ||
		len(doc.Expenses) > 0
}

func normalizeTrip(t Trip) Trip {
	t.Itinerary = normalizeItinerary(t.Itinerary)
	if t.Itinerary == nil {
		t.Itinerary = []ItineraryItem{}
	}
	if t.Expenses == nil {
		t.Expenses = []Expense{}
	}
	return t
}

// normalizeItinerary drops the 0/0 coordinates older clients stored for
// unresolved locations.
func normalizeItinerary(items []ItineraryItem) []ItineraryItem {
	for i := range items {
		if items[i].Coordinates() == nil {
			items[i].Lat, items[i].Lon = nil, nil
		}
		if items[i].Kind == "" {
			items[i].Kind = ItemKindActivity
		}
	}
	return items
}
