package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"travelflow-backend/config"
	"travelflow-backend/database"
	"travelflow-backend/models"
	"travelflow-backend/repository"

	"github.com/google/uuid"
)

func main() {
	userID := flag.String("user", "", "user id to seed the demo trip for (required)")
	flag.Parse()
	if *userID == "" {
		log.Fatalf("-user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	now := time.Now().UnixMilli()
	tripID := uuid.NewString()
	doc := &models.MultiTripDocument{
		Trips: map[string]models.Trip{
			tripID: demoTrip(now),
		},
		CurrentTripID: tripID,
		LastModified:  now,
	}

	store := repository.NewDocumentRepository(db)
	if err := store.Write(ctx, *userID, doc); err != nil {
		log.Fatalf("Failed to write trip document: %v", err)
	}

	fmt.Printf("Seeded demo trip %s for user %s\n", tripID, *userID)
}

func demoTrip(now int64) models.Trip {
	settings := models.DefaultSettings()
	settings.IsSetup = true
	settings.Destination = "Lisbon"
	settings.DepartureCity = "London"
	settings.StartDate = time.Now().AddDate(0, 1, 0).Format("2006-01-02")
	settings.Days = 3
	settings.Users = []string{"Alice", "Bob", "Carol"}
	settings.CurrencyCode = "EUR"
	settings.CurrencySymbol = "€"
	settings.DepartureCurrencyCode = "GBP"
	settings.DepartureCurrencySymbol = "£"
	settings.TargetLang = "pt"
	settings.LangName = "Portuguese"

	item := func(id int64, day int, at, place, note string, lat, lon float64) models.ItineraryItem {
		it := models.ItineraryItem{ID: id, DayIndex: day, Time: at, Location: place, Note: note, Kind: models.ItemKindActivity}
		it.SetCoordinates(&models.Coordinates{Lat: lat, Lon: lon})
		return it
	}

	return models.Trip{
		Settings: settings,
		Itinerary: []models.ItineraryItem{
			{ID: now, DayIndex: 0, Time: "08:30", Location: "Lisbon Airport", Kind: models.ItemKindTransport,
				Mode: models.TransportModeFlight, Number: "TP1351", Origin: "London", EndTime: "11:15"},
			item(now+1, 0, "14:00", "Alfama", "Walk down to the river", 38.7118, -9.1300),
			item(now+2, 1, "10:00", "Belem Tower", "Go early to skip the queue", 38.6916, -9.2160),
			item(now+3, 1, "12:30", "Pasteis de Belem", "Custard tarts", 38.6975, -9.2032),
			item(now+4, 2, "09:30", "Sintra", "Day trip by train", 38.8029, -9.3817),
		},
		Expenses: []models.Expense{
			{ID: now + 10, Amount: 240, Title: "Apartment", Payer: "Alice"},
			{ID: now + 11, Amount: 36.5, Title: "Dinner in Alfama", Payer: "Bob"},
			{ID: now + 12, Amount: 18, Title: "Train to Sintra", Payer: "Carol"},
		},
		LastModified: now,
	}
}
