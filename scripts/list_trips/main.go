package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"travelflow-backend/config"
	"travelflow-backend/database"
	"travelflow-backend/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	rows, err := db.Pool.Query(context.Background(),
		"SELECT user_id, document, updated_at FROM trip_documents ORDER BY updated_at DESC")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	fmt.Println("Trip documents:")
	fmt.Println("---------------")
	for rows.Next() {
		var userID string
		var raw []byte
		var updatedAt time.Time
		if err := rows.Scan(&userID, &raw, &updatedAt); err != nil {
			log.Fatalf("Scan failed: %v", err)
		}

		doc, err := models.DecodeUserDocument(raw)
		if err != nil {
			fmt.Printf("%s  (undecodable: %v)\n", userID, err)
			continue
		}
		if doc == nil {
			fmt.Printf("%s  empty document\n", userID)
			continue
		}
		multi, ok := doc.(*models.MultiTripDocument)
		if !ok {
			fmt.Printf("%s  legacy single-trip document, updated %s\n", userID, updatedAt.Format(time.RFC3339))
			continue
		}

		fmt.Printf("%s  %d trip(s), updated %s\n", userID, len(multi.Trips), updatedAt.Format(time.RFC3339))
		ids := make([]string, 0, len(multi.Trips))
		for id := range multi.Trips {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			t := multi.Trips[id]
			marker := " "
			if id == multi.CurrentTripID {
				marker = "*"
			}
			fmt.Printf("  %s %s  %s, %d day(s), %d item(s), %d expense(s)\n",
				marker, id, t.Settings.Destination, t.Settings.Days, len(t.Itinerary), len(t.Expenses))
		}
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Rows error: %v", err)
	}
}
