package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"travelflow-backend/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func main() {
	sub := flag.String("sub", "", "user id to put in the sub claim (random when empty)")
	email := flag.String("email", "traveler@example.com", "email claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET not found in environment or .env")
	}

	userID := *sub
	if userID == "" {
		userID = uuid.NewString()
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": *email,
		"iat":   now.Unix(),
		"exp":   now.Add(*ttl).Unix(),
	})

	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Printf("Generated token for %s (%s), valid for %s:\n", userID, *email, *ttl)
	fmt.Println("-----------------------------------------------")
	fmt.Println(tokenString)
	fmt.Println("-----------------------------------------------")
	fmt.Println("\nWebsocket stream: /api/trips/stream?access_token=<token>")
}
