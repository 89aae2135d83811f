package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	Env              string
	DatabaseURL      string
	GeminiAPIKey     string
	GeminiModel      string
	HFAPIKey         string
	HFModelURL       string
	JWTSecret        string
	JWKSURL          string
	UserAgent        string
	AllowedOrigins   []string
	MaxBodySize      int64
	GeocodingTimeout time.Duration
	WeatherTimeout   time.Duration
	AITimeout        time.Duration
	PersistRetries   uint64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")
	origins := os.Getenv("ALLOWED_ORIGINS")
	var allowedOrigins []string
	if origins != "" {
		allowedOrigins = splitOrigins(origins)
	} else {
		if env == "production" {
			log.Println("[WARNING] ALLOWED_ORIGINS not set in production! Defaulting to '*' which is insecure.")
		}
		allowedOrigins = []string{"*"}
	}

	maxBodySize := int64(1 * 1024 * 1024)
	if sizeStr := os.Getenv("MAX_BODY_SIZE"); sizeStr != "" {
		if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
			maxBodySize = size
		}
	}

	persistRetries := uint64(3)
	if s := os.Getenv("PERSIST_RETRIES"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			persistRetries = n
		}
	}

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              env,
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		HFAPIKey:         getEnv("HF_API_KEY", ""),
		HFModelURL:       getEnv("HF_MODEL_URL", "https://api-inference.huggingface.co/models/meta-llama/Llama-2-7b-chat-hf"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWKSURL:          getEnv("JWKS_URL", ""),
		UserAgent:        getEnv("LOCATION_USER_AGENT", "travelflow-backend/1.0"),
		AllowedOrigins:   allowedOrigins,
		MaxBodySize:      maxBodySize,
		GeocodingTimeout: getDuration("GEOCODING_TIMEOUT", 3*time.Second),
		WeatherTimeout:   getDuration("WEATHER_TIMEOUT", 2*time.Second),
		AITimeout:        getDuration("AI_TIMEOUT", 15*time.Second),
		PersistRetries:   persistRetries,
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getDuration accepts Go duration strings ("3s") or bare milliseconds ("3000").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func splitOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
