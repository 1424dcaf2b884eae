package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendFirebase = "firebase"
	BackendMemory   = "memory"
)

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup.
type Config struct {
	// ServerPort is the port the HTTP server listens on
	ServerPort string

	// DatabaseURL is the Realtime Database endpoint, e.g. https://<project>.firebaseio.com
	DatabaseURL string

	// ServiceAccountJSON is the inline service-account credential.
	// When empty, ServiceAccountFile is read instead.
	ServiceAccountJSON string

	// ServiceAccountFile is the path of the service-account key file
	ServiceAccountFile string

	// StoreBackend selects "firebase" or "memory" (local development)
	StoreBackend string

	// SpectatorSigningSecret signs capability tokens on the memory backend
	SpectatorSigningSecret string

	// DispatchSchedule is the cron expression driving the scheduler
	DispatchSchedule string

	// RedisURL enables the dispatch leader lease when set
	RedisURL string

	// CORSOrigins are the allowed browser origins
	CORSOrigins []string
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment variables.
// Falls back to sensible defaults if values are not set.
func Load() *Config {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running in production with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		ServerPort:             getEnv("PORT", "4000"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		ServiceAccountJSON:     getEnv("FIREBASE_SERVICE_ACCOUNT", ""),
		ServiceAccountFile:     getEnv("FIREBASE_SERVICE_ACCOUNT_FILE", "serviceAccountKey.json"),
		StoreBackend:           strings.ToLower(getEnv("STORE_BACKEND", BackendFirebase)),
		SpectatorSigningSecret: getEnv("SPECTATOR_SIGNING_SECRET", ""),
		DispatchSchedule:       getEnv("DISPATCH_SCHEDULE", "* * * * *"),
		RedisURL:               getEnv("REDIS_URL", ""),
		CORSOrigins:            splitOrigins(getEnv("CORS_ORIGINS", "")),
	}
}

// Validate reports configuration the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendFirebase:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is not set"))
		}
		if c.ServiceAccountJSON == "" {
			if _, err := os.Stat(c.ServiceAccountFile); err != nil {
				errs = append(errs, fmt.Errorf("no service account: FIREBASE_SERVICE_ACCOUNT is empty and %s is unreadable", c.ServiceAccountFile))
			}
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if !gronx.IsValid(c.DispatchSchedule) {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_SCHEDULE %q", c.DispatchSchedule))
	}
	if c.ServerPort == "" {
		errs = append(errs, errors.New("PORT is empty"))
	}
	return errors.Join(errs...)
}

// splitOrigins parses a comma-separated origin list, defaulting to the
// local development frontends.
func splitOrigins(originsEnv string) []string {
	if originsEnv == "" {
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}
	var origins []string
	for _, origin := range strings.Split(originsEnv, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
