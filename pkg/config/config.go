// Package config loads server configuration from the environment and the
// deployment wiring profile.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	JWTSecret   string
	JWTIssuer   string
	ProfilePath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	issuer := os.Getenv("GEV_JWT_ISSUER")
	if issuer == "" {
		issuer = "gevidence"
	}

	profilePath := os.Getenv("GEV_PROFILE")
	if profilePath == "" {
		profilePath = "profiles/profile_dev.yaml"
	}

	return &Config{
		Port:     port,
		LogLevel: logLevel,
		// Empty means no durable event store; the daemon runs in-memory.
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("GEV_JWT_SECRET"),
		JWTIssuer:   issuer,
		ProfilePath: profilePath,
	}
}
