package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
)

// Config holds application configuration. Values come from the
// environment with a .env overlay for local development.
type Config struct {
	DatabaseURL string
	Port        string

	// HREmail is the mailbox the pipeline syncs. Replies sent from this
	// address are never recorded at sync time.
	HREmail string

	// Timezone is the scheduling timezone for interview slots.
	Timezone string

	// OAuth client secrets and the cached token for the Google APIs.
	CredentialsFile string
	TokenFile       string

	GoogleCloudProject  string
	GoogleCloudLocation string

	// ClassifierTimeout bounds a single classification call so one slow
	// message cannot stall the whole run.
	ClassifierTimeout time.Duration

	// AttachmentsDir is where message attachments are staged before
	// upload. Defaults to the system temp directory.
	AttachmentsDir string
}

// Load reads configuration from the environment, loading a .env file
// first when one is present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded, using environment variables", "error", err)
	}

	return &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		Port:                getenv("PORT", "8080"),
		HREmail:             os.Getenv("HMS_HR_EMAIL"),
		Timezone:            getenv("HMS_TIMEZONE", "Asia/Kolkata"),
		CredentialsFile:     getenv("HMS_CREDENTIALS_FILE", "credentials.json"),
		TokenFile:           getenv("HMS_TOKEN_FILE", "token.json"),
		GoogleCloudProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		GoogleCloudLocation: getenv("GOOGLE_CLOUD_LOCATION", "us-central1"),
		ClassifierTimeout:   getenvSeconds("HMS_CLASSIFIER_TIMEOUT", 120),
		AttachmentsDir:      getenv("HMS_ATTACHMENTS_DIR", os.TempDir()),
	}
}

// Validate checks that everything the core needs is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return goerr.New("DATABASE_URL is required")
	}
	if c.HREmail == "" {
		return goerr.New("HMS_HR_EMAIL is required")
	}
	if c.GoogleCloudProject == "" {
		return goerr.New("GOOGLE_CLOUD_PROJECT is required")
	}
	if _, err := os.Stat(c.CredentialsFile); err != nil {
		return goerr.Wrap(err, "google credentials file not found", goerr.V("path", c.CredentialsFile))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return goerr.Wrap(err, "invalid scheduling timezone", goerr.V("timezone", c.Timezone))
	}
	return nil
}

// Location resolves the scheduling timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvSeconds(key string, fallback int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(fallback) * time.Second
}
