// Package config builds the process-wide Config value once at startup from
// the environment, falling back to a dotenv file. There is nothing to
// persist or hot-reload here: the remote store is the only source of truth,
// and this package's entire job is naming four environment variables.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config is the fully resolved connection configuration for a vaultsync
// run, built once and passed explicitly to every component — no
// package-level global state, no ambient singleton to read from.
type Config struct {
	// CouchDBURI is the remote store's base URL.
	CouchDBURI string
	// CouchDBUser is the HTTP Basic auth user.
	CouchDBUser string
	// CouchDBPassword is the HTTP Basic auth password.
	CouchDBPassword string
	// CouchDBDB is the database name.
	CouchDBDB string
}

const (
	defaultUser = "admin"
	defaultDB   = "obsidian"
)

// ErrMissingURI is returned when COUCHDB_URI is not set by either the
// environment or a dotenv file.
var ErrMissingURI = errors.New("COUCHDB_URI is required")

// ErrMissingPassword is returned when COUCHDB_PASSWORD is not set.
var ErrMissingPassword = errors.New("COUCHDB_PASSWORD is required")

// Load resolves Config from the process environment, falling back to a
// dotenv file at dotenvPath if present. Existing environment variables are
// never overwritten by the dotenv file's values — godotenv.Load already
// honors that rule, loading only keys not already set.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			if err := godotenv.Load(dotenvPath); err != nil {
				return nil, fmt.Errorf("load dotenv file %s: %w", dotenvPath, err)
			}
		}
	}

	cfg := &Config{
		CouchDBURI:      os.Getenv("COUCHDB_URI"),
		CouchDBUser:     envOrDefault("COUCHDB_USER", defaultUser),
		CouchDBPassword: os.Getenv("COUCHDB_PASSWORD"),
		CouchDBDB:       envOrDefault("COUCHDB_DB", defaultDB),
	}

	if cfg.CouchDBURI == "" {
		return nil, ErrMissingURI
	}
	if cfg.CouchDBPassword == "" {
		return nil, ErrMissingPassword
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
