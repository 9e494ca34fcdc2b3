// Package auth authenticates requests to the verification API with an API
// key, either a static key or one looked up in a Postgres database.
package auth

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"
	"os"

	_ "github.com/lib/pq"

	"github.com/raid-guild/x402-go/utils"
)

// OpenDB opens the Postgres connection used for dynamic key lookups. This
// function can be overridden in tests.
var OpenDB = func(databaseURL string) (*sql.DB, error) {
	return sql.Open("postgres", databaseURL)
}

// Config controls how requests are authenticated. Exactly one of StaticKey
// and DatabaseURL may be set; when both are empty no authentication is
// required.
type Config struct {
	StaticKey   string
	DatabaseURL string
}

// FromEnv builds a Config from the STATIC_API_KEY and DATABASE_URL
// environment variables.
func FromEnv() Config {
	return Config{
		StaticKey:   os.Getenv("STATIC_API_KEY"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}
}

// Authenticate checks the X-API-Key header of the request against the
// configured key source.
func Authenticate(r *http.Request, c Config) error {

	// Get the API key from the request header
	providedKey := r.Header.Get("X-API-Key")

	// Check if the configuration is ambiguous
	if c.StaticKey != "" && c.DatabaseURL != "" {
		return utils.NewStatusError(
			errors.New("both static API key and database URL are set"),
			http.StatusInternalServerError,
		)
	}

	// Check if the API key is required (static key)
	if c.StaticKey != "" {

		// Check if the provided key does not match the static key
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(c.StaticKey)) != 1 {
			return utils.NewStatusError(
				errors.New("unauthorized"),
				http.StatusUnauthorized,
			)
		}
	}

	// Check if the API key is required (dynamic key)
	if c.DatabaseURL != "" {

		// Check if the provided key is empty
		if providedKey == "" {
			return utils.NewStatusError(
				errors.New("unauthorized"),
				http.StatusUnauthorized,
			)
		}

		// Connect to the database
		db, err := OpenDB(c.DatabaseURL)
		if err != nil {
			return utils.NewStatusError(
				errors.New("failed to connect to database"),
				http.StatusInternalServerError,
			)
		}
		defer db.Close()

		// Check the API key exists in the database
		var apiKey string
		err = db.QueryRowContext(r.Context(),
			"SELECT api_key FROM users WHERE api_key = $1",
			providedKey,
		).Scan(&apiKey)

		// Check if the query returned a no rows error
		if err == sql.ErrNoRows {
			return utils.NewStatusError(
				errors.New("unauthorized"),
				http.StatusUnauthorized,
			)
		}

		// Check if the query returned a different error
		if err != nil {
			return utils.NewStatusError(
				errors.New("failed to get key from database"),
				http.StatusInternalServerError,
			)
		}
	}

	return nil
}
