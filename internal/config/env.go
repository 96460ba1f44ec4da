package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var errNoEnvFile = errors.New("no .env file found")

// envFiles are tried in order; the first one present wins.
var envFiles = []string{".env", ".env.local"}

// loadEnvFile loads environment variables from .env/.env.local without
// overriding variables already set in the process environment.
func loadEnvFile() error {
	for _, envPath := range envFiles {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load %s: %w", envPath, err)
		}
		return nil
	}
	return errNoEnvFile
}
