// Package config loads server configuration from the environment.
package config

import "os"

// Config holds everything the server needs at startup. The YNAB token
// and budget may be empty: parsing and rule management work without
// them, and the ledger client fails loudly on its own when a call
// actually needs them.
type Config struct {
	YNABAPIToken string
	BudgetID     string
	AccountID    string
	DatabasePath string
	Port         string
	LogLevel     string
}

// Load reads configuration from environment variables, applying
// defaults for everything that is safe to default.
func Load() *Config {
	return &Config{
		YNABAPIToken: os.Getenv("YNAB_API_TOKEN"),
		BudgetID:     os.Getenv("YNAB_BUDGET_ID"),
		AccountID:    os.Getenv("YNAB_ACCOUNT_ID"),
		DatabasePath: getEnv("DATABASE_PATH", "opynab.db"),
		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
