// Package config loads client settings from the environment
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tendant/ondemand-client/pkg/client"
	"github.com/tendant/ondemand-client/pkg/job"
)

// Config holds all client configuration
type Config struct {
	API     APIConfig
	Poll    PollConfig
	Results ResultsConfig

	// LedgerDatabaseURL enables the Postgres submission ledger when set
	LedgerDatabaseURL string

	// MetricsAddr serves Prometheus metrics when set. Example: :9090
	MetricsAddr string

	// MockAddr is the listen address of the mock API server
	MockAddr string
}

// APIConfig holds the processing API connection settings
type APIConfig struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	ProductID    string
	Timeout      time.Duration
	RateLimit    float64 // requests per second; 0 disables limiting
	RateBurst    int
	SubmitPath   string
	CreatePath   string
	StatusPath   string
}

// PollConfig holds status polling bounds
type PollConfig struct {
	Interval  time.Duration
	MaxChecks int
	MaxWait   time.Duration
}

// ResultsConfig selects where completed results are stored
type ResultsConfig struct {
	// ContentDir stores results as derived content in a development
	// simple-content service rooted at this directory
	ContentDir string

	// CallbackPath PUTs results to CallbackPath/{jobId} on the API origin
	CallbackPath string
}

// Load reads configuration from ONDEMAND_* environment variables
func Load() *Config {
	cfg := &Config{
		API: APIConfig{
			BaseURL:      getEnv("ONDEMAND_BASE_URL", ""),
			APIKey:       getEnv("ONDEMAND_API_KEY", ""),
			APIKeyHeader: getEnv("ONDEMAND_API_KEY_HEADER", client.DefaultAPIKeyHeader),
			ProductID:    getEnv("ONDEMAND_PRODUCT_ID", ""),
			Timeout:      getEnvAsDuration("ONDEMAND_TIMEOUT", 30*time.Second),
			RateLimit:    getEnvAsFloat("ONDEMAND_RATE_LIMIT", 0),
			RateBurst:    getEnvAsInt("ONDEMAND_RATE_BURST", 1),
			SubmitPath:   getEnv("ONDEMAND_SUBMIT_PATH", ""),
			CreatePath:   getEnv("ONDEMAND_CREATE_PATH", ""),
			StatusPath:   getEnv("ONDEMAND_STATUS_PATH", ""),
		},
		Poll: PollConfig{
			Interval:  getEnvAsDuration("ONDEMAND_POLL_INTERVAL", 5*time.Second),
			MaxChecks: getEnvAsInt("ONDEMAND_POLL_MAX_CHECKS", 0),
			MaxWait:   getEnvAsDuration("ONDEMAND_POLL_MAX_WAIT", time.Hour),
		},
		Results: ResultsConfig{
			ContentDir:   getEnv("ONDEMAND_RESULT_CONTENT_DIR", ""),
			CallbackPath: getEnv("ONDEMAND_RESULT_CALLBACK_PATH", ""),
		},
		LedgerDatabaseURL: getEnv("ONDEMAND_LEDGER_DATABASE_URL", ""),
		MetricsAddr:       getEnv("ONDEMAND_METRICS_ADDR", ""),
		MockAddr:          getEnv("ONDEMAND_MOCK_ADDR", ":8090"),
	}
	return cfg
}

// Validate checks the settings required to submit jobs
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("ONDEMAND_BASE_URL is required")
	}
	if c.API.APIKey == "" {
		return errors.New("ONDEMAND_API_KEY is required")
	}
	if c.API.ProductID == "" {
		return errors.New("ONDEMAND_PRODUCT_ID is required")
	}
	return nil
}

// ClientConfig returns the HTTP helper settings
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:      c.API.BaseURL,
		Timeout:      c.API.Timeout,
		APIKeyHeader: c.API.APIKeyHeader,
	}
}

// ClientOptions returns options derived from the configuration
func (c *Config) ClientOptions() []client.Option {
	var opts []client.Option
	if c.API.RateLimit > 0 {
		opts = append(opts, client.WithRateLimit(rate.Limit(c.API.RateLimit), c.API.RateBurst))
	}
	return opts
}

// JobConfig returns the job paths and polling bounds
func (c *Config) JobConfig() job.Config {
	return job.Config{
		SubmitPath: c.API.SubmitPath,
		CreatePath: c.API.CreatePath,
		StatusPath: c.API.StatusPath,
		Interval:   c.Poll.Interval,
		MaxChecks:  c.Poll.MaxChecks,
		MaxWait:    c.Poll.MaxWait,
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
