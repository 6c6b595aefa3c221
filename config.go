// Copyright 2025 Baraa Fadhloun
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// HTTP server
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Storage
	DatabaseURL string `yaml:"database_url"`

	// Authentication
	JWTSecret string `yaml:"jwt_secret"`

	// Analysis settings
	DefaultRatePerKwh   float64 `yaml:"default_rate_per_kwh"`
	CO2FactorKgPerKwh   float64 `yaml:"co2_factor_kg_per_kwh"`
	PeakHourPercentile  float64 `yaml:"peak_hour_percentile"`
	SandboxRowLimit     int     `yaml:"sandbox_row_limit"`
	SandboxSnapshotRows int     `yaml:"sandbox_snapshot_rows"`

	// Reasoning service
	OpenAIAPIKey        string `yaml:"openai_api_key"`
	OpenAIBaseURL       string `yaml:"openai_base_url"`
	RecommendationModel string `yaml:"recommendation_model"`

	// Debugging
	Debug bool `yaml:"debug"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	// Set defaults
	config := &Config{
		ListenAddr:          ":8080",
		AllowedOrigins:      []string{"*"},
		DefaultRatePerKwh:   0.32,
		CO2FactorKgPerKwh:   0.45,
		PeakHourPercentile:  0.66,
		SandboxRowLimit:     200,
		SandboxSnapshotRows: 2000,
		OpenAIBaseURL:       "https://api.openai.com/v1",
		RecommendationModel: "gpt-4o-mini",
		Debug:               false,
	}

	// If no path provided, return defaults with env var overrides
	if path == "" {
		config.applyEnvironmentVariables()
		return config, nil
	}

	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentVariables()

	return config, nil
}

// applyEnvironmentVariables overrides config with environment variables
func (c *Config) applyEnvironmentVariables() {
	if val := os.Getenv("ENERGY_INSIGHT_LISTEN_ADDR"); val != "" {
		c.ListenAddr = val
	}
	if val := os.Getenv("ENERGY_INSIGHT_ALLOWED_ORIGINS"); val != "" {
		origins := strings.Split(val, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		c.AllowedOrigins = origins
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		c.DatabaseURL = val
	}
	if val := os.Getenv("ENERGY_INSIGHT_JWT_SECRET"); val != "" {
		c.JWTSecret = val
	}
	if val := os.Getenv("ENERGY_INSIGHT_DEFAULT_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.DefaultRatePerKwh = rate
		}
	}
	if val := os.Getenv("ENERGY_INSIGHT_CO2_FACTOR"); val != "" {
		if factor, err := strconv.ParseFloat(val, 64); err == nil {
			c.CO2FactorKgPerKwh = factor
		}
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		c.OpenAIAPIKey = val
	}
	if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
		c.OpenAIBaseURL = val
	}
	if val := os.Getenv("OPENAI_RECOMMENDATION_MODEL"); val != "" {
		c.RecommendationModel = val
	}
	if val := os.Getenv("ENERGY_INSIGHT_DEBUG"); val == "true" || val == "1" {
		c.Debug = true
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errors []string

	if c.ListenAddr == "" {
		errors = append(errors, "listen_addr is required")
	}

	if c.DatabaseURL == "" {
		errors = append(errors, "database_url is required")
	}

	if c.JWTSecret == "" {
		errors = append(errors, "jwt_secret is required")
	}

	if c.DefaultRatePerKwh <= 0 {
		errors = append(errors, "default_rate_per_kwh must be positive")
	}

	if c.CO2FactorKgPerKwh <= 0 {
		errors = append(errors, "co2_factor_kg_per_kwh must be positive")
	}

	if c.PeakHourPercentile <= 0 || c.PeakHourPercentile >= 1 {
		errors = append(errors, "peak_hour_percentile must be between 0 and 1")
	}

	if c.SandboxRowLimit < 1 {
		errors = append(errors, "sandbox_row_limit must be at least 1")
	}

	if c.SandboxSnapshotRows < 1 {
		errors = append(errors, "sandbox_snapshot_rows must be at least 1")
	}

	// The reasoning service is optional; without a key the chat and
	// recommendation features fall back to canned output.

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
