package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names. A .env file in the working directory is loaded
// first, then real environment variables override config file values.
const (
	EnvJiraBaseURL   = "JIRA_BASE_URL"
	EnvJiraEmail     = "JIRA_EMAIL"
	EnvJiraAPIToken  = "JIRA_API_TOKEN"
	EnvTestmoBaseURL = "TESTMO_BASE_URL"
	EnvTestmoAPIKey  = "TESTMO_API_KEY"
	EnvEncryptionKey = "ENCRYPTION_KEY"
	EnvJWTSecret     = "JWT_SECRET_KEY"
	EnvAIAPIKey      = "AI_API_KEY"
)

// Config represents the application configuration
type Config struct {
	// Jira connection (basic auth: email + API token)
	JiraBaseURL  string `json:"jira_base_url"`
	JiraEmail    string `json:"jira_email"`
	JiraAPIToken string `json:"jira_api_token"`

	// Testmo connection (bearer token)
	TestmoBaseURL string `json:"testmo_base_url"`
	TestmoAPIKey  string `json:"testmo_api_key"`

	// Path to the SQLite database file
	DatabasePath string `json:"database_path"`

	// Secrets. EncryptionKey protects stored settings; JWTSecret signs
	// session tokens.
	EncryptionKey string `json:"encryption_key"`
	JWTSecret     string `json:"jwt_secret"`

	// HTTP server listen address
	ListenAddr string `json:"listen_addr"`

	// AI enrichment
	AIEnabled           bool   `json:"ai_enabled"`
	AIAPIKey            string `json:"ai_api_key"`
	AIVisionEnabled     bool   `json:"ai_vision_enabled"`
	AIAutomationEnabled bool   `json:"ai_automation_enabled"`
	AINegativeEnabled   bool   `json:"ai_negative_enabled"`
	AIMockDataEnabled   bool   `json:"ai_mockdata_enabled"`
	AISystemPrompt      string `json:"ai_system_prompt"`
}

// LoadConfig loads the configuration from a JSON file, applying environment
// overrides and URL normalization
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Load a .env file if present; real environment still wins
	_ = godotenv.Load()

	applyEnv(&config)

	// Set default database path if not specified
	if config.DatabasePath == "" {
		config.DatabasePath = "veloxcase.db"
	}

	// Make database path absolute if it's relative
	if !filepath.IsAbs(config.DatabasePath) {
		configDir := filepath.Dir(path)
		config.DatabasePath = filepath.Join(configDir, config.DatabasePath)
	}

	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}

	config.JiraBaseURL = NormalizeJiraURL(config.JiraBaseURL)
	config.TestmoBaseURL = NormalizeTestmoURL(config.TestmoBaseURL)

	return &config, nil
}

func applyEnv(config *Config) {
	overrides := map[string]*string{
		EnvJiraBaseURL:   &config.JiraBaseURL,
		EnvJiraEmail:     &config.JiraEmail,
		EnvJiraAPIToken:  &config.JiraAPIToken,
		EnvTestmoBaseURL: &config.TestmoBaseURL,
		EnvTestmoAPIKey:  &config.TestmoAPIKey,
		EnvEncryptionKey: &config.EncryptionKey,
		EnvJWTSecret:     &config.JWTSecret,
		EnvAIAPIKey:      &config.AIAPIKey,
	}
	for name, field := range overrides {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}

// NormalizeJiraURL trims trailing slashes and defaults the scheme to https
func NormalizeJiraURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if u != "" && !strings.HasPrefix(u, "http") {
		u = "https://" + u
	}
	return u
}

// NormalizeTestmoURL normalizes like NormalizeJiraURL and additionally
// appends the /api/v1 suffix the Testmo REST API lives under
func NormalizeTestmoURL(raw string) string {
	u := NormalizeJiraURL(raw)
	if u != "" && !strings.HasSuffix(u, "/api/v1") {
		u += "/api/v1"
	}
	return u
}

// SaveConfig saves the configuration to a JSON file
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	// Check if the file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	config := &Config{
		JiraBaseURL:   "https://example.atlassian.net",
		TestmoBaseURL: "https://example.testmo.net",
		DatabasePath:  "veloxcase.db",
		ListenAddr:    ":8080",
	}

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(config, path)
}
