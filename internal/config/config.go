package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// LLMProvider is "mock", "openai" or "vertex".
	LLMProvider string

	OpenAIAPIKey        string
	OpenAIFastModel     string
	OpenAIAdvancedModel string

	GCPProjectID string
	GCPLocation  string
	VertexModel  string

	// StorageBackend is "memory" or "firestore".
	StorageBackend string

	// AuthSecret signs and verifies relay tokens.
	AuthSecret string

	// APIBase is the relay base URL the client engine talks to.
	APIBase string

	// SendTimeout bounds one whole send, gateway call included.
	SendTimeout time.Duration

	// SettingsPath is where the CLI persists user settings.
	SettingsPath string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// Load reads all env vars and builds the config.
func Load() *Config {
	return &Config{
		Port: getEnv("POLYAGENT_PORT", "8080"),

		LLMProvider: getEnv("POLYAGENT_LLM_PROVIDER", "mock"),

		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIFastModel:     getEnv("POLYAGENT_OPENAI_FAST_MODEL", ""),
		OpenAIAdvancedModel: getEnv("POLYAGENT_OPENAI_ADVANCED_MODEL", ""),

		GCPProjectID: getEnv("POLYAGENT_GCP_PROJECT", ""),
		GCPLocation:  getEnv("POLYAGENT_GCP_LOCATION", "us-central1"),
		VertexModel:  getEnv("POLYAGENT_MODEL_NAME", ""),

		StorageBackend: getEnv("POLYAGENT_STORAGE_BACKEND", "memory"),

		AuthSecret: getEnv("POLYAGENT_AUTH_SECRET", ""),

		APIBase: getEnv("POLYAGENT_API_BASE", "http://localhost:8080"),

		SendTimeout: getDurationEnv("POLYAGENT_SEND_TIMEOUT", 60*time.Second),

		SettingsPath: getEnv("POLYAGENT_SETTINGS_PATH", defaultSettingsPath()),
	}
}

// Validate checks the combinations a running process actually needs.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "mock":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set for the openai provider")
		}
	case "vertex":
		if c.GCPProjectID == "" {
			return fmt.Errorf("POLYAGENT_GCP_PROJECT must be set for the vertex provider")
		}
	default:
		return fmt.Errorf("unknown LLM provider %q", c.LLMProvider)
	}

	switch c.StorageBackend {
	case "memory":
	case "firestore":
		if c.GCPProjectID == "" {
			return fmt.Errorf("POLYAGENT_GCP_PROJECT must be set for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	if c.AuthSecret == "" {
		return fmt.Errorf("POLYAGENT_AUTH_SECRET must be set")
	}
	return nil
}

func defaultSettingsPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/polyagent/settings.toml"
	}
	return "polyagent-settings.toml"
}
