package config

import (
	"strings"
	"time"
)

// AIConfig configures the HTTP client for the AI provider.
type AIConfig struct {
	// Endpoint is the provider URL that accepts {model, prompt, schema} and returns JSON.
	Endpoint string `env:"AI_ENDPOINT"`
	Model    string `env:"AI_MODEL"    envDefault:"default"`

	// APIKey is sent as a bearer token when no OAuth2 client credentials are configured.
	APIKey string `env:"AI_API_KEY"`

	// Client credentials for gateways that require OAuth2.
	TokenURL     string   `env:"AI_TOKEN_URL"`
	ClientID     string   `env:"AI_CLIENT_ID"`
	ClientSecret string   `env:"AI_CLIENT_SECRET"`
	Scopes       []string `env:"AI_SCOPES"`

	// ResponsePath is a JMESPath expression selecting the structured result in the provider response.
	ResponsePath string `env:"AI_RESPONSE_PATH" envDefault:"output"`

	RequestsPerSecond float64       `env:"AI_REQUESTS_PER_SECOND" envDefault:"2"`
	Burst             int           `env:"AI_BURST"               envDefault:"4"`
	Timeout           time.Duration `env:"AI_TIMEOUT"             envDefault:"60s"`
}

// Sanitize applies guardrails to AI client configuration values.
func (a *AIConfig) Sanitize() {
	a.Endpoint = strings.TrimSpace(a.Endpoint)
	a.ResponsePath = strings.TrimSpace(a.ResponsePath)
	if a.Model = strings.TrimSpace(a.Model); a.Model == "" {
		a.Model = "default"
	}
	if a.RequestsPerSecond <= 0 {
		a.RequestsPerSecond = 2
	}
	if a.Burst < 1 {
		a.Burst = 1
	}
	if a.Timeout <= 0 {
		a.Timeout = 60 * time.Second
	}
}

// IsConfigured reports whether an AI endpoint is set.
func (a *AIConfig) IsConfigured() bool {
	return a.Endpoint != ""
}

// UsesClientCredentials reports whether the OAuth2 client credentials flow is configured.
func (a *AIConfig) UsesClientCredentials() bool {
	return a.TokenURL != "" && a.ClientID != "" && a.ClientSecret != ""
}
