package llm

import (
	"os"
	"strings"
	"time"

	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/errors"
)

// Supported chat model providers. All of them speak the OpenAI chat
// completions protocol.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// providerDefaults holds the endpoint, model and key variable per provider
var providerDefaults = map[string]struct {
	baseURL string
	model   string
	keyEnv  string
}{
	ProviderGroq:   {"https://api.groq.com/openai/v1", "llama-3.3-70b-versatile", "GROQ_API_KEY"},
	ProviderOpenAI: {"https://api.openai.com/v1", "gpt-4o-mini", "OPENAI_API_KEY"},
	ProviderOllama: {"http://localhost:11434/v1", "llama3.1", ""},
}

// Config represents the configuration for a chat model
type Config struct {
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	APIKey      string        `json:"-"`
	BaseURL     string        `json:"base_url"`
	Temperature float32       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// ConfigFrom converts the application LLM section
func ConfigFrom(c config.LLMConfig) Config {
	timeout, err := time.ParseDuration(c.Timeout)
	if err != nil {
		timeout = time.Minute
	}

	return Config{
		Provider:    c.Provider,
		Model:       c.Model,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Temperature: c.Temperature,
		Timeout:     timeout,
	}
}

// Resolve fills provider defaults and the API key from the provider's
// conventional environment variable.
func (c Config) Resolve() (Config, error) {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderGroq
	}

	defaults, ok := providerDefaults[c.Provider]
	if !ok {
		return c, errors.NewConfigError("unsupported LLM provider: "+c.Provider, "llm.provider")
	}

	if c.BaseURL == "" {
		c.BaseURL = defaults.baseURL
	}

	if c.Model == "" {
		c.Model = defaults.model
	}

	if c.APIKey == "" && defaults.keyEnv != "" {
		c.APIKey = os.Getenv(defaults.keyEnv)
	}

	if c.APIKey == "" && c.Provider != ProviderOllama {
		return c, errors.NewConfigError("no API key configured for "+c.Provider, "llm.api_key").
			WithSuggestion("Set SQLCHAT_LLM_API_KEY or " + defaults.keyEnv)
	}

	return c, nil
}
