// Package llm builds the tool-calling chat model the agent talks to.
package llm

import (
	"context"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
)

// NewChatModel creates a chat model for the configured provider
func NewChatModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	temperature := resolved.Temperature

	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      resolved.APIKey,
		BaseURL:     resolved.BaseURL,
		Model:       resolved.Model,
		Timeout:     resolved.Timeout,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeModel, "failed to create %s chat model", resolved.Provider)
	}

	logging.WithFields(map[string]interface{}{
		"provider": resolved.Provider,
		"model":    resolved.Model,
	}).Debug("Created chat model")

	return cm, nil
}

// NewFallbackChain builds the primary model followed by one model per
// fallback provider, each on its provider defaults. A fallback whose key is
// missing is skipped; a broken primary is an error.
func NewFallbackChain(ctx context.Context, primary Config, fallbacks []string) (*Manager, error) {
	m := NewManager()

	cm, err := NewChatModel(ctx, primary)
	if err != nil {
		return nil, err
	}

	if err := m.RegisterProvider(providerName(primary), cm); err != nil {
		return nil, err
	}

	for _, provider := range fallbacks {
		cfg := Config{
			Provider:    provider,
			Temperature: primary.Temperature,
			Timeout:     primary.Timeout,
		}

		cm, err := NewChatModel(ctx, cfg)
		if err != nil {
			logging.WithError(err).WithField("provider", provider).Warn("Skipping fallback chat model")
			continue
		}

		if err := m.RegisterProvider(providerName(cfg), cm); err != nil {
			logging.WithError(err).WithField("provider", provider).Warn("Skipping fallback chat model")
		}
	}

	return m, nil
}

func providerName(cfg Config) string {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		return ProviderGroq
	}

	return name
}
