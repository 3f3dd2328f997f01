// Package embedding turns schema descriptions into vectors. Providers run a
// local sentence-transformers model through uv, call an OpenAI-compatible
// endpoint, or hash tokens for offline use.
package embedding

import (
	"context"
	"math"

	"github.com/kyleking/sqlchat/internal/config"
	"github.com/kyleking/sqlchat/internal/errors"
)

// Provider defines the interface for embedding providers
type Provider interface {
	// GenerateEmbedding generates an embedding for the given text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateEmbeddings embeds texts in one batch, preserving order
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// GetDimensions returns the dimensionality of embeddings produced by this provider
	GetDimensions() int

	// IsEnabled returns whether the provider is enabled and ready to use
	IsEnabled() bool

	// GetName returns the provider name for identification
	GetName() string
}

// Config represents embedding provider configuration
type Config struct {
	Provider   string `json:"provider"` // local, remote or hash
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"-"`
	Enabled    bool   `json:"enabled"`
}

// DefaultConfig returns default embedding configuration
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultConfig().Embedding)
}

// ConfigFrom converts the application section
func ConfigFrom(cfg config.EmbeddingConfig) Config {
	return Config{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Enabled:    cfg.Enabled,
	}
}

// NewProvider builds the configured provider. uvPath and projectDir are only
// used by the local provider.
func NewProvider(cfg Config, uvPath, projectDir string) (Provider, error) {
	if !cfg.Enabled {
		return DisabledProvider{}, nil
	}

	if cfg.Dimensions <= 0 {
		return nil, errors.NewConfigError("embedding dimensions must be positive", "embedding.dimensions")
	}

	switch cfg.Provider {
	case "local":
		return NewLocalProvider(cfg, uvPath, projectDir)
	case "remote":
		return NewRemoteProvider(cfg)
	case "hash":
		return NewHashProvider(cfg.Dimensions), nil
	default:
		return nil, errors.NewConfigError("unsupported embedding provider: "+cfg.Provider, "embedding.provider")
	}
}

// DisabledProvider is a no-op provider for when embeddings are disabled
type DisabledProvider struct{}

func (DisabledProvider) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New(errors.ErrTypeEmbedding, "embedding provider is disabled")
}

func (DisabledProvider) GenerateEmbeddings(context.Context, []string) ([][]float32, error) {
	return nil, errors.New(errors.ErrTypeEmbedding, "embedding provider is disabled")
}

func (DisabledProvider) GetDimensions() int { return 0 }

func (DisabledProvider) IsEnabled() bool { return false }

func (DisabledProvider) GetName() string { return "disabled" }

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func toFloat32(vecs [][]float64) [][]float32 {
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = make([]float32, len(v))
		for j, x := range v {
			out[i][j] = float32(x)
		}
	}

	return out
}

func toFloat64(vecs [][]float32) [][]float64 {
	out := make([][]float64, len(vecs))
	for i, v := range vecs {
		out[i] = make([]float64, len(v))
		for j, x := range v {
			out[i][j] = float64(x)
		}
	}

	return out
}
