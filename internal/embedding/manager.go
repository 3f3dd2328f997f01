package embedding

import (
	"context"

	einoembedding "github.com/cloudwego/eino/components/embedding"

	"github.com/kyleking/sqlchat/internal/errors"
)

// Manager wraps an embedding Provider for the schema index. It satisfies the
// eino Embedder interface so other eino components can share it.
type Manager struct {
	provider Provider
}

var _ einoembedding.Embedder = (*Manager)(nil)

// NewManager creates a Manager from the given config.
// Returns nil if embeddings are not enabled.
func NewManager(cfg Config, uvPath, projectDir string) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider, err := NewProvider(cfg, uvPath, projectDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to create embedding provider")
	}

	return &Manager{provider: provider}, nil
}

// NewManagerWithProvider wraps an existing provider
func NewManagerWithProvider(p Provider) *Manager {
	return &Manager{provider: p}
}

// GenerateEmbedding generates an embedding vector for the given text
func (m *Manager) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return m.provider.GenerateEmbedding(ctx, text)
}

// GenerateEmbeddings embeds texts in order
func (m *Manager) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return m.provider.GenerateEmbeddings(ctx, texts)
}

// EmbedStrings implements the eino Embedder interface
func (m *Manager) EmbedStrings(ctx context.Context, texts []string, _ ...einoembedding.Option) ([][]float64, error) {
	vecs, err := m.provider.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}

	return toFloat64(vecs), nil
}

// IsEnabled returns whether the manager's provider is enabled
func (m *Manager) IsEnabled() bool {
	return m != nil && m.provider != nil && m.provider.IsEnabled()
}

// Name identifies the underlying provider
func (m *Manager) Name() string {
	if m == nil || m.provider == nil {
		return "disabled"
	}

	return m.provider.GetName()
}

// Dimensions returns the vector size
func (m *Manager) Dimensions() int {
	if m == nil || m.provider == nil {
		return 0
	}

	return m.provider.GetDimensions()
}
