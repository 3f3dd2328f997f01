package embedding

import (
	"context"
	"encoding/json"

	"github.com/kyleking/sqlchat/internal/cache"
	"github.com/kyleking/sqlchat/internal/logging"
)

// CachedProvider memoizes vectors per provider name and text. Reconnecting to
// the same database then skips the model for every unchanged description.
type CachedProvider struct {
	Provider
	cache cache.Cache
}

// WithCache wraps p. A nil cache returns p unchanged.
func WithCache(p Provider, c cache.Cache) Provider {
	if c == nil {
		return p
	}

	return &CachedProvider{Provider: p, cache: c}
}

func (p *CachedProvider) key(text string) string {
	return "embedding\x00" + p.GetName() + "\x00" + text
}

// GenerateEmbedding checks the cache before calling the wrapped provider
func (p *CachedProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vecs[0], nil
}

// GenerateEmbeddings only sends cache misses to the wrapped provider
func (p *CachedProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var (
		missing []string
		slots   []int
	)

	for i, text := range texts {
		if raw, err := p.cache.Get(ctx, p.key(text)); err == nil {
			var vec []float32
			if json.Unmarshal(raw, &vec) == nil && len(vec) == p.GetDimensions() {
				out[i] = vec
				continue
			}
		}

		missing = append(missing, text)
		slots = append(slots, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := p.Provider.GenerateEmbeddings(ctx, missing)
	if err != nil {
		return nil, err
	}

	for j, vec := range fresh {
		out[slots[j]] = vec

		raw, err := json.Marshal(vec)
		if err != nil {
			continue
		}

		if err := p.cache.Set(ctx, p.key(missing[j]), raw, 0); err != nil {
			logging.WithError(err).Debug("Failed to cache embedding")
		}
	}

	logging.WithFields(map[string]interface{}{
		"hits":   len(texts) - len(missing),
		"misses": len(missing),
	}).Debug("Embedding cache lookup")

	return out, nil
}
