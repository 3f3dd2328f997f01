package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider embeds text by hashing word and character trigram features
// into a fixed number of buckets. It needs no model and is deterministic,
// which makes it the fallback when no Python environment is available.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a provider producing vectors of the given size
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = 384
	}

	return &HashProvider{dimensions: dimensions}
}

// GenerateEmbedding returns an L2-normalized feature vector
func (p *HashProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, p.dimensions)

	for _, word := range tokenize(text) {
		p.add(vec, "w:"+word, 1.0)

		padded := "^" + word + "$"
		runes := []rune(padded)

		for i := 0; i+3 <= len(runes); i++ {
			p.add(vec, "c:"+string(runes[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}

	out := make([]float32, p.dimensions)
	if norm == 0 {
		return out, nil
	}

	norm = math.Sqrt(norm)
	for i, x := range vec {
		out[i] = float32(x / norm)
	}

	return out, nil
}

// GenerateEmbeddings embeds each text independently
func (p *HashProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for i, text := range texts {
		vec, err := p.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}

		out[i] = vec
	}

	return out, nil
}

func (p *HashProvider) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(p.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}

	vec[idx] += weight
}

// tokenize lower-cases text and splits on anything that is not a letter or
// digit, so snake_case column names contribute each part.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// GetDimensions returns the vector size
func (p *HashProvider) GetDimensions() int {
	return p.dimensions
}

// IsEnabled is always true
func (p *HashProvider) IsEnabled() bool {
	return true
}

// GetName returns the provider name for identification
func (p *HashProvider) GetName() string {
	return "hash"
}
