package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlchat/internal/cache"
	"github.com/kyleking/sqlchat/internal/errors"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}

func TestHashProvider(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()

	a, err := p.GenerateEmbedding(ctx, "Column 'salary' in table 'employees' has data type DOUBLE.")
	require.NoError(t, err)
	require.Len(t, a, 64)

	again, err := p.GenerateEmbedding(ctx, "Column 'salary' in table 'employees' has data type DOUBLE.")
	require.NoError(t, err)
	assert.Equal(t, a, again, "hash embeddings must be deterministic")

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	empty, err := p.GenerateEmbedding(ctx, "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 64), empty)
}

func TestHashProviderRanksOverlapHigher(t *testing.T) {
	p := NewHashProvider(384)
	ctx := context.Background()

	vecs, err := p.GenerateEmbeddings(ctx, []string{
		"average salary by department",
		"Column 'salary' in table 'employees' has data type DOUBLE.",
		"Table 'weather' contains: city (VARCHAR), temp (DOUBLE).",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Greater(t, CosineSimilarity(vecs[0], vecs[1]), CosineSimilarity(vecs[0], vecs[2]))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{Enabled: false}, "", "")
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	_, err = p.GenerateEmbedding(context.Background(), "x")
	assert.True(t, errors.IsType(err, errors.ErrTypeEmbedding))

	p, err = NewProvider(Config{Enabled: true, Provider: "hash", Dimensions: 16}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "hash", p.GetName())
	assert.Equal(t, 16, p.GetDimensions())

	_, err = NewProvider(Config{Enabled: true, Provider: "bogus", Dimensions: 16}, "", "")
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewProvider(Config{Enabled: true, Provider: "local", Dimensions: 16}, "", "")
	assert.True(t, errors.IsType(err, errors.ErrTypeEmbedding), "local needs a uv project")

	_, err = NewProvider(Config{Enabled: true, Provider: "hash"}, "", "")
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "local", cfg.Provider)
	assert.Equal(t, 384, cfg.Dimensions)
	assert.True(t, cfg.Enabled)
}

func TestRemoteProvider(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// Out of order on purpose; the provider sorts by index
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float64{0, 1, 0}},
				{"index": 0, "embedding": []float64{1, 0, 0}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewRemoteProvider(Config{
		Model:      "text-embedding-3-small",
		Dimensions: 3,
		BaseURL:    srv.URL + "/v1/",
		APIKey:     "sk-test",
	})
	require.NoError(t, err)

	vecs, err := p.GenerateEmbeddings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, vecs)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "remote:text-embedding-3-small", p.GetName())
}

func TestRemoteProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	p, err := NewRemoteProvider(Config{Model: "m", Dimensions: 3, BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.GenerateEmbedding(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeEmbedding))
	assert.Contains(t, err.Error(), "invalid api key")

	_, err = NewRemoteProvider(Config{Dimensions: 3})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func fakeLocal(t *testing.T, output string) *LocalProvider {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	p, err := NewLocalProvider(Config{Model: "mini", Dimensions: 2}, "/unused/uv", t.TempDir())
	require.NoError(t, err)

	p.command = func(ctx context.Context, args ...string) *exec.Cmd {
		assert.Equal(t, []string{"--model", "mini", "--stdin"}, args)
		return exec.CommandContext(ctx, "sh", "-c", "cat >/dev/null; printf '%s' '"+output+"'")
	}

	return p
}

func TestLocalProvider(t *testing.T) {
	p := fakeLocal(t, `{"embeddings":[[0.5,0.5],[1,0]],"model":"mini","dimension":2,"count":2}`)

	vecs, err := p.GenerateEmbeddings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}, {1, 0}}, vecs)

	empty, err := p.GenerateEmbedding(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, empty)
}

func TestLocalProviderValidatesOutput(t *testing.T) {
	p := fakeLocal(t, `{"embeddings":[[0.5,0.5,0.1]],"model":"mini","dimension":3,"count":1}`)

	_, err := p.GenerateEmbedding(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")

	p = fakeLocal(t, `not json`)
	_, err = p.GenerateEmbedding(context.Background(), "a")
	assert.True(t, errors.IsType(err, errors.ErrTypeEmbedding))
}

type countingProvider struct {
	*HashProvider
	calls int
	texts int
}

func (c *countingProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)

	return c.HashProvider.GenerateEmbeddings(ctx, texts)
}

func TestCachedProvider(t *testing.T) {
	fc, err := cache.NewFileCache(t.TempDir(), 10, time.Hour, 0)
	require.NoError(t, err)
	defer fc.Close()

	inner := &countingProvider{HashProvider: NewHashProvider(8)}
	p := WithCache(inner, fc)
	ctx := context.Background()

	first, err := p.GenerateEmbeddings(ctx, []string{"a b", "c d"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.texts)

	second, err := p.GenerateEmbeddings(ctx, []string{"c d", "e f", "a b"})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.texts, "only the new text reaches the provider")
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, first[1], second[0])

	single, err := p.GenerateEmbedding(ctx, "a b")
	require.NoError(t, err)
	assert.Equal(t, first[0], single)
	assert.Equal(t, 2, inner.calls)

	assert.Same(t, inner, WithCache(inner, nil))
}

func TestManager(t *testing.T) {
	m, err := NewManager(Config{Enabled: false}, "", "")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.False(t, m.IsEnabled())
	assert.Equal(t, "disabled", m.Name())

	m, err = NewManager(Config{Enabled: true, Provider: "hash", Dimensions: 12}, "", "")
	require.NoError(t, err)
	assert.True(t, m.IsEnabled())
	assert.Equal(t, 12, m.Dimensions())

	vecs, err := m.EmbedStrings(context.Background(), []string{"revenue by region"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], 12)

	direct, err := m.GenerateEmbedding(context.Background(), "revenue by region")
	require.NoError(t, err)

	for i := range direct {
		assert.InDelta(t, float64(direct[i]), vecs[0][i], 1e-9)
	}
}
