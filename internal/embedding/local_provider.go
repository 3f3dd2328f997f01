package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/python"
)

const localTimeout = 2 * time.Minute

// LocalProvider runs embed.py from the managed uv project
type LocalProvider struct {
	config     Config
	uvPath     string
	projectDir string
	timeout    time.Duration

	// command builds the subprocess; replaced in tests
	command func(ctx context.Context, args ...string) *exec.Cmd
}

// embeddingResult represents the JSON response from embed.py
type embeddingResult struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimension  int         `json:"dimension"`
	Count      int         `json:"count"`
}

// NewLocalProvider creates a provider bound to a prepared uv project
func NewLocalProvider(cfg Config, uvPath, projectDir string) (*LocalProvider, error) {
	if uvPath == "" || projectDir == "" {
		return nil, errors.New(errors.ErrTypeEmbedding, "local embedding provider requires a uv project").
			WithSuggestion("Install uv or set embedding.provider to \"hash\" for offline use")
	}

	p := &LocalProvider{
		config:     cfg,
		uvPath:     uvPath,
		projectDir: projectDir,
		timeout:    localTimeout,
	}
	p.command = func(ctx context.Context, args ...string) *exec.Cmd {
		return python.RunScript(ctx, p.uvPath, p.projectDir, "embed.py", args...)
	}

	return p, nil
}

// GenerateEmbedding generates an embedding for the given text
func (p *LocalProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, p.config.Dimensions), nil
	}

	vecs, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vecs[0], nil
}

// GenerateEmbeddings sends every text to one embed.py invocation
func (p *LocalProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	input, err := json.Marshal(texts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to marshal input")
	}

	cmd := p.command(ctx, "--model", p.config.Model, "--stdin")
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Newf(errors.ErrTypeEmbedding, "embedding generation timed out after %v", p.timeout)
		}

		return nil, errors.Wrapf(err, errors.ErrTypeEmbedding,
			"embedding generation failed (stderr: %s)", strings.TrimSpace(stderr.String()))
	}

	var result embeddingResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to parse embedding result")
	}

	if len(result.Embeddings) != len(texts) {
		return nil, errors.Newf(errors.ErrTypeEmbedding, "expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	if result.Dimension != p.config.Dimensions {
		return nil, errors.Newf(errors.ErrTypeEmbedding,
			"dimension mismatch: expected %d, got %d", p.config.Dimensions, result.Dimension)
	}

	logging.WithFields(map[string]interface{}{
		"count":    len(texts),
		"model":    result.Model,
		"duration": time.Since(start).String(),
	}).Debug("Generated local embeddings")

	return toFloat32(result.Embeddings), nil
}

// GetDimensions returns the dimensionality of embeddings produced by this provider
func (p *LocalProvider) GetDimensions() int {
	return p.config.Dimensions
}

// IsEnabled reports whether the uv project is configured
func (p *LocalProvider) IsEnabled() bool {
	return p.uvPath != "" && p.projectDir != ""
}

// GetName returns the provider name for identification
func (p *LocalProvider) GetName() string {
	return fmt.Sprintf("local:%s", p.config.Model)
}
