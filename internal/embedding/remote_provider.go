package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kyleking/sqlchat/internal/errors"
)

const defaultRemoteBaseURL = "https://api.openai.com/v1"

// RemoteProvider calls an OpenAI-compatible /embeddings endpoint
type RemoteProvider struct {
	config  Config
	baseURL string
	client  *http.Client
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewRemoteProvider creates a provider for cfg.BaseURL, defaulting to OpenAI
func NewRemoteProvider(cfg Config) (*RemoteProvider, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultRemoteBaseURL
	}

	if cfg.Model == "" {
		return nil, errors.NewConfigError("remote embedding provider requires a model", "embedding.model")
	}

	return &RemoteProvider{
		config:  cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// GenerateEmbedding generates an embedding for the given text
func (p *RemoteProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vecs[0], nil
}

// GenerateEmbeddings posts texts in a single request
func (p *RemoteProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to build request")
	}

	req.Header.Set("Content-Type", "application/json")

	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "embedding request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to read embedding response")
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeEmbedding, "unexpected embedding response (status %d)", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}

		return nil, errors.Newf(errors.ErrTypeEmbedding, "embedding endpoint returned %d: %s", resp.StatusCode, msg)
	}

	if len(parsed.Data) != len(texts) {
		return nil, errors.Newf(errors.ErrTypeEmbedding, "expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vecs := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) != p.config.Dimensions {
			return nil, errors.Newf(errors.ErrTypeEmbedding,
				"dimension mismatch: expected %d, got %d", p.config.Dimensions, len(d.Embedding))
		}

		vecs[i] = d.Embedding
	}

	return toFloat32(vecs), nil
}

// GetDimensions returns the configured dimensionality
func (p *RemoteProvider) GetDimensions() int {
	return p.config.Dimensions
}

// IsEnabled returns true; credentials are checked on the first request
func (p *RemoteProvider) IsEnabled() bool {
	return true
}

// GetName returns the provider name for identification
func (p *RemoteProvider) GetName() string {
	return fmt.Sprintf("remote:%s", p.config.Model)
}
