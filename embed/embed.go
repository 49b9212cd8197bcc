// Package embed turns text into fixed-dimension vectors through any
// OpenAI-compatible embeddings endpoint.
package embed

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Service is the vector embedding service interface.
type Service interface {
	// Embed generates vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

// Config configures the embedding client. Any OpenAI-compatible provider
// works through BaseURL (openai, siliconflow, ollama, ...).
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int

	// RequestsPerSecond throttles outbound calls; zero disables throttling.
	RequestsPerSecond float64

	// MaxRetries bounds transient-failure retries per call.
	MaxRetries int
}

type openAIService struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
	maxRetries int
}

// NewService creates an embedding Service from cfg.
func NewService(cfg *Config) (Service, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("embedding dimensions required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &openAIService{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    limiter,
		maxRetries: cfg.MaxRetries,
	}, nil
}

func (s *openAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

func (s *openAIService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	}

	var resp openai.EmbeddingResponse
	var err error
	for attempt := 0; ; attempt++ {
		if s.limiter != nil {
			if werr := s.limiter.Wait(ctx); werr != nil {
				return nil, werr
			}
		}

		resp, err = s.client.CreateEmbeddings(ctx, req)
		if err == nil {
			break
		}
		if attempt >= s.maxRetries || ctx.Err() != nil {
			return nil, errors.Wrap(err, "create embeddings failed")
		}

		// Linear backoff is enough here; the rate limiter already spaces
		// calls out.
		select {
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}

	return vectors, nil
}

func (s *openAIService) Dimensions() int {
	return s.dimensions
}
