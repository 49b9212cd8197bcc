package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Server
	Mode string // "prod", "dev" or "demo"
	Addr string
	Port int
	Data string // data directory (index snapshot lives here)

	// Graph store
	Driver string // "postgres" or "sqlite"
	DSN    string

	// Embedding provider (any OpenAI-compatible endpoint)
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingRPS        float64
	EmbeddingMaxRetries int

	// Chunking
	ChunkTargetWords  int
	ChunkOverlapWords int

	// IngestConcurrency bounds simultaneous ingest requests at the API layer.
	IngestConcurrency int

	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// SnapshotPath is the location of the flat index snapshot file.
func (p *Profile) SnapshotPath() string {
	return filepath.Join(p.Data, "vector_index.snapshot")
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingAPIKey = getEnvOrDefault("RECALL_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("RECALL_EMBEDDING_BASE_URL", "")
	p.EmbeddingModel = getEnvOrDefault("RECALL_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingDimensions = getEnvOrDefaultInt("RECALL_EMBEDDING_DIMENSIONS", 1536)
	p.EmbeddingRPS = getEnvOrDefaultFloat("RECALL_EMBEDDING_RPS", 10)
	p.EmbeddingMaxRetries = getEnvOrDefaultInt("RECALL_EMBEDDING_MAX_RETRIES", 2)

	p.ChunkTargetWords = getEnvOrDefaultInt("RECALL_CHUNK_TARGET_WORDS", 100)
	p.ChunkOverlapWords = getEnvOrDefaultInt("RECALL_CHUNK_OVERLAP_WORDS", 10)
	p.IngestConcurrency = getEnvOrDefaultInt("RECALL_INGEST_CONCURRENCY", 4)
}

// Validate normalizes and checks the profile.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Data == "" {
		p.Data = "."
	}
	p.Data = strings.TrimRight(p.Data, "\\/")
	if _, err := os.Stat(p.Data); err != nil {
		return errors.Wrapf(err, "unable to access data folder %s", p.Data)
	}

	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}
	if p.DSN == "" {
		return errors.New("dsn required")
	}

	if p.EmbeddingAPIKey == "" {
		return errors.New("embedding api key required")
	}
	if p.EmbeddingDimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if p.ChunkTargetWords <= 0 {
		p.ChunkTargetWords = 100
	}
	if p.ChunkOverlapWords < 0 {
		p.ChunkOverlapWords = 0
	}
	if p.ChunkOverlapWords >= p.ChunkTargetWords {
		return errors.Errorf("chunk overlap (%d) must be smaller than target (%d)",
			p.ChunkOverlapWords, p.ChunkTargetWords)
	}
	if p.IngestConcurrency <= 0 {
		p.IngestConcurrency = 4
	}

	return nil
}
