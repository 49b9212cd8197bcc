package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProfile(t *testing.T) *Profile {
	t.Helper()
	return &Profile{
		Mode:                "dev",
		Data:                t.TempDir(),
		Driver:              "sqlite",
		DSN:                 "recall.db",
		EmbeddingAPIKey:     "sk-test",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		ChunkTargetWords:    100,
		ChunkOverlapWords:   10,
	}
}

func TestProfileValidate(t *testing.T) {
	t.Run("valid profile passes", func(t *testing.T) {
		p := validProfile(t)
		require.NoError(t, p.Validate())
		assert.Equal(t, 4, p.IngestConcurrency, "default concurrency applied")
	})

	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		p := validProfile(t)
		p.Mode = "staging"
		require.NoError(t, p.Validate())
		assert.Equal(t, "demo", p.Mode)
	})

	t.Run("unsupported driver rejected", func(t *testing.T) {
		p := validProfile(t)
		p.Driver = "mysql"
		assert.Error(t, p.Validate())
	})

	t.Run("missing dsn rejected", func(t *testing.T) {
		p := validProfile(t)
		p.DSN = ""
		assert.Error(t, p.Validate())
	})

	t.Run("missing embedding key rejected", func(t *testing.T) {
		p := validProfile(t)
		p.EmbeddingAPIKey = ""
		assert.Error(t, p.Validate())
	})

	t.Run("overlap must stay below target", func(t *testing.T) {
		p := validProfile(t)
		p.ChunkOverlapWords = 100
		assert.Error(t, p.Validate())
	})
}

func TestSnapshotPath(t *testing.T) {
	p := &Profile{Data: "/var/opt/recall"}
	assert.Equal(t, "/var/opt/recall/vector_index.snapshot", p.SnapshotPath())
}
