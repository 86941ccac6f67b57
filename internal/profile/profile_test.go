package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEmbeddingEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LINKBASE_EMBEDDING_PROVIDER",
		"LINKBASE_EMBEDDING_API_KEY",
		"LINKBASE_EMBEDDING_BASE_URL",
		"LINKBASE_EMBEDDING_MODEL",
		"LINKBASE_EMBEDDING_DIMENSIONS",
		"LINKBASE_EMBEDDING_TIMEOUT_SECONDS",
		"LINKBASE_EMBEDDING_RPS",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEmbeddingEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.EmbeddingProvider)
	assert.Equal(t, "https://api.openai.com/v1", p.EmbeddingBaseURL)
	assert.Equal(t, "text-embedding-3-small", p.EmbeddingModel)
	assert.Equal(t, 1536, p.EmbeddingDimensions)
	assert.Equal(t, 30, p.EmbeddingTimeout)
	assert.Equal(t, 0, p.EmbeddingRPS)
	assert.False(t, p.IsEmbeddingEnabled())
}

func TestFromEnvProviderDefaults(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("LINKBASE_EMBEDDING_PROVIDER", "ollama")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "http://localhost:11434/v1", p.EmbeddingBaseURL)
	assert.Equal(t, "nomic-embed-text", p.EmbeddingModel)
	// Ollama needs no API key to be usable.
	assert.True(t, p.IsEmbeddingEnabled())
}

func TestFromEnvUnknownProviderFallsBack(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("LINKBASE_EMBEDDING_PROVIDER", "not-a-provider")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.EmbeddingProvider)
}

func TestFromEnvExplicitOverrides(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("LINKBASE_EMBEDDING_PROVIDER", "siliconflow")
	t.Setenv("LINKBASE_EMBEDDING_API_KEY", "test-key")
	t.Setenv("LINKBASE_EMBEDDING_MODEL", "custom-model")
	t.Setenv("LINKBASE_EMBEDDING_DIMENSIONS", "1024")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "https://api.siliconflow.cn/v1", p.EmbeddingBaseURL)
	assert.Equal(t, "custom-model", p.EmbeddingModel)
	assert.Equal(t, 1024, p.EmbeddingDimensions)
	assert.True(t, p.IsEmbeddingEnabled())
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	p := &Profile{Mode: "dev", Data: t.TempDir(), Driver: "postgres", EmbeddingDimensions: 1536}
	require.Error(t, p.Validate())

	p.DSN = "postgresql://localhost:5432/linkbase"
	require.NoError(t, p.Validate())
}

func TestValidateSQLiteDefaultsDSN(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Mode: "dev", Data: dir, Driver: "sqlite", EmbeddingDimensions: 1536}

	require.NoError(t, p.Validate())
	assert.Equal(t, filepath.Join(dir, "linkbase_dev.db"), p.DSN)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	p := &Profile{Mode: "dev", Data: t.TempDir(), Driver: "oracle", EmbeddingDimensions: 1536}
	assert.Error(t, p.Validate())
}

func TestValidateModeFallback(t *testing.T) {
	p := &Profile{Mode: "staging", Data: t.TempDir(), Driver: "sqlite", EmbeddingDimensions: 1536}
	require.NoError(t, p.Validate())
	assert.Equal(t, "demo", p.Mode)
}

func TestValidateEmbeddingDimensions(t *testing.T) {
	p := &Profile{Mode: "dev", Data: t.TempDir(), Driver: "sqlite"}
	assert.Error(t, p.Validate())
}
