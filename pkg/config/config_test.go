package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HADRON_ANTHROPIC_API_KEY", "test-key")

	b, warnings, err := Load(t.TempDir())
	require.NoError(t, err)
	require.NotEmpty(t, warnings) // no .env in an empty temp dir

	require.Equal(t, "8080", b.HTTPPort)
	require.Equal(t, 5432, b.Database.Port)
	require.Equal(t, 3, b.Pipeline.MaxVerificationLoops)
	require.Equal(t, []string{"anthropic", "gemini"}, b.Provider.FallbackChain)
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("HADRON_DB_PORT", "not-a-number")

	_, _, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestValidateRequiresAProviderKey(t *testing.T) {
	b := &Bootstrap{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "hadron", Database: "hadron"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Provider: ProviderConfig{FallbackChain: []string{"anthropic"}},
		Pipeline: PipelineConfig{MaxVerificationLoops: 3, MaxReviewDevLoops: 3, MaxTDDIterations: 5},
	}
	require.Error(t, b.Validate())

	b.Provider.AnthropicAPIKey = "test-key"
	require.NoError(t, b.Validate())
}
