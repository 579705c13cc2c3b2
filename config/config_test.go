package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sentinelmesh/core"
)

func TestDefaultValidatesWithMockModel(t *testing.T) {
	cfg := Default()
	cfg.Models.Default = "mock"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Contains(t, cfg.WebSearch.TrustedDomains, "nist.gov")
}

func TestValidateRequiresCredentials(t *testing.T) {
	cfg := Default()
	cfg.Models.OpenAIKeyEnv = "TEST_MISSING_OPENAI_KEY"
	cfg.Models.AnthropicKeyEnv = "TEST_MISSING_ANTHROPIC_KEY"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestValidateRejectsThresholdOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Models.Default = "mock"
	cfg.Collaboration.Threshold = 1.5

	assert.ErrorIs(t, cfg.Validate(), core.ErrConfiguration)
}

func TestValidateRejectsZeroWeights(t *testing.T) {
	cfg := Default()
	cfg.Models.Default = "mock"
	cfg.Confidence.RetrievalWeight = 0
	cfg.Confidence.SelfRatingWeight = 0

	assert.ErrorIs(t, cfg.Validate(), core.ErrConfiguration)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinelmesh.toml")
	data := `
[models]
default = "mock"

[collaboration]
threshold = 0.7
consult_timeout = "20s"

[web_search]
trusted_domains = ["cisa.gov"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Collaboration.Threshold)
	assert.Equal(t, 20*time.Second, cfg.ConsultTimeout())
	assert.Equal(t, []string{"cisa.gov"}, cfg.WebSearch.TrustedDomains)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 0.35, cfg.Routing.ConfidenceFloor)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[models\n"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.Collaboration.Threshold)
}
