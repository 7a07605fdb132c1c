package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PERISCOPE_CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.3, cfg.Validation.ConfidenceFloor)
	assert.Equal(t, 8, cfg.Validation.MaxHitsPerQuestion)
	assert.Equal(t, 0, cfg.Retry.MaxRounds, "retries are opt-in by default")
	assert.Equal(t, 3, cfg.Retry.AlternativeTerms)
	assert.Equal(t, 5, cfg.Quality.MinDocuments)
	assert.Equal(t, 48*time.Hour, cfg.Quality.RecencyWindow)
	assert.Equal(t, 3, cfg.Quality.GapFillMinYield)
	assert.Equal(t, 120*time.Second, cfg.Quality.GapFillBudget)
	assert.Equal(t, 1, cfg.Quality.MaxIterations)
	assert.Equal(t, 2, cfg.Search.TermsPerSubQuestion)
	assert.Equal(t, 3, cfg.Decomposition.MinSubQuestions)
	assert.Equal(t, 6, cfg.Decomposition.MaxSubQuestions)
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "researcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
validation:
  confidence_floor: 0.45
retry:
  max_rounds: 2
`), 0o644))

	t.Setenv("PERISCOPE_CONFIG_PATH", path)
	t.Setenv("PERISCOPE_RETRY_MAX_ROUNDS", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.45, cfg.Validation.ConfidenceFloor)
	assert.Equal(t, 1, cfg.Retry.MaxRounds, "env override wins over the file")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "researcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
validation:
  confidence_floor: 1.5
`), 0o644))

	t.Setenv("PERISCOPE_CONFIG_PATH", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateBounds(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Decomposition.MaxSubQuestions = 2 // below min of 3
	assert.Error(t, cfg.Validate())

	cfg, err = Load()
	require.NoError(t, err)
	cfg.Quality.MaxIterations = 0
	assert.Error(t, cfg.Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", p.DSN())
}
