package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg := NewConfig()

	assert.Equal(t, int32(8080), cfg.HTTP.Port)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, StorageBackendLocal, cfg.Storage.Backend)
	assert.Equal(t, 10, cfg.Trim.MockChunkRunes)
	assert.Equal(t, 100*time.Millisecond, cfg.Trim.MockInterval)
	assert.Equal(t, 5, cfg.Trim.JobConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenExpiry)
	assert.Equal(t, DefaultRegisterBonus, cfg.Auth.RegisterBonus)
	assert.Equal(t, 3*time.Hour, cfg.Maintenance.StaleTaskAge)
	assert.Equal(t, 1, cfg.Parser.Version)
	assert.Empty(t, cfg.Parser.Rules)
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_BACKEND", "minio")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("TRIM_MOCK_INTERVAL", "5ms")

	cfg := NewConfig()

	assert.Equal(t, int32(9090), cfg.HTTP.Port)
	assert.Equal(t, StorageBackendMinIO, cfg.Storage.Backend)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 5*time.Millisecond, cfg.Trim.MockInterval)
}

func TestLoad_ParserRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storytrim.yaml")
	yaml := `parser:
  version: 3
  rules:
    - name: Custom
      pattern: '(?m)^Part \d+.*'
      weight: 70
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, v, err := Load()
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, path, cfg.Global.ConfigFile)
	assert.Equal(t, 3, cfg.Parser.Version)
	require.Len(t, cfg.Parser.Rules, 1)
	assert.Equal(t, "Custom", cfg.Parser.Rules[0].Name)
	assert.Equal(t, 70, cfg.Parser.Rules[0].Weight)
}

func TestLoad_BrokenFileReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parser: [unclosed"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, _, err := Load()
	assert.Error(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.Global.ConfigFile)
}

func TestParserRulesStore_GetReturnsCopy(t *testing.T) {
	store := NewParserRulesStore(Parser{
		Version: 2,
		Rules:   []ParserRule{{Name: "A", Pattern: "x", Weight: 1}},
	})

	got := store.Get()
	got.Rules[0].Name = "mutated"

	assert.Equal(t, "A", store.Get().Rules[0].Name)

	store.Set(Parser{Version: 5})
	assert.Equal(t, 5, store.Get().Version)
	assert.Empty(t, store.Get().Rules)
}

func TestParserRulesStore_Rules(t *testing.T) {
	store := NewParserRulesStore(Parser{Version: 1})
	assert.Nil(t, store.Rules())

	store.Set(Parser{Version: 2, Rules: []ParserRule{{Name: "Parts", Pattern: `(?m)^Part \d+`, Weight: 10}}})
	rules := store.Rules()
	if assert.Len(t, rules, 1) {
		assert.Equal(t, "Parts", rules[0].Name)
		assert.Equal(t, 10, rules[0].Weight)
	}
}
