package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	cfg.APIURL = "https://rules.example.com"
	cfg.APIKey = "key"
	cfg.ProjectID = "proj"
	require.NoError(t, cfg.Validate())
}

func TestValidate_RequiresAPIFieldsForCloudSource(t *testing.T) {
	cfg := Defaults()
	// RuleSource defaults to cloud; api_url/api_key/project_id are unset.
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_LocalSourceRequiresPath(t *testing.T) {
	cfg := Defaults()
	cfg.RuleSource = SourceLocal
	err := cfg.Validate()
	assert.Error(t, err, "local source without local_rules_path must fail validation")

	cfg.LocalRulesPath = "/etc/rules"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CriticalMustBeAtLeastWarning(t *testing.T) {
	cfg := Defaults()
	cfg.RuleSource = SourceLocal
	cfg.LocalRulesPath = "/etc/rules"
	cfg.MemoryWarningPct = 90
	cfg.MemoryCriticalPct = 50
	assert.Error(t, cfg.Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Setenv("RULEENGINE_RULE_SOURCE", "local")
	t.Setenv("RULEENGINE_LOCAL_RULES_PATH", "/tmp/rules")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, cfg.RuleSource)
	assert.Equal(t, "/tmp/rules", cfg.LocalRulesPath)
	assert.Equal(t, 1000, cfg.CacheMaxSize)
	assert.Equal(t, 5000, cfg.ExecutionTimeoutMs)
}

func TestLoad_EnvOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rule_source: local\nlocal_rules_path: /etc/rules\ncache_max_size: 42\n"), 0o600))

	t.Setenv("RULEENGINE_CACHE_MAX_SIZE", "99")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, cfg.RuleSource)
	assert.Equal(t, 99, cfg.CacheMaxSize, "environment must win over the config file")
}

func TestLoad_InvalidConfigSurfacesConfigError(t *testing.T) {
	t.Setenv("RULEENGINE_RULE_SOURCE", "carrier_pigeon")
	t.Setenv("RULEENGINE_LOCAL_RULES_PATH", "/tmp/rules")
	_, err := Load("")
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, int64(5000), cfg.HTTPTimeout().Milliseconds())
	assert.Equal(t, int64(5000), cfg.ExecutionTimeout().Milliseconds())
	assert.Equal(t, int64(30000), cfg.CircuitOpenDuration().Milliseconds())
}
