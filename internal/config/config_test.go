package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "", cfg.Workspace.Path)
	assert.Equal(t, 10000, cfg.Agent.MaxRows)
	assert.Equal(t, 100, cfg.Agent.PreviewRows)
	assert.Equal(t, 15, cfg.Agent.MaxIterations)
	assert.Equal(t, 4, cfg.Agent.RetrieverK)
	assert.False(t, cfg.Agent.AllowWriteStatements)
	assert.True(t, cfg.Agent.AllowCodeExecution)
	assert.True(t, cfg.Agent.AttachToolPlots)
	assert.Equal(t, "groq", cfg.LLM.Provider)
	assert.InDelta(t, 0.0, cfg.LLM.Temperature, 0.0001)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, ":8501", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Debug.Enabled)
	assert.NoError(t, validateConfig(cfg))
}

func TestLoadConfigFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")

	testConfig := map[string]interface{}{
		"workspace": map[string]interface{}{
			"path": "/custom/workspace.duckdb",
		},
		"agent": map[string]interface{}{
			"max_rows":          500,
			"attach_tool_plots": false,
		},
		"logging": map[string]interface{}{
			"level":  "debug",
			"format": "json",
		},
	}

	data, err := json.MarshalIndent(testConfig, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0600))

	config := DefaultConfig()
	require.NoError(t, loadConfigFromFile(config, configPath))

	assert.Equal(t, "/custom/workspace.duckdb", config.Workspace.Path)
	assert.Equal(t, 500, config.Agent.MaxRows)
	assert.False(t, config.Agent.AttachToolPlots)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	// Keys missing from the file keep their defaults
	assert.Equal(t, 100, config.Agent.PreviewRows)
	assert.Equal(t, "stderr", config.Logging.Output)
}

func TestLoadConfigFromFileInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0600))

	err := loadConfigFromFile(DefaultConfig(), configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	envVars := map[string]string{
		"SQLCHAT_WORKSPACE_PATH":               "/env/workspace.duckdb",
		"SQLCHAT_AGENT_MAX_ROWS":               "250",
		"SQLCHAT_AGENT_ALLOW_WRITE_STATEMENTS": "true",
		"SQLCHAT_LLM_PROVIDER":                 "openai",
		"SQLCHAT_LLM_MODEL":                    "gpt-4o-mini",
		"SQLCHAT_LLM_API_KEY":                  "sk-test",
		"SQLCHAT_LLM_FALLBACKS":                "ollama,groq",
		"SQLCHAT_EMBEDDING_PROVIDER":           "hash",
		"SQLCHAT_LOG_LEVEL":                    "warn",
		"SQLCHAT_DEBUG":                        "true",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	config := DefaultConfig()
	config.Logging.Format = "json" // simulates a value loaded from file

	require.NoError(t, applyEnvironmentOverrides(config))

	assert.Equal(t, "/env/workspace.duckdb", config.Workspace.Path)
	assert.Equal(t, 250, config.Agent.MaxRows)
	assert.True(t, config.Agent.AllowWriteStatements)
	assert.Equal(t, "openai", config.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", config.LLM.Model)
	assert.Equal(t, "sk-test", config.LLM.APIKey)
	assert.Equal(t, []string{"ollama", "groq"}, config.LLM.Fallbacks)
	assert.Equal(t, "hash", config.Embedding.Provider)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.True(t, config.Debug.Enabled)
	// Unset variables must not reset file values to defaults
	assert.Equal(t, "json", config.Logging.Format)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := DefaultConfig()

	overrides := map[string]interface{}{
		"workspace":          "/flag/ws.duckdb",
		"log-level":          "error",
		"model":              "llama3-70b-8192",
		"embedding-provider": "hash",
		"addr":               "127.0.0.1:9000",
		"verbose":            true,
		"debug":              true,
		"cache-dir":          "/flag/cache",
	}

	require.NoError(t, applyFlagOverrides(config, overrides))

	assert.Equal(t, "/flag/ws.duckdb", config.Workspace.Path)
	assert.Equal(t, "error", config.Logging.Level)
	assert.Equal(t, "llama3-70b-8192", config.LLM.Model)
	assert.Equal(t, "hash", config.Embedding.Provider)
	assert.Equal(t, "127.0.0.1:9000", config.Server.Addr)
	assert.True(t, config.Debug.Verbose)
	assert.True(t, config.Debug.Enabled)
	assert.Equal(t, "/flag/cache", config.Cache.Directory)
}

func TestApplyFlagOverridesUnknownKey(t *testing.T) {
	err := applyFlagOverrides(DefaultConfig(), map[string]interface{}{"bogus": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag override")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name          string
		modifyConfig  func(*Config)
		expectError   bool
		errorContains string
	}{
		{
			name:         "valid config",
			modifyConfig: func(_ *Config) {},
		},
		{
			name:          "invalid log level",
			modifyConfig:  func(c *Config) { c.Logging.Level = "invalid" },
			expectError:   true,
			errorContains: "invalid log level",
		},
		{
			name:          "invalid log format",
			modifyConfig:  func(c *Config) { c.Logging.Format = "xml" },
			expectError:   true,
			errorContains: "invalid log format",
		},
		{
			name:          "invalid log output",
			modifyConfig:  func(c *Config) { c.Logging.Output = "syslog" },
			expectError:   true,
			errorContains: "invalid log output",
		},
		{
			name:          "invalid llm provider",
			modifyConfig:  func(c *Config) { c.LLM.Provider = "bard" },
			expectError:   true,
			errorContains: "invalid LLM provider",
		},
		{
			name:          "invalid llm fallback",
			modifyConfig:  func(c *Config) { c.LLM.Fallbacks = []string{"ollama", "bard"} },
			expectError:   true,
			errorContains: "invalid LLM fallback provider: bard",
		},
		{
			name:          "invalid embedding provider",
			modifyConfig:  func(c *Config) { c.Embedding.Provider = "magic" },
			expectError:   true,
			errorContains: "invalid embedding provider",
		},
		{
			name:          "invalid llm timeout",
			modifyConfig:  func(c *Config) { c.LLM.Timeout = "soon" },
			expectError:   true,
			errorContains: "invalid LLM timeout",
		},
		{
			name:          "invalid cache cleanup frequency",
			modifyConfig:  func(c *Config) { c.Cache.CleanupFreq = "invalid" },
			expectError:   true,
			errorContains: "invalid cache cleanup frequency",
		},
		{
			name:          "negative max rows",
			modifyConfig:  func(c *Config) { c.Agent.MaxRows = -1 },
			expectError:   true,
			errorContains: "agent max rows must be non-negative",
		},
		{
			name:          "zero iterations",
			modifyConfig:  func(c *Config) { c.Agent.MaxIterations = 0 },
			expectError:   true,
			errorContains: "agent max iterations must be positive",
		},
		{
			name:          "zero retriever k",
			modifyConfig:  func(c *Config) { c.Agent.RetrieverK = 0 },
			expectError:   true,
			errorContains: "agent retriever k must be positive",
		},
		{
			name:          "zero dimensions",
			modifyConfig:  func(c *Config) { c.Embedding.Dimensions = 0 },
			expectError:   true,
			errorContains: "embedding dimensions must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modifyConfig(config)

			err := validateConfig(config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skip("home directory not available")
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"absolute path", "/absolute/path", "/absolute/path"},
		{"relative path", "relative/path", "relative/path"},
		{"empty", "", ""},
		{"home directory only", "~", homeDir},
		{"home directory with path", "~/config/file.json", filepath.Join(homeDir, "config/file.json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandPath(tt.input))
		})
	}
}

func TestSaveConfigAndReload(t *testing.T) {
	tempConfigPath := filepath.Join(t.TempDir(), "test_config.json")
	t.Setenv("SQLCHAT_CONFIG", tempConfigPath)

	config := DefaultConfig()
	config.Workspace.Path = "/custom/path.duckdb"
	config.Logging.Level = "debug"
	config.LLM.APIKey = "secret"

	require.NoError(t, SaveConfig(config))

	data, err := os.ReadFile(tempConfigPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	loaded, err := LoadConfigWithOverrides(map[string]interface{}{"verbose": true})
	require.NoError(t, err)

	assert.Equal(t, "/custom/path.duckdb", loaded.Workspace.Path)
	assert.Equal(t, "debug", loaded.Logging.Level)
	assert.True(t, loaded.Debug.Verbose)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("SQLCHAT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	config, err := LoadConfigWithOverrides(nil)
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, defaults.Agent, config.Agent)
	assert.Equal(t, defaults.Logging.Level, config.Logging.Level)
}

func TestMergeConfigs(t *testing.T) {
	target := DefaultConfig()
	target.Logging.Format = "json"

	source := DefaultConfig()
	source.Workspace.Path = "/new/path"
	source.Agent.MaxRows = 25

	mergeConfigs(target, source, DefaultConfig())

	assert.Equal(t, "/new/path", target.Workspace.Path)
	assert.Equal(t, 25, target.Agent.MaxRows)
	assert.Equal(t, "json", target.Logging.Format)
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()

	config := DefaultConfig()
	config.Cache.Directory = filepath.Join(root, "cache")
	config.Workspace.PlotDir = filepath.Join(root, "plots")
	config.Workspace.Path = filepath.Join(root, "data", "workspace.duckdb")
	config.Logging.Output = "file"
	config.Logging.File = filepath.Join(root, "logs", "sqlchat.log")

	require.NoError(t, config.EnsureDirectories())

	for _, dir := range []string{"cache", "plots", "data", "logs"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	_, err := os.Stat(config.Workspace.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestEnsureDirectoriesInMemoryWorkspace(t *testing.T) {
	root := t.TempDir()

	config := DefaultConfig()
	config.Cache.Directory = filepath.Join(root, "cache")
	config.Workspace.PlotDir = ""
	config.Workspace.Path = ""

	require.NoError(t, config.EnsureDirectories())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cache", entries[0].Name())
}
