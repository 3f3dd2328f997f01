package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	envPrefix     = "SQLCHAT_"
	configPathEnv = "SQLCHAT_CONFIG"
	appDirName    = "sqlchat"
)

// Config represents the application configuration
type Config struct {
	Workspace WorkspaceConfig `json:"workspace"`
	Agent     AgentConfig     `json:"agent"`
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Cache     CacheConfig     `json:"cache"`
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Debug     DebugConfig     `json:"debug"`
}

// WorkspaceConfig controls where uploaded CSV files are materialized.
// An empty Path keeps the DuckDB workspace in memory for the session.
type WorkspaceConfig struct {
	Path           string `json:"path"            env:"WORKSPACE_PATH"            envDefault:""`
	PlotDir        string `json:"plot_dir"        env:"WORKSPACE_PLOT_DIR"        envDefault:"~/.cache/sqlchat/plots"`
	MaxConnections int    `json:"max_connections" env:"WORKSPACE_MAX_CONNECTIONS" envDefault:"4"`
}

// AgentConfig represents the tool-dispatch loop configuration
type AgentConfig struct {
	MaxRows              int  `json:"max_rows"               env:"AGENT_MAX_ROWS"               envDefault:"10000"`
	PreviewRows          int  `json:"preview_rows"           env:"AGENT_PREVIEW_ROWS"           envDefault:"100"`
	MaxIterations        int  `json:"max_iterations"         env:"AGENT_MAX_ITERATIONS"         envDefault:"15"`
	RetrieverK           int  `json:"retriever_k"            env:"AGENT_RETRIEVER_K"            envDefault:"4"`
	AllowWriteStatements bool `json:"allow_write_statements" env:"AGENT_ALLOW_WRITE_STATEMENTS" envDefault:"false"`
	AttachToolPlots      bool `json:"attach_tool_plots"      env:"AGENT_ATTACH_TOOL_PLOTS"      envDefault:"true"`
	AllowCodeExecution   bool `json:"allow_code_execution"   env:"AGENT_ALLOW_CODE_EXECUTION"   envDefault:"true"` // run stored snippets on request
}

// LLMConfig represents the chat model endpoint
type LLMConfig struct {
	Provider    string  `json:"provider"    env:"LLM_PROVIDER"    envDefault:"groq"` // groq, openai, ollama
	Model       string  `json:"model"       env:"LLM_MODEL"       envDefault:"llama-3.3-70b-versatile"`
	APIKey      string  `json:"-"           env:"LLM_API_KEY"`
	BaseURL     string  `json:"base_url"    env:"LLM_BASE_URL"`
	Temperature float32 `json:"temperature" env:"LLM_TEMPERATURE" envDefault:"0"`
	Timeout     string  `json:"timeout"     env:"LLM_TIMEOUT"     envDefault:"60s"`

	// Fallbacks are tried in order when the primary provider fails
	Fallbacks []string `json:"fallbacks" env:"LLM_FALLBACKS" envSeparator:","`
}

// EmbeddingConfig represents the schema embedding provider
type EmbeddingConfig struct {
	Provider   string `json:"provider"   env:"EMBEDDING_PROVIDER"   envDefault:"local"` // local, remote, hash
	Model      string `json:"model"      env:"EMBEDDING_MODEL"      envDefault:"sentence-transformers/all-MiniLM-L6-v2"`
	Dimensions int    `json:"dimensions" env:"EMBEDDING_DIMENSIONS" envDefault:"384"`
	BaseURL    string `json:"base_url"   env:"EMBEDDING_BASE_URL"`
	APIKey     string `json:"-"          env:"EMBEDDING_API_KEY"`
	Enabled    bool   `json:"enabled"    env:"EMBEDDING_ENABLED"    envDefault:"true"`
}

// CacheConfig represents caching configuration
type CacheConfig struct {
	Directory   string `json:"directory"         env:"CACHE_DIR"          envDefault:"~/.cache/sqlchat"`
	MaxSizeMB   int    `json:"max_size_mb"       env:"CACHE_MAX_SIZE_MB"  envDefault:"200"`
	TTLHours    int    `json:"ttl_hours"         env:"CACHE_TTL_HOURS"    envDefault:"168"`
	CleanupFreq string `json:"cleanup_frequency" env:"CACHE_CLEANUP_FREQ" envDefault:"1h"`
}

// ServerConfig represents the HTTP API configuration
type ServerConfig struct {
	Addr          string `json:"addr"            env:"SERVER_ADDR"            envDefault:":8501"`
	MaxUploadMB   int    `json:"max_upload_mb"   env:"SERVER_MAX_UPLOAD_MB"   envDefault:"200"`
	EnableMetrics bool   `json:"enable_metrics"  env:"SERVER_ENABLE_METRICS"  envDefault:"true"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      env:"LOG_LEVEL"      envDefault:"info"`                             // debug, info, warn, error
	Format    string `json:"format"     env:"LOG_FORMAT"     envDefault:"text"`                             // text, json
	Output    string `json:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"`                           // stdout, stderr, file
	File      string `json:"file"       env:"LOG_FILE"       envDefault:"~/.config/sqlchat/logs/app.log"`   // log file path when output is file
	AddSource bool   `json:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	Enabled bool `json:"enabled" env:"DEBUG"   envDefault:"false"`
	Verbose bool `json:"verbose" env:"VERBOSE" envDefault:"false"`
}

// DefaultConfig returns the configuration with every default applied and no
// environment or file overrides.
func DefaultConfig() *Config {
	cfg := &Config{}
	// Parsing against an empty environment only fills envDefault values.
	_ = env.ParseWithOptions(cfg, env.Options{
		Prefix:      envPrefix,
		Environment: map[string]string{},
	})

	return cfg
}

// LoadConfigWithOverrides loads configuration with optional command-line flag overrides.
// Precedence, lowest first: defaults, config file, environment, flags.
func LoadConfigWithOverrides(flagOverrides map[string]interface{}) (*Config, error) {
	config := DefaultConfig()

	configPath := FilePath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(config); err != nil {
		return nil, err
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile decodes a JSON file over the existing values, so keys
// absent from the file keep their current value.
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides copies every value the environment sets to
// something other than its default.
func applyEnvironmentOverrides(config *Config) error {
	fromEnv := &Config{}
	if err := env.ParseWithOptions(fromEnv, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment variables: %w", err)
	}

	mergeConfigs(config, fromEnv, DefaultConfig())

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]interface{}) error {
	for key, value := range overrides {
		switch key {
		case "workspace":
			if str, ok := value.(string); ok && str != "" {
				config.Workspace.Path = str
			}
		case "plot-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Workspace.PlotDir = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "model":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Model = str
			}
		case "provider":
			if str, ok := value.(string); ok && str != "" {
				config.LLM.Provider = str
			}
		case "embedding-provider":
			if str, ok := value.(string); ok && str != "" {
				config.Embedding.Provider = str
			}
		case "addr":
			if str, ok := value.(string); ok && str != "" {
				config.Server.Addr = str
			}
		case "verbose":
			if b, ok := value.(bool); ok {
				config.Debug.Verbose = b
			}
		case "debug":
			if b, ok := value.(bool); ok {
				config.Debug.Enabled = b
			}
		case "cache-dir":
			if str, ok := value.(string); ok && str != "" {
				config.Cache.Directory = str
			}
		default:
			return fmt.Errorf("unknown flag override: %s", key)
		}
	}

	return nil
}

// mergeConfigs copies every leaf of source that differs from the matching
// leaf of baseline into target.
func mergeConfigs(target, source, baseline *Config) {
	var mergeValues func(t, s, b reflect.Value)
	mergeValues = func(t, s, b reflect.Value) {
		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i), b.Field(i))
			}

			return
		}

		if !reflect.DeepEqual(s.Interface(), b.Interface()) {
			t.Set(s)
		}
	}

	mergeValues(
		reflect.ValueOf(target).Elem(),
		reflect.ValueOf(source).Elem(),
		reflect.ValueOf(baseline).Elem(),
	)
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	validLLMProviders := map[string]bool{
		"groq": true, "openai": true, "ollama": true,
	}
	if !validLLMProviders[strings.ToLower(config.LLM.Provider)] {
		return fmt.Errorf("invalid LLM provider: %s (must be groq, openai, or ollama)", config.LLM.Provider)
	}

	for _, fb := range config.LLM.Fallbacks {
		if !validLLMProviders[strings.ToLower(fb)] {
			return fmt.Errorf("invalid LLM fallback provider: %s (must be groq, openai, or ollama)", fb)
		}
	}

	validEmbeddingProviders := map[string]bool{
		"local": true, "remote": true, "hash": true,
	}
	if !validEmbeddingProviders[strings.ToLower(config.Embedding.Provider)] {
		return fmt.Errorf(
			"invalid embedding provider: %s (must be local, remote, or hash)",
			config.Embedding.Provider,
		)
	}

	if _, err := time.ParseDuration(config.LLM.Timeout); err != nil {
		return fmt.Errorf("invalid LLM timeout: %s", config.LLM.Timeout)
	}

	if _, err := time.ParseDuration(config.Cache.CleanupFreq); err != nil {
		return fmt.Errorf("invalid cache cleanup frequency: %s", config.Cache.CleanupFreq)
	}

	if config.Agent.MaxRows < 0 {
		return fmt.Errorf("agent max rows must be non-negative: %d", config.Agent.MaxRows)
	}

	if config.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent max iterations must be positive: %d", config.Agent.MaxIterations)
	}

	if config.Agent.RetrieverK <= 0 {
		return fmt.Errorf("agent retriever k must be positive: %d", config.Agent.RetrieverK)
	}

	if config.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive: %d", config.Embedding.Dimensions)
	}

	if config.Workspace.MaxConnections <= 0 {
		return fmt.Errorf(
			"workspace max connections must be positive: %d",
			config.Workspace.MaxConnections,
		)
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := FilePath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// FilePath returns the path of the configuration file, honoring SQLCHAT_CONFIG
func FilePath() string {
	if configPath := os.Getenv(configPathEnv); configPath != "" {
		return ExpandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Workspace.Path = ExpandPath(c.Workspace.Path)
	c.Workspace.PlotDir = ExpandPath(c.Workspace.PlotDir)
	c.Cache.Directory = ExpandPath(c.Cache.Directory)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", appDirName)
	}

	return filepath.Join(homeDir, ".config", appDirName)
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Cache.Directory, c.Workspace.PlotDir}
	if c.Workspace.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Workspace.Path))
	}

	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
