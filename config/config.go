package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ProviderConfig struct {
	Type      string `toml:"type"`
	BaseURL   string `toml:"base_url,omitempty"`
	Model     string `toml:"model,omitempty"`
	APIKeyEnv string `toml:"api_key_env,omitempty"`
}

type OllamaConfig struct {
	Host  string `toml:"host"`
	Model string `toml:"model"`
}

type DatasetConfig struct {
	Path           string `toml:"path"`
	Table          string `toml:"table"`
	ReadOnlyPolicy string `toml:"read_only_policy"`
}

type AgentConfig struct {
	MaxSteps        int      `toml:"max_steps"`
	DecisionTimeout Duration `toml:"decision_timeout"`
	InvokeTimeout   Duration `toml:"invoke_timeout"`
	Rewrite         bool     `toml:"rewrite"`
	TableHint       bool     `toml:"table_hint"`
}

type SessionConfig struct {
	ShowSteps   bool `toml:"show_steps"`
	SaveHistory bool `toml:"save_history"`
}

type CapabilitiesConfig struct {
	Command string   `toml:"command,omitempty"`
	Args    []string `toml:"args,omitempty"`
}

type Config struct {
	DataDirectory string             `toml:"data_directory"`
	Provider      ProviderConfig     `toml:"provider"`
	Ollama        OllamaConfig       `toml:"ollama"`
	Dataset       DatasetConfig      `toml:"dataset"`
	Agent         AgentConfig        `toml:"agent"`
	Session       SessionConfig      `toml:"session"`
	Capabilities  CapabilitiesConfig `toml:"capabilities"`
}

// Duration is a time.Duration that decodes from TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var Debug = false
var DebugLog *zap.SugaredLogger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) HistoryDir() string {
	return filepath.Join(c.DataDir(), "sessions")
}

// DatasetPath resolves the dataset location. Relative paths stay relative to
// the working directory.
func (c *Config) DatasetPath() string {
	return ExpandPath(c.Dataset.Path)
}

// ProviderModel returns the model for the active provider.
func (c *Config) ProviderModel() string {
	if c.Provider.Type == "" || c.Provider.Type == "ollama" {
		if c.Provider.Model != "" {
			return c.Provider.Model
		}
		return c.Ollama.Model
	}
	return c.Provider.Model
}

// APIKey reads the provider key from the environment variable named in the config.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("NLSQL_OLLAMA_HOST"); host != "" {
		c.Ollama.Host = host
	}
	if model := os.Getenv("NLSQL_OLLAMA_MODEL"); model != "" {
		c.Ollama.Model = model
	}
	if dataset := os.Getenv("NLSQL_DATASET"); dataset != "" {
		c.Dataset.Path = dataset
	}
	if dataDir := os.Getenv("NLSQL_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be greater than zero, got %d", c.Agent.MaxSteps)
	}
	switch c.Dataset.ReadOnlyPolicy {
	case "lexical", "prompt":
	default:
		return fmt.Errorf("unknown dataset.read_only_policy %q (want \"lexical\" or \"prompt\")", c.Dataset.ReadOnlyPolicy)
	}
	switch c.Provider.Type {
	case "", "ollama", "openai", "openrouter", "anthropic":
	default:
		return fmt.Errorf("unknown provider.type %q", c.Provider.Type)
	}
	if c.Dataset.Path == "" {
		return fmt.Errorf("dataset.path is required")
	}
	if c.Dataset.Table == "" {
		return fmt.Errorf("dataset.table is required")
	}
	return nil
}

func CheckDebug() bool {
	debug := os.Getenv("NLSQL_DEBUG")
	return debug == "true" || debug == "1"
}

// InitDebugLog opens <dataDir>/debug.log when debugging is enabled. The log
// never goes to stdout because the serve command speaks MCP on stdout.
func InitDebugLog(dataDir string, force bool) {
	if !force && !CheckDebug() {
		return
	}

	if err := EnsureDir(dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not create data directory %s: %v\n", dataDir, err)
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	zapCfg.OutputPaths = []string{logPath}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = logger.Sugar()
	DebugLog.Infof("=== Debug logging started (pid=%d) ===", os.Getpid())
	DebugLog.Infof("Log path: %s", logPath)
}

// SyncDebugLog flushes buffered log entries.
func SyncDebugLog() {
	if DebugLog != nil {
		_ = DebugLog.Sync()
	}
}

// Load reads the config file at path (or the default location when empty),
// creating it from the template on first run, then applies env overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = GetSettingsFilePath()
		if !FileExists(path) {
			if err := CreateDefaultConfig(path); err != nil {
				return nil, fmt.Errorf("failed to create config: %w", err)
			}
		}
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if err := EnsureDir(cfg.DataDir()); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}
