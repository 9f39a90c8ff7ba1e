package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	defaultTemperature = 0.7
)

// Config stores runtime configuration loaded from an optional YAML file and
// environment variables.
type Config struct {
	Port           string `yaml:"port"`
	Database       string `yaml:"database"`
	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	MaxWords       int    `yaml:"max_words"`

	LLM LLMConfig `yaml:"llm"`
	Log LogConfig `yaml:"log"`
}

type LLMConfig struct {
	Provider          string  `yaml:"provider"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
}

// Timeout bounds a single generation request.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from path (or $STUDYCARDS_CONFIG when path is
// empty), overlays environment variables and fills in defaults. A missing
// file is not an error when no path was requested explicitly.
func Load(path string) (Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	// Seeded before file and env so an explicit temperature of 0 is kept.
	cfg := Config{LLM: LLMConfig{Temperature: defaultTemperature}}
	if path == "" {
		path = os.Getenv("STUDYCARDS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	mergeWithEnv(&cfg)
	applyDefaults(&cfg)

	return cfg, nil
}

// EnsureDirs creates the upload directory and the database parent directory.
func (c Config) EnsureDirs() error {
	if err := os.MkdirAll(c.UploadDir, 0o755); err != nil {
		return fmt.Errorf("ensure upload dir %s: %w", c.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Database), 0o755); err != nil {
		return fmt.Errorf("ensure database dir %s: %w", c.Database, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "5000"
	}
	if cfg.Database == "" {
		cfg.Database = "./data/studycards.db"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./data/uploads"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.MaxWords == 0 {
		cfg.MaxWords = 2000
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOpenAI
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case ProviderOllama:
			cfg.LLM.Model = "mistral"
		default:
			cfg.LLM.Model = "gpt-3.5-turbo"
		}
	}
	if cfg.LLM.BaseURL == "" {
		switch cfg.LLM.Provider {
		case ProviderOllama:
			cfg.LLM.BaseURL = "http://localhost:11434"
		default:
			cfg.LLM.BaseURL = "https://api.openai.com/v1"
		}
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1000
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 120
	}
	if cfg.LLM.RequestsPerMinute == 0 {
		cfg.LLM.RequestsPerMinute = 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func mergeWithEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.Database, "DATABASE_PATH")
	setString(&cfg.UploadDir, "UPLOAD_DIR")
	setInt64(&cfg.MaxUploadBytes, "MAX_UPLOAD_BYTES")
	setInt(&cfg.MaxWords, "MAX_WORDS")

	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.BaseURL, "OPENAI_API_ENDPOINT")
	if cfg.LLM.Provider == ProviderOllama {
		setString(&cfg.LLM.BaseURL, "OLLAMA_BASE_URL")
	}
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setFloat(&cfg.LLM.Temperature, "LLM_TEMPERATURE")
	setInt(&cfg.LLM.MaxTokens, "LLM_MAX_TOKENS")
	setInt(&cfg.LLM.TimeoutSeconds, "LLM_TIMEOUT_SECONDS")
	setInt(&cfg.LLM.RequestsPerMinute, "LLM_REQUESTS_PER_MINUTE")

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
}

func getEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val, true
	}
	return "", false
}

func setString(dst *string, key string) {
	if val, ok := getEnv(key); ok {
		*dst = val
	}
}

// Malformed numeric values are ignored here and reported by Validate when
// they leave the field out of range.
func setInt(dst *int, key string) {
	if val, ok := getEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if val, ok := getEnv(key); ok {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if val, ok := getEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}
