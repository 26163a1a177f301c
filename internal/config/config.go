package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// APIConfig 远端服务配置
// APIConfig holds remote service settings.
type APIConfig struct {
	BaseURL       string `json:"base_url"`
	TimeoutMS     int    `json:"timeout_ms"`
	RetryAttempts int    `json:"retry_attempts"`
}

// AppConfig describes the application itself.
type AppConfig struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// FeatureConfig 功能开关
// FeatureConfig holds feature switches.
type FeatureConfig struct {
	EnableMarkdown           bool `json:"enable_markdown"`
	MaxMessageLength         int  `json:"max_message_length"`
	EnableSessionPersistence bool `json:"enable_session_persistence"`
}

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	// Backend 取值 "json" 或 "sqlite" / Backend is "json" or "sqlite".
	Backend string `json:"backend"`
	BaseDir string `json:"base_dir"`
}

type Config struct {
	API      APIConfig     `json:"api"`
	App      AppConfig     `json:"app"`
	Features FeatureConfig `json:"features"`
	Storage  StorageConfig `json:"storage"`
}

type fileFeatureConfig struct {
	EnableMarkdown           *bool `json:"enable_markdown"`
	MaxMessageLength         *int  `json:"max_message_length"`
	EnableSessionPersistence *bool `json:"enable_session_persistence"`
}

type fileConfig struct {
	API      *APIConfig         `json:"api"`
	App      *AppConfig         `json:"app"`
	Features *fileFeatureConfig `json:"features"`
	Storage  *StorageConfig     `json:"storage"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:       "http://localhost:8000",
			TimeoutMS:     30000,
			RetryAttempts: 3,
		},
		App: AppConfig{
			Name:        "intake",
			Version:     "1.0.0",
			Environment: "development",
		},
		Features: FeatureConfig{
			EnableMarkdown:           true,
			MaxMessageLength:         2000,
			EnableSessionPersistence: true,
		},
		Storage: StorageConfig{
			Backend: "json",
			BaseDir: defaultBaseDir(),
		},
	}
}

// Load 按 默认值 → 配置文件 → 环境变量 的顺序合成配置
// Load composes the config: defaults, then an optional file, then env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path == "" {
		if envPath := strings.TrimSpace(os.Getenv("INTAKE_CONFIG_PATH")); envPath != "" {
			path = envPath
		}
	}
	if path == "" {
		candidate := filepath.Join(".", "intake.config.json")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := mergeFromFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg = applyEnv(cfg)
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	applyFileConfig(cfg, fc)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.API != nil {
		cfg.API = mergeAPI(cfg.API, *fc.API)
	}
	if fc.App != nil {
		cfg.App = mergeApp(cfg.App, *fc.App)
	}
	if fc.Features != nil {
		if fc.Features.EnableMarkdown != nil {
			cfg.Features.EnableMarkdown = *fc.Features.EnableMarkdown
		}
		if fc.Features.MaxMessageLength != nil {
			cfg.Features.MaxMessageLength = *fc.Features.MaxMessageLength
		}
		if fc.Features.EnableSessionPersistence != nil {
			cfg.Features.EnableSessionPersistence = *fc.Features.EnableSessionPersistence
		}
	}
	if fc.Storage != nil {
		cfg.Storage = mergeStorage(cfg.Storage, *fc.Storage)
	}
}

func mergeAPI(base, override APIConfig) APIConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.RetryAttempts > 0 {
		base.RetryAttempts = override.RetryAttempts
	}
	return base
}

func mergeApp(base, override AppConfig) AppConfig {
	if strings.TrimSpace(override.Name) != "" {
		base.Name = override.Name
	}
	if strings.TrimSpace(override.Version) != "" {
		base.Version = override.Version
	}
	if strings.TrimSpace(override.Environment) != "" {
		base.Environment = override.Environment
	}
	return base
}

func mergeStorage(base, override StorageConfig) StorageConfig {
	if strings.TrimSpace(override.Backend) != "" {
		base.Backend = override.Backend
	}
	if strings.TrimSpace(override.BaseDir) != "" {
		base.BaseDir = override.BaseDir
	}
	return base
}

func applyEnv(cfg Config) Config {
	if v := strings.TrimSpace(os.Getenv("INTAKE_API_BASE_URL")); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("INTAKE_API_TIMEOUT")); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.API.TimeoutMS = ms
		}
	}
	if v := strings.TrimSpace(os.Getenv("INTAKE_API_RETRY_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.API.RetryAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INTAKE_ENVIRONMENT")); v != "" {
		cfg.App.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("INTAKE_ENABLE_MARKDOWN")); v != "" {
		cfg.Features.EnableMarkdown = v != "false"
	}
	if v := strings.TrimSpace(os.Getenv("INTAKE_MAX_MESSAGE_LENGTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Features.MaxMessageLength = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INTAKE_ENABLE_SESSION_PERSISTENCE")); v != "" {
		cfg.Features.EnableSessionPersistence = v != "false"
	}
	if v := strings.TrimSpace(os.Getenv("INTAKE_STORAGE_BACKEND")); v != "" {
		cfg.Storage.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("INTAKE_STORAGE_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
	return cfg
}

func normalize(cfg *Config) error {
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api base_url is empty")
	}
	if cfg.API.TimeoutMS <= 0 {
		cfg.API.TimeoutMS = Default().API.TimeoutMS
	}
	if cfg.API.RetryAttempts <= 0 {
		cfg.API.RetryAttempts = Default().API.RetryAttempts
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "json", "":
		cfg.Storage.Backend = "json"
	case "sqlite":
		cfg.Storage.Backend = "sqlite"
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if strings.TrimSpace(cfg.Storage.BaseDir) == "" {
		cfg.Storage.BaseDir = defaultBaseDir()
	}
	return nil
}

// IsProduction reports whether the configured environment is production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.App.Environment), "production")
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(".", ".intake")
	}
	return filepath.Join(home, ".intake")
}
