package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const settingsTOMLFileName = "config.toml"

type BackendSettings struct {
	Kind     string `json:"kind" toml:"kind"`
	Endpoint string `json:"endpoint" toml:"endpoint"`
	Model    string `json:"model" toml:"model"`
}

type LimitSettings struct {
	MaxIterations      int `json:"max_iterations" toml:"max_iterations"`
	BackendRetries     int `json:"backend_retries" toml:"backend_retries"`
	ToolTimeoutSeconds int `json:"tool_timeout_seconds" toml:"tool_timeout_seconds"`
	OutputCapBytes     int `json:"output_cap_bytes" toml:"output_cap_bytes"`
}

type Settings struct {
	LocalPort int             `json:"local_port" toml:"local_port"`
	ScriptDir string          `json:"script_dir,omitempty" toml:"script_dir,omitempty"`
	Backend   BackendSettings `json:"backend" toml:"backend"`
	Limits    LimitSettings   `json:"limits" toml:"limits"`
}

type SettingsStore struct {
	dir string
}

func NewSettingsStore(dir string) *SettingsStore {
	return &SettingsStore{dir: dir}
}

func (s *SettingsStore) LoadOrInit() (Settings, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Settings{}, err
	}

	path := filepath.Join(s.dir, settingsTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var cfg Settings
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Settings{}, err
		}
		return normalizeSettings(cfg), nil
	} else if !os.IsNotExist(err) {
		return Settings{}, err
	}

	cfg := normalizeSettings(Settings{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *SettingsStore) Save(cfg Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, settingsTOMLFileName), normalizeSettings(cfg))
}

func normalizeSettings(cfg Settings) Settings {
	if cfg.LocalPort <= 0 {
		cfg.LocalPort = 4672
	}
	cfg.ScriptDir = strings.TrimSpace(cfg.ScriptDir)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend.Kind)) {
	case "openai":
		cfg.Backend.Kind = "openai"
	default:
		cfg.Backend.Kind = "ollama"
	}
	cfg.Backend.Endpoint = strings.TrimSpace(cfg.Backend.Endpoint)
	cfg.Backend.Model = strings.TrimSpace(cfg.Backend.Model)
	if cfg.Limits.MaxIterations <= 0 {
		cfg.Limits.MaxIterations = 10
	}
	if cfg.Limits.BackendRetries <= 0 {
		cfg.Limits.BackendRetries = 3
	}
	if cfg.Limits.ToolTimeoutSeconds <= 0 {
		cfg.Limits.ToolTimeoutSeconds = 30
	}
	if cfg.Limits.OutputCapBytes <= 0 {
		cfg.Limits.OutputCapBytes = 64 * 1024
	}
	return cfg
}

// ApplySettings layers persisted settings under env-derived config. Env wins
// for any field the environment set explicitly.
func ApplySettings(cfg Config, st Settings) Config {
	if os.Getenv("BLUEBERRY_BACKEND") == "" && st.Backend.Kind != "" {
		cfg.Backend = st.Backend.Kind
	}
	if st.Backend.Endpoint != "" {
		if cfg.Backend == "openai" && os.Getenv("OPENAI_ENDPOINT") == "" {
			cfg.OpenAIEndpoint = st.Backend.Endpoint
		}
		if cfg.Backend == "ollama" && os.Getenv("OLLAMA_API_URL") == "" {
			cfg.OllamaEndpoint = st.Backend.Endpoint
		}
	}
	if st.Backend.Model != "" {
		if cfg.Backend == "openai" && os.Getenv("OPENAI_MODEL") == "" {
			cfg.OpenAIModel = st.Backend.Model
		}
		if cfg.Backend == "ollama" && os.Getenv("OLLAMA_MODEL") == "" {
			cfg.OllamaModel = st.Backend.Model
		}
	}
	if st.ScriptDir != "" && os.Getenv("SCRIPT_DIR") == "" {
		cfg.ScriptDir = st.ScriptDir
	}
	if os.Getenv("BLUEBERRY_LOCAL_PORT") == "" && st.LocalPort > 0 {
		cfg.LocalPort = st.LocalPort
	}
	if os.Getenv("BLUEBERRY_MAX_STEPS") == "" {
		cfg.MaxIterations = st.Limits.MaxIterations
	}
	if os.Getenv("BLUEBERRY_BACKEND_RETRIES") == "" {
		cfg.BackendRetries = st.Limits.BackendRetries
	}
	if os.Getenv("BLUEBERRY_TOOL_TIMEOUT_SECONDS") == "" {
		cfg.ToolTimeout = time.Duration(st.Limits.ToolTimeoutSeconds) * time.Second
	}
	if os.Getenv("BLUEBERRY_OUTPUT_CAP_BYTES") == "" {
		cfg.OutputCapBytes = st.Limits.OutputCapBytes
	}
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
