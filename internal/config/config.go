package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Backend        string
	OllamaEndpoint string
	OllamaModel    string
	OpenAIEndpoint string
	OpenAIModel    string
	OpenAIAPIKey   string
	ScriptDir      string
	DataDir        string
	LogLevel       string
	MaxIterations  int
	BackendRetries int
	RetryBackoff   time.Duration
	ToolTimeout    time.Duration
	OutputCapBytes int
	LocalHost      string
	LocalPort      int
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

// LoadConfig reads the environment unconditionally and primes the cache.
func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

// GetConfig serves the cached snapshot until the TTL lapses, then re-reads
// the environment. The returned pointer is a private copy; callers may
// mutate it freely.
func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	backend := strings.ToLower(os.Getenv("BLUEBERRY_BACKEND"))
	if backend != "openai" {
		backend = "ollama"
	}

	ollamaEndpoint := os.Getenv("OLLAMA_API_URL")
	if ollamaEndpoint == "" {
		ollamaEndpoint = "http://localhost:11434"
	}
	ollamaModel := os.Getenv("OLLAMA_MODEL")
	if ollamaModel == "" {
		ollamaModel = "qwen3-coder-next:cloud"
	}

	scriptDir := os.Getenv("SCRIPT_DIR")
	if scriptDir == "" {
		scriptDir = "./scripts"
	}
	dataDir := os.Getenv("BLUEBERRY_DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir()
	}

	level := os.Getenv("BLUEBERRY_LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	maxIterations := atoiOrDefault(os.Getenv("BLUEBERRY_MAX_STEPS"), 10)
	backendRetries := atoiOrDefault(os.Getenv("BLUEBERRY_BACKEND_RETRIES"), 3)
	retryBackoffMs := atoiOrDefault(os.Getenv("BLUEBERRY_RETRY_BACKOFF_MS"), 500)
	toolTimeoutSec := atoiOrDefault(os.Getenv("BLUEBERRY_TOOL_TIMEOUT_SECONDS"), 30)
	outputCapBytes := atoiOrDefault(os.Getenv("BLUEBERRY_OUTPUT_CAP_BYTES"), 64*1024)

	localHost := os.Getenv("BLUEBERRY_LOCAL_HOST")
	if localHost == "" {
		localHost = "127.0.0.1"
	}
	localPort := atoiOrDefault(os.Getenv("BLUEBERRY_LOCAL_PORT"), 4672)

	return Config{
		Backend:        backend,
		OllamaEndpoint: ollamaEndpoint,
		OllamaModel:    ollamaModel,
		OpenAIEndpoint: os.Getenv("OPENAI_ENDPOINT"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		ScriptDir:      scriptDir,
		DataDir:        dataDir,
		LogLevel:       level,
		MaxIterations:  maxIterations,
		BackendRetries: backendRetries,
		RetryBackoff:   time.Duration(retryBackoffMs) * time.Millisecond,
		ToolTimeout:    time.Duration(toolTimeoutSec) * time.Second,
		OutputCapBytes: outputCapBytes,
		LocalHost:      localHost,
		LocalPort:      localPort,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Clean("./.blueberry")
	}
	return filepath.Join(home, ".blueberry")
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
