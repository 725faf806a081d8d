package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Worker    WorkerConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port      int
	AuthToken string
}

type OllamaConfig struct {
	BaseURL     string
	TriageModel string
	ReportModel string
	EmbedModel  string
}

type StorageConfig struct {
	DataDir string
}

type WorkerConfig struct {
	Count        int
	PollInterval string
	MaxRetries   int
	BackoffBase  string
}

type RetrievalConfig struct {
	TopK      int
	Threshold float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4080,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			TriageModel: "phi3.5",
			ReportModel: "mistral-nemo",
			EmbedModel:  "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Worker: WorkerConfig{
			Count:        4,
			PollInterval: "500ms",
			MaxRetries:   3,
			BackoffBase:  "30s",
		},
		Retrieval: RetrievalConfig{
			TopK:      3,
			Threshold: 0.35,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.caseflow.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/caseflow/config.json
// and secrets come from a secrets file or environment variables.
//
// Environment variables (CASEFLOW_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the auth token if still empty.
	if cfg.Server.AuthToken == "" {
		if token, err := kc.Get("caseflow", "auth_token"); err == nil && token != "" {
			cfg.Server.AuthToken = token
		}
	}

	if cfg.Server.AuthToken == "" {
		msg := "missing required config: API auth token. " +
			"Set it via environment variable CASEFLOW_AUTH_TOKEN" +
			authTokenHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
