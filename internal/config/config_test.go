package config

import (
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]any
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false, nil
	}
	return s, true, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, isInt := v.(int)
	if !isInt {
		return 0, false, nil
	}
	return i, true, nil
}

func (b *memBackend) SetString(key, val string) error { b.data[key] = val; return nil }
func (b *memBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }
func (b *memBackend) Delete(key string) error          { delete(b.data, key); return nil }

func emptyBackend() *memBackend {
	return &memBackend{data: make(map[string]any)}
}

func TestDefaults(t *testing.T) {
	t.Setenv("CASEFLOW_AUTH_TOKEN", "test-token")

	cfg, err := loadWith(emptyBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4080 {
		t.Errorf("Server.Port = %d, want 4080", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.TriageModel != "phi3.5" {
		t.Errorf("Ollama.TriageModel = %q, want %q", cfg.Ollama.TriageModel, "phi3.5")
	}
	if cfg.Ollama.ReportModel != "mistral-nemo" {
		t.Errorf("Ollama.ReportModel = %q, want %q", cfg.Ollama.ReportModel, "mistral-nemo")
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q, want %q", cfg.Ollama.EmbedModel, "nomic-embed-text")
	}
	if cfg.Worker.Count != 4 {
		t.Errorf("Worker.Count = %d, want 4", cfg.Worker.Count)
	}
	if cfg.Worker.PollInterval != "500ms" {
		t.Errorf("Worker.PollInterval = %q, want 500ms", cfg.Worker.PollInterval)
	}
	if cfg.Worker.MaxRetries != 3 {
		t.Errorf("Worker.MaxRetries = %d, want 3", cfg.Worker.MaxRetries)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("Retrieval.TopK = %d, want 3", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.Threshold != 0.35 {
		t.Errorf("Retrieval.Threshold = %v, want 0.35", cfg.Retrieval.Threshold)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValuesApplied(t *testing.T) {
	t.Setenv("CASEFLOW_AUTH_TOKEN", "test-token")

	b := emptyBackend()
	b.data["server.port"] = 5000
	b.data["ollama.base_url"] = "http://custom:11434"
	b.data["ollama.triage_model"] = "custom-fast"
	b.data["ollama.report_model"] = "custom-deep"
	b.data["storage.data_dir"] = "/tmp/caseflow-test"
	b.data["worker.count"] = 2
	b.data["worker.poll_interval"] = "1s"
	b.data["retrieval.threshold"] = "0.5"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://custom:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.TriageModel != "custom-fast" {
		t.Errorf("Ollama.TriageModel = %q", cfg.Ollama.TriageModel)
	}
	if cfg.Ollama.ReportModel != "custom-deep" {
		t.Errorf("Ollama.ReportModel = %q", cfg.Ollama.ReportModel)
	}
	if cfg.Storage.DataDir != "/tmp/caseflow-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Worker.Count != 2 {
		t.Errorf("Worker.Count = %d, want 2", cfg.Worker.Count)
	}
	if cfg.Worker.PollInterval != "1s" {
		t.Errorf("Worker.PollInterval = %q, want 1s", cfg.Worker.PollInterval)
	}
	if cfg.Retrieval.Threshold != 0.5 {
		t.Errorf("Retrieval.Threshold = %v, want 0.5", cfg.Retrieval.Threshold)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("CASEFLOW_AUTH_TOKEN", "env-token")
	t.Setenv("CASEFLOW_SERVER_PORT", "6000")
	t.Setenv("CASEFLOW_RETRIEVAL_THRESHOLD", "0.7")

	b := emptyBackend()
	b.data["server.port"] = 5000

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want env override 6000", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "env-token" {
		t.Errorf("Server.AuthToken = %q, want env-token", cfg.Server.AuthToken)
	}
	if cfg.Retrieval.Threshold != 0.7 {
		t.Errorf("Retrieval.Threshold = %v, want 0.7", cfg.Retrieval.Threshold)
	}
}

func TestMissingAuthToken(t *testing.T) {
	t.Setenv("CASEFLOW_AUTH_TOKEN", "")

	_, err := loadWith(emptyBackend(), mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing auth token, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	t.Setenv("CASEFLOW_AUTH_TOKEN", "")

	cfg, err := loadWith(emptyBackend(), mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.AuthToken != "keychain-secret" {
		t.Errorf("Server.AuthToken = %q, want keychain-secret", cfg.Server.AuthToken)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	t.Setenv("CASEFLOW_AUTH_TOKEN", "test-token")

	cfg, err := loadWith(emptyBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "server.auth_token" {
			t.Error("ShowAll exposed a secret key")
		}
		if ki.Value == "test-token" {
			t.Errorf("ShowAll exposed the secret value under %s", ki.Key)
		}
	}
}
