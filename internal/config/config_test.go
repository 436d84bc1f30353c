package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain map[string]string

func (m mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m[service+"/"+account]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strs[key]
	return v, ok, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *memBackend) SetString(key, val string) error { b.strs[key] = val; return nil }
func (b *memBackend) SetInt(key string, val int) error { b.ints[key] = val; return nil }
func (b *memBackend) Delete(key string) error {
	delete(b.strs, key)
	delete(b.ints, key)
	return nil
}

// clearEnv blanks every STACKPILOT_* variable for the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func withSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("STACKPILOT_COMPLETION_API_KEY", "sk-test")
	t.Setenv("STACKPILOT_AUTH_JWT_SECRET", "jwt-test")
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	withSecrets(t)

	cfg, err := loadWith(newMemBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.PublicURL != "http://localhost:4100" {
		t.Errorf("Server.PublicURL = %q", cfg.Server.PublicURL)
	}
	if cfg.Completion.Model != "gpt-4o-mini" {
		t.Errorf("Completion.Model = %q, want gpt-4o-mini", cfg.Completion.Model)
	}
	if cfg.Completion.Temperature != 0.7 || cfg.Completion.MaxTokens != 2000 || cfg.Completion.MaxSteps != 5 {
		t.Errorf("Completion = %+v", cfg.Completion)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Auth.Issuer != "stackpilot" {
		t.Errorf("Auth.Issuer = %q", cfg.Auth.Issuer)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Ingest.PollInterval != 2*time.Second {
		t.Errorf("Ingest.PollInterval = %v", cfg.Ingest.PollInterval)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
	if cfg.Knowledge.Rerank || cfg.Knowledge.RerankThreshold != 0.3 || cfg.Knowledge.RerankTimeout != 5*time.Second {
		t.Errorf("Knowledge = %+v", cfg.Knowledge)
	}
}

// TestBackendValues verifies typed values are read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)
	withSecrets(t)
	b := newMemBackend()
	b.ints["server.port"] = 5000
	b.strs["completion.model"] = "gpt-4o"
	b.strs["completion.temperature"] = "0.2"
	b.strs["ingest.poll_interval"] = "500ms"
	b.strs["server.cors_origins"] = "https://a.example.com, https://b.example.com"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Completion.Model != "gpt-4o" || cfg.Completion.Temperature != 0.2 {
		t.Errorf("Completion = %+v", cfg.Completion)
	}
	if cfg.Ingest.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.Ingest.PollInterval)
	}
	if got := cfg.Server.Origins(); len(got) != 2 || got[1] != "https://b.example.com" {
		t.Errorf("Origins = %v", got)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	withSecrets(t)
	b := newMemBackend()
	b.ints["server.port"] = 5000
	t.Setenv("STACKPILOT_SERVER_PORT", "6000")
	t.Setenv("STACKPILOT_LOG_LEVEL", "debug")
	t.Setenv("STACKPILOT_KNOWLEDGE_RERANK", "true")

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if !cfg.Knowledge.Rerank {
		t.Error("Knowledge.Rerank = false, want true from env")
	}
}

// TestUnparseableEnvKeepsDefault verifies a bad env value is ignored.
func TestUnparseableEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	withSecrets(t)
	t.Setenv("STACKPILOT_COMPLETION_MAX_TOKENS", "lots")
	t.Setenv("STACKPILOT_INGEST_POLL_INTERVAL", "soon")

	cfg, err := loadWith(newMemBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Completion.MaxTokens != 2000 {
		t.Errorf("MaxTokens = %d, want default 2000", cfg.Completion.MaxTokens)
	}
	if cfg.Ingest.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want default", cfg.Ingest.PollInterval)
	}
}

// TestMissingRequiredField verifies a clear error when secrets are missing everywhere.
func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMemBackend(), mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing secrets, got nil")
	}
	for _, want := range []string{"missing required config", "STACKPILOT_COMPLETION_API_KEY", "STACKPILOT_AUTH_JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to contain %q", err.Error(), want)
		}
	}
}

// TestKeychainFallback verifies the secret store is consulted when env is empty.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("STACKPILOT_AUTH_JWT_SECRET", "jwt-env")

	kc := mockKeychain{
		"stackpilot/completion_api_key": "keychain-secret",
		"stackpilot/auth_jwt_secret":    "ignored",
	}
	cfg, err := loadWith(newMemBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Completion.APIKey != "keychain-secret" {
		t.Errorf("APIKey = %q, want keychain-secret", cfg.Completion.APIKey)
	}
	if cfg.Auth.JWTSecret != "jwt-env" {
		t.Errorf("JWTSecret = %q, want the env value", cfg.Auth.JWTSecret)
	}
}

// TestInvalidValue verifies validation of the merged config.
func TestInvalidValue(t *testing.T) {
	clearEnv(t)
	withSecrets(t)
	t.Setenv("STACKPILOT_EMBEDDING_PROVIDER", "cohere")

	_, err := loadWith(newMemBackend(), mockKeychain{})
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("err = %v, want invalid config", err)
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("setting port: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("port = %d, want 4200", b.ints["server.port"])
	}
	if err := setKeyWith(b, "ingest.poll_interval", "5s"); err != nil {
		t.Fatalf("setting poll interval: %v", err)
	}
	if b.strs["ingest.poll_interval"] != "5s" {
		t.Errorf("poll interval = %q", b.strs["ingest.poll_interval"])
	}

	tests := []struct {
		key, value, want string
	}{
		{"server.port", "abc", "invalid value"},
		{"completion.temperature", "warm", "invalid value"},
		{"ingest.poll_interval", "5", "invalid value"},
		{"knowledge.rerank", "maybe", "invalid value"},
		{"completion.api_key", "sk", "cannot set secret"},
		{"nope", "1", "unknown config key"},
	}
	for _, tt := range tests {
		err := setKeyWith(b, tt.key, tt.value)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("setKeyWith(%s, %s) = %v, want %q", tt.key, tt.value, err, tt.want)
		}
	}
}

func TestUnsetKey(t *testing.T) {
	b := newMemBackend()
	b.strs["completion.model"] = "gpt-4o"

	if err := unsetKeyWith(b, "completion.model"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if _, ok := b.strs["completion.model"]; ok {
		t.Error("completion.model still stored after unset")
	}
	if err := unsetKeyWith(b, "auth.jwt_secret"); err == nil || !strings.Contains(err.Error(), "cannot unset secret") {
		t.Errorf("unset secret err = %v", err)
	}
	if err := unsetKeyWith(b, "nope"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllSkipsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Completion.APIKey = "sk-hidden"

	infos := ShowAll(cfg)
	if len(infos) != len(ValidKeys()) {
		t.Errorf("ShowAll returned %d keys, ValidKeys %d", len(infos), len(ValidKeys()))
	}
	for _, info := range infos {
		if info.Value == "sk-hidden" || strings.HasSuffix(info.Key, "api_key") {
			t.Errorf("secret leaked: %+v", info)
		}
		if info.Key == "ingest.poll_interval" && info.Value != "2s" {
			t.Errorf("poll interval shown as %q, want 2s", info.Value)
		}
	}
}
