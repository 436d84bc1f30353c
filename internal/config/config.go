package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server     ServerConfig
	Completion CompletionConfig
	Embedding  EmbeddingConfig
	Storage    StorageConfig
	Auth       AuthConfig
	Log        LogConfig
	Ingest     IngestConfig
	Knowledge  KnowledgeConfig
}

type ServerConfig struct {
	Port        int    `validate:"min=1,max=65535"`
	PublicURL   string `validate:"required,url"`
	CORSOrigins string
}

// Origins splits the comma-separated CORS origin list.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type CompletionConfig struct {
	BaseURL     string  `validate:"required,url"`
	APIKey      string
	Model       string  `validate:"required"`
	Temperature float64 `validate:"min=0,max=2"`
	MaxTokens   int     `validate:"min=1"`
	MaxSteps    int     `validate:"min=1,max=20"`
}

type EmbeddingConfig struct {
	Provider  string `validate:"oneof=openai ollama"`
	Model     string `validate:"required"`
	OllamaURL string `validate:"omitempty,url"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string `validate:"required"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

type IngestConfig struct {
	PollInterval time.Duration `validate:"min=100ms"`
}

// KnowledgeConfig controls the optional model rerank of agent knowledge hits.
type KnowledgeConfig struct {
	Rerank          bool
	RerankThreshold float64       `validate:"min=0,max=1"`
	RerankTimeout   time.Duration `validate:"min=100ms"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        4100,
			PublicURL:   "http://localhost:4100",
			CORSOrigins: "*",
		},
		Completion: CompletionConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   2000,
			MaxSteps:    5,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			OllamaURL: "http://localhost:11434",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Auth: AuthConfig{
			Issuer: "stackpilot",
		},
		Log: LogConfig{
			Level: "info",
		},
		Ingest: IngestConfig{
			PollInterval: 2 * time.Second,
		},
		Knowledge: KnowledgeConfig{
			RerankThreshold: 0.3,
			RerankTimeout:   5 * time.Second,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.stackpilot.app) and
// secrets fall back to macOS Keychain (service: stackpilot).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/stackpilot/config.json
// and secrets fall back to $XDG_DATA_HOME/stackpilot/secrets.json.
//
// Environment variables (STACKPILOT_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// LoadPublic is Load without the secret requirement, for commands that only
// need addresses and paths.
func LoadPublic() (Config, error) {
	return layered(newPlatformBackend())
}

// layered applies defaults, the backend and the environment, in that order.
func layered(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "stackpilot"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg, err := layered(b)
	if err != nil {
		return Config{}, err
	}

	var missing []string
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if s.extract(cfg).(string) == "" {
			if v, err := kc.Get(keychainService, s.account()); err == nil && v != "" {
				s.apply(&cfg, v)
			}
		}
		if s.extract(cfg).(string) == "" {
			missing = append(missing, fmt.Sprintf("%s (env %s%s)", s.key, s.env, secretHint(s.account())))
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
