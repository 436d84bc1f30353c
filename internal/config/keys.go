package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// account is the secret store account name, e.g. completion_api_key.
func (s keySpec) account() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "STACKPILOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.public_url", typ: kString, env: "STACKPILOT_SERVER_PUBLIC_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.PublicURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.PublicURL },
	},
	{
		key: "server.cors_origins", typ: kString, env: "STACKPILOT_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "completion.base_url", typ: kString, env: "STACKPILOT_COMPLETION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Completion.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.BaseURL },
	},
	{
		key: "completion.api_key", typ: kString, env: "STACKPILOT_COMPLETION_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Completion.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.APIKey },
	},
	{
		key: "completion.model", typ: kString, env: "STACKPILOT_COMPLETION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Completion.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.Model },
	},
	{
		key: "completion.temperature", typ: kFloat, env: "STACKPILOT_COMPLETION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Completion.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Completion.Temperature },
	},
	{
		key: "completion.max_tokens", typ: kInt, env: "STACKPILOT_COMPLETION_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Completion.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Completion.MaxTokens },
	},
	{
		key: "completion.max_steps", typ: kInt, env: "STACKPILOT_COMPLETION_MAX_STEPS",
		apply:   func(cfg *Config, v any) { cfg.Completion.MaxSteps = v.(int) },
		extract: func(cfg Config) any { return cfg.Completion.MaxSteps },
	},
	{
		key: "embedding.provider", typ: kString, env: "STACKPILOT_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "STACKPILOT_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.ollama_url", typ: kString, env: "STACKPILOT_EMBEDDING_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.OllamaURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "STACKPILOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "STACKPILOT_AUTH_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "auth.issuer", typ: kString, env: "STACKPILOT_AUTH_ISSUER",
		apply:   func(cfg *Config, v any) { cfg.Auth.Issuer = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Issuer },
	},
	{
		key: "log.level", typ: kString, env: "STACKPILOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "ingest.poll_interval", typ: kDuration, env: "STACKPILOT_INGEST_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.PollInterval },
	},
	{
		key: "knowledge.rerank", typ: kBool, env: "STACKPILOT_KNOWLEDGE_RERANK",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.Rerank = v.(bool) },
		extract: func(cfg Config) any { return cfg.Knowledge.Rerank },
	},
	{
		key: "knowledge.rerank_threshold", typ: kFloat, env: "STACKPILOT_KNOWLEDGE_RERANK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.RerankThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Knowledge.RerankThreshold },
	},
	{
		key: "knowledge.rerank_timeout", typ: kDuration, env: "STACKPILOT_KNOWLEDGE_RERANK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.RerankTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Knowledge.RerankTimeout },
	},
}

// parse converts raw into the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		v, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || v == "" {
			continue
		}
		parsed, err := s.parse(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
			continue
		}
		s.apply(cfg, parsed)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
