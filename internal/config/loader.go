package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the matching field is empty.
const (
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvTwilioAccountSID = "TWILIO_ACCOUNT_SID"
	EnvTwilioAuthToken  = "TWILIO_AUTH_TOKEN"
	EnvDatabaseURL      = "DATABASE_URL"
)

// Load reads, defaults and validates the configuration file at path.
//
// ${VAR} references are expanded from the environment before parsing.
// .json and .json5 files are parsed as JSON5, anything else as YAML.
// Unknown keys are rejected. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	raw := map[string]any{}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		raw, err = parseRawBytes([]byte(os.ExpandEnv(string(data))), path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyEnvFallbacks(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	format := strings.ToLower(filepath.Ext(pathHint))
	if format == ".json" || format == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil && err != io.EOF {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// decodeRawConfig round-trips the raw map through YAML so both file formats
// share the strict decoder and the yaml field tags.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func applyEnvFallbacks(cfg *Config) {
	fallback := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fallback(&cfg.OpenAI.APIKey, EnvOpenAIAPIKey)
	fallback(&cfg.Twilio.AccountSID, EnvTwilioAccountSID)
	fallback(&cfg.Twilio.AuthToken, EnvTwilioAuthToken)
	fallback(&cfg.Database.URL, EnvDatabaseURL)
}
