package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"line-relay/internal/logctx"
)

// History backends.
const (
	BackendMemory   = "memory"
	BackendFirebase = "firebase"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Parameter names looked up under PARAM_PREFIX.
const (
	SecretLineAccessToken = "line-channel-access-token"
	SecretLineSecret      = "line-channel-secret"
	SecretGeminiAPIKey    = "gemini-api-key"
)

type Config struct {
	// Credentials
	LineChannelAccessToken string `env:"LINE_CHANNEL_ACCESS_TOKEN"`
	LineChannelSecret      string `env:"LINE_CHANNEL_SECRET"`
	GeminiAPIKey           string `env:"GEMINI_API_KEY"`
	ParamPrefix            string `env:"PARAM_PREFIX"`

	// Generation
	GenerationBaseURL string        `env:"GENERATION_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai"`
	ModelName         string        `env:"MODEL_NAME" envDefault:"gemini-2.0-flash"`
	PersonaPrompt     string        `env:"PERSONA_PROMPT"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"30s"`

	// Conversation
	Trigger         string `env:"TRIGGER" envDefault:"@danny"`
	MaxHistoryTurns int    `env:"MAX_HISTORY_TURNS" envDefault:"20"`

	// History store
	HistoryBackend string        `env:"HISTORY_BACKEND" envDefault:"memory"`
	FirebaseURL    string        `env:"FIREBASE_URL"`
	FirebaseAuth   string        `env:"FIREBASE_AUTH"`
	StateTable     string        `env:"STATE_TABLE"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	HistoryTTL     time.Duration `env:"HISTORY_TTL" envDefault:"720h"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// Reply dispatch
	ReplyAttempts       int           `env:"REPLY_ATTEMPTS" envDefault:"1"`
	ReplyRetryDelay     time.Duration `env:"REPLY_RETRY_DELAY" envDefault:"500ms"`
	MaxConcurrentEvents int           `env:"MAX_CONCURRENT_EVENTS" envDefault:"8"`

	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.HistoryBackend = strings.ToLower(strings.TrimSpace(cfg.HistoryBackend))
	return cfg, nil
}

// SecretSource resolves a named secret, e.g. paramstore.SecretSource.
type SecretSource interface {
	Secret(ctx context.Context, name string) (string, error)
}

// ResolveSecrets fills credentials missing from the environment from src.
// Credentials already set are left alone.
func (c *Config) ResolveSecrets(ctx context.Context, src SecretSource) error {
	if src == nil {
		return errors.New("config: secret source must not be nil")
	}
	targets := []struct {
		name string
		dst  *string
	}{
		{SecretLineAccessToken, &c.LineChannelAccessToken},
		{SecretLineSecret, &c.LineChannelSecret},
		{SecretGeminiAPIKey, &c.GeminiAPIKey},
	}
	for _, t := range targets {
		if strings.TrimSpace(*t.dst) != "" {
			continue
		}
		v, err := src.Secret(ctx, t.name)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", t.name, err)
		}
		*t.dst = v
	}
	return nil
}

// NeedsSecrets reports whether any credential is missing from the environment.
func (c *Config) NeedsSecrets() bool {
	return strings.TrimSpace(c.LineChannelAccessToken) == "" ||
		strings.TrimSpace(c.LineChannelSecret) == "" ||
		strings.TrimSpace(c.GeminiAPIKey) == ""
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	required := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	required("LINE_CHANNEL_ACCESS_TOKEN", c.LineChannelAccessToken)
	required("LINE_CHANNEL_SECRET", c.LineChannelSecret)
	required("GEMINI_API_KEY", c.GeminiAPIKey)
	required("MODEL_NAME", c.ModelName)
	required("TRIGGER", c.Trigger)

	switch c.HistoryBackend {
	case BackendMemory:
	case BackendFirebase:
		required("FIREBASE_URL", c.FirebaseURL)
	case BackendDynamoDB:
		required("STATE_TABLE", c.StateTable)
	case BackendPostgres:
		required("DATABASE_URL", c.DatabaseURL)
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND %q is not one of memory, firebase, dynamodb, postgres", c.HistoryBackend))
	}

	if c.MaxHistoryTurns <= 0 {
		errs = append(errs, errors.New("MAX_HISTORY_TURNS must be positive"))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT must be positive"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.ReplyAttempts < 1 {
		errs = append(errs, errors.New("REPLY_ATTEMPTS must be at least 1"))
	}
	if c.ReplyRetryDelay < 0 {
		errs = append(errs, errors.New("REPLY_RETRY_DELAY must not be negative"))
	}
	if c.MaxConcurrentEvents < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_EVENTS must be at least 1"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if _, err := logctx.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
