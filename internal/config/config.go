package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/nuka-council/internal/provider"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is set.
const DefaultPath = "configs/council.json"

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig              `json:"server"`
	Providers  []provider.ProviderConfig `json:"providers"`
	Bindings   map[string]string         `json:"bindings,omitempty"`
	Workflow   WorkflowConfig            `json:"workflow"`
	Checkpoint CheckpointConfig          `json:"checkpoint"`
	Database   DatabaseConfig            `json:"database"`
	Embedding  EmbeddingConfig           `json:"embedding"`
	Novelty    NoveltyConfig             `json:"novelty"`
	NATS       NATSConfig                `json:"nats"`
	Notify     NotifyConfig              `json:"notify"`
	History    HistoryConfig             `json:"history"`
}

type ServerConfig struct {
	Port        int      `json:"port"`
	LogLevel    string   `json:"log_level"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// WorkflowConfig selects and tunes the preset a run uses. Zero values
// fall back to the preset's own defaults.
type WorkflowConfig struct {
	Name        string   `json:"name"`
	MaxAttempts int      `json:"max_attempts"`
	MaxSteps    int      `json:"max_steps"`
	StepTimeout Duration `json:"step_timeout"`
	PolicyFile  string   `json:"policy_file,omitempty"`
	ProfileDir  string   `json:"profile_dir,omitempty"`
	Seed        uint64   `json:"seed,omitempty"`
	Retries     int      `json:"retries,omitempty"`
}

// CheckpointConfig picks where run positions are persisted.
type CheckpointConfig struct {
	Driver     string   `json:"driver"` // memory, sqlite, postgres, redis
	SQLitePath string   `json:"sqlite_path"`
	RedisTTL   Duration `json:"redis_ttl,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// RedisConfig also enables the per-run step stream when Stream is set.
type RedisConfig struct {
	URL    string `json:"url"`
	Stream bool   `json:"stream"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NoveltyConfig controls the near-duplicate proposal filter.
type NoveltyConfig struct {
	Enabled    bool    `json:"enabled"`
	Collection string  `json:"collection"`
	Threshold  float32 `json:"threshold"`
	MaxDraws   int     `json:"max_draws"`
}

// NATSConfig enables step publishing. Embedded starts an in-process
// server instead of dialing URL.
type NATSConfig struct {
	URL      string `json:"url"`
	Embedded bool   `json:"embedded"`
	Port     int    `json:"port"`
}

type NotifyConfig struct {
	Slack    SlackNotifyConfig   `json:"slack"`
	Discord  DiscordNotifyConfig `json:"discord"`
	Outcomes []string            `json:"outcomes,omitempty"`
}

type SlackNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

type DiscordNotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	BotToken   string `json:"bot_token"`
	ChannelID  string `json:"channel_id"`
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Duration is a time.Duration written as "60s" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration: %s", b)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a config that runs the school workflow locally with no
// external services.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 3210, LogLevel: "debug"},
		Workflow: WorkflowConfig{
			Name:        "school",
			MaxSteps:    50,
			StepTimeout: Duration(60 * time.Second),
		},
		Checkpoint: CheckpointConfig{Driver: "sqlite", SQLitePath: "data/council.db"},
		Database: DatabaseConfig{
			Qdrant: QdrantConfig{Host: "localhost", Port: 6334},
		},
		Embedding: EmbeddingConfig{Provider: "api", Dimension: 1536},
		Novelty: NoveltyConfig{
			Collection: "council_proposals",
			Threshold:  0.92,
			MaxDraws:   3,
		},
		History: HistoryConfig{Enabled: true, Path: "data/chat_history.json"},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over Default() and substitutes
// environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (cfg *Config, found bool, err error) {
	cfg, err = Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	return cfg, err == nil, err
}

// Parse decodes JSON config bytes over Default().
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that would only fail later at wiring time.
func (c *Config) Validate() error {
	var errs []error
	switch c.Checkpoint.Driver {
	case "", "memory":
	case "sqlite":
		if c.Checkpoint.SQLitePath == "" {
			errs = append(errs, errors.New("checkpoint.sqlite_path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			errs = append(errs, errors.New("database.postgres.dsn is required for the postgres driver"))
		}
	case "redis":
		if c.Database.Redis.URL == "" {
			errs = append(errs, errors.New("database.redis.url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.driver %q is not one of memory, sqlite, postgres, redis", c.Checkpoint.Driver))
	}
	if c.Workflow.MaxAttempts < 0 || c.Workflow.MaxSteps < 0 {
		errs = append(errs, errors.New("workflow.max_attempts and workflow.max_steps must not be negative"))
	}
	if c.Novelty.Enabled && c.Database.Qdrant.Host == "" {
		errs = append(errs, errors.New("novelty requires database.qdrant.host"))
	}
	if c.Notify.Slack.Enabled && (c.Notify.Slack.BotToken == "" || c.Notify.Slack.ChannelID == "") {
		errs = append(errs, errors.New("notify.slack requires bot_token and channel_id"))
	}
	if c.Notify.Discord.Enabled && c.Notify.Discord.WebhookURL == "" &&
		(c.Notify.Discord.BotToken == "" || c.Notify.Discord.ChannelID == "") {
		errs = append(errs, errors.New("notify.discord requires webhook_url or bot_token and channel_id"))
	}
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("providers[%d].id is required", i))
		}
	}
	return errors.Join(errs...)
}
