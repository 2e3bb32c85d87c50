// Package config loads and validates process-wide configuration: one YAML
// file shared by every subcommand, with environment overrides for the
// values that differ per deployment (DSNs, credentials, listen address).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dshills/pathweaver/agent"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/server"
	"github.com/dshills/pathweaver/sweep"
	"github.com/dshills/pathweaver/workflow"
)

// Checkpoint backends.
const (
	CheckpointMemory   = "memory"
	CheckpointSQLite   = "sqlite"
	CheckpointPostgres = "postgres"
)

// Blob backends.
const (
	BlobMemory = "memory"
	BlobFS     = "fs"
)

// DatabaseConfig is the business pool plus the server-side connection cap
// used by the pool audit.
type DatabaseConfig struct {
	repo.Config `yaml:",inline"`

	// MaxConnections is the database server's max_connections setting.
	// Startup refuses configurations whose pools could exceed it.
	MaxConnections int `yaml:"max_connections"`
}

// CheckpointConfig selects and tunes the checkpoint store.
type CheckpointConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=memory sqlite postgres"`

	// DSN for the postgres backend. Empty reuses the business DSN on a
	// separate pool.
	DSN string `yaml:"dsn"`

	// Path for the sqlite backend.
	Path string `yaml:"path"`

	// PoolSize for the postgres backend.
	PoolSize int `yaml:"pool_size"`
}

// AgentsConfig carries provider defaults plus per-variant overrides keyed
// by variant name (intent_analyzer, tutorial_generator, ...).
type AgentsConfig struct {
	Defaults agent.Config            `yaml:"defaults" validate:"required"`
	PerKind  map[string]agent.Config `yaml:"per_kind"`

	// WebSearch enables the web_search tool on agents that accept tools.
	// Disabled while Endpoint is empty.
	WebSearch WebSearchConfig `yaml:"web_search"`
}

// WebSearchConfig points the web_search tool at a search API.
type WebSearchConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// Variants converts the YAML per-variant map onto agent.Kind keys.
func (a AgentsConfig) Variants() map[agent.Kind]agent.Config {
	if len(a.PerKind) == 0 {
		return nil
	}
	out := make(map[agent.Kind]agent.Config, len(a.PerKind))
	for name, cfg := range a.PerKind {
		out[agent.Kind(name)] = cfg
	}
	return out
}

// BlobConfig selects the content blob store.
type BlobConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=memory fs"`

	// Dir is the root directory for the fs backend.
	Dir string `yaml:"dir"`
}

// LogConfig tunes the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Development switches to the console encoder with stack traces.
	Development bool `yaml:"development"`
}

// Config is the full process configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Queue      queue.Config     `yaml:"queue"`
	Agents     AgentsConfig     `yaml:"agents"`
	Workflow   workflow.Config  `yaml:"workflow"`
	Sweep      sweep.Config     `yaml:"sweep"`
	Server     server.Config    `yaml:"server"`
	Blob       BlobConfig       `yaml:"blob"`
	Log        LogConfig        `yaml:"log"`

	// MetricsAddr serves prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`

	// NodeTimeout bounds each workflow node execution.
	NodeTimeout time.Duration `yaml:"node_timeout"`

	// WorkflowBudget bounds one executor turn end to end.
	WorkflowBudget time.Duration `yaml:"workflow_budget"`
}

// Default returns a runnable local configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Config: repo.Config{
				DSN:          "postgres://localhost:5432/pathweaver?sslmode=disable",
				MaxOpenConns: 50,
				MaxIdleConns: 10,
			},
			MaxConnections: 100,
		},
		Checkpoint: CheckpointConfig{
			Backend:  CheckpointPostgres,
			PoolSize: 10,
		},
		Queue: queue.Config{
			Addr:        "localhost:6379",
			ReclaimIdle: 45 * time.Minute,
		},
		Agents: AgentsConfig{
			Defaults: agent.Config{Provider: "openai"},
		},
		Workflow: workflow.DefaultConfig(),
		Server: server.Config{
			Addr: ":8080",
		},
		Blob: BlobConfig{
			Backend: BlobFS,
			Dir:     "./content",
		},
		Log: LogConfig{
			Level: "info",
		},
		NodeTimeout:    5 * time.Minute,
		WorkflowBudget: 30 * time.Minute,
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-specific values from the environment.
// Provider API keys also fall back to the conventional variable for the
// configured provider.
func (c *Config) applyEnv() {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.Database.DSN, "PATHWEAVER_DATABASE_DSN")
	set(&c.Checkpoint.DSN, "PATHWEAVER_CHECKPOINT_DSN")
	set(&c.Queue.Addr, "PATHWEAVER_REDIS_ADDR")
	set(&c.Queue.Password, "PATHWEAVER_REDIS_PASSWORD")
	set(&c.Server.Addr, "PATHWEAVER_LISTEN_ADDR")
	set(&c.Blob.Dir, "PATHWEAVER_CONTENT_DIR")

	providerKey := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"google":    "GOOGLE_API_KEY",
	}
	set(&c.Agents.Defaults.Credential,
		"PATHWEAVER_AGENT_CREDENTIAL", providerKey[c.Agents.Defaults.Provider])
	set(&c.Agents.WebSearch.APIKey, "PATHWEAVER_SEARCH_API_KEY")
}

// Validate applies struct validation plus the cross-field checks that tags
// cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.Checkpoint.Backend {
	case CheckpointSQLite:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("config: checkpoint.path is required for the sqlite backend")
		}
	case CheckpointPostgres:
		if c.Checkpoint.DSN == "" && c.Database.DSN == "" {
			return fmt.Errorf("config: checkpoint.dsn or database.dsn is required for the postgres backend")
		}
	}

	if c.Blob.Backend == BlobFS && c.Blob.Dir == "" {
		return fmt.Errorf("config: blob.dir is required for the fs backend")
	}

	return c.auditPools()
}

// auditPools refuses configurations whose combined pools can exhaust the
// database server. The checkpoint pool counts only when it lands on the
// same server as the business pool.
func (c Config) auditPools() error {
	if c.Database.MaxConnections <= 0 {
		return nil
	}

	total := c.Database.MaxOpenConns
	if c.Checkpoint.Backend == CheckpointPostgres &&
		(c.Checkpoint.DSN == "" || c.Checkpoint.DSN == c.Database.DSN) {
		total += c.Checkpoint.PoolSize
	}

	if total > c.Database.MaxConnections {
		return fmt.Errorf(
			"config: pools need %d connections but the server allows %d; lower database.max_open_conns or checkpoint.pool_size",
			total, c.Database.MaxConnections)
	}
	return nil
}
