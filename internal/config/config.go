package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	charmLog "github.com/charmbracelet/log"
	"github.com/hylla/blockenv/internal/domain"
	toml "github.com/pelletier/go-toml/v2"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Logging     LoggingConfig     `toml:"logging"`
	Server      ServerConfig      `toml:"server"`
	Environment EnvironmentConfig `toml:"environment"`
	BlockTypes  []BlockTypeConfig `toml:"block_types"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type LoggingConfig struct {
	Level   string               `toml:"level"`
	DevFile LoggingDevFileConfig `toml:"dev_file"`
}

type LoggingDevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type ServerConfig struct {
	HTTPBind        string `toml:"http_bind"`
	APIEndpoint     string `toml:"api_endpoint"`
	MCPEndpoint     string `toml:"mcp_endpoint"`
	MetricsEndpoint string `toml:"metrics_endpoint"`
	EnableMetrics   bool   `toml:"enable_metrics"`
}

type EnvironmentConfig struct {
	// MaxOperations caps one batch; 0 keeps the built-in default.
	MaxOperations int `toml:"max_operations"`
}

// BlockTypeConfig declares one block type seeded at startup. Schema holds
// an inline JSON schema document.
type BlockTypeConfig struct {
	Key            string              `toml:"key"`
	Version        int                 `toml:"version"`
	OrganisationID string              `toml:"organisation_id"`
	Schema         string              `toml:"schema"`
	Strictness     string              `toml:"strictness"`
	Nesting        *domain.NestingRule `toml:"nesting"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: LoggingDevFileConfig{
				Enabled: true,
			},
		},
		Server: ServerConfig{
			HTTPBind:        "127.0.0.1:8080",
			APIEndpoint:     "/api/v1",
			MCPEndpoint:     "/mcp",
			MetricsEndpoint: "/metrics",
			EnableMetrics:   true,
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.TrimSpace(strings.ToLower(c.Database.Driver)) {
	case "", DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	if _, err := charmLog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if c.Environment.MaxOperations < 0 {
		return errors.New("environment.max_operations must be >= 0")
	}

	seen := map[string]struct{}{}
	for idx, bt := range c.BlockTypes {
		key := domain.NormalizeTypeKey(bt.Key)
		if key == "" {
			return fmt.Errorf("block_types[%d].key is required", idx)
		}
		if bt.Version < 0 {
			return fmt.Errorf("block_types[%d].version must be >= 0", idx)
		}
		switch domain.Strictness(strings.TrimSpace(strings.ToLower(bt.Strictness))) {
		case "", domain.StrictnessNone, domain.StrictnessSoft, domain.StrictnessStrict:
		default:
			return fmt.Errorf("invalid block_types[%d].strictness: %q", idx, bt.Strictness)
		}
		if schema := strings.TrimSpace(bt.Schema); schema != "" && !json.Valid([]byte(schema)) {
			return fmt.Errorf("block_types[%d].schema is not valid JSON", idx)
		}
		if bt.Nesting != nil && bt.Nesting.Max != nil && *bt.Nesting.Max < 0 {
			return fmt.Errorf("block_types[%d].nesting.max must be >= 0", idx)
		}
		scope := strings.TrimSpace(bt.OrganisationID) + "/" + key
		if _, ok := seen[scope]; ok {
			return fmt.Errorf("block_types[%d].key is duplicated: %s", idx, key)
		}
		seen[scope] = struct{}{}
	}

	return nil
}

// BlockTypeInputs converts the declared catalog into domain inputs.
func (c Config) BlockTypeInputs() []domain.BlockTypeInput {
	out := make([]domain.BlockTypeInput, 0, len(c.BlockTypes))
	for _, bt := range c.BlockTypes {
		out = append(out, domain.BlockTypeInput{
			Key:            bt.Key,
			Version:        bt.Version,
			OrganisationID: strings.TrimSpace(bt.OrganisationID),
			SchemaJSON:     strings.TrimSpace(bt.Schema),
			Nesting:        bt.Nesting,
			Strictness:     domain.Strictness(bt.Strictness),
		})
	}
	return out
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
