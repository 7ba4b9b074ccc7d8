package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hylla/blockenv/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/tmp/blockenv.db")
	if cfg.Database.Path != "/tmp/blockenv.db" || cfg.Database.Driver != DriverSQLite {
		t.Fatalf("unexpected database config %#v", cfg.Database)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
	if cfg.Server.APIEndpoint != "/api/v1" || cfg.Server.MCPEndpoint != "/mcp" || !cfg.Server.EnableMetrics {
		t.Fatalf("unexpected server config %#v", cfg.Server)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default("/tmp/blockenv.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != defaults.Database.Path {
		t.Fatalf("expected default db path, got %q", cfg.Database.Path)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[database]
driver = "postgres"
dsn = "postgres://blockenv@localhost/blockenv"

[logging]
level = "debug"

[server]
http_bind = "0.0.0.0:9000"
enable_metrics = false

[environment]
max_operations = 25

[[block_types]]
key = "Section"
strictness = "strict"
schema = '{"type":"object"}'

[block_types.nesting]
max = 4
allowed_type_keys = ["note"]

[[block_types]]
key = "note"
organisation_id = "org-1"
`)

	cfg, err := Load(path, Default("/tmp/default.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != DriverPostgres || !strings.HasPrefix(cfg.Database.DSN, "postgres://") {
		t.Fatalf("unexpected database config %#v", cfg.Database)
	}
	if cfg.Database.Path != "/tmp/default.db" {
		t.Fatalf("expected default path to survive, got %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" || cfg.Server.HTTPBind != "0.0.0.0:9000" || cfg.Server.EnableMetrics {
		t.Fatalf("unexpected overrides %#v %#v", cfg.Logging, cfg.Server)
	}
	if cfg.Server.MCPEndpoint != "/mcp" {
		t.Fatalf("expected default mcp endpoint, got %q", cfg.Server.MCPEndpoint)
	}
	if cfg.Environment.MaxOperations != 25 {
		t.Fatalf("unexpected max operations %d", cfg.Environment.MaxOperations)
	}

	inputs := cfg.BlockTypeInputs()
	if len(inputs) != 2 {
		t.Fatalf("expected 2 block types, got %d", len(inputs))
	}
	if inputs[0].Strictness != domain.StrictnessStrict || inputs[0].SchemaJSON != `{"type":"object"}` {
		t.Fatalf("unexpected first block type %#v", inputs[0])
	}
	if inputs[0].Nesting == nil || inputs[0].Nesting.Max == nil || *inputs[0].Nesting.Max != 4 || !inputs[0].Nesting.Allows("note") {
		t.Fatalf("unexpected nesting %#v", inputs[0].Nesting)
	}
	if inputs[1].OrganisationID != "org-1" || inputs[1].Nesting != nil {
		t.Fatalf("unexpected second block type %#v", inputs[1])
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"driver", "[database]\ndriver = \"mysql\"\n", "database.driver"},
		{"postgres dsn", "[database]\ndriver = \"postgres\"\n", "database.dsn"},
		{"log level", "[logging]\nlevel = \"loud\"\n", "logging.level"},
		{"max operations", "[environment]\nmax_operations = -1\n", "max_operations"},
		{"missing key", "[[block_types]]\nstrictness = \"soft\"\n", "key is required"},
		{"strictness", "[[block_types]]\nkey = \"a\"\nstrictness = \"lax\"\n", "strictness"},
		{"schema", "[[block_types]]\nkey = \"a\"\nschema = \"{\"\n", "schema"},
		{"duplicate", "[[block_types]]\nkey = \"a\"\n[[block_types]]\nkey = \"A\"\n", "duplicated"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content), Default("/tmp/default.db"))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestValidateAllowsSameKeyAcrossOrganisations(t *testing.T) {
	cfg := Default("/tmp/blockenv.db")
	cfg.BlockTypes = []BlockTypeConfig{{Key: "note"}, {Key: "note", OrganisationID: "org-1"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "config.toml")
	if err := EnsureConfigDir(target); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(target)); err != nil {
		t.Fatalf("expected dir to exist, stat error %v", err)
	}
}
