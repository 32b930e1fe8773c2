package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()

	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(content), 0644))

	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
source:
  type: "postgres"
  host: "facts.example.com"
  database: "facts"
engine:
  table: "facas_simple_test"
  mode: "client"
`)

	os.Unsetenv("PGHOST")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("ENGINE_MODE", "server")
	t.Setenv("SOURCE_PASSWORD", "s3cret")

	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "server", cfg.Engine.Mode)
	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, "facas_simple_test", cfg.Engine.Table)
	assert.Equal(t, "s3cret", cfg.Source.Password)
}

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, "env: \"test\"\n")

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, "client", cfg.Engine.Mode)
	assert.Equal(t, "digest", cfg.Engine.HashScheme)
	assert.Equal(t, int64(250100000), cfg.Engine.EpochAnchor)
	assert.Equal(t, 30, cfg.Engine.StatsTTLDays)
	assert.Equal(t, 4, cfg.Engine.NGramN)
	assert.Equal(t, "entropy_server", cfg.Engine.ServerRoutine)
	assert.Equal(t, "id", cfg.Engine.RowIDColumn)
	assert.Empty(t, cfg.Redis.Host)
}

func TestLoad_RejectsUnknownMode(t *testing.T) {
	writeConfig(t, "engine:\n  mode: \"batch\"\n")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.mode")
}

func TestLoad_RejectsUnknownHashScheme(t *testing.T) {
	writeConfig(t, "engine:\n  hash_scheme: \"sha1\"\n")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash_scheme")
}

func TestSourceConfig_AdapterConfig(t *testing.T) {
	src := SourceConfig{
		Type:     "postgres",
		Host:     "facts.example.com",
		Port:     5433,
		User:     "reader",
		Password: "pw",
		Database: "facts",
		SSLMode:  "require",
	}

	m := src.AdapterConfig()
	assert.Equal(t, "facts.example.com", m["host"])
	assert.Equal(t, 5433, m["port"])
	assert.Equal(t, "reader", m["user"])
	assert.Equal(t, "pw", m["password"])
	assert.Equal(t, "facts", m["database"])
	assert.Equal(t, "require", m["ssl_mode"])
}

func TestResolveHostForDocker_NonLoopbackUnchanged(t *testing.T) {
	for _, host := range []string{"mydb.example.com", "192.168.1.100", "host.docker.internal"} {
		assert.Equal(t, host, ResolveHostForDocker(host))
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 1, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable", c.ConnectionString())
}
