package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDB struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

type testConfig struct {
	DB    testDB            `yaml:"db"`
	Limit int               `yaml:"limit"`
	Auth  map[string]string `yaml:"auth"`
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadLayersEnvironmentOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  host: localhost\n  port: 5432\nlimit: 50\n")
	writeFile(t, dir, "production.yaml", "db:\n  host: postgres\n")

	cfg := testConfig{DB: testDB{Password: "default"}}
	require.NoError(t, Load("production", dir, &cfg))

	assert.Equal(t, "postgres", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, 50, cfg.Limit)
	assert.Equal(t, "default", cfg.DB.Password)
}

func TestLoadMissingEnvironmentFileIsOptional(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "limit: 7\n")

	var cfg testConfig
	require.NoError(t, Load("staging", dir, &cfg))
	assert.Equal(t, 7, cfg.Limit)
}

func TestLoadSubstitutesSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "auth:\n  webhook: ${WEBHOOK_SECRET}\n  cron: ${CRON_SECRET}\n  jwt: \"${UNSET_SECRET_FOR_TEST}\"\n  literal: pa$$word\n")
	writeFile(t, dir, "secrets.env", "# comment\nWEBHOOK_SECRET=\"from-file\"\nCRON_SECRET='from-file-too'\n")
	t.Setenv("CRON_SECRET", "from-env")

	var cfg testConfig
	require.NoError(t, Load("local", dir, &cfg))

	assert.Equal(t, "from-file", cfg.Auth["webhook"])
	assert.Equal(t, "from-file-too", cfg.Auth["cron"])
	assert.Equal(t, "", cfg.Auth["jwt"])
	assert.Equal(t, "pa$$word", cfg.Auth["literal"])
}

func TestLoadFallsBackToProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  password: ${DB_PASSWORD}\n  port: ${DB_PORT}\n")
	t.Setenv("DB_PASSWORD", "s3cret: #not-a-comment")
	t.Setenv("DB_PORT", "6543")

	var cfg testConfig
	require.NoError(t, Load("local", dir, &cfg))
	assert.Equal(t, "s3cret: #not-a-comment", cfg.DB.Password)
	assert.Equal(t, 6543, cfg.DB.Port)
}

func TestLoadUnsetPlaceholderKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  host: ${UNSET_HOST_FOR_TEST}\n")

	cfg := testConfig{DB: testDB{Host: "localhost"}}
	require.NoError(t, Load("local", dir, &cfg))
	assert.Equal(t, "localhost", cfg.DB.Host)
}

func TestLoadRejectsMalformedSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "limit: 1\n")
	writeFile(t, dir, "secrets.env", "WEBHOOK_SECRET\n")

	var cfg testConfig
	assert.ErrorContains(t, Load("local", dir, &cfg), "secrets.env:1")
}

func TestLoadRequiresBase(t *testing.T) {
	var cfg testConfig
	assert.ErrorContains(t, Load("local", t.TempDir(), &cfg), "base.yaml")
}
