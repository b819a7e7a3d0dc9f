package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
	JWT    JWTConfig    `yaml:"jwt"`
	Admin  struct {
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"admin"`
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadOverlaysEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  port: ":8080"
db:
  host: localhost
  port: 5432
  password: ${DB_PASSWORD}
jwt:
  secret: ${TRUSTFUND_TEST_UNSET}
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.staging
`)
	writeFile(t, dir, "secrets.env", `
# comment
DB_PASSWORD="s3cret: with colon"
`)

	out := testConfig{JWT: JWTConfig{TTL: time.Hour}}
	require.NoError(t, Load("staging", dir, &out))

	assert.Equal(t, ":8080", out.Server.Port)
	assert.Equal(t, "db.staging", out.DB.Host)
	assert.Equal(t, 5432, out.DB.Port)
	assert.Equal(t, "s3cret: with colon", out.DB.Password)
	assert.Empty(t, out.JWT.Secret)
	// 文件里没出现的字段保留默认值
	assert.Equal(t, time.Hour, out.JWT.TTL)
}

func TestLoadMissingBase(t *testing.T) {
	var out testConfig
	require.Error(t, Load("local", t.TempDir(), &out))
}

func TestLoadSystemEnvPlaceholder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "jwt:\n  secret: ${TRUSTFUND_TEST_SECRET}\n  ttl: 2h\ndb:\n  port: ${TRUSTFUND_TEST_PORT}\n")
	t.Setenv("TRUSTFUND_TEST_SECRET", "from-env")
	t.Setenv("TRUSTFUND_TEST_PORT", "6543")

	var out testConfig
	require.NoError(t, Load("", dir, &out))
	assert.Equal(t, "from-env", out.JWT.Secret)
	assert.Equal(t, 2*time.Hour, out.JWT.TTL)
	assert.Equal(t, 6543, out.DB.Port)
}

func TestLoadKeepsDollarSignsOutsidePlaceholders(t *testing.T) {
	dir := t.TempDir()
	const hash = "$2a$10$abcdefghijklmnopqrstuv"
	writeFile(t, dir, "base.yaml", "admin:\n  password_hash: '"+hash+"'\n")

	var out testConfig
	require.NoError(t, Load("", dir, &out))
	assert.Equal(t, hash, out.Admin.PasswordHash)
}

func TestOverrideDBFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_PORT", "6543")

	cfg := DBConfig{Host: "localhost", Port: 5432, User: "u", Password: "p", Name: "n"}
	OverrideDBFromEnv(&cfg)

	assert.Equal(t, "pg", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "postgres://u:p@pg:6543/n?sslmode=disable", cfg.DSN())
}
