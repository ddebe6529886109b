package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestLoad_File(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvDBDSN, "")
	p := writeConfig(t, `
server:
  port: 9090
storage:
  driver: postgres
  postgres_dsn: "host=db user=kerupuk dbname=kerupuk sslmode=disable"
auth:
  jwt_secret: s3cret
  token_ttl: 30m
  bcrypt_cost: 12
session:
  redis_addr: "127.0.0.1:6379"
payroll:
  rate_per_unit: 1500
report:
  timezone: Asia/Makassar
logger:
  level: debug
  format: console
`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, int64(1500), cfg.Payroll.RatePerUnit)
	assert.Equal(t, "127.0.0.1:6379", cfg.Session.RedisAddr)
	assert.Equal(t, "Asia/Makassar", cfg.Location().String())
	assert.Equal(t, "console", cfg.Logger.Format)

	// Unset sections keep their defaults.
	assert.Equal(t, "kerupuk-ledger", cfg.Auth.Issuer)
	assert.Equal(t, []string{"*"}, cfg.Server.CORS.AllowOrigins)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvJWTSecret, "from-env")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "Asia/Jakarta", cfg.Report.Timezone)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestRead_DoesNotValidate(t *testing.T) {
	t.Setenv(EnvJWTSecret, "s3cret")
	t.Setenv(EnvDBDSN, "")
	p := writeConfig(t, "storage:\n  driver: postgres\n")

	// GIVEN: a postgres config without a DSN
	_, err := Load(p)
	require.Error(t, err)

	// WHEN: read without validation, then the DSN arrives late
	cfg, err := Read(p)
	require.NoError(t, err)
	cfg.SetDSN("postgres://kerupuk@db/kerupuk")

	// THEN: it validates
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "postgres://kerupuk@db/kerupuk", cfg.Storage.PostgresDSN)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvJWTSecret: "env-secret",
		EnvDBDSN:     "/data/kerupuk.db",
		EnvRedisAddr: "redis:6379",
	}
	cfg := Defaults()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "/data/kerupuk.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "redis:6379", cfg.Session.RedisAddr)

	cfg.Storage.Driver = DriverPostgres
	cfg.SetDSN("postgres://x")
	assert.Equal(t, "postgres://x", cfg.Storage.PostgresDSN)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Defaults()
		c.Auth.JWTSecret = "s"
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults with secret", func(c *Config) {}, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, false},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, false},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, false},
		{"missing secret in dev", func(c *Config) { c.Auth.JWTSecret = ""; c.Server.Dev = true }, true},
		{"zero rate", func(c *Config) { c.Payroll.RatePerUnit = 0 }, false},
		{"bad zone", func(c *Config) { c.Report.Timezone = "Mars/Olympus" }, false},
		{"negative ttl", func(c *Config) { c.Auth.TokenTTL = -time.Second }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_DevSecretIsFilled(t *testing.T) {
	c := Defaults()
	c.Server.Dev = true
	require.NoError(t, c.Validate())
	assert.NotEmpty(t, c.Auth.JWTSecret)
}
