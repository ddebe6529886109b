/*
Package config loads the service configuration.

SOURCES (later wins):
  1. Defaults()
  2. YAML file (-config flag); a missing file keeps the defaults
  3. Environment: KERUPUK_JWT_SECRET, KERUPUK_DB_DSN, KERUPUK_REDIS_ADDR
  4. Command-line flags applied by cmd/server (-port, -db)

EXAMPLE (config.yaml):
  server:
    port: 8080
  storage:
    driver: sqlite
    sqlite_path: ./kerupuk.db
  auth:
    jwt_secret: change-me
    token_ttl: 12h
  payroll:
    rate_per_unit: 1000
  report:
    timezone: Asia/Jakarta
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	EnvJWTSecret = "KERUPUK_JWT_SECRET"
	EnvDBDSN     = "KERUPUK_DB_DSN"
	EnvRedisAddr = "KERUPUK_REDIS_ADDR"

	devJWTSecret = "kerupuk-dev-secret"
)

type Config struct {
	Server  ServerConf  `yaml:"server"`
	Storage StorageConf `yaml:"storage"`
	Auth    AuthConf    `yaml:"auth"`
	Session SessionConf `yaml:"session"`
	Payroll PayrollConf `yaml:"payroll"`
	Report  ReportConf  `yaml:"report"`
	Logger  LoggerConf  `yaml:"logger"`
}

type ServerConf struct {
	Port int      `yaml:"port"`
	Dev  bool     `yaml:"dev"`
	CORS CORSConf `yaml:"cors"`
}

type CORSConf struct {
	AllowOrigins []string `yaml:"allow_origins"`
	MaxAge       int      `yaml:"max_age"`
}

type StorageConf struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type AuthConf struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	Issuer     string        `yaml:"issuer"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// SessionConf selects the session registry. An empty RedisAddr keeps
// sessions in process memory.
type SessionConf struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type PayrollConf struct {
	RatePerUnit int64 `yaml:"rate_per_unit"`
}

type ReportConf struct {
	Timezone string `yaml:"timezone"`
}

type LoggerConf struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// Defaults returns a configuration that runs a local SQLite server.
func Defaults() *Config {
	return &Config{
		Server: ServerConf{
			Port: 8080,
			CORS: CORSConf{AllowOrigins: []string{"*"}, MaxAge: 300},
		},
		Storage: StorageConf{Driver: DriverSQLite, SQLitePath: "./kerupuk.db"},
		Auth: AuthConf{
			Issuer:   "kerupuk-ledger",
			TokenTTL: 12 * time.Hour,
		},
		Session: SessionConf{KeyPrefix: "kerupuk:session:"},
		Payroll: PayrollConf{RatePerUnit: 1000},
		Report:  ReportConf{Timezone: "Asia/Jakarta"},
		Logger:  LoggerConf{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults, applies the environment and validates.
// An empty path or a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply more overrides
// (command-line flags) before calling Validate themselves.
func Read(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(content, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvJWTSecret); ok && v != "" {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup(EnvDBDSN); ok && v != "" {
		c.SetDSN(v)
	}
	if v, ok := lookup(EnvRedisAddr); ok {
		c.Session.RedisAddr = v
	}
}

// SetDSN sets the connection string of the selected driver.
func (c *Config) SetDSN(dsn string) {
	if c.Storage.Driver == DriverPostgres {
		c.Storage.PostgresDSN = dsn
		return
	}
	c.Storage.SQLitePath = dsn
}

// Validate checks the configuration and fills dev-mode fallbacks.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required"))
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not sqlite or postgres", c.Storage.Driver))
	}

	if c.Auth.JWTSecret == "" {
		if c.Server.Dev {
			c.Auth.JWTSecret = devJWTSecret
		} else {
			errs = append(errs, fmt.Errorf("auth.jwt_secret is required (or set %s)", EnvJWTSecret))
		}
	}
	if c.Auth.TokenTTL < 0 {
		errs = append(errs, errors.New("auth.token_ttl must not be negative"))
	}
	if c.Payroll.RatePerUnit <= 0 {
		errs = append(errs, errors.New("payroll.rate_per_unit must be positive"))
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("report.timezone: %w", err))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// Location returns the report time zone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
