package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Target identifies the database a run operates on.
type Target struct {
	Provider string `yaml:"provider"`
	DSN      string `yaml:"dsn"`
	Schema   string `yaml:"schema,omitempty"`
}

// mysqlDSNPassword matches the password part of user:pass@tcp(...)/db.
var mysqlDSNPassword = regexp.MustCompile(`^([^:@/]+):([^@]+)@`)

// Redacted returns the DSN with any password masked, safe for logs and
// error reports.
func (t Target) Redacted() string {
	if u, err := url.Parse(t.DSN); err == nil && u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			return u.String()
		}
	}
	return mysqlDSNPassword.ReplaceAllString(t.DSN, "$1:xxxxx@")
}

// Config is the file-level configuration, optionally overridden from the
// environment.
type Config struct {
	Target           Target        `yaml:"target"`
	MigrationsDir    string        `yaml:"migrations_dir"`
	ModelsFile       string        `yaml:"models_file"`
	StateTable       string        `yaml:"state_table"`
	LockTimeout      time.Duration `yaml:"lock_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	LogLevel         string        `yaml:"log_level"`
}

// Load reads the YAML config at path and applies MODELMIGRATE_* env
// overrides.
func Load(path string) (Config, error) {
	cfg := Config{
		MigrationsDir:    "./migrations",
		ModelsFile:       "./models.yaml",
		StateTable:       "schema_migrations",
		LockTimeout:      30 * time.Second,
		StatementTimeout: time.Minute,
		LogLevel:         "info",
	}

	body, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(body, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Target.Provider = getEnv("MODELMIGRATE_PROVIDER", cfg.Target.Provider)
	cfg.Target.DSN = getEnv("MODELMIGRATE_DSN", cfg.Target.DSN)
	cfg.Target.Schema = getEnv("MODELMIGRATE_SCHEMA", cfg.Target.Schema)
	cfg.MigrationsDir = getEnv("MODELMIGRATE_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.ModelsFile = getEnv("MODELMIGRATE_MODELS_FILE", cfg.ModelsFile)
	cfg.StateTable = getEnv("MODELMIGRATE_STATE_TABLE", cfg.StateTable)
	cfg.LogLevel = getEnv("MODELMIGRATE_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields every command needs.
func (c Config) Validate() error {
	if c.Target.Provider == "" {
		return errors.New("target provider is required (config target.provider or MODELMIGRATE_PROVIDER)")
	}
	if c.Target.DSN == "" {
		return errors.New("target dsn is required (config target.dsn or MODELMIGRATE_DSN)")
	}
	if c.StateTable == "" {
		return errors.New("state_table must not be empty")
	}
	if c.LockTimeout <= 0 {
		return errors.New("lock_timeout must be positive")
	}
	if c.StatementTimeout <= 0 {
		return errors.New("statement_timeout must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
