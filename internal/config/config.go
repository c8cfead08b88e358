// Package config loads promptvault settings from defaults, an optional YAML file and PROMPTVAULT_*
// environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/skosovsky/promptvault/internal/logging"
	"github.com/skosovsky/promptvault/registry"
)

// Backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// FileName is the config file name searched for when none is given.
const FileName = "promptvault"

// Config is the resolved configuration.
type Config struct {
	DataDir                string         `mapstructure:"data_dir" yaml:"data_dir"`
	Backend                string         `mapstructure:"backend" yaml:"backend"`
	SQLitePath             string         `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN            string         `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	PostgresSchema         string         `mapstructure:"postgres_schema" yaml:"postgres_schema"`
	Operator               string         `mapstructure:"operator" yaml:"operator"`
	LogLevel               string         `mapstructure:"log_level" yaml:"log_level"`
	LogFormat              string         `mapstructure:"log_format" yaml:"log_format"`
	Domains                []string       `mapstructure:"domains" yaml:"domains"`
	AgentTypes             []string       `mapstructure:"agent_types" yaml:"agent_types"`
	DefaultModelParameters map[string]any `mapstructure:"default_model_parameters" yaml:"default_model_parameters"`
	AuditDryRuns           bool           `mapstructure:"audit_dry_runs" yaml:"audit_dry_runs"`
}

// Load reads the configuration. cfgFile, when set, must exist; otherwise ./promptvault.yaml and
// $HOME/.promptvault/promptvault.yaml are tried and may be absent.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.promptvault")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix("PROMPTVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// OPERATOR_NAME is the operator variable older tooling exports.
	if err := v.BindEnv("operator", "PROMPTVAULT_OPERATOR", "OPERATOR_NAME"); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "promptvault.db")
	}
	cfg.Operator = strings.TrimSpace(cfg.Operator)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("backend", BackendFile)
	v.SetDefault("sqlite_path", "")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("postgres_schema", "")
	v.SetDefault("operator", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", logging.FormatConsole)
	v.SetDefault("domains", []string{})
	v.SetDefault("agent_types", []string{})
	v.SetDefault("default_model_parameters", registry.DefaultModelParameters())
	v.SetDefault("audit_dry_runs", true)
}

// Validate checks settings that Load cannot.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendFile:
		if c.DataDir == "" {
			errs = append(errs, errors.New("data_dir is required for the file backend"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.LogFormat {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
