// Package config loads Test Lab settings from testlab.yaml, an optional .env
// file and TESTLAB_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config holds the configuration for the application.
type Config struct {
	Database struct {
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Graph struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"graph"`
	Sweeper struct {
		Schedule  string        `mapstructure:"schedule"`
		Retention time.Duration `mapstructure:"retention"`
		Actor     string        `mapstructure:"actor"`
	} `mapstructure:"sweeper"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// Options select where configuration is read from.
type Options struct {
	// File is an explicit config file. Empty searches "." and "./config"
	// for testlab.yaml; a missing search result is not an error.
	File string
	// EnvFile is a dotenv file loaded before the environment is read.
	// Empty tries ".env" and ignores its absence.
	EnvFile string
}

// Load reads the configuration.
// Variables already set in the environment win over the dotenv file.
func Load(opts Options) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TESTLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("testlab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "testlab.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("graph.path", "")
	v.SetDefault("sweeper.schedule", "")
	v.SetDefault("sweeper.retention", "168h")
	v.SetDefault("sweeper.actor", "sweeper")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Validate checks driver-specific requirements.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("config: database.path is required for %s", DriverSQLite)
		}
	case DriverMySQL, DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("config: database.dsn is required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("config: unknown database.driver %q (want %s, %s or %s)",
			c.Database.Driver, DriverSQLite, DriverMySQL, DriverPostgres)
	}
	if c.Sweeper.Retention < 0 {
		return fmt.Errorf("config: sweeper.retention must not be negative")
	}
	return nil
}
