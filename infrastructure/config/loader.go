package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domainconfig "github.com/framefield/tooll-sub003/domain/config"
)

// Load builds the configuration in priority order:
//  1. defaults for the environment in GRAPH_ENV
//  2. the YAML file at path, if it exists (CONFIG_FILE overrides path)
//  3. environment variables
//
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	env := Environment(getEnv("GRAPH_ENV", string(Development)))
	cfg := Defaults(env)
	cfg.LoadedFrom = []string{"defaults"}

	path = getEnv("CONFIG_FILE", path)
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		} else {
			cfg.LoadedFrom = append(cfg.LoadedFrom, path)
		}
	}

	applyEnvironment(cfg)
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing else is set.
func Defaults(env Environment) *Config {
	rules := domainconfig.LoadDomainConfig(string(env))
	cfg := &Config{
		Environment: env,
		Server: Server{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: Logging{
			Level:       "info",
			Development: env == Development,
		},
		History: History{
			MaxDepth: rules.MaxHistoryDepth,
		},
		Domain: Domain{
			DefaultOperatorWidth:   rules.DefaultOperatorWidth,
			DuplicateOffsetX:       rules.DuplicateOffset.X,
			DuplicateOffsetY:       rules.DuplicateOffset.Y,
			InsertSpacing:          rules.InsertSpacing,
			AllowGenericCoercion:   rules.AllowGenericCoercion,
			AnimationReferenceTime: rules.AnimationReferenceTime,
		},
		Journal: Journal{
			Store: "memory",
			SQL: SQLJournal{
				Table: "journal_entries",
			},
			DynamoDB: DynamoDBConfig{
				Table:  "graph-journal",
				Region: "us-east-1",
			},
		},
		Events: Events{
			EventBusName: "default",
			Source:       "graph.history",
			Region:       "us-east-1",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "graph",
			Path:      "/metrics",
		},
	}
	if env == Development {
		cfg.Logging.Level = "debug"
	}
	return cfg
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyEnvironment overlays environment variables; they have the highest
// priority.
func applyEnvironment(cfg *Config) {
	if val := os.Getenv("SERVER_ADDRESS"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = strings.ToLower(val)
	}
	if val, ok := lookupInt("HISTORY_MAX_DEPTH"); ok {
		cfg.History.MaxDepth = val
	}
	if val := os.Getenv("HISTORY_SESSION"); val != "" {
		cfg.History.Session = val
	}
	if val := os.Getenv("CATALOG_PATH"); val != "" {
		cfg.Catalog.Path = val
	}

	// Journal
	if val := os.Getenv("JOURNAL_STORE"); val != "" {
		cfg.Journal.Store = val
	}
	if val := os.Getenv("SQL_DRIVER"); val != "" {
		cfg.Journal.SQL.Driver = val
	}
	if val := os.Getenv("SQL_DSN"); val != "" {
		cfg.Journal.SQL.DSN = val
	}
	if val := getEnv("TABLE_NAME", os.Getenv("DYNAMODB_TABLE")); val != "" {
		cfg.Journal.DynamoDB.Table = val
	}
	if val := os.Getenv("DYNAMODB_ENDPOINT"); val != "" {
		cfg.Journal.DynamoDB.Endpoint = val
	}

	// AWS
	if val := os.Getenv("AWS_REGION"); val != "" {
		cfg.Journal.DynamoDB.Region = val
		cfg.Events.Region = val
	}
	if val, ok := lookupBool("EVENTS_ENABLED"); ok {
		cfg.Events.Enabled = val
	}
	if val := os.Getenv("EVENT_BUS_NAME"); val != "" {
		cfg.Events.EventBusName = val
	}

	// Feature flags
	if val, ok := lookupBool("ENABLE_METRICS"); ok {
		cfg.Metrics.Enabled = val
	}
	if val, ok := lookupBool("ENABLE_TRACING"); ok {
		cfg.Tracing.Enabled = val
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func lookupInt(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	return n, err == nil
}

func lookupBool(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	b, err := strconv.ParseBool(value)
	return b, err == nil
}
