// Package config loads the service configuration from defaults, an optional
// YAML file and environment variables, and hot reloads it in development.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	domainconfig "github.com/framefield/tooll-sub003/domain/config"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

// Config holds all service configuration
type Config struct {
	Environment Environment `yaml:"environment" validate:"oneof=development production test"`

	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
	History History `yaml:"history"`
	Domain  Domain  `yaml:"domain"`
	Catalog Catalog `yaml:"catalog"`
	Journal Journal `yaml:"journal"`
	Events  Events  `yaml:"events"`
	Metrics Metrics `yaml:"metrics"`
	Tracing Tracing `yaml:"tracing"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-"`
}

type Server struct {
	Address         string        `yaml:"address" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type Logging struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// History configures the undo/redo stack.
type History struct {
	// MaxDepth of zero keeps every entry.
	MaxDepth int    `yaml:"max_depth" validate:"gte=0"`
	Session  string `yaml:"session"`
}

// Domain mirrors domain/config.DomainConfig in file form.
type Domain struct {
	DefaultOperatorWidth   float64 `yaml:"default_operator_width" validate:"gt=0"`
	DuplicateOffsetX       float64 `yaml:"duplicate_offset_x"`
	DuplicateOffsetY       float64 `yaml:"duplicate_offset_y"`
	InsertSpacing          float64 `yaml:"insert_spacing" validate:"gte=0"`
	AllowGenericCoercion   bool    `yaml:"allow_generic_coercion"`
	AnimationReferenceTime float64 `yaml:"animation_reference_time"`
}

// Catalog points at the YAML operator catalog loaded at startup.
type Catalog struct {
	Path string `yaml:"path"`
}

type Journal struct {
	Store    string         `yaml:"store" validate:"oneof=none memory sql dynamodb"`
	SQL      SQLJournal     `yaml:"sql"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

type SQLJournal struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite3 postgres"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table" validate:"omitempty,max=63"`
}

type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

type Events struct {
	Enabled      bool   `yaml:"enabled"`
	EventBusName string `yaml:"event_bus_name"`
	Source       string `yaml:"source"`
	Region       string `yaml:"region"`
}

type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required"`
	Path      string `yaml:"path" validate:"startswith=/"`
}

type Tracing struct {
	Enabled bool `yaml:"enabled"`
}

var validate = validator.New()

// Validate checks field rules and the cross-field requirements of the
// selected journal store and event publisher.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Journal.Store {
	case "sql":
		if c.Journal.SQL.Driver == "" || c.Journal.SQL.DSN == "" {
			return fmt.Errorf("journal.sql.driver and journal.sql.dsn are required for the sql store")
		}
	case "dynamodb":
		if c.Journal.DynamoDB.Table == "" {
			return fmt.Errorf("journal.dynamodb.table is required for the dynamodb store")
		}
	}
	if c.Events.Enabled && c.Events.EventBusName == "" {
		return fmt.Errorf("events.event_bus_name is required when events are enabled")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// DomainConfig converts the file settings into engine rules.
func (c *Config) DomainConfig() *domainconfig.DomainConfig {
	return &domainconfig.DomainConfig{
		MaxHistoryDepth:        c.History.MaxDepth,
		DefaultOperatorWidth:   c.Domain.DefaultOperatorWidth,
		DuplicateOffset:        valueobjects.NewPosition(c.Domain.DuplicateOffsetX, c.Domain.DuplicateOffsetY),
		InsertSpacing:          c.Domain.InsertSpacing,
		AllowGenericCoercion:   c.Domain.AllowGenericCoercion,
		AnimationReferenceTime: c.Domain.AnimationReferenceTime,
	}
}
