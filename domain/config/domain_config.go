package config

import (
	"fmt"

	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
)

// DomainConfig holds the engine rules that are not part of the graph itself.
type DomainConfig struct {
	// History
	MaxHistoryDepth int

	// Placement of new operators
	DefaultOperatorWidth float64
	DuplicateOffset      valueobjects.Position
	InsertSpacing        float64

	// Connection rules
	AllowGenericCoercion bool

	// Reference time used when an animation collapses back to a static value
	AnimationReferenceTime float64
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxHistoryDepth: 100,

		DefaultOperatorWidth: 75,
		DuplicateOffset:      valueobjects.NewPosition(100, 100),
		InsertSpacing:        25,

		AllowGenericCoercion: true,

		AnimationReferenceTime: 0,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	config.MaxHistoryDepth = 500
	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	// unbounded, handy when replaying long journals
	config.MaxHistoryDepth = 0
	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.MaxHistoryDepth < 0 {
		return fmt.Errorf("max history depth cannot be negative: %d", c.MaxHistoryDepth)
	}
	if c.DefaultOperatorWidth <= 0 {
		return fmt.Errorf("default operator width must be positive: %v", c.DefaultOperatorWidth)
	}
	return nil
}
