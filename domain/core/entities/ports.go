package entities

import (
	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
)

// Numeric defaults for new inputs.
const (
	DefaultInputMin   = -100000.0
	DefaultInputMax   = 100000.0
	DefaultInputScale = 0.1
)

// InputDefinition describes an input port. Its ID survives renames.
type InputDefinition struct {
	ID          uuid.UUID              `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Type        valueobjects.ValueKind `json:"type" yaml:"type"`
	Default     valueobjects.Value     `json:"default" yaml:"default"`
	MultiInput  bool                   `json:"multiInput" yaml:"multiInput"`
	Relevance   valueobjects.Relevance `json:"relevance" yaml:"relevance"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Min         float64                `json:"min" yaml:"min"`
	Max         float64                `json:"max" yaml:"max"`
	Scale       float64                `json:"scale" yaml:"scale"`
	Scaling     valueobjects.Scaling   `json:"scaling" yaml:"scaling"`
	EnumValues  []string               `json:"enumValues,omitempty" yaml:"enumValues,omitempty"`
}

// NewInputDefinition creates an input with the standard numeric metadata.
func NewInputDefinition(name string, typ valueobjects.ValueKind, def valueobjects.Value) InputDefinition {
	return InputDefinition{
		ID:        uuid.New(),
		Name:      name,
		Type:      typ,
		Default:   def,
		Relevance: valueobjects.RelevanceOptional,
		Min:       DefaultInputMin,
		Max:       DefaultInputMax,
		Scale:     DefaultInputScale,
		Scaling:   valueobjects.ScalingLinear,
	}
}

// Clone returns a deep copy.
func (d InputDefinition) Clone() InputDefinition {
	if len(d.EnumValues) > 0 {
		d.EnumValues = append([]string(nil), d.EnumValues...)
	} else {
		d.EnumValues = nil
	}
	return d
}

// OutputDefinition describes an output port.
type OutputDefinition struct {
	ID   uuid.UUID              `json:"id" yaml:"id"`
	Name string                 `json:"name" yaml:"name"`
	Type valueobjects.ValueKind `json:"type" yaml:"type"`
}

// NewOutputDefinition creates an output port.
func NewOutputDefinition(name string, typ valueobjects.ValueKind) OutputDefinition {
	return OutputDefinition{ID: uuid.New(), Name: name, Type: typ}
}
