package valueobjects

import (
	"fmt"

	"github.com/google/uuid"
)

// Self is the operator id used by connections that start or end at the
// composition's own ports.
var Self = uuid.Nil

// NewID creates a new random identifier.
func NewID() uuid.UUID {
	return uuid.New()
}

// ParseID parses a non-empty identifier.
func ParseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("identifier cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("identifier must be a valid UUID: %w", err)
	}
	return id, nil
}

// Relevance tiers the importance of an input for authoring UIs.
type Relevance string

const (
	RelevanceRequired Relevance = "required"
	RelevanceRelevant Relevance = "relevant"
	RelevanceOptional Relevance = "optional"
)

// IsValid reports whether r is a known tier.
func (r Relevance) IsValid() bool {
	switch r {
	case RelevanceRequired, RelevanceRelevant, RelevanceOptional:
		return true
	}
	return false
}

// Scaling is the mapping used when dragging a numeric input.
type Scaling string

const (
	ScalingLinear      Scaling = "linear"
	ScalingQuadratic   Scaling = "quadratic"
	ScalingLogarithmic Scaling = "logarithmic"
)

// IsValid reports whether s is a known scaling.
func (s Scaling) IsValid() bool {
	switch s {
	case ScalingLinear, ScalingQuadratic, ScalingLogarithmic:
		return true
	}
	return false
}
