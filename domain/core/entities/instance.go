package entities

import (
	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	"github.com/framefield/tooll-sub003/domain/curve"
)

// Instance places a definition inside a composition. It refers to its
// definition by ID only.
type Instance struct {
	ID           uuid.UUID                        `json:"id"`
	DefinitionID uuid.UUID                        `json:"definitionId"`
	Name         string                           `json:"name,omitempty"`
	Position     valueobjects.Position            `json:"position"`
	Width        float64                          `json:"width"`
	Visible      bool                             `json:"visible"`
	Disabled     bool                             `json:"disabled"`
	Values       map[uuid.UUID]valueobjects.Value `json:"values"`
	Curves       map[uuid.UUID]*curve.Curve       `json:"curves"`
}

// NewInstance creates a visible instance with a fresh ID.
func NewInstance(definitionID uuid.UUID, position valueobjects.Position, width float64) *Instance {
	return &Instance{
		ID:           uuid.New(),
		DefinitionID: definitionID,
		Position:     position,
		Width:        width,
		Visible:      true,
		Values:       make(map[uuid.UUID]valueobjects.Value),
		Curves:       make(map[uuid.UUID]*curve.Curve),
	}
}

// Override returns the instance-local value of an input, if any.
func (i *Instance) Override(inputID uuid.UUID) (valueobjects.Value, bool) {
	v, ok := i.Values[inputID]
	return v, ok
}

// SetOverride stores an instance-local value.
func (i *Instance) SetOverride(inputID uuid.UUID, v valueobjects.Value) {
	if i.Values == nil {
		i.Values = make(map[uuid.UUID]valueobjects.Value)
	}
	i.Values[inputID] = v
}

// ClearOverride makes the input track its definition default again.
func (i *Instance) ClearOverride(inputID uuid.UUID) {
	delete(i.Values, inputID)
}

// Clone returns a deep copy with normalized maps.
func (i *Instance) Clone() *Instance {
	c := *i
	c.Values = make(map[uuid.UUID]valueobjects.Value, len(i.Values))
	for k, v := range i.Values {
		c.Values[k] = v
	}
	c.Curves = make(map[uuid.UUID]*curve.Curve, len(i.Curves))
	for k, v := range i.Curves {
		c.Curves[k] = v.Clone()
	}
	return &c
}
