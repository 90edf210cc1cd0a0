package entities

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// Definition is an operator template: ordered ports plus a composition of
// child instances and the connections between them.
type Definition struct {
	ID          uuid.UUID               `json:"id"`
	Name        string                  `json:"name"`
	Namespace   string                  `json:"namespace"`
	Description string                  `json:"description,omitempty"`
	Inputs      []InputDefinition       `json:"inputs"`
	Outputs     []OutputDefinition      `json:"outputs"`
	Children    map[uuid.UUID]*Instance `json:"children"`
	Connections *ConnectionTable        `json:"connections"`
}

// NewDefinition creates an empty definition.
func NewDefinition(id uuid.UUID, name, namespace string) (*Definition, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.NewValidationError("definition id cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		return nil, pkgerrors.NewValidationError("definition name cannot be empty")
	}
	return &Definition{
		ID:          id,
		Name:        name,
		Namespace:   namespace,
		Inputs:      []InputDefinition{},
		Outputs:     []OutputDefinition{},
		Children:    make(map[uuid.UUID]*Instance),
		Connections: NewConnectionTable(),
	}, nil
}

// QualifiedName returns namespace.name.
func (d *Definition) QualifiedName() string {
	if d.Namespace == "" {
		return d.Name
	}
	return d.Namespace + "." + d.Name
}

// IsBasic reports whether the definition has no composition.
func (d *Definition) IsBasic() bool {
	return len(d.Children) == 0
}

// Input returns the input with the given ID and its position.
func (d *Definition) Input(id uuid.UUID) (*InputDefinition, int) {
	for i := range d.Inputs {
		if d.Inputs[i].ID == id {
			return &d.Inputs[i], i
		}
	}
	return nil, -1
}

// InputByName returns the first input with the given name.
func (d *Definition) InputByName(name string) (*InputDefinition, int) {
	for i := range d.Inputs {
		if d.Inputs[i].Name == name {
			return &d.Inputs[i], i
		}
	}
	return nil, -1
}

// Output returns the output with the given ID and its position.
func (d *Definition) Output(id uuid.UUID) (*OutputDefinition, int) {
	for i := range d.Outputs {
		if d.Outputs[i].ID == id {
			return &d.Outputs[i], i
		}
	}
	return nil, -1
}

// InsertInput places an input at index.
func (d *Definition) InsertInput(in InputDefinition, index int) error {
	if existing, _ := d.Input(in.ID); existing != nil {
		return pkgerrors.NewConflictErrorf("input %s already exists on %s", in.ID, d.Name)
	}
	if index < 0 || index > len(d.Inputs) {
		return pkgerrors.NewConflictErrorf("input index %d out of range for %s", index, d.Name)
	}
	d.Inputs = append(d.Inputs, InputDefinition{})
	copy(d.Inputs[index+1:], d.Inputs[index:])
	d.Inputs[index] = in
	return nil
}

// RemoveInput deletes an input and returns it with its former position.
func (d *Definition) RemoveInput(id uuid.UUID) (InputDefinition, int, error) {
	in, index := d.Input(id)
	if in == nil {
		return InputDefinition{}, -1, pkgerrors.NewNotFoundError(fmt.Sprintf("input %s on %s", id, d.Name))
	}
	removed := *in
	d.Inputs = append(d.Inputs[:index], d.Inputs[index+1:]...)
	return removed, index, nil
}

// InsertOutput places an output at index.
func (d *Definition) InsertOutput(out OutputDefinition, index int) error {
	if existing, _ := d.Output(out.ID); existing != nil {
		return pkgerrors.NewConflictErrorf("output %s already exists on %s", out.ID, d.Name)
	}
	if index < 0 || index > len(d.Outputs) {
		return pkgerrors.NewConflictErrorf("output index %d out of range for %s", index, d.Name)
	}
	d.Outputs = append(d.Outputs, OutputDefinition{})
	copy(d.Outputs[index+1:], d.Outputs[index:])
	d.Outputs[index] = out
	return nil
}

// RemoveOutput deletes an output and returns it with its former position.
func (d *Definition) RemoveOutput(id uuid.UUID) (OutputDefinition, int, error) {
	out, index := d.Output(id)
	if out == nil {
		return OutputDefinition{}, -1, pkgerrors.NewNotFoundError(fmt.Sprintf("output %s on %s", id, d.Name))
	}
	removed := *out
	d.Outputs = append(d.Outputs[:index], d.Outputs[index+1:]...)
	return removed, index, nil
}

// InputIDs returns the input IDs in declaration order.
func (d *Definition) InputIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(d.Inputs))
	for i, in := range d.Inputs {
		ids[i] = in.ID
	}
	return ids
}

// ReorderInputs rearranges the inputs to follow ids, which must be a permutation.
func (d *Definition) ReorderInputs(ids []uuid.UUID) error {
	if len(ids) != len(d.Inputs) {
		return pkgerrors.NewValidationErrorf("expected %d input ids, got %d", len(d.Inputs), len(ids))
	}
	reordered := make([]InputDefinition, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		in, _ := d.Input(id)
		if in == nil || seen[id] {
			return pkgerrors.NewValidationErrorf("input order must be a permutation, bad id %s", id)
		}
		seen[id] = true
		reordered = append(reordered, *in)
	}
	d.Inputs = reordered
	return nil
}

// ChildIDs returns the child instance IDs in a stable order.
func (d *Definition) ChildIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(d.Children))
	for id := range d.Children {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Clone returns a deep copy with normalized collections.
func (d *Definition) Clone() *Definition {
	c := *d
	c.Inputs = make([]InputDefinition, len(d.Inputs))
	for i, in := range d.Inputs {
		c.Inputs[i] = in.Clone()
	}
	c.Outputs = append(make([]OutputDefinition, 0, len(d.Outputs)), d.Outputs...)
	c.Children = make(map[uuid.UUID]*Instance, len(d.Children))
	for id, inst := range d.Children {
		c.Children[id] = inst.Clone()
	}
	if d.Connections == nil {
		c.Connections = NewConnectionTable()
	} else {
		c.Connections = d.Connections.Clone()
	}
	return &c
}
