package commands

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

const (
	typeAddInput             = "AddInput"
	typeRemoveInput          = "RemoveInput"
	typeReorderInputs        = "ReorderInputs"
	typeUpdateInputParameter = "UpdateInputParameter"
	typePublishAsInput       = "PublishAsInput"
)

func editableDefinition(r *aggregates.Registry, defID uuid.UUID) (*entities.Definition, error) {
	if aggregates.IsBuiltin(defID) {
		return nil, pkgerrors.NewValidationError("built-in definitions cannot be edited")
	}
	return r.Definition(defID)
}

func findInput(def *entities.Definition, inputID uuid.UUID) (*entities.InputDefinition, int, error) {
	in, idx := def.Input(inputID)
	if in == nil {
		return nil, -1, pkgerrors.NewNotFoundError(fmt.Sprintf("input %s of %s", inputID, def.Name))
	}
	return in, idx, nil
}

// AddInput inserts an input port into a definition.
type AddInput struct {
	Definition uuid.UUID                `json:"definition"`
	Input      entities.InputDefinition `json:"input"`
	Index      int                      `json:"index"`
}

// NewAddInput appends an input named name with default value def.
func NewAddInput(r *aggregates.Registry, defID uuid.UUID, name string, typ valueobjects.ValueKind, def valueobjects.Value) (*AddInput, error) {
	d, err := editableDefinition(r, defID)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.NewValidationError("input name is required")
	}
	if existing, _ := d.InputByName(name); existing != nil {
		return nil, pkgerrors.NewValidationErrorf("%s already has an input named %q", d.Name, name)
	}
	if !typ.IsValid() {
		return nil, pkgerrors.NewValidationErrorf("unknown value type %q", typ)
	}
	in := entities.NewInputDefinition(name, typ, def)
	if err := checkValueKind(&in, def); err != nil {
		return nil, err
	}
	return &AddInput{Definition: defID, Input: in, Index: len(d.Inputs)}, nil
}

func (c *AddInput) Name() string        { return "Add Input" }
func (c *AddInput) CommandType() string { return typeAddInput }
func (c *AddInput) IsUndoable() bool    { return true }

func (c *AddInput) Do(r *aggregates.Registry) error {
	def, err := r.Definition(c.Definition)
	if err != nil {
		return wrapDo(c, err)
	}
	if err := def.InsertInput(c.Input.Clone(), c.Index); err != nil {
		return wrapDo(c, err)
	}
	r.MarkChanged()
	return nil
}

func (c *AddInput) Undo(r *aggregates.Registry) error {
	def, err := r.Definition(c.Definition)
	if err != nil {
		return wrapDo(c, err)
	}
	if _, _, err := def.RemoveInput(c.Input.ID); err != nil {
		return wrapDo(c, err)
	}
	r.MarkChanged()
	return nil
}

// scopedConnections are connections taken out of one composition.
type scopedConnections struct {
	Composition uuid.UUID                    `json:"composition"`
	Connections []entities.IndexedConnection `json:"connections"`
}

type inputOverride struct {
	Composition uuid.UUID          `json:"composition"`
	Instance    uuid.UUID          `json:"instance"`
	Value       valueobjects.Value `json:"value"`
}

// RemoveInput deletes an input port. Everything depending on it is captured
// when Do runs: connections feeding it in every composition that uses the
// definition, connections reading it inside the definition and per-instance
// overrides.
type RemoveInput struct {
	Definition uuid.UUID                `json:"definition"`
	InputID    uuid.UUID                `json:"inputId"`
	Input      entities.InputDefinition `json:"input"`
	Index      int                      `json:"index"`
	Links      []scopedConnections      `json:"links,omitempty"`
	Overrides  []inputOverride          `json:"overrides,omitempty"`
}

// NewRemoveInput checks that the input exists.
func NewRemoveInput(r *aggregates.Registry, defID, inputID uuid.UUID) (*RemoveInput, error) {
	def, err := editableDefinition(r, defID)
	if err != nil {
		return nil, err
	}
	if _, _, err := findInput(def, inputID); err != nil {
		return nil, err
	}
	return &RemoveInput{Definition: defID, InputID: inputID}, nil
}

func (c *RemoveInput) Name() string        { return "Remove Input" }
func (c *RemoveInput) CommandType() string { return typeRemoveInput }
func (c *RemoveInput) IsUndoable() bool    { return true }

func (c *RemoveInput) Do(r *aggregates.Registry) error {
	def, err := r.Definition(c.Definition)
	if err != nil {
		return wrapDo(c, err)
	}
	if _, _, err := findInput(def, c.InputID); err != nil {
		return wrapDo(c, err)
	}
	c.Links, c.Overrides = nil, nil

	inner := def.Connections.From(entities.PortRef{Op: valueobjects.Self, Port: c.InputID})
	if len(inner) > 0 {
		c.Links = append(c.Links, scopedConnections{Composition: def.ID, Connections: inner})
	}
	for _, comp := range r.Definitions() {
		var feeding []entities.IndexedConnection
		for _, childID := range comp.ChildIDs() {
			child := comp.Children[childID]
			if child.DefinitionID != c.Definition {
				continue
			}
			target := entities.PortRef{Op: child.ID, Port: c.InputID}
			for i, conn := range comp.Connections.Siblings(target) {
				feeding = append(feeding, entities.IndexedConnection{Connection: conn, Index: i})
			}
			if v, ok := child.Override(c.InputID); ok {
				c.Overrides = append(c.Overrides, inputOverride{Composition: comp.ID, Instance: child.ID, Value: v})
			}
		}
		if len(feeding) > 0 {
			c.Links = append(c.Links, scopedConnections{Composition: comp.ID, Connections: feeding})
		}
	}

	var steps []step
	for _, link := range c.Links {
		steps = append(steps, detachStep(r, Scope{Composition: link.Composition}, link.Connections))
	}
	for _, o := range c.Overrides {
		var inst *entities.Instance
		steps = append(steps, step{
			do: func() (err error) {
				if inst, err = r.Instance(Scope{Composition: o.Composition}, o.Instance); err == nil {
					inst.ClearOverride(c.InputID)
				}
				return err
			},
			undo: func() error {
				inst.SetOverride(c.InputID, o.Value)
				return nil
			},
		})
	}
	steps = append(steps, step{
		do: func() error {
			removed, idx, err := def.RemoveInput(c.InputID)
			if err == nil {
				c.Input, c.Index = removed.Clone(), idx
			}
			return err
		},
		undo: func() error { return def.InsertInput(c.Input.Clone(), c.Index) },
	})
	if err := runSteps(c, steps...); err != nil {
		return err
	}
	r.MarkChanged()
	return nil
}

func (c *RemoveInput) Undo(r *aggregates.Registry) error {
	def, err := r.Definition(c.Definition)
	if err != nil {
		return wrapDo(c, err)
	}
	if err := def.InsertInput(c.Input.Clone(), c.Index); err != nil {
		return wrapDo(c, err)
	}
	for _, o := range c.Overrides {
		inst, err := r.Instance(Scope{Composition: o.Composition}, o.Instance)
		if err != nil {
			return wrapDo(c, err)
		}
		inst.SetOverride(c.InputID, o.Value)
	}
	for _, link := range c.Links {
		if err := r.RestoreConnections(Scope{Composition: link.Composition}, link.Connections); err != nil {
			return wrapDo(c, err)
		}
	}
	r.MarkChanged()
	return nil
}

// ReorderInputs changes the declaration order of a definition's inputs.
type ReorderInputs struct {
	Definition uuid.UUID   `json:"definition"`
	Order      []uuid.UUID `json:"order"`
	Previous   []uuid.UUID `json:"previous"`
}

// NewReorderInputs requires order to be a permutation of the current inputs.
func NewReorderInputs(r *aggregates.Registry, defID uuid.UUID, order []uuid.UUID) (*ReorderInputs, error) {
	def, err := editableDefinition(r, defID)
	if err != nil {
		return nil, err
	}
	trial := def.Clone()
	if err := trial.ReorderInputs(order); err != nil {
		return nil, err
	}
	return &ReorderInputs{
		Definition: defID,
		Order:      append([]uuid.UUID(nil), order...),
		Previous:   def.InputIDs(),
	}, nil
}

func (c *ReorderInputs) Name() string        { return "Reorder Inputs" }
func (c *ReorderInputs) CommandType() string { return typeReorderInputs }
func (c *ReorderInputs) IsUndoable() bool    { return true }

func (c *ReorderInputs) apply(r *aggregates.Registry, order []uuid.UUID) error {
	def, err := r.Definition(c.Definition)
	if err != nil {
		return wrapDo(c, err)
	}
	if err := def.ReorderInputs(order); err != nil {
		return wrapDo(c, err)
	}
	r.MarkChanged()
	return nil
}

func (c *ReorderInputs) Do(r *aggregates.Registry) error   { return c.apply(r, c.Order) }
func (c *ReorderInputs) Undo(r *aggregates.Registry) error { return c.apply(r, c.Previous) }

// InputParameters are the editable presentation fields of an input. Type and
// multiplicity are fixed once an input exists.
type InputParameters struct {
	Name        string                 `json:"name" validate:"required"`
	Description string                 `json:"description,omitempty"`
	Relevance   valueobjects.Relevance `json:"relevance"`
	Min         float64                `json:"min"`
	Max         float64                `json:"max"`
	Scale       float64                `json:"scale"`
	Scaling     valueobjects.Scaling   `json:"scaling"`
	EnumValues  []string               `json:"enumValues,omitempty"`
}

// ParametersOf reads the editable fields of an input.
func ParametersOf(in entities.InputDefinition) InputParameters {
	in = in.Clone()
	return InputParameters{
		Name:        in.Name,
		Description: in.Description,
		Relevance:   in.Relevance,
		Min:         in.Min,
		Max:         in.Max,
		Scale:       in.Scale,
		Scaling:     in.Scaling,
		EnumValues:  in.EnumValues,
	}
}

func (p InputParameters) applyTo(in *entities.InputDefinition) {
	in.Name = p.Name
	in.Description = p.Description
	in.Relevance = p.Relevance
	in.Min, in.Max, in.Scale = p.Min, p.Max, p.Scale
	in.Scaling = p.Scaling
	in.EnumValues = append([]string(nil), p.EnumValues...)
	if len(in.EnumValues) == 0 {
		in.EnumValues = nil
	}
}

// UpdateInputParameter edits the name and presentation metadata of an input.
type UpdateInputParameter struct {
	Definition uuid.UUID       `json:"definition"`
	Input      uuid.UUID       `json:"input"`
	Next       InputParameters `json:"next"`
	Previous   InputParameters `json:"previous"`
}

// NewUpdateInputParameter validates the new parameters against the definition.
func NewUpdateInputParameter(r *aggregates.Registry, defID, inputID uuid.UUID, next InputParameters) (*UpdateInputParameter, error) {
	def, err := editableDefinition(r, defID)
	if err != nil {
		return nil, err
	}
	in, _, err := findInput(def, inputID)
	if err != nil {
		return nil, err
	}
	next.Name = strings.TrimSpace(next.Name)
	if next.Name == "" {
		return nil, pkgerrors.NewValidationError("input name is required")
	}
	if other, _ := def.InputByName(next.Name); other != nil && other.ID != inputID {
		return nil, pkgerrors.NewValidationErrorf("%s already has an input named %q", def.Name, next.Name)
	}
	if !next.Relevance.IsValid() || !next.Scaling.IsValid() {
		return nil, pkgerrors.NewValidationErrorf("invalid relevance %q or scaling %q", next.Relevance, next.Scaling)
	}
	if next.Min > next.Max {
		return nil, pkgerrors.NewValidationErrorf("min %v exceeds max %v", next.Min, next.Max)
	}
	return &UpdateInputParameter{Definition: defID, Input: inputID, Next: next, Previous: ParametersOf(*in)}, nil
}

func (c *UpdateInputParameter) Name() string        { return "Update Input Parameter" }
func (c *UpdateInputParameter) CommandType() string { return typeUpdateInputParameter }
func (c *UpdateInputParameter) IsUndoable() bool    { return true }

func (c *UpdateInputParameter) apply(r *aggregates.Registry, p InputParameters) error {
	def, err := r.Definition(c.Definition)
	if err != nil {
		return wrapDo(c, err)
	}
	in, _, err := findInput(def, c.Input)
	if err != nil {
		return wrapDo(c, err)
	}
	p.applyTo(in)
	r.MarkChanged()
	return nil
}

func (c *UpdateInputParameter) Do(r *aggregates.Registry) error   { return c.apply(r, c.Next) }
func (c *UpdateInputParameter) Undo(r *aggregates.Registry) error { return c.apply(r, c.Previous) }

// NewPublishAsInput exposes a child's input on the composition: a new input
// named name is added to the scoped definition with the child's current value
// as default, then wired to the child's input.
func NewPublishAsInput(r *aggregates.Registry, s Scope, instID, inputID uuid.UUID, name string) (*Macro, error) {
	inst, _, childInput, err := resolveInput(r, s, instID, inputID)
	if err != nil {
		return nil, err
	}
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	if !childInput.MultiInput && comp.Connections.Count(entities.PortRef{Op: instID, Port: inputID}) > 0 {
		return nil, pkgerrors.NewValidationErrorf("input %q is already connected", childInput.Name)
	}
	current := childInput.Default
	if v, ok := inst.Override(inputID); ok {
		current = v
	}
	add, err := NewAddInput(r, comp.ID, name, childInput.Type, current)
	if err != nil {
		return nil, err
	}
	published := childInput.Clone()
	published.ID = add.Input.ID
	published.Name = add.Input.Name
	published.Default = current
	published.MultiInput = false
	add.Input = published

	conn := entities.NewConnection(valueobjects.Self, published.ID, instID, inputID)
	return newMacro(typePublishAsInput, "Publish As Input", add, insertConnection(s, conn, 0)), nil
}
