package commands

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

const (
	typeSetValue                    = "SetValue"
	typeResetInputToDefault         = "ResetInputToDefault"
	typeSetInputAsDefault           = "SetInputAsDefault"
	typeSetInputAsAndResetToDefault = "SetInputAsAndResetToDefault"
	typeSetValueGroup               = "SetValueGroup"
	typeResetInputGroup             = "ResetInputGroup"
)

func resolveInput(r *aggregates.Registry, s Scope, instID, inputID uuid.UUID) (*entities.Instance, *entities.Definition, *entities.InputDefinition, error) {
	inst, def, err := r.InstanceDefinition(s, instID)
	if err != nil {
		return nil, nil, nil, err
	}
	in, _ := def.Input(inputID)
	if in == nil {
		return nil, nil, nil, pkgerrors.NewNotFoundError(fmt.Sprintf("input %s of %s", inputID, def.Name))
	}
	return inst, def, in, nil
}

func checkValueKind(in *entities.InputDefinition, v valueobjects.Value) error {
	if err := v.Validate(); err != nil {
		return pkgerrors.NewValidationError(err.Error())
	}
	if v.Kind != in.Type && in.Type != valueobjects.KindGeneric && in.Type != valueobjects.KindDynamic {
		return pkgerrors.NewValidationErrorf("input %q takes %s, not %s", in.Name, in.Type, v.Kind)
	}
	return nil
}

// SetValue overrides an input on one instance. Previous is nil when the input
// was tracking its definition default.
type SetValue struct {
	Scope    Scope               `json:"scope"`
	Instance uuid.UUID           `json:"instance"`
	Input    uuid.UUID           `json:"input"`
	Value    valueobjects.Value  `json:"value"`
	Previous *valueobjects.Value `json:"previous,omitempty"`
}

// NewSetValue captures whether the input currently tracks its default.
func NewSetValue(r *aggregates.Registry, s Scope, instID, inputID uuid.UUID, v valueobjects.Value) (*SetValue, error) {
	inst, _, in, err := resolveInput(r, s, instID, inputID)
	if err != nil {
		return nil, err
	}
	if err := checkValueKind(in, v); err != nil {
		return nil, err
	}
	cmd := &SetValue{Scope: s, Instance: instID, Input: inputID, Value: v}
	if prev, ok := inst.Override(inputID); ok {
		cmd.Previous = &prev
	}
	return cmd, nil
}

func (c *SetValue) Name() string        { return "Set Value" }
func (c *SetValue) CommandType() string { return typeSetValue }
func (c *SetValue) IsUndoable() bool    { return true }

func (c *SetValue) Do(r *aggregates.Registry) error {
	inst, err := r.Instance(c.Scope, c.Instance)
	if err != nil {
		return wrapDo(c, err)
	}
	inst.SetOverride(c.Input, c.Value)
	r.MarkChanged()
	return nil
}

func (c *SetValue) Undo(r *aggregates.Registry) error {
	inst, err := r.Instance(c.Scope, c.Instance)
	if err != nil {
		return wrapDo(c, err)
	}
	if c.Previous == nil {
		inst.ClearOverride(c.Input)
	} else {
		inst.SetOverride(c.Input, *c.Previous)
	}
	r.MarkChanged()
	return nil
}

// ResetInputToDefault drops an instance override so the input tracks the definition default.
type ResetInputToDefault struct {
	Scope    Scope               `json:"scope"`
	Instance uuid.UUID           `json:"instance"`
	Input    uuid.UUID           `json:"input"`
	Previous *valueobjects.Value `json:"previous,omitempty"`
}

// NewResetInputToDefault captures the current override, if any.
func NewResetInputToDefault(r *aggregates.Registry, s Scope, instID, inputID uuid.UUID) (*ResetInputToDefault, error) {
	inst, _, _, err := resolveInput(r, s, instID, inputID)
	if err != nil {
		return nil, err
	}
	cmd := &ResetInputToDefault{Scope: s, Instance: instID, Input: inputID}
	if prev, ok := inst.Override(inputID); ok {
		cmd.Previous = &prev
	}
	return cmd, nil
}

func (c *ResetInputToDefault) Name() string        { return "Reset Input To Default" }
func (c *ResetInputToDefault) CommandType() string { return typeResetInputToDefault }
func (c *ResetInputToDefault) IsUndoable() bool    { return true }

func (c *ResetInputToDefault) Do(r *aggregates.Registry) error {
	inst, err := r.Instance(c.Scope, c.Instance)
	if err != nil {
		return wrapDo(c, err)
	}
	inst.ClearOverride(c.Input)
	r.MarkChanged()
	return nil
}

func (c *ResetInputToDefault) Undo(r *aggregates.Registry) error {
	inst, err := r.Instance(c.Scope, c.Instance)
	if err != nil {
		return wrapDo(c, err)
	}
	if c.Previous != nil {
		inst.SetOverride(c.Input, *c.Previous)
	}
	r.MarkChanged()
	return nil
}

// SetInputAsDefault makes an instance's current value the definition default,
// shared by every instance tracking it.
type SetInputAsDefault struct {
	Definition uuid.UUID          `json:"definition"`
	Input      uuid.UUID          `json:"input"`
	Value      valueobjects.Value `json:"value"`
	Previous   valueobjects.Value `json:"previous"`
}

// NewSetInputAsDefault reads the instance's current value of the input.
func NewSetInputAsDefault(r *aggregates.Registry, s Scope, instID, inputID uuid.UUID) (*SetInputAsDefault, error) {
	inst, def, in, err := resolveInput(r, s, instID, inputID)
	if err != nil {
		return nil, err
	}
	value := in.Default
	if v, ok := inst.Override(inputID); ok {
		value = v
	}
	return &SetInputAsDefault{Definition: def.ID, Input: inputID, Value: value, Previous: in.Default}, nil
}

func (c *SetInputAsDefault) Name() string        { return "Set Input As Default" }
func (c *SetInputAsDefault) CommandType() string { return typeSetInputAsDefault }
func (c *SetInputAsDefault) IsUndoable() bool    { return true }

func (c *SetInputAsDefault) setDefault(r *aggregates.Registry, v valueobjects.Value) error {
	def, err := r.Definition(c.Definition)
	if err != nil {
		return wrapDo(c, err)
	}
	in, _ := def.Input(c.Input)
	if in == nil {
		return wrapDo(c, pkgerrors.NewNotFoundError(fmt.Sprintf("input %s of %s", c.Input, def.Name)))
	}
	in.Default = v
	r.MarkChanged()
	return nil
}

func (c *SetInputAsDefault) Do(r *aggregates.Registry) error   { return c.setDefault(r, c.Value) }
func (c *SetInputAsDefault) Undo(r *aggregates.Registry) error { return c.setDefault(r, c.Previous) }

// NewSetInputAsAndResetToDefault promotes the instance value to the default
// and lets the instance track it.
func NewSetInputAsAndResetToDefault(r *aggregates.Registry, s Scope, instID, inputID uuid.UUID) (*Macro, error) {
	set, err := NewSetInputAsDefault(r, s, instID, inputID)
	if err != nil {
		return nil, err
	}
	reset, err := NewResetInputToDefault(r, s, instID, inputID)
	if err != nil {
		return nil, err
	}
	return newMacro(typeSetInputAsAndResetToDefault, "Set As Default", set, reset), nil
}

// ValueEntry is one input and the float value to give it.
type ValueEntry struct {
	InputRef
	Value float64 `json:"value"`
}

// NewSetValueGroup sets several float inputs at once. Animated inputs get a
// keyframe at t instead of an override.
func NewSetValueGroup(r *aggregates.Registry, s Scope, entries []ValueEntry, t float64) (*Macro, error) {
	if len(entries) == 0 {
		return nil, pkgerrors.NewValidationError("no values to set")
	}
	macro := newMacro(typeSetValueGroup, "Set Value Group")
	for _, e := range entries {
		var cmd Command
		var err error
		if r.IsAnimated(s, e.Instance, e.Input) {
			cmd, err = NewAddOrUpdateKeyframeForInput(r, s, e.Instance, e.Input, t, e.Value)
		} else {
			cmd, err = NewSetValue(r, s, e.Instance, e.Input, valueobjects.Float(e.Value))
		}
		if err != nil {
			return nil, err
		}
		macro.Append(cmd)
	}
	return macro, nil
}

// UpdateFloatAt changes the value of one entry of a value group before it is
// committed, as done while dragging.
func UpdateFloatAt(group *Macro, index int, v float64) error {
	if index < 0 || index >= len(group.Children) {
		return pkgerrors.NewValidationErrorf("value group has no entry %d", index)
	}
	switch c := group.Children[index].(type) {
	case *AddOrUpdateKeyframe:
		c.SetValue(v)
	case *SetValue:
		c.Value = valueobjects.Float(v)
	default:
		return pkgerrors.NewValidationErrorf("entry %d is a %s", index, c.CommandType())
	}
	return nil
}

// NewResetInputGroup resets inputs to their defaults. Animated inputs lose
// their animation first; inputs fed by other operators are left alone.
func NewResetInputGroup(r *aggregates.Registry, s Scope, inputs []InputRef) (*Macro, error) {
	table, err := r.Connections(s)
	if err != nil {
		return nil, err
	}
	macro := newMacro(typeResetInputGroup, "Reset Parameter Group")
	for _, ref := range inputs {
		animated := r.IsAnimated(s, ref.Instance, ref.Input)
		if !animated && table.Count(entities.PortRef{Op: ref.Instance, Port: ref.Input}) > 0 {
			continue
		}
		if animated {
			// the reset below overrides whatever static value the collapse leaves
			remove, err := NewRemoveAnimation(r, s, ref.Instance, ref.Input, valueobjects.Float(0))
			if err != nil {
				return nil, err
			}
			macro.Append(remove)
		}
		reset, err := NewResetInputToDefault(r, s, ref.Instance, ref.Input)
		if err != nil {
			return nil, err
		}
		macro.Append(reset)
	}
	return macro, nil
}
