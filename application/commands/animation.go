package commands

import (
	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	"github.com/framefield/tooll-sub003/domain/curve"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

const (
	typeSetupAnimation  = "SetupAnimation"
	typeRemoveAnimation = "RemoveAnimation"
)

// animationOpOffset places the hidden animation operators next to their target.
var animationOpOffset = valueobjects.Position{X: -100, Y: 0}

// InputRef addresses an input of an instance.
type InputRef struct {
	Instance uuid.UUID `json:"instance" validate:"required"`
	Input    uuid.UUID `json:"input" validate:"required"`
}

// NewSetupAnimation animates float inputs: each gets a hidden curve operator
// fed by a hidden time operator and a first key holding the input's value at t.
func NewSetupAnimation(r *aggregates.Registry, s Scope, inputs []InputRef, t float64) (*Macro, error) {
	if len(inputs) == 0 {
		return nil, pkgerrors.NewValidationError("no inputs to animate")
	}
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	width := r.Rules().DefaultOperatorWidth
	macro := newMacro(typeSetupAnimation, "Setup Animation")
	for _, ref := range inputs {
		inst, def, err := r.InstanceDefinition(s, ref.Instance)
		if err != nil {
			return nil, err
		}
		in, _ := def.Input(ref.Input)
		if in == nil {
			return nil, pkgerrors.NewValidationErrorf("%s has no input %s", def.Name, ref.Input)
		}
		if in.Type != valueobjects.KindFloat {
			return nil, pkgerrors.NewValidationErrorf("input %q of type %s cannot be animated", in.Name, in.Type)
		}
		if comp.Connections.Count(entities.PortRef{Op: ref.Instance, Port: ref.Input}) > 0 {
			return nil, pkgerrors.NewValidationErrorf("input %q is connected", in.Name)
		}
		current, err := r.InputValue(s, ref.Instance, ref.Input, t)
		if err != nil {
			return nil, err
		}

		set, err := NewSetValue(r, s, ref.Instance, ref.Input, current)
		if err != nil {
			return nil, err
		}
		addCurve := addOperator(s, aggregates.CurveDefinitionID, inst.Position.Add(animationOpOffset), width)
		addCurve.Instance.Visible = false
		addTime := addOperator(s, aggregates.CurrentTimeDefinitionID, inst.Position.Add(animationOpOffset).Add(animationOpOffset), width)
		addTime.Instance.Visible = false

		macro.Append(
			set,
			addCurve,
			addTime,
			insertConnection(s, entities.NewConnection(addTime.Instance.ID, aggregates.CurrentTimeOutputID, addCurve.Instance.ID, aggregates.CurveTimeInputID), 0),
			insertConnection(s, entities.NewConnection(addCurve.Instance.ID, aggregates.CurveValueOutputID, ref.Instance, ref.Input), 0),
			&AddOrUpdateKeyframe{Scope: s, CurveOp: addCurve.Instance.ID, Time: t, Key: curve.NewKeyframe(current.Float)},
		)
	}
	return macro, nil
}

// NewRemoveAnimation deletes the curve and time operators driving an input
// and leaves lastValue as the input's static value.
func NewRemoveAnimation(r *aggregates.Registry, s Scope, instID, inputID uuid.UUID, lastValue valueobjects.Value) (*Macro, error) {
	anim, ok, err := r.Animation(s, instID, inputID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.NewValidationErrorf("input %s of %s is not animated", inputID, instID)
	}
	ops := []uuid.UUID{anim.CurveOp}
	if anim.TimeOp != uuid.Nil {
		ops = append(ops, anim.TimeOp)
	}
	del, err := NewDeleteOperators(r, s, ops)
	if err != nil {
		return nil, err
	}
	set, err := NewSetValue(r, s, instID, inputID, lastValue)
	if err != nil {
		return nil, err
	}
	return newMacro(typeRemoveAnimation, "Remove Animation", del, set), nil
}
