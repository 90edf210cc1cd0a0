package aggregates

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	"github.com/framefield/tooll-sub003/domain/curve"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// Animation is the operator wiring that drives an animated input: a curve
// operator feeding the input and a time operator feeding the curve.
type Animation struct {
	CurveOp uuid.UUID
	TimeOp  uuid.UUID
	Curve   *curve.Curve
}

// Animation returns the animation wiring of an input, if the input is animated.
func (r *Registry) Animation(s Scope, instID, inputID uuid.UUID) (Animation, bool, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return Animation{}, false, err
	}
	if _, ok := comp.Children[instID]; !ok {
		return Animation{}, false, pkgerrors.NewNotFoundError(fmt.Sprintf("instance %s in %s", instID, comp.Name))
	}
	for _, c := range comp.Connections.Siblings(entities.PortRef{Op: instID, Port: inputID}) {
		src, ok := comp.Children[c.SourceOp]
		if !ok || src.DefinitionID != CurveDefinitionID {
			continue
		}
		anim := Animation{CurveOp: src.ID, Curve: src.Curves[CurveValueOutputID]}
		for _, tc := range comp.Connections.Siblings(entities.PortRef{Op: src.ID, Port: CurveTimeInputID}) {
			if t, ok := comp.Children[tc.SourceOp]; ok && t.DefinitionID == CurrentTimeDefinitionID {
				anim.TimeOp = t.ID
				break
			}
		}
		if anim.Curve == nil {
			return Animation{}, false, pkgerrors.NewInternalError(fmt.Sprintf("curve operator %s has no curve", src.ID))
		}
		return anim, true, nil
	}
	return Animation{}, false, nil
}

// IsAnimated reports whether an input is driven by a curve operator.
func (r *Registry) IsAnimated(s Scope, instID, inputID uuid.UUID) bool {
	_, ok, err := r.Animation(s, instID, inputID)
	return err == nil && ok
}

// AnimatedInputs returns the inputs of an instance driven by curve operators, in declaration order.
func (r *Registry) AnimatedInputs(s Scope, instID uuid.UUID) ([]uuid.UUID, error) {
	_, def, err := r.InstanceDefinition(s, instID)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, in := range def.Inputs {
		if r.IsAnimated(s, instID, in.ID) {
			out = append(out, in.ID)
		}
	}
	return out, nil
}

// Curve returns the curve held by a curve operator instance.
func (r *Registry) Curve(s Scope, curveOp uuid.UUID) (*curve.Curve, error) {
	inst, err := r.Instance(s, curveOp)
	if err != nil {
		return nil, err
	}
	c, ok := inst.Curves[CurveValueOutputID]
	if !ok || c == nil {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("curve on operator %s", curveOp))
	}
	return c, nil
}

// InputValue evaluates an input at time t: the curve sample when animated,
// the instance override when set and the definition default otherwise.
func (r *Registry) InputValue(s Scope, instID, inputID uuid.UUID, t float64) (valueobjects.Value, error) {
	inst, def, err := r.InstanceDefinition(s, instID)
	if err != nil {
		return valueobjects.Value{}, err
	}
	in, _ := def.Input(inputID)
	if in == nil {
		return valueobjects.Value{}, pkgerrors.NewNotFoundError(fmt.Sprintf("input %s of %s", inputID, def.Name))
	}
	anim, ok, err := r.Animation(s, instID, inputID)
	if err != nil {
		return valueobjects.Value{}, err
	}
	if ok {
		return valueobjects.Float(anim.Curve.Sample(t)), nil
	}
	if v, ok := inst.Override(inputID); ok {
		return v, nil
	}
	return in.Default, nil
}
