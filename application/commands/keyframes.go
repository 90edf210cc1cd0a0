package commands

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	"github.com/framefield/tooll-sub003/domain/curve"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

const (
	typeAddOrUpdateKeyframe = "AddOrUpdateKeyframe"
	typeMoveKeyframe        = "MoveKeyframe"
	typeRemoveKeyframes     = "RemoveKeyframes"
)

// KeyRef addresses one keyframe: the curve operator holding it and its time.
type KeyRef struct {
	CurveOp uuid.UUID `json:"curveOp"`
	Time    float64   `json:"time"`
}

// AddOrUpdateKeyframe stores a key at a time, remembering what was there.
type AddOrUpdateKeyframe struct {
	Scope    Scope           `json:"scope"`
	CurveOp  uuid.UUID       `json:"curveOp"`
	Time     float64         `json:"time"`
	Key      curve.Keyframe  `json:"key"`
	Previous *curve.Keyframe `json:"previous,omitempty"`
}

// NewAddOrUpdateKeyframe targets the curve of a curve operator.
func NewAddOrUpdateKeyframe(r *aggregates.Registry, s Scope, curveOp uuid.UUID, t float64, key curve.Keyframe) (*AddOrUpdateKeyframe, error) {
	if err := key.Validate(); err != nil {
		return nil, pkgerrors.NewValidationError(err.Error())
	}
	c, err := r.Curve(s, curveOp)
	if err != nil {
		return nil, err
	}
	cmd := &AddOrUpdateKeyframe{Scope: s, CurveOp: curveOp, Time: t, Key: key}
	if prev, ok := c.Key(t); ok {
		cmd.Previous = &prev
	}
	return cmd, nil
}

// NewAddOrUpdateKeyframeForInput keys an animated input. A new key copies the
// interpolation of the closest earlier key.
func NewAddOrUpdateKeyframeForInput(r *aggregates.Registry, s Scope, instID, inputID uuid.UUID, t, value float64) (*AddOrUpdateKeyframe, error) {
	anim, ok, err := r.Animation(s, instID, inputID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.NewValidationErrorf("input %s of %s is not animated", inputID, instID)
	}
	key := curve.NewKeyframe(value)
	if prevTime, ok := anim.Curve.PreviousTime(t); ok {
		prev, _ := anim.Curve.Key(prevTime)
		key = key.WithShapeOf(prev)
	}
	if existing, ok := anim.Curve.Key(t); ok {
		key = key.WithShapeOf(existing)
	}
	return NewAddOrUpdateKeyframe(r, s, anim.CurveOp, t, key)
}

// SetValue changes the keyed value, used while dragging before the command is committed.
func (c *AddOrUpdateKeyframe) SetValue(v float64) {
	c.Key.Value = v
}

func (c *AddOrUpdateKeyframe) Name() string        { return "Add Keyframe" }
func (c *AddOrUpdateKeyframe) CommandType() string { return typeAddOrUpdateKeyframe }
func (c *AddOrUpdateKeyframe) IsUndoable() bool    { return true }

func (c *AddOrUpdateKeyframe) Do(r *aggregates.Registry) error {
	crv, err := r.Curve(c.Scope, c.CurveOp)
	if err != nil {
		return wrapDo(c, err)
	}
	crv.AddOrUpdate(c.Time, c.Key)
	r.MarkChanged()
	return nil
}

func (c *AddOrUpdateKeyframe) Undo(r *aggregates.Registry) error {
	crv, err := r.Curve(c.Scope, c.CurveOp)
	if err != nil {
		return wrapDo(c, err)
	}
	if c.Previous != nil {
		crv.AddOrUpdate(c.Time, *c.Previous)
	} else {
		crv.Remove(c.Time)
	}
	r.MarkChanged()
	return nil
}

// MoveKeyframe moves a key along the time axis. A key already sitting at the
// destination is overwritten and restored on undo.
type MoveKeyframe struct {
	Scope       Scope           `json:"scope"`
	CurveOp     uuid.UUID       `json:"curveOp"`
	From        float64         `json:"from"`
	To          float64         `json:"to"`
	Overwritten *curve.Keyframe `json:"overwritten,omitempty"`
}

// NewMoveKeyframe requires a key at from.
func NewMoveKeyframe(r *aggregates.Registry, s Scope, curveOp uuid.UUID, from, to float64) (*MoveKeyframe, error) {
	c, err := r.Curve(s, curveOp)
	if err != nil {
		return nil, err
	}
	if !c.HasKeyAt(from) {
		return nil, pkgerrors.NewValidationErrorf("no keyframe at time %v", from)
	}
	cmd := &MoveKeyframe{Scope: s, CurveOp: curveOp, From: from, To: to}
	if to != from {
		if k, ok := c.Key(to); ok {
			cmd.Overwritten = &k
		}
	}
	return cmd, nil
}

// MoveTo continues an interactive drag that has already been applied up to
// c.To. The key previously overwritten is put back before the next one is
// captured.
func (c *MoveKeyframe) MoveTo(r *aggregates.Registry, t float64) error {
	if t == c.To {
		return nil
	}
	crv, err := r.Curve(c.Scope, c.CurveOp)
	if err != nil {
		return wrapDo(c, err)
	}
	var atNext *curve.Keyframe
	if k, ok := crv.Key(t); ok {
		atNext = &k
	}
	if err := crv.Move(c.To, t); err != nil {
		return pkgerrors.NewNotFoundError(err.Error())
	}
	if c.Overwritten != nil {
		crv.AddOrUpdate(c.To, *c.Overwritten)
	}
	c.Overwritten = atNext
	c.To = t
	r.MarkChanged()
	return nil
}

func (c *MoveKeyframe) Name() string        { return "Move Keyframe" }
func (c *MoveKeyframe) CommandType() string { return typeMoveKeyframe }
func (c *MoveKeyframe) IsUndoable() bool    { return true }

func (c *MoveKeyframe) Do(r *aggregates.Registry) error {
	if c.From == c.To {
		return nil
	}
	crv, err := r.Curve(c.Scope, c.CurveOp)
	if err != nil {
		return wrapDo(c, err)
	}
	if err := crv.Move(c.From, c.To); err != nil {
		return wrapDo(c, pkgerrors.NewNotFoundError(err.Error()))
	}
	r.MarkChanged()
	return nil
}

func (c *MoveKeyframe) Undo(r *aggregates.Registry) error {
	if c.From == c.To {
		return nil
	}
	crv, err := r.Curve(c.Scope, c.CurveOp)
	if err != nil {
		return wrapDo(c, err)
	}
	if err := crv.Move(c.To, c.From); err != nil {
		return wrapDo(c, pkgerrors.NewNotFoundError(err.Error()))
	}
	if c.Overwritten != nil {
		crv.AddOrUpdate(c.To, *c.Overwritten)
	}
	r.MarkChanged()
	return nil
}

type removedKey struct {
	CurveOp uuid.UUID      `json:"curveOp"`
	Time    float64        `json:"time"`
	Key     curve.Keyframe `json:"key"`
}

// animatedTarget is the input a curve drives and its value at the reference time.
type animatedTarget struct {
	CurveOp   uuid.UUID `json:"curveOp"`
	Instance  uuid.UUID `json:"instance"`
	Input     uuid.UUID `json:"input"`
	LastValue float64   `json:"lastValue"`
}

// RemoveKeyframes deletes keys. A curve left without keys collapses its
// animation into a static value through a companion RemoveAnimation.
type RemoveKeyframes struct {
	Scope     Scope            `json:"scope"`
	Keys      []removedKey     `json:"keys"`
	Targets   []animatedTarget `json:"targets"`
	Collapsed []*Macro         `json:"collapsed,omitempty"`
}

// NewRemoveKeyframes captures the keys and, per curve, the value its input
// shows at referenceTime.
func NewRemoveKeyframes(r *aggregates.Registry, s Scope, refs []KeyRef, referenceTime float64) (*RemoveKeyframes, error) {
	if len(refs) == 0 {
		return nil, pkgerrors.NewValidationError("no keyframes to remove")
	}
	table, err := r.Connections(s)
	if err != nil {
		return nil, err
	}
	cmd := &RemoveKeyframes{Scope: s}
	seenKey := make(map[KeyRef]bool, len(refs))
	seenCurve := make(map[uuid.UUID]bool)
	for _, ref := range refs {
		if seenKey[ref] {
			continue
		}
		seenKey[ref] = true
		c, err := r.Curve(s, ref.CurveOp)
		if err != nil {
			return nil, err
		}
		k, ok := c.Key(ref.Time)
		if !ok {
			return nil, pkgerrors.NewValidationErrorf("no keyframe at time %v on %s", ref.Time, ref.CurveOp)
		}
		cmd.Keys = append(cmd.Keys, removedKey{CurveOp: ref.CurveOp, Time: ref.Time, Key: k})

		if seenCurve[ref.CurveOp] {
			continue
		}
		seenCurve[ref.CurveOp] = true
		target := animatedTarget{CurveOp: ref.CurveOp, LastValue: c.Sample(referenceTime)}
		if driven := table.From(entities.PortRef{Op: ref.CurveOp, Port: aggregates.CurveValueOutputID}); len(driven) > 0 {
			target.Instance = driven[0].Connection.TargetOp
			target.Input = driven[0].Connection.TargetPort
		}
		cmd.Targets = append(cmd.Targets, target)
	}
	return cmd, nil
}

func (c *RemoveKeyframes) Name() string        { return "Remove Keyframes" }
func (c *RemoveKeyframes) CommandType() string { return typeRemoveKeyframes }
func (c *RemoveKeyframes) IsUndoable() bool    { return true }

func (c *RemoveKeyframes) Do(r *aggregates.Registry) error {
	c.Collapsed = nil
	for i, k := range c.Keys {
		crv, err := r.Curve(c.Scope, k.CurveOp)
		if err != nil {
			if rerr := c.restoreKeys(r, i); rerr != nil {
				return pkgerrors.NewPartialApplicationError(c.Name(), i, fmt.Errorf("%w; rollback: %v", err, rerr))
			}
			return wrapDo(c, err)
		}
		crv.Remove(k.Time)
	}
	for _, t := range c.Targets {
		crv, err := r.Curve(c.Scope, t.CurveOp)
		if err != nil {
			return c.rollback(r, err)
		}
		if crv.Len() > 0 || t.Instance == uuid.Nil {
			continue
		}
		collapse, err := NewRemoveAnimation(r, c.Scope, t.Instance, t.Input, valueobjects.Float(t.LastValue))
		if err != nil {
			return c.rollback(r, err)
		}
		if err := collapse.Do(r); err != nil {
			return c.rollback(r, err)
		}
		c.Collapsed = append(c.Collapsed, collapse)
	}
	r.MarkChanged()
	return nil
}

func (c *RemoveKeyframes) rollback(r *aggregates.Registry, cause error) error {
	if err := c.undoCollapsed(r); err != nil {
		return pkgerrors.NewPartialApplicationError(c.Name(), len(c.Collapsed), fmt.Errorf("%w; rollback: %v", cause, err))
	}
	if err := c.restoreKeys(r, len(c.Keys)); err != nil {
		return pkgerrors.NewPartialApplicationError(c.Name(), len(c.Keys), fmt.Errorf("%w; rollback: %v", cause, err))
	}
	return wrapDo(c, cause)
}

func (c *RemoveKeyframes) undoCollapsed(r *aggregates.Registry) error {
	for i := len(c.Collapsed) - 1; i >= 0; i-- {
		if err := c.Collapsed[i].Undo(r); err != nil {
			return err
		}
	}
	c.Collapsed = nil
	return nil
}

// restoreKeys puts back the first n captured keys. Keys whose curve is gone
// are reported and the rest are still restored.
func (c *RemoveKeyframes) restoreKeys(r *aggregates.Registry, n int) error {
	var errs []error
	for _, k := range c.Keys[:n] {
		crv, err := r.Curve(c.Scope, k.CurveOp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		crv.AddOrUpdate(k.Time, k.Key)
	}
	return errors.Join(errs...)
}

func (c *RemoveKeyframes) Undo(r *aggregates.Registry) error {
	if err := c.undoCollapsed(r); err != nil {
		return wrapDo(c, err)
	}
	if err := c.restoreKeys(r, len(c.Keys)); err != nil {
		return wrapDo(c, err)
	}
	r.MarkChanged()
	return nil
}
