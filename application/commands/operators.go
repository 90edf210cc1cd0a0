package commands

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

const (
	typeAddOperator              = "AddOperator"
	typeDeleteOperators          = "DeleteOperators"
	typeDuplicateOperators       = "DuplicateOperators"
	typeCopyOperators            = "CopyOperators"
	typeUpdateOperatorProperties = "UpdateOperatorProperties"
	typeRenameNamespace          = "RenameNamespace"
)

// AddOperator places a new instance. The instance ID is fixed at construction
// so later commands in the same macro can refer to it.
type AddOperator struct {
	Scope    Scope              `json:"scope"`
	Instance *entities.Instance `json:"instance"`
}

// NewAddOperator prepares a visible instance of defID at position.
func NewAddOperator(r *aggregates.Registry, s Scope, defID uuid.UUID, position valueobjects.Position) (*AddOperator, error) {
	if err := r.ValidatePlacement(s, defID); err != nil {
		return nil, err
	}
	return addOperator(s, defID, position, r.Rules().DefaultOperatorWidth), nil
}

func addOperator(s Scope, defID uuid.UUID, position valueobjects.Position, width float64) *AddOperator {
	return &AddOperator{Scope: s, Instance: entities.NewInstance(defID, position, width)}
}

// InstanceID returns the ID the new instance gets.
func (c *AddOperator) InstanceID() uuid.UUID { return c.Instance.ID }

func (c *AddOperator) Name() string        { return "Add Operator" }
func (c *AddOperator) CommandType() string { return typeAddOperator }
func (c *AddOperator) IsUndoable() bool    { return true }

func (c *AddOperator) Do(r *aggregates.Registry) error {
	if c.Instance == nil {
		return wrapDo(c, pkgerrors.NewValidationError("no instance to add"))
	}
	return wrapDo(c, r.AddInstance(c.Scope, c.Instance.Clone()))
}

func (c *AddOperator) Undo(r *aggregates.Registry) error {
	_, _, err := r.RemoveInstance(c.Scope, c.Instance.ID)
	return wrapDo(c, err)
}

// removedOperators is what a removal took out of a composition.
type removedOperators struct {
	Instances   []*entities.Instance         `json:"instances"`
	Connections []entities.IndexedConnection `json:"connections"`
}

// takeOperators removes instances together with every connection touching
// them and returns enough to put them back.
func takeOperators(r *aggregates.Registry, s Scope, ids []uuid.UUID) (removedOperators, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return removedOperators{}, err
	}
	set := make(map[uuid.UUID]bool, len(ids))
	var taken removedOperators
	for _, id := range ids {
		inst, ok := comp.Children[id]
		if !ok {
			return removedOperators{}, pkgerrors.NewNotFoundError(fmt.Sprintf("instance %s in %s", id, comp.Name))
		}
		set[id] = true
		taken.Instances = append(taken.Instances, inst.Clone())
	}
	for _, ic := range comp.Connections.All() {
		if set[ic.Connection.SourceOp] || set[ic.Connection.TargetOp] {
			taken.Connections = append(taken.Connections, ic)
		}
	}
	if err := r.DetachConnections(s, taken.Connections); err != nil {
		return removedOperators{}, err
	}
	for _, id := range ids {
		if _, _, err := r.RemoveInstance(s, id); err != nil {
			return removedOperators{}, err
		}
	}
	return taken, nil
}

func (t removedOperators) restore(r *aggregates.Registry, s Scope) error {
	for _, inst := range t.Instances {
		if err := r.AddInstance(s, inst.Clone()); err != nil {
			return err
		}
	}
	return r.RestoreConnections(s, t.Connections)
}

// DeleteOperators removes instances with all their connections. Animated
// inputs are collapsed first through a nested keyframe removal so that undo
// brings back the keys together with the animation operators.
type DeleteOperators struct {
	Scope       Scope            `json:"scope"`
	OperatorIDs []uuid.UUID      `json:"operatorIds"`
	Keyframes   *RemoveKeyframes `json:"keyframes,omitempty"`
	Removed     removedOperators `json:"removed"`
}

// NewDeleteOperators captures the keyframes of every animated input of the operators.
func NewDeleteOperators(r *aggregates.Registry, s Scope, ids []uuid.UUID) (*DeleteOperators, error) {
	if len(ids) == 0 {
		return nil, pkgerrors.NewValidationError("no operators to delete")
	}
	animationOps := make(map[uuid.UUID]bool)
	var keys []KeyRef
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, pkgerrors.NewValidationErrorf("operator %s listed twice", id)
		}
		seen[id] = true
		animated, err := r.AnimatedInputs(s, id)
		if err != nil {
			return nil, err
		}
		for _, input := range animated {
			anim, _, err := r.Animation(s, id, input)
			if err != nil {
				return nil, err
			}
			points := anim.Curve.Points()
			if len(points) == 0 {
				// nothing to collapse, the operators are deleted like any other
				continue
			}
			animationOps[anim.CurveOp] = true
			if anim.TimeOp != uuid.Nil {
				animationOps[anim.TimeOp] = true
			}
			for _, p := range points {
				keys = append(keys, KeyRef{CurveOp: anim.CurveOp, Time: p.Time})
			}
		}
	}

	cmd := &DeleteOperators{Scope: s}
	for _, id := range ids {
		// animation operators of a collapsed animation go away with the collapse
		if !animationOps[id] {
			cmd.OperatorIDs = append(cmd.OperatorIDs, id)
		}
	}
	if len(keys) > 0 {
		kf, err := NewRemoveKeyframes(r, s, keys, r.Rules().AnimationReferenceTime)
		if err != nil {
			return nil, err
		}
		cmd.Keyframes = kf
	}
	return cmd, nil
}

func (c *DeleteOperators) Name() string        { return "Delete Operators" }
func (c *DeleteOperators) CommandType() string { return typeDeleteOperators }
func (c *DeleteOperators) IsUndoable() bool    { return true }

func (c *DeleteOperators) Do(r *aggregates.Registry) error {
	if c.Keyframes != nil {
		if err := c.Keyframes.Do(r); err != nil {
			return wrapDo(c, err)
		}
	}
	removed, err := takeOperators(r, c.Scope, c.OperatorIDs)
	if err != nil {
		if c.Keyframes != nil {
			if uerr := c.Keyframes.Undo(r); uerr != nil {
				return pkgerrors.NewPartialApplicationError(c.Name(), 1, fmt.Errorf("%w; rollback: %v", err, uerr))
			}
		}
		return wrapDo(c, err)
	}
	c.Removed = removed
	return nil
}

func (c *DeleteOperators) Undo(r *aggregates.Registry) error {
	if err := c.Removed.restore(r, c.Scope); err != nil {
		return wrapDo(c, err)
	}
	if c.Keyframes != nil {
		return wrapDo(c, c.Keyframes.Undo(r))
	}
	return nil
}

// NewDuplicateOperators copies instances inside their composition, offset by
// the configured distance, together with the connections among them.
func NewDuplicateOperators(r *aggregates.Registry, s Scope, ids []uuid.UUID) (*Macro, error) {
	offset := r.Rules().DuplicateOffset
	return copyOperators(r, typeDuplicateOperators, "Duplicate Operators", s, s, ids, func(p valueobjects.Position) valueobjects.Position {
		return p.Add(offset)
	})
}

// NewCopyOperators copies instances into another composition so that the
// top-left visible operator lands on base.
func NewCopyOperators(r *aggregates.Registry, from Scope, ids []uuid.UUID, to Scope, base valueobjects.Position) (*Macro, error) {
	comp, err := r.ResolveComposition(from)
	if err != nil {
		return nil, err
	}
	topLeft := valueobjects.Position{X: math.Inf(1), Y: math.Inf(1)}
	for _, id := range ids {
		if inst, ok := comp.Children[id]; ok && inst.Visible {
			topLeft.X = math.Min(topLeft.X, inst.Position.X)
			topLeft.Y = math.Min(topLeft.Y, inst.Position.Y)
		}
	}
	if math.IsInf(topLeft.X, 1) {
		topLeft = valueobjects.Position{}
	}
	return copyOperators(r, typeCopyOperators, "Copy Operators", from, to, ids, func(p valueobjects.Position) valueobjects.Position {
		return valueobjects.Position{X: p.X - topLeft.X + base.X, Y: p.Y - topLeft.Y + base.Y}
	})
}

func copyOperators(r *aggregates.Registry, typ, name string, from, to Scope, ids []uuid.UUID, place func(valueobjects.Position) valueobjects.Position) (*Macro, error) {
	if len(ids) == 0 {
		return nil, pkgerrors.NewValidationError("no operators to copy")
	}
	comp, err := r.ResolveComposition(from)
	if err != nil {
		return nil, err
	}
	macro := newMacro(typ, name)
	copies := make(map[uuid.UUID]uuid.UUID, len(ids))
	for _, id := range ids {
		inst, ok := comp.Children[id]
		if !ok {
			return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("instance %s in %s", id, comp.Name))
		}
		if _, dup := copies[id]; dup {
			return nil, pkgerrors.NewValidationErrorf("operator %s listed twice", id)
		}
		if err := r.ValidatePlacement(to, inst.DefinitionID); err != nil {
			return nil, err
		}
		clone := inst.Clone()
		clone.ID = uuid.New()
		clone.Position = place(inst.Position)
		copies[id] = clone.ID
		macro.Append(&AddOperator{Scope: to, Instance: clone})
	}

	// All groups by target in index order, so sequential indices keep the order
	next := make(map[entities.PortRef]int)
	for _, ic := range comp.Connections.All() {
		src, okSrc := copies[ic.Connection.SourceOp]
		dst, okDst := copies[ic.Connection.TargetOp]
		if !okSrc || !okDst {
			continue
		}
		conn := entities.NewConnection(src, ic.Connection.SourcePort, dst, ic.Connection.TargetPort)
		macro.Append(insertConnection(to, conn, next[conn.Target()]))
		next[conn.Target()]++
	}
	return macro, nil
}

// OperatorProperties are the instance fields edited as a unit.
type OperatorProperties struct {
	Name     string                `json:"name"`
	Position valueobjects.Position `json:"position"`
	Width    float64               `json:"width"`
	Visible  bool                  `json:"visible"`
	Disabled bool                  `json:"disabled"`
}

// PropertiesOf reads the editable fields of an instance.
func PropertiesOf(inst *entities.Instance) OperatorProperties {
	return OperatorProperties{
		Name:     inst.Name,
		Position: inst.Position,
		Width:    inst.Width,
		Visible:  inst.Visible,
		Disabled: inst.Disabled,
	}
}

func (p OperatorProperties) applyTo(inst *entities.Instance) {
	inst.Name = p.Name
	inst.Position = p.Position
	inst.Width = p.Width
	inst.Visible = p.Visible
	inst.Disabled = p.Disabled
}

// PropertyChange is one instance's before and after state.
type PropertyChange struct {
	Instance uuid.UUID          `json:"instance"`
	Previous OperatorProperties `json:"previous"`
	Next     OperatorProperties `json:"next"`
}

// UpdateOperatorProperties edits name, position, width, visibility and the
// disabled flag of several instances at once.
type UpdateOperatorProperties struct {
	Scope   Scope            `json:"scope"`
	Changes []PropertyChange `json:"changes"`
}

// NewUpdateOperatorProperties captures the current properties of every instance in next.
func NewUpdateOperatorProperties(r *aggregates.Registry, s Scope, next map[uuid.UUID]OperatorProperties) (*UpdateOperatorProperties, error) {
	if len(next) == 0 {
		return nil, pkgerrors.NewValidationError("no property changes")
	}
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	cmd := &UpdateOperatorProperties{Scope: s}
	for _, id := range comp.ChildIDs() {
		props, ok := next[id]
		if !ok {
			continue
		}
		if props.Width <= 0 {
			return nil, pkgerrors.NewValidationErrorf("width of %s must be positive", id)
		}
		cmd.Changes = append(cmd.Changes, PropertyChange{Instance: id, Previous: PropertiesOf(comp.Children[id]), Next: props})
	}
	if len(cmd.Changes) != len(next) {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("some instances in %s", comp.Name))
	}
	return cmd, nil
}

// Update replaces the target properties of one instance, used while dragging.
func (c *UpdateOperatorProperties) Update(instance uuid.UUID, props OperatorProperties) {
	for i := range c.Changes {
		if c.Changes[i].Instance == instance {
			c.Changes[i].Next = props
		}
	}
}

func (c *UpdateOperatorProperties) Name() string        { return "Update Operator Properties" }
func (c *UpdateOperatorProperties) CommandType() string { return typeUpdateOperatorProperties }
func (c *UpdateOperatorProperties) IsUndoable() bool    { return true }

func (c *UpdateOperatorProperties) apply(r *aggregates.Registry, next bool) error {
	for _, ch := range c.Changes {
		inst, err := r.Instance(c.Scope, ch.Instance)
		if err != nil {
			return wrapDo(c, err)
		}
		if next {
			ch.Next.applyTo(inst)
		} else {
			ch.Previous.applyTo(inst)
		}
	}
	r.MarkChanged()
	return nil
}

func (c *UpdateOperatorProperties) Do(r *aggregates.Registry) error   { return c.apply(r, true) }
func (c *UpdateOperatorProperties) Undo(r *aggregates.Registry) error { return c.apply(r, false) }

// NamespaceChange is one definition's namespace before and after.
type NamespaceChange struct {
	Definition uuid.UUID `json:"definition"`
	Previous   string    `json:"previous"`
	Next       string    `json:"next"`
}

// RenameNamespace moves definitions to new namespaces.
type RenameNamespace struct {
	Changes []NamespaceChange `json:"changes"`
}

// NewRenameNamespace captures the current namespaces of the given definitions.
func NewRenameNamespace(r *aggregates.Registry, next map[uuid.UUID]string) (*RenameNamespace, error) {
	if len(next) == 0 {
		return nil, pkgerrors.NewValidationError("no namespace changes")
	}
	cmd := &RenameNamespace{}
	for _, def := range r.Definitions() {
		ns, ok := next[def.ID]
		if !ok {
			continue
		}
		if aggregates.IsBuiltin(def.ID) {
			return nil, pkgerrors.NewValidationErrorf("%s is built in", def.Name)
		}
		cmd.Changes = append(cmd.Changes, NamespaceChange{Definition: def.ID, Previous: def.Namespace, Next: ns})
	}
	if len(cmd.Changes) != len(next) {
		return nil, pkgerrors.NewNotFoundError("some definitions to rename")
	}
	return cmd, nil
}

func (c *RenameNamespace) Name() string        { return "Rename Namespace" }
func (c *RenameNamespace) CommandType() string { return typeRenameNamespace }
func (c *RenameNamespace) IsUndoable() bool    { return true }

func (c *RenameNamespace) apply(r *aggregates.Registry, next bool) error {
	for _, ch := range c.Changes {
		def, err := r.Definition(ch.Definition)
		if err != nil {
			return wrapDo(c, err)
		}
		if next {
			def.Namespace = ch.Next
		} else {
			def.Namespace = ch.Previous
		}
	}
	r.MarkChanged()
	return nil
}

func (c *RenameNamespace) Do(r *aggregates.Registry) error   { return c.apply(r, true) }
func (c *RenameNamespace) Undo(r *aggregates.Registry) error { return c.apply(r, false) }
