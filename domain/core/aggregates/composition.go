package aggregates

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	"github.com/framefield/tooll-sub003/domain/curve"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// AddInstance places inst into the scoped composition.
func (r *Registry) AddInstance(s Scope, inst *entities.Instance) error {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return err
	}
	def, err := r.Definition(inst.DefinitionID)
	if err != nil {
		return err
	}
	if _, exists := comp.Children[inst.ID]; exists {
		return pkgerrors.NewConflictErrorf("instance %s already exists in %s", inst.ID, comp.Name)
	}
	if r.contains(def, comp.ID, map[uuid.UUID]bool{}) {
		return pkgerrors.NewValidationErrorf("placing %s inside %s would create a cycle", def.Name, comp.Name)
	}
	if inst.Values == nil {
		inst.Values = make(map[uuid.UUID]valueobjects.Value)
	}
	if inst.Curves == nil {
		inst.Curves = make(map[uuid.UUID]*curve.Curve)
	}
	if def.ID == CurveDefinitionID {
		if _, ok := inst.Curves[CurveValueOutputID]; !ok {
			inst.Curves[CurveValueOutputID] = curve.New()
		}
	}
	comp.Children[inst.ID] = inst
	r.touch()
	return nil
}

// ValidatePlacement checks that an instance of defID may be added to the scoped composition.
func (r *Registry) ValidatePlacement(s Scope, defID uuid.UUID) error {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return err
	}
	def, err := r.Definition(defID)
	if err != nil {
		return err
	}
	if r.contains(def, comp.ID, map[uuid.UUID]bool{}) {
		return pkgerrors.NewValidationErrorf("placing %s inside %s would create a cycle", def.Name, comp.Name)
	}
	return nil
}

// RemoveInstance deletes a child and every connection touching it.
func (r *Registry) RemoveInstance(s Scope, id uuid.UUID) (*entities.Instance, []entities.IndexedConnection, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, nil, err
	}
	inst, ok := comp.Children[id]
	if !ok {
		return nil, nil, pkgerrors.NewNotFoundError(fmt.Sprintf("instance %s in %s", id, comp.Name))
	}
	touching := comp.Connections.Touching(id)
	// remove from the highest index down so earlier indices stay valid
	for i := len(touching) - 1; i >= 0; i-- {
		ic := touching[i]
		if _, err := comp.Connections.RemoveAt(ic.Connection.Target(), ic.Index); err != nil {
			return nil, nil, pkgerrors.Wrap(err, "removing connection")
		}
	}
	delete(comp.Children, id)
	r.touch()
	return inst, touching, nil
}

// Port describes one end of a prospective connection.
type Port struct {
	Type       valueobjects.ValueKind
	MultiInput bool
	Name       string
}

// SourcePort resolves an output that can feed connections in comp: a child's
// output or one of comp's own inputs.
func (r *Registry) SourcePort(comp *entities.Definition, ref entities.PortRef) (Port, error) {
	if ref.Op == valueobjects.Self {
		in, _ := comp.Input(ref.Port)
		if in == nil {
			return Port{}, pkgerrors.NewNotFoundError(fmt.Sprintf("input %s of %s", ref.Port, comp.Name))
		}
		return Port{Type: in.Type, Name: in.Name}, nil
	}
	child, ok := comp.Children[ref.Op]
	if !ok {
		return Port{}, pkgerrors.NewNotFoundError(fmt.Sprintf("instance %s in %s", ref.Op, comp.Name))
	}
	def, err := r.Definition(child.DefinitionID)
	if err != nil {
		return Port{}, err
	}
	out, _ := def.Output(ref.Port)
	if out == nil {
		return Port{}, pkgerrors.NewNotFoundError(fmt.Sprintf("output %s of %s", ref.Port, def.Name))
	}
	return Port{Type: out.Type, Name: out.Name}, nil
}

// TargetPort resolves a port that can receive connections in comp: a child's
// input or one of comp's own outputs.
func (r *Registry) TargetPort(comp *entities.Definition, ref entities.PortRef) (Port, error) {
	if ref.Op == valueobjects.Self {
		out, _ := comp.Output(ref.Port)
		if out == nil {
			return Port{}, pkgerrors.NewNotFoundError(fmt.Sprintf("output %s of %s", ref.Port, comp.Name))
		}
		return Port{Type: out.Type, Name: out.Name}, nil
	}
	child, ok := comp.Children[ref.Op]
	if !ok {
		return Port{}, pkgerrors.NewNotFoundError(fmt.Sprintf("instance %s in %s", ref.Op, comp.Name))
	}
	def, err := r.Definition(child.DefinitionID)
	if err != nil {
		return Port{}, err
	}
	in, _ := def.Input(ref.Port)
	if in == nil {
		return Port{}, pkgerrors.NewNotFoundError(fmt.Sprintf("input %s of %s", ref.Port, def.Name))
	}
	return Port{Type: in.Type, MultiInput: in.MultiInput, Name: in.Name}, nil
}

// Compatible reports whether an output of type source may feed an input of type target.
func (r *Registry) Compatible(source, target valueobjects.ValueKind) bool {
	if r.rules.AllowGenericCoercion {
		return source.CompatibleWith(target)
	}
	return source == target
}

// ValidateConnection checks that conn could be inserted into the scoped
// composition at index. It does not modify anything.
func (r *Registry) ValidateConnection(s Scope, conn entities.Connection, index int) error {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return err
	}
	return r.validateConnection(comp, conn, index)
}

func (r *Registry) validateConnection(comp *entities.Definition, conn entities.Connection, index int) error {
	src, err := r.SourcePort(comp, conn.Source())
	if err != nil {
		return err
	}
	dst, err := r.TargetPort(comp, conn.Target())
	if err != nil {
		return err
	}
	if conn.SourceOp != valueobjects.Self && conn.SourceOp == conn.TargetOp {
		return pkgerrors.NewValidationErrorf("cannot connect %s to itself", conn.SourceOp)
	}
	if !r.Compatible(src.Type, dst.Type) {
		return pkgerrors.NewValidationErrorf("cannot connect %s output %q to %s input %q", src.Type, src.Name, dst.Type, dst.Name)
	}
	count := comp.Connections.Count(conn.Target())
	if !dst.MultiInput && count > 0 {
		return pkgerrors.NewConflictErrorf("input %q accepts a single connection", dst.Name)
	}
	if index < 0 || index > count {
		return pkgerrors.NewConflictErrorf("connection index %d out of range [0,%d] for %q", index, count, dst.Name)
	}
	return nil
}

// InsertConnection inserts conn at index among the siblings of its target.
func (r *Registry) InsertConnection(s Scope, conn entities.Connection, index int) error {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return err
	}
	if err := r.validateConnection(comp, conn, index); err != nil {
		return err
	}
	if err := comp.Connections.InsertAt(conn, index); err != nil {
		return pkgerrors.NewConflictError(err.Error())
	}
	r.touch()
	return nil
}

// RemoveConnection removes the connection at index of expected's target. The
// connection found there must link the same ports as expected.
func (r *Registry) RemoveConnection(s Scope, expected entities.Connection, index int) (entities.Connection, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return entities.Connection{}, err
	}
	found, ok := comp.Connections.At(expected.Target(), index)
	if !ok || !found.SameEndpoints(expected) {
		return entities.Connection{}, pkgerrors.NewNotFoundError(
			fmt.Sprintf("connection %s -> %s at index %d", expected.Source(), expected.Target(), index))
	}
	removed, err := comp.Connections.RemoveAt(expected.Target(), index)
	if err != nil {
		return entities.Connection{}, pkgerrors.NewConflictError(err.Error())
	}
	r.touch()
	return removed, nil
}

// RestoreConnections re-inserts captured connections in ascending (target,
// index) order, rebuilding each target's original sibling order. On failure
// the connections inserted so far are removed again.
func (r *Registry) RestoreConnections(s Scope, conns []entities.IndexedConnection) error {
	sorted := append([]entities.IndexedConnection(nil), conns...)
	entities.SortForReinsert(sorted)
	for i, ic := range sorted {
		if err := r.InsertConnection(s, ic.Connection, ic.Index); err != nil {
			for j := i - 1; j >= 0; j-- {
				if _, uerr := r.RemoveConnection(s, sorted[j].Connection, sorted[j].Index); uerr != nil {
					return errors.Join(err, pkgerrors.Wrap(uerr, "taking back restored connections"))
				}
			}
			return err
		}
	}
	return nil
}

// DetachConnections removes captured connections, highest index first per
// target. On failure the connections removed so far are put back.
func (r *Registry) DetachConnections(s Scope, conns []entities.IndexedConnection) error {
	sorted := append([]entities.IndexedConnection(nil), conns...)
	entities.SortForReinsert(sorted)
	removed := make([]entities.IndexedConnection, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		conn, err := r.RemoveConnection(s, sorted[i].Connection, sorted[i].Index)
		if err != nil {
			for j := len(removed) - 1; j >= 0; j-- {
				if uerr := r.InsertConnection(s, removed[j].Connection, removed[j].Index); uerr != nil {
					return errors.Join(err, pkgerrors.Wrap(uerr, "putting back detached connections"))
				}
			}
			return err
		}
		removed = append(removed, entities.IndexedConnection{Connection: conn, Index: sorted[i].Index})
	}
	return nil
}

// Connections returns the connection table of the scoped composition.
func (r *Registry) Connections(s Scope) (*entities.ConnectionTable, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	return comp.Connections, nil
}

// MarkChanged records a field-level mutation made directly on an entity.
func (r *Registry) MarkChanged() {
	r.touch()
}
