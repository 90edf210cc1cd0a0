package commands

import (
	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

const (
	typeInsertConnection  = "InsertConnection"
	typeRemoveConnection  = "RemoveConnection"
	typeReplaceConnection = "ReplaceConnection"
	typeInsertOperator    = "InsertOperator"
	typeAddAndConnect     = "AddOperatorAndConnectToInputs"
)

// InsertConnection inserts a connection at an index among its target's siblings.
type InsertConnection struct {
	Scope      Scope               `json:"scope"`
	Connection entities.Connection `json:"connection"`
	Index      int                 `json:"index"`
}

// NewInsertConnection validates conn against the current graph.
func NewInsertConnection(r *aggregates.Registry, s Scope, conn entities.Connection, index int) (*InsertConnection, error) {
	if err := r.ValidateConnection(s, conn, index); err != nil {
		return nil, err
	}
	return insertConnection(s, conn, index), nil
}

func insertConnection(s Scope, conn entities.Connection, index int) *InsertConnection {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	return &InsertConnection{Scope: s, Connection: conn, Index: index}
}

func (c *InsertConnection) Name() string        { return "Insert Connection" }
func (c *InsertConnection) CommandType() string { return typeInsertConnection }
func (c *InsertConnection) IsUndoable() bool    { return true }

func (c *InsertConnection) Do(r *aggregates.Registry) error {
	return wrapDo(c, r.InsertConnection(c.Scope, c.Connection, c.Index))
}

func (c *InsertConnection) Undo(r *aggregates.Registry) error {
	_, err := r.RemoveConnection(c.Scope, c.Connection, c.Index)
	return wrapDo(c, err)
}

// RemoveConnection removes the connection at an index of a target port.
type RemoveConnection struct {
	Scope      Scope               `json:"scope"`
	Connection entities.Connection `json:"connection"`
	Index      int                 `json:"index"`
}

// NewRemoveConnection captures the connection currently at index of target.
func NewRemoveConnection(r *aggregates.Registry, s Scope, target entities.PortRef, index int) (*RemoveConnection, error) {
	table, err := r.Connections(s)
	if err != nil {
		return nil, err
	}
	conn, ok := table.At(target, index)
	if !ok {
		return nil, pkgerrors.NewValidationErrorf("no connection at index %d of %s", index, target)
	}
	return removeConnection(s, conn, index), nil
}

// NewRemoveConnectionOf removes the first connection linking the same ports as conn.
func NewRemoveConnectionOf(r *aggregates.Registry, s Scope, conn entities.Connection) (*RemoveConnection, error) {
	table, err := r.Connections(s)
	if err != nil {
		return nil, err
	}
	index := table.IndexOf(conn)
	if index < 0 {
		return nil, pkgerrors.NewValidationErrorf("no connection %s -> %s", conn.Source(), conn.Target())
	}
	found, _ := table.At(conn.Target(), index)
	return removeConnection(s, found, index), nil
}

func removeConnection(s Scope, conn entities.Connection, index int) *RemoveConnection {
	return &RemoveConnection{Scope: s, Connection: conn, Index: index}
}

func (c *RemoveConnection) Name() string        { return "Remove Connection" }
func (c *RemoveConnection) CommandType() string { return typeRemoveConnection }
func (c *RemoveConnection) IsUndoable() bool    { return true }

func (c *RemoveConnection) Do(r *aggregates.Registry) error {
	_, err := r.RemoveConnection(c.Scope, c.Connection, c.Index)
	return wrapDo(c, err)
}

func (c *RemoveConnection) Undo(r *aggregates.Registry) error {
	return wrapDo(c, r.InsertConnection(c.Scope, c.Connection, c.Index))
}

// checkLink validates port existence and type compatibility of conn,
// ignoring how many connections its target already has.
func checkLink(r *aggregates.Registry, comp *entities.Definition, conn entities.Connection) error {
	src, err := r.SourcePort(comp, conn.Source())
	if err != nil {
		return err
	}
	dst, err := r.TargetPort(comp, conn.Target())
	if err != nil {
		return err
	}
	if !r.Compatible(src.Type, dst.Type) {
		return pkgerrors.NewValidationErrorf("cannot connect %s output %q to %s input %q", src.Type, src.Name, dst.Type, dst.Name)
	}
	return nil
}

// NewReplaceConnection swaps the connection at index of target for one from a
// different source, keeping the index.
func NewReplaceConnection(r *aggregates.Registry, s Scope, target entities.PortRef, index int, source entities.PortRef) (*Macro, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	old, ok := comp.Connections.At(target, index)
	if !ok {
		return nil, pkgerrors.NewValidationErrorf("no connection at index %d of %s", index, target)
	}
	replacement := entities.NewConnection(source.Op, source.Port, target.Op, target.Port)
	if err := checkLink(r, comp, replacement); err != nil {
		return nil, err
	}
	return newMacro(typeReplaceConnection, "Replace Connection",
		removeConnection(s, old, index),
		insertConnection(s, replacement, index),
	), nil
}

// firstMatchingInput returns the first input of def that accepts sourceType
// and is still free. used counts connections already planned per input.
func firstMatchingInput(r *aggregates.Registry, def *entities.Definition, sourceType valueobjects.ValueKind, used map[uuid.UUID]int) *entities.InputDefinition {
	for i := range def.Inputs {
		in := &def.Inputs[i]
		if !r.Compatible(sourceType, in.Type) {
			continue
		}
		if in.MultiInput || used[in.ID] == 0 {
			return in
		}
	}
	return nil
}

// NewInsertOperator splices a new instance of defID into the connection at
// index of target. The new operator's first output takes the old connection's
// place and its first compatible input receives the old source.
func NewInsertOperator(r *aggregates.Registry, s Scope, defID uuid.UUID, target entities.PortRef, index int) (*Macro, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	if err := r.ValidatePlacement(s, defID); err != nil {
		return nil, err
	}
	def, err := r.Definition(defID)
	if err != nil {
		return nil, err
	}
	if len(def.Outputs) == 0 {
		return nil, pkgerrors.NewValidationErrorf("%s has no output to insert", def.Name)
	}
	prev, ok := comp.Connections.At(target, index)
	if !ok {
		return nil, pkgerrors.NewValidationErrorf("no connection at index %d of %s", index, target)
	}
	src, err := r.SourcePort(comp, prev.Source())
	if err != nil {
		return nil, err
	}
	dst, err := r.TargetPort(comp, target)
	if err != nil {
		return nil, err
	}
	if !r.Compatible(def.Outputs[0].Type, dst.Type) {
		return nil, pkgerrors.NewValidationErrorf("%s output %q cannot feed %q", def.Name, def.Outputs[0].Name, dst.Name)
	}
	in := firstMatchingInput(r, def, src.Type, nil)
	if in == nil {
		return nil, pkgerrors.NewValidationErrorf("%s has no input accepting %s", def.Name, src.Type)
	}

	position := operatorPosition(comp, prev.SourceOp, target.Op)
	add := addOperator(s, def.ID, position, r.Rules().DefaultOperatorWidth)
	return newMacro(typeInsertOperator, "Insert Operator",
		add,
		removeConnection(s, prev, index),
		insertConnection(s, entities.NewConnection(add.Instance.ID, def.Outputs[0].ID, target.Op, target.Port), index),
		insertConnection(s, entities.NewConnection(prev.SourceOp, prev.SourcePort, add.Instance.ID, in.ID), 0),
	), nil
}

// NewAddOperatorAndConnectToInputs adds an instance of defID and feeds the
// first output of each selected operator into its first free compatible
// input. With a single selected operator its existing outgoing connection
// is split through the new operator.
func NewAddOperatorAndConnectToInputs(r *aggregates.Registry, s Scope, defID uuid.UUID, inputOps []uuid.UUID, position valueobjects.Position) (*Macro, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	if err := r.ValidatePlacement(s, defID); err != nil {
		return nil, err
	}
	def, err := r.Definition(defID)
	if err != nil {
		return nil, err
	}

	rules := r.Rules()
	add := addOperator(s, def.ID, position, rules.DefaultOperatorWidth)
	macro := newMacro(typeAddAndConnect, "Add Operator And Connect", add)

	used := make(map[uuid.UUID]int)
	var connected []*entities.Instance
	var sumX float64
	maxY := -1e308
	for _, opID := range inputOps {
		op, opDef, err := r.InstanceDefinition(s, opID)
		if err != nil {
			return nil, err
		}
		if len(opDef.Outputs) == 0 {
			continue
		}
		maxY = max(maxY, op.Position.Y)
		sumX += op.Position.X

		source := entities.PortRef{Op: op.ID, Port: opDef.Outputs[0].ID}
		in := firstMatchingInput(r, def, opDef.Outputs[0].Type, used)
		if in == nil {
			continue
		}

		if len(inputOps) == 1 && len(def.Outputs) > 0 {
			if outgoing := comp.Connections.From(source); len(outgoing) > 0 {
				prev := outgoing[0]
				dst, err := r.TargetPort(comp, prev.Connection.Target())
				if err == nil && r.Compatible(def.Outputs[0].Type, dst.Type) {
					macro.Append(
						removeConnection(s, prev.Connection, prev.Index),
						insertConnection(s, entities.NewConnection(add.Instance.ID, def.Outputs[0].ID, prev.Connection.TargetOp, prev.Connection.TargetPort), prev.Index),
					)
				}
			}
		}

		macro.Append(insertConnection(s, entities.NewConnection(source.Op, source.Port, add.Instance.ID, in.ID), used[in.ID]))
		used[in.ID]++
		connected = append(connected, op)
	}

	switch {
	case len(connected) == 1:
		add.Instance.Position = valueobjects.Position{X: connected[0].Position.X, Y: connected[0].Position.Y - rules.InsertSpacing}
	case len(connected) > 1:
		add.Instance.Position = valueobjects.Position{X: sumX / float64(len(inputOps)), Y: maxY - 2*rules.InsertSpacing}
	}
	return macro, nil
}

// operatorPosition places a spliced operator halfway between its neighbours.
func operatorPosition(comp *entities.Definition, sourceOp, targetOp uuid.UUID) valueobjects.Position {
	src, okSrc := comp.Children[sourceOp]
	dst, okDst := comp.Children[targetOp]
	switch {
	case okSrc && okDst:
		return valueobjects.Position{X: (src.Position.X + dst.Position.X) / 2, Y: (src.Position.Y + dst.Position.Y) / 2}
	case okSrc:
		return src.Position.Add(valueobjects.Position{Y: -50})
	case okDst:
		return dst.Position.Add(valueobjects.Position{Y: 50})
	}
	return valueobjects.Position{}
}
