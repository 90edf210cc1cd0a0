package commands

import (
	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

const typeReplaceOperator = "ReplaceOperator"

// ReplaceOperator swaps an instance for an instance of another definition at
// the same place and re-wires every connection whose port has a counterpart.
// InputMap and OutputMap hold uuid.Nil for ports left unassigned.
type ReplaceOperator struct {
	Scope       Scope                        `json:"scope"`
	Old         *entities.Instance           `json:"old"`
	New         *entities.Instance           `json:"new"`
	InputMap    map[uuid.UUID]uuid.UUID      `json:"inputMap"`
	OutputMap   map[uuid.UUID]uuid.UUID      `json:"outputMap"`
	Connections []entities.IndexedConnection `json:"connections"`
	Rewired     []entities.IndexedConnection `json:"rewired"`
}

// NewReplaceOperator maps ports by name when type and multiplicity agree,
// otherwise to the first unused port that agrees.
func NewReplaceOperator(r *aggregates.Registry, s Scope, instID, defID uuid.UUID) (*ReplaceOperator, error) {
	old, oldDef, err := r.InstanceDefinition(s, instID)
	if err != nil {
		return nil, err
	}
	if old.DefinitionID == defID {
		return nil, pkgerrors.NewValidationError("operator already has that definition")
	}
	if err := r.ValidatePlacement(s, defID); err != nil {
		return nil, err
	}
	newDef, err := r.Definition(defID)
	if err != nil {
		return nil, err
	}
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}

	repl := entities.NewInstance(defID, old.Position, old.Width)
	repl.Name = old.Name
	repl.Visible = old.Visible
	repl.Disabled = old.Disabled

	cmd := &ReplaceOperator{
		Scope:       s,
		Old:         old.Clone(),
		New:         repl,
		InputMap:    mapInputs(oldDef, newDef),
		OutputMap:   mapOutputs(oldDef, newDef),
		Connections: comp.Connections.Touching(instID),
	}
	for oldID, v := range old.Values {
		newID := cmd.InputMap[oldID]
		if newID == uuid.Nil {
			continue
		}
		if in, _ := newDef.Input(newID); in != nil && checkValueKind(in, v) == nil {
			repl.SetOverride(newID, v)
		}
	}
	cmd.Rewired = cmd.rewire(newDef)
	return cmd, nil
}

func mapInputs(from, to *entities.Definition) map[uuid.UUID]uuid.UUID {
	matches := func(a, b entities.InputDefinition) bool {
		return a.Type == b.Type && a.MultiInput == b.MultiInput
	}
	used := make(map[uuid.UUID]bool)
	out := make(map[uuid.UUID]uuid.UUID, len(from.Inputs))
	for _, oldIn := range from.Inputs {
		out[oldIn.ID] = uuid.Nil
		if cand, _ := to.InputByName(oldIn.Name); cand != nil && !used[cand.ID] && matches(oldIn, *cand) {
			out[oldIn.ID] = cand.ID
			used[cand.ID] = true
		}
	}
	for _, oldIn := range from.Inputs {
		if out[oldIn.ID] != uuid.Nil {
			continue
		}
		for _, cand := range to.Inputs {
			if !used[cand.ID] && matches(oldIn, cand) {
				out[oldIn.ID] = cand.ID
				used[cand.ID] = true
				break
			}
		}
	}
	return out
}

func mapOutputs(from, to *entities.Definition) map[uuid.UUID]uuid.UUID {
	used := make(map[uuid.UUID]bool)
	out := make(map[uuid.UUID]uuid.UUID, len(from.Outputs))
	for _, oldOut := range from.Outputs {
		out[oldOut.ID] = uuid.Nil
		for _, cand := range to.Outputs {
			if cand.Name == oldOut.Name && cand.Type == oldOut.Type {
				out[oldOut.ID] = cand.ID
				used[cand.ID] = true
				break
			}
		}
	}
	for _, oldOut := range from.Outputs {
		if out[oldOut.ID] != uuid.Nil {
			continue
		}
		for _, cand := range to.Outputs {
			if !used[cand.ID] && cand.Type == oldOut.Type {
				out[oldOut.ID] = cand.ID
				used[cand.ID] = true
				break
			}
		}
	}
	return out
}

// rewire translates the captured connections to the new instance. Outgoing
// connections keep their slot among the target's siblings; incoming ones are
// packed in their previous order. Connections without a counterpart port are
// dropped.
func (c *ReplaceOperator) rewire(newDef *entities.Definition) []entities.IndexedConnection {
	captured := append([]entities.IndexedConnection(nil), c.Connections...)
	entities.SortForReinsert(captured)

	dropped := make(map[entities.PortRef][]int)
	nextSlot := make(map[entities.PortRef]int)
	var out []entities.IndexedConnection
	for _, ic := range captured {
		conn := ic.Connection
		if conn.SourceOp == c.Old.ID && conn.TargetOp == c.Old.ID {
			continue
		}
		if conn.TargetOp == c.Old.ID {
			port := c.InputMap[conn.TargetPort]
			if port == uuid.Nil {
				continue
			}
			target := entities.PortRef{Op: c.New.ID, Port: port}
			in, _ := newDef.Input(port)
			if in == nil || (!in.MultiInput && nextSlot[target] > 0) {
				continue
			}
			conn.ID = uuid.New()
			conn.TargetOp, conn.TargetPort = target.Op, target.Port
			out = append(out, entities.IndexedConnection{Connection: conn, Index: nextSlot[target]})
			nextSlot[target]++
			continue
		}
		port := c.OutputMap[conn.SourcePort]
		if port == uuid.Nil {
			dropped[conn.Target()] = append(dropped[conn.Target()], ic.Index)
			continue
		}
		index := compactIndex(ic.Index, dropped[conn.Target()])
		conn.ID = uuid.New()
		conn.SourceOp, conn.SourcePort = c.New.ID, port
		out = append(out, entities.IndexedConnection{Connection: conn, Index: index})
	}
	return out
}

// compactIndex shifts a sibling index down past the dropped siblings below it.
func compactIndex(index int, dropped []int) int {
	n := index
	for _, d := range dropped {
		if d < index {
			n--
		}
	}
	return n
}

func (c *ReplaceOperator) Name() string        { return "Replace Operator" }
func (c *ReplaceOperator) CommandType() string { return typeReplaceOperator }
func (c *ReplaceOperator) IsUndoable() bool    { return true }

func (c *ReplaceOperator) swap(r *aggregates.Registry, detach []entities.IndexedConnection, remove uuid.UUID, add *entities.Instance, restore []entities.IndexedConnection) error {
	return runSteps(c,
		detachStep(r, c.Scope, detach),
		removeInstanceStep(r, c.Scope, remove),
		addInstanceStep(r, c.Scope, add),
		restoreStep(r, c.Scope, restore),
	)
}

func (c *ReplaceOperator) Do(r *aggregates.Registry) error {
	return c.swap(r, c.Connections, c.Old.ID, c.New, c.Rewired)
}

func (c *ReplaceOperator) Undo(r *aggregates.Registry) error {
	return c.swap(r, c.Rewired, c.New.ID, c.Old, c.Connections)
}
