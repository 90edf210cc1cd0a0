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
	typeCombineToNewOperator = "CombineToNewOperator"
	typeUngroupOperator      = "UngroupOperator"
)

// CombineToNewOperator moves a set of instances into a new definition and
// replaces them with one instance of it. Every connection entering the set
// from one source becomes one new required input, and every output of the
// set read from outside becomes one new output. The whole result is computed
// at construction so Do and Undo only move captured state.
type CombineToNewOperator struct {
	Scope       Scope                        `json:"scope"`
	OperatorIDs []uuid.UUID                  `json:"operatorIds"`
	Definition  *entities.Definition         `json:"definition"`
	Instance    *entities.Instance           `json:"instance"`
	Moved       []*entities.Instance         `json:"moved"`
	Captured    []entities.IndexedConnection `json:"captured"`
	Rewired     []entities.IndexedConnection `json:"rewired"`
}

// NewCombineToNewOperator builds the new definition named name in namespace
// ns and places its instance at position.
func NewCombineToNewOperator(r *aggregates.Registry, s Scope, ids []uuid.UUID, name, ns, description string, position valueobjects.Position) (*CombineToNewOperator, error) {
	if len(ids) == 0 {
		return nil, pkgerrors.NewValidationError("no operators to combine")
	}
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	def, err := entities.NewDefinition(uuid.New(), name, ns)
	if err != nil {
		return nil, err
	}
	if _, err := r.DefinitionByName(def.QualifiedName()); err == nil {
		return nil, pkgerrors.NewValidationErrorf("definition %s already exists", def.QualifiedName())
	}
	def.Description = description

	cmd := &CombineToNewOperator{Scope: s, Definition: def}
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		inst, ok := comp.Children[id]
		if !ok {
			return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("instance %s in %s", id, comp.Name))
		}
		if set[id] {
			return nil, pkgerrors.NewValidationErrorf("operator %s listed twice", id)
		}
		set[id] = true
		cmd.OperatorIDs = append(cmd.OperatorIDs, id)
		cmd.Moved = append(cmd.Moved, inst.Clone())
		def.Children[id] = inst.Clone()
	}
	cmd.Instance = entities.NewInstance(def.ID, position, r.Rules().DefaultOperatorWidth)

	inputs := make(map[entities.PortRef]uuid.UUID)
	outputs := make(map[entities.PortRef]uuid.UUID)
	for _, ic := range comp.Connections.All() {
		conn := ic.Connection
		inSource, inTarget := set[conn.SourceOp], set[conn.TargetOp]
		if !inSource && !inTarget {
			continue
		}
		cmd.Captured = append(cmd.Captured, ic)
		switch {
		case inSource && inTarget:
			if err := def.Connections.InsertAt(conn, ic.Index); err != nil {
				return nil, err
			}
		case inTarget:
			port, ok := inputs[conn.Source()]
			if !ok {
				in, err := combinedInput(r, comp, conn)
				if err != nil {
					return nil, err
				}
				in.Name = uniqueInputName(def, in.Name)
				if err := def.InsertInput(in, len(def.Inputs)); err != nil {
					return nil, err
				}
				port = in.ID
				inputs[conn.Source()] = port
				outer := entities.NewConnection(conn.SourceOp, conn.SourcePort, cmd.Instance.ID, port)
				cmd.Rewired = append(cmd.Rewired, entities.IndexedConnection{Connection: outer, Index: 0})
			}
			inner := entities.NewConnection(valueobjects.Self, port, conn.TargetOp, conn.TargetPort)
			if err := def.Connections.InsertAt(inner, ic.Index); err != nil {
				return nil, err
			}
		default:
			port, ok := outputs[conn.Source()]
			if !ok {
				src, err := r.SourcePort(comp, conn.Source())
				if err != nil {
					return nil, err
				}
				out := entities.NewOutputDefinition(src.Name, src.Type)
				if err := def.InsertOutput(out, len(def.Outputs)); err != nil {
					return nil, err
				}
				port = out.ID
				outputs[conn.Source()] = port
				inner := entities.NewConnection(conn.SourceOp, conn.SourcePort, valueobjects.Self, port)
				if err := def.Connections.InsertAt(inner, 0); err != nil {
					return nil, err
				}
			}
			outer := entities.NewConnection(cmd.Instance.ID, port, conn.TargetOp, conn.TargetPort)
			cmd.Rewired = append(cmd.Rewired, entities.IndexedConnection{Connection: outer, Index: ic.Index})
		}
	}
	return cmd, nil
}

// combinedInput derives the new input for connections from conn's source.
// The name comes from the source operator, falling back to the input it feeds.
func combinedInput(r *aggregates.Registry, comp *entities.Definition, conn entities.Connection) (entities.InputDefinition, error) {
	target, err := r.TargetPort(comp, conn.Target())
	if err != nil {
		return entities.InputDefinition{}, err
	}
	targetDef, err := r.Definition(comp.Children[conn.TargetOp].DefinitionID)
	if err != nil {
		return entities.InputDefinition{}, err
	}

	name := ""
	if conn.SourceOp == valueobjects.Self {
		if in, _ := comp.Input(conn.SourcePort); in != nil {
			name = in.Name
		}
	} else if src, ok := comp.Children[conn.SourceOp]; ok {
		name = src.Name
	}
	if name == "" {
		name = target.Name
	}

	var in entities.InputDefinition
	if tmpl, _ := targetDef.Input(conn.TargetPort); tmpl != nil {
		in = tmpl.Clone()
		in.ID = uuid.New()
		in.Name = name
	} else {
		in = entities.NewInputDefinition(name, target.Type, valueobjects.Zero(target.Type))
	}
	in.Relevance = valueobjects.RelevanceRequired
	in.MultiInput = target.MultiInput
	return in, nil
}

func uniqueInputName(def *entities.Definition, name string) string {
	candidate := name
	for n := 2; ; n++ {
		if existing, _ := def.InputByName(candidate); existing == nil {
			return candidate
		}
		candidate = fmt.Sprintf("%s %d", name, n)
	}
}

func (c *CombineToNewOperator) Name() string        { return "Combine To New Operator" }
func (c *CombineToNewOperator) CommandType() string { return typeCombineToNewOperator }
func (c *CombineToNewOperator) IsUndoable() bool    { return true }

func (c *CombineToNewOperator) Do(r *aggregates.Registry) error {
	steps := []step{detachStep(r, c.Scope, c.Captured)}
	for _, id := range c.OperatorIDs {
		steps = append(steps, removeInstanceStep(r, c.Scope, id))
	}
	steps = append(steps,
		step{
			do: func() error { return r.AddDefinition(c.Definition.Clone()) },
			undo: func() error {
				_, err := r.RemoveDefinition(c.Definition.ID)
				return err
			},
		},
		addInstanceStep(r, c.Scope, c.Instance),
		restoreStep(r, c.Scope, c.Rewired),
	)
	return runSteps(c, steps...)
}

func (c *CombineToNewOperator) Undo(r *aggregates.Registry) error {
	var removed *entities.Definition
	steps := []step{
		detachStep(r, c.Scope, c.Rewired),
		removeInstanceStep(r, c.Scope, c.Instance.ID),
		{
			do: func() (err error) {
				removed, err = r.RemoveDefinition(c.Definition.ID)
				return err
			},
			undo: func() error { return r.AddDefinition(removed) },
		},
	}
	for _, inst := range c.Moved {
		steps = append(steps, addInstanceStep(r, c.Scope, inst))
	}
	steps = append(steps, restoreStep(r, c.Scope, c.Captured))
	return runSteps(c, steps...)
}

// UngroupOperator dissolves an instance into copies of its children placed
// around the instance's position. The copies and their connections are built
// once, so running Do again yields the same identifiers. It cannot be undone.
type UngroupOperator struct {
	Scope    Scope                        `json:"scope"`
	Instance uuid.UUID                    `json:"instance"`
	Copies   map[uuid.UUID]uuid.UUID      `json:"copies"`
	Placed   []*entities.Instance         `json:"placed"`
	Detached []entities.IndexedConnection `json:"detached"`
	Rewired  []entities.IndexedConnection `json:"rewired"`
}

// NewUngroupOperator requires the instance's definition to have children.
func NewUngroupOperator(r *aggregates.Registry, s Scope, instID uuid.UUID) (*UngroupOperator, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	group, def, err := r.InstanceDefinition(s, instID)
	if err != nil {
		return nil, err
	}
	if def.IsBasic() {
		return nil, pkgerrors.NewValidationErrorf("%s has no operators to ungroup", def.Name)
	}
	c := &UngroupOperator{Scope: s, Instance: instID}

	topLeft := valueobjects.Position{X: math.Inf(1), Y: math.Inf(1)}
	for _, child := range def.Children {
		if child.Visible {
			topLeft.X = math.Min(topLeft.X, child.Position.X)
			topLeft.Y = math.Min(topLeft.Y, child.Position.Y)
		}
	}
	if math.IsInf(topLeft.X, 1) {
		topLeft = valueobjects.Position{}
	}
	offset := valueobjects.Position{X: group.Position.X - topLeft.X, Y: group.Position.Y - topLeft.Y}

	c.Copies = make(map[uuid.UUID]uuid.UUID, len(def.Children))
	byID := make(map[uuid.UUID]*entities.Instance, len(def.Children))
	for _, id := range def.ChildIDs() {
		clone := def.Children[id].Clone()
		clone.ID = uuid.New()
		clone.Position = clone.Position.Add(offset)
		c.Copies[id] = clone.ID
		c.Placed = append(c.Placed, clone)
		byID[clone.ID] = clone
	}

	// sources feeding each input of the group, in sibling order
	feeding := make(map[uuid.UUID][]entities.Connection)
	c.Detached = comp.Connections.Touching(instID)
	for _, ic := range c.Detached {
		if ic.Connection.TargetOp == instID {
			feeding[ic.Connection.TargetPort] = append(feeding[ic.Connection.TargetPort], ic.Connection)
		}
	}

	next := make(map[entities.PortRef]int)
	emit := func(conn entities.Connection) {
		c.Rewired = append(c.Rewired, entities.IndexedConnection{Connection: conn, Index: next[conn.Target()]})
		next[conn.Target()]++
	}
	producer := make(map[uuid.UUID]entities.PortRef)
	unfed := make(map[uuid.UUID][]entities.PortRef)
	for _, ic := range def.Connections.All() {
		conn := ic.Connection
		switch {
		case conn.TargetOp == valueobjects.Self:
			producer[conn.TargetPort] = entities.PortRef{Op: c.Copies[conn.SourceOp], Port: conn.SourcePort}
		case conn.SourceOp == valueobjects.Self:
			target := entities.PortRef{Op: c.Copies[conn.TargetOp], Port: conn.TargetPort}
			sources := feeding[conn.SourcePort]
			if len(sources) == 0 {
				unfed[conn.SourcePort] = append(unfed[conn.SourcePort], target)
			}
			for _, src := range sources {
				emit(entities.NewConnection(src.SourceOp, src.SourcePort, target.Op, target.Port))
			}
		default:
			emit(entities.NewConnection(c.Copies[conn.SourceOp], conn.SourcePort, c.Copies[conn.TargetOp], conn.TargetPort))
		}
	}

	dropped := make(map[entities.PortRef][]int)
	for _, ic := range c.Detached {
		conn := ic.Connection
		if conn.SourceOp != instID {
			continue
		}
		src, ok := producer[conn.SourcePort]
		if !ok {
			dropped[conn.Target()] = append(dropped[conn.Target()], ic.Index)
			continue
		}
		c.Rewired = append(c.Rewired, entities.IndexedConnection{
			Connection: entities.NewConnection(src.Op, src.Port, conn.TargetOp, conn.TargetPort),
			Index:      compactIndex(ic.Index, dropped[conn.Target()]),
		})
	}

	// inputs nobody feeds keep the group's value on the operators they reached
	for inputID, targets := range unfed {
		in, _ := def.Input(inputID)
		if in == nil {
			continue
		}
		value := in.Default
		if v, ok := group.Override(inputID); ok {
			value = v
		}
		for _, t := range targets {
			clone := byID[t.Op]
			targetDef, err := r.Definition(clone.DefinitionID)
			if err != nil {
				return nil, err
			}
			if tin, _ := targetDef.Input(t.Port); tin != nil && checkValueKind(tin, value) == nil {
				clone.SetOverride(t.Port, value)
			}
		}
	}
	return c, nil
}

func (c *UngroupOperator) Name() string        { return "Ungroup Operator" }
func (c *UngroupOperator) CommandType() string { return typeUngroupOperator }
func (c *UngroupOperator) IsUndoable() bool    { return false }

func (c *UngroupOperator) Do(r *aggregates.Registry) error {
	steps := []step{
		detachStep(r, c.Scope, c.Detached),
		removeInstanceStep(r, c.Scope, c.Instance),
	}
	for _, inst := range c.Placed {
		steps = append(steps, addInstanceStep(r, c.Scope, inst))
	}
	steps = append(steps, restoreStep(r, c.Scope, c.Rewired))
	return runSteps(c, steps...)
}

func (c *UngroupOperator) Undo(r *aggregates.Registry) error {
	return ErrNotUndoable(c)
}
