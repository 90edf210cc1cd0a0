package aggregates

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/config"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// Registry is the aggregate root of the graph model. It owns every operator
// definition and resolves instances through explicit scopes. Commands receive
// it on every Do/Undo call and never keep pointers into it.
type Registry struct {
	definitions map[uuid.UUID]*entities.Definition
	rootID      uuid.UUID
	rules       *config.DomainConfig
	version     int
}

// NewRegistry creates a registry rooted at root. The built-in animation
// definitions are always present.
func NewRegistry(root *entities.Definition, rules *config.DomainConfig) (*Registry, error) {
	if root == nil {
		return nil, pkgerrors.NewValidationError("root definition is required")
	}
	if rules == nil {
		rules = config.DefaultDomainConfig()
	}
	r := &Registry{
		definitions: make(map[uuid.UUID]*entities.Definition),
		rootID:      root.ID,
		rules:       rules,
	}
	for _, def := range builtinDefinitions() {
		r.definitions[def.ID] = def
	}
	if err := r.AddDefinition(root); err != nil {
		return nil, err
	}
	return r, nil
}

// RootID returns the ID of the top-level composition.
func (r *Registry) RootID() uuid.UUID {
	return r.rootID
}

// RootScope addresses the top-level composition.
func (r *Registry) RootScope() Scope {
	return Scope{Composition: r.rootID}
}

// Rules returns the domain configuration in effect.
func (r *Registry) Rules() *config.DomainConfig {
	return r.rules
}

// Version increases on every structural mutation.
func (r *Registry) Version() int {
	return r.version
}

func (r *Registry) touch() {
	r.version++
}

// Definition looks up a definition by ID.
func (r *Registry) Definition(id uuid.UUID) (*entities.Definition, error) {
	def, ok := r.definitions[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("definition %s", id))
	}
	return def, nil
}

// DefinitionByName looks up a definition by its qualified name.
func (r *Registry) DefinitionByName(qualified string) (*entities.Definition, error) {
	for _, def := range r.Definitions() {
		if def.QualifiedName() == qualified || def.Name == qualified {
			return def, nil
		}
	}
	return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("definition %q", qualified))
}

// Definitions returns all definitions ordered by qualified name.
func (r *Registry) Definitions() []*entities.Definition {
	defs := make([]*entities.Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].QualifiedName() != defs[j].QualifiedName() {
			return defs[i].QualifiedName() < defs[j].QualifiedName()
		}
		return defs[i].ID.String() < defs[j].ID.String()
	})
	return defs
}

// AddDefinition registers a new definition.
func (r *Registry) AddDefinition(def *entities.Definition) error {
	if def == nil || def.ID == uuid.Nil {
		return pkgerrors.NewValidationError("definition must have an id")
	}
	if _, exists := r.definitions[def.ID]; exists {
		return pkgerrors.NewConflictErrorf("definition %s already registered", def.ID)
	}
	if def.Children == nil {
		def.Children = make(map[uuid.UUID]*entities.Instance)
	}
	if def.Connections == nil {
		def.Connections = entities.NewConnectionTable()
	}
	r.definitions[def.ID] = def
	r.touch()
	return nil
}

// RemoveDefinition unregisters a definition that no composition instantiates.
func (r *Registry) RemoveDefinition(id uuid.UUID) (*entities.Definition, error) {
	def, err := r.Definition(id)
	if err != nil {
		return nil, err
	}
	if id == r.rootID || IsBuiltin(id) {
		return nil, pkgerrors.NewConflictErrorf("definition %s cannot be removed", def.Name)
	}
	if n := r.UsageCount(id); n > 0 {
		return nil, pkgerrors.NewConflictErrorf("definition %s is still instantiated %d times", def.Name, n)
	}
	delete(r.definitions, id)
	r.touch()
	return def, nil
}

// UsageCount returns how many instances of a definition exist across all compositions.
func (r *Registry) UsageCount(id uuid.UUID) int {
	n := 0
	for _, def := range r.definitions {
		for _, child := range def.Children {
			if child.DefinitionID == id {
				n++
			}
		}
	}
	return n
}

// contains reports whether composition def reaches target through its children.
func (r *Registry) contains(def *entities.Definition, target uuid.UUID, seen map[uuid.UUID]bool) bool {
	if def.ID == target {
		return true
	}
	if seen[def.ID] {
		return false
	}
	seen[def.ID] = true
	for _, child := range def.Children {
		childDef, ok := r.definitions[child.DefinitionID]
		if ok && r.contains(childDef, target, seen) {
			return true
		}
	}
	return false
}
