package aggregates

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/entities"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// Scope addresses one composition. Path lists the ancestor instance IDs from
// the root composition down to the instance whose definition is Composition.
// An empty path edits the definition directly, independent of where it is used.
type Scope struct {
	Composition uuid.UUID   `json:"composition" validate:"required"`
	Path        []uuid.UUID `json:"path,omitempty"`
}

// Child returns the scope of the composition inside instance inst.
func (s Scope) Child(inst *entities.Instance) Scope {
	path := make([]uuid.UUID, len(s.Path), len(s.Path)+1)
	copy(path, s.Path)
	return Scope{Composition: inst.DefinitionID, Path: append(path, inst.ID)}
}

// Parent returns the enclosing scope and the ID of the instance that owns s.
func (s Scope) Parent(r *Registry) (Scope, uuid.UUID, error) {
	if len(s.Path) == 0 {
		return Scope{}, uuid.Nil, pkgerrors.NewValidationError("scope has no parent")
	}
	parentPath := s.Path[:len(s.Path)-1]
	owner := s.Path[len(s.Path)-1]
	parent := Scope{Composition: r.rootID, Path: append([]uuid.UUID(nil), parentPath...)}
	if len(parentPath) > 0 {
		def, err := r.walk(parentPath)
		if err != nil {
			return Scope{}, uuid.Nil, err
		}
		parent.Composition = def.ID
	}
	return parent, owner, nil
}

func (s Scope) String() string {
	return fmt.Sprintf("%s%v", s.Composition, s.Path)
}

func (r *Registry) walk(path []uuid.UUID) (*entities.Definition, error) {
	def, err := r.Definition(r.rootID)
	if err != nil {
		return nil, err
	}
	for depth, id := range path {
		inst, ok := def.Children[id]
		if !ok {
			return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("instance %s at depth %d", id, depth))
		}
		if def, err = r.Definition(inst.DefinitionID); err != nil {
			return nil, err
		}
	}
	return def, nil
}

// ResolveComposition returns the definition a scope addresses.
func (r *Registry) ResolveComposition(s Scope) (*entities.Definition, error) {
	if len(s.Path) == 0 {
		return r.Definition(s.Composition)
	}
	def, err := r.walk(s.Path)
	if err != nil {
		return nil, err
	}
	if def.ID != s.Composition {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("composition %s along path %v", s.Composition, s.Path))
	}
	return def, nil
}

// Instance looks up a child of the scoped composition.
func (r *Registry) Instance(s Scope, id uuid.UUID) (*entities.Instance, error) {
	comp, err := r.ResolveComposition(s)
	if err != nil {
		return nil, err
	}
	inst, ok := comp.Children[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("instance %s in %s", id, comp.Name))
	}
	return inst, nil
}

// InstanceDefinition returns an instance together with its definition.
func (r *Registry) InstanceDefinition(s Scope, id uuid.UUID) (*entities.Instance, *entities.Definition, error) {
	inst, err := r.Instance(s, id)
	if err != nil {
		return nil, nil, err
	}
	def, err := r.Definition(inst.DefinitionID)
	if err != nil {
		return nil, nil, err
	}
	return inst, def, nil
}
