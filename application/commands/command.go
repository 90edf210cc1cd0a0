// Package commands holds the undoable graph mutations. Every command captures
// identifiers and prior state when it is built and re-resolves live objects
// from the registry on each Do and Undo.
package commands

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// Command is the unit of work driven by the undo/redo stack.
type Command interface {
	// Name is a human-readable label for history lists.
	Name() string
	// CommandType is the stable tag used by the codec.
	CommandType() string
	IsUndoable() bool
	Do(r *aggregates.Registry) error
	// Undo reverses Do. Non-undoable commands return a NOT_UNDOABLE error.
	Undo(r *aggregates.Registry) error
}

// ErrNotUndoable builds the error returned by Undo on a non-undoable command.
func ErrNotUndoable(c Command) error {
	return pkgerrors.NewNotUndoableError(c.Name())
}

// Scope aliases the registry scope so callers only import this package.
type Scope = aggregates.Scope

func wrapDo(c Command, err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, "%s", c.Name())
}

// step is one registry mutation of a multi-step Do together with its inverse.
type step struct {
	do   func() error
	undo func() error
}

// runSteps applies steps in order. When one fails, the steps already applied
// are undone last first and the registry is left as it was.
func runSteps(c Command, steps ...step) error {
	for i, s := range steps {
		err := s.do()
		if err == nil {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if uerr := steps[j].undo(); uerr != nil {
				return pkgerrors.NewPartialApplicationError(c.Name(), i, fmt.Errorf("%w; rollback: %v", err, uerr))
			}
		}
		return wrapDo(c, err)
	}
	return nil
}

func detachStep(r *aggregates.Registry, s Scope, conns []entities.IndexedConnection) step {
	return step{
		do:   func() error { return r.DetachConnections(s, conns) },
		undo: func() error { return r.RestoreConnections(s, conns) },
	}
}

func restoreStep(r *aggregates.Registry, s Scope, conns []entities.IndexedConnection) step {
	return step{
		do:   func() error { return r.RestoreConnections(s, conns) },
		undo: func() error { return r.DetachConnections(s, conns) },
	}
}

func addInstanceStep(r *aggregates.Registry, s Scope, inst *entities.Instance) step {
	return step{
		do: func() error { return r.AddInstance(s, inst.Clone()) },
		undo: func() error {
			_, _, err := r.RemoveInstance(s, inst.ID)
			return err
		},
	}
}

// removeInstanceStep takes back the instance together with any connection
// that still touched it.
func removeInstanceStep(r *aggregates.Registry, s Scope, id uuid.UUID) step {
	var (
		removed  *entities.Instance
		touching []entities.IndexedConnection
	)
	return step{
		do: func() (err error) {
			removed, touching, err = r.RemoveInstance(s, id)
			return err
		},
		undo: func() error {
			if err := r.AddInstance(s, removed); err != nil {
				return err
			}
			return r.RestoreConnections(s, touching)
		},
	}
}
