package commands

import (
	"errors"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

const typeMacro = "Macro"

// Macro runs child commands in order and undoes them in reverse order. A
// failing child rolls back the children that already ran.
type Macro struct {
	Type     string
	Label    string
	Children []Command
}

// NewMacro groups children under one history entry.
func NewMacro(name string, children ...Command) *Macro {
	return newMacro(typeMacro, name, children...)
}

func newMacro(typ, name string, children ...Command) *Macro {
	return &Macro{Type: typ, Label: name, Children: children}
}

func (m *Macro) Name() string        { return m.Label }
func (m *Macro) CommandType() string { return m.Type }

// Append adds a child. Must not be called after Do.
func (m *Macro) Append(children ...Command) {
	m.Children = append(m.Children, children...)
}

// IsUndoable reports whether every child is undoable.
func (m *Macro) IsUndoable() bool {
	for _, c := range m.Children {
		if !c.IsUndoable() {
			return false
		}
	}
	return true
}

// Do runs the children forward.
func (m *Macro) Do(r *aggregates.Registry) error {
	for i, c := range m.Children {
		if err := c.Do(r); err != nil {
			errs := []error{err}
			for j := i - 1; j >= 0; j-- {
				if uerr := m.Children[j].Undo(r); uerr != nil {
					errs = append(errs, pkgerrors.Wrapf(uerr, "rollback of %s", m.Children[j].Name()))
				}
			}
			return pkgerrors.NewPartialApplicationError(m.Label, i, errors.Join(errs...))
		}
	}
	return nil
}

// Undo reverses the children, last first.
func (m *Macro) Undo(r *aggregates.Registry) error {
	if !m.IsUndoable() {
		return ErrNotUndoable(m)
	}
	for i := len(m.Children) - 1; i >= 0; i-- {
		if err := m.Children[i].Undo(r); err != nil {
			errs := []error{err}
			for j := i + 1; j < len(m.Children); j++ {
				if rerr := m.Children[j].Do(r); rerr != nil {
					errs = append(errs, pkgerrors.Wrapf(rerr, "rollback of %s", m.Children[j].Name()))
				}
			}
			return pkgerrors.NewPartialApplicationError(m.Label, i, errors.Join(errs...))
		}
	}
	return nil
}
