package aggregates

import (
	"github.com/google/uuid"

	"github.com/framefield/tooll-sub003/domain/core/entities"
)

// Snapshot is a deep structural copy of the registry. Two snapshots of
// identical graphs are equal under reflect.DeepEqual.
type Snapshot struct {
	Root        uuid.UUID                          `json:"root"`
	Definitions map[uuid.UUID]*entities.Definition `json:"definitions"`
}

// Snapshot copies every definition with its ports, instances, values,
// curves and indexed connections.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Root:        r.rootID,
		Definitions: make(map[uuid.UUID]*entities.Definition, len(r.definitions)),
	}
	for id, def := range r.definitions {
		snap.Definitions[id] = def.Clone()
	}
	return snap
}

// Restore replaces the registry content with a snapshot.
func (r *Registry) Restore(snap Snapshot) {
	r.definitions = make(map[uuid.UUID]*entities.Definition, len(snap.Definitions))
	for id, def := range snap.Definitions {
		r.definitions[id] = def.Clone()
	}
	r.rootID = snap.Root
	r.touch()
}
