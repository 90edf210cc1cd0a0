package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PortRef addresses one port of one operator inside a composition.
// Op is uuid.Nil for the composition's own ports.
type PortRef struct {
	Op   uuid.UUID `json:"op"`
	Port uuid.UUID `json:"port"`
}

func (p PortRef) String() string {
	return p.Op.String() + "/" + p.Port.String()
}

func (p PortRef) less(o PortRef) bool {
	if c := bytes.Compare(p.Op[:], o.Op[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(p.Port[:], o.Port[:]) < 0
}

// Connection links an output to an input inside a composition.
type Connection struct {
	ID         uuid.UUID `json:"id"`
	SourceOp   uuid.UUID `json:"sourceOp"`
	SourcePort uuid.UUID `json:"sourcePort"`
	TargetOp   uuid.UUID `json:"targetOp"`
	TargetPort uuid.UUID `json:"targetPort"`
}

// NewConnection creates a connection with a fresh ID.
func NewConnection(sourceOp, sourcePort, targetOp, targetPort uuid.UUID) Connection {
	return Connection{
		ID:         uuid.New(),
		SourceOp:   sourceOp,
		SourcePort: sourcePort,
		TargetOp:   targetOp,
		TargetPort: targetPort,
	}
}

// Source returns the source port reference.
func (c Connection) Source() PortRef { return PortRef{Op: c.SourceOp, Port: c.SourcePort} }

// Target returns the target port reference.
func (c Connection) Target() PortRef { return PortRef{Op: c.TargetOp, Port: c.TargetPort} }

// SameEndpoints reports whether c and o link the same ports, ignoring IDs.
func (c Connection) SameEndpoints(o Connection) bool {
	return c.Source() == o.Source() && c.Target() == o.Target()
}

// Touches reports whether either end of c is op.
func (c Connection) Touches(op uuid.UUID) bool {
	return c.SourceOp == op || c.TargetOp == op
}

// IndexedConnection is a connection together with its position among the
// siblings sharing its target.
type IndexedConnection struct {
	Connection Connection `json:"connection"`
	Index      int        `json:"index"`
}

// SortForReinsert orders captured connections by target then ascending index.
// Re-inserting in this order rebuilds the original sibling order.
func SortForReinsert(conns []IndexedConnection) {
	sort.SliceStable(conns, func(i, j int) bool {
		ti, tj := conns[i].Connection.Target(), conns[j].Connection.Target()
		if ti != tj {
			return ti.less(tj)
		}
		return conns[i].Index < conns[j].Index
	})
}

// ConnectionTable stores the connections of a composition grouped per target
// port. The position inside a group is the connection index.
type ConnectionTable struct {
	byTarget map[PortRef][]Connection
}

// NewConnectionTable creates an empty table.
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{byTarget: make(map[PortRef][]Connection)}
}

// Siblings returns a copy of the connections feeding target, in index order.
func (t *ConnectionTable) Siblings(target PortRef) []Connection {
	return append([]Connection(nil), t.byTarget[target]...)
}

// Count returns the number of connections feeding target.
func (t *ConnectionTable) Count(target PortRef) int {
	return len(t.byTarget[target])
}

// At returns the connection at index for target.
func (t *ConnectionTable) At(target PortRef, index int) (Connection, bool) {
	group := t.byTarget[target]
	if index < 0 || index >= len(group) {
		return Connection{}, false
	}
	return group[index], true
}

// InsertAt inserts conn at index among its target's siblings. Later siblings shift down.
func (t *ConnectionTable) InsertAt(conn Connection, index int) error {
	target := conn.Target()
	group := t.byTarget[target]
	if index < 0 || index > len(group) {
		return fmt.Errorf("connection index %d out of range [0,%d] for %s", index, len(group), target)
	}
	group = append(group, Connection{})
	copy(group[index+1:], group[index:])
	group[index] = conn
	t.byTarget[target] = group
	return nil
}

// RemoveAt removes the connection at index for target. Later siblings shift up.
func (t *ConnectionTable) RemoveAt(target PortRef, index int) (Connection, error) {
	group := t.byTarget[target]
	if index < 0 || index >= len(group) {
		return Connection{}, fmt.Errorf("connection index %d out of range [0,%d) for %s", index, len(group), target)
	}
	removed := group[index]
	group = append(group[:index], group[index+1:]...)
	if len(group) == 0 {
		delete(t.byTarget, target)
	} else {
		t.byTarget[target] = group
	}
	return removed, nil
}

// IndexOf returns the index of the first connection with the same endpoints as conn, or -1.
func (t *ConnectionTable) IndexOf(conn Connection) int {
	for i, c := range t.byTarget[conn.Target()] {
		if c.SameEndpoints(conn) {
			return i
		}
	}
	return -1
}

// IndexOfID returns the index of the connection with the given ID under target, or -1.
func (t *ConnectionTable) IndexOfID(target PortRef, id uuid.UUID) int {
	for i, c := range t.byTarget[target] {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (t *ConnectionTable) sortedTargets() []PortRef {
	targets := make([]PortRef, 0, len(t.byTarget))
	for target := range t.byTarget {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].less(targets[j]) })
	return targets
}

// All returns every connection with its index, grouped by target in a stable order.
func (t *ConnectionTable) All() []IndexedConnection {
	var out []IndexedConnection
	for _, target := range t.sortedTargets() {
		for i, c := range t.byTarget[target] {
			out = append(out, IndexedConnection{Connection: c, Index: i})
		}
	}
	return out
}

// Len returns the total number of connections.
func (t *ConnectionTable) Len() int {
	n := 0
	for _, group := range t.byTarget {
		n += len(group)
	}
	return n
}

// Touching returns the connections with either end at op, with their indices.
func (t *ConnectionTable) Touching(op uuid.UUID) []IndexedConnection {
	var out []IndexedConnection
	for _, ic := range t.All() {
		if ic.Connection.Touches(op) {
			out = append(out, ic)
		}
	}
	return out
}

// From returns the connections whose source is the given port.
func (t *ConnectionTable) From(source PortRef) []IndexedConnection {
	var out []IndexedConnection
	for _, ic := range t.All() {
		if ic.Connection.Source() == source {
			out = append(out, ic)
		}
	}
	return out
}

// Clone returns a deep copy.
func (t *ConnectionTable) Clone() *ConnectionTable {
	c := NewConnectionTable()
	for target, group := range t.byTarget {
		if len(group) > 0 {
			c.byTarget[target] = append([]Connection(nil), group...)
		}
	}
	return c
}

// MarshalJSON implements json.Marshaler
func (t *ConnectionTable) MarshalJSON() ([]byte, error) {
	all := t.All()
	if all == nil {
		all = []IndexedConnection{}
	}
	return json.Marshal(all)
}

// UnmarshalJSON implements json.Unmarshaler
func (t *ConnectionTable) UnmarshalJSON(data []byte) error {
	var all []IndexedConnection
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	SortForReinsert(all)
	*t = *NewConnectionTable()
	for _, ic := range all {
		if err := t.InsertAt(ic.Connection, ic.Index); err != nil {
			return err
		}
	}
	return nil
}
