package commands

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framefield/tooll-sub003/domain/config"
	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
)

// graphFixture is a registry with a few small definitions:
// Value (float In, float Out), Sum (multi float Inputs, float Out),
// Text (text Out), A (Size, Color, Out) and B (Color, Size, Extra, Out).
type graphFixture struct {
	reg   *aggregates.Registry
	root  Scope
	value *entities.Definition
	sum   *entities.Definition
	text  *entities.Definition
	a     *entities.Definition
	b     *entities.Definition
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	root, err := entities.NewDefinition(uuid.New(), "Project", "user")
	require.NoError(t, err)
	reg, err := aggregates.NewRegistry(root, config.DefaultDomainConfig())
	require.NoError(t, err)

	f := &graphFixture{reg: reg, root: reg.RootScope()}
	f.value = f.define(t, "Value", []entities.InputDefinition{
		entities.NewInputDefinition("In", valueobjects.KindFloat, valueobjects.Float(1)),
	}, "Out")
	sumIn := entities.NewInputDefinition("Inputs", valueobjects.KindFloat, valueobjects.Float(0))
	sumIn.MultiInput = true
	f.sum = f.define(t, "Sum", []entities.InputDefinition{sumIn}, "Out")

	f.text, err = entities.NewDefinition(uuid.New(), "Text", "lib.text")
	require.NoError(t, err)
	require.NoError(t, f.text.InsertOutput(entities.NewOutputDefinition("Out", valueobjects.KindText), 0))
	require.NoError(t, reg.AddDefinition(f.text))

	f.a = f.define(t, "A", []entities.InputDefinition{
		entities.NewInputDefinition("Size", valueobjects.KindFloat, valueobjects.Float(1)),
		entities.NewInputDefinition("Color", valueobjects.KindFloat, valueobjects.Float(0)),
	}, "Out")
	f.b = f.define(t, "B", []entities.InputDefinition{
		entities.NewInputDefinition("Color", valueobjects.KindFloat, valueobjects.Float(0)),
		entities.NewInputDefinition("Size", valueobjects.KindFloat, valueobjects.Float(1)),
		entities.NewInputDefinition("Extra", valueobjects.KindFloat, valueobjects.Float(0)),
	}, "Out")
	return f
}

func (f *graphFixture) define(t *testing.T, name string, inputs []entities.InputDefinition, output string) *entities.Definition {
	t.Helper()
	def, err := entities.NewDefinition(uuid.New(), name, "lib.test")
	require.NoError(t, err)
	for i, in := range inputs {
		require.NoError(t, def.InsertInput(in, i))
	}
	require.NoError(t, def.InsertOutput(entities.NewOutputDefinition(output, valueobjects.KindFloat), 0))
	require.NoError(t, f.reg.AddDefinition(def))
	return def
}

func (f *graphFixture) place(t *testing.T, def *entities.Definition, x, y float64) *entities.Instance {
	t.Helper()
	cmd, err := NewAddOperator(f.reg, f.root, def.ID, valueobjects.NewPosition(x, y))
	require.NoError(t, err)
	require.NoError(t, cmd.Do(f.reg))
	inst, err := f.reg.Instance(f.root, cmd.InstanceID())
	require.NoError(t, err)
	return inst
}

func (f *graphFixture) connect(t *testing.T, from *entities.Instance, fromPort uuid.UUID, to *entities.Instance, toPort uuid.UUID, index int) entities.Connection {
	t.Helper()
	conn := entities.NewConnection(from.ID, fromPort, to.ID, toPort)
	cmd, err := NewInsertConnection(f.reg, f.root, conn, index)
	require.NoError(t, err)
	require.NoError(t, cmd.Do(f.reg))
	return cmd.Connection
}

func (f *graphFixture) siblings(t *testing.T, target entities.PortRef) []entities.Connection {
	t.Helper()
	table, err := f.reg.Connections(f.root)
	require.NoError(t, err)
	return table.Siblings(target)
}

func out(def *entities.Definition) uuid.UUID { return def.Outputs[0].ID }

func input(def *entities.Definition, name string) uuid.UUID {
	in, _ := def.InputByName(name)
	if in == nil {
		panic("no input " + name)
	}
	return in.ID
}

// requireSymmetric runs Do, Undo, Do and checks the snapshots line up.
func requireSymmetric(t *testing.T, reg *aggregates.Registry, cmd Command) {
	t.Helper()
	before := reg.Snapshot()
	require.NoError(t, cmd.Do(reg))
	after := reg.Snapshot()
	require.NoError(t, cmd.Undo(reg))
	assert.Equal(t, before, reg.Snapshot(), "undo of %s", cmd.Name())
	require.NoError(t, cmd.Do(reg))
	assert.Equal(t, after, reg.Snapshot(), "redo of %s", cmd.Name())
}
