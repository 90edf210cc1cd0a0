package commands

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	"github.com/framefield/tooll-sub003/domain/curve"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

func TestCommands_DoUndoSymmetry(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T, f *graphFixture) Command
	}{
		{
			name: "add operator",
			build: func(t *testing.T, f *graphFixture) Command {
				cmd, err := NewAddOperator(f.reg, f.root, f.value.ID, valueobjects.NewPosition(100, 100))
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "insert connection",
			build: func(t *testing.T, f *graphFixture) Command {
				src, dst := f.place(t, f.value, 0, 0), f.place(t, f.value, 0, 100)
				cmd, err := NewInsertConnection(f.reg, f.root, entities.NewConnection(src.ID, out(f.value), dst.ID, input(f.value, "In")), 0)
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "remove connection",
			build: func(t *testing.T, f *graphFixture) Command {
				src, dst := f.place(t, f.value, 0, 0), f.place(t, f.sum, 0, 100)
				f.connect(t, src, out(f.value), dst, input(f.sum, "Inputs"), 0)
				f.connect(t, src, out(f.value), dst, input(f.sum, "Inputs"), 1)
				cmd, err := NewRemoveConnection(f.reg, f.root, entities.PortRef{Op: dst.ID, Port: input(f.sum, "Inputs")}, 0)
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "replace connection",
			build: func(t *testing.T, f *graphFixture) Command {
				a, b, dst := f.place(t, f.value, 0, 0), f.place(t, f.value, 100, 0), f.place(t, f.sum, 0, 100)
				target := entities.PortRef{Op: dst.ID, Port: input(f.sum, "Inputs")}
				f.connect(t, a, out(f.value), dst, target.Port, 0)
				cmd, err := NewReplaceConnection(f.reg, f.root, target, 0, entities.PortRef{Op: b.ID, Port: out(f.value)})
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "insert operator",
			build: func(t *testing.T, f *graphFixture) Command {
				src, dst := f.place(t, f.value, 0, 0), f.place(t, f.sum, 0, 200)
				target := entities.PortRef{Op: dst.ID, Port: input(f.sum, "Inputs")}
				f.connect(t, src, out(f.value), dst, target.Port, 0)
				cmd, err := NewInsertOperator(f.reg, f.root, f.value.ID, target, 0)
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "add operator and connect",
			build: func(t *testing.T, f *graphFixture) Command {
				a, b := f.place(t, f.value, 0, 0), f.place(t, f.value, 200, 0)
				cmd, err := NewAddOperatorAndConnectToInputs(f.reg, f.root, f.sum.ID, []uuid.UUID{a.ID, b.ID}, valueobjects.Position{})
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "delete operators",
			build: func(t *testing.T, f *graphFixture) Command {
				a, b, sum := f.place(t, f.value, 0, 0), f.place(t, f.value, 100, 0), f.place(t, f.sum, 0, 100)
				f.connect(t, a, out(f.value), sum, input(f.sum, "Inputs"), 0)
				f.connect(t, b, out(f.value), sum, input(f.sum, "Inputs"), 1)
				f.connect(t, a, out(f.value), sum, input(f.sum, "Inputs"), 2)
				cmd, err := NewDeleteOperators(f.reg, f.root, []uuid.UUID{a.ID})
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "duplicate operators",
			build: func(t *testing.T, f *graphFixture) Command {
				a, sum := f.place(t, f.value, 0, 0), f.place(t, f.sum, 0, 100)
				f.connect(t, a, out(f.value), sum, input(f.sum, "Inputs"), 0)
				cmd, err := NewDuplicateOperators(f.reg, f.root, []uuid.UUID{a.ID, sum.ID})
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "update operator properties",
			build: func(t *testing.T, f *graphFixture) Command {
				a := f.place(t, f.value, 0, 0)
				props := PropertiesOf(a)
				props.Name = "renamed"
				props.Disabled = true
				cmd, err := NewUpdateOperatorProperties(f.reg, f.root, map[uuid.UUID]OperatorProperties{a.ID: props})
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "rename namespace",
			build: func(t *testing.T, f *graphFixture) Command {
				cmd, err := NewRenameNamespace(f.reg, map[uuid.UUID]string{f.value.ID: "lib.moved"})
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "set value",
			build: func(t *testing.T, f *graphFixture) Command {
				a := f.place(t, f.value, 0, 0)
				cmd, err := NewSetValue(f.reg, f.root, a.ID, input(f.value, "In"), valueobjects.Float(7))
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "set input as and reset to default",
			build: func(t *testing.T, f *graphFixture) Command {
				a := f.place(t, f.value, 0, 0)
				set, err := NewSetValue(f.reg, f.root, a.ID, input(f.value, "In"), valueobjects.Float(7))
				require.NoError(t, err)
				require.NoError(t, set.Do(f.reg))
				cmd, err := NewSetInputAsAndResetToDefault(f.reg, f.root, a.ID, input(f.value, "In"))
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "setup animation",
			build: func(t *testing.T, f *graphFixture) Command {
				a := f.place(t, f.value, 0, 0)
				cmd, err := NewSetupAnimation(f.reg, f.root, []InputRef{{Instance: a.ID, Input: input(f.value, "In")}}, 0)
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "add input",
			build: func(t *testing.T, f *graphFixture) Command {
				cmd, err := NewAddInput(f.reg, f.value.ID, "Gain", valueobjects.KindFloat, valueobjects.Float(2))
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "remove input",
			build: func(t *testing.T, f *graphFixture) Command {
				src, a := f.place(t, f.value, 0, 0), f.place(t, f.a, 0, 100)
				f.connect(t, src, out(f.value), a, input(f.a, "Color"), 0)
				set, err := NewSetValue(f.reg, f.root, a.ID, input(f.a, "Size"), valueobjects.Float(3))
				require.NoError(t, err)
				require.NoError(t, set.Do(f.reg))
				cmd, err := NewRemoveInput(f.reg, f.a.ID, input(f.a, "Size"))
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "reorder inputs",
			build: func(t *testing.T, f *graphFixture) Command {
				ids := f.b.InputIDs()
				cmd, err := NewReorderInputs(f.reg, f.b.ID, []uuid.UUID{ids[2], ids[0], ids[1]})
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "update input parameter",
			build: func(t *testing.T, f *graphFixture) Command {
				in, _ := f.a.InputByName("Size")
				params := ParametersOf(*in)
				params.Name = "Scale"
				params.Max = 10
				cmd, err := NewUpdateInputParameter(f.reg, f.a.ID, in.ID, params)
				require.NoError(t, err)
				return cmd
			},
		},
		{
			name: "combine to new operator",
			build: func(t *testing.T, f *graphFixture) Command {
				src, a, b, sink := f.place(t, f.value, 0, 0), f.place(t, f.value, 0, 100), f.place(t, f.value, 0, 200), f.place(t, f.sum, 0, 300)
				f.connect(t, src, out(f.value), a, input(f.value, "In"), 0)
				f.connect(t, a, out(f.value), b, input(f.value, "In"), 0)
				f.connect(t, b, out(f.value), sink, input(f.sum, "Inputs"), 0)
				cmd, err := NewCombineToNewOperator(f.reg, f.root, []uuid.UUID{a.ID, b.ID}, "Pair", "user", "", valueobjects.NewPosition(0, 150))
				require.NoError(t, err)
				return cmd
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGraphFixture(t)
			requireSymmetric(t, f.reg, tt.build(t, f))
		})
	}
}

func TestInsertConnection_PreservesSiblingOrder(t *testing.T) {
	f := newGraphFixture(t)
	sum := f.place(t, f.sum, 0, 200)
	target := entities.PortRef{Op: sum.ID, Port: input(f.sum, "Inputs")}
	var sources []*entities.Instance
	for i := 0; i < 4; i++ {
		src := f.place(t, f.value, float64(i)*100, 0)
		f.connect(t, src, out(f.value), sum, target.Port, i)
		sources = append(sources, src)
	}
	original := f.siblings(t, target)

	for k := 0; k <= len(original); k++ {
		extra := f.place(t, f.value, 500, 0)
		cmd, err := NewInsertConnection(f.reg, f.root, entities.NewConnection(extra.ID, out(f.value), sum.ID, target.Port), k)
		require.NoError(t, err)
		require.NoError(t, cmd.Do(f.reg))

		got := f.siblings(t, target)
		require.Len(t, got, len(original)+1)
		assert.Equal(t, extra.ID, got[k].SourceOp)

		require.NoError(t, cmd.Undo(f.reg))
		assert.Equal(t, original, f.siblings(t, target), "index %d", k)
	}

	del, err := NewDeleteOperators(f.reg, f.root, []uuid.UUID{sources[1].ID, sources[3].ID})
	require.NoError(t, err)
	require.NoError(t, del.Do(f.reg))
	assert.Len(t, f.siblings(t, target), 2)
	require.NoError(t, del.Undo(f.reg))
	assert.Equal(t, original, f.siblings(t, target))
}

func TestNewInsertConnection_Validation(t *testing.T) {
	f := newGraphFixture(t)
	a, b := f.place(t, f.value, 0, 0), f.place(t, f.value, 0, 100)
	txt := f.place(t, f.text, 100, 0)
	f.connect(t, a, out(f.value), b, input(f.value, "In"), 0)

	tests := []struct {
		name  string
		conn  entities.Connection
		index int
		check func(error) bool
	}{
		{"type mismatch", entities.NewConnection(txt.ID, out(f.text), a.ID, input(f.value, "In")), 0, pkgerrors.IsValidation},
		{"single input occupied", entities.NewConnection(a.ID, out(f.value), b.ID, input(f.value, "In")), 0, pkgerrors.IsConflict},
		{"unknown port", entities.NewConnection(a.ID, uuid.New(), b.ID, input(f.value, "In")), 0, pkgerrors.IsNotFound},
		{"self loop", entities.NewConnection(a.ID, out(f.value), a.ID, input(f.value, "In")), 0, pkgerrors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInsertConnection(f.reg, f.root, tt.conn, tt.index)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}
}

func TestDeleteOperators_CascadesAnimation(t *testing.T) {
	f := newGraphFixture(t)
	a := f.place(t, f.value, 0, 0)
	in := input(f.value, "In")

	setup, err := NewSetupAnimation(f.reg, f.root, []InputRef{{Instance: a.ID, Input: in}}, 0)
	require.NoError(t, err)
	require.NoError(t, setup.Do(f.reg))
	anim, ok, err := f.reg.Animation(f.root, a.ID, in)
	require.NoError(t, err)
	require.True(t, ok)
	key, err := NewAddOrUpdateKeyframe(f.reg, f.root, anim.CurveOp, 10, curve.NewKeyframe(5))
	require.NoError(t, err)
	require.NoError(t, key.Do(f.reg))

	before := f.reg.Snapshot()
	del, err := NewDeleteOperators(f.reg, f.root, []uuid.UUID{a.ID})
	require.NoError(t, err)
	require.NoError(t, del.Do(f.reg))

	comp, err := f.reg.ResolveComposition(f.root)
	require.NoError(t, err)
	assert.Empty(t, comp.Children, "curve and time operators go with the animation")
	assert.Zero(t, comp.Connections.Len())

	require.NoError(t, del.Undo(f.reg))
	assert.Equal(t, before, f.reg.Snapshot())
	assert.True(t, f.reg.IsAnimated(f.root, a.ID, in))
	restored, err := f.reg.Curve(f.root, anim.CurveOp)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Len())
}

func TestRemoveKeyframes_LastKeyCollapsesAnimation(t *testing.T) {
	f := newGraphFixture(t)
	a := f.place(t, f.value, 0, 0)
	in := input(f.value, "In")
	set, err := NewSetValue(f.reg, f.root, a.ID, in, valueobjects.Float(4))
	require.NoError(t, err)
	require.NoError(t, set.Do(f.reg))

	setup, err := NewSetupAnimation(f.reg, f.root, []InputRef{{Instance: a.ID, Input: in}}, 0)
	require.NoError(t, err)
	require.NoError(t, setup.Do(f.reg))
	anim, _, err := f.reg.Animation(f.root, a.ID, in)
	require.NoError(t, err)

	before := f.reg.Snapshot()
	remove, err := NewRemoveKeyframes(f.reg, f.root, []KeyRef{{CurveOp: anim.CurveOp, Time: 0}}, 0)
	require.NoError(t, err)
	require.NoError(t, remove.Do(f.reg))

	assert.False(t, f.reg.IsAnimated(f.root, a.ID, in))
	v, err := f.reg.InputValue(f.root, a.ID, in, 0)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.Float(4), v)

	require.NoError(t, remove.Undo(f.reg))
	assert.Equal(t, before, f.reg.Snapshot())
}

func TestMoveKeyframe_OverwritesAndRestores(t *testing.T) {
	f := newGraphFixture(t)
	a := f.place(t, f.value, 0, 0)
	in := input(f.value, "In")
	setup, err := NewSetupAnimation(f.reg, f.root, []InputRef{{Instance: a.ID, Input: in}}, 0)
	require.NoError(t, err)
	require.NoError(t, setup.Do(f.reg))
	anim, _, err := f.reg.Animation(f.root, a.ID, in)
	require.NoError(t, err)
	add, err := NewAddOrUpdateKeyframeForInput(f.reg, f.root, a.ID, in, 5, 9)
	require.NoError(t, err)
	require.NoError(t, add.Do(f.reg))

	move, err := NewMoveKeyframe(f.reg, f.root, anim.CurveOp, 0, 5)
	require.NoError(t, err)
	requireSymmetric(t, f.reg, move)

	crv, err := f.reg.Curve(f.root, anim.CurveOp)
	require.NoError(t, err)
	assert.Equal(t, 1, crv.Len())
	k, ok := crv.Key(5)
	require.True(t, ok)
	assert.Equal(t, 1.0, k.Value)
}

func TestReplaceOperator_RemapsPortsByName(t *testing.T) {
	f := newGraphFixture(t)
	size, color := f.place(t, f.value, 0, 0), f.place(t, f.value, 100, 0)
	a := f.place(t, f.a, 50, 100)
	sink := f.place(t, f.sum, 50, 200)
	other := f.place(t, f.value, 200, 100)
	f.connect(t, size, out(f.value), a, input(f.a, "Size"), 0)
	f.connect(t, color, out(f.value), a, input(f.a, "Color"), 0)
	f.connect(t, other, out(f.value), sink, input(f.sum, "Inputs"), 0)
	f.connect(t, a, out(f.a), sink, input(f.sum, "Inputs"), 1)
	f.connect(t, other, out(f.value), sink, input(f.sum, "Inputs"), 2)

	cmd, err := NewReplaceOperator(f.reg, f.root, a.ID, f.b.ID)
	require.NoError(t, err)
	assert.Equal(t, input(f.b, "Size"), cmd.InputMap[input(f.a, "Size")])
	assert.Equal(t, input(f.b, "Color"), cmd.InputMap[input(f.a, "Color")])

	requireSymmetric(t, f.reg, cmd)

	newID := cmd.New.ID
	assert.Equal(t, size.ID, f.siblings(t, entities.PortRef{Op: newID, Port: input(f.b, "Size")})[0].SourceOp)
	assert.Equal(t, color.ID, f.siblings(t, entities.PortRef{Op: newID, Port: input(f.b, "Color")})[0].SourceOp)
	assert.Empty(t, f.siblings(t, entities.PortRef{Op: newID, Port: input(f.b, "Extra")}))

	sinkInputs := f.siblings(t, entities.PortRef{Op: sink.ID, Port: input(f.sum, "Inputs")})
	require.Len(t, sinkInputs, 3)
	assert.Equal(t, newID, sinkInputs[1].SourceOp)

	inst, err := f.reg.Instance(f.root, newID)
	require.NoError(t, err)
	assert.Equal(t, a.Position, inst.Position)
}

func TestMacro_OrderAndRedo(t *testing.T) {
	f := newGraphFixture(t)
	src := f.place(t, f.value, 0, 0)
	add, err := NewAddOperator(f.reg, f.root, f.value.ID, valueobjects.NewPosition(100, 100))
	require.NoError(t, err)
	conn := insertConnection(f.root, entities.NewConnection(src.ID, out(f.value), add.InstanceID(), input(f.value, "In")), 0)
	macro := NewMacro("Add And Connect", add, conn)

	require.NoError(t, macro.Do(f.reg))
	require.NoError(t, macro.Undo(f.reg))
	_, err = f.reg.Instance(f.root, add.InstanceID())
	assert.True(t, pkgerrors.IsNotFound(err))

	require.NoError(t, macro.Do(f.reg))
	_, err = f.reg.Instance(f.root, add.InstanceID())
	require.NoError(t, err)
	got := f.siblings(t, entities.PortRef{Op: add.InstanceID(), Port: input(f.value, "In")})
	require.Len(t, got, 1)
	assert.Equal(t, conn.Connection.ID, got[0].ID)
}

type failingCommand struct{ undoErr bool }

func (c *failingCommand) Name() string        { return "Fail" }
func (c *failingCommand) CommandType() string { return "Fail" }
func (c *failingCommand) IsUndoable() bool    { return true }
func (c *failingCommand) Do(*aggregates.Registry) error {
	if c.undoErr {
		return nil
	}
	return errors.New("boom")
}
func (c *failingCommand) Undo(*aggregates.Registry) error {
	if c.undoErr {
		return errors.New("boom")
	}
	return nil
}

func TestMacro_RollsBackOnFailure(t *testing.T) {
	f := newGraphFixture(t)
	before := f.reg.Snapshot()
	add, err := NewAddOperator(f.reg, f.root, f.value.ID, valueobjects.NewPosition(0, 0))
	require.NoError(t, err)
	set := &SetInputAsDefault{Definition: f.value.ID, Input: input(f.value, "In"), Value: valueobjects.Float(3), Previous: valueobjects.Float(1)}

	macro := NewMacro("Broken", add, set, &failingCommand{})
	err = macro.Do(f.reg)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsPartialApplication(err))
	assert.Equal(t, before, f.reg.Snapshot())

	undoFails := NewMacro("Broken Undo", &failingCommand{undoErr: true}, add)
	require.NoError(t, undoFails.Do(f.reg))
	after := f.reg.Snapshot()
	err = undoFails.Undo(f.reg)
	assert.True(t, pkgerrors.IsPartialApplication(err))
	assert.Equal(t, after, f.reg.Snapshot())
}

func TestUngroupOperator_InlinesChildren(t *testing.T) {
	f := newGraphFixture(t)
	src, a, b, sink := f.place(t, f.value, 0, 0), f.place(t, f.value, 0, 100), f.place(t, f.value, 0, 200), f.place(t, f.sum, 0, 300)
	f.connect(t, src, out(f.value), a, input(f.value, "In"), 0)
	f.connect(t, a, out(f.value), b, input(f.value, "In"), 0)
	f.connect(t, b, out(f.value), sink, input(f.sum, "Inputs"), 0)

	combine, err := NewCombineToNewOperator(f.reg, f.root, []uuid.UUID{a.ID, b.ID}, "Pair", "user", "", valueobjects.NewPosition(400, 400))
	require.NoError(t, err)
	require.NoError(t, combine.Do(f.reg))
	require.Len(t, combine.Definition.Inputs, 1)
	assert.Equal(t, valueobjects.RelevanceRequired, combine.Definition.Inputs[0].Relevance)
	require.Len(t, combine.Definition.Outputs, 1)

	ungroup, err := NewUngroupOperator(f.reg, f.root, combine.Instance.ID)
	require.NoError(t, err)
	assert.False(t, ungroup.IsUndoable())
	require.NoError(t, ungroup.Do(f.reg))
	assert.True(t, pkgerrors.IsNotUndoable(ungroup.Undo(f.reg)))

	comp, err := f.reg.ResolveComposition(f.root)
	require.NoError(t, err)
	assert.Len(t, comp.Children, 4)
	assert.Equal(t, 3, comp.Connections.Len())

	newA := ungroup.Copies[a.ID]
	fed := f.siblings(t, entities.PortRef{Op: newA, Port: input(f.value, "In")})
	require.Len(t, fed, 1)
	assert.Equal(t, src.ID, fed[0].SourceOp)
	sinkIn := f.siblings(t, entities.PortRef{Op: sink.ID, Port: input(f.sum, "Inputs")})
	require.Len(t, sinkIn, 1)
	assert.Equal(t, ungroup.Copies[b.ID], sinkIn[0].SourceOp)
	placed, err := f.reg.Instance(f.root, newA)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.NewPosition(400, 400), placed.Position)
}

func TestSetValueGroup_KeysAnimatedInputs(t *testing.T) {
	f := newGraphFixture(t)
	a, b := f.place(t, f.value, 0, 0), f.place(t, f.value, 100, 0)
	in := input(f.value, "In")
	setup, err := NewSetupAnimation(f.reg, f.root, []InputRef{{Instance: a.ID, Input: in}}, 0)
	require.NoError(t, err)
	require.NoError(t, setup.Do(f.reg))

	group, err := NewSetValueGroup(f.reg, f.root, []ValueEntry{
		{InputRef: InputRef{Instance: a.ID, Input: in}, Value: 2},
		{InputRef: InputRef{Instance: b.ID, Input: in}, Value: 3},
	}, 4)
	require.NoError(t, err)
	require.NoError(t, UpdateFloatAt(group, 1, 6))
	assert.Error(t, UpdateFloatAt(group, 2, 0))
	requireSymmetric(t, f.reg, group)

	va, err := f.reg.InputValue(f.root, a.ID, in, 4)
	require.NoError(t, err)
	assert.InDelta(t, 2, va.Float, 1e-9)
	vb, err := f.reg.InputValue(f.root, b.ID, in, 4)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.Float(6), vb)

	reset, err := NewResetInputGroup(f.reg, f.root, []InputRef{{Instance: a.ID, Input: in}, {Instance: b.ID, Input: in}})
	require.NoError(t, err)
	requireSymmetric(t, f.reg, reset)
	assert.False(t, f.reg.IsAnimated(f.root, a.ID, in))
	vb, err = f.reg.InputValue(f.root, b.ID, in, 0)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.Float(1), vb)
}

func TestPublishAsInput_WiresCompositionInput(t *testing.T) {
	f := newGraphFixture(t)
	a := f.place(t, f.value, 0, 0)
	set, err := NewSetValue(f.reg, f.root, a.ID, input(f.value, "In"), valueobjects.Float(8))
	require.NoError(t, err)
	require.NoError(t, set.Do(f.reg))

	publish, err := NewPublishAsInput(f.reg, f.root, a.ID, input(f.value, "In"), "Level")
	require.NoError(t, err)
	requireSymmetric(t, f.reg, publish)

	root, err := f.reg.ResolveComposition(f.root)
	require.NoError(t, err)
	published, _ := root.InputByName("Level")
	require.NotNil(t, published)
	assert.Equal(t, valueobjects.Float(8), published.Default)
	fed := f.siblings(t, entities.PortRef{Op: a.ID, Port: input(f.value, "In")})
	require.Len(t, fed, 1)
	assert.Equal(t, valueobjects.Self, fed[0].SourceOp)

	_, err = NewPublishAsInput(f.reg, f.root, a.ID, input(f.value, "In"), "Again")
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestDo_MissingTargetIsNotFound(t *testing.T) {
	f := newGraphFixture(t)
	a := f.place(t, f.value, 0, 0)
	set, err := NewSetValue(f.reg, f.root, a.ID, input(f.value, "In"), valueobjects.Float(2))
	require.NoError(t, err)

	del, err := NewDeleteOperators(f.reg, f.root, []uuid.UUID{a.ID})
	require.NoError(t, err)
	require.NoError(t, del.Do(f.reg))

	err = set.Do(f.reg)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestUngroupOperator_RepeatsSameCopies(t *testing.T) {
	f := newGraphFixture(t)
	src, a, b := f.place(t, f.value, 0, 0), f.place(t, f.value, 0, 100), f.place(t, f.value, 0, 200)
	f.connect(t, src, out(f.value), a, input(f.value, "In"), 0)
	f.connect(t, a, out(f.value), b, input(f.value, "In"), 0)
	combine, err := NewCombineToNewOperator(f.reg, f.root, []uuid.UUID{a.ID, b.ID}, "Pair", "user", "", valueobjects.NewPosition(400, 400))
	require.NoError(t, err)
	require.NoError(t, combine.Do(f.reg))

	ungroup, err := NewUngroupOperator(f.reg, f.root, combine.Instance.ID)
	require.NoError(t, err)
	require.Len(t, ungroup.Copies, 2)
	before := f.reg.Snapshot()
	require.NoError(t, ungroup.Do(f.reg))
	after := f.reg.Snapshot()

	// a decoded copy of the command, as read back from a journal
	rec, err := Encode(ungroup)
	require.NoError(t, err)
	decoded, err := Decode(rec)
	require.NoError(t, err)
	f.reg.Restore(before)
	require.NoError(t, decoded.Do(f.reg))

	assert.Equal(t, after, f.reg.Snapshot())
	_, err = f.reg.Instance(f.root, ungroup.Copies[a.ID])
	assert.NoError(t, err)
}

func TestMultiStepDo_LeavesGraphUntouchedOnFailure(t *testing.T) {
	tests := []struct {
		name string
		// build returns a command whose Do fails after its first steps succeed
		build func(t *testing.T, f *graphFixture) Command
	}{
		{
			name: "replace operator",
			build: func(t *testing.T, f *graphFixture) Command {
				src, old := f.place(t, f.value, 0, 0), f.place(t, f.a, 0, 100)
				f.connect(t, src, out(f.value), old, input(f.a, "Size"), 0)
				repl, err := NewReplaceOperator(f.reg, f.root, old.ID, f.b.ID)
				require.NoError(t, err)
				require.NoError(t, f.reg.AddInstance(f.root, repl.New.Clone()))
				return repl
			},
		},
		{
			name: "combine to new operator",
			build: func(t *testing.T, f *graphFixture) Command {
				src, a := f.place(t, f.value, 0, 0), f.place(t, f.value, 0, 100)
				f.connect(t, src, out(f.value), a, input(f.value, "In"), 0)
				combine, err := NewCombineToNewOperator(f.reg, f.root, []uuid.UUID{a.ID}, "Solo", "user", "", valueobjects.NewPosition(0, 0))
				require.NoError(t, err)
				require.NoError(t, f.reg.AddDefinition(combine.Definition.Clone()))
				return combine
			},
		},
		{
			name: "remove keyframes",
			build: func(t *testing.T, f *graphFixture) Command {
				a, b := f.place(t, f.value, 0, 0), f.place(t, f.value, 100, 0)
				in := input(f.value, "In")
				setup, err := NewSetupAnimation(f.reg, f.root, []InputRef{{Instance: a.ID, Input: in}, {Instance: b.ID, Input: in}}, 0)
				require.NoError(t, err)
				require.NoError(t, setup.Do(f.reg))
				animA, _, err := f.reg.Animation(f.root, a.ID, in)
				require.NoError(t, err)
				animB, _, err := f.reg.Animation(f.root, b.ID, in)
				require.NoError(t, err)

				remove, err := NewRemoveKeyframes(f.reg, f.root, []KeyRef{{CurveOp: animA.CurveOp}, {CurveOp: animB.CurveOp}}, 0)
				require.NoError(t, err)
				_, _, err = f.reg.RemoveInstance(f.root, animB.CurveOp)
				require.NoError(t, err)
				return remove
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGraphFixture(t)
			cmd := tt.build(t, f)
			before := f.reg.Snapshot()

			err := cmd.Do(f.reg)

			require.Error(t, err)
			assert.False(t, pkgerrors.IsPartialApplication(err))
			assert.Equal(t, before, f.reg.Snapshot())
		})
	}
}

func TestRunSteps_UndoesCompletedStepsLastFirst(t *testing.T) {
	var trail []string
	record := func(name string, doErr, undoErr error) step {
		return step{
			do: func() error {
				trail = append(trail, "do "+name)
				return doErr
			},
			undo: func() error {
				trail = append(trail, "undo "+name)
				return undoErr
			},
		}
	}
	cmd := &failingCommand{}
	boom := errors.New("boom")

	err := runSteps(cmd, record("a", nil, nil), record("b", nil, nil), record("c", boom, nil), record("d", nil, nil))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"do a", "do b", "do c", "undo b", "undo a"}, trail)

	trail = nil
	err = runSteps(cmd, record("a", nil, errors.New("stuck")), record("b", boom, nil))
	assert.True(t, pkgerrors.IsPartialApplication(err))
	assert.Equal(t, []string{"do a", "do b", "undo a"}, trail)
}

func TestMoveKeyframe_MoveToComposes(t *testing.T) {
	// Arrange: keys at 0 and 10
	f := newGraphFixture(t)
	a := f.place(t, f.value, 0, 0)
	in := input(f.value, "In")
	setup, err := NewSetupAnimation(f.reg, f.root, []InputRef{{Instance: a.ID, Input: in}}, 0)
	require.NoError(t, err)
	require.NoError(t, setup.Do(f.reg))
	anim, _, err := f.reg.Animation(f.root, a.ID, in)
	require.NoError(t, err)
	key10, err := NewAddOrUpdateKeyframe(f.reg, f.root, anim.CurveOp, 10, curve.NewKeyframe(4))
	require.NoError(t, err)
	require.NoError(t, key10.Do(f.reg))
	before := f.reg.Snapshot()

	// Act: drag 0 -> 5 -> 10 -> 7
	move, err := NewMoveKeyframe(f.reg, f.root, anim.CurveOp, 0, 5)
	require.NoError(t, err)
	require.NoError(t, move.Do(f.reg))
	require.NoError(t, move.MoveTo(f.reg, 10))
	require.NoError(t, move.MoveTo(f.reg, 7))
	after := f.reg.Snapshot()

	// Assert: the key passed over at 10 is back and the drag undoes as one step
	crv, err := f.reg.Curve(f.root, anim.CurveOp)
	require.NoError(t, err)
	times := make([]float64, 0, crv.Len())
	for _, p := range crv.Points() {
		times = append(times, p.Time)
	}
	assert.Equal(t, []float64{7, 10}, times)
	k, ok := crv.Key(10)
	require.True(t, ok)
	assert.Equal(t, curve.NewKeyframe(4), k)

	require.NoError(t, move.Undo(f.reg))
	assert.Equal(t, before, f.reg.Snapshot())
	require.NoError(t, move.Do(f.reg))
	assert.Equal(t, after, f.reg.Snapshot())
}

func TestCopyOperators_IntoOtherComposition(t *testing.T) {
	// Arrange: two sources feeding a multi-input sum, and an empty group
	f := newGraphFixture(t)
	group := f.define(t, "Group", nil, "Out")
	holder := f.place(t, group, 500, 0)
	src1, src2, sum := f.place(t, f.value, 10, 20), f.place(t, f.value, 40, 20), f.place(t, f.sum, 25, 60)
	target := entities.PortRef{Op: sum.ID, Port: input(f.sum, "Inputs")}
	f.connect(t, src1, out(f.value), sum, target.Port, 0)
	f.connect(t, src2, out(f.value), sum, target.Port, 1)
	inside := f.root.Child(holder)

	// Act
	cp, err := NewCopyOperators(f.reg, f.root, []uuid.UUID{src1.ID, src2.ID, sum.ID}, inside, valueobjects.NewPosition(300, 300))
	require.NoError(t, err)
	requireSymmetric(t, f.reg, cp)

	// Assert
	comp, err := f.reg.ResolveComposition(inside)
	require.NoError(t, err)
	require.Len(t, comp.Children, 3)
	byPos := make(map[valueobjects.Position]*entities.Instance)
	for _, inst := range comp.Children {
		byPos[inst.Position] = inst
	}
	c1, c2, cSum := byPos[valueobjects.NewPosition(300, 300)], byPos[valueobjects.NewPosition(330, 300)], byPos[valueobjects.NewPosition(315, 340)]
	require.NotNil(t, c1)
	require.NotNil(t, c2)
	require.NotNil(t, cSum)
	assert.Equal(t, f.sum.ID, cSum.DefinitionID)

	fed := comp.Connections.Siblings(entities.PortRef{Op: cSum.ID, Port: target.Port})
	require.Len(t, fed, 2)
	assert.Equal(t, c1.ID, fed[0].SourceOp)
	assert.Equal(t, c2.ID, fed[1].SourceOp)

	root, err := f.reg.ResolveComposition(f.root)
	require.NoError(t, err)
	assert.Len(t, root.Children, 4)
}

func TestDeleteOperators_RemovesKeylessAnimationOperators(t *testing.T) {
	f := newGraphFixture(t)
	a := f.place(t, f.value, 0, 0)
	in := input(f.value, "In")
	setup, err := NewSetupAnimation(f.reg, f.root, []InputRef{{Instance: a.ID, Input: in}}, 0)
	require.NoError(t, err)
	require.NoError(t, setup.Do(f.reg))
	anim, _, err := f.reg.Animation(f.root, a.ID, in)
	require.NoError(t, err)
	require.True(t, anim.Curve.Remove(0))

	del, err := NewDeleteOperators(f.reg, f.root, []uuid.UUID{anim.CurveOp, anim.TimeOp})
	require.NoError(t, err)
	assert.Nil(t, del.Keyframes)
	assert.ElementsMatch(t, []uuid.UUID{anim.CurveOp, anim.TimeOp}, del.OperatorIDs)
	requireSymmetric(t, f.reg, del)

	root, err := f.reg.ResolveComposition(f.root)
	require.NoError(t, err)
	assert.Len(t, root.Children, 1)
	assert.Contains(t, root.Children, a.ID)
}
