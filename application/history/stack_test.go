package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/framefield/tooll-sub003/application/commands"
	"github.com/framefield/tooll-sub003/application/commands/bus"
	"github.com/framefield/tooll-sub003/application/ports"
	"github.com/framefield/tooll-sub003/domain/config"
	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	"github.com/framefield/tooll-sub003/domain/events"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
)

// Mock implementations for testing

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Append(ctx context.Context, entry ports.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockJournal) Entries(ctx context.Context, session string) ([]ports.Entry, error) {
	args := m.Called(ctx, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ports.Entry), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, evts ...events.DomainEvent) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}

// recordingJournal keeps entries in order.
type recordingJournal struct {
	entries []ports.Entry
}

func (j *recordingJournal) Append(_ context.Context, e ports.Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

func (j *recordingJournal) Entries(_ context.Context, session string) ([]ports.Entry, error) {
	var out []ports.Entry
	for _, e := range j.entries {
		if e.Session == session {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubCommand struct {
	name     string
	undoable bool
	err      error
}

func (c *stubCommand) Name() string                  { return c.name }
func (c *stubCommand) CommandType() string           { return "Stub" }
func (c *stubCommand) IsUndoable() bool              { return c.undoable }
func (c *stubCommand) Do(*aggregates.Registry) error { return c.err }
func (c *stubCommand) Undo(*aggregates.Registry) error {
	if !c.undoable {
		return commands.ErrNotUndoable(c)
	}
	return nil
}

func stub(name string) *stubCommand { return &stubCommand{name: name, undoable: true} }

// testGraph is an empty root composition with a float input "Time" and a
// definition D with a single float input.
type testGraph struct {
	reg      *aggregates.Registry
	rootTime uuid.UUID
	d        *entities.Definition
}

func newTestGraph(t *testing.T) *testGraph {
	t.Helper()
	root, err := entities.NewDefinition(uuid.New(), "Project", "user")
	require.NoError(t, err)
	timeIn := entities.NewInputDefinition("Time", valueobjects.KindFloat, valueobjects.Float(0))
	require.NoError(t, root.InsertInput(timeIn, 0))

	reg, err := aggregates.NewRegistry(root, config.DefaultDomainConfig())
	require.NoError(t, err)

	d, err := entities.NewDefinition(uuid.New(), "D", "lib.test")
	require.NoError(t, err)
	require.NoError(t, d.InsertInput(entities.NewInputDefinition("In", valueobjects.KindFloat, valueobjects.Float(1)), 0))
	require.NoError(t, d.InsertOutput(entities.NewOutputDefinition("Out", valueobjects.KindFloat), 0))
	require.NoError(t, reg.AddDefinition(d))

	return &testGraph{reg: reg, rootTime: timeIn.ID, d: d}
}

func (g *testGraph) children(t *testing.T) int {
	t.Helper()
	comp, err := g.reg.ResolveComposition(g.reg.RootScope())
	require.NoError(t, err)
	return len(comp.Children)
}

func (g *testGraph) addD(t *testing.T, x, y float64) *commands.AddOperator {
	t.Helper()
	cmd, err := commands.NewAddOperator(g.reg, g.reg.RootScope(), g.d.ID, valueobjects.NewPosition(x, y))
	require.NoError(t, err)
	return cmd
}

func TestStack_ConcreteScenario(t *testing.T) {
	// Arrange
	ctx := context.Background()
	g := newTestGraph(t)
	stack := NewStack(g.reg)
	root := g.reg.RootScope()

	// Act & Assert: add D at (100,100)
	add := g.addD(t, 100, 100)
	require.NoError(t, stack.AddAndExecute(ctx, add))
	assert.Equal(t, 1, g.children(t))

	// connect the composition input to D's first input at index 0
	conn := entities.NewConnection(valueobjects.Self, g.rootTime, add.InstanceID(), g.d.Inputs[0].ID)
	insert, err := commands.NewInsertConnection(g.reg, root, conn, 0)
	require.NoError(t, err)
	require.NoError(t, stack.AddAndExecute(ctx, insert))

	table, err := g.reg.Connections(root)
	require.NoError(t, err)
	target := entities.PortRef{Op: add.InstanceID(), Port: g.d.Inputs[0].ID}
	require.Len(t, table.Siblings(target), 1)
	assert.Equal(t, 0, table.IndexOf(insert.Connection))

	// undo the connection
	done, err := stack.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	table, err = g.reg.Connections(root)
	require.NoError(t, err)
	assert.Empty(t, table.Siblings(target))

	// undo the add
	done, err = stack.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 0, g.children(t))

	assert.False(t, stack.CanUndo())
	assert.Equal(t, []string{insert.Name(), add.Name()}, stack.RedoNames())
}

func TestStack_UndoRedoRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	stack := NewStack(g.reg)
	before := g.reg.Snapshot()

	require.NoError(t, stack.AddAndExecute(ctx, g.addD(t, 0, 0)))
	require.NoError(t, stack.AddAndExecute(ctx, g.addD(t, 0, 50)))
	after := g.reg.Snapshot()

	for stack.CanUndo() {
		_, err := stack.Undo(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, before, g.reg.Snapshot())

	for stack.CanRedo() {
		_, err := stack.Redo(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, after, g.reg.Snapshot())
}

func TestStack_EmptyUndoRedoAreNoOps(t *testing.T) {
	stack := NewStack(newTestGraph(t).reg)

	undone, err := stack.Undo(context.Background())
	require.NoError(t, err)
	redone, err := stack.Redo(context.Background())
	require.NoError(t, err)

	assert.False(t, undone)
	assert.False(t, redone)
}

func TestStack_NewCommandTruncatesRedo(t *testing.T) {
	ctx := context.Background()
	stack := NewStack(newTestGraph(t).reg)

	require.NoError(t, stack.AddAndExecute(ctx, stub("a")))
	require.NoError(t, stack.AddAndExecute(ctx, stub("b")))
	_, err := stack.Undo(ctx)
	require.NoError(t, err)
	require.True(t, stack.CanRedo())

	require.NoError(t, stack.AddAndExecute(ctx, stub("c")))

	assert.False(t, stack.CanRedo())
	assert.Equal(t, []string{"c", "a"}, stack.UndoNames())
}

func TestStack_FailedCommandIsNotAppended(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	stack := NewStack(newTestGraph(t).reg, WithLogger(zap.New(core)))
	failing := &stubCommand{name: "broken", undoable: true, err: pkgerrors.NewNotFoundError("instance x")}

	err := stack.AddAndExecute(context.Background(), failing)

	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.False(t, stack.CanUndo())
	assert.Equal(t, 1, logs.FilterMessage("Command execution failed").FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestStack_NonUndoableClearsHistory(t *testing.T) {
	ctx := context.Background()
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	stack := NewStack(newTestGraph(t).reg, WithPublisher(publisher))

	require.NoError(t, stack.AddAndExecute(ctx, stub("a")))
	require.NoError(t, stack.AddAndExecute(ctx, stub("b")))
	_, err := stack.Undo(ctx)
	require.NoError(t, err)

	require.NoError(t, stack.AddAndExecute(ctx, &stubCommand{name: "ungroup"}))

	assert.False(t, stack.CanUndo())
	assert.False(t, stack.CanRedo())
	publisher.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(evts []events.DomainEvent) bool {
		return len(evts) == 1 && evts[0].GetEventType() == events.HistoryCleared
	}))
}

func TestStack_AddDoesNotExecute(t *testing.T) {
	g := newTestGraph(t)
	stack := NewStack(g.reg)
	add := g.addD(t, 10, 10)

	stack.Add(context.Background(), add)

	assert.Equal(t, 0, g.children(t))
	assert.True(t, stack.CanUndo())
}

func TestStack_MaxDepth(t *testing.T) {
	tests := []struct {
		name     string
		pushes   []string
		undos    int
		newDepth int
		wantUndo []string
		wantRedo []string
	}{
		{
			name:     "push beyond horizon drops oldest",
			pushes:   []string{"a", "b", "c", "d"},
			newDepth: 0,
			wantUndo: []string{"d", "c", "b"},
			wantRedo: []string{},
		},
		{
			name:     "shrinking trims redo tail first",
			pushes:   []string{"a", "b", "c"},
			undos:    2,
			newDepth: 2,
			wantUndo: []string{"a"},
			wantRedo: []string{"b"},
		},
		{
			name:     "shrinking below undo depth drops oldest",
			pushes:   []string{"a", "b", "c"},
			undos:    1,
			newDepth: 1,
			wantUndo: []string{"b"},
			wantRedo: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			stack := NewStack(newTestGraph(t).reg, WithMaxDepth(3))
			for _, name := range tt.pushes {
				require.NoError(t, stack.AddAndExecute(ctx, stub(name)))
			}
			for i := 0; i < tt.undos; i++ {
				_, err := stack.Undo(ctx)
				require.NoError(t, err)
			}

			if tt.newDepth > 0 {
				stack.SetMaxDepth(tt.newDepth)
			}

			assert.Equal(t, tt.wantUndo, stack.UndoNames())
			assert.Equal(t, tt.wantRedo, stack.RedoNames())
		})
	}
}

func TestStack_JournalsEveryAction(t *testing.T) {
	// Arrange
	ctx := context.Background()
	g := newTestGraph(t)
	journal := new(MockJournal)
	publisher := new(MockPublisher)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	journal.On("Append", mock.Anything, mock.Anything).Return(nil)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	stack := NewStack(g.reg,
		WithJournal(journal),
		WithPublisher(publisher),
		WithSession("s1"),
		WithClock(func() time.Time { return at }),
	)

	// Act
	require.NoError(t, stack.AddAndExecute(ctx, g.addD(t, 0, 0)))
	_, err := stack.Undo(ctx)
	require.NoError(t, err)
	_, err = stack.Redo(ctx)
	require.NoError(t, err)

	// Assert
	require.Len(t, journal.Calls, 3)
	for i, want := range []ports.JournalAction{ports.JournalDo, ports.JournalUndo, ports.JournalRedo} {
		entry := journal.Calls[i].Arguments.Get(1).(ports.Entry)
		assert.Equal(t, "s1", entry.Session)
		assert.Equal(t, int64(i+1), entry.Sequence)
		assert.Equal(t, want, entry.Action)
		assert.Equal(t, "AddOperator", entry.Record.Type)
		assert.Equal(t, at, entry.Timestamp)
	}

	var types []string
	for _, call := range publisher.Calls {
		evts := call.Arguments.Get(1).([]events.DomainEvent)
		types = append(types, evts[0].GetEventType())
	}
	assert.Equal(t, []string{events.HistoryExecuted, events.HistoryUndone, events.HistoryRedone}, types)
}

func TestStack_JournalAndPublisherFailuresAreNotFatal(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	journal := new(MockJournal)
	publisher := new(MockPublisher)
	journal.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("throttled"))
	core, logs := observer.New(zapcore.DebugLevel)
	stack := NewStack(g.reg, WithJournal(journal), WithPublisher(publisher), WithLogger(zap.New(core)))

	err := stack.AddAndExecute(ctx, g.addD(t, 0, 0))

	require.NoError(t, err)
	assert.Equal(t, 1, g.children(t))
	assert.Equal(t, 1, logs.FilterMessage("Journal append failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("History event not published").Len())
}

func TestStack_ReplayRebuildsGraphAndHistory(t *testing.T) {
	// Arrange: record a session on one registry
	ctx := context.Background()
	g := newTestGraph(t)
	initial := g.reg.Snapshot()
	journal := &recordingJournal{}
	stack := NewStack(g.reg, WithJournal(journal), WithSession("s1"))

	first := g.addD(t, 0, 0)
	require.NoError(t, stack.AddAndExecute(ctx, first))
	require.NoError(t, stack.AddAndExecute(ctx, g.addD(t, 0, 60)))
	_, err := stack.Undo(ctx)
	require.NoError(t, err)
	set, err := commands.NewSetValue(g.reg, g.reg.RootScope(), first.InstanceID(), g.d.Inputs[0].ID, valueobjects.Float(4))
	require.NoError(t, err)
	require.NoError(t, stack.AddAndExecute(ctx, set))

	// Act: replay onto a fresh registry restored to the initial state
	other := newTestGraph(t)
	other.reg.Restore(initial)
	replayJournal := &recordingJournal{entries: journal.entries}
	replayed := NewStack(other.reg, WithJournal(replayJournal), WithSession("s1"))
	require.NoError(t, replayed.Load(ctx))

	// Assert
	assert.Equal(t, g.reg.Snapshot(), other.reg.Snapshot())
	assert.Equal(t, stack.UndoNames(), replayed.UndoNames())
	assert.Equal(t, stack.RedoNames(), replayed.RedoNames())
	assert.Len(t, replayJournal.entries, len(journal.entries))
}

func TestStack_ReplayRejectsUnknownAction(t *testing.T) {
	stack := NewStack(newTestGraph(t).reg)

	err := stack.Replay(context.Background(), []ports.Entry{{Session: "s", Sequence: 1, Action: "jump"}})

	assert.True(t, pkgerrors.IsValidation(err))
}

func TestStack_View(t *testing.T) {
	ctx := context.Background()
	stack := NewStack(newTestGraph(t).reg, WithSession("s1"), WithMaxDepth(10))
	require.NoError(t, stack.AddAndExecute(ctx, stub("a")))
	require.NoError(t, stack.AddAndExecute(ctx, stub("b")))
	_, err := stack.Undo(ctx)
	require.NoError(t, err)

	assert.Equal(t, View{
		Session:  "s1",
		CanUndo:  true,
		CanRedo:  true,
		Undo:     []string{"a"},
		Redo:     []string{"b"},
		MaxDepth: 10,
	}, stack.View())
}

func TestStack_ReplayReproducesUngroupedCopies(t *testing.T) {
	// Arrange: group two connected operators, ungroup them and edit a copy
	ctx := context.Background()
	g := newTestGraph(t)
	initial := g.reg.Snapshot()
	journal := &recordingJournal{}
	stack := NewStack(g.reg, WithJournal(journal), WithSession("s1"))
	root := g.reg.RootScope()

	a, b := g.addD(t, 0, 0), g.addD(t, 0, 60)
	require.NoError(t, stack.AddAndExecute(ctx, a))
	require.NoError(t, stack.AddAndExecute(ctx, b))
	link, err := commands.NewInsertConnection(g.reg, root,
		entities.NewConnection(a.InstanceID(), g.d.Outputs[0].ID, b.InstanceID(), g.d.Inputs[0].ID), 0)
	require.NoError(t, err)
	require.NoError(t, stack.AddAndExecute(ctx, link))

	combine, err := commands.NewCombineToNewOperator(g.reg, root, []uuid.UUID{a.InstanceID(), b.InstanceID()}, "G", "user", "", valueobjects.NewPosition(200, 0))
	require.NoError(t, err)
	require.NoError(t, stack.AddAndExecute(ctx, combine))
	ungroup, err := commands.NewUngroupOperator(g.reg, root, combine.Instance.ID)
	require.NoError(t, err)
	require.NoError(t, stack.AddAndExecute(ctx, ungroup))
	set, err := commands.NewSetValue(g.reg, root, ungroup.Copies[a.InstanceID()], g.d.Inputs[0].ID, valueobjects.Float(9))
	require.NoError(t, err)
	require.NoError(t, stack.AddAndExecute(ctx, set))

	// Act
	other := newTestGraph(t)
	other.reg.Restore(initial)
	replayed := NewStack(other.reg, WithJournal(&recordingJournal{entries: journal.entries}), WithSession("s1"))
	err = replayed.Load(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, g.reg.Snapshot(), other.reg.Snapshot())
	assert.Equal(t, []string{"Set Value"}, replayed.UndoNames())
}

func TestStack_CommandsWaitForReplay(t *testing.T) {
	// Arrange: a replay that stalls inside its first command
	ctx := context.Background()
	g := newTestGraph(t)
	initial := g.reg.Snapshot()
	journal := &recordingJournal{}
	recorder := NewStack(g.reg, WithJournal(journal), WithSession("s1"))
	require.NoError(t, recorder.AddAndExecute(ctx, g.addD(t, 0, 0)))

	other := newTestGraph(t)
	other.reg.Restore(initial)
	late := other.addD(t, 0, 60)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gate := func(next bus.Handler) bus.Handler {
		return bus.HandlerFunc(func(ctx context.Context, action bus.Action, cmd commands.Command) error {
			once.Do(func() {
				close(entered)
				<-release
			})
			return next.Handle(ctx, action, cmd)
		})
	}
	replayJournal := &recordingJournal{entries: journal.entries}
	stack := NewStack(other.reg, WithJournal(replayJournal), WithSession("s1"), WithMiddleware(gate))

	// Act
	loaded := make(chan error, 1)
	go func() { loaded <- stack.Load(ctx) }()
	<-entered
	executed := make(chan error, 1)
	go func() { executed <- stack.AddAndExecute(ctx, late) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	// Assert: the late command ran after the replay and was journaled
	require.NoError(t, <-loaded)
	require.NoError(t, <-executed)
	assert.Equal(t, []string{"Add Operator", "Add Operator"}, stack.UndoNames())
	require.Len(t, replayJournal.entries, 2)
	assert.Equal(t, int64(2), replayJournal.entries[1].Sequence)
}

func TestStack_BuildCapturesAgainstLiveGraph(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	stack := NewStack(g.reg)
	add := g.addD(t, 0, 0)
	require.NoError(t, stack.AddAndExecute(ctx, add))

	cmd, err := stack.Build(ctx, func(r *aggregates.Registry) (commands.Command, error) {
		return commands.NewSetValue(r, r.RootScope(), add.InstanceID(), g.d.Inputs[0].ID, valueobjects.Float(3))
	})
	require.NoError(t, err)
	assert.Equal(t, "Set Value", cmd.Name())

	_, err = stack.Build(ctx, func(r *aggregates.Registry) (commands.Command, error) {
		return commands.NewSetValue(r, r.RootScope(), add.InstanceID(), g.d.Inputs[0].ID, valueobjects.Text("x"))
	})
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, []string{"Set Value", "Add Operator"}, stack.UndoNames())
}
