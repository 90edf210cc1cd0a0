// Package history implements the undo/redo stack that drives every graph
// mutation.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framefield/tooll-sub003/application/commands"
	"github.com/framefield/tooll-sub003/application/commands/bus"
	"github.com/framefield/tooll-sub003/application/ports"
	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/events"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
	"github.com/framefield/tooll-sub003/pkg/observability"
)

// Stack is a single log of executed commands plus a cursor. Entries before
// the cursor can be undone, entries from the cursor on can be redone.
// A mutex serializes all methods, so one stack may be shared by concurrent
// request handlers.
type Stack struct {
	mu sync.Mutex

	registry *aggregates.Registry
	log      []commands.Command
	cursor   int
	maxDepth int
	session  string
	sequence int64

	pipeline    *bus.Pipeline
	middlewares []bus.Middleware
	journal     ports.Journal
	publisher   ports.EventPublisher
	logger      *zap.Logger
	metrics     *observability.Collector
	now         func() time.Time

	// replaying suppresses journal writes and events while a journal is
	// being applied back onto the registry. Only set with mu held.
	replaying bool
}

// Option configures a Stack.
type Option func(*Stack)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Stack) { s.logger = logger }
}

// WithJournal records every action in j.
func WithJournal(j ports.Journal) Option {
	return func(s *Stack) { s.journal = j }
}

// WithPublisher publishes a history event after every action.
func WithPublisher(p ports.EventPublisher) Option {
	return func(s *Stack) { s.publisher = p }
}

// WithMetrics records actions in c.
func WithMetrics(c *observability.Collector) Option {
	return func(s *Stack) { s.metrics = c }
}

// WithMiddleware appends middlewares inside the default chain.
func WithMiddleware(m ...bus.Middleware) Option {
	return func(s *Stack) { s.middlewares = append(s.middlewares, m...) }
}

// WithMaxDepth bounds the number of entries kept; zero means unbounded.
func WithMaxDepth(n int) Option {
	return func(s *Stack) { s.maxDepth = n }
}

// WithSession names the history session used by the journal and events.
func WithSession(session string) Option {
	return func(s *Stack) { s.session = session }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Stack) { s.now = now }
}

// NewStack creates a stack that mutates registry.
func NewStack(registry *aggregates.Registry, opts ...Option) *Stack {
	s := &Stack{
		registry: registry,
		maxDepth: registry.Rules().MaxHistoryDepth,
		session:  uuid.NewString(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	chain := []bus.Middleware{
		bus.RecoveryMiddleware(s.logger),
		bus.TracingMiddleware(observability.Tracer()),
		bus.LoggingMiddleware(s.logger),
	}
	if s.metrics != nil {
		chain = append(chain, bus.MetricsMiddleware(s.metrics))
	}
	chain = append(chain, s.middlewares...)
	s.pipeline = bus.NewPipeline(bus.Executor(registry), chain...)
	return s
}

// Registry returns the registry the stack mutates.
func (s *Stack) Registry() *aggregates.Registry {
	return s.registry
}

// Snapshot copies the graph while holding the stack lock, so readers never
// observe a half-applied command.
func (s *Stack) Snapshot() aggregates.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Snapshot()
}

// Session returns the history session name.
func (s *Stack) Session() string {
	return s.session
}

// AddAndExecute runs cmd and appends it on success. A failed command leaves
// the history untouched.
func (s *Stack) AddAndExecute(ctx context.Context, cmd commands.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAndExecute(ctx, cmd)
}

// Build constructs a command against the current graph and executes it
// without another mutation slipping in between.
func (s *Stack) Build(ctx context.Context, build func(*aggregates.Registry) (commands.Command, error)) (commands.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, err := build(s.registry)
	if err != nil {
		return nil, err
	}
	if err := s.addAndExecute(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (s *Stack) addAndExecute(ctx context.Context, cmd commands.Command) error {
	if err := s.pipeline.Execute(ctx, bus.ActionDo, cmd); err != nil {
		s.logFailure("Command execution failed", bus.ActionDo, cmd, err)
		return err
	}
	s.push(ctx, cmd)
	return nil
}

// Add appends a command that the caller already executed, for example after
// an interactive drag that called Do incrementally.
func (s *Stack) Add(ctx context.Context, cmd commands.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(ctx, cmd)
}

func (s *Stack) push(ctx context.Context, cmd commands.Command) {
	s.record(ctx, ports.JournalDo, cmd)

	if !cmd.IsUndoable() {
		s.logger.Info("Non-undoable command clears history",
			zap.String("command", cmd.Name()),
			zap.Int("depth", len(s.log)),
		)
		s.reset(ctx)
		return
	}

	s.log = append(s.log[:s.cursor], cmd)
	s.cursor++
	if s.maxDepth > 0 && len(s.log) > s.maxDepth {
		drop := len(s.log) - s.maxDepth
		s.log = append([]commands.Command(nil), s.log[drop:]...)
		s.cursor -= drop
	}
	s.announce(ctx, events.NewCommandExecuted(s.session, cmd.Name(), cmd.CommandType(), s.cursor, len(s.log)-s.cursor, s.now()))
}

// Undo reverses the command before the cursor. It reports false when there
// is nothing to undo. On failure the cursor stays where it was.
func (s *Stack) Undo(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undo(ctx)
}

func (s *Stack) undo(ctx context.Context) (bool, error) {
	if s.cursor == 0 {
		return false, nil
	}
	cmd := s.log[s.cursor-1]
	if err := s.pipeline.Execute(ctx, bus.ActionUndo, cmd); err != nil {
		s.logFailure("Undo failed", bus.ActionUndo, cmd, err)
		return false, err
	}
	s.cursor--
	s.record(ctx, ports.JournalUndo, cmd)
	s.announce(ctx, events.NewCommandUndone(s.session, cmd.Name(), cmd.CommandType(), s.cursor, len(s.log)-s.cursor, s.now()))
	return true, nil
}

// Redo re-executes the command at the cursor. It reports false when there
// is nothing to redo.
func (s *Stack) Redo(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redo(ctx)
}

func (s *Stack) redo(ctx context.Context) (bool, error) {
	if s.cursor == len(s.log) {
		return false, nil
	}
	cmd := s.log[s.cursor]
	if err := s.pipeline.Execute(ctx, bus.ActionRedo, cmd); err != nil {
		s.logFailure("Redo failed", bus.ActionRedo, cmd, err)
		return false, err
	}
	s.cursor++
	s.record(ctx, ports.JournalRedo, cmd)
	s.announce(ctx, events.NewCommandRedone(s.session, cmd.Name(), cmd.CommandType(), s.cursor, len(s.log)-s.cursor, s.now()))
	return true, nil
}

// CanUndo reports whether Undo has something to do.
func (s *Stack) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > 0
}

// CanRedo reports whether Redo has something to do.
func (s *Stack) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor < len(s.log)
}

// UndoNames lists the undoable commands, most recent first.
func (s *Stack) UndoNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undoNames()
}

func (s *Stack) undoNames() []string {
	names := make([]string, 0, s.cursor)
	for i := s.cursor - 1; i >= 0; i-- {
		names = append(names, s.log[i].Name())
	}
	return names
}

// RedoNames lists the redoable commands, next first.
func (s *Stack) RedoNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redoNames()
}

func (s *Stack) redoNames() []string {
	names := make([]string, 0, len(s.log)-s.cursor)
	for i := s.cursor; i < len(s.log); i++ {
		names = append(names, s.log[i].Name())
	}
	return names
}

// Clear drops the whole history without touching the graph.
func (s *Stack) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(ctx)
}

func (s *Stack) reset(ctx context.Context) {
	s.log = nil
	s.cursor = 0
	s.metrics.RecordClear()
	s.announce(ctx, events.NewHistoryCleared(s.session, s.now()))
}

// SetMaxDepth changes the undo horizon. Excess entries are dropped from the
// redo tail first, then from the oldest undo entries.
func (s *Stack) SetMaxDepth(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxDepth = n
	if n > 0 && len(s.log) > n {
		excess := len(s.log) - n
		tail := min(excess, len(s.log)-s.cursor)
		s.log = s.log[:len(s.log)-tail]
		excess -= tail
		s.log = append([]commands.Command(nil), s.log[excess:]...)
		s.cursor -= excess
	}
	s.logger.Info("History depth changed", zap.Int("max_depth", n), zap.Int("depth", len(s.log)))
	s.metrics.SetDepth(s.cursor, len(s.log)-s.cursor)
}

// View is a read-only summary of the stack.
type View struct {
	Session  string   `json:"session"`
	CanUndo  bool     `json:"can_undo"`
	CanRedo  bool     `json:"can_redo"`
	Undo     []string `json:"undo"`
	Redo     []string `json:"redo"`
	MaxDepth int      `json:"max_depth"`
}

// View summarizes the stack.
func (s *Stack) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Session:  s.session,
		CanUndo:  s.cursor > 0,
		CanRedo:  s.cursor < len(s.log),
		Undo:     s.undoNames(),
		Redo:     s.redoNames(),
		MaxDepth: s.maxDepth,
	}
}

// Replay applies journal entries in sequence order, rebuilding both the
// graph and the history. Entries are not journaled again. The stack stays
// locked for the whole replay, so concurrent callers wait until it is done.
func (s *Stack) Replay(ctx context.Context, entries []ports.Entry) error {
	sorted := append([]ports.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaying = true
	defer func() { s.replaying = false }()

	for _, e := range sorted {
		var err error
		switch e.Action {
		case ports.JournalDo:
			var cmd commands.Command
			if cmd, err = commands.Decode(e.Record); err == nil {
				err = s.addAndExecute(ctx, cmd)
			}
		case ports.JournalUndo:
			_, err = s.undo(ctx)
		case ports.JournalRedo:
			_, err = s.redo(ctx)
		default:
			err = pkgerrors.NewValidationErrorf("unknown journal action %q", e.Action)
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "replaying entry %d", e.Sequence)
		}
		if e.Sequence > s.sequence {
			s.sequence = e.Sequence
		}
	}
	return nil
}

// Load replays the stored journal of the stack's session.
func (s *Stack) Load(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	entries, err := s.journal.Entries(ctx, s.session)
	if err != nil {
		return pkgerrors.Wrap(err, "loading journal")
	}
	s.logger.Info("Replaying journal", zap.String("session", s.session), zap.Int("entries", len(entries)))
	return s.Replay(ctx, entries)
}

func (s *Stack) record(ctx context.Context, action ports.JournalAction, cmd commands.Command) {
	if s.journal == nil || s.replaying {
		return
	}
	rec, err := commands.Encode(cmd)
	if err != nil {
		s.logger.Warn("Command not journaled", zap.String("command", cmd.Name()), zap.Error(err))
		return
	}
	s.sequence++
	entry := ports.Entry{
		Session:   s.session,
		Sequence:  s.sequence,
		Action:    action,
		Name:      cmd.Name(),
		Record:    rec,
		Timestamp: s.now(),
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.logger.Error("Journal append failed",
			zap.String("command", cmd.Name()),
			zap.String("action", string(action)),
			zap.Int64("sequence", entry.Sequence),
			zap.Error(err),
		)
	}
}

func (s *Stack) announce(ctx context.Context, event events.HistoryEvent) {
	s.metrics.SetDepth(s.cursor, len(s.log)-s.cursor)
	if s.publisher == nil || s.replaying {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("History event not published",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

func (s *Stack) logFailure(msg string, action bus.Action, cmd commands.Command, err error) {
	level := s.logger.Warn
	if pkgerrors.IsNotFound(err) || pkgerrors.IsPartialApplication(err) {
		level = s.logger.Error
	}
	level(msg,
		zap.String("command", cmd.Name()),
		zap.String("action", string(action)),
		zap.Int("depth", s.cursor),
		zap.Error(err),
	)
}
