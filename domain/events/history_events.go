package events

import "time"

// History event types
const (
	HistoryExecuted = "history.executed"
	HistoryUndone   = "history.undone"
	HistoryRedone   = "history.redone"
	HistoryCleared  = "history.cleared"
)

// HistoryEvent is raised by the undo/redo stack after every successful action.
// AggregateID is the history session.
type HistoryEvent struct {
	BaseEvent
	Command     string `json:"command,omitempty"`
	CommandType string `json:"command_type,omitempty"`
	UndoDepth   int    `json:"undo_depth"`
	RedoDepth   int    `json:"redo_depth"`
}

func newHistoryEvent(eventType, session, command, commandType string, undoDepth, redoDepth int, at time.Time) HistoryEvent {
	return HistoryEvent{
		BaseEvent: BaseEvent{
			AggregateID: session,
			EventType:   eventType,
			Timestamp:   at,
			Version:     1,
		},
		Command:     command,
		CommandType: commandType,
		UndoDepth:   undoDepth,
		RedoDepth:   redoDepth,
	}
}

// NewCommandExecuted creates a history.executed event
func NewCommandExecuted(session, command, commandType string, undoDepth, redoDepth int, at time.Time) HistoryEvent {
	return newHistoryEvent(HistoryExecuted, session, command, commandType, undoDepth, redoDepth, at)
}

// NewCommandUndone creates a history.undone event
func NewCommandUndone(session, command, commandType string, undoDepth, redoDepth int, at time.Time) HistoryEvent {
	return newHistoryEvent(HistoryUndone, session, command, commandType, undoDepth, redoDepth, at)
}

// NewCommandRedone creates a history.redone event
func NewCommandRedone(session, command, commandType string, undoDepth, redoDepth int, at time.Time) HistoryEvent {
	return newHistoryEvent(HistoryRedone, session, command, commandType, undoDepth, redoDepth, at)
}

// NewHistoryCleared creates a history.cleared event
func NewHistoryCleared(session string, at time.Time) HistoryEvent {
	return newHistoryEvent(HistoryCleared, session, "", "", 0, 0, at)
}
