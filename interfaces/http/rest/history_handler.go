package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/framefield/tooll-sub003/application/commands"
	"github.com/framefield/tooll-sub003/application/history"
	"github.com/framefield/tooll-sub003/pkg/errors"
)

// maxBodyBytes bounds command payloads.
const maxBodyBytes = 1 << 20

var validate = validator.New()

// HistoryHandler serves the history and command endpoints.
type HistoryHandler struct {
	stack        *history.Stack
	logger       *zap.Logger
	errorHandler *errors.ErrorHandler
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(stack *history.Stack, logger *zap.Logger, errorHandler *errors.ErrorHandler) *HistoryHandler {
	return &HistoryHandler{stack: stack, logger: logger, errorHandler: errorHandler}
}

// ActionResponse is returned by undo and redo.
type ActionResponse struct {
	Done    bool         `json:"done"`
	History history.View `json:"history"`
}

// GetHistory handles GET /history
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, h.stack.View())
}

// ClearHistory handles DELETE /history
func (h *HistoryHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.stack.Clear(r.Context())
	respondJSON(w, h.logger, http.StatusOK, h.stack.View())
}

// Undo handles POST /history/undo
func (h *HistoryHandler) Undo(w http.ResponseWriter, r *http.Request) {
	done, err := h.stack.Undo(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, errors.Wrap(err, "undo failed"))
		return
	}
	respondJSON(w, h.logger, http.StatusOK, ActionResponse{Done: done, History: h.stack.View()})
}

// Redo handles POST /history/redo
func (h *HistoryHandler) Redo(w http.ResponseWriter, r *http.Request) {
	done, err := h.stack.Redo(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, errors.Wrap(err, "redo failed"))
		return
	}
	respondJSON(w, h.logger, http.StatusOK, ActionResponse{Done: done, History: h.stack.View()})
}

// ExecuteCommand handles POST /commands. The body names an operation and its
// arguments; the command is built against the current graph, so requests
// never supply captured state.
func (h *HistoryHandler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var intent commands.Intent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&intent); err != nil {
		h.errorHandler.Handle(w, r, errors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}
	if err := validate.Struct(intent); err != nil {
		h.errorHandler.Handle(w, r, errors.NewValidationError("Validation error: "+err.Error()))
		return
	}

	cmd, err := h.stack.Build(r.Context(), intent.Build)
	if err != nil {
		h.errorHandler.Handle(w, r, errors.Wrapf(err, "%s failed", intent.Operation))
		return
	}
	h.logger.Debug("Command executed",
		zap.String("operation", intent.Operation),
		zap.String("command", cmd.Name()),
	)
	respondJSON(w, h.logger, http.StatusCreated, h.stack.View())
}

// ListOperations handles GET /commands
func (h *HistoryHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, map[string][]string{"operations": commands.Operations()})
}

// GetGraph handles GET /graph
func (h *HistoryHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, h.stack.Snapshot())
}

func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
