// Package bus runs commands through a middleware pipeline before they touch
// the registry.
package bus

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/framefield/tooll-sub003/application/commands"
	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	pkgerrors "github.com/framefield/tooll-sub003/pkg/errors"
	"github.com/framefield/tooll-sub003/pkg/observability"
)

// Action says which direction a command is driven in.
type Action string

const (
	ActionDo   Action = "do"
	ActionUndo Action = "undo"
	ActionRedo Action = "redo"
)

// Handler applies a command in the given direction.
type Handler interface {
	Handle(ctx context.Context, action Action, cmd commands.Command) error
}

// HandlerFunc is an adapter to allow functions to be used as handlers
type HandlerFunc func(ctx context.Context, action Action, cmd commands.Command) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, action Action, cmd commands.Command) error {
	return f(ctx, action, cmd)
}

// Middleware wraps a handler.
type Middleware func(next Handler) Handler

// Pipeline is a terminal handler behind a chain of middlewares. The first
// middleware is the outermost.
type Pipeline struct {
	handler Handler
}

// NewPipeline builds the chain around terminal.
func NewPipeline(terminal Handler, middlewares ...Middleware) *Pipeline {
	h := terminal
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return &Pipeline{handler: h}
}

// Execute runs cmd through the chain.
func (p *Pipeline) Execute(ctx context.Context, action Action, cmd commands.Command) error {
	return p.handler.Handle(ctx, action, cmd)
}

// Executor is the terminal handler: Do for do and redo, Undo for undo.
func Executor(r *aggregates.Registry) Handler {
	return HandlerFunc(func(_ context.Context, action Action, cmd commands.Command) error {
		switch action {
		case ActionDo, ActionRedo:
			return cmd.Do(r)
		case ActionUndo:
			return cmd.Undo(r)
		default:
			return pkgerrors.NewInternalError(fmt.Sprintf("unknown action %q", action))
		}
	})
}

// LoggingMiddleware logs every action at debug level and failures at warn.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, action Action, cmd commands.Command) error {
			fields := []zap.Field{
				zap.String("action", string(action)),
				zap.String("command", cmd.Name()),
				zap.String("command_type", cmd.CommandType()),
			}
			start := time.Now()
			err := next.Handle(ctx, action, cmd)
			fields = append(fields, zap.Duration("duration", time.Since(start)))
			if err != nil {
				logger.Warn("Command failed", append(fields, zap.String("error_type", errorType(err)), zap.Error(err))...)
				return err
			}
			logger.Debug("Command applied", fields...)
			return nil
		})
	}
}

// MetricsMiddleware counts actions, failures and their duration.
func MetricsMiddleware(collector *observability.Collector) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, action Action, cmd commands.Command) error {
			start := time.Now()
			err := next.Handle(ctx, action, cmd)
			if err != nil {
				collector.RecordFailure(string(action), errorType(err))
				return err
			}
			collector.RecordAction(string(action), cmd.CommandType(), time.Since(start))
			return nil
		})
	}
}

// TracingMiddleware wraps each action in a span.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, action Action, cmd commands.Command) error {
			ctx, span := observability.StartSpan(ctx, tracer, "command."+string(action),
				attribute.String("command.name", cmd.Name()),
				attribute.String("command.type", cmd.CommandType()),
				attribute.Bool("command.undoable", cmd.IsUndoable()),
			)
			err := next.Handle(ctx, action, cmd)
			observability.EndSpan(span, err)
			return err
		})
	}
}

// RecoveryMiddleware turns a panic inside a command into an INTERNAL error.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, action Action, cmd commands.Command) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Command panicked",
						zap.String("action", string(action)),
						zap.String("command", cmd.Name()),
						zap.Any("panic", rec),
					)
					err = pkgerrors.NewInternalError(fmt.Sprintf("%s panicked: %v", cmd.Name(), rec))
				}
			}()
			return next.Handle(ctx, action, cmd)
		})
	}
}

func errorType(err error) string {
	if appErr := pkgerrors.GetAppError(err); appErr != nil {
		return string(appErr.Type)
	}
	return "UNKNOWN"
}
