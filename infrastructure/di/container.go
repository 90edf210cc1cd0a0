// Package di assembles the service from its configuration with Google Wire.
package di

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/framefield/tooll-sub003/application/history"
	"github.com/framefield/tooll-sub003/application/ports"
	"github.com/framefield/tooll-sub003/infrastructure/config"
	"github.com/framefield/tooll-sub003/pkg/observability"
)

// Container holds the assembled service.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Stack   *history.Stack
	Journal ports.Journal
	Metrics *observability.Collector
	Handler http.Handler
}

// ApplyConfig updates the settings that may change at runtime.
func (c *Container) ApplyConfig(next *config.Config) {
	if next.History.MaxDepth != c.Config.History.MaxDepth {
		c.Stack.SetMaxDepth(next.History.MaxDepth)
		c.Logger.Info("History depth changed",
			zap.Int("from", c.Config.History.MaxDepth),
			zap.Int("to", next.History.MaxDepth),
		)
	}
	c.Config = next
}
