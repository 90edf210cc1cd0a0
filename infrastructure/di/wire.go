//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/framefield/tooll-sub003/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideErrorHandler,
	ProvideMetrics,
	ProvideRegistry,
	ProvideAWSConfig,
	ProvideJournal,
	ProvidePublisher,
	ProvideStack,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer builds the service for cfg.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
