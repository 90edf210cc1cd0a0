package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/framefield/tooll-sub003/application/history"
	"github.com/framefield/tooll-sub003/application/ports"
	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/infrastructure/catalog"
	"github.com/framefield/tooll-sub003/infrastructure/config"
	"github.com/framefield/tooll-sub003/infrastructure/messaging/eventbridge"
	"github.com/framefield/tooll-sub003/infrastructure/persistence"
	"github.com/framefield/tooll-sub003/infrastructure/persistence/dynamodb"
	"github.com/framefield/tooll-sub003/infrastructure/persistence/memory"
	sqljournal "github.com/framefield/tooll-sub003/infrastructure/persistence/sql"
	"github.com/framefield/tooll-sub003/interfaces/http/rest"
	"github.com/framefield/tooll-sub003/pkg/errors"
	"github.com/framefield/tooll-sub003/pkg/observability"
)

// ProvideLogger builds a JSON logger in production and a console logger
// otherwise, at the configured level.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zc zap.Config
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger.With(zap.String("environment", string(cfg.Environment))), nil
}

// ProvideErrorHandler returns verbose errors outside production.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *errors.ErrorHandler {
	return errors.NewErrorHandler(logger, !cfg.IsProduction())
}

// ProvideMetrics returns nil when metrics are disabled.
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return observability.NewCollector(cfg.Metrics.Namespace)
}

// ProvideRegistry builds the graph from the catalog file, or an empty
// project when no catalog is configured.
func ProvideRegistry(cfg *config.Config, logger *zap.Logger) (*aggregates.Registry, error) {
	f := &catalog.File{}
	if cfg.Catalog.Path != "" {
		var err error
		if f, err = catalog.LoadFile(cfg.Catalog.Path); err != nil {
			return nil, err
		}
	}
	reg, err := f.Build(cfg.DomainConfig(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "building registry")
	}
	logger.Info("Registry ready",
		zap.String("catalog", cfg.Catalog.Path),
		zap.Int("definitions", len(reg.Definitions())),
	)
	return reg, nil
}

// ProvideAWSConfig loads the default AWS credential chain.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	region := cfg.Journal.DynamoDB.Region
	if region == "" {
		region = cfg.Events.Region
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// ProvideJournal opens the configured journal store. The cleanup closes
// SQL connections. A "none" store returns a nil journal.
func ProvideJournal(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *zap.Logger, metrics *observability.Collector) (ports.Journal, func(), error) {
	noop := func() {}
	var (
		journal ports.Journal
		cleanup = noop
	)

	switch cfg.Journal.Store {
	case "none":
		return nil, noop, nil
	case "memory":
		journal = memory.NewJournal()
	case "sql":
		j, err := sqljournal.Open(ctx, cfg.Journal.SQL.Driver, cfg.Journal.SQL.DSN, cfg.Journal.SQL.Table, logger)
		if err != nil {
			return nil, noop, err
		}
		journal = j
		cleanup = func() {
			if err := j.Close(); err != nil {
				logger.Warn("Closing journal database failed", zap.Error(err))
			}
		}
	case "dynamodb":
		client := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if cfg.Journal.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Journal.DynamoDB.Endpoint)
			}
			o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
		})
		journal = dynamodb.NewJournal(client, cfg.Journal.DynamoDB.Table, logger)
	default:
		return nil, noop, errors.NewValidationErrorf("unknown journal store %q", cfg.Journal.Store)
	}

	logger.Info("Journal ready", zap.String("store", cfg.Journal.Store))
	return persistence.NewMeteredJournal(journal, cfg.Journal.Store, metrics), cleanup, nil
}

// ProvidePublisher returns an EventBridge publisher, or nil when events
// are disabled.
func ProvidePublisher(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) ports.EventPublisher {
	if !cfg.Events.Enabled {
		return nil
	}
	client := awseventbridge.NewFromConfig(awsCfg, func(o *awseventbridge.Options) {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	})
	return eventbridge.NewPublisher(client, cfg.Events.EventBusName, cfg.Events.Source, logger)
}

// ProvideStack creates the history stack and replays the configured
// session's journal.
func ProvideStack(ctx context.Context, cfg *config.Config, registry *aggregates.Registry, journal ports.Journal, publisher ports.EventPublisher, logger *zap.Logger, metrics *observability.Collector) (*history.Stack, error) {
	opts := []history.Option{
		history.WithLogger(logger),
		history.WithMaxDepth(cfg.History.MaxDepth),
		history.WithMetrics(metrics),
	}
	if journal != nil {
		opts = append(opts, history.WithJournal(journal))
	}
	if publisher != nil {
		opts = append(opts, history.WithPublisher(publisher))
	}
	if cfg.History.Session != "" {
		opts = append(opts, history.WithSession(cfg.History.Session))
	}

	stack := history.NewStack(registry, opts...)
	if journal != nil && cfg.History.Session != "" {
		if err := stack.Load(ctx); err != nil {
			return nil, err
		}
	}
	logger.Info("History ready",
		zap.String("session", stack.Session()),
		zap.Int("max_depth", cfg.History.MaxDepth),
	)
	return stack, nil
}

// ProvideRouter builds the HTTP handler.
func ProvideRouter(cfg *config.Config, stack *history.Stack, logger *zap.Logger, errorHandler *errors.ErrorHandler, metrics *observability.Collector) http.Handler {
	return rest.NewRouter(stack, logger, errorHandler, metrics, cfg.Metrics.Path).Setup()
}
