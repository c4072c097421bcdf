package main

import (
	"context"
	"errors"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/database"
	"github.com/jordanhubbard/guardian/internal/feedback"
	"github.com/jordanhubbard/guardian/internal/learning"
	"github.com/jordanhubbard/guardian/internal/logging"
	"github.com/jordanhubbard/guardian/internal/metrics"
	"github.com/jordanhubbard/guardian/internal/reasoning"
	"github.com/jordanhubbard/guardian/internal/retryqueue"
	"github.com/jordanhubbard/guardian/internal/telemetry"
	"github.com/jordanhubbard/guardian/internal/tracing"
	"github.com/jordanhubbard/guardian/pkg/config"
)

// app holds the components shared by the serve and replay commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	db       *database.Database
	sink     *retryqueue.RedisSink
	queue    *retryqueue.Queue
	tp       *sdktrace.TracerProvider
	attacher *tracing.Attacher
	llm      *reasoning.LLM
	pipeline *learning.Pipeline
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.Default()}

	if err := a.init(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db

	if cfg.RetryQueue.RedisURL != "" {
		sink, err := retryqueue.NewRedisSink(cfg.RetryQueue.RedisURL, cfg.RetryQueue.Key)
		if err != nil {
			return err
		}
		a.sink = sink
		if err := sink.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to retry queue redis: %w", err)
		}
	} else {
		a.logger.Warn("retry queue redis not configured, failed learning runs are kept in logs only")
	}
	var sink retryqueue.Sink
	if a.sink != nil {
		sink = a.sink
	}
	a.queue = retryqueue.New(a.logger, a.metrics, sink, cfg.RetryQueue.BufferSize)

	var backend tracing.Backend = tracing.NoopBackend{}
	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTelemetry(ctx, cfg.Telemetry, a.logger)
		if err != nil {
			a.logger.Warn("telemetry disabled", zap.Error(err))
		} else {
			a.tp = tp
			backend = tracing.NewOTelBackend(tp)
		}
	}
	a.attacher = tracing.NewAttacher(backend, a.logger)

	resolver, err := feedback.NewResolver(a.logger, a.metrics)
	if err != nil {
		return err
	}

	a.llm = reasoning.NewLLM(cfg.Reasoning, a.logger)
	a.pipeline, err = learning.New(learning.Options{
		Skillbooks:         db,
		Interactions:       db,
		Reflector:          a.llm,
		Curator:            a.llm,
		Resolver:           resolver,
		RetryQueue:         a.queue,
		Tracer:             a.attacher,
		Metrics:            a.metrics,
		Logger:             a.logger,
		Timeout:            cfg.Pipeline.RemoteTimeout,
		MaxPersistAttempts: cfg.Pipeline.MaxPersistAttempts,
	})
	return err
}

// close flushes traces and queued retry entries, then releases connections.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.attacher != nil {
		a.attacher.Flush(ctx)
	}
	if a.queue != nil {
		errs = append(errs, a.queue.Close(ctx))
	}
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.tp != nil {
		errs = append(errs, telemetry.Shutdown(ctx, a.tp))
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = a.logger.Sync()
}
