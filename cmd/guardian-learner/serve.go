package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/guardian/internal/learning"
	"github.com/jordanhubbard/guardian/internal/logging"
	"github.com/jordanhubbard/guardian/internal/messagebus"
	"github.com/jordanhubbard/guardian/internal/worker"
	"github.com/jordanhubbard/guardian/pkg/messages"
)

const (
	serviceName       = "guardian-learner"
	shutdownTimeout   = 30 * time.Second
	modelCheckTimeout = 10 * time.Second

	// ackWaitMargin is added to the job timeout so a running job is never
	// redelivered while it still holds its deadline.
	ackWaitMargin = time.Minute
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume learning jobs and serve metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	var bus *messagebus.NatsMessageBus
	if cfg.MessageBus.Enabled {
		var err error
		bus, err = messagebus.NewNatsMessageBus(messagebus.Config{
			URL:            cfg.MessageBus.URL,
			StreamName:     cfg.MessageBus.StreamName,
			Timeout:        cfg.MessageBus.Timeout,
			ConsumerPrefix: cfg.MessageBus.ConsumerPrefix,
			AckWait:        cfg.Pipeline.JobTimeout + ackWaitMargin,
			Logger:         logger,
		})
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.close(shutdownCtx)
			return err
		}
	}

	checkCtx, cancelCheck := context.WithTimeout(ctx, modelCheckTimeout)
	if err := a.llm.CheckModel(checkCtx); err != nil {
		logger.Warn("reasoning model check failed, learning calls may fail", zap.Error(err))
	}
	cancelCheck()

	var events messagebus.EventPublisher
	if bus != nil {
		events = bus
	}
	pool := worker.NewPool(a.jobHandler(events), cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger, a.metrics)

	// Accepted jobs finish on shutdown, so the pool outlives ctx.
	poolCtx, cancelPool := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPool()
	pool.Start(poolCtx)

	if bus != nil {
		if err := bus.SubscribeLearningJobs(submitJobs(pool, logger)); err != nil {
			logger.Error("failed to subscribe to learning jobs", zap.Error(err))
		}
	} else {
		logger.Warn("message bus disabled, no learning jobs will be consumed")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if bus != nil {
			if err := bus.Health(); err != nil {
				http.Error(w, "message bus unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpSrv := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           otelhttp.NewHandler(mux, serviceName+"-http"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if a.sink != nil && cfg.RetryQueue.ReplayInterval > 0 {
		replayer := learning.NewReplayer(a.pipeline, a.sink, logger)
		g.Go(func() error {
			return replayer.Run(gctx, cfg.RetryQueue.ReplayInterval)
		})
	}

	logger.Info("guardian learner started",
		zap.String("version", version),
		zap.Int("workers", cfg.Pipeline.Workers),
		zap.Bool("message_bus", bus != nil))

	err := g.Wait()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// The pool stops first so finished and abandoned jobs are settled while
	// the connection is still open. Jobs arriving meanwhile are naked.
	if serr := pool.Stop(shutdownCtx); serr != nil {
		logger.Warn("worker pool did not drain", zap.Error(serr))
	}
	if bus != nil {
		if cerr := bus.Close(); cerr != nil {
			logger.Warn("closing message bus", zap.Error(cerr))
		}
	}
	a.close(shutdownCtx)
	return err
}

// submitJobs hands bus deliveries to the pool. A rejected job is naked by
// the bus; an accepted one is settled by its tracker once the pool is done
// with it.
func submitJobs(pool *worker.Pool, logger *zap.Logger) messagebus.JobHandler {
	return func(job *messages.LearningJob, d messagebus.Delivery) error {
		return pool.Submit(job, deliveryTracker{delivery: d, jobID: job.ID, logger: logger})
	}
}

// deliveryTracker settles a bus delivery from the pool's view of the job.
// A job the pool never ran is naked for redelivery. A job that ran is acked
// whatever its result, since pipeline failures are already in the retry
// queue and a rerun would apply the same update twice.
type deliveryTracker struct {
	delivery messagebus.Delivery
	jobID    string
	logger   *zap.Logger
}

func (t deliveryTracker) Started() {
	if err := t.delivery.InProgress(); err != nil {
		t.logger.Debug("failed to extend learning job ack wait", zap.String("job_id", t.jobID), zap.Error(err))
	}
}

func (t deliveryTracker) Finished(err error) {
	settle, action := t.delivery.Ack, "ack"
	if errors.Is(err, worker.ErrPoolStopped) {
		settle, action = t.delivery.Nak, "nak"
	}
	if serr := settle(); serr != nil {
		t.logger.Warn("failed to settle learning job",
			zap.String("job_id", t.jobID),
			zap.String("action", action),
			zap.Error(serr))
	}
}

// jobHandler runs one learning job with its own deadline and reports the
// result on the event bus when one is configured.
func (a *app) jobHandler(events messagebus.EventPublisher) worker.Handler {
	return func(ctx context.Context, job *messages.LearningJob) error {
		jobCtx, cancel := logging.DetachContextWithTimeout(ctx, a.cfg.Pipeline.JobTimeout)
		defer cancel()

		err := a.pipeline.HandleJob(jobCtx, job)
		if err != nil {
			a.logger.Error("learning job failed",
				zap.String("job_id", job.ID),
				zap.String("interaction_id", job.InteractionID),
				zap.Error(err))
		}
		if events == nil {
			return err
		}

		event := messages.LearningCompleted(job, serviceName)
		if err != nil {
			event = messages.LearningFailed(job, serviceName, err.Error())
		}
		if perr := events.PublishEvent(jobCtx, event); perr != nil {
			a.logger.Warn("failed to publish learning event", zap.String("job_id", job.ID), zap.Error(perr))
		}
		return err
	}
}
