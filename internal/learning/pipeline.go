// Package learning turns finished guardian interactions into durable
// skillbook changes. Every entrypoint except MarkLearningComplete is
// best-effort: failures become retry-queue entries and a nil result.
package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/metrics"
	"github.com/jordanhubbard/guardian/internal/reasoning"
	"github.com/jordanhubbard/guardian/internal/retryqueue"
	"github.com/jordanhubbard/guardian/internal/tracing"
	"github.com/jordanhubbard/guardian/pkg/models"
)

const (
	DefaultTimeout            = 30 * time.Second
	DefaultMaxPersistAttempts = 3
)

// SkillbookStore reads and conditionally writes skillbook rows.
type SkillbookStore interface {
	LoadSkillbook(ctx context.Context, userID string) (*models.Skillbook, error)
	UpdateSkillbookRow(ctx context.Context, userID string, expectedVersion int, skills []models.Skill, newVersion int) (int64, error)
	InsertSkillbookRow(ctx context.Context, userID string, skills []models.Skill, version int) error
}

// InteractionStore provides point lookups and the terminal status write.
type InteractionStore interface {
	FindInteraction(ctx context.Context, id string) (*models.Interaction, error)
	FindGhostCard(ctx context.Context, id string) (*models.GhostCard, error)
	SetInteractionStatus(ctx context.Context, id string, status models.LearningStatus) error
}

// RetryLogger records work to be retried later. It must not block.
type RetryLogger interface {
	Log(e retryqueue.Entry)
}

// SignalResolver maps delayed satisfaction to reflection feedback.
type SignalResolver interface {
	Resolve(satisfaction models.Satisfaction, outcome models.Outcome) string
}

// TraceAttacher records pipeline results on the interaction's trace.
type TraceAttacher interface {
	AttachReflection(ctx context.Context, result *models.LearningPipelineResult)
	AttachSkillUpdate(ctx context.Context, u tracing.SkillUpdate)
	AttachSatisfactionFeedback(ctx context.Context, f tracing.SatisfactionFeedback)
}

// Options wires a Pipeline. Skillbooks, Interactions, Reflector, Curator
// and Resolver are required.
type Options struct {
	Skillbooks   SkillbookStore
	Interactions InteractionStore
	Reflector    reasoning.Reflector
	Curator      reasoning.Curator
	Resolver     SignalResolver
	RetryQueue   RetryLogger
	Tracer       TraceAttacher
	Metrics      *metrics.Metrics
	Logger       *zap.Logger

	// Timeout bounds each reflector and curator call.
	Timeout time.Duration
	// MaxPersistAttempts bounds optimistic-lock write attempts per update.
	MaxPersistAttempts int
}

// Pipeline runs reflection, curation and versioned persistence.
type Pipeline struct {
	skillbooks   SkillbookStore
	interactions InteractionStore
	reflector    reasoning.Reflector
	curator      reasoning.Curator
	resolver     SignalResolver
	retry        RetryLogger
	tracer       TraceAttacher
	metrics      *metrics.Metrics
	logger       *zap.Logger
	timeout      time.Duration
	maxAttempts  int
}

// New validates opts and fills defaults.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Skillbooks == nil:
		return nil, errors.New("learning: skillbook store is required")
	case opts.Interactions == nil:
		return nil, errors.New("learning: interaction store is required")
	case opts.Reflector == nil:
		return nil, errors.New("learning: reflector is required")
	case opts.Curator == nil:
		return nil, errors.New("learning: curator is required")
	case opts.Resolver == nil:
		return nil, errors.New("learning: signal resolver is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("learning")

	p := &Pipeline{
		skillbooks:   opts.Skillbooks,
		interactions: opts.Interactions,
		reflector:    opts.Reflector,
		curator:      opts.Curator,
		resolver:     opts.Resolver,
		retry:        opts.RetryQueue,
		tracer:       opts.Tracer,
		metrics:      opts.Metrics,
		logger:       logger,
		timeout:      opts.Timeout,
		maxAttempts:  opts.MaxPersistAttempts,
	}
	if p.retry == nil {
		p.retry = retryqueue.New(logger, opts.Metrics, nil, 1)
	}
	if p.tracer == nil {
		p.tracer = tracing.NewAttacher(nil, logger)
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxPersistAttempts
	}
	return p, nil
}

// MarkLearningComplete moves an interaction to its terminal learned state.
// Unlike the other entrypoints it reports failure to the caller.
func (p *Pipeline) MarkLearningComplete(ctx context.Context, interactionID string) error {
	if err := p.interactions.SetInteractionStatus(ctx, interactionID, models.LearningStatusLearned); err != nil {
		p.metrics.StageFailure(stageComplete, "status_write")
		return fmt.Errorf("mark learning complete for %s: %w", interactionID, err)
	}
	p.metrics.StageRun(stageComplete)
	return nil
}

const (
	stageReflection   = "reflection"
	stageSkillUpdate  = "skill_update"
	stageSatisfaction = "satisfaction_feedback"
	stageComplete     = "complete"
)

// queue records a failure on the retry queue and counts it.
func (p *Pipeline) queue(stage, reason string, e retryqueue.Entry, err error) {
	p.metrics.StageFailure(stage, reason)
	e.Stage = reason
	if err != nil {
		e.Error = err.Error()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	p.retry.Log(e)
}

// guard converts a panic escaping a stage into a retry-queue entry. It takes
// the entry by pointer so fields filled in after the defer are kept.
func (p *Pipeline) guard(stage string, e *retryqueue.Entry) {
	if r := recover(); r != nil {
		p.logger.Error("learning stage panicked",
			zap.String("stage", stage),
			zap.String("interaction_id", e.InteractionID),
			zap.Any("panic", r))
		p.queue(stage, "panic", *e, fmt.Errorf("panic: %v", r))
	}
}

// callWithTimeout runs fn with a deadline. On timeout the call is abandoned
// and its eventual result discarded.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("remote call panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrRemoteTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}

// ErrRemoteTimeout is returned when a reflector or curator call outlives the
// pipeline timeout.
var ErrRemoteTimeout = errors.New("remote call timed out")

// remoteCall runs a reflector or curator call under the pipeline timeout
// and records its duration.
func remoteCall[T any](ctx context.Context, p *Pipeline, capability string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := callWithTimeout(ctx, p.timeout, fn)
	result := "ok"
	switch {
	case errors.Is(err, ErrRemoteTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	p.metrics.RemoteCall(capability, result, time.Since(start))
	return v, err
}
