package learning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/retryqueue"
)

// EntrySource yields queued retry entries, oldest first.
type EntrySource interface {
	Pop(ctx context.Context) (*retryqueue.Entry, error)
	Len(ctx context.Context) (int64, error)
}

// Replayer re-runs the pipeline for retry-queue entries.
type Replayer struct {
	pipeline *Pipeline
	source   EntrySource
	logger   *zap.Logger
}

// NewReplayer returns a replayer feeding entries from source into p.
func NewReplayer(p *Pipeline, source EntrySource, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{pipeline: p, source: source, logger: logger.Named("replayer")}
}

// Replay runs the flow an entry belongs to. Learning-complete entries only
// retry the terminal status write, satisfaction entries re-run satisfaction
// learning, and everything else re-runs outcome learning.
func (p *Pipeline) Replay(ctx context.Context, e retryqueue.Entry) error {
	if e.Type == retryqueue.EntryLearningComplete {
		if e.InteractionID == "" {
			return fmt.Errorf("retry entry of type %s has no interaction id", e.Type)
		}
		return p.completeLearning(ctx, e.InteractionID, e.UserID)
	}
	if e.GhostCardID != "" && e.Satisfaction != "" {
		p.RunSatisfactionFeedbackLearning(ctx, SatisfactionRequest{
			GhostCardID:  e.GhostCardID,
			UserID:       e.UserID,
			Satisfaction: e.Satisfaction,
		})
		return nil
	}
	if e.InteractionID == "" {
		return fmt.Errorf("retry entry of type %s has no interaction id", e.Type)
	}
	return p.RunOutcomeLearning(ctx, e.InteractionID)
}

// Drain replays the entries queued when it starts. Entries that fail again
// are re-queued by the pipeline and left for the next drain. It returns the
// number of entries replayed.
func (r *Replayer) Drain(ctx context.Context) (int, error) {
	pending, err := r.source.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading retry queue length: %w", err)
	}

	replayed := 0
	for i := int64(0); i < pending; i++ {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		e, err := r.source.Pop(ctx)
		if err != nil {
			r.logger.Error("skipping unreadable retry entry", zap.Error(err))
			continue
		}
		if e == nil {
			break
		}

		if err := r.pipeline.Replay(ctx, *e); err != nil {
			r.logger.Warn("retry entry replay failed",
				zap.String("type", string(e.Type)),
				zap.String("interaction_id", e.InteractionID),
				zap.Error(err))
		}
		replayed++
	}

	if replayed > 0 {
		r.logger.Info("retry queue drained", zap.Int("replayed", replayed))
	}
	return replayed, nil
}

// Run drains the queue every interval until ctx is cancelled.
func (r *Replayer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("retry queue drain failed", zap.Error(err))
			}
		}
	}
}
