package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/database"
	"github.com/jordanhubbard/guardian/internal/reasoning"
	"github.com/jordanhubbard/guardian/internal/retryqueue"
	"github.com/jordanhubbard/guardian/internal/tracing"
	"github.com/jordanhubbard/guardian/pkg/models"
)

var (
	errConflictsExhausted = errors.New("version conflict retries exhausted")
	errApplyFailed        = errors.New("skill update failed")
)

// RunSkillUpdate curates the reflection into an update batch and persists
// it under optimistic concurrency control. It returns the persisted batch,
// or nil after queuing a retry entry.
func (p *Pipeline) RunSkillUpdate(ctx context.Context, result *models.LearningPipelineResult) *models.UpdateBatch {
	if result == nil {
		p.logger.Warn("skill update skipped: no reflection result")
		return nil
	}
	return p.updateSkills(ctx, result, retryqueue.Entry{
		Type:          retryqueue.EntrySkillbookUpdate,
		InteractionID: result.InteractionID,
		UserID:        result.UserID,
	})
}

func (p *Pipeline) updateSkills(ctx context.Context, result *models.LearningPipelineResult, entry retryqueue.Entry) *models.UpdateBatch {
	defer p.guard(stageSkillUpdate, &entry)
	p.metrics.StageRun(stageSkillUpdate)

	logger := p.logger.With(
		zap.String("interaction_id", result.InteractionID),
		zap.String("user_id", result.UserID))

	if result.ReflectionOutput == nil {
		logger.Warn("skill update failed: reflection output missing")
		p.queue(stageSkillUpdate, "invalid_result", entry, errors.New("reflection output missing"))
		return nil
	}

	base := result.Skillbook
	if base == nil {
		base = models.NewSkillbook(result.UserID)
		base.Version = result.SkillbookVersion
	}

	batch, err := remoteCall(ctx, p, "curate", func(ctx context.Context) (*models.UpdateBatch, error) {
		return p.curator.Curate(ctx, reasoning.CurationInput{
			ReflectionAnalysis: result.ReflectionOutput.Analysis,
			Reflection:         result.ReflectionOutput,
			Skillbook:          base.Clone(),
		})
	})
	if err == nil && batch == nil {
		err = errors.New("curator returned no batch")
	}
	if err != nil {
		logger.Warn("curation failed", zap.Error(err))
		p.queue(stageSkillUpdate, "curate", entry, err)
		return nil
	}
	// Pin the timestamp so every re-application yields identical skills.
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	entry.Reasoning = batch.Reasoning

	w, err := p.persist(ctx, logger, result.UserID, base, result.SkillbookVersion, batch)
	switch {
	case errors.Is(err, errApplyFailed):
		logger.Error("skill update failed", zap.Error(err))
		p.queue(stageSkillUpdate, "apply", entry, err)
		return nil
	case errors.Is(err, errConflictsExhausted):
		logger.Warn("skill update abandoned after version conflicts", zap.Int("attempts", w.attempts))
		p.queue(stageSkillUpdate, "version_conflict", entry, err)
		return nil
	case err != nil:
		logger.Warn("skill update failed: storage error", zap.Error(err))
		p.queue(stageSkillUpdate, "storage", entry, err)
		return nil
	}

	p.metrics.PersistCompleted(w.attempts)
	logger.Info("skillbook updated",
		zap.Int("version", w.after.Version),
		zap.Int("attempts", w.attempts),
		zap.Int("applied", w.report.Applied),
		zap.Int("skipped", w.report.Skipped))
	if w.report.Skipped > 0 {
		logger.Debug("curator operations skipped", zap.Strings("reasons", w.report.Reasons))
	}

	p.attach(func() {
		p.tracer.AttachSkillUpdate(ctx, tracing.SkillUpdate{
			InteractionID: result.InteractionID,
			UserID:        result.UserID,
			Metadata:      result.Metadata,
			Batch:         batch,
			Before:        w.before,
			After:         w.after,
			Attempts:      w.attempts,
		})
	})
	return batch
}

// write is the outcome of a persist call.
type write struct {
	before   *models.Skillbook // base the batch was finally applied to
	after    *models.Skillbook
	report   models.ApplyReport
	attempts int
}

// persist applies batch to base and writes it with a version guard. A
// never-persisted skillbook (version 0) is inserted first; a failed insert
// falls through to the reload-and-retry path like a version conflict. Each
// retry re-applies batch to the freshly loaded skillbook, never to the
// previously mutated copy.
func (p *Pipeline) persist(ctx context.Context, logger *zap.Logger, userID string, base *models.Skillbook, version int, batch *models.UpdateBatch) (write, error) {
	var w write
	current := base

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		w.attempts = attempt

		next, report, err := safeApply(current, batch)
		if err != nil {
			return w, err
		}
		w.before, w.report = current, report

		if version == 0 {
			err := p.skillbooks.InsertSkillbookRow(ctx, userID, next.Skills, 1)
			if err == nil {
				next.Version = 1
				w.after = next
				return w, nil
			}
			cause := "other"
			if errors.Is(err, database.ErrSkillbookExists) {
				cause = "duplicate"
			}
			p.metrics.InsertFallback(cause)
			logger.Warn("first skillbook insert failed, retrying as versioned update",
				zap.Int("attempt", attempt),
				zap.String("cause", cause),
				zap.Error(err))
		} else {
			rows, err := p.skillbooks.UpdateSkillbookRow(ctx, userID, version, next.Skills, version+1)
			if err != nil {
				return w, fmt.Errorf("update skillbook for %s: %w", userID, err)
			}
			if rows == 1 {
				next.Version = version + 1
				w.after = next
				return w, nil
			}
			p.metrics.VersionConflict()
			logger.Warn(fmt.Sprintf("Version conflict on attempt %d", attempt),
				zap.Int("expected_version", version))
		}

		if attempt == p.maxAttempts {
			break
		}

		fresh, err := p.skillbooks.LoadSkillbook(ctx, userID)
		if err != nil {
			return w, fmt.Errorf("reload skillbook for %s: %w", userID, err)
		}
		current = fresh
		if fresh != nil {
			version = fresh.Version
		}
	}

	return w, errConflictsExhausted
}

// safeApply is models.Apply with panics and nil-skillbook errors reported
// as errApplyFailed.
func safeApply(sb *models.Skillbook, batch *models.UpdateBatch) (out *models.Skillbook, report models.ApplyReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: panic: %v", errApplyFailed, r)
		}
	}()
	out, report, err = models.Apply(sb, batch)
	if err != nil {
		return nil, report, fmt.Errorf("%w: %v", errApplyFailed, err)
	}
	return out, report, nil
}
