package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/guardian/internal/database"
	"github.com/jordanhubbard/guardian/internal/retryqueue"
	"github.com/jordanhubbard/guardian/internal/telemetry"
	"github.com/jordanhubbard/guardian/pkg/messages"
	"github.com/jordanhubbard/guardian/pkg/models"
)

// RunOutcomeLearning runs the immediate-outcome flow for one interaction:
// reflection, skill update, then the terminal status write. Only a failed
// status write is returned, and it is also queued so a replay can finish it
// without touching the skillbook again. Earlier failures are queued for
// retry and leave the interaction in the learning state.
func (p *Pipeline) RunOutcomeLearning(ctx context.Context, interactionID string) error {
	logger := p.logger.With(zap.String("interaction_id", interactionID))

	interaction, err := p.interactions.FindInteraction(ctx, interactionID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Warn("outcome learning skipped: interaction not found")
		return nil
	}
	if err != nil {
		logger.Warn("outcome learning failed: cannot load interaction", zap.Error(err))
		p.queue(stageReflection, "find_interaction", retryqueue.Entry{
			Type:          retryqueue.EntryReflection,
			InteractionID: interactionID,
		}, err)
		return nil
	}
	if interaction.LearningStatus == models.LearningStatusLearned {
		logger.Debug("outcome learning skipped: already learned")
		return nil
	}

	if err := p.interactions.SetInteractionStatus(ctx, interactionID, models.LearningStatusLearning); err != nil {
		logger.Warn("could not mark interaction as learning", zap.Error(err))
	}

	result := p.RunReflection(ctx, ReflectionRequest{
		InteractionID:   interaction.ID,
		UserID:          interaction.UserID,
		Question:        interaction.Question,
		GeneratorAnswer: interaction.ReasoningSummary,
		Outcome:         interaction.Outcome,
		Tier:            interaction.Tier,
		Metadata:        interaction.Metadata,
	})
	if result == nil {
		return nil
	}
	if p.RunSkillUpdate(ctx, result) == nil {
		return nil
	}
	return p.completeLearning(ctx, interaction.ID, interaction.UserID)
}

// completeLearning writes the terminal status for an interaction whose
// skillbook update already persisted. A failed write is queued as a
// learning-complete entry; a vanished interaction is not.
func (p *Pipeline) completeLearning(ctx context.Context, interactionID, userID string) error {
	err := p.MarkLearningComplete(ctx, interactionID)
	if err == nil || errors.Is(err, database.ErrNotFound) {
		return err
	}
	p.logger.Warn("terminal status write failed, queued for replay",
		zap.String("interaction_id", interactionID),
		zap.Error(err))
	p.retry.Log(retryqueue.Entry{
		Type:          retryqueue.EntryLearningComplete,
		InteractionID: interactionID,
		UserID:        userID,
		Timestamp:     time.Now().UTC(),
		Stage:         "status_write",
		Error:         err.Error(),
	})
	return err
}

// HandleJob dispatches a learning job to its entrypoint. The returned error
// is non-nil only for unknown jobs and failed terminal status writes.
func (p *Pipeline) HandleJob(ctx context.Context, job *messages.LearningJob) error {
	if job == nil {
		return errors.New("learning job is nil")
	}

	start := time.Now()
	var err error
	switch job.Kind {
	case messages.JobKindOutcome:
		err = p.RunOutcomeLearning(ctx, job.InteractionID)
	case messages.JobKindSatisfaction:
		p.RunSatisfactionFeedbackLearning(ctx, SatisfactionRequest{
			GhostCardID:  job.GhostCardID,
			UserID:       job.UserID,
			Satisfaction: job.Satisfaction,
		})
	default:
		err = fmt.Errorf("unknown learning job kind %q", job.Kind)
	}

	telemetry.RecordLearningRun(ctx, string(job.Kind), err == nil)
	p.logger.Debug("learning job handled",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return err
}
